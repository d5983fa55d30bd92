package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/calvinalkan/gtd/internal/item"
)

// Complete sets completedAt to now unless the item is already completed.
func (s *Store) Complete(ctx context.Context, id string) (bool, error) {
	now := s.clock.Now()

	return s.Update(ctx, id, func(it *item.Item) {
		if it.CompletedAt == nil {
			it.CompletedAt = &now
		}
	})
}

// Reopen clears completedAt.
func (s *Store) Reopen(ctx context.Context, id string) (bool, error) {
	return s.Update(ctx, id, func(it *item.Item) {
		it.CompletedAt = nil
	})
}

// Snooze hides the item until the given time. A zero until clears the snooze.
func (s *Store) Snooze(ctx context.Context, id string, until time.Time) (bool, error) {
	return s.Update(ctx, id, func(it *item.Item) {
		if until.IsZero() {
			it.SnoozedUntil = nil

			return
		}

		it.SnoozedUntil = &until
	})
}

// Ack records that the item was looked at now.
func (s *Store) Ack(ctx context.Context, id string) (bool, error) {
	now := s.clock.Now()

	return s.Update(ctx, id, func(it *item.Item) {
		it.AckedAt = &now
	})
}

// SetParent moves child under parent, or detaches it when parent is empty.
// Cycles are not detected.
func (s *Store) SetParent(ctx context.Context, child, parent string) (bool, error) {
	if child == parent {
		return false, fmt.Errorf("%w: %s", ErrSelfReference, child)
	}

	err := s.mustExist(ctx, parent)
	if err != nil {
		return false, err
	}

	return s.Update(ctx, child, func(it *item.Item) {
		it.Parent = parent
	})
}

// AddBlocker records that blocker blocks id.
func (s *Store) AddBlocker(ctx context.Context, id, blocker string) (bool, error) {
	if id == blocker {
		return false, fmt.Errorf("%w: %s", ErrSelfReference, id)
	}

	err := s.mustExist(ctx, blocker)
	if err != nil {
		return false, err
	}

	return s.Update(ctx, id, func(it *item.Item) {
		if !slices.Contains(it.Blockers, blocker) {
			it.Blockers = append(it.Blockers, blocker)
		}
	})
}

// RemoveBlocker drops blocker from id's blockers.
func (s *Store) RemoveBlocker(ctx context.Context, id, blocker string) (bool, error) {
	return s.Update(ctx, id, func(it *item.Item) {
		it.Blockers = slices.DeleteFunc(it.Blockers, func(b string) bool { return b == blocker })
	})
}

func (s *Store) mustExist(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	_, ok, err := s.Load(ctx, id)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}
