package store

import (
	"context"
	"fmt"

	"github.com/calvinalkan/gtd/internal/broadcast"
	"github.com/calvinalkan/gtd/internal/item"
)

// OpenItems subscribes to snapshots of all open items, ordered by creation
// time. The latest snapshot is delivered immediately if one exists, a fresh
// one is computed in the background, and a new one follows every Save and
// Delete. The subscription ends when ctx does or when it is closed.
func (s *Store) OpenItems(ctx context.Context) *broadcast.Subscription[[]item.Item] {
	sub := s.openItems.Subscribe(ctx)

	s.background(s.publishOpen)

	return sub
}

// Open returns the current open items without subscribing.
func (s *Store) Open(ctx context.Context) ([]item.Item, error) {
	ids, err := s.open.AllValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("open items: %w", err)
	}

	return s.loadMany(ctx, ids)
}

// refreshOpen recomputes and publishes the open-items snapshot. Refreshes are
// serialized so snapshots are published in the order they were computed.
func (s *Store) refreshOpen(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	items, err := s.Open(ctx)
	if err != nil {
		return err
	}

	s.openItems.Publish(items)
	s.log.WithField("open", len(items)).WithField("subscribers", s.openItems.Subscribers()).Debug("published open items")

	return nil
}

// Watch subscribes to changes of one item. The current value is loaded in the
// background and delivered first unless a live change arrives before it; a
// missing item produces no initial event. Later saves deliver the saved item,
// deletes deliver an Event with Deleted set. An empty id yields a closed
// subscription.
func (s *Store) Watch(ctx context.Context, id string) *broadcast.Subscription[Event] {
	sub := s.updates.Subscribe(ctx, func(e Event) bool { return e.ID == id })

	if id == "" {
		sub.Close()

		return sub
	}

	s.background(func(ctx context.Context) {
		it, ok, err := s.Load(ctx, id)
		if err != nil {
			s.log.WithField("action", "watch_initial_load").WithField("id", id).WithError(err).Warn("failed to load watched item")

			return
		}

		if ok {
			sub.Prime(Event{ID: id, Item: it})
		}
	})

	return sub
}

// Saving returns the number of Save and Delete calls in progress.
func (s *Store) Saving() int {
	n, _ := s.saving.Latest()

	return n
}

// WatchSaving subscribes to the in-progress counter, starting with its
// current value.
func (s *Store) WatchSaving(ctx context.Context) *broadcast.Subscription[int] {
	return s.saving.Subscribe(ctx)
}

func (s *Store) beginSave() {
	s.saving.Update(func(n int) int { return n + 1 })
}

func (s *Store) endSave() {
	s.saving.Update(func(n int) int { return n - 1 })
}

func (s *Store) background(fn func(ctx context.Context)) {
	s.bg.Add(1)

	go func() {
		defer s.bg.Done()

		fn(s.ctx)
	}()
}
