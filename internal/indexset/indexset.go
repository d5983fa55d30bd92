// Package indexset implements a compact set of strings over a key-value
// store: a dense array of members plus a member→slot lookup.
//
// Layout inside the store:
//
//	len            decimal member count (absent when empty)
//	indices/<n>    member stored at slot n, for 0 <= n < len
//	values/<v>     decimal slot of member v
//
// Removal moves the last member into the freed slot, so the store holds
// exactly 2*len+1 keys no matter how many inserts and removes happened.
package indexset

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/calvinalkan/gtd/internal/kv"
)

// ErrCorrupt reports a stored count or slot that does not parse or points
// outside the array.
var ErrCorrupt = errors.New("index set corrupt")

const lenKey = "len"

// slot is a position in the dense array.
type slot int

func (s slot) key() string {
	return "indices/" + strconv.Itoa(int(s))
}

func valueKey(value string) string {
	return "values/" + value
}

// Set is a compact index set. Operations on one Set are serialized.
type Set struct {
	mu      sync.Mutex
	storage kv.Storage
}

// New returns a Set stored in storage, which should be a namespace of its own.
func New(storage kv.Storage) *Set {
	return &Set{storage: storage}
}

// Insert adds value. Inserting an existing member is a no-op.
func (s *Set) Insert(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.slotOf(ctx, value)
	if err != nil {
		return fmt.Errorf("insert %q: %w", value, err)
	}

	if ok {
		return nil
	}

	n, err := s.length(ctx)
	if err != nil {
		return fmt.Errorf("insert %q: %w", value, err)
	}

	err = s.setPair(ctx, slot(n), value)
	if err != nil {
		return fmt.Errorf("insert %q: %w", value, err)
	}

	err = s.setLength(ctx, n+1)
	if err != nil {
		return fmt.Errorf("insert %q: %w", value, err)
	}

	return nil
}

// Remove deletes value. Removing a non-member is a no-op.
func (s *Set) Remove(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok, err := s.slotOf(ctx, value)
	if err != nil {
		return fmt.Errorf("remove %q: %w", value, err)
	}

	if !ok {
		return nil
	}

	n, err := s.length(ctx)
	if err != nil {
		return fmt.Errorf("remove %q: %w", value, err)
	}

	if int(target) >= n {
		return fmt.Errorf("remove %q: %w: slot %d outside length %d", value, ErrCorrupt, target, n)
	}

	last := slot(n - 1)

	if target != last {
		moved, found, err := s.storage.Get(ctx, last.key())
		if err != nil {
			return fmt.Errorf("remove %q: read last slot: %w", value, err)
		}

		if !found {
			return fmt.Errorf("remove %q: %w: slot %d is empty", value, ErrCorrupt, last)
		}

		err = s.setPair(ctx, target, moved)
		if err != nil {
			return fmt.Errorf("remove %q: %w", value, err)
		}
	}

	err = s.storage.Remove(ctx, valueKey(value))
	if err != nil {
		return fmt.Errorf("remove %q: %w", value, err)
	}

	err = s.storage.Remove(ctx, last.key())
	if err != nil {
		return fmt.Errorf("remove %q: %w", value, err)
	}

	err = s.setLength(ctx, n-1)
	if err != nil {
		return fmt.Errorf("remove %q: %w", value, err)
	}

	return nil
}

// Contains reports whether value is a member.
func (s *Set) Contains(ctx context.Context, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.slotOf(ctx, value)

	return ok, err
}

// Len returns the number of members.
func (s *Set) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.length(ctx)
}

// AllValues returns every member in slot order. The order carries no meaning.
func (s *Set) AllValues(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.length(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, n)
	for i := range n {
		keys[i] = slot(i).key()
	}

	pairs, err := s.storage.MultiGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("read slots: %w", err)
	}

	values := make([]string, 0, n)

	for i, pair := range pairs {
		if !pair.Found {
			return nil, fmt.Errorf("%w: slot %d is empty (length %d)", ErrCorrupt, i, n)
		}

		values = append(values, pair.Value)
	}

	return values, nil
}

func (s *Set) length(ctx context.Context) (int, error) {
	raw, ok, err := s.storage.Get(ctx, lenKey)
	if err != nil {
		return 0, fmt.Errorf("read length: %w", err)
	}

	if !ok {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: length %q", ErrCorrupt, raw)
	}

	return n, nil
}

func (s *Set) setLength(ctx context.Context, n int) error {
	if n == 0 {
		return s.storage.Remove(ctx, lenKey)
	}

	return s.storage.Set(ctx, lenKey, strconv.Itoa(n))
}

func (s *Set) slotOf(ctx context.Context, value string) (slot, bool, error) {
	raw, ok, err := s.storage.Get(ctx, valueKey(value))
	if err != nil {
		return 0, false, fmt.Errorf("read slot: %w", err)
	}

	if !ok {
		return 0, false, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("%w: slot %q for %q", ErrCorrupt, raw, value)
	}

	return slot(n), true, nil
}

func (s *Set) setPair(ctx context.Context, at slot, value string) error {
	err := s.storage.Set(ctx, at.key(), value)
	if err != nil {
		return err
	}

	return s.storage.Set(ctx, valueKey(value), strconv.Itoa(int(at)))
}
