// Package keylock provides mutual exclusion keyed by string identifiers.
//
// Guards for several identifiers are always acquired in sorted order, so two
// callers locking overlapping sets cannot deadlock.
package keylock

import (
	"context"
	"slices"
	"sync"
)

// Locks hands out per-identifier guards. The zero value is not usable; call
// [New].
type Locks struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// New returns an empty lock table.
func New() *Locks {
	return &Locks{entries: make(map[string]*entry)}
}

// Lock acquires the guards for ids (duplicates are ignored) and returns a
// function that releases them. It fails only if ctx ends first, in which case
// nothing is held.
func (l *Locks) Lock(ctx context.Context, ids ...string) (func(), error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]string, 0, len(sorted))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}

	for _, id := range sorted {
		e := l.acquireRef(id)

		select {
		case e.sem <- struct{}{}:
			held = append(held, id)
		case <-ctx.Done():
			l.dropRef(id)
			release()

			return nil, ctx.Err()
		}
	}

	var once sync.Once

	return func() { once.Do(release) }, nil
}

// entryCount reports how many identifiers currently have holders or waiters.
func (l *Locks) entryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

func (l *Locks) acquireRef(id string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[id] = e
	}

	e.refs++

	return e
}

func (l *Locks) dropRef(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[id]

	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

func (l *Locks) release(id string) {
	l.mu.Lock()
	e := l.entries[id]
	l.mu.Unlock()

	<-e.sem

	l.dropRef(id)
}
