// Package graph stores the edges of one relationship category (for example
// parent→child) as per-node adjacency lists and keeps both directions of
// every edge consistent.
//
// For node n the store holds:
//
//	<n>/incoming   JSON array of sources with an edge into n
//	<n>/outgoing   JSON array of targets n has an edge to
//
// Empty lists are not stored.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/gtd/internal/keylock"
	"github.com/calvinalkan/gtd/internal/kv"
)

// ErrCorrupt reports a stored edge list that is not a JSON string array.
var ErrCorrupt = errors.New("edge list corrupt")

// Direction selects one side of a node's adjacency.
type Direction string

// Directions.
const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

func (d Direction) opposite() Direction {
	if d == Incoming {
		return Outgoing
	}

	return Incoming
}

// Store is the adjacency storage for one edge category.
type Store struct {
	storage kv.Storage
	locks   *keylock.Locks
}

// New returns a Store persisting into storage, which should be a namespace of
// its own.
func New(storage kv.Storage) *Store {
	return &Store{storage: storage, locks: keylock.New()}
}

// Incoming returns the sources of edges into id, or nil if there are none.
func (s *Store) Incoming(ctx context.Context, id string) ([]string, error) {
	return s.list(ctx, Incoming, id)
}

// Outgoing returns the targets of edges out of id, or nil if there are none.
func (s *Store) Outgoing(ctx context.Context, id string) ([]string, error) {
	return s.list(ctx, Outgoing, id)
}

// SetIncoming replaces the incoming list of target with sources (in that
// order) and updates the outgoing list of every source added or removed.
func (s *Store) SetIncoming(ctx context.Context, target string, sources []string) error {
	return s.set(ctx, Incoming, target, sources)
}

// SetOutgoing replaces the outgoing list of source with targets (in that
// order) and updates the incoming list of every target added or removed.
func (s *Store) SetOutgoing(ctx context.Context, source string, targets []string) error {
	return s.set(ctx, Outgoing, source, targets)
}

// Delete removes every edge touching id, in both directions.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.SetIncoming(ctx, id, nil)
	if err != nil {
		return err
	}

	return s.SetOutgoing(ctx, id, nil)
}

// set replaces one direction of id and reconciles the opposite direction of
// the peers in the symmetric difference between old and new.
//
// The diff is computed without guards, then the guards for id and the
// affected peers are taken and the old list is re-read; if it changed in the
// meantime the affected set may be stale and the whole step is retried.
func (s *Store) set(ctx context.Context, dir Direction, id string, refs []string) error {
	refs = dedupe(refs)

	for {
		old, err := s.list(ctx, dir, id)
		if err != nil {
			return fmt.Errorf("set %s %q: %w", dir, id, err)
		}

		removed, added := diff(old, refs), diff(refs, old)

		unlock, err := s.locks.Lock(ctx, slices.Concat([]string{id}, removed, added)...)
		if err != nil {
			return fmt.Errorf("set %s %q: %w", dir, id, err)
		}

		current, err := s.list(ctx, dir, id)
		if err != nil {
			unlock()

			return fmt.Errorf("set %s %q: %w", dir, id, err)
		}

		if !slices.Equal(current, old) {
			unlock()

			continue
		}

		err = s.apply(ctx, dir, id, refs, removed, added)

		unlock()

		if err != nil {
			return fmt.Errorf("set %s %q: %w", dir, id, err)
		}

		return nil
	}
}

// apply fans out the peer updates and then writes id's new list. Caller holds
// the guards for id and every peer in removed and added.
//
// id's own list is written last so that after a failure it still shows the
// old state, and retrying the same call recomputes the same diff. Peer
// updates are idempotent.
func (s *Store) apply(ctx context.Context, dir Direction, id string, refs, removed, added []string) error {
	other := dir.opposite()

	g, gctx := errgroup.WithContext(ctx)

	for _, peer := range removed {
		g.Go(func() error {
			return s.update(gctx, other, peer, func(list []string) []string {
				return slices.DeleteFunc(list, func(ref string) bool { return ref == id })
			})
		})
	}

	for _, peer := range added {
		g.Go(func() error {
			return s.update(gctx, other, peer, func(list []string) []string {
				if slices.Contains(list, id) {
					return list
				}

				return append(list, id)
			})
		})
	}

	err := g.Wait()
	if err != nil {
		return err
	}

	return s.write(ctx, dir, id, refs)
}

func (s *Store) update(ctx context.Context, dir Direction, id string, fn func([]string) []string) error {
	list, err := s.list(ctx, dir, id)
	if err != nil {
		return err
	}

	return s.write(ctx, dir, id, fn(list))
}

func (s *Store) list(ctx context.Context, dir Direction, id string) ([]string, error) {
	raw, ok, err := s.storage.Get(ctx, key(dir, id))
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	var list []string

	err = json.Unmarshal([]byte(raw), &list)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, key(dir, id), err)
	}

	return list, nil
}

func (s *Store) write(ctx context.Context, dir Direction, id string, list []string) error {
	if len(list) == 0 {
		return s.storage.Remove(ctx, key(dir, id))
	}

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key(dir, id), err)
	}

	return s.storage.Set(ctx, key(dir, id), string(data))
}

func key(dir Direction, id string) string {
	return id + "/" + string(dir)
}

// diff returns the elements of a that are not in b, in a's order.
func diff(a, b []string) []string {
	var out []string

	for _, v := range a {
		if !slices.Contains(b, v) {
			out = append(out, v)
		}
	}

	return out
}

// dedupe drops repeated ids, keeping the first occurrence.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}

	return out
}
