// Package store is the item store: item bodies plus the two relationship
// graphs and the open-item index, kept consistent on every write, with live
// update channels for readers.
//
// Backing-store layout (each namespace is a [kv.Scoped] view):
//
//	@items/<id>                   item body (see item.Encode)
//	@parent-child/<id>/incoming   parent, at most one
//	@parent-child/<id>/outgoing   children
//	@blockers/<id>/incoming       blockers
//	@blockers/<id>/outgoing       items blocked by <id>
//	@open-items/...               index set of ids without completedAt
//
// The relationship fields of a stored body are ignored on load; the graphs
// are authoritative.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/gtd/internal/broadcast"
	"github.com/calvinalkan/gtd/internal/graph"
	"github.com/calvinalkan/gtd/internal/indexset"
	"github.com/calvinalkan/gtd/internal/item"
	"github.com/calvinalkan/gtd/internal/keylock"
	"github.com/calvinalkan/gtd/internal/kv"
)

// Namespaces within the backing store.
const (
	ItemsNamespace       = "@items"
	ParentChildNamespace = "@parent-child"
	BlockersNamespace    = "@blockers"
	OpenItemsNamespace   = "@open-items"
)

var (
	// ErrNoID is returned when saving an item without an id.
	ErrNoID = errors.New("item has no id")
	// ErrNotFound is returned by the relationship helpers when a referenced
	// item does not exist. Load and Watch report absence without an error.
	ErrNotFound = errors.New("item not found")
	// ErrSelfReference is returned when an item is linked to itself.
	ErrSelfReference = errors.New("item cannot reference itself")
)

// loadConcurrency bounds parallel item loads when building snapshots.
const loadConcurrency = 8

// Event is one change to a watched item. Deleted events carry a zero Item.
type Event struct {
	ID      string
	Item    item.Item
	Deleted bool
}

// Store is safe for concurrent use. Construct one per backing store and share
// it; two Stores over the same backing store do not coordinate.
type Store struct {
	log   logrus.FieldLogger
	clock item.Clock

	items       *kv.Scoped
	parentChild *graph.Store
	blocking    *graph.Store
	open        *indexset.Set

	locks *keylock.Locks

	updates   *broadcast.Subject[Event]
	openItems *broadcast.Replay[[]item.Item]
	saving    *broadcast.Replay[int]

	refreshMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock sets the clock used for timestamps set by the store itself.
func WithClock(clock item.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// New returns a Store over backing.
func New(backing kv.Storage, opts ...Option) *Store {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Store{
		log:         discard,
		clock:       item.SystemClock{},
		items:       kv.NewScoped(backing, ItemsNamespace),
		parentChild: graph.New(kv.NewScoped(backing, ParentChildNamespace)),
		blocking:    graph.New(kv.NewScoped(backing, BlockersNamespace)),
		open:        indexset.New(kv.NewScoped(backing, OpenItemsNamespace)),
		locks:       keylock.New(),
		updates:     broadcast.NewSubject[Event](),
		openItems:   broadcast.NewReplay[[]item.Item](),
		saving:      broadcast.NewReplayWith(0),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s
}

// Close stops background loads started by OpenItems and Watch and waits for
// them. Open subscriptions stay open until closed by their owners.
func (s *Store) Close() {
	s.cancel()
	s.bg.Wait()
}

// Save persists it, reconciles its relationships and open-index membership,
// notifies watchers of it.ID and republishes the open-items snapshot.
//
// Saving an item with an empty title deletes it.
func (s *Store) Save(ctx context.Context, it item.Item) error {
	if it.ID == "" {
		return ErrNoID
	}

	s.beginSave()
	defer s.endSave()

	unlock, err := s.locks.Lock(ctx, it.ID)
	if err != nil {
		return fmt.Errorf("save %s: %w", it.ID, err)
	}

	err = s.saveLocked(ctx, it)

	unlock()

	if err != nil {
		return err
	}

	s.publishOpen(ctx)

	return nil
}

// Delete removes the item with id and every edge touching it. Deleting an
// absent item still clears any edges recorded for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.Save(ctx, item.Item{ID: id})
}

// saveLocked writes it, or removes it when the title is empty. The caller
// holds the guard for it.ID.
func (s *Store) saveLocked(ctx context.Context, it item.Item) error {
	if it.Title == "" {
		return s.removeLocked(ctx, it.ID)
	}

	return s.putLocked(ctx, it)
}

func (s *Store) putLocked(ctx context.Context, it item.Item) error {
	data, err := item.Encode(it)
	if err != nil {
		return err
	}

	_, existed, _, err := s.read(ctx, it.ID)
	if err != nil {
		return fmt.Errorf("save %s: load previous: %w", it.ID, err)
	}

	err = s.items.Set(ctx, it.ID, string(data))
	if err != nil {
		return fmt.Errorf("save %s: %w", it.ID, err)
	}

	err = s.maintainConstraints(ctx, it.ID, &it)
	if err != nil {
		return fmt.Errorf("save %s: %w", it.ID, err)
	}

	saved, _, _, err := s.read(ctx, it.ID)
	if err != nil {
		return fmt.Errorf("save %s: reload: %w", it.ID, err)
	}

	s.log.WithField("id", it.ID).WithField("created", !existed).WithField("watchers", s.updates.Subscribers()).Debug("item saved")
	s.updates.Publish(Event{ID: it.ID, Item: saved})

	return nil
}

func (s *Store) removeLocked(ctx context.Context, id string) error {
	_, existed, _, err := s.read(ctx, id)
	if err != nil {
		return fmt.Errorf("delete %s: load previous: %w", id, err)
	}

	err = s.items.Remove(ctx, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	err = s.maintainConstraints(ctx, id, nil)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	s.log.WithField("id", id).WithField("existed", existed).WithField("watchers", s.updates.Subscribers()).Debug("item deleted")
	s.updates.Publish(Event{ID: id, Deleted: true})

	return nil
}

// publishOpen refreshes the open-items snapshot after a completed write. The
// write already happened, so a failure is logged and the next write or
// subscription retries.
func (s *Store) publishOpen(ctx context.Context) {
	err := s.refreshOpen(ctx)
	if err != nil {
		s.log.WithField("action", "open_items_refresh").WithError(err).Warn("failed to compute open items")
	}
}

// maintainConstraints makes the graphs and the open index agree with current,
// or removes id from all of them when current is nil. It never skips work
// when nothing seems to have changed: migrations rely on a re-save to
// repopulate everything.
func (s *Store) maintainConstraints(ctx context.Context, id string, current *item.Item) error {
	if current == nil {
		err := s.parentChild.Delete(ctx, id)
		if err != nil {
			return fmt.Errorf("parent-child: %w", err)
		}

		err = s.blocking.Delete(ctx, id)
		if err != nil {
			return fmt.Errorf("blockers: %w", err)
		}

		err = s.open.Remove(ctx, id)
		if err != nil {
			return fmt.Errorf("open items: %w", err)
		}

		return nil
	}

	var parents []string
	if current.Parent != "" {
		parents = []string{current.Parent}
	}

	err := s.parentChild.SetIncoming(ctx, id, parents)
	if err != nil {
		return fmt.Errorf("parent-child: %w", err)
	}

	err = s.parentChild.SetOutgoing(ctx, id, current.Children)
	if err != nil {
		return fmt.Errorf("parent-child: %w", err)
	}

	err = s.blocking.SetIncoming(ctx, id, current.Blockers)
	if err != nil {
		return fmt.Errorf("blockers: %w", err)
	}

	err = s.blocking.SetOutgoing(ctx, id, current.Blocking)
	if err != nil {
		return fmt.Errorf("blockers: %w", err)
	}

	if current.IsOpen() {
		err = s.open.Insert(ctx, id)
	} else {
		err = s.open.Remove(ctx, id)
	}

	if err != nil {
		return fmt.Errorf("open items: %w", err)
	}

	return nil
}

// Load returns the item with id, ok=false if there is none.
//
// A body stored in an older format is upgraded, persisted with a regular
// Save and loaded again, so the stored copy is rewritten at most once.
func (s *Store) Load(ctx context.Context, id string) (item.Item, bool, error) {
	if id == "" {
		return item.Item{}, false, nil
	}

	it, ok, migrated, err := s.read(ctx, id)
	if err != nil || !ok {
		return item.Item{}, false, err
	}

	if !migrated {
		return it, true, nil
	}

	s.log.WithField("id", id).Info("upgrading stored item format")

	err = s.Save(ctx, it)
	if err != nil {
		return item.Item{}, false, fmt.Errorf("load %s: persist upgrade: %w", id, err)
	}

	it, ok, _, err = s.read(ctx, id)
	if err != nil {
		return item.Item{}, false, err
	}

	return it, ok, nil
}

// read loads and parses the body of id and overlays the relationship fields
// from the graphs. It never writes.
func (s *Store) read(ctx context.Context, id string) (it item.Item, ok, migrated bool, err error) {
	raw, ok, err := s.items.Get(ctx, id)
	if err != nil {
		return item.Item{}, false, false, fmt.Errorf("load %s: %w", id, err)
	}

	if !ok {
		return item.Item{}, false, false, nil
	}

	it, migrated, err = s.decode(ctx, id, raw)
	if err != nil {
		return item.Item{}, false, false, err
	}

	return it, true, migrated, nil
}

func (s *Store) decode(ctx context.Context, id, raw string) (item.Item, bool, error) {
	it, migrated, err := item.Parse([]byte(raw), s.clock.Now())
	if err != nil {
		return item.Item{}, false, fmt.Errorf("load %s: %w", id, err)
	}

	// The key is the identity; a body claiming another id is ignored.
	it.ID = id

	err = s.overlayRelations(ctx, &it)
	if err != nil {
		return item.Item{}, false, fmt.Errorf("load %s: %w", id, err)
	}

	return it, migrated, nil
}

func (s *Store) overlayRelations(ctx context.Context, it *item.Item) error {
	var parents []string

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		parents, err = s.parentChild.Incoming(gctx, it.ID)

		return err
	})
	g.Go(func() (err error) {
		it.Children, err = s.parentChild.Outgoing(gctx, it.ID)

		return err
	})
	g.Go(func() (err error) {
		it.Blockers, err = s.blocking.Incoming(gctx, it.ID)

		return err
	})
	g.Go(func() (err error) {
		it.Blocking, err = s.blocking.Outgoing(gctx, it.ID)

		return err
	})

	err := g.Wait()
	if err != nil {
		return err
	}

	it.Parent = ""
	if len(parents) > 0 {
		it.Parent = parents[0]
	}

	return nil
}

// Update loads id, applies mutate to a copy and saves the copy if it differs
// from what was loaded. It reports whether a save happened; an absent id is
// not an error and mutate is not called. The item stays guarded from load to
// save, so concurrent updates of one id apply one after another.
func (s *Store) Update(ctx context.Context, id string, mutate func(*item.Item)) (bool, error) {
	if id == "" {
		return false, ErrNoID
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", id, err)
	}

	current, ok, migrated, err := s.read(ctx, id)
	if err != nil || !ok {
		unlock()

		return false, err
	}

	next := current.Clone()
	mutate(&next)
	next.ID = id

	changed := !next.Equal(current)
	if !changed && !migrated {
		unlock()

		return false, nil
	}

	s.beginSave()
	defer s.endSave()

	err = s.saveLocked(ctx, next)

	unlock()

	if err != nil {
		return false, err
	}

	s.publishOpen(ctx)

	return changed, nil
}

// All returns every stored item ordered by creation time.
func (s *Store) All(ctx context.Context) ([]item.Item, error) {
	ids, err := s.items.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	return s.loadMany(ctx, ids)
}

// loadMany loads ids in bulk, skipping absent ones. Bodies in an older format
// are upgraded in place.
func (s *Store) loadMany(ctx context.Context, ids []string) ([]item.Item, error) {
	pairs, err := s.items.MultiGet(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}

	out := make([]item.Item, len(pairs))
	found := make([]bool, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)

	for i, p := range pairs {
		if !p.Found {
			s.log.WithField("id", p.Key).WithField("namespace", s.items.Namespace()).Warn("indexed item has no body")

			continue
		}

		g.Go(func() error {
			it, migrated, err := s.decode(gctx, p.Key, p.Value)
			if err != nil {
				return err
			}

			if migrated {
				err = s.upgradeBody(gctx, it, p.Value)
				if err != nil {
					return err
				}
			}

			out[i], found[i] = it, true

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	items := make([]item.Item, 0, len(out))

	for i, it := range out {
		if found[i] {
			items = append(items, it)
		}
	}

	sortItems(items)

	return items, nil
}

// upgradeBody rewrites an outdated body in the current format, unless the
// item was written since raw was read. Relationships and open state do not
// change with the body format, so there is nothing else to reconcile.
func (s *Store) upgradeBody(ctx context.Context, it item.Item, raw string) error {
	data, err := item.Encode(it)
	if err != nil {
		return err
	}

	unlock, err := s.locks.Lock(ctx, it.ID)
	if err != nil {
		return err
	}
	defer unlock()

	current, ok, err := s.items.Get(ctx, it.ID)
	if err != nil {
		return fmt.Errorf("upgrade %s: %w", it.ID, err)
	}

	if !ok || current != raw {
		return nil
	}

	s.log.WithField("id", it.ID).Info("upgrading stored item format")

	err = s.items.Set(ctx, it.ID, string(data))
	if err != nil {
		return fmt.Errorf("upgrade %s: %w", it.ID, err)
	}

	return nil
}

func sortItems(items []item.Item) {
	slices.SortFunc(items, func(a, b item.Item) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})
}
