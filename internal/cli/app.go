package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/gtd/internal/config"
	"github.com/calvinalkan/gtd/internal/item"
	"github.com/calvinalkan/gtd/internal/kv"
	"github.com/calvinalkan/gtd/internal/migrate"
	"github.com/calvinalkan/gtd/internal/store"
)

// app owns the process-wide resources shared by all commands of one Run:
// the backend, the migration runner and the single Store. Resources are
// opened on first use so commands like print-config never touch storage.
type app struct {
	in    io.Reader
	cfg   config.Config
	log   *logrus.Logger
	clock item.Clock
	ids   item.IDGenerator

	backend  kv.Backend
	store    *store.Store
	migrated bool
}

func newApp(in io.Reader) *app {
	return &app{
		in:    in,
		clock: item.SystemClock{},
		ids:   item.UUIDv7{},
	}
}

func (a *app) configure(cfg config.Config, logOut io.Writer) {
	a.cfg = cfg

	a.log = logrus.New()
	a.log.SetOutput(logOut)
	a.log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err == nil {
		a.log.SetLevel(level)
	}
}

func (a *app) Backend(ctx context.Context) (kv.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}

	b, err := kv.Open(ctx, a.cfg.Backend, a.cfg.DataDirAbs)
	if err != nil {
		return nil, err
	}

	a.log.WithField("backend", a.cfg.Backend).WithField("dir", a.cfg.DataDirAbs).Debug("opened storage")
	a.backend = b

	return b, nil
}

func (a *app) Runner(ctx context.Context) (*migrate.Runner, error) {
	b, err := a.Backend(ctx)
	if err != nil {
		return nil, err
	}

	return migrate.New(b, migrate.WithLogger(a.log), migrate.WithClock(a.clock)), nil
}

// Store returns the shared store, migrating storage first if needed.
func (a *app) Store(ctx context.Context) (*store.Store, error) {
	if !a.migrated {
		r, err := a.Runner(ctx)
		if err != nil {
			return nil, err
		}

		err = r.Perform(ctx)
		if err != nil {
			return nil, err
		}

		a.migrated = true
	}

	if a.store == nil {
		a.store = store.New(a.backend, store.WithLogger(a.log), store.WithClock(a.clock))
	}

	return a.store, nil
}

func (a *app) Close() error {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}

	if a.backend == nil {
		return nil
	}

	err := a.backend.Close()
	a.backend = nil

	if err != nil {
		return fmt.Errorf("close storage: %w", err)
	}

	return nil
}

// resolve finds an item by full id or unique id prefix.
func resolve(ctx context.Context, s *store.Store, ref string) (item.Item, error) {
	if ref == "" {
		return item.Item{}, errIDRequired
	}

	it, ok, err := s.Load(ctx, ref)
	if err != nil {
		return item.Item{}, err
	}

	if ok {
		return it, nil
	}

	all, err := s.All(ctx)
	if err != nil {
		return item.Item{}, err
	}

	var matches []item.Item

	for _, it := range all {
		if strings.HasPrefix(it.ID, ref) {
			matches = append(matches, it)
		}
	}

	switch len(matches) {
	case 0:
		return item.Item{}, fmt.Errorf("%w: %s", errItemNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return item.Item{}, fmt.Errorf("%w: %s matches %d items", errAmbiguousID, ref, len(matches))
	}
}

// withItem opens the store and resolves ref.
func (a *app) withItem(ctx context.Context, ref string) (*store.Store, item.Item, error) {
	s, err := a.Store(ctx)
	if err != nil {
		return nil, item.Item{}, err
	}

	it, err := resolve(ctx, s, ref)
	if err != nil {
		return nil, item.Item{}, err
	}

	return s, it, nil
}
