// Package migrate upgrades the on-disk layout of a backing store to the
// version the current store code expects.
//
// The version lives under @storage-meta/version. Before each step every key
// outside @storage-meta is copied into @storage-meta/backup, so the state
// before the most recent step can be brought back with [Runner.Restore].
// Steps are idempotent: a step interrupted by a crash or an error leaves the
// version unadvanced and runs again on the next [Runner.Perform].
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/gtd/internal/item"
	"github.com/calvinalkan/gtd/internal/kv"
)

// Reserved keys.
const (
	MetaNamespace    = "@storage-meta"
	VersionKey       = MetaNamespace + "/version"
	BackupKey        = MetaNamespace + "/backup"
	BackupVersionKey = MetaNamespace + "/backup-version"
)

// Latest is the layout version the current code reads and writes.
const Latest = 2

var (
	// ErrTooNew is returned when the stored version is newer than [Latest].
	ErrTooNew = errors.New("storage version is newer than supported")
	// ErrNoBackup is returned by Restore when no snapshot exists.
	ErrNoBackup = errors.New("no backup snapshot")
	// ErrCorrupt reports an unreadable version or snapshot.
	ErrCorrupt = errors.New("storage metadata corrupt")
)

// Runner performs migrations on one backing store. It must run before any
// store.Store is used on the same backing store.
type Runner struct {
	backing kv.Storage
	log     logrus.FieldLogger
	clock   item.Clock
	steps   []step
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = log }
}

// WithClock sets the clock used when backfilling item timestamps.
func WithClock(clock item.Clock) Option {
	return func(r *Runner) { r.clock = clock }
}

// New returns a Runner for backing.
func New(backing kv.Storage, opts ...Option) *Runner {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	r := &Runner{
		backing: backing,
		log:     discard,
		clock:   item.SystemClock{},
		steps:   steps,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Version returns the stored layout version; 0 if none was ever written.
func (r *Runner) Version(ctx context.Context) (int, error) {
	return r.readInt(ctx, VersionKey)
}

// Pending reports how many steps Perform would run.
func (r *Runner) Pending(ctx context.Context) (int, error) {
	v, err := r.Version(ctx)
	if err != nil {
		return 0, err
	}

	return max(Latest-v, 0), nil
}

// Perform runs every step between the stored version and [Latest], one at a
// time: snapshot, step, advance version. Calling it when already at Latest
// does nothing.
func (r *Runner) Perform(ctx context.Context) error {
	from, err := r.Version(ctx)
	if err != nil {
		return err
	}

	if from > Latest {
		return fmt.Errorf("%w: %d > %d", ErrTooNew, from, Latest)
	}

	if from == Latest {
		r.log.Debugf("storage already at version %d", from)

		return nil
	}

	r.log.Infof("storage migration from v%d to v%d has started", from, Latest)

	for v := from; v < Latest; v++ {
		s := r.steps[v]

		log := r.log.WithField("action", "storage_migration").WithField("from", v).WithField("step", s.name)
		log.Info("running migration step")

		err = r.snapshot(ctx, v)
		if err != nil {
			return fmt.Errorf("migrate v%d: %w", v, err)
		}

		err = s.run(ctx, r)
		if err != nil {
			return fmt.Errorf("migrate v%d (%s): %w", v, s.name, err)
		}

		err = r.backing.Set(ctx, VersionKey, strconv.Itoa(v+1))
		if err != nil {
			return fmt.Errorf("migrate v%d: write version: %w", v, err)
		}
	}

	r.log.Infof("successfully completed storage migration from v%d to v%d", from, Latest)

	return nil
}

// dataKeys returns every key outside the metadata namespace.
func (r *Runner) dataKeys(ctx context.Context) ([]string, error) {
	keys, err := r.backing.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	out := keys[:0]

	for _, k := range keys {
		if !strings.HasPrefix(k, MetaNamespace+"/") {
			out = append(out, k)
		}
	}

	return out, nil
}

func (r *Runner) readInt(ctx context.Context, key string) (int, error) {
	raw, ok, err := r.backing.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}

	if !ok {
		return 0, nil
	}

	var v int

	err = json.Unmarshal([]byte(raw), &v)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s = %q", ErrCorrupt, key, raw)
	}

	return v, nil
}
