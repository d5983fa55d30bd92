// Package kv defines the flat key-value contract the item store is built on,
// the namespaced view over it, and the concrete backends.
//
// Keys and values are opaque strings. An absent key is reported through the
// ok/Found result, never as an error.
package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/calvinalkan/gtd/internal/fs"
)

// Storage is the asynchronous key-value backing store.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Storage interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// ListKeys returns every stored key in ascending order.
	ListKeys(ctx context.Context) ([]string, error)

	// MultiGet returns one Pair per requested key, in request order.
	MultiGet(ctx context.Context, keys []string) ([]Pair, error)
}

// Pair is one MultiGet result.
type Pair struct {
	Key   string
	Value string
	Found bool
}

// Backend is a Storage that owns resources.
type Backend interface {
	Storage

	Close() error
}

// Backend names accepted by [Open].
const (
	BackendMemory = "memory"
	BackendDir    = "dir"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// Backends lists every backend name [Open] accepts.
var Backends = []string{BackendDir, BackendBolt, BackendSQLite, BackendMemory}

var (
	// ErrLocked means another process owns the on-disk store.
	ErrLocked = errors.New("store is locked by another process")

	// ErrUnknownBackend is returned by [Open] for unsupported backend names.
	ErrUnknownBackend = errors.New("unknown backend")
)

// LockTimeout bounds how long [Open] waits for another process to release
// the store.
const LockTimeout = 2 * time.Second

const (
	dirPerm  = 0o750
	filePerm = 0o600
	lockName = ".lock"
)

// Open opens the named backend rooted at dir. The memory backend ignores dir.
func Open(ctx context.Context, backend, dir string) (Backend, error) {
	switch backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendDir:
		return OpenDir(ctx, fs.NewReal(), dir)
	case BackendBolt:
		return OpenBolt(ctx, dir)
	case BackendSQLite:
		return OpenSQLite(ctx, dir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// lockDir takes the process-exclusive lock for an on-disk store, waiting at
// most [LockTimeout].
func lockDir(ctx context.Context, fsys fs.FS, dir string) (*fs.Lock, error) {
	err := fsys.MkdirAll(dir, dirPerm)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	ctx, cancel := context.WithTimeout(ctx, LockTimeout)
	defer cancel()

	lock, err := fs.NewLocker(fsys).Lock(ctx, filepath.Join(dir, lockName))
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
		}

		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}

	return lock, nil
}

// multiGetEach implements MultiGet with one Get per key, for backends without
// a batched read.
func multiGetEach(ctx context.Context, s Storage, keys []string) ([]Pair, error) {
	pairs := make([]Pair, 0, len(keys))

	for _, key := range keys {
		value, ok, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		pairs = append(pairs, Pair{Key: key, Value: value, Found: ok})
	}

	return pairs, nil
}
