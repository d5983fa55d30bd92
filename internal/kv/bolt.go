package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/calvinalkan/gtd/internal/fs"
	bolt "go.etcd.io/bbolt"
)

var kvBucket = []byte("kv")

// Bolt stores every key in a single bbolt bucket.
type Bolt struct {
	db   *bolt.DB
	lock *fs.Lock
}

// OpenBolt opens (creating if needed) <dir>/store.db.
func OpenBolt(ctx context.Context, dir string) (*Bolt, error) {
	if dir == "" {
		return nil, errors.New("open bolt store: dir is empty")
	}

	lock, err := lockDir(ctx, fs.NewReal(), dir)
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	path := filepath.Join(dir, "store.db")

	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: LockTimeout})
	if err != nil {
		_ = lock.Close()

		return nil, fmt.Errorf("open bolt store %q: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(kvBucket)

		return err
	})
	if err != nil {
		_ = db.Close()
		_ = lock.Close()

		return nil, fmt.Errorf("open bolt store: create bucket: %w", err)
	}

	return &Bolt{db: db, lock: lock}, nil
}

// Close closes the database and releases the directory lock.
func (b *Bolt) Close() error {
	dbErr := b.db.Close()
	lockErr := b.lock.Close()

	return errors.Join(dbErr, lockErr)
}

// Get implements [Storage].
func (b *Bolt) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var (
		value string
		ok    bool
	)

	err := b.db.View(func(tx *bolt.Tx) error {
		// Get returns memory owned by the tx; string() copies it out.
		if data := tx.Bucket(kvBucket).Get([]byte(key)); data != nil {
			value, ok = string(data), true
		}

		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}

	return value, ok, nil
}

// Set implements [Storage].
func (b *Bolt) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	return nil
}

// Remove implements [Storage].
func (b *Bolt) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}

	return nil
}

// ListKeys implements [Storage]. bbolt iterates keys in byte order.
func (b *Bolt) ListKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string

	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	return keys, nil
}

// MultiGet implements [Storage] with a single read transaction.
func (b *Bolt) MultiGet(ctx context.Context, keys []string) ([]Pair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pairs := make([]Pair, 0, len(keys))

	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(kvBucket)

		for _, key := range keys {
			pair := Pair{Key: key}
			if data := bucket.Get([]byte(key)); data != nil {
				pair.Value, pair.Found = string(data), true
			}

			pairs = append(pairs, pair)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("multi get: %w", err)
	}

	return pairs, nil
}

var _ Backend = (*Bolt)(nil)
