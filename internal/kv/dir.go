package kv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/calvinalkan/gtd/internal/fs"
)

// valueSuffix marks committed value files. Temp files created by atomic
// writes carry a random tail after it and are skipped by ListKeys.
const valueSuffix = ".v"

// Dir stores one file per key under <root>/data. Writes replace files
// atomically so a value is never observed half-written.
type Dir struct {
	fs   fs.FS
	root string
	lock *fs.Lock
}

// OpenDir opens (creating if needed) a directory store at root and takes the
// process-exclusive lock on it.
func OpenDir(ctx context.Context, fsys fs.FS, root string) (*Dir, error) {
	if root == "" {
		return nil, errors.New("open dir store: root is empty")
	}

	lock, err := lockDir(ctx, fsys, root)
	if err != nil {
		return nil, fmt.Errorf("open dir store: %w", err)
	}

	err = fsys.MkdirAll(filepath.Join(root, "data"), dirPerm)
	if err != nil {
		_ = lock.Close()

		return nil, fmt.Errorf("open dir store: create data dir: %w", err)
	}

	return &Dir{fs: fsys, root: root, lock: lock}, nil
}

// Close releases the directory lock.
func (d *Dir) Close() error {
	return d.lock.Close()
}

func (d *Dir) path(key string) string {
	return filepath.Join(d.root, "data", url.PathEscape(key)+valueSuffix)
}

// Get implements [Storage].
func (d *Dir) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	data, err := d.fs.ReadFile(d.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("read %q: %w", key, err)
	}

	return string(data), true, nil
}

// Set implements [Storage].
func (d *Dir) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := d.fs.WriteFileAtomic(d.path(key), []byte(value), filePerm)
	if err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}

	return nil
}

// Remove implements [Storage].
func (d *Dir) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := d.fs.Remove(d.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", key, err)
	}

	return nil
}

// ListKeys implements [Storage].
func (d *Dir) ListKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := d.fs.ReadDir(filepath.Join(d.root, "data"))
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	keys := make([]string, 0, len(entries))

	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), valueSuffix)
		if !ok || entry.IsDir() {
			continue
		}

		key, err := url.PathUnescape(name)
		if err != nil {
			return nil, fmt.Errorf("list keys: decode %q: %w", entry.Name(), err)
		}

		keys = append(keys, key)
	}

	slices.Sort(keys)

	return keys, nil
}

// MultiGet implements [Storage].
func (d *Dir) MultiGet(ctx context.Context, keys []string) ([]Pair, error) {
	return multiGetEach(ctx, d, keys)
}

var _ Backend = (*Dir)(nil)
