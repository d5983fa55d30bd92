package kv

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Memory is an in-process Storage backed by a map.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get implements [Storage].
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]

	return value, ok, nil
}

// Set implements [Storage].
func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value

	return nil
}

// Remove implements [Storage].
func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)

	return nil
}

// ListKeys implements [Storage].
func (m *Memory) ListKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.values)), nil
}

// MultiGet implements [Storage].
func (m *Memory) MultiGet(ctx context.Context, keys []string) ([]Pair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	pairs := make([]Pair, 0, len(keys))

	for _, key := range keys {
		value, ok := m.values[key]
		pairs = append(pairs, Pair{Key: key, Value: value, Found: ok})
	}

	return pairs, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

var _ Backend = (*Memory)(nil)
