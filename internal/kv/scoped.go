package kv

import (
	"context"
	"strings"
)

// Scoped is a namespaced view over a backing Storage. Every key is prefixed
// with "<namespace>/" so several logical stores can share one backend.
//
// Scoped does no caching; errors from the backing store propagate.
type Scoped struct {
	backing Storage
	prefix  string
}

// NewScoped returns a view of backing restricted to namespace.
func NewScoped(backing Storage, namespace string) *Scoped {
	return &Scoped{backing: backing, prefix: namespace + "/"}
}

// Namespace returns the namespace without the trailing separator.
func (s *Scoped) Namespace() string {
	return strings.TrimSuffix(s.prefix, "/")
}

func (s *Scoped) key(key string) string {
	return s.prefix + key
}

// Get implements [Storage].
func (s *Scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.backing.Get(ctx, s.key(key))
}

// Set implements [Storage].
func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.backing.Set(ctx, s.key(key), value)
}

// Remove implements [Storage].
func (s *Scoped) Remove(ctx context.Context, key string) error {
	return s.backing.Remove(ctx, s.key(key))
}

// ListKeys returns the keys inside the namespace with the prefix stripped.
// Keys outside the namespace are omitted.
func (s *Scoped) ListKeys(ctx context.Context) ([]string, error) {
	all, err := s.backing.ListKeys(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(all))

	for _, key := range all {
		if rest, ok := strings.CutPrefix(key, s.prefix); ok {
			keys = append(keys, rest)
		}
	}

	return keys, nil
}

// MultiGet implements [Storage]. Returned keys are unprefixed.
func (s *Scoped) MultiGet(ctx context.Context, keys []string) ([]Pair, error) {
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = s.key(key)
	}

	pairs, err := s.backing.MultiGet(ctx, full)
	if err != nil {
		return nil, err
	}

	for i := range pairs {
		pairs[i].Key = strings.TrimPrefix(pairs[i].Key, s.prefix)
	}

	return pairs, nil
}

var _ Storage = (*Scoped)(nil)
