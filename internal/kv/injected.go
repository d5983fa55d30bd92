package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Op names a Storage operation for fault injection.
type Op string

// Storage operations that [Injected] can fail.
const (
	OpGet      Op = "get"
	OpSet      Op = "set"
	OpRemove   Op = "remove"
	OpListKeys Op = "listKeys"
	OpMultiGet Op = "multiGet"
)

// ErrInjected is the default error returned by [Injected] rules.
var ErrInjected = errors.New("injected failure")

// InjectedError marks an error as intentionally injected by [Injected].
// It wraps the underlying error so errors.Is/As keep working.
type InjectedError struct {
	Op  Op
	Key string
	Err error
}

// Error implements error.
func (e *InjectedError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) came from [Injected].
func IsInjected(err error) bool {
	var injected *InjectedError

	return errors.As(err, &injected)
}

type rule struct {
	op    Op
	match func(key string) bool
	err   error
	left  int // remaining failures; <0 means unlimited
}

// Injected wraps a Storage and fails selected operations. Tests use it to
// exercise backing-store failure paths.
type Injected struct {
	Storage

	mu    sync.Mutex
	rules []*rule
}

// NewInjected wraps s with no rules installed.
func NewInjected(s Storage) *Injected {
	return &Injected{Storage: s}
}

// FailOn makes every op call whose key satisfies match fail with err
// (ErrInjected if nil). A nil match matches every key. ListKeys calls are
// matched with an empty key; MultiGet calls match if any key does.
func (i *Injected) FailOn(op Op, match func(key string) bool, err error) {
	i.add(op, match, err, -1)
}

// FailOnce is like FailOn but the rule fires only once.
func (i *Injected) FailOnce(op Op, match func(key string) bool, err error) {
	i.add(op, match, err, 1)
}

// Reset removes all rules.
func (i *Injected) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.rules = nil
}

func (i *Injected) add(op Op, match func(string) bool, err error, count int) {
	if match == nil {
		match = func(string) bool { return true }
	}

	if err == nil {
		err = ErrInjected
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.rules = append(i.rules, &rule{op: op, match: match, err: err, left: count})
}

func (i *Injected) check(op Op, keys ...string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, r := range i.rules {
		if r.op != op || r.left == 0 {
			continue
		}

		for _, key := range keys {
			if !r.match(key) {
				continue
			}

			if r.left > 0 {
				r.left--
			}

			return &InjectedError{Op: op, Key: key, Err: r.err}
		}
	}

	return nil
}

// Get implements [Storage].
func (i *Injected) Get(ctx context.Context, key string) (string, bool, error) {
	if err := i.check(OpGet, key); err != nil {
		return "", false, err
	}

	return i.Storage.Get(ctx, key)
}

// Set implements [Storage].
func (i *Injected) Set(ctx context.Context, key, value string) error {
	if err := i.check(OpSet, key); err != nil {
		return err
	}

	return i.Storage.Set(ctx, key, value)
}

// Remove implements [Storage].
func (i *Injected) Remove(ctx context.Context, key string) error {
	if err := i.check(OpRemove, key); err != nil {
		return err
	}

	return i.Storage.Remove(ctx, key)
}

// ListKeys implements [Storage].
func (i *Injected) ListKeys(ctx context.Context) ([]string, error) {
	if err := i.check(OpListKeys, ""); err != nil {
		return nil, err
	}

	return i.Storage.ListKeys(ctx)
}

// MultiGet implements [Storage].
func (i *Injected) MultiGet(ctx context.Context, keys []string) ([]Pair, error) {
	if err := i.check(OpMultiGet, keys...); err != nil {
		return nil, err
	}

	return i.Storage.MultiGet(ctx, keys)
}

var _ Storage = (*Injected)(nil)
