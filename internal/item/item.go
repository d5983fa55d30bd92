// Package item defines the task record persisted by the store.
package item

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	// ErrInvalidKind is returned by [ParseKind] for an unknown kind.
	ErrInvalidKind = errors.New("invalid kind")
	// ErrMalformed is returned by [Parse] when a stored record cannot be decoded.
	ErrMalformed = errors.New("malformed item")
)

// Kind classifies an item.
type Kind string

// Item kinds.
const (
	Inbox      Kind = "inbox"
	NextAction Kind = "next_action"
	Project    Kind = "project"
	WaitingFor Kind = "waiting_for"
	Someday    Kind = "someday"
)

// Kinds lists every valid kind in display order.
var Kinds = []Kind{Inbox, NextAction, Project, WaitingFor, Someday}

var kindLabels = map[Kind]string{
	Inbox:      "Inbox",
	NextAction: "Next Action",
	Project:    "Project",
	WaitingFor: "Waiting For",
	Someday:    "Someday / Maybe",
}

// ParseKind accepts a kind name, case-insensitively, with either "_" or "-"
// as the word separator.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q (valid: %s)", ErrInvalidKind, s, kindList())
	}

	return k, nil
}

// Valid reports whether k is one of [Kinds].
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// Label returns the human readable name of k.
func (k Kind) Label() string {
	if l, ok := kindLabels[k]; ok {
		return l
	}

	return string(k)
}

func kindList() string {
	names := make([]string, len(Kinds))
	for i, k := range Kinds {
		names[i] = string(k)
	}

	return strings.Join(names, ", ")
}

// Item is a single task.
//
// Parent, Children, Blockers and Blocking are owned by the store's
// relationship graphs. Whatever a stored record carries for them is replaced
// on every load.
type Item struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Kind         Kind       `json:"kind"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	SnoozedUntil *time.Time `json:"snoozedUntil,omitempty"`
	AckedAt      *time.Time `json:"ackedAt,omitempty"`
	Parent       string     `json:"parent,omitempty"`
	Children     []string   `json:"children,omitempty"`
	Blockers     []string   `json:"blockers,omitempty"`
	Blocking     []string   `json:"blocking,omitempty"`
}

// IsOpen reports whether the item has not been completed.
func (it Item) IsOpen() bool {
	return it.CompletedAt == nil
}

// IsSnoozed reports whether the item is snoozed at now.
func (it Item) IsSnoozed(now time.Time) bool {
	return it.SnoozedUntil != nil && now.Before(*it.SnoozedUntil)
}

// Clone returns a deep copy.
func (it Item) Clone() Item {
	out := it
	out.CompletedAt = cloneTime(it.CompletedAt)
	out.SnoozedUntil = cloneTime(it.SnoozedUntil)
	out.AckedAt = cloneTime(it.AckedAt)
	out.Children = slices.Clone(it.Children)
	out.Blockers = slices.Clone(it.Blockers)
	out.Blocking = slices.Clone(it.Blocking)

	return out
}

// Equal compares by value. Timestamps compare as instants and nil slices
// equal empty ones.
func (it Item) Equal(other Item) bool {
	return it.ID == other.ID &&
		it.Title == other.Title &&
		it.Kind == other.Kind &&
		it.CreatedAt.Equal(other.CreatedAt) &&
		equalTime(it.CompletedAt, other.CompletedAt) &&
		equalTime(it.SnoozedUntil, other.SnoozedUntil) &&
		equalTime(it.AckedAt, other.AckedAt) &&
		it.Parent == other.Parent &&
		slices.Equal(it.Children, other.Children) &&
		slices.Equal(it.Blockers, other.Blockers) &&
		slices.Equal(it.Blocking, other.Blocking)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Equal(*b)
}
