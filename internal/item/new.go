package item

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyTitle is returned by [New] for a blank title. A stored item with an
// empty title does not exist: saving one deletes it.
var ErrEmptyTitle = errors.New("title is empty")

// IDGenerator produces fresh item ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// UUIDv7 generates time-ordered UUIDv7 ids.
type UUIDv7 struct{}

// NewID implements [IDGenerator].
func (UUIDv7) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("new uuidv7: %w", err)
	}

	return id.String(), nil
}

// SystemClock reads the wall clock, truncated to milliseconds so timestamps
// survive a round trip through stored records unchanged.
type SystemClock struct{}

// Now implements [Clock].
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// ClockFunc adapts a function to [Clock].
type ClockFunc func() time.Time

// Now implements [Clock].
func (f ClockFunc) Now() time.Time {
	return f()
}

// New builds an unsaved item with a fresh id and creation time.
func New(ids IDGenerator, clock Clock, title string, kind Kind) (Item, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Item{}, ErrEmptyTitle
	}

	if kind == "" {
		kind = Inbox
	}

	if !kind.Valid() {
		return Item{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	id, err := ids.NewID()
	if err != nil {
		return Item{}, err
	}

	return Item{
		ID:        id,
		Title:     title,
		Kind:      kind,
		CreatedAt: clock.Now(),
	}, nil
}
