package item

import (
	"encoding/json"
	"fmt"
	"time"
)

// record mirrors Item with the fields older formats may omit left as
// pointers, so Parse can tell "missing" from "zero".
type record struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Kind         *Kind      `json:"kind"`
	CreatedAt    *time.Time `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt"`
	SnoozedUntil *time.Time `json:"snoozedUntil"`
	AckedAt      *time.Time `json:"ackedAt"`
	Parent       *string    `json:"parent"`
	Children     []string   `json:"children"`
	Blockers     []string   `json:"blockers"`
	Blocking     []string   `json:"blocking"`
}

// Parse decodes a stored record and upgrades it to the current format.
//
// Records written before createdAt existed get now as their creation time;
// records without a kind become [Inbox]. migrated reports whether any such
// backfill happened, in which case the caller should persist the result.
func Parse(data []byte, now time.Time) (it Item, migrated bool, err error) {
	var r record

	err = json.Unmarshal(data, &r)
	if err != nil {
		return Item{}, false, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if r.ID == "" {
		return Item{}, false, fmt.Errorf("%w: missing id", ErrMalformed)
	}

	it = Item{
		ID:           r.ID,
		Title:        r.Title,
		CompletedAt:  r.CompletedAt,
		SnoozedUntil: r.SnoozedUntil,
		AckedAt:      r.AckedAt,
		Children:     r.Children,
		Blockers:     r.Blockers,
		Blocking:     r.Blocking,
	}

	if r.Parent != nil {
		it.Parent = *r.Parent
	}

	if r.CreatedAt == nil {
		it.CreatedAt = now
		migrated = true
	} else {
		it.CreatedAt = *r.CreatedAt
	}

	switch {
	case r.Kind == nil || *r.Kind == "":
		it.Kind = Inbox
		migrated = true
	case !r.Kind.Valid():
		return Item{}, false, fmt.Errorf("%w: %w: %q", ErrMalformed, ErrInvalidKind, *r.Kind)
	default:
		it.Kind = *r.Kind
	}

	return it, migrated, nil
}

// Encode serializes it in the current format.
func Encode(it Item) ([]byte, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, fmt.Errorf("encode item %s: %w", it.ID, err)
	}

	return data, nil
}
