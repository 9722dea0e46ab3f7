package schema

import (
	"fmt"
	"time"
)

// Deck is a study deck. Decks form a forest via ParentID: a deck is a root
// when ParentID is nil or (on a partially synced tree) refers to a deck that
// has not arrived yet. Cards reference decks weakly, by id only.
type Deck struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	// ParentID is the self-referential tree edge; nil for top-level decks.
	ParentID *string `json:"parent_id,omitempty"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Validate checks the deck has valid field values.
func (d *Deck) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(d.Name) > 300 {
		return fmt.Errorf("name must be 300 characters or less (got %d)", len(d.Name))
	}
	if d.ParentID != nil && *d.ParentID == d.ID {
		return fmt.Errorf("deck cannot be its own parent")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (d *Deck) SetDefaults() {
	if d.ID == "" {
		d.ID = NewID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.ModifiedAt.IsZero() {
		d.ModifiedAt = d.CreatedAt
	}
}

// Row converts the deck to its flat boundary representation.
func (d *Deck) Row() Row {
	return Row{
		"id":          d.ID,
		"owner_id":    d.OwnerID,
		"parent_id":   ptrValue(d.ParentID),
		"name":        d.Name,
		"description": d.Description,
		"created_at":  Millis(d.CreatedAt),
		"modified_at": Millis(d.ModifiedAt),
	}
}

// DeckFromRow rebuilds a deck from a Row. Missing columns become zero values;
// callers that need guarantees run Validate afterwards.
func DeckFromRow(r Row) *Deck {
	return &Deck{
		ID:          r.String("id"),
		OwnerID:     r.String("owner_id"),
		ParentID:    r.StringPtr("parent_id"),
		Name:        r.String("name"),
		Description: r.String("description"),
		CreatedAt:   r.Time("created_at"),
		ModifiedAt:  r.Time("modified_at"),
	}
}
