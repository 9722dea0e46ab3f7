package schema

import (
	"fmt"
	"time"
)

// LearningState is the FSRS learning stage of a card.
type LearningState string

const (
	StateNew        LearningState = "new"
	StateLearning   LearningState = "learning"
	StateReview     LearningState = "review"
	StateRelearning LearningState = "relearning"
)

// Valid reports whether s is a known learning state.
func (s LearningState) Valid() bool {
	switch s {
	case StateNew, StateLearning, StateReview, StateRelearning:
		return true
	}
	return false
}

// MemoryState is the FSRS scheduling sub-record of a card. The sync engine
// treats it as opaque except for merge semantics: on conflict the whole group
// travels together, taken from whichever side holds the later LastReviewAt.
type MemoryState struct {
	Stability     float64       `json:"stability"`
	Difficulty    float64       `json:"difficulty"`
	LearningState LearningState `json:"learning_state"`
	Lapses        int           `json:"lapses"`
	NextReviewAt  *time.Time    `json:"next_review_at,omitempty"`
	LastReviewAt  *time.Time    `json:"last_review_at,omitempty"`
}

// MemoryColumns are the card columns that form the memory-state merge group.
var MemoryColumns = []string{
	"stability",
	"difficulty",
	"learning_state",
	"lapses",
	"next_review_at",
	"last_review_at",
}

// Card is a single flashcard.
//
// Front and Back hold markdown with embedded media references of the form
// (media:<name>) that are resolved through the media store. TotalReviews and
// CorrectReviews are monotonically non-decreasing counters, merged by
// component-wise maximum on conflict.
type Card struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	// DeckID is a weak reference: looked up by id, never assumed valid.
	DeckID *string `json:"deck_id,omitempty"`

	Front string `json:"front"`
	Back  string `json:"back"`

	Memory MemoryState `json:"memory"`

	TotalReviews   int `json:"total_reviews"`
	CorrectReviews int `json:"correct_reviews"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Validate checks the card has valid field values.
func (c *Card) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if c.Front == "" {
		return fmt.Errorf("front is required")
	}
	if !c.Memory.LearningState.Valid() {
		return fmt.Errorf("invalid learning state %q", c.Memory.LearningState)
	}
	if c.TotalReviews < 0 || c.CorrectReviews < 0 {
		return fmt.Errorf("review counters cannot be negative")
	}
	if c.CorrectReviews > c.TotalReviews {
		return fmt.Errorf("correct_reviews (%d) cannot exceed total_reviews (%d)",
			c.CorrectReviews, c.TotalReviews)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Card) SetDefaults() {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Memory.LearningState == "" {
		c.Memory.LearningState = StateNew
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.ModifiedAt.IsZero() {
		c.ModifiedAt = c.CreatedAt
	}
}

// Due reports whether the card should be shown at now: new cards immediately,
// scheduled cards once NextReviewAt has passed.
func (c *Card) Due(now time.Time) bool {
	if c.Memory.NextReviewAt == nil {
		return true
	}
	return !c.Memory.NextReviewAt.After(now)
}

// Row converts the card to its flat boundary representation.
func (c *Card) Row() Row {
	return Row{
		"id":              c.ID,
		"owner_id":        c.OwnerID,
		"deck_id":         ptrValue(c.DeckID),
		"front":           c.Front,
		"back":            c.Back,
		"stability":       c.Memory.Stability,
		"difficulty":      c.Memory.Difficulty,
		"learning_state":  string(c.Memory.LearningState),
		"lapses":          int64(c.Memory.Lapses),
		"next_review_at":  MillisPtr(c.Memory.NextReviewAt),
		"last_review_at":  MillisPtr(c.Memory.LastReviewAt),
		"total_reviews":   int64(c.TotalReviews),
		"correct_reviews": int64(c.CorrectReviews),
		"created_at":      Millis(c.CreatedAt),
		"modified_at":     Millis(c.ModifiedAt),
	}
}

// CardFromRow rebuilds a card from a Row.
func CardFromRow(r Row) *Card {
	return &Card{
		ID:      r.String("id"),
		OwnerID: r.String("owner_id"),
		DeckID:  r.StringPtr("deck_id"),
		Front:   r.String("front"),
		Back:    r.String("back"),
		Memory: MemoryState{
			Stability:     r.Float("stability"),
			Difficulty:    r.Float("difficulty"),
			LearningState: LearningState(r.String("learning_state")),
			Lapses:        int(r.Int("lapses")),
			NextReviewAt:  r.TimePtr("next_review_at"),
			LastReviewAt:  r.TimePtr("last_review_at"),
		},
		TotalReviews:   int(r.Int("total_reviews")),
		CorrectReviews: int(r.Int("correct_reviews")),
		CreatedAt:      r.Time("created_at"),
		ModifiedAt:     r.Time("modified_at"),
	}
}
