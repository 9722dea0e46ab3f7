package store

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/leitnerhq/leitner/internal/fsrs"
	"github.com/leitnerhq/leitner/internal/schema"
)

// CreateCard inserts a card and queues it for upload.
func (s *Store) CreateCard(ctx context.Context, card *schema.Card) error {
	card.SetDefaults()
	if err := card.Validate(); err != nil {
		return fmt.Errorf("invalid card: %w", err)
	}
	return s.applyLogged(ctx, schema.TableCards, card.ID, schema.OpPut, card.Row())
}

// UpdateCard writes a full card update and queues it for upload.
func (s *Store) UpdateCard(ctx context.Context, card *schema.Card) error {
	card.ModifiedAt = time.Now().UTC()
	if err := card.Validate(); err != nil {
		return fmt.Errorf("invalid card: %w", err)
	}
	return s.applyLogged(ctx, schema.TableCards, card.ID, schema.OpPut, card.Row())
}

// PatchCard updates a subset of card columns and queues a patch operation
// carrying exactly those columns plus the modified_at stamp.
func (s *Store) PatchCard(ctx context.Context, id string, fields schema.Row) error {
	if len(fields) == 0 {
		return fmt.Errorf("patch for card %s has no fields", id)
	}
	patch := fields.Clone()
	patch["modified_at"] = schema.Millis(time.Now().UTC())
	return s.applyLogged(ctx, schema.TableCards, id, schema.OpPatch, patch)
}

// DeleteCard removes a card and queues the deletion.
func (s *Store) DeleteCard(ctx context.Context, id string) error {
	return s.applyLogged(ctx, schema.TableCards, id, schema.OpDelete, nil)
}

// GetCard retrieves a single card by id.
// Returns ErrNotFound if the card doesn't exist.
func (s *Store) GetCard(ctx context.Context, id string) (*schema.Card, error) {
	r, err := s.getRow(ctx, schema.TableCards, id)
	if err != nil {
		return nil, err
	}
	return schema.CardFromRow(r), nil
}

// CardFilter configures the ListCards query.
type CardFilter struct {
	// DeckID restricts to one deck (empty = all decks).
	DeckID string
	// Unfiled restricts to cards whose deck reference is null or dangling.
	Unfiled bool
	// State filters by learning state (empty = all states).
	State schema.LearningState
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results (for pagination).
	Offset int
}

// ListCards retrieves cards matching the given filter.
// Results are ordered by creation time.
func (s *Store) ListCards(ctx context.Context, filter CardFilter) ([]*schema.Card, error) {
	var conditions []string
	var args []any

	if filter.DeckID != "" {
		conditions = append(conditions, "deck_id = ?")
		args = append(args, filter.DeckID)
	}

	if filter.Unfiled {
		conditions = append(conditions, "(deck_id IS NULL OR deck_id NOT IN (SELECT id FROM decks))")
	}

	if filter.State != "" {
		conditions = append(conditions, "learning_state = ?")
		args = append(args, string(filter.State))
	}

	var tail string
	if len(conditions) > 0 {
		tail = "WHERE " + strings.Join(conditions, " AND ") + " "
	}
	tail += "ORDER BY created_at ASC, id ASC"

	if filter.Limit > 0 {
		tail += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		tail += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.queryRows(ctx, schema.TableCards, tail, args...)
	if err != nil {
		return nil, err
	}
	cards := make([]*schema.Card, 0, len(rows))
	for _, r := range rows {
		cards = append(cards, schema.CardFromRow(r))
	}
	return cards, nil
}

// DueCards returns cards due for review at now, soonest first. Cards never
// scheduled come before everything else. deckID empty means all decks;
// limit 0 means no limit.
func (s *Store) DueCards(ctx context.Context, now time.Time, deckID string, limit int) ([]*schema.Card, error) {
	conditions := []string{"(next_review_at IS NULL OR next_review_at <= ?)"}
	args := []any{now.UnixMilli()}

	if deckID != "" {
		conditions = append(conditions, "deck_id = ?")
		args = append(args, deckID)
	}

	tail := "WHERE " + strings.Join(conditions, " AND ") +
		" ORDER BY COALESCE(next_review_at, 0) ASC, created_at ASC"
	if limit > 0 {
		tail += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.queryRows(ctx, schema.TableCards, tail, args...)
	if err != nil {
		return nil, err
	}
	cards := make([]*schema.Card, 0, len(rows))
	for _, r := range rows {
		cards = append(cards, schema.CardFromRow(r))
	}
	return cards, nil
}

// CountCards returns the total number of cards.
func (s *Store) CountCards(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return count, nil
}

// CountDue returns the number of cards due for review at now.
func (s *Store) CountDue(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cards WHERE next_review_at IS NULL OR next_review_at <= ?",
		now.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count due cards: %w", err)
	}
	return count, nil
}

// ReviewResult is the outcome of RecordReview.
type ReviewResult struct {
	// Card is the card after the review was applied.
	Card *schema.Card
	// Interval is the number of days until the next review.
	Interval int
}

// RecordReview applies a rated review to a card.
//
// The FSRS scheduler advances the memory state, the learning state and
// counters update, and the new card state is queued for upload like any
// other local write. A rating of Again on a card in the review state counts
// as a lapse.
func (s *Store) RecordReview(ctx context.Context, sched *fsrs.Scheduler, cardID string, rating fsrs.Rating, now time.Time) (*ReviewResult, error) {
	if !rating.Valid() {
		return nil, fmt.Errorf("invalid rating %d", int(rating))
	}

	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	elapsed := elapsedDays(card.Memory.LastReviewAt, now)
	var memory *fsrs.MemoryState
	if card.Memory.LastReviewAt != nil {
		memory = &fsrs.MemoryState{
			Stability:  card.Memory.Stability,
			Difficulty: card.Memory.Difficulty,
		}
	}

	next, err := sched.ComputeNextState(memory, rating, elapsed, sched.Params().DesiredRetention)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule review: %w", err)
	}

	if card.Memory.LearningState == schema.StateReview && rating == fsrs.Again {
		card.Memory.Lapses++
	}
	card.Memory.LearningState = advanceLearningState(card.Memory.LearningState, rating)
	card.Memory.Stability = next.Memory.Stability
	card.Memory.Difficulty = next.Memory.Difficulty

	due := now.AddDate(0, 0, next.Interval).UTC()
	last := now.UTC()
	card.Memory.NextReviewAt = &due
	card.Memory.LastReviewAt = &last

	card.TotalReviews++
	if rating != fsrs.Again {
		card.CorrectReviews++
	}
	card.ModifiedAt = now.UTC()

	if err := s.applyLogged(ctx, schema.TableCards, card.ID, schema.OpPut, card.Row()); err != nil {
		return nil, err
	}
	return &ReviewResult{Card: card, Interval: next.Interval}, nil
}

// advanceLearningState moves a card from new through learning to review.
// A lapse from review drops the card into relearning.
func advanceLearningState(state schema.LearningState, rating fsrs.Rating) schema.LearningState {
	switch state {
	case schema.StateNew:
		if rating == fsrs.Easy {
			return schema.StateReview
		}
		return schema.StateLearning
	case schema.StateLearning, schema.StateRelearning:
		if rating >= fsrs.Good {
			return schema.StateReview
		}
		return state
	case schema.StateReview:
		if rating == fsrs.Again {
			return schema.StateRelearning
		}
	}
	return state
}

// elapsedDays returns whole days between the last review and now, clamped at
// zero. Sub-day gaps count as a same-day review.
func elapsedDays(last *time.Time, now time.Time) float64 {
	if last == nil {
		return 0
	}
	days := now.Sub(*last).Hours() / 24
	if days < 0 {
		return 0
	}
	return math.Floor(days)
}
