package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leitnerhq/leitner/internal/schema"
)

// CreateDeck inserts a deck and queues it for upload.
// Missing id and timestamps are filled in.
func (s *Store) CreateDeck(ctx context.Context, deck *schema.Deck) error {
	deck.SetDefaults()
	if err := deck.Validate(); err != nil {
		return fmt.Errorf("invalid deck: %w", err)
	}
	if err := s.checkCycle(ctx, deck.ID, deck.ParentID); err != nil {
		return err
	}
	return s.applyLogged(ctx, schema.TableDecks, deck.ID, schema.OpPut, deck.Row())
}

// UpdateDeck writes a full deck update and queues it for upload.
// ModifiedAt is stamped here; callers never set it themselves.
func (s *Store) UpdateDeck(ctx context.Context, deck *schema.Deck) error {
	deck.ModifiedAt = time.Now().UTC()
	if err := deck.Validate(); err != nil {
		return fmt.Errorf("invalid deck: %w", err)
	}
	if err := s.checkCycle(ctx, deck.ID, deck.ParentID); err != nil {
		return err
	}
	return s.applyLogged(ctx, schema.TableDecks, deck.ID, schema.OpPut, deck.Row())
}

// checkCycle rejects a parent assignment that would make the deck its own
// ancestor. The walk follows parent_id links upward; a dangling link ends it,
// since the orphaned subtree renders as a root and cannot loop back.
func (s *Store) checkCycle(ctx context.Context, deckID string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	seen := map[string]bool{deckID: true}
	next := *parentID
	for {
		if seen[next] {
			return fmt.Errorf("deck %s cannot be nested under %s: would create a cycle", deckID, *parentID)
		}
		seen[next] = true
		parent, err := s.GetDeck(ctx, next)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if parent.ParentID == nil {
			return nil
		}
		next = *parent.ParentID
	}
}

// DeleteDeck removes a deck and queues the deletion.
//
// Cards that referenced the deck keep their deck_id. The dangling reference
// is legal: those cards surface in the unfiled bucket until refiled.
func (s *Store) DeleteDeck(ctx context.Context, id string) error {
	return s.applyLogged(ctx, schema.TableDecks, id, schema.OpDelete, nil)
}

// GetDeck retrieves a single deck by id.
// Returns ErrNotFound if the deck doesn't exist.
func (s *Store) GetDeck(ctx context.Context, id string) (*schema.Deck, error) {
	r, err := s.getRow(ctx, schema.TableDecks, id)
	if err != nil {
		return nil, err
	}
	return schema.DeckFromRow(r), nil
}

// ListDecks returns all decks ordered by case-insensitive name.
func (s *Store) ListDecks(ctx context.Context) ([]*schema.Deck, error) {
	rows, err := s.queryRows(ctx, schema.TableDecks, "ORDER BY name COLLATE NOCASE ASC, id ASC")
	if err != nil {
		return nil, err
	}
	decks := make([]*schema.Deck, 0, len(rows))
	for _, r := range rows {
		decks = append(decks, schema.DeckFromRow(r))
	}
	return decks, nil
}

// CountDecks returns the total number of decks.
func (s *Store) CountDecks(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM decks").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count decks: %w", err)
	}
	return count, nil
}
