package schema

import (
	"fmt"

	"github.com/google/uuid"
)

// Table names shared by the local database and the remote mirror.
const (
	TableDecks = "decks"
	TableCards = "cards"
	TableMedia = "media"
)

// SyncedTables lists every table the sync engine uploads and downloads,
// in the order pulls are applied (parents before children).
var SyncedTables = []string{TableDecks, TableCards, TableMedia}

// tableColumns maps each synced table to its column list. Order matters:
// upserts and scans on both the local and remote side follow it, and the
// first column is always the primary key.
var tableColumns = map[string][]string{
	TableDecks: {
		"id", "owner_id", "parent_id", "name", "description",
		"created_at", "modified_at",
	},
	TableCards: {
		"id", "owner_id", "deck_id", "front", "back",
		"stability", "difficulty", "learning_state", "lapses",
		"next_review_at", "last_review_at",
		"total_reviews", "correct_reviews",
		"created_at", "modified_at",
	},
	TableMedia: {
		"id", "owner_id", "filename", "content_address", "size", "mime",
		"created_at", "modified_at",
	},
}

// Columns returns the column list for a synced table.
func Columns(table string) ([]string, error) {
	cols, ok := tableColumns[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return cols, nil
}

// NewID returns a fresh client-generated record identifier.
// Identity is stable across local and remote copies and never reused.
func NewID() string {
	return uuid.NewString()
}
