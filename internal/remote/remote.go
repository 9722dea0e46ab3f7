// Package remote implements the libSQL client for the hosted backend.
//
// The remote database is a mirror of the local record tables, reached over
// the Turso wire protocol. Only the sync engine talks to it: interactive
// reads and writes always go to the local store, and the engine uploads the
// mutation log and downloads changed rows on its own schedule.
//
// The remote is the timestamp authority. Every write statement stamps
// modified_at server-side; client clocks are never trusted, so two devices
// with skewed clocks still converge on one ordering.
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
)

var (
	// ErrUnauthorized marks authentication failures: missing session,
	// rejected token. Never retried automatically.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidPayload marks writes the remote rejected as malformed.
	// Non-retryable; the operation is dropped and recorded in history.
	ErrInvalidPayload = errors.New("invalid payload")
)

// serverNow is the SQL expression for the server-side unix-millisecond clock.
const serverNow = "CAST(unixepoch('subsec') * 1000 AS INTEGER)"

// Client is a connection to the remote backend.
type Client struct {
	db      *sql.DB
	ownerID string
}

// Connect opens and verifies a connection to the remote database.
//
// The ping doubles as the "Connecting" phase of a sync cycle: a failure here
// means the backend is unreachable and no upload is attempted.
func Connect(ctx context.Context, creds Credentials) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	dsn := creds.URL
	if creds.AuthToken != "" {
		dsn += "?authToken=" + creds.AuthToken
	}
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach remote database: %w", err)
	}
	db.SetMaxOpenConns(8)

	return NewClient(db, creds.OwnerID), nil
}

// NewClient wraps an established connection. Tests use this to point the
// client at an embedded database instead of a live backend.
func NewClient(db *sql.DB, ownerID string) *Client {
	return &Client{db: db, ownerID: ownerID}
}

// OwnerID returns the authenticated owner this client acts for.
func (c *Client) OwnerID() string {
	return c.ownerID
}

// Close releases the connection.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close remote connection: %w", err)
	}
	c.db = nil
	return nil
}

// EnsureSchema creates the record tables when they don't exist yet, so the
// first sync against a fresh database works without server-side setup.
// Idempotent.
func (c *Client) EnsureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS decks (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		parent_id TEXT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		modified_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		deck_id TEXT,
		front TEXT NOT NULL,
		back TEXT NOT NULL DEFAULT '',
		stability REAL NOT NULL DEFAULT 0,
		difficulty REAL NOT NULL DEFAULT 0,
		learning_state TEXT NOT NULL DEFAULT 'new',
		lapses INTEGER NOT NULL DEFAULT 0,
		next_review_at INTEGER,
		last_review_at INTEGER,
		total_reviews INTEGER NOT NULL DEFAULT 0,
		correct_reviews INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		modified_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS media (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		content_address TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		mime TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		modified_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decks_owner_modified ON decks(owner_id, modified_at);
	CREATE INDEX IF NOT EXISTS idx_cards_owner_modified ON cards(owner_id, modified_at);
	CREATE INDEX IF NOT EXISTS idx_media_owner_modified ON media(owner_id, modified_at);
	`

	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure remote schema: %w", err)
	}
	return nil
}
