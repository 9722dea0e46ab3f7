// Package store implements the local flashcard database.
//
// The store is the authoritative copy of all user data. Reads and writes from
// the UI-facing side run synchronously against embedded SQLite and never touch
// the network; the mutation log is the only coupling point between "local
// write" and "eventually uploaded".
//
// The database runs in EMBEDDED mode (ncruces/go-sqlite3, no cgo) with WAL
// for concurrency support.
//
// Architecture:
//   - Record tables: decks, cards, media (one row per synced record)
//   - mutation_log: durable queue of local writes awaiting upload
//   - conflict_log, sync_history: audit trails written by the sync engine
//   - sync_meta: engine bookkeeping such as the pull watermark
//   - Timestamps: unix milliseconds, compared numerically during conflict
//     resolution
//
// Write path:
//  1. A CRUD method validates the record and opens a transaction
//  2. The record row and a mutation-log entry commit together
//  3. Watchers are notified after commit
//  4. The sync engine drains the mutation log on its own schedule
//
// Deck and card references are weak: a card may point at a deck that no
// longer exists, so no foreign keys are declared. Orphaned cards surface in
// the unfiled bucket instead of failing.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a record lookup matches nothing.
var ErrNotFound = errors.New("record not found")

// Store wraps the embedded SQLite connection.
type Store struct {
	conn *sql.DB
	path string

	mu     sync.Mutex
	subs   map[chan Change]struct{}
	closed bool
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL so readers are never
// blocked by the sync engine's writes. If the database doesn't exist it is
// created; call InitSchema before first use.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	db, err := store.Open("~/.leitner/leitner.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
		subs: make(map[chan Change]struct{}),
	}

	// Enable WAL mode for concurrent reads
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection and all watch channels.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for sub := range s.subs {
			close(sub)
		}
		s.subs = nil
	}
	s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	ddl := `
	-- Record tables. Timestamps are unix milliseconds. deck_id and parent_id
	-- are weak references (orphans are legal), so no foreign keys.
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

		-- FSRS memory state; merged as a group on conflict
		stability REAL NOT NULL DEFAULT 0,
		difficulty REAL NOT NULL DEFAULT 0,
		learning_state TEXT NOT NULL DEFAULT 'new',
		lapses INTEGER NOT NULL DEFAULT 0,
		next_review_at INTEGER,
		last_review_at INTEGER,

		-- Monotonic counters; merged by component-wise max
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

	-- Durable queue of local writes not yet confirmed by the remote backend.
	-- AUTOINCREMENT keeps queue positions stable and never reused, which is
	-- what makes drain order and settlement bookkeeping reliable.
	CREATE TABLE IF NOT EXISTS mutation_log (
		position INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		op TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);

	-- Audit trails written by the sync engine.
	CREATE TABLE IF NOT EXISTS conflict_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		resolution TEXT NOT NULL,
		occurred_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		op TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		occurred_at INTEGER NOT NULL
	);

	-- Engine bookkeeping (pull watermark and the like).
	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_decks_parent ON decks(parent_id);
	CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck_id);
	CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(next_review_at);
	CREATE INDEX IF NOT EXISTS idx_cards_state ON cards(learning_state);
	CREATE INDEX IF NOT EXISTS idx_media_address ON media(content_address);
	CREATE INDEX IF NOT EXISTS idx_mutation_record ON mutation_log(table_name, record_id);
	CREATE INDEX IF NOT EXISTS idx_history_at ON sync_history(occurred_at);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
