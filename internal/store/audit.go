package store

import (
	"context"
	"fmt"
	"time"

	"github.com/leitnerhq/leitner/internal/schema"
)

// History outcomes.
const (
	HistoryOK      = "ok"
	HistoryFailed  = "failed"
	HistoryDropped = "dropped"
)

// HistoryEntry is one upload-pipeline outcome, kept for inspection.
// Non-retryable failures dropped from the active error queue live on here.
type HistoryEntry struct {
	ID       int64
	Table    string
	RecordID string
	Op       schema.OpKind
	Outcome  string
	Detail   string
	At       time.Time
}

// RecordHistory appends an entry to the sync history.
func (s *Store) RecordHistory(ctx context.Context, h HistoryEntry) error {
	at := h.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	query := `
	INSERT INTO sync_history (table_name, record_id, op, outcome, detail, occurred_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		h.Table, h.RecordID, string(h.Op), h.Outcome, h.Detail, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record sync history: %w", err)
	}
	return nil
}

// ListHistory returns the most recent history entries, newest first.
// limit 0 means no limit.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := `
	SELECT id, table_name, record_id, op, outcome, detail, occurred_at
	FROM sync_history
	ORDER BY id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var op string
		var at int64
		if err := rows.Scan(&h.ID, &h.Table, &h.RecordID, &op, &h.Outcome, &h.Detail, &at); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		h.Op = schema.OpKind(op)
		h.At = time.UnixMilli(at).UTC()
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync history: %w", err)
	}
	return entries, nil
}

// ClearFailures deletes every failed and dropped history entry and returns
// how many were removed. Successful uploads stay on record.
func (s *Store) ClearFailures(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM sync_history WHERE outcome != ?", HistoryOK)
	if err != nil {
		return 0, fmt.Errorf("failed to clear sync failures: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared failures: %w", err)
	}
	return int(n), nil
}

// RecordConflict appends an entry to the conflict audit trail.
// The trail is write-only for the engine; it is never consulted for merges.
func (s *Store) RecordConflict(ctx context.Context, c schema.ConflictRecord) error {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	query := `
	INSERT INTO conflict_log (table_name, record_id, resolution, occurred_at)
	VALUES (?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query, c.Table, c.RecordID, c.Resolution, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}
	return nil
}

// ListConflicts returns the most recent conflict records, newest first.
// limit 0 means no limit.
func (s *Store) ListConflicts(ctx context.Context, limit int) ([]schema.ConflictRecord, error) {
	query := `
	SELECT table_name, record_id, resolution, occurred_at
	FROM conflict_log
	ORDER BY id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict log: %w", err)
	}
	defer rows.Close()

	var conflicts []schema.ConflictRecord
	for rows.Next() {
		var c schema.ConflictRecord
		var at int64
		if err := rows.Scan(&c.Table, &c.RecordID, &c.Resolution, &at); err != nil {
			return nil, fmt.Errorf("failed to scan conflict record: %w", err)
		}
		c.At = time.UnixMilli(at).UTC()
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflict log: %w", err)
	}
	return conflicts, nil
}
