package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const metaLastPull = "last_pull_at"

// LastPull returns the download watermark: the latest remote modification
// time already applied locally. Returns the zero time when no pull has
// completed yet.
func (s *Store) LastPull(ctx context.Context) (time.Time, error) {
	value, ok, err := s.getMeta(ctx, metaLastPull)
	if err != nil || !ok {
		return time.Time{}, err
	}
	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt pull watermark %q: %w", value, err)
	}
	return time.UnixMilli(millis).UTC(), nil
}

// SetLastPull advances the download watermark.
func (s *Store) SetLastPull(ctx context.Context, t time.Time) error {
	return s.setMeta(ctx, metaLastPull, strconv.FormatInt(t.UnixMilli(), 10))
}

func (s *Store) getMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM sync_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read meta key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write meta key %s: %w", key, err)
	}
	return nil
}
