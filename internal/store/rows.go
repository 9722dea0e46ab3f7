package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/leitnerhq/leitner/internal/schema"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// upsertRow writes a full row, replacing any existing record with the same id.
// Columns absent from the row are written as NULL.
func upsertRow(ctx context.Context, ex execer, table string, row schema.Row) error {
	cols, err := schema.Columns(table)
	if err != nil {
		return err
	}

	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = row[col]
	}

	sets := make([]string, 0, len(cols)-1)
	for _, col := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		table,
		strings.Join(cols, ", "),
		placeholders(len(cols)),
		strings.Join(sets, ", "),
	)

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %s row: %w", table, err)
	}
	return nil
}

// updateColumns applies a partial update. Only known columns may be patched;
// the primary key may not.
func updateColumns(ctx context.Context, ex execer, table, id string, fields schema.Row) error {
	cols, err := schema.Columns(table)
	if err != nil {
		return err
	}

	allowed := make(map[string]bool, len(cols))
	for _, col := range cols[1:] {
		allowed[col] = true
	}
	for key := range fields {
		if !allowed[key] {
			return fmt.Errorf("cannot patch column %q of table %s", key, table)
		}
	}

	var sets []string
	var args []any
	for _, col := range cols[1:] {
		if !fields.Has(col) {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, fields[col])
	}
	if len(sets) == 0 {
		return fmt.Errorf("patch for %s %s has no columns", table, id)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to patch %s %s: %w", table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

// getRow reads one record as a Row. NULL columns stay present with a nil
// value, matching the shape the record types' Row() methods produce.
func (s *Store) getRow(ctx context.Context, table, id string) (schema.Row, error) {
	cols, err := schema.Columns(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", strings.Join(cols, ", "), table)
	r, err := schema.ScanRow(cols, s.conn.QueryRowContext(ctx, query, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s: %w", table, id, err)
	}
	return r, nil
}

// queryRows runs a SELECT over a synced table. tail is the clause after the
// table name (WHERE/ORDER BY/LIMIT).
func (s *Store) queryRows(ctx context.Context, table, tail string, args ...any) ([]schema.Row, error) {
	cols, err := schema.Columns(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table)
	if tail != "" {
		query += " " + tail
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []schema.Row
	for rows.Next() {
		r, err := schema.ScanRow(cols, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
