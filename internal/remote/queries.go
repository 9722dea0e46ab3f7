package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leitnerhq/leitner/internal/schema"
)

// Select returns the current remote rows for the given ids, keyed by id.
// Ids with no remote row are simply absent from the result; the caller
// treats absence as "no conflict possible".
func (c *Client) Select(ctx context.Context, table string, ids []string) (map[string]schema.Row, error) {
	cols, err := schema.Columns(table)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]schema.Row{}, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id IN (%s)",
		strings.Join(cols, ", "), table, placeholders(len(ids)))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from remote %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]schema.Row, len(ids))
	for rows.Next() {
		r, err := schema.ScanRow(cols, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote %s row: %w", table, err)
		}
		out[r.String("id")] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote %s: %w", table, err)
	}
	return out, nil
}

// ChangedSince returns the owner's rows modified strictly after since,
// oldest first. The pull routine advances its watermark from the result.
func (c *Client) ChangedSince(ctx context.Context, table string, since time.Time) ([]schema.Row, error) {
	cols, err := schema.Columns(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE owner_id = ? AND modified_at > ? ORDER BY modified_at ASC, id ASC",
		strings.Join(cols, ", "), table)

	rows, err := c.db.QueryContext(ctx, query, c.ownerID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query remote %s changes: %w", table, err)
	}
	defer rows.Close()

	var out []schema.Row
	for rows.Next() {
		r, err := schema.ScanRow(cols, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote %s row: %w", table, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote %s changes: %w", table, err)
	}
	return out, nil
}

// UpsertBatch writes all rows in a single statement that succeeds or fails
// as a unit. The server stamps modified_at on every written row; any client
// value for it is ignored.
func (c *Client) UpsertBatch(ctx context.Context, table string, rows []schema.Row) error {
	cols, err := schema.Columns(table)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	// One VALUES tuple per row, with modified_at as a server expression.
	tuple := make([]string, len(cols))
	for i, col := range cols {
		if col == "modified_at" {
			tuple[i] = serverNow
		} else {
			tuple[i] = "?"
		}
	}
	tupleSQL := "(" + strings.Join(tuple, ", ") + ")"

	values := make([]string, len(rows))
	var args []any
	for i, row := range rows {
		values[i] = tupleSQL
		for _, col := range cols {
			if col == "modified_at" {
				continue
			}
			args = append(args, row[col])
		}
	}

	sets := make([]string, 0, len(cols)-1)
	for _, col := range cols[1:] {
		if col == "modified_at" {
			sets = append(sets, "modified_at = "+serverNow)
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT(id) DO UPDATE SET %s",
		table,
		strings.Join(cols, ", "),
		strings.Join(values, ", "),
		strings.Join(sets, ", "),
	)

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %d rows to remote %s: %w", len(rows), table, err)
	}
	return nil
}

// Update applies a partial update to one remote record. Unknown columns are
// rejected as an invalid payload; the server stamps modified_at.
func (c *Client) Update(ctx context.Context, table, id string, fields schema.Row) error {
	cols, err := schema.Columns(table)
	if err != nil {
		return err
	}

	allowed := make(map[string]bool, len(cols))
	for _, col := range cols[1:] {
		allowed[col] = true
	}

	var sets []string
	var args []any
	for _, col := range cols[1:] {
		// The client's own stamp is ignored; the server writes its clock.
		if col == "modified_at" || !fields.Has(col) {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, fields[col])
	}
	for key := range fields {
		if key != "modified_at" && !allowed[key] {
			return fmt.Errorf("%w: unknown column %q for table %s", ErrInvalidPayload, key, table)
		}
	}
	if len(sets) == 0 {
		return fmt.Errorf("%w: patch for %s/%s has no columns", ErrInvalidPayload, table, id)
	}

	sets = append(sets, "modified_at = "+serverNow)
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update remote %s/%s: %w", table, id, err)
	}
	return nil
}

// Delete removes one remote record. Deleting a record that is already gone
// is not an error.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	if _, err := schema.Columns(table); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)
	if _, err := c.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete remote %s/%s: %w", table, id, err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
