package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leitnerhq/leitner/internal/schema"
)

// The mutation log is single-writer on both ends: only the CRUD methods in
// this package append entries, and only the sync engine's drain removes them
// through Batch.Complete.

// applyLogged runs a local write and its mutation-log append in one
// transaction, then notifies watchers. Delete operations pass a nil payload.
func (s *Store) applyLogged(ctx context.Context, table, id string, kind schema.OpKind, payload schema.Row) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	switch kind {
	case schema.OpPut:
		if err := upsertRow(ctx, tx, table, payload); err != nil {
			return err
		}
	case schema.OpPatch:
		if err := updateColumns(ctx, tx, table, id, payload); err != nil {
			return err
		}
	case schema.OpDelete:
		query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", table, id, err)
		}
	default:
		return fmt.Errorf("unknown operation kind %q", kind)
	}

	if err := appendOp(ctx, tx, table, id, kind, payload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.notify(Change{Table: table, ID: id, Op: kind})
	return nil
}

func appendOp(ctx context.Context, ex execer, table, id string, kind schema.OpKind, payload schema.Row) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal op payload: %w", err)
	}

	query := `
	INSERT INTO mutation_log (table_name, record_id, op, payload, created_at)
	VALUES (?, ?, ?, ?, ?)
	`
	_, err = ex.ExecContext(ctx, query,
		table, id, string(kind), string(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append mutation log entry: %w", err)
	}
	return nil
}

// Batch is a snapshot of the pending-operation queue, taken by MutationBatch
// and settled through Complete.
type Batch struct {
	// Operations in drain order (ascending queue position).
	Operations []schema.PendingOp

	store *Store
}

// MutationBatch snapshots the pending-operation queue in drain order.
// Operations committed after the snapshot are left for the next drain.
func (s *Store) MutationBatch(ctx context.Context) (*Batch, error) {
	query := `
	SELECT position, table_name, record_id, op, payload, created_at
	FROM mutation_log
	ORDER BY position ASC
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read mutation log: %w", err)
	}
	defer rows.Close()

	batch := &Batch{store: s}
	for rows.Next() {
		var op schema.PendingOp
		var kind, payload string
		var created int64
		if err := rows.Scan(&op.Position, &op.Table, &op.RecordID, &kind, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan mutation log entry: %w", err)
		}
		op.Kind = schema.OpKind(kind)
		op.CreatedAt = time.UnixMilli(created).UTC()
		if payload != "" && payload != "null" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &op.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload at position %d: %w", op.Position, err)
			}
		}
		batch.Operations = append(batch.Operations, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutation log: %w", err)
	}
	return batch, nil
}

// Complete permanently removes settled operations from the mutation log.
// Settlement is irrevocable: a removed operation is never re-uploaded, whether
// the remote accepted it or its failure went to the error queue.
func (b *Batch) Complete(ctx context.Context, positions ...int64) error {
	if len(positions) == 0 {
		return nil
	}
	args := make([]any, len(positions))
	for i, p := range positions {
		args[i] = p
	}
	query := fmt.Sprintf("DELETE FROM mutation_log WHERE position IN (%s)", placeholders(len(positions)))
	if _, err := b.store.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to settle mutation log entries: %w", err)
	}
	return nil
}

// PendingCount returns the number of queued operations.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM mutation_log").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

// HasPending reports whether the record has queued local operations. The
// pull routine skips such records; the next drain resolves them instead.
func (s *Store) HasPending(ctx context.Context, table, id string) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mutation_log WHERE table_name = ? AND record_id = ?",
		table, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pending operations: %w", err)
	}
	return count > 0, nil
}

// ApplyRemote writes a record that originated remotely. The write bypasses
// the mutation log: applying a pulled or merged row must never queue it for
// re-upload.
func (s *Store) ApplyRemote(ctx context.Context, table string, row schema.Row) error {
	id := row.String("id")
	if id == "" {
		return fmt.Errorf("remote %s row has no id", table)
	}
	if err := upsertRow(ctx, s.conn, table, row); err != nil {
		return err
	}
	s.notify(Change{Table: table, ID: id, Op: schema.OpPut})
	return nil
}

// Requeue appends a fresh operation carrying the record's current state: a
// put when the record exists, a delete when it is gone. Retrying a failed
// upload goes through here because the original operation was settled; the
// retry unit is the record's live state, not the old request payload.
func (s *Store) Requeue(ctx context.Context, table, id string) error {
	row, err := s.getRow(ctx, table, id)
	switch {
	case err == nil:
		return s.appendOnly(ctx, table, id, schema.OpPut, row)
	case errors.Is(err, ErrNotFound):
		return s.appendOnly(ctx, table, id, schema.OpDelete, nil)
	default:
		return err
	}
}

func (s *Store) appendOnly(ctx context.Context, table, id string, kind schema.OpKind, payload schema.Row) error {
	if err := appendOp(ctx, s.conn, table, id, kind, payload); err != nil {
		return err
	}
	s.notify(Change{Table: table, ID: id, Op: kind})
	return nil
}
