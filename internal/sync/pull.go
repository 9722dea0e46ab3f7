package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/leitnerhq/leitner/internal/schema"
)

// PullResult summarizes one download pass.
type PullResult struct {
	// Applied counts remote rows written to the local store.
	Applied int
	// Skipped counts remote rows left alone because the record has
	// pending local operations. The next drain resolves those against
	// the server copy instead.
	Skipped int
}

// Pull downloads rows modified since the last pull watermark and applies
// them locally, parents before children so a deck lands before its cards.
// Pull failures flip the phase to Failed but never enter the error queue;
// the next scheduled cycle simply pulls again from the same watermark.
func (e *Engine) Pull(ctx context.Context) (PullResult, error) {
	e.tracker.toConnecting()
	backend, err := e.connect(ctx)
	if err != nil {
		connErr := fmt.Errorf("connect: %w", err)
		e.report(newSyncError("", "", "", connErr))
		e.tracker.toFailed(connErr)
		return PullResult{}, connErr
	}
	defer backend.Close()

	res, err := e.pull(ctx, backend)
	if err != nil {
		e.tracker.toFailed(err)
	} else {
		e.tracker.toCompleted(time.Now())
	}
	return res, err
}

// pull fetches changed rows table by table and advances the watermark to
// the newest server stamp seen. The watermark tracks server time, not local
// time, so clock skew between devices cannot hide changes.
func (e *Engine) pull(ctx context.Context, backend Backend) (PullResult, error) {
	e.tracker.toDownloading()

	var res PullResult
	since, err := e.store.LastPull(ctx)
	if err != nil {
		return res, err
	}

	mark := since
	for _, table := range schema.SyncedTables {
		rows, err := backend.ChangedSince(ctx, table, since)
		if err != nil {
			return res, fmt.Errorf("pull %s: %w", table, err)
		}
		for _, row := range rows {
			if stamp := row.Time("modified_at"); stamp.After(mark) {
				mark = stamp
			}
			id := row.String("id")
			if id == "" {
				e.logger.Printf("WARNING: Skipping remote %s row without id", table)
				continue
			}
			pending, err := e.store.HasPending(ctx, table, id)
			if err != nil {
				return res, err
			}
			if pending {
				res.Skipped++
				continue
			}
			if err := e.store.ApplyRemote(ctx, table, row); err != nil {
				return res, err
			}
			res.Applied++
		}
	}

	if mark.After(since) {
		if err := e.store.SetLastPull(ctx, mark); err != nil {
			return res, err
		}
	}
	if res.Applied > 0 || res.Skipped > 0 {
		e.logger.Printf("Pulled %d rows, skipped %d with pending local changes",
			res.Applied, res.Skipped)
	}
	return res, nil
}
