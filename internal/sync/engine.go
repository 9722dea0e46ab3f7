package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/store"
)

// Backend is the remote surface the engine drives during a sync cycle.
// *remote.Client satisfies it; tests substitute in-memory fakes.
type Backend interface {
	Select(ctx context.Context, table string, ids []string) (map[string]schema.Row, error)
	ChangedSince(ctx context.Context, table string, since time.Time) ([]schema.Row, error)
	UpsertBatch(ctx context.Context, table string, rows []schema.Row) error
	Update(ctx context.Context, table, id string, fields schema.Row) error
	Delete(ctx context.Context, table, id string) error
	Close() error
}

// Connector establishes a remote session. The engine connects once per sync
// cycle and closes the backend when the cycle ends, so credentials are
// re-read on every cycle and a revoked token surfaces at the next connect.
type Connector func(ctx context.Context) (Backend, error)

// Config bounds the engine's error queue and retry behavior.
type Config struct {
	// MaxErrors caps the error queue. The oldest entry is evicted when a
	// new failure arrives at capacity.
	MaxErrors int

	// MaxRetries is the automatic retry budget per error.
	MaxRetries int

	// RetryBase is the delay before the first automatic retry. It
	// doubles after every failed attempt.
	RetryBase time.Duration
}

// DefaultConfig returns the retry policy used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		MaxErrors:  50,
		MaxRetries: 5,
		RetryBase:  2 * time.Second,
	}
}

// Engine owns the upload pipeline, the pull routine, the sync state
// machine, and the error queue. Local reads and writes never wait on it:
// the engine's only coupling to the rest of the application is the mutation
// log it drains and the remote rows it writes back.
type Engine struct {
	store   *store.Store
	connect Connector
	cfg     Config
	logger  *log.Logger

	tracker *Tracker
	queue   *ErrorQueue
}

// DrainResult summarizes one drain of the mutation log.
type DrainResult struct {
	// Total is the number of operations in the drained batch.
	Total int
	// Uploaded counts operations the remote accepted.
	Uploaded int
	// Failed counts operations whose failure went to the error queue or,
	// for validation failures, straight to history.
	Failed int
	// Conflicts counts records that were merged against a newer remote
	// copy. Conflicts are resolved, not failed.
	Conflicts int
}

// New creates a sync engine over the local store. Zero cfg fields take
// defaults. If logger is nil, logs go to stderr.
func New(st *store.Store, connect Connector, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	def := DefaultConfig()
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = def.MaxErrors
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}

	e := &Engine{
		store:   st,
		connect: connect,
		cfg:     cfg,
		logger:  logger,
		tracker: newTracker(),
	}
	e.queue = newErrorQueue(cfg, e.retryFlush, e.tracker, logger)
	return e
}

// Tracker returns the sync state machine for subscription and display.
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// Status returns a snapshot of the sync state machine.
func (e *Engine) Status() Status {
	return e.tracker.Status()
}

// Queue returns the error queue for inspection, retry, and dismissal.
func (e *Engine) Queue() *ErrorQueue {
	return e.queue
}

// Close cancels all retry tasks and waits for them. Call before closing the
// store the engine was built over.
func (e *Engine) Close() {
	e.queue.Close()
}

// Drain uploads the pending mutation batch: snapshot the log, resolve each
// put against the remote copy, push everything, and settle every operation
// exactly once. Operations committed while the drain runs wait for the next
// one. Draining an empty log is a no-op that touches neither the remote nor
// the phase, so a terminal Completed or Failed state stands.
//
// The returned error reports a failure to snapshot the log or to reach the
// backend. Per-operation upload failures are counted in the result and
// routed to the error queue instead.
func (e *Engine) Drain(ctx context.Context) (DrainResult, error) {
	batch, err := e.store.MutationBatch(ctx)
	if err != nil {
		return DrainResult{}, err
	}
	if len(batch.Operations) == 0 {
		return DrainResult{}, nil
	}

	e.tracker.toConnecting()
	backend, err := e.connect(ctx)
	if err != nil {
		connErr := fmt.Errorf("connect: %w", err)
		e.report(newSyncError("", "", "", connErr))
		e.tracker.toFailed(connErr)
		return DrainResult{Total: len(batch.Operations)}, connErr
	}
	defer backend.Close()

	res, lastErr := e.drainBatch(ctx, backend, batch)
	if lastErr != nil {
		e.tracker.toFailed(lastErr)
	} else {
		e.tracker.toCompleted(time.Now())
	}
	e.logger.Printf("Drained %d operations: %d uploaded, %d failed, %d conflicts resolved",
		res.Total, res.Uploaded, res.Failed, res.Conflicts)
	return res, nil
}

// Sync runs one full cycle: drain pending uploads, then pull remote
// changes. The cycle connects once and moves the phase through Connecting,
// Uploading, Downloading, and a terminal Completed or Failed.
func (e *Engine) Sync(ctx context.Context) (DrainResult, PullResult, error) {
	batch, err := e.store.MutationBatch(ctx)
	if err != nil {
		return DrainResult{}, PullResult{}, err
	}

	e.tracker.toConnecting()
	backend, err := e.connect(ctx)
	if err != nil {
		connErr := fmt.Errorf("connect: %w", err)
		e.report(newSyncError("", "", "", connErr))
		e.tracker.toFailed(connErr)
		return DrainResult{Total: len(batch.Operations)}, PullResult{}, connErr
	}
	defer backend.Close()

	var drainRes DrainResult
	var lastErr error
	if len(batch.Operations) > 0 {
		drainRes, lastErr = e.drainBatch(ctx, backend, batch)
	}

	pullRes, pullErr := e.pull(ctx, backend)
	if pullErr != nil {
		lastErr = pullErr
	}

	if lastErr != nil {
		e.tracker.toFailed(lastErr)
	} else {
		e.tracker.toCompleted(time.Now())
	}
	return drainRes, pullRes, pullErr
}

// drainBatch pushes one snapshot of the mutation log. Puts are grouped per
// table and uploaded as batches; patches and deletes apply individually in
// log order. Returns the last failure for the terminal phase transition.
func (e *Engine) drainBatch(ctx context.Context, backend Backend, batch *store.Batch) (DrainResult, error) {
	res := DrainResult{Total: len(batch.Operations)}
	e.tracker.toUploading(res.Total)

	puts := make(map[string][]schema.PendingOp)
	var serial []schema.PendingOp
	for _, op := range batch.Operations {
		if op.Kind == schema.OpPut {
			puts[op.Table] = append(puts[op.Table], op)
		} else {
			serial = append(serial, op)
		}
	}

	var lastErr error
	for _, table := range schema.SyncedTables {
		ops := puts[table]
		if len(ops) == 0 {
			continue
		}
		if err := e.uploadTable(ctx, backend, batch, table, ops, &res); err != nil {
			lastErr = err
		}
	}

	for _, op := range serial {
		if err := e.uploadSingle(ctx, backend, batch, op, &res); err != nil {
			lastErr = err
		}
	}
	return res, lastErr
}

// uploadTable pushes one table's put batch: fetch the remote copies in a
// single round trip, resolve each record, then upsert the lot. The
// multi-row upsert succeeds or fails as a unit, so a failure settles every
// operation in the batch behind a single error.
func (e *Engine) uploadTable(ctx context.Context, backend Backend, batch *store.Batch, table string, ops []schema.PendingOp, res *DrainResult) error {
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.RecordID
	}

	remoteRows, err := backend.Select(ctx, table, ids)
	if err != nil {
		return e.failTable(ctx, batch, table, ops, res,
			fmt.Errorf("fetch remote %s rows: %w", table, err))
	}

	rows := make([]schema.Row, 0, len(ops))
	for _, op := range ops {
		out := Resolve(table, op.Payload, remoteRows[op.RecordID])
		if out.Conflict() {
			res.Conflicts++
			e.logger.Printf("Resolved conflict on %s/%s: %s", table, op.RecordID, out.Tag)
			if err := e.store.RecordConflict(ctx, schema.ConflictRecord{
				Table:      table,
				RecordID:   op.RecordID,
				Resolution: out.Tag,
			}); err != nil {
				return err
			}
			if out.ChangedLocal {
				// Write the merged row back so this device converges
				// on what is about to be uploaded. The write bypasses
				// the mutation log.
				if err := e.store.ApplyRemote(ctx, table, out.Merged); err != nil {
					return err
				}
			}
		}
		rows = append(rows, out.Merged)
	}

	if err := backend.UpsertBatch(ctx, table, rows); err != nil {
		return e.failTable(ctx, batch, table, ops, res,
			fmt.Errorf("upsert %d %s rows: %w", len(rows), table, err))
	}

	positions := make([]int64, len(ops))
	for i, op := range ops {
		positions[i] = op.Position
	}
	if err := batch.Complete(ctx, positions...); err != nil {
		return err
	}
	for _, op := range ops {
		e.tracker.opDone()
		e.recordHistory(ctx, op, store.HistoryOK, "")
	}
	res.Uploaded += len(ops)
	return nil
}

// failTable settles every operation in a failed table batch behind one
// classified error. The records stay dirty locally; a retry re-queues their
// live state rather than replaying the settled operations.
func (e *Engine) failTable(ctx context.Context, batch *store.Batch, table string, ops []schema.PendingOp, res *DrainResult, cause error) error {
	positions := make([]int64, len(ops))
	ids := make([]string, len(ops))
	for i, op := range ops {
		positions[i] = op.Position
		ids[i] = op.RecordID
	}
	if err := batch.Complete(ctx, positions...); err != nil {
		return err
	}

	serr := newBatchError(table, ids, cause)
	outcome := store.HistoryFailed
	if Class(serr.Class) == ClassValidation {
		outcome = store.HistoryDropped
	}
	for _, op := range ops {
		e.recordHistory(ctx, op, outcome, cause.Error())
	}
	res.Failed += len(ops)
	e.report(serr)
	return cause
}

// uploadSingle applies one patch or delete. Failures are classified
// independently of every other operation in the drain.
func (e *Engine) uploadSingle(ctx context.Context, backend Backend, batch *store.Batch, op schema.PendingOp, res *DrainResult) error {
	var err error
	switch op.Kind {
	case schema.OpPatch:
		err = backend.Update(ctx, op.Table, op.RecordID, op.Payload)
	case schema.OpDelete:
		err = backend.Delete(ctx, op.Table, op.RecordID)
	default:
		err = fmt.Errorf("unknown operation kind %q", op.Kind)
	}

	if settleErr := batch.Complete(ctx, op.Position); settleErr != nil {
		return settleErr
	}
	if err != nil {
		serr := newSyncError(op.Table, op.RecordID, op.Kind, err)
		outcome := store.HistoryFailed
		if Class(serr.Class) == ClassValidation {
			outcome = store.HistoryDropped
		}
		e.recordHistory(ctx, op, outcome, err.Error())
		res.Failed++
		e.report(serr)
		return err
	}

	e.tracker.opDone()
	e.recordHistory(ctx, op, store.HistoryOK, "")
	res.Uploaded++
	return nil
}

// report routes a classified failure. Validation failures skip the queue:
// an unchanged payload cannot be accepted later, so only the history entry
// remains. Everything else queues for retry or inspection.
func (e *Engine) report(serr schema.SyncError) {
	if Class(serr.Class) == ClassValidation {
		e.logger.Printf("Dropping invalid %s: %s", serr.Describe(), serr.Message)
		return
	}
	e.queue.Report(serr)
}

// retryFlush is the error queue's retry hook. The settled operations behind
// an error are gone from the log, so the retry re-queues each record's
// current state and runs a fresh drain. Connection errors carry no records:
// their operations never settled and are still queued.
func (e *Engine) retryFlush(ctx context.Context, errs []schema.SyncError) error {
	seen := make(map[string]bool)
	for _, serr := range errs {
		records := serr.Records
		if serr.RecordID != "" {
			records = append(records, serr.RecordID)
		}
		for _, id := range records {
			if serr.Table == "" || id == "" {
				continue
			}
			key := serr.Table + "/" + id
			if seen[key] {
				continue
			}
			seen[key] = true
			if err := e.store.Requeue(ctx, serr.Table, id); err != nil {
				return err
			}
		}
	}

	res, err := e.Drain(ctx)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d operations failed", res.Failed, res.Total)
	}
	return nil
}

func (e *Engine) recordHistory(ctx context.Context, op schema.PendingOp, outcome, detail string) {
	err := e.store.RecordHistory(ctx, store.HistoryEntry{
		Table:    op.Table,
		RecordID: op.RecordID,
		Op:       op.Kind,
		Outcome:  outcome,
		Detail:   detail,
	})
	if err != nil {
		e.logger.Printf("WARNING: Failed to record history for %s: %v", op.Describe(), err)
	}
}
