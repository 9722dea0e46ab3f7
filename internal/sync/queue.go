package sync

import (
	"context"
	"log"
	stdsync "sync"
	"time"

	"github.com/leitnerhq/leitner/internal/schema"
)

// FlushFunc re-uploads the state behind the given errors. The engine's
// implementation re-queues each record's current state and runs one drain;
// a nil return means the drain finished with no failed operations.
type FlushFunc func(ctx context.Context, errs []schema.SyncError) error

// ErrorQueue holds failed operations awaiting retry. The queue is bounded:
// when a new failure arrives at capacity, the oldest entry is evicted.
// Every retryable entry gets its own background retry task with exponential
// backoff and an attempt budget; once the budget is spent the entry stays
// queued for manual retry.
//
// All mutation goes through the queue's methods. Callers that display
// errors read snapshots via Errors.
type ErrorQueue struct {
	flush   FlushFunc
	tracker *Tracker
	logger  *log.Logger

	maxErrors  int
	maxRetries int
	retryBase  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup

	mu     stdsync.Mutex
	items  []*queuedError
	closed bool
}

type queuedError struct {
	err schema.SyncError

	// cancel stops the entry's active retry task. Nil while no task runs.
	cancel context.CancelFunc
}

func newErrorQueue(cfg Config, flush FlushFunc, tracker *Tracker, logger *log.Logger) *ErrorQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &ErrorQueue{
		flush:      flush,
		tracker:    tracker,
		logger:     logger,
		maxErrors:  cfg.MaxErrors,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Report adds a failure to the queue and, for retryable classes, starts its
// automatic retry task. At capacity the oldest entry is evicted first.
func (q *ErrorQueue) Report(serr schema.SyncError) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	for len(q.items) >= q.maxErrors {
		oldest := q.items[0]
		if oldest.cancel != nil {
			oldest.cancel()
		}
		q.items = q.items[1:]
		q.logger.Printf("Error queue full, evicting oldest: %s", oldest.err.Describe())
	}
	item := &queuedError{err: serr}
	q.items = append(q.items, item)
	if serr.Retryable {
		q.startTask(item, false)
	}
	q.mu.Unlock()

	q.logger.Printf("WARNING: Sync failed for %s: %s", serr.Describe(), serr.Message)
}

// Errors returns a snapshot of the queued failures, oldest first.
func (q *ErrorQueue) Errors() []schema.SyncError {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]schema.SyncError, len(q.items))
	for i, item := range q.items {
		out[i] = item.err
	}
	return out
}

// Len returns the number of queued failures.
func (q *ErrorQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Retry restarts the retry task for one queued failure with a fresh attempt
// budget and an immediate first attempt. It reports whether the id was
// found. Manual retry works on any class, including failures whose budget
// is spent and auth failures that never retry automatically.
func (q *ErrorQueue) Retry(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	for _, item := range q.items {
		if item.err.ID == id {
			if item.cancel != nil {
				item.cancel()
			}
			item.err.Attempts = 0
			q.startTask(item, true)
			return true
		}
	}
	return false
}

// RetryAll runs one bulk retry sweep over every queued failure. The sweep
// makes a single flush attempt covering all of them; failures that persist
// re-enter the queue through the normal reporting path.
func (q *ErrorQueue) RetryAll() {
	q.mu.Lock()
	if q.closed || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	errs := make([]schema.SyncError, len(q.items))
	for i, item := range q.items {
		errs[i] = item.err
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		q.logger.Printf("Retrying all %d queued errors", len(errs))
		if err := q.flush(q.ctx, errs); err != nil {
			q.logger.Printf("WARNING: Bulk retry failed: %v", err)
			return
		}
		for _, serr := range errs {
			q.remove(serr.ID)
		}
	}()
}

// Cancel stops the active retry task for one queued failure. The failure
// stays in the queue for inspection and manual retry.
func (q *ErrorQueue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.err.ID == id {
			if item.cancel != nil {
				item.cancel()
				item.cancel = nil
			}
			return true
		}
	}
	return false
}

// Clear drops every queued failure and stops their retry tasks.
func (q *ErrorQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.cancel != nil {
			item.cancel()
		}
	}
	q.items = nil
}

// Close stops all retry tasks and waits for them to finish. The queue
// rejects new reports afterwards.
func (q *ErrorQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

// startTask launches the retry loop for an entry. Callers hold q.mu.
func (q *ErrorQueue) startTask(item *queuedError, immediate bool) {
	ctx, cancel := context.WithCancel(q.ctx)
	item.cancel = cancel
	q.wg.Add(1)
	go q.runRetry(ctx, item, immediate)
}

// runRetry is the per-entry retry loop: wait out the backoff delay, attempt
// a flush, double the delay, repeat until the attempt budget is spent. A
// successful flush removes the entry; an exhausted budget leaves it queued.
func (q *ErrorQueue) runRetry(ctx context.Context, item *queuedError, immediate bool) {
	defer q.wg.Done()
	delay := q.retryBase
	for {
		q.mu.Lock()
		queued := q.contains(item)
		attempts := item.err.Attempts
		snapshot := item.err
		q.mu.Unlock()
		if !queued {
			return
		}
		if attempts >= q.maxRetries {
			q.logger.Printf("Giving up on %s after %d attempts, manual retry required",
				snapshot.Describe(), attempts)
			q.mu.Lock()
			item.cancel = nil
			q.mu.Unlock()
			return
		}

		if !immediate {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			delay *= 2
		}
		immediate = false
		if ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		item.err.Attempts++
		attempt := item.err.Attempts
		snapshot = item.err
		q.mu.Unlock()

		q.logger.Printf("Retrying %s (attempt %d/%d)", snapshot.Describe(), attempt, q.maxRetries)
		if err := q.flush(ctx, []schema.SyncError{snapshot}); err != nil {
			q.logger.Printf("WARNING: Retry of %s failed: %v", snapshot.Describe(), err)
			continue
		}
		q.remove(snapshot.ID)
		return
	}
}

// remove drops a resolved entry and, if that empties the queue, marks the
// sync state Completed: all known failures are flushed.
func (q *ErrorQueue) remove(id string) {
	q.mu.Lock()
	for i, item := range q.items {
		if item.err.ID == id {
			if item.cancel != nil {
				item.cancel()
				item.cancel = nil
			}
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	empty := len(q.items) == 0
	q.mu.Unlock()

	if empty && q.tracker != nil {
		q.tracker.toCompleted(time.Now())
	}
}

// contains reports whether the entry is still queued. Callers hold q.mu.
func (q *ErrorQueue) contains(item *queuedError) bool {
	for _, it := range q.items {
		if it == item {
			return true
		}
	}
	return false
}
