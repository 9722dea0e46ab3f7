// Package sync provides the engine that keeps the local study store and the
// remote backend converged.
package sync

import "context"

// Syncer drives sync cycles between the local store and the remote backend.
//
// The syncer never blocks local reads or writes: the application keeps
// working against the local store while cycles run, and every failure is
// absorbed by the error queue instead of propagating to the caller that
// made the original change.
//
// *Engine is the implementation.
type Syncer interface {
	// Sync runs one full cycle: drain pending uploads, then pull remote
	// changes. The phase moves through Connecting, Uploading and
	// Downloading before settling on Completed or Failed.
	//
	// The returned error covers connection and pull failures. Upload
	// failures are counted in the drain result and routed to the error
	// queue, where they retry on their own schedule.
	//
	// Example:
	//   drained, pulled, err := engine.Sync(ctx)
	Sync(ctx context.Context) (DrainResult, PullResult, error)

	// Drain uploads the pending mutation batch without pulling.
	//
	// The batch is snapshotted up front; operations committed during the
	// drain wait for the next one. Every snapshotted operation is
	// settled exactly once, success or failure. Draining an empty log is
	// a no-op that leaves the current phase untouched.
	//
	// Example:
	//   res, err := engine.Drain(ctx)
	Drain(ctx context.Context) (DrainResult, error)

	// Pull downloads rows modified since the last pull watermark and
	// applies them to the local store. Records with pending local
	// operations are skipped; the next drain resolves them against the
	// server copy instead.
	//
	// Example:
	//   res, err := engine.Pull(ctx)
	Pull(ctx context.Context) (PullResult, error)

	// Status returns a snapshot of the sync state machine.
	//
	// Example:
	//   if engine.Status().Phase == sync.PhaseFailed { ... }
	Status() Status

	// Queue returns the error queue for inspection, retry, and
	// dismissal. All mutation of queued errors goes through the queue's
	// own methods.
	Queue() *ErrorQueue

	// Close cancels all retry tasks and waits for them to stop. Call
	// before closing the local store.
	Close()
}

var _ Syncer = (*Engine)(nil)
