// Package sync implements the synchronization engine between the local
// study store and the remote backend.
//
// Overview
//
// The engine drains the store's mutation log to the remote, resolves
// conflicts against newer server copies, pulls remote changes back, and
// tracks the whole cycle in a small state machine. The rest of the
// application only ever touches the local store; sync runs behind it.
//
// Architecture
//
// Local writes queue operations; the engine uploads them and pulls what
// other devices wrote:
//
//	Local Store (SQLite)
//	     ├── decks/cards/media      ← reads and writes, never blocked
//	     └── mutation_log           → pending operations
//	                                      ↓
//	                                   Engine
//	                              drain ↓   ↑ pull
//	                                 Remote (libSQL)
//	                              (server stamps modified_at)
//
// Usage
//
// Basic usage:
//
//	st, err := store.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	connect := func(ctx context.Context) (sync.Backend, error) {
//	    creds, err := source.Load()
//	    if err != nil {
//	        return nil, err
//	    }
//	    return remote.Connect(ctx, creds)
//	}
//
//	engine := sync.New(st, connect, sync.DefaultConfig(), nil)
//	defer engine.Close()
//
//	drained, pulled, err := engine.Sync(ctx)
//
// Observing progress:
//
//	ch := engine.Tracker().Subscribe()
//	for status := range ch {
//	    fmt.Println(status.Phase)
//	}
//
// Error Handling
//
// Upload failures never propagate to the caller that made the original
// change:
//
//   - Transient failures queue and retry automatically with exponential
//     backoff; a spent budget leaves them queued for manual retry
//   - Auth failures queue without automatic retries until the user signs
//     in again
//   - Validation failures are dropped from the queue but stay visible in
//     the sync history
//
// Every failed operation is settled out of the mutation log when its error
// is recorded. A retry re-queues the record's current state and drains
// again; it never replays the original request payload.
//
// Concurrency
//
// The engine is safe for concurrent use:
//
//   - The state machine is written only by the upload pipeline and the
//     retry subsystem; everyone else reads snapshots or subscribes
//   - The error queue is mutated only through its own methods
//   - Retry tasks run independently and are cancelled by Close
package sync
