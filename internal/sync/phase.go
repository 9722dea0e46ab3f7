package sync

import (
	stdsync "sync"
	"time"
)

// Phase is one state of the sync state machine. Phases are flat and
// exclusive: the engine is in exactly one phase at any time, with no
// nested or overlapping states.
type Phase string

const (
	// PhaseIdle means no sync cycle has run yet.
	PhaseIdle Phase = "idle"

	// PhaseConnecting means a remote session is being established.
	PhaseConnecting Phase = "connecting"

	// PhaseUploading means the pending mutation batch is draining.
	PhaseUploading Phase = "uploading"

	// PhaseDownloading means remote changes are being pulled.
	PhaseDownloading Phase = "downloading"

	// PhaseCompleted means the last cycle finished with no failures.
	PhaseCompleted Phase = "completed"

	// PhaseFailed means the last cycle recorded at least one failure.
	// Failed is not sticky: the next cycle moves to Connecting as usual.
	PhaseFailed Phase = "failed"
)

// Status is a snapshot of the sync state machine.
type Status struct {
	Phase Phase `json:"phase"`

	// Uploaded and Total report drain progress: operations settled
	// successfully out of the batch the current drain started with.
	Uploaded int `json:"uploaded"`
	Total    int `json:"total"`

	// Error is the message that drove the last transition to Failed.
	Error string `json:"error,omitempty"`

	// LastSync is the wall time of the most recent Completed transition.
	// It survives later transitions.
	LastSync time.Time `json:"last_sync,omitzero"`

	// At is when the current phase was entered.
	At time.Time `json:"at"`
}

// Tracker holds the current sync status and fans out transitions to
// subscribers. Only the upload pipeline and the retry subsystem move the
// phase; everyone else observes through Status or Subscribe.
type Tracker struct {
	mu     stdsync.RWMutex
	status Status
	subs   map[chan Status]struct{}
}

func newTracker() *Tracker {
	return &Tracker{
		status: Status{Phase: PhaseIdle, At: time.Now().UTC()},
		subs:   make(map[chan Status]struct{}),
	}
}

// Status returns a snapshot of the current sync state.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Subscribe registers a channel that receives a status snapshot after every
// transition. Slow subscribers miss intermediate snapshots rather than
// blocking the pipeline.
func (t *Tracker) Subscribe() <-chan Status {
	ch := make(chan Status, 16)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel registered with Subscribe and closes it.
func (t *Tracker) Unsubscribe(ch <-chan Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subs {
		if (<-chan Status)(sub) == ch {
			delete(t.subs, sub)
			close(sub)
			return
		}
	}
}

func (t *Tracker) toConnecting() {
	t.transition(func(s *Status) {
		s.Phase = PhaseConnecting
		s.Uploaded = 0
		s.Total = 0
		s.Error = ""
	})
}

func (t *Tracker) toUploading(total int) {
	t.transition(func(s *Status) {
		s.Phase = PhaseUploading
		s.Uploaded = 0
		s.Total = total
	})
}

// opDone advances drain progress by one settled operation.
func (t *Tracker) opDone() {
	t.transition(func(s *Status) {
		if s.Phase == PhaseUploading {
			s.Uploaded++
		}
	})
}

func (t *Tracker) toDownloading() {
	t.transition(func(s *Status) {
		s.Phase = PhaseDownloading
	})
}

func (t *Tracker) toCompleted(at time.Time) {
	t.transition(func(s *Status) {
		s.Phase = PhaseCompleted
		s.Error = ""
		s.LastSync = at.UTC()
	})
}

func (t *Tracker) toFailed(err error) {
	t.transition(func(s *Status) {
		s.Phase = PhaseFailed
		if err != nil {
			s.Error = err.Error()
		}
	})
}

func (t *Tracker) transition(apply func(*Status)) {
	t.mu.Lock()
	apply(&t.status)
	t.status.At = time.Now().UTC()
	snapshot := t.status
	for sub := range t.subs {
		select {
		case sub <- snapshot:
		default:
		}
	}
	t.mu.Unlock()
}
