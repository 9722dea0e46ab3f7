package schema

import (
	"fmt"
	"time"
)

// OpKind is the kind of a pending mutation-log operation.
type OpKind string

const (
	// OpPut upserts a full record.
	OpPut OpKind = "put"

	// OpPatch updates a subset of a record's columns.
	OpPatch OpKind = "patch"

	// OpDelete removes a record.
	OpDelete OpKind = "delete"
)

// Valid reports whether k is a known operation kind.
func (k OpKind) Valid() bool {
	switch k {
	case OpPut, OpPatch, OpDelete:
		return true
	}
	return false
}

// PendingOp is one durable mutation-log entry: a local write that has not
// yet been confirmed by the remote backend.
//
// Lifecycle: created in the same transaction as the local write; removed only
// after the upload pipeline settles it, meaning the remote accepted it or the
// failure was recorded as a SyncError. The queue never re-uploads an entry the
// remote has already accepted.
type PendingOp struct {
	// Position is the stable queue position that determines drain order.
	Position int64 `json:"position"`

	Table    string `json:"table"`
	RecordID string `json:"record_id"`
	Kind     OpKind `json:"kind"`

	// Payload is the changed-field map for put and patch operations.
	Payload Row `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Describe returns a compact human-readable description of the operation.
func (op *PendingOp) Describe() string {
	return fmt.Sprintf("%s %s/%s", op.Kind, op.Table, op.RecordID)
}

// SyncError is a failed upload operation awaiting retry or inspection.
type SyncError struct {
	ID       string `json:"id"`
	Table    string `json:"table"`
	RecordID string `json:"record_id"`
	Op       OpKind `json:"op"`

	// Records lists every record behind a table-batch failure. Single-op
	// failures leave it empty and identify the record through RecordID.
	Records []string `json:"records,omitempty"`

	Message   string    `json:"message"`
	Class     string    `json:"class"`
	Retryable bool      `json:"retryable"`
	At        time.Time `json:"at"`

	// Attempts counts automatic retry attempts consumed so far.
	Attempts int `json:"attempts"`
}

// Describe returns a compact human-readable description of the failure.
func (e *SyncError) Describe() string {
	switch {
	case len(e.Records) > 0:
		return fmt.Sprintf("%s %s (%d records)", e.Op, e.Table, len(e.Records))
	case e.Table == "":
		return "connection"
	default:
		return fmt.Sprintf("%s %s/%s", e.Op, e.Table, e.RecordID)
	}
}

// ConflictRecord is one entry of the conflict audit trail. It records how a
// conflict was resolved and is never consulted for further merges.
type ConflictRecord struct {
	Table      string    `json:"table"`
	RecordID   string    `json:"record_id"`
	Resolution string    `json:"resolution"`
	At         time.Time `json:"at"`
}
