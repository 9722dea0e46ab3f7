package sync

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/leitnerhq/leitner/internal/remote"
	"github.com/leitnerhq/leitner/internal/schema"
)

// Class buckets a sync failure by how the engine responds to it.
type Class string

const (
	// ClassTransient covers network failures: timeouts, refused and reset
	// connections, unreachable hosts. Transient failures retry
	// automatically.
	ClassTransient Class = "transient"

	// ClassServer covers remote-side failures (5xx and kin). The fault is
	// not in the payload, so these retry automatically too.
	ClassServer Class = "server"

	// ClassAuth covers rejected or expired credentials. Auth failures stay
	// queued without automatic retries; they clear once the user signs in
	// again and retries by hand.
	ClassAuth Class = "auth"

	// ClassValidation covers payloads the server rejects as malformed.
	// Retrying an unchanged payload cannot succeed, so validation
	// failures never enter the retry queue. They remain visible in the
	// sync history.
	ClassValidation Class = "validation"

	// ClassUnknown is the fallback for errors nothing recognizes. Unknown
	// failures retry automatically; the attempt budget keeps the
	// optimistic default from retrying forever.
	ClassUnknown Class = "unknown"
)

// Retryable reports whether failures of this class retry automatically.
func (c Class) Retryable() bool {
	switch c {
	case ClassTransient, ClassServer, ClassUnknown:
		return true
	}
	return false
}

// Classify assigns a failure class to an error returned by the remote.
// Sentinel and typed errors decide first; everything else falls back on
// message inspection.
func Classify(err error) Class {
	if errors.Is(err, remote.ErrUnauthorized) {
		return ClassAuth
	}
	if errors.Is(err, remote.ErrInvalidPayload) {
		return ClassValidation
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "invalid token"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return ClassAuth
	case strings.Contains(msg, "constraint"),
		strings.Contains(msg, "malformed"),
		strings.Contains(msg, "datatype mismatch"),
		strings.Contains(msg, "no such column"):
		return ClassValidation
	case strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "status 5"):
		return ClassServer
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "unreachable"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "broken pipe"):
		return ClassTransient
	}
	return ClassUnknown
}

// newSyncError builds a classified SyncError for a single failed operation.
func newSyncError(table, recordID string, kind schema.OpKind, cause error) schema.SyncError {
	class := Classify(cause)
	return schema.SyncError{
		ID:        schema.NewID(),
		Table:     table,
		RecordID:  recordID,
		Op:        kind,
		Message:   cause.Error(),
		Class:     string(class),
		Retryable: class.Retryable(),
		At:        time.Now().UTC(),
	}
}

// newBatchError builds a classified SyncError covering a whole table batch.
// One error stands for the batch; the record ids ride along so a retry can
// re-queue each record's current state.
func newBatchError(table string, recordIDs []string, cause error) schema.SyncError {
	serr := newSyncError(table, "", schema.OpPut, cause)
	serr.Records = append([]string(nil), recordIDs...)
	return serr
}
