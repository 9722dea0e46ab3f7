package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/leitnerhq/leitner/internal/remote"
	"github.com/leitnerhq/leitner/internal/schema"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"auth sentinel", remote.ErrUnauthorized, ClassAuth},
		{"wrapped auth sentinel", fmt.Errorf("connect: %w", remote.ErrUnauthorized), ClassAuth},
		{"payload sentinel", fmt.Errorf("upsert: %w", remote.ErrInvalidPayload), ClassValidation},
		{"context deadline", context.DeadlineExceeded, ClassTransient},
		{"refused connection", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), ClassTransient},
		{"net error", &net.DNSError{Err: "lookup timed out", IsTimeout: true}, ClassTransient},
		{"auth message", errors.New("HTTP 401: invalid token"), ClassAuth},
		{"constraint message", errors.New("SQLite failure: NOT NULL constraint failed"), ClassValidation},
		{"server message", errors.New("remote returned status 503: service unavailable"), ClassServer},
		{"host message", errors.New("no such host"), ClassTransient},
		{"anything else", errors.New("boom"), ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestClass_Retryable(t *testing.T) {
	for _, c := range []Class{ClassTransient, ClassServer, ClassUnknown} {
		if !c.Retryable() {
			t.Errorf("%s should retry automatically", c)
		}
	}
	for _, c := range []Class{ClassAuth, ClassValidation} {
		if c.Retryable() {
			t.Errorf("%s should not retry automatically", c)
		}
	}
}

func TestNewBatchError_CarriesRecordIDs(t *testing.T) {
	serr := newBatchError("cards", []string{"c1", "c2"}, errors.New("upsert failed"))
	if serr.Table != "cards" || serr.Op != schema.OpPut {
		t.Errorf("batch error describes %s/%s, want cards put", serr.Table, serr.Op)
	}
	if len(serr.Records) != 2 || serr.Records[0] != "c1" || serr.Records[1] != "c2" {
		t.Errorf("batch error records = %v, want [c1 c2]", serr.Records)
	}
	if !serr.Retryable {
		t.Error("an upsert failure with no recognized cause should stay retryable")
	}
}
