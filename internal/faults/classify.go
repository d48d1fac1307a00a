package faults

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// resourceCode maps context errors onto resource codes.
func resourceCode(err error) (Code, bool) {
	switch {
	case errors.Is(err, context.Canceled):
		return CodeCancelled, true
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded, true
	}
	return "", false
}

// IsTransient reports whether err looks like a transient external failure:
// gRPC unavailability, timeouts, connection resets. Transient errors are
// retried by adapters; everything else fails fast.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Never retry caller cancellation.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
			return true
		case codes.OK:
			// status.FromError returns ok for non-grpc errors too; fall
			// through to the network checks.
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}

// FromContextErr converts a context error into a resource Fault, passing
// other errors through unchanged.
func FromContextErr(err error) error {
	if err == nil {
		return nil
	}
	if code, ok := resourceCode(err); ok {
		return Wrap(err, CategoryResource, code, "operation aborted")
	}
	return err
}
