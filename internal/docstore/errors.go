package docstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a document-store failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindRetryable covers rate limiting, transient server or network
	// failures and timeouts.
	KindRetryable
	KindValidation
	KindNotFound
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Error is a classified document-store failure.
type Error struct {
	Op     string
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("docstore %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("docstore %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error.
func Errorf(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool { return KindOf(err) == KindRetryable }

// IsNotFound reports whether the referenced record does not exist.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsValidation reports whether the store rejected the request's content.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return KindRetryable
	case status == http.StatusBadRequest,
		status == http.StatusUnprocessableEntity,
		status == http.StatusConflict:
		return KindValidation
	case status == http.StatusNotFound,
		status == http.StatusGone:
		return KindNotFound
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden:
		return KindAuth
	default:
		return KindUnknown
	}
}

// kindForTransport classifies an error returned before any response arrived.
// A canceled caller context is final; timeouts and network errors are not.
func kindForTransport(ctx context.Context, err error) Kind {
	if ctx.Err() != nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindRetryable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindRetryable
	}
	return KindUnknown
}
