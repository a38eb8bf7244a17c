package dependency

import (
	"context"
	"errors"
	"fmt"
	"net"

	"orderflow/internal/platform/breaker"
)

type Kind int

const (
	// KindBreakerOpen means the call was rejected before reaching the dependency.
	KindBreakerOpen Kind = iota + 1
	// KindTransport covers connection failures and deadline expiry.
	KindTransport
	// KindStatus means the dependency answered with a non-2xx status.
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindBreakerOpen:
		return "breaker open"
	case KindTransport:
		return "transport error"
	case KindStatus:
		return "non-success status"
	default:
		return "unknown"
	}
}

// Error describes a failed dependency call.
type Error struct {
	Dependency string
	Method     string
	Path       string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindBreakerOpen:
		return fmt.Sprintf("%s: circuit breaker is open, service may be unavailable", e.Dependency)
	case KindStatus:
		return fmt.Sprintf("%s %s %s returned status %d", e.Dependency, e.Method, e.Path, e.StatusCode)
	default:
		return fmt.Sprintf("%s %s %s: %v", e.Dependency, e.Method, e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether a transport error was caused by the call deadline.
func (e *Error) Timeout() bool {
	if e.Kind != KindTransport {
		return false
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

func IsBreakerOpen(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindBreakerOpen
	}
	return errors.Is(err, breaker.ErrOpen)
}

// IsUnavailable reports whether err means the dependency could not be reached
// at all: breaker open, connection failure or timeout.
func IsUnavailable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindBreakerOpen || e.Kind == KindTransport
	}
	return false
}

func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Timeout()
}

// StatusCode returns the HTTP status carried by a KindStatus error, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindStatus {
		return e.StatusCode
	}
	return 0
}
