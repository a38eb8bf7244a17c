package order

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound              = errors.New("order not found")
	ErrForbidden             = errors.New("you do not have permission to access this order")
	ErrInvalidStatus         = errors.New("status must be one of: completed, failed")
	ErrPaymentFailed         = errors.New("payment failed")
	ErrPaymentGateway        = errors.New("payment service returned an error")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrUnauthenticated       = errors.New("invalid authentication credentials")
)

// ItemError describes why one requested item could not be accepted.
type ItemError struct {
	ProductID string
	Message   string
	// Unavailable marks errors caused by the catalog being unreachable
	// rather than by the item itself.
	Unavailable bool
}

// ValidationError aggregates every item that failed verification.
type ValidationError struct {
	Items []ItemError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("product validation failed: %s", strings.Join(e.Messages(), "; "))
}

func (e *ValidationError) Messages() []string {
	msgs := make([]string, len(e.Items))
	for i, item := range e.Items {
		msgs[i] = item.Message
	}
	return msgs
}

// Unavailable reports whether any item failed because the catalog could not
// be reached.
func (e *ValidationError) Unavailable() bool {
	for _, item := range e.Items {
		if item.Unavailable {
			return true
		}
	}
	return false
}
