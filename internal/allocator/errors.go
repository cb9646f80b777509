package allocator

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies allocation failures for the HTTP-facing caller.
// None of these are retried here; redelivery belongs to the webhook
// infrastructure, which relies on the idempotency path.
type ErrorKind string

const (
	KindNoActiveRaffle       ErrorKind = "no_active_raffle"
	KindInvalidQuantity      ErrorKind = "invalid_quantity"
	KindInsufficientCapacity ErrorKind = "insufficient_capacity"
	KindPartialAllocation    ErrorKind = "partial_allocation_failure"
	KindAllocationInProgress ErrorKind = "allocation_in_progress"
)

// AllocationError carries a public message safe for API responses and an
// internal message for logs. Remaining is populated for capacity failures
// so the caller can offer a reduced quantity.
type AllocationError struct {
	Kind          ErrorKind
	PublicError   string
	InternalError string
	Remaining     int
	Err           error
}

func (e *AllocationError) Error() string {
	if e.InternalError != "" {
		return e.InternalError
	}
	return e.PublicError
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error kind to an HTTP status.
func (e *AllocationError) StatusCode() int {
	switch e.Kind {
	case KindInvalidQuantity:
		return http.StatusBadRequest
	case KindNoActiveRaffle, KindInsufficientCapacity:
		return http.StatusConflict
	case KindAllocationInProgress:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errNoActiveRaffle() *AllocationError {
	return &AllocationError{
		Kind:          KindNoActiveRaffle,
		PublicError:   "no active raffle is available",
		InternalError: "no active raffle",
	}
}

func errInvalidQuantity(quantity int) *AllocationError {
	return &AllocationError{
		Kind:          KindInvalidQuantity,
		PublicError:   "invalid quantity",
		InternalError: fmt.Sprintf("invalid quantity %d", quantity),
	}
}

func errInsufficientCapacity(requested, remaining int) *AllocationError {
	return &AllocationError{
		Kind:          KindInsufficientCapacity,
		PublicError:   fmt.Sprintf("not enough numbers available: requested %d, remaining %d", requested, remaining),
		InternalError: fmt.Sprintf("insufficient capacity: requested %d, remaining %d", requested, remaining),
		Remaining:     remaining,
	}
}
