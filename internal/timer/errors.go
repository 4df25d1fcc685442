package timer

import "errors"

// Sentinel errors shared across the service. Callers match them with
// errors.Is; the HTTP layer maps them onto status codes.
var (
	// ErrTimerNotFound is returned when no timer exists for the given id or
	// share token.
	ErrTimerNotFound = errors.New("timer not found")

	// ErrNotOwner is returned when a mutating operation is attempted by a
	// user other than the timer's owner.
	ErrNotOwner = errors.New("user is not the timer owner")

	// ErrTimerCompleted is returned when a mutating operation targets a
	// timer that has already completed.
	ErrTimerCompleted = errors.New("timer already completed")

	// ErrInvalidTarget is returned when a new target time is not strictly
	// in the future.
	ErrInvalidTarget = errors.New("target time must be in the future")

	// ErrInvalidRequest is returned for malformed or incomplete input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStoreUnavailable wraps failures of the shared store or the
	// persistence layer.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBusUnavailable wraps failures to publish on the fleet event bus.
	ErrBusUnavailable = errors.New("event bus unavailable")
)
