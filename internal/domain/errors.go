package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the root of every request validation failure
	ErrValidation = errors.New("validation error")

	// ErrJobNotFound is returned when a job id is unknown or has been evicted
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when an update would move a job backwards or out of a terminal state
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrQueueFull is returned when the dispatch queue cannot accept another job
	ErrQueueFull = errors.New("dispatch queue is full")

	// ErrDispatcherClosed is returned when submitting to a dispatcher that is shutting down
	ErrDispatcherClosed = errors.New("dispatcher is closed")

	// ErrGeneration marks an engine call that produced no usable image
	ErrGeneration = errors.New("generation failed")

	// ErrGenerationTimeout is recorded on a job whose generation exceeded the job deadline
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrDelivery marks a callback that could not be delivered
	ErrDelivery = errors.New("callback delivery failed")
)

// ValidationError describes a rejected request field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a ValidationError for field
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
