package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a payload or model response does not match
	// the shape required for its task type. Wrapped by ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTaskType is returned for a task type outside the pipeline's enumeration.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidTaskStatus is returned for a status outside the state machine.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidTransition is returned when a status change is not an edge of the
	// state machine (for example pending -> completed).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidLineage is returned when a task tries to create a task that is
	// not the next stage, or does so without holding its lease.
	ErrInvalidLineage = errors.New("invalid stage lineage")

	// ErrPayloadTypeMismatch is returned when a payload is attached to a task of a different type.
	ErrPayloadTypeMismatch = errors.New("payload does not belong to task type")
)

// ValidationError describes why a payload failed its per-type shape check.
// It is never retried; the owning task is failed with Error() as its message.
type ValidationError struct {
	TaskType TaskType
	Field    string
	Reason   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s payload: %s", e.TaskType, e.Reason)
	}
	return fmt.Sprintf("%s payload: field %s: %s", e.TaskType, e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError.
func NewValidationError(taskType TaskType, field, reason string) *ValidationError {
	return &ValidationError{TaskType: taskType, Field: field, Reason: reason}
}

// IsValidationError reports whether err is, or wraps, a validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
