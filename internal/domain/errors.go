package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrMissingInput is returned when a submission carries neither inline
	// structure content nor an external reference.
	ErrMissingInput = errors.New("neither content nor reference provided")

	// ErrInvalidOutputFormat is returned for output formats outside the
	// supported vocabulary.
	ErrInvalidOutputFormat = errors.New("invalid output format")

	// ErrInvalidModel is returned when the requested model index is not positive.
	ErrInvalidModel = errors.New("model index must be at least 1")

	// ErrInvalidTaskStatus is returned when a status is not part of the lifecycle.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidTransition is returned when a lifecycle transition is not allowed,
	// for example leaving a terminal state or skipping running.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrEmptyTaskID is returned when a record has no identifier.
	ErrEmptyTaskID = errors.New("task ID cannot be empty")
)

// ValidationError describes a submission that is malformed or incomplete.
// It always wraps ErrValidation so callers can match on the category.
type ValidationError struct {
	// Field is the request field that failed validation
	Field string
	// Message is a human-readable description of the problem
	Message string
	// Err is the specific cause
	Err error
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Message)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Message)
}

// Unwrap exposes both the category and the specific cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}
