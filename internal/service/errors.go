package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/plip-api/internal/domain"
	"github.com/phrazzld/plip-api/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check for them with errors.Is(); the API layer maps them to HTTP
// status codes.
var (
	// ErrTaskNotFound indicates that no task with the given ID is registered.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidState indicates that the task exists but is not completed.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidState = errors.New("task is not completed")

	// ErrResultsNotFound indicates that a completed task has no output directory.
	// API layer should map this to HTTP 404 Not Found.
	ErrResultsNotFound = errors.New("results not found")
)

// ServiceError wraps unexpected errors from the service layer with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "package")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("analysis service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
// Known sentinel and validation errors are returned directly without wrapping.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrTaskNotFound), store.IsNotFoundError(err):
		return ErrTaskNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrResultsNotFound):
		return err
	case errors.Is(err, domain.ErrValidation):
		return err
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
