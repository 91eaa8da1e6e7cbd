package store

import (
	"context"

	"github.com/phrazzld/plip-api/internal/domain"
)

// TaskMutator applies a change to a task record. Returning an error aborts
// the update and leaves the stored record untouched.
type TaskMutator func(rec *domain.TaskRecord) error

// TaskRegistry defines the interface for task record storage.
// Implementations must be safe for concurrent use by many submitters,
// one executor per task, and many status readers.
// Version: 1.0
type TaskRegistry interface {
	// Create registers a new task record.
	// Returns ErrTaskExists if the ID is already registered.
	// Returns ErrInvalidEntity if the record fails domain validation.
	Create(ctx context.Context, rec *domain.TaskRecord) error

	// Get returns a snapshot of the task record.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id string) (*domain.TaskRecord, error)

	// Update applies fn to the task atomically: readers observe either the
	// record before fn ran or the complete result, never an intermediate state.
	// Returns the committed snapshot on success.
	// Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, id string, fn TaskMutator) (*domain.TaskRecord, error)

	// List returns all known task IDs in insertion order.
	List(ctx context.Context) ([]string, error)
}
