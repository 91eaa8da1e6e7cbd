package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/phrazzld/plip-api/internal/domain"
)

// MemoryTaskRegistry implements TaskRegistry with a mutex-guarded map.
// State lives for the lifetime of the process; there is no teardown.
type MemoryTaskRegistry struct {
	mu      sync.RWMutex
	records map[string]*domain.TaskRecord
	order   []string
	logger  *slog.Logger
}

// NewMemoryTaskRegistry creates an empty registry.
func NewMemoryTaskRegistry(logger *slog.Logger) *MemoryTaskRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	return &MemoryTaskRegistry{
		records: make(map[string]*domain.TaskRecord),
		logger:  logger.With("component", "task_registry"),
	}
}

var _ TaskRegistry = (*MemoryTaskRegistry)(nil)

// Create implements TaskRegistry.
func (r *MemoryTaskRegistry) Create(ctx context.Context, rec *domain.TaskRecord) error {
	if rec == nil {
		return NewStoreError("task", "create", "record is nil", ErrInvalidEntity)
	}
	if err := rec.Validate(); err != nil {
		return NewStoreError("task", "create", err.Error(), ErrInvalidEntity)
	}

	snapshot := rec.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[snapshot.ID]; exists {
		return ErrTaskExists
	}

	r.records[snapshot.ID] = snapshot
	r.order = append(r.order, snapshot.ID)

	r.logger.DebugContext(ctx, "task registered",
		"task_id", snapshot.ID,
		"status", snapshot.Status,
		"task_count", len(r.order))

	return nil
}

// Get implements TaskRegistry.
func (r *MemoryTaskRegistry) Get(ctx context.Context, id string) (*domain.TaskRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrTaskNotFound
	}

	return rec.Clone(), nil
}

// Update implements TaskRegistry.
// The mutator runs against a private copy that replaces the stored record
// only if the mutator and the post-update validation both succeed.
func (r *MemoryTaskRegistry) Update(
	ctx context.Context,
	id string,
	fn TaskMutator,
) (*domain.TaskRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[id]
	if !ok {
		return nil, ErrTaskNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, NewStoreError("task", "update", "mutator rejected update", errors.Join(ErrUpdateFailed, err))
	}
	if next.ID != current.ID {
		return nil, NewStoreError("task", "update", "task ID is immutable", ErrUpdateFailed)
	}
	if err := next.Validate(); err != nil {
		return nil, NewStoreError("task", "update", err.Error(), ErrInvalidEntity)
	}

	r.records[id] = next

	r.logger.DebugContext(ctx, "task updated",
		"task_id", id,
		"from_status", current.Status,
		"to_status", next.Status)

	return next.Clone(), nil
}

// List implements TaskRegistry.
func (r *MemoryTaskRegistry) List(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids, nil
}
