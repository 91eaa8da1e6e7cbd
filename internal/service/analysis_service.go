package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/plip-api/internal/domain"
	"github.com/phrazzld/plip-api/internal/platform/workspace"
	"github.com/phrazzld/plip-api/internal/store"
)

// TaskDispatcher defines the interface for handing accepted tasks to the
// background executor
type TaskDispatcher interface {
	// Submit dispatches a queued task and returns without waiting for it
	Submit(ctx context.Context, taskID string) error
}

// SubmitRequest carries a client's analysis request.
type SubmitRequest struct {
	// Content is inline structure text; it takes precedence over Reference
	Content string
	// Reference is an external structure identifier such as a PDB ID
	Reference string
	Options   domain.Options
}

// AnalysisService provides task submission and status operations
type AnalysisService interface {
	// Submit validates the request, registers a queued task and dispatches it.
	// Returns the task ID as soon as the task is registered.
	Submit(ctx context.Context, req SubmitRequest) (string, error)

	// Status returns a snapshot of the task record
	Status(ctx context.Context, taskID string) (*domain.TaskRecord, error)

	// List returns every known task ID in submission order
	List(ctx context.Context) ([]string, error)
}

// analysisServiceImpl implements the AnalysisService interface
type analysisServiceImpl struct {
	registry   store.TaskRegistry
	workspace  *workspace.Workspace
	dispatcher TaskDispatcher
	logger     *slog.Logger
}

// NewAnalysisService creates a new AnalysisService.
// It returns an error if any of the required dependencies are nil.
func NewAnalysisService(
	registry store.TaskRegistry,
	ws *workspace.Workspace,
	dispatcher TaskDispatcher,
	logger *slog.Logger,
) (AnalysisService, error) {
	if registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if ws == nil {
		return nil, errors.New("workspace cannot be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &analysisServiceImpl{
		registry:   registry,
		workspace:  ws,
		dispatcher: dispatcher,
		logger:     logger.With("component", "analysis_service"),
	}, nil
}

// Submit implements AnalysisService.Submit
func (s *analysisServiceImpl) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	rec, err := domain.NewTaskRecord(domain.Input{
		Content:   req.Content,
		Reference: req.Reference,
	}, req.Options)
	if err != nil {
		s.logger.DebugContext(ctx, "rejected analysis request", "error", err)
		return "", NewServiceError("submit", "invalid request", err)
	}

	rec.OutputDir, err = s.workspace.Dir(rec.ID)
	if err != nil {
		return "", NewServiceError("submit", "failed to derive output directory", err)
	}

	if err := s.registry.Create(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to register task", "task_id", rec.ID, "error", err)
		return "", NewServiceError("submit", "failed to register task", err)
	}

	// The record is already visible; if dispatch fails it stays queued.
	if err := s.dispatcher.Submit(ctx, rec.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to dispatch task", "task_id", rec.ID, "error", err)
		return "", NewServiceError("submit", "failed to dispatch task", err)
	}

	s.logger.InfoContext(ctx, "task accepted",
		"task_id", rec.ID,
		"input_mode", rec.Input.Mode(),
		"output_formats", rec.Options.OutputFormats)

	return rec.ID, nil
}

// Status implements AnalysisService.Status
func (s *analysisServiceImpl) Status(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	if taskID == "" {
		return nil, ErrTaskNotFound
	}

	rec, err := s.registry.Get(ctx, taskID)
	if err != nil {
		return nil, NewServiceError("status", "failed to get task", err)
	}
	return rec, nil
}

// List implements AnalysisService.List
func (s *analysisServiceImpl) List(ctx context.Context) ([]string, error) {
	ids, err := s.registry.List(ctx)
	if err != nil {
		return nil, NewServiceError("list", "failed to list tasks", err)
	}
	return ids, nil
}
