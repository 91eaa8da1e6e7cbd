package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/plip-api/internal/domain"
	"github.com/phrazzld/plip-api/internal/platform/workspace"
	"github.com/phrazzld/plip-api/internal/store"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const tracerName = "github.com/phrazzld/plip-api/internal/task"

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// WorkerCount determines how many analyses may run at the same time.
	// If zero or negative, defaults to 1
	WorkerCount int
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount: 2,
	}
}

// Runner executes accepted tasks in the background. Every submitted task
// gets its own goroutine which waits for one of WorkerCount execution slots;
// while waiting the task stays queued. The runner owns each task's
// transitions to running and to its terminal state.
type Runner struct {
	registry  store.TaskRegistry
	workspace *workspace.Workspace
	fetcher   StructureFetcher
	engine    Engine

	// slots bounds the number of concurrently running analyses
	slots *semaphore.Weighted

	// wg tracks every dispatched task goroutine for shutdown
	wg conc.WaitGroup

	// ctx is cancelled on Stop to release tasks still waiting for a slot.
	// Running analyses are never cancelled.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool

	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewRunner creates a Runner. It returns an error if any dependency is nil.
func NewRunner(
	registry store.TaskRegistry,
	ws *workspace.Workspace,
	fetcher StructureFetcher,
	engine Engine,
	config RunnerConfig,
	logger *slog.Logger,
) (*Runner, error) {
	switch {
	case registry == nil:
		return nil, ErrNilRegistry
	case ws == nil:
		return nil, ErrNilWorkspace
	case fetcher == nil:
		return nil, ErrNilFetcher
	case engine == nil:
		return nil, ErrNilEngine
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "task_runner")

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		registry:  registry,
		workspace: ws,
		fetcher:   fetcher,
		engine:    engine,
		slots:     semaphore.NewWeighted(int64(workerCount)),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetTracerProvider replaces the global tracer provider used for task spans.
func (r *Runner) SetTracerProvider(tp trace.TracerProvider) {
	r.tracer = tp.Tracer(tracerName)
}

// Submit dispatches a queued task for background execution and returns
// immediately. The outcome is reported only through the registry.
func (r *Runner) Submit(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrRunnerStopped
	}

	r.wg.Go(func() {
		r.run(taskID)
	})

	r.logger.DebugContext(ctx, "task dispatched", "task_id", taskID)
	return nil
}

// Stop prevents further submissions, releases tasks still waiting for a slot
// (they remain queued) and waits for running analyses until ctx expires.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if recovered := r.wg.WaitAndRecover(); recovered != nil {
			r.logger.Error("task goroutine panicked", "panic", recovered.String())
		}
	}()

	select {
	case <-done:
		r.logger.Info("task runner stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running tasks: %w", ctx.Err())
	}
}

// run waits for an execution slot and processes the task.
func (r *Runner) run(taskID string) {
	if err := r.slots.Acquire(r.ctx, 1); err != nil {
		r.logger.Warn("runner stopped before task started, task remains queued",
			"task_id", taskID)
		return
	}
	defer r.slots.Release(1)

	// Analyses run to completion even while the runner shuts down.
	r.processTask(context.WithoutCancel(r.ctx), taskID)
}

// processTask handles execution of a single task
func (r *Runner) processTask(ctx context.Context, taskID string) {
	logger := r.logger.With("task_id", taskID)

	ctx, span := r.tracer.Start(ctx, "plip.task",
		trace.WithNewRoot(),
		trace.WithAttributes(attribute.String("task.id", taskID)),
	)
	defer span.End()

	rec, err := r.registry.Update(ctx, taskID, func(rec *domain.TaskRecord) error {
		return rec.Start(r.now())
	})
	if err != nil {
		logger.Error("failed to update task status to running", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.AddEvent("task.started")
	span.SetAttributes(attribute.String("task.input_mode", string(rec.Input.Mode())))
	logger.Info("processing task", "input_mode", rec.Input.Mode())

	results, execErr := r.execute(ctx, rec)
	if execErr != nil {
		r.markFailed(ctx, span, rec.ID, execErr, logger)
		return
	}

	_, err = r.registry.Update(ctx, rec.ID, func(rec *domain.TaskRecord) error {
		return rec.Complete(results, r.now())
	})
	if err != nil {
		logger.Error("failed to update task status to completed", "error", err)
		r.markFailed(ctx, span, rec.ID, fmt.Errorf("record results: %w", err), logger)
		return
	}

	span.SetAttributes(attribute.Int("task.binding_sites", len(results)))
	span.AddEvent("task.completed")
	span.SetStatus(codes.Ok, "")
	logger.Info("task completed successfully", "binding_sites", len(results))
}

// execute runs the fallible part of a task, converting panics into errors.
func (r *Runner) execute(ctx context.Context, rec *domain.TaskRecord) (map[string]domain.Artifacts, error) {
	var (
		results map[string]domain.Artifacts
		err     error
		stage   = StagePrepare
		pc      panics.Catcher
	)

	pc.Try(func() {
		results, err = r.analyze(ctx, rec, &stage)
	})
	if recovered := pc.Recovered(); recovered != nil {
		return nil, &ExecutionError{TaskID: rec.ID, Stage: stage, Err: recovered.AsError()}
	}
	if err != nil {
		return nil, &ExecutionError{TaskID: rec.ID, Stage: stage, Err: err}
	}
	return results, nil
}

// analyze prepares the output directory, materializes the input and runs
// the engine. stage tracks progress for error reporting.
func (r *Runner) analyze(ctx context.Context, rec *domain.TaskRecord, stage *string) (map[string]domain.Artifacts, error) {
	span := trace.SpanFromContext(ctx)

	*stage = StagePrepare
	dir, err := r.workspace.Ensure(rec.ID)
	if err != nil {
		return nil, err
	}
	span.AddEvent("output_dir.ready")

	*stage = StageResolve
	inputPath, err := r.resolveInput(ctx, rec)
	if err != nil {
		return nil, err
	}
	span.AddEvent("input.resolved")

	*stage = StageAnalyze
	set, err := r.engine.Analyze(ctx, Job{
		TaskID:    rec.ID,
		InputPath: inputPath,
		OutputDir: dir,
		Options:   rec.Options,
	})
	if err != nil {
		return nil, err
	}

	return set.Results(), nil
}

// resolveInput writes the structure to analyze into the task directory,
// fetching it first when the task carries an external reference.
func (r *Runner) resolveInput(ctx context.Context, rec *domain.TaskRecord) (string, error) {
	var data []byte

	switch rec.Input.Mode() {
	case domain.InputModeContent:
		data = []byte(strings.TrimSpace(rec.Input.Content) + "\n")
	case domain.InputModeReference:
		fetched, err := r.fetcher.FetchStructure(ctx, rec.Input.Reference)
		if err != nil {
			return "", err
		}
		data = fetched
	default:
		return "", domain.ErrMissingInput
	}

	return r.workspace.WriteFile(rec.ID, InputFileName, data)
}

// markFailed records the terminal failure. A best-effort error.log is left
// in the output directory when it exists.
func (r *Runner) markFailed(ctx context.Context, span trace.Span, taskID string, execErr error, logger *slog.Logger) {
	msg := execErr.Error()

	logger.Error("task execution failed", "error", execErr)
	span.RecordError(execErr)
	span.SetStatus(codes.Error, msg)
	span.AddEvent("task.failed")

	if exists, _ := r.workspace.Exists(taskID); exists {
		if _, err := r.workspace.WriteFile(taskID, ErrorLogFileName, []byte(msg+"\n")); err != nil {
			logger.Warn("failed to write error log", "error", err)
		}
	}

	if _, err := r.registry.Update(ctx, taskID, func(rec *domain.TaskRecord) error {
		return rec.Fail(msg, r.now())
	}); err != nil {
		logger.Error("failed to update task status to failed", "error", err)
	}
}
