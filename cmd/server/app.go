package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/plip-api/internal/config"
	"github.com/phrazzld/plip-api/internal/engine"
	"github.com/phrazzld/plip-api/internal/platform/rcsb"
	"github.com/phrazzld/plip-api/internal/platform/telemetry"
	"github.com/phrazzld/plip-api/internal/platform/workspace"
	"github.com/phrazzld/plip-api/internal/service"
	"github.com/phrazzld/plip-api/internal/store"
	"github.com/phrazzld/plip-api/internal/task"
	"go.uber.org/multierr"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	registry  store.TaskRegistry
	workspace *workspace.Workspace
	runner    *task.Runner

	analysisService service.AnalysisService
	packager        *service.ResultPackager

	shutdownTelemetry telemetry.ShutdownFunc
}

// appOption overrides a default dependency, mainly for tests.
type appOption func(*appDeps)

type appDeps struct {
	workspace *workspace.Workspace
	fetcher   task.StructureFetcher
	engine    task.Engine
}

func withWorkspace(ws *workspace.Workspace) appOption {
	return func(d *appDeps) { d.workspace = ws }
}

func withFetcher(f task.StructureFetcher) appOption {
	return func(d *appDeps) { d.fetcher = f }
}

func withEngine(e task.Engine) appOption {
	return func(d *appDeps) { d.engine = e }
}

// newApplication wires every component from cfg.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*application, error) {
	deps := appDeps{}
	for _, opt := range opts {
		opt(&deps)
	}
	if deps.workspace == nil {
		deps.workspace = workspace.NewOS(cfg.Storage.Root)
	}
	if deps.fetcher == nil {
		deps.fetcher = rcsb.NewClient(cfg.Fetch, logger)
	}
	if deps.engine == nil {
		deps.engine = engine.NewCommandEngine(cfg.Engine, logger, engine.WithFs(deps.workspace.Fs()))
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	app := &application{
		config:            cfg,
		logger:            logger,
		workspace:         deps.workspace,
		shutdownTelemetry: shutdownTelemetry,
	}

	if err := app.workspace.Fs().MkdirAll(app.workspace.Root(), 0o755); err != nil {
		return nil, multierr.Append(
			fmt.Errorf("failed to create storage root: %w", err),
			shutdownTelemetry(ctx),
		)
	}

	if err := app.setupServices(deps); err != nil {
		return nil, multierr.Append(err, shutdownTelemetry(ctx))
	}

	logger.Info("application initialized", "storage_root", app.workspace.Root())
	return app, nil
}

// setupServices creates the registry, the background runner and the
// services built on top of them.
func (app *application) setupServices(deps appDeps) error {
	app.registry = store.NewMemoryTaskRegistry(app.logger)

	runner, err := task.NewRunner(
		app.registry,
		app.workspace,
		deps.fetcher,
		deps.engine,
		task.RunnerConfig{WorkerCount: app.config.Task.WorkerCount},
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create task runner: %w", err)
	}
	app.runner = runner

	app.analysisService, err = service.NewAnalysisService(app.registry, app.workspace, runner, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create analysis service: %w", err)
	}
	app.packager = service.NewResultPackager(app.registry, app.workspace, app.logger)

	return nil
}

// cleanup stops the runner, waiting for running analyses until ctx expires,
// and flushes telemetry.
func (app *application) cleanup(ctx context.Context) error {
	var err error

	if app.runner != nil {
		if stopErr := app.runner.Stop(ctx); stopErr != nil {
			err = multierr.Append(err, fmt.Errorf("task runner: %w", stopErr))
		}
	}
	if app.shutdownTelemetry != nil {
		if telErr := app.shutdownTelemetry(ctx); telErr != nil {
			err = multierr.Append(err, fmt.Errorf("telemetry: %w", telErr))
		}
	}

	return err
}
