package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/plip-api/internal/domain"
	"github.com/phrazzld/plip-api/internal/platform/workspace"
	"github.com/phrazzld/plip-api/internal/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const waitTimeout = 5 * time.Second

type runnerFixture struct {
	runner   *Runner
	registry *store.MemoryTaskRegistry
	ws       *workspace.Workspace
	engine   *MockEngine
	fetcher  *MockFetcher
}

func newRunnerFixture(t *testing.T, workerCount int) *runnerFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	f := &runnerFixture{
		registry: store.NewMemoryTaskRegistry(logger),
		ws:       workspace.New(afero.NewMemMapFs(), "/storage"),
		engine:   NewMockEngine(),
		fetcher:  NewMockFetcher([]byte("HEADER fetched\n")),
	}

	runner, err := NewRunner(f.registry, f.ws, f.fetcher, f.engine, RunnerConfig{WorkerCount: workerCount}, logger)
	require.NoError(t, err)
	f.runner = runner

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = runner.Stop(ctx)
	})

	return f
}

// submit registers a queued task and dispatches it.
func (f *runnerFixture) submit(t *testing.T, input domain.Input, opts domain.Options) string {
	t.Helper()

	rec, err := domain.NewTaskRecord(input, opts)
	require.NoError(t, err)
	rec.OutputDir, err = f.ws.Dir(rec.ID)
	require.NoError(t, err)
	require.NoError(t, f.registry.Create(context.Background(), rec))
	require.NoError(t, f.runner.Submit(context.Background(), rec.ID))
	return rec.ID
}

// waitForStatus polls the registry until the task reaches want.
func (f *runnerFixture) waitForStatus(t *testing.T, id string, want domain.TaskStatus) *domain.TaskRecord {
	t.Helper()

	var rec *domain.TaskRecord
	require.Eventually(t, func() bool {
		got, err := f.registry.Get(context.Background(), id)
		if err != nil {
			return false
		}
		rec = got
		return got.Status == want
	}, waitTimeout, 5*time.Millisecond, "task %s never reached %s", id, want)
	return rec
}

func (f *runnerFixture) readFile(t *testing.T, id, name string) string {
	t.Helper()

	dir, err := f.ws.Dir(id)
	require.NoError(t, err)
	data, err := afero.ReadFile(f.ws.Fs(), filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestNewRunner_NilDependencies(t *testing.T) {
	t.Parallel()

	registry := store.NewMemoryTaskRegistry(nil)
	ws := workspace.New(afero.NewMemMapFs(), "/storage")
	engine := NewMockEngine()
	fetcher := NewMockFetcher(nil)
	cfg := DefaultRunnerConfig()

	_, err := NewRunner(nil, ws, fetcher, engine, cfg, nil)
	assert.ErrorIs(t, err, ErrNilRegistry)

	_, err = NewRunner(registry, nil, fetcher, engine, cfg, nil)
	assert.ErrorIs(t, err, ErrNilWorkspace)

	_, err = NewRunner(registry, ws, nil, engine, cfg, nil)
	assert.ErrorIs(t, err, ErrNilFetcher)

	_, err = NewRunner(registry, ws, fetcher, nil, cfg, nil)
	assert.ErrorIs(t, err, ErrNilEngine)

	runner, err := NewRunner(registry, ws, fetcher, engine, RunnerConfig{WorkerCount: 0}, nil)
	require.NoError(t, err)
	assert.NotNil(t, runner)
}

func TestRunner_CompletesContentTask(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture(t, 2)
	f.engine.AnalyzeFn = func(ctx context.Context, job Job) (*ResultSet, error) {
		return &ResultSet{BindingSites: []BindingSite{
			{ResidueID: "STI", Chain: "A", Position: 201, Artifacts: domain.Artifacts{domain.OutputFormatXML: "report.xml"}},
			{ResidueID: "NAG", Chain: "B", Position: 3, Artifacts: domain.Artifacts{domain.OutputFormatXML: "report.xml"}},
		}}, nil
	}

	id := f.submit(t, domain.Input{Content: "  ATOM      1  N   ALA A   1\n\n"}, domain.Options{Model: 2, NoHydro: true})
	rec := f.waitForStatus(t, id, domain.TaskStatusCompleted)

	assert.Len(t, rec.Results, 2)
	assert.Equal(t, "report.xml", rec.Results["STI:A:201"][domain.OutputFormatXML])
	assert.Contains(t, rec.Results, "NAG:B:3")
	assert.Empty(t, rec.Error)
	assert.NotNil(t, rec.StartedAt)
	assert.NotNil(t, rec.FinishedAt)

	assert.Equal(t, "ATOM      1  N   ALA A   1\n", f.readFile(t, id, InputFileName))

	jobs := f.engine.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].TaskID)
	assert.Equal(t, filepath.Join("/storage", id), jobs[0].OutputDir)
	assert.Equal(t, filepath.Join("/storage", id, InputFileName), jobs[0].InputPath)
	assert.Equal(t, 2, jobs[0].Options.Model)
	assert.True(t, jobs[0].Options.NoHydro)
}

func TestRunner_CompletesWithoutBindingSites(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture(t, 1)
	f.engine.AnalyzeFn = func(ctx context.Context, job Job) (*ResultSet, error) {
		return nil, nil
	}

	id := f.submit(t, domain.Input{Content: "ATOM"}, domain.Options{})
	rec := f.waitForStatus(t, id, domain.TaskStatusCompleted)

	assert.NotNil(t, rec.Results)
	assert.Empty(t, rec.Results)
}

func TestRunner_FetchesReference(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture(t, 1)
	var requested atomic.Value
	f.fetcher.FetchFn = func(ctx context.Context, reference string) ([]byte, error) {
		requested.Store(reference)
		return []byte("HEADER 1EVE\n"), nil
	}

	id := f.submit(t, domain.Input{Reference: " 1eve "}, domain.Options{})
	f.waitForStatus(t, id, domain.TaskStatusCompleted)

	assert.Equal(t, "1eve", requested.Load())
	assert.Equal(t, "HEADER 1EVE\n", f.readFile(t, id, InputFileName))
}

func TestRunner_RecordsFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     domain.Input
		configure func(f *runnerFixture)
		wantParts []string
	}{
		{
			name:  "engine error",
			input: domain.Input{Content: "garbage"},
			configure: func(f *runnerFixture) {
				f.engine.AnalyzeFn = func(ctx context.Context, job Job) (*ResultSet, error) {
					return nil, errors.New("could not parse structure")
				}
			},
			wantParts: []string{StageAnalyze, "could not parse structure"},
		},
		{
			name:  "fetch error",
			input: domain.Input{Reference: "9zzz"},
			configure: func(f *runnerFixture) {
				f.fetcher.FetchFn = func(ctx context.Context, reference string) ([]byte, error) {
					return nil, errors.New("structure not found")
				}
			},
			wantParts: []string{StageResolve, "structure not found"},
		},
		{
			name:  "engine panic",
			input: domain.Input{Content: "ATOM"},
			configure: func(f *runnerFixture) {
				f.engine.AnalyzeFn = func(ctx context.Context, job Job) (*ResultSet, error) {
					panic("engine exploded")
				}
			},
			wantParts: []string{StageAnalyze, "engine exploded"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newRunnerFixture(t, 1)
			tc.configure(f)

			id := f.submit(t, tc.input, domain.Options{})
			rec := f.waitForStatus(t, id, domain.TaskStatusFailed)

			assert.Nil(t, rec.Results)
			for _, part := range tc.wantParts {
				assert.Contains(t, rec.Error, part)
			}
			assert.Contains(t, f.readFile(t, id, ErrorLogFileName), tc.wantParts[1])
		})
	}
}

func TestRunner_FailureIsolation(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture(t, 3)
	f.engine.AnalyzeFn = func(ctx context.Context, job Job) (*ResultSet, error) {
		if job.Options.Model == 3 {
			return nil, errors.New("model not present")
		}
		return &ResultSet{}, nil
	}

	ok1 := f.submit(t, domain.Input{Content: "ATOM"}, domain.Options{})
	bad := f.submit(t, domain.Input{Content: "ATOM"}, domain.Options{Model: 3})
	ok2 := f.submit(t, domain.Input{Content: "ATOM"}, domain.Options{})

	f.waitForStatus(t, ok1, domain.TaskStatusCompleted)
	f.waitForStatus(t, bad, domain.TaskStatusFailed)
	f.waitForStatus(t, ok2, domain.TaskStatusCompleted)
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const workers = 2
	const total = 6

	f := newRunnerFixture(t, workers)

	release := make(chan struct{})
	var running, peak int32
	var mu sync.Mutex
	f.engine.AnalyzeFn = func(ctx context.Context, job Job) (*ResultSet, error) {
		n := atomic.AddInt32(&running, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		<-release
		atomic.AddInt32(&running, -1)
		return &ResultSet{}, nil
	}

	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		ids = append(ids, f.submit(t, domain.Input{Content: "ATOM"}, domain.Options{}))
	}

	// Exactly WorkerCount tasks start; the rest stay queued.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&running) == workers
	}, waitTimeout, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	counts := map[domain.TaskStatus]int{}
	for _, id := range ids {
		rec, err := f.registry.Get(context.Background(), id)
		require.NoError(t, err)
		counts[rec.Status]++
	}
	assert.Equal(t, workers, counts[domain.TaskStatusRunning])
	assert.Equal(t, total-workers, counts[domain.TaskStatusQueued])

	close(release)
	for _, id := range ids {
		f.waitForStatus(t, id, domain.TaskStatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int32(workers))
}

func TestRunner_Stop(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture(t, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	f.engine.AnalyzeFn = func(ctx context.Context, job Job) (*ResultSet, error) {
		close(started)
		<-release
		return &ResultSet{}, nil
	}

	running := f.submit(t, domain.Input{Content: "ATOM"}, domain.Options{})
	<-started
	waiting := f.submit(t, domain.Input{Content: "ATOM"}, domain.Options{})

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		stopped <- f.runner.Stop(ctx)
	}()

	// Stop waits for the running analysis to finish.
	select {
	case err := <-stopped:
		t.Fatalf("stop returned before running task finished: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-stopped)

	f.waitForStatus(t, running, domain.TaskStatusCompleted)

	rec, err := f.registry.Get(context.Background(), waiting)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, rec.Status)

	err = f.runner.Submit(context.Background(), waiting)
	assert.ErrorIs(t, err, ErrRunnerStopped)
}

func TestRunner_StopTimeout(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture(t, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.engine.AnalyzeFn = func(ctx context.Context, job Job) (*ResultSet, error) {
		close(started)
		<-release
		return &ResultSet{}, nil
	}

	f.submit(t, domain.Input{Content: "ATOM"}, domain.Options{})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := f.runner.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunner_RecordsSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newRunnerFixture(t, 1)
	f.runner.SetTracerProvider(tp)
	f.engine.AnalyzeFn = func(ctx context.Context, job Job) (*ResultSet, error) {
		if job.Options.Model == 2 {
			return nil, errors.New("bad model")
		}
		return &ResultSet{}, nil
	}

	okID := f.submit(t, domain.Input{Content: "ATOM"}, domain.Options{})
	f.waitForStatus(t, okID, domain.TaskStatusCompleted)
	badID := f.submit(t, domain.Input{Content: "ATOM"}, domain.Options{Model: 2})
	f.waitForStatus(t, badID, domain.TaskStatusFailed)

	var spans []sdktrace.ReadOnlySpan
	require.Eventually(t, func() bool {
		spans = recorder.Ended()
		return len(spans) == 2
	}, waitTimeout, 5*time.Millisecond)

	eventNames := func(span sdktrace.ReadOnlySpan) []string {
		var names []string
		for _, ev := range span.Events() {
			names = append(names, ev.Name)
		}
		return names
	}

	for _, span := range spans {
		assert.Equal(t, "plip.task", span.Name())
	}
	assert.Contains(t, eventNames(spans[0]), "task.completed")
	assert.Contains(t, eventNames(spans[1]), "task.failed")
}
