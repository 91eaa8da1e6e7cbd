package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/phrazzld/plip-api/internal/domain"
	"github.com/phrazzld/plip-api/internal/platform/workspace"
	"github.com/phrazzld/plip-api/internal/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDispatcher records dispatched task IDs
type mockDispatcher struct {
	mu       sync.Mutex
	ids      []string
	SubmitFn func(ctx context.Context, taskID string) error
}

func (m *mockDispatcher) Submit(ctx context.Context, taskID string) error {
	m.mu.Lock()
	m.ids = append(m.ids, taskID)
	m.mu.Unlock()
	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, taskID)
	}
	return nil
}

func (m *mockDispatcher) dispatched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serviceFixture struct {
	svc        AnalysisService
	registry   *store.MemoryTaskRegistry
	ws         *workspace.Workspace
	dispatcher *mockDispatcher
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		registry:   store.NewMemoryTaskRegistry(testLogger()),
		ws:         workspace.New(afero.NewMemMapFs(), "/storage"),
		dispatcher: &mockDispatcher{},
	}
	svc, err := NewAnalysisService(f.registry, f.ws, f.dispatcher, testLogger())
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewAnalysisService_NilDependencies(t *testing.T) {
	t.Parallel()

	registry := store.NewMemoryTaskRegistry(nil)
	ws := workspace.New(afero.NewMemMapFs(), "/storage")
	dispatcher := &mockDispatcher{}

	_, err := NewAnalysisService(nil, ws, dispatcher, nil)
	assert.Error(t, err)
	_, err = NewAnalysisService(registry, nil, dispatcher, nil)
	assert.Error(t, err)
	_, err = NewAnalysisService(registry, ws, nil, nil)
	assert.Error(t, err)
}

func TestAnalysisService_Submit(t *testing.T) {
	t.Parallel()

	t.Run("registers queued task and dispatches it", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		ctx := context.Background()

		id, err := f.svc.Submit(ctx, SubmitRequest{
			Reference: "1eve",
			Options:   domain.Options{OutputFormats: []domain.OutputFormat{domain.OutputFormatXML}},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		rec, err := f.registry.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusQueued, rec.Status)
		assert.Equal(t, "/storage/"+id, rec.OutputDir)
		assert.Equal(t, []domain.OutputFormat{domain.OutputFormatXML}, rec.Options.OutputFormats)
		assert.Equal(t, []string{id}, f.dispatcher.dispatched())

		// The directory is created by the runner, not at submission.
		exists, err := f.ws.Exists(id)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("validation errors pass through", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)

		_, err := f.svc.Submit(context.Background(), SubmitRequest{})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.ErrorIs(t, err, domain.ErrMissingInput)
		assert.Contains(t, err.Error(), "neither content nor reference provided")

		_, err = f.svc.Submit(context.Background(), SubmitRequest{
			Content: "ATOM",
			Options: domain.Options{OutputFormats: []domain.OutputFormat{"pdf"}},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidOutputFormat)

		ids, err := f.svc.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, ids, "rejected requests must not create tasks")
		assert.Empty(t, f.dispatcher.dispatched())
	})

	t.Run("dispatch failure", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.dispatcher.SubmitFn = func(ctx context.Context, taskID string) error {
			return errors.New("task runner is stopped")
		}

		id, err := f.svc.Submit(context.Background(), SubmitRequest{Content: "ATOM"})
		require.Error(t, err)
		assert.Empty(t, id)

		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, "submit", svcErr.Operation)
	})
}

func TestAnalysisService_StatusAndList(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, SubmitRequest{Content: "ATOM"})
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, SubmitRequest{Reference: "1eve"})
	require.NoError(t, err)

	rec, err := f.svc.Status(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first, rec.ID)
	assert.Equal(t, domain.TaskStatusQueued, rec.Status)

	_, err = f.svc.Status(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = f.svc.Status(ctx, "")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	ids, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, ids)
}

func TestNewServiceError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewServiceError("op", "msg", nil))
	assert.Equal(t, ErrTaskNotFound, NewServiceError("op", "msg", store.ErrTaskNotFound))

	validation := domain.NewValidationError("model", "must be at least 1", domain.ErrInvalidModel)
	assert.Same(t, validation, NewServiceError("op", "msg", validation))

	err := NewServiceError("package", "failed to build archive", errors.New("disk full"))
	assert.Equal(t, "analysis service package failed: failed to build archive: disk full", err.Error())
}
