package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/plip-api/internal/api/shared"
	"github.com/phrazzld/plip-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	base := slog.New(slog.NewTextHandler(io.Discard, nil))

	var gotTraceID string
	var gotLogger *slog.Logger

	r := chi.NewRouter()
	r.Use(NewTraceMiddleware(tp.Tracer("test"), base))
	r.Get("/task_status/{task_id}", func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = shared.GetTraceID(r.Context())
		gotLogger = logger.FromContext(r.Context())
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/task_status/abc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, gotTraceID, 32)
	assert.NotNil(t, gotLogger)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /task_status/{task_id}", spans[0].Name())
	assert.Equal(t, gotTraceID, spans[0].SpanContext().TraceID().String())
}
