package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/plip-api/internal/platform/logger"
)

// requestLogger returns the request scoped logger set by the trace
// middleware, or the default logger.
func requestLogger(r *http.Request) *slog.Logger {
	return logger.FromContextOrDefault(r.Context(), slog.Default())
}
