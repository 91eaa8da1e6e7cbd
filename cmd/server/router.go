package main

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phrazzld/plip-api/internal/api"
	apiMiddleware "github.com/phrazzld/plip-api/internal/api/middleware"
	"go.opentelemetry.io/otel"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(app.config.Server.CORSAllowedOrigins)))
	r.Use(apiMiddleware.NewTraceMiddleware(
		otel.Tracer("github.com/phrazzld/plip-api/internal/api"),
		app.logger,
	))

	taskHandler := api.NewTaskHandler(app.analysisService, app.packager)
	taskHandler.Routes(r)

	return r
}

// corsOptions builds the CORS policy. A "*" origin allows every origin by
// echoing it back, since browsers reject a literal wildcard on credentialed
// requests.
func corsOptions(origins []string) cors.Options {
	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if slices.Contains(origins, "*") {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return true }
	} else {
		opts.AllowedOrigins = origins
	}
	return opts
}
