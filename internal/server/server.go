// Package server implements the HTTP transport layer for the tokenmeter service.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	core "github.com/tokenwise/tokenmeter/internal"
	"github.com/tokenwise/tokenmeter/internal/app"
	"github.com/tokenwise/tokenmeter/internal/ratelimit"
	"github.com/tokenwise/tokenmeter/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           core.Authenticator
	Counter        *app.CounterService
	RateLimiter    *ratelimit.Registry // nil = no rate limiting
	Metrics        *telemetry.Metrics  // nil = no metrics
	MetricsHandler http.Handler        // nil = no /metrics endpoint
	ReadyCheck     ReadyChecker        // nil = always ready (for tests)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth, no rate limit)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/v1/health", s.handleHealth)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Counting API (auth required; admission checked per handler after
	// validation so malformed requests never consume quota)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/tokens/count", s.handleCountTokens)
		r.Post("/v1/tokens/batch-count", s.handleBatchCountTokens)
	})

	return r
}

type server struct {
	deps Deps
}
