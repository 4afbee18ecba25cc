// Package webhook implements the HTTP surface that receives device check
// events from the fleet platform's route feature and serves the decision
// history.
package webhook

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/brokkr-labs/brokkr/internal/store"
	"github.com/brokkr-labs/brokkr/internal/updater"
)

// Limits for the GET /v1/decisions page size.
const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// CheckService runs the firmware update pipeline for one device event.
// We use the interface type to allow for mocking in unit tests.
type CheckService interface {
	Process(ctx context.Context, event updater.Event) (updater.Outcome, error)
}

// DecisionReader serves the decision history endpoint.
type DecisionReader interface {
	RecentDecisions(ctx context.Context, deviceUID string, limit int) ([]store.Decision, error)
}

// API is the main struct that holds dependencies and the router for the
// webhook surface. It follows the Dependency Injection pattern to
// facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	logger *slog.Logger

	// checks processes device check events.
	checks CheckService

	// decisions reads the decision log. Nil when the service runs without
	// persistence; the history route is simply not registered then.
	decisions DecisionReader

	// tokenHash is the SHA-256 digest of the webhook token. Only the
	// digest is kept in memory and compared.
	tokenHash [sha256.Size]byte

	// skipAuth disables authentication when true (test environments only).
	skipAuth bool

	// maxBody caps the accepted request body size in bytes.
	maxBody int64
}

// NewAPI creates a new API instance with authentication enabled by default.
// Panics if token is empty, as authentication cannot be disabled with this
// constructor.
func NewAPI(logger *slog.Logger, checks CheckService, decisions DecisionReader, token string, maxBody int64) *API {
	return NewAPIWithConfig(logger, checks, decisions, token, maxBody, false)
}

// NewAPIWithConfig creates a new API instance with explicit control over
// authentication. This constructor is primarily used in tests to disable
// authentication.
//
// Panics if:
//   - checks is nil
//   - token is empty when skipAuth is false
func NewAPIWithConfig(logger *slog.Logger, checks CheckService, decisions DecisionReader, token string, maxBody int64, skipAuth bool) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if checks == nil {
		panic("webhook: check service cannot be nil")
	}
	if !skipAuth && token == "" {
		panic("webhook: token cannot be empty when authentication is enabled")
	}
	if maxBody <= 0 {
		maxBody = 1 << 20 // Safe default
	}

	api := &API{
		Router:    chi.NewRouter(),
		logger:    logger,
		checks:    checks,
		decisions: decisions,
		tokenHash: sha256.Sum256([]byte(token)),
		skipAuth:  skipAuth,
		maxBody:   maxBody,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// 1. Global Middleware Stack
	// RequestID: Adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// Logger: Injects a request-scoped logger and logs method, path, status, duration.
	a.Router.Use(a.requestLogger)
	// Metrics: counts requests and measures latency per route pattern.
	a.Router.Use(collectMetrics)
	// Recoverer: Prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	// Content-Type: Forces JSON content type for API responses.
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// 2. Public Routes (no authentication required)
	a.Router.Get("/health", a.handleHealthCheck)

	// 3. Protected API V1 Routes (authentication required)
	a.Router.Route("/v1", func(r chi.Router) {
		r.Use(a.authenticate)

		r.Post("/checks", a.handleCheck)

		// History is only served when a decision log is configured.
		if a.decisions != nil {
			r.Get("/decisions", a.handleListDecisions)
		}
	})
}

// handleHealthCheck reports liveness of the webhook process itself. Deep
// dependency checks live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
