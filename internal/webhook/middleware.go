package webhook

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brokkr-labs/brokkr/internal/logger"
	"github.com/brokkr-labs/brokkr/internal/observability"
)

// requestLogger handles structured logging for every request.
// It performs three tasks for observability:
// 1. Traceability: binds the request ID assigned by Chi's RequestID middleware.
// 2. Context Injection: injects a request-scoped logger for handlers to use.
// 3. Telemetry: logs the status, duration, and response size on completion.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 1. Resolve Request ID
		reqID := middleware.GetReqID(r.Context())

		// 2. Create Contextual Logger
		// A derived logger is cheap (shallow copy of the handler).
		reqLogger := a.logger.With(slog.String("request_id", reqID))

		// 3. Inject Logger into Context
		// Handlers can now call logger.FromContext(ctx).
		ctx := logger.WithContext(r.Context(), reqLogger)

		// Wrap the ResponseWriter to capture the status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		// 4. Process the request
		next.ServeHTTP(ww, r.WithContext(ctx))

		// 5. Log Outcome
		// We use Info level for success, Warn for 4xx, Error for 5xx
		duration := time.Since(start)
		status := ww.Status()

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		reqLogger.Log(ctx, level, "http request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", duration),
			slog.Int("bytes", ww.BytesWritten()),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// collectMetrics feeds the webhook request counter and latency histogram.
// The chi route pattern keeps the path label cardinality bounded; raw URLs
// would explode it with per-device query strings.
func collectMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}

		observability.WebhookReqTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
		observability.WebhookReqDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
