package logger

import (
	"context"
	"log/slog"
)

// contextKey is unexported so no other package can collide with our
// context entry. The empty struct costs nothing to store.
type contextKey struct{}

// WithContext stores the logger in the context. The webhook middleware uses
// this to hand each request a logger already tagged with its request ID.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger carried by the context. It never returns
// nil: when the context has no logger (unit tests, background goroutines
// started before setup) it falls back to slog.Default, so callers can log
// unconditionally.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
