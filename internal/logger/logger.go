// Package logger builds the structured logger shared by every brokkr
// component. It wraps "log/slog" so handler selection, level parsing and the
// service identity attributes are decided in one place instead of per caller.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/brokkr-labs/brokkr/internal/config"
)

// New returns a *slog.Logger configured from the application config,
// writing to os.Stdout.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with an explicit output destination. Tests use it to
// capture log lines in a buffer.
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
		// Source locations are handy while developing but add cost and noise
		// in production output.
		AddSource: cfg.Environment != config.EnvironmentProduction,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		// JSON is the shipping format; anything unrecognized falls back to it.
		handler = slog.NewJSONHandler(w, opts)
	}

	// Identity attributes ride along on every line emitted by this logger
	// or any child derived from it.
	return slog.New(handler).With(
		slog.String("service", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

// parseLevel converts a level name to slog.Level. Unknown values mean INFO.
func parseLevel(s string) slog.Level {
	var level slog.Level
	// UnmarshalText accepts any casing (INFO, info, Info).
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
