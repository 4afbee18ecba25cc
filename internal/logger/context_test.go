package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	t.Parallel()

	t.Run("Should return the injected logger instance when present", func(t *testing.T) {
		// io.Discard keeps test output clean; pointer identity is what matters.
		expected := slog.New(slog.NewJSONHandler(io.Discard, nil))
		ctx := WithContext(context.Background(), expected)

		got := FromContext(ctx)

		assert.Same(t, expected, got)
	})

	t.Run("Should fall back to the global default when context is empty", func(t *testing.T) {
		currentDefault := slog.Default()

		got := FromContext(context.Background())

		assert.Same(t, currentDefault, got, "FromContext must never return nil")
	})
}
