package catalog

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/brokkr-labs/brokkr/internal/observability"
)

// Warmer keeps the catalog for one project warm by re-reading it on a
// fixed cadence. With the warmer running, webhook requests almost never
// arrive at an expired entry, so they almost never wait on the platform.
type Warmer struct {
	logger     *slog.Logger
	cache      *Cache
	projectUID string
	interval   time.Duration
}

// NewWarmer creates a warmer for the given project.
func NewWarmer(logger *slog.Logger, cache *Cache, projectUID string, interval time.Duration) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		panic("catalog: cache cannot be nil")
	}
	if projectUID == "" {
		panic("catalog: project UID cannot be empty")
	}

	if interval < time.Second {
		interval = 10 * time.Minute // Safe default
	}

	return &Warmer{
		logger:     logger,
		cache:      cache,
		projectUID: projectUID,
		interval:   interval,
	}
}

// Run starts the warm loop. It blocks until the context is cancelled.
func (w *Warmer) Run(ctx context.Context) error {
	w.logger.Info("starting catalog warmer",
		slog.String("project_uid", w.projectUID),
		slog.String("interval", w.interval.String()),
	)

	// Warm once immediately on startup
	if err := w.warm(ctx); err != nil {
		w.logger.Error("initial catalog warm failed", slog.String("error", err.Error()))
	}

	timer := time.NewTimer(w.jittered())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("catalog warmer stopping...")
			return nil
		case <-timer.C:
			if err := w.warm(ctx); err != nil {
				// Log the error but keep the loop alive; the cache still
				// serves its previous copy and the next cycle retries.
				w.logger.Error("catalog warm cycle failed", slog.String("error", err.Error()))
			}
			timer.Reset(w.jittered())
		}
	}
}

// warm performs a single warm cycle.
func (w *Warmer) warm(ctx context.Context) error {
	start := time.Now()

	// A stale serve still failed to refresh, and the point of warming is a
	// fresh catalog, so the cycle counts as failed either way.
	_, err := w.cache.Get(ctx, w.projectUID)
	if err != nil {
		observability.WarmerCyclesTotal.WithLabelValues("fail").Inc()
		return err
	}

	observability.WarmerCyclesTotal.WithLabelValues("success").Inc()
	w.logger.Debug("catalog warm cycle completed",
		slog.String("project_uid", w.projectUID),
		slog.String("duration", time.Since(start).String()),
	)
	return nil
}

// jittered spreads cycles by up to ±10% so replicas sharing a project do
// not refresh in lockstep.
func (w *Warmer) jittered() time.Duration {
	spread := int64(w.interval / 10)
	if spread <= 0 {
		return w.interval
	}
	return w.interval + time.Duration(rand.Int63n(2*spread)-spread)
}
