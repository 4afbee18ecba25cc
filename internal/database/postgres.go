// Package database provides the PostgreSQL connection pool for the decision
// log, plus the sidecar goroutine that exports pool statistics as metrics.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brokkr-labs/brokkr/internal/config"
	"github.com/brokkr-labs/brokkr/internal/logger"
	"github.com/brokkr-labs/brokkr/internal/observability"
)

// NewPostgresPool initializes a PostgreSQL connection pool from the decision
// log configuration. It returns the pool directly, allowing the caller to
// manage the lifecycle via Dependency Injection.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	log := logger.FromContext(ctx)

	// 1. Parse the connection string
	poolCfg, parseErr := pgxpool.ParseConfig(cfg.ConnectionString())
	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", parseErr)
	}

	// 2. Apply pool tuning from configuration
	// MaxConns prevents the app from starving the DB (connection exhaustion).
	// MinConns keeps some connections warm to reduce latency for new requests.
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	// 3. Create the pool with a bounded timeout for fail-fast behavior
	initCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(initCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// 4. Verify connectivity. In container orchestration the database often
	// becomes reachable moments after the service starts, so a failed ping
	// is retried instead of aborting the boot.
	if err := pingWithRetry(ctx, pool, cfg, log); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("connected to postgres",
		slog.Int("max_conns", cfg.MaxConns),
		slog.Int("min_conns", cfg.MinConns),
	)
	return pool, nil
}

// pingWithRetry pings the database up to PingMaxRetries+1 times with a fixed
// backoff between attempts.
func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, cfg *config.DatabaseConfig, log *slog.Logger) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.PingMaxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		lastErr = pool.Ping(pingCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if attempt >= cfg.PingMaxRetries {
			break
		}

		log.Warn("database ping failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", cfg.PingBackoff),
			slog.Any("error", lastErr),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("database ping aborted: %w", ctx.Err())
		case <-time.After(cfg.PingBackoff):
		}
	}

	return fmt.Errorf("failed to ping database after %d attempts: %w", cfg.PingMaxRetries+1, lastErr)
}

// RunPoolMonitor samples pool statistics into the Prometheus registry every
// interval. It blocks until ctx is cancelled and is meant to run as a
// goroutine next to the pool it watches.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// pgx reports cumulative totals. Prometheus counters only move forward,
	// so each sample feeds in the delta since the previous one.
	var (
		lastAcquires int64
		lastWaits    int64
		lastWaitTime time.Duration
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()

			observability.DBPoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))
			observability.DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
			observability.DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
			observability.DBPoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))

			if d := stat.AcquireCount() - lastAcquires; d > 0 {
				observability.DBPoolAcquireCount.Add(float64(d))
				lastAcquires = stat.AcquireCount()
			}
			if d := stat.EmptyAcquireCount() - lastWaits; d > 0 {
				observability.DBPoolWaitCount.Add(float64(d))
				lastWaits = stat.EmptyAcquireCount()
			}
			if d := stat.AcquireDuration() - lastWaitTime; d > 0 {
				observability.DBPoolAcquireDuration.Add(d.Seconds())
				lastWaitTime = stat.AcquireDuration()
			}
		}
	}
}
