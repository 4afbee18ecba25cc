package catalog

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/brokkr-labs/brokkr/internal/config"
	"github.com/brokkr-labs/brokkr/internal/logger"
)

// NewRedisClient connects to the Redis instance backing the shared catalog
// snapshot layer. It configures pooling and TLS from the given config and
// verifies connectivity with retried pings before handing the client out,
// so a misconfigured address fails at startup and not on the first webhook.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	opts := &redis.Options{
		Addr:            cfg.Address(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	if err := pingWithRetry(ctx, client, cfg); err != nil {
		return nil, err
	}
	return client, nil
}

// pingWithRetry verifies connectivity, retrying with exponential backoff.
// Redis usually comes up a beat after the service in orchestrated
// deployments; a few patient pings absorb that race.
func pingWithRetry(ctx context.Context, client *redis.Client, cfg *config.RedisConfig) error {
	log := logger.FromContext(ctx)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.PingBackoff
	policy.MaxInterval = cfg.PingBackoff * 8

	var lastErr error
	for attempt := 1; attempt <= cfg.PingMaxRetries; attempt++ {
		log.Info("redis ping attempt",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", cfg.PingMaxRetries),
		)

		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		lastErr = client.Ping(pingCtx).Err()
		cancel()

		if lastErr == nil {
			log.Info("redis ping successful", slog.Int("attempt", attempt))
			return nil
		}

		log.Warn("redis ping failed",
			slog.Int("attempt", attempt),
			slog.Any("error", lastErr),
		)

		if attempt == cfg.PingMaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis connection aborted: %w", ctx.Err())
		case <-time.After(policy.NextBackOff()):
		}
	}

	return fmt.Errorf("failed to connect to redis after %d retries: %w", cfg.PingMaxRetries, lastErr)
}
