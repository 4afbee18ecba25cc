// Package main initializes and runs the brokkr webhook service.
//
// It acts as the composition root: wiring the platform client, the firmware
// catalog cache, the rule engine, the updater pipeline, and the optional
// persistence layers, then handling the HTTP server lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brokkr-labs/brokkr/internal/catalog"
	"github.com/brokkr-labs/brokkr/internal/config"
	"github.com/brokkr-labs/brokkr/internal/database"
	"github.com/brokkr-labs/brokkr/internal/logger"
	"github.com/brokkr-labs/brokkr/internal/observability"
	"github.com/brokkr-labs/brokkr/internal/platform"
	"github.com/brokkr-labs/brokkr/internal/ruleengine"
	"github.com/brokkr-labs/brokkr/internal/store"
	"github.com/brokkr-labs/brokkr/internal/updater"
	"github.com/brokkr-labs/brokkr/internal/webhook"
)

// poolMonitorInterval is how often database pool statistics flow into the
// metrics registry.
const poolMonitorInterval = 15 * time.Second

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.New(&cfg.App)
	slog.SetDefault(appLogger)
	cfg.LogConfig(appLogger)

	// Root context for background workers; cancelled on shutdown.
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), appLogger))
	defer cancel()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------

	// Health checkers accumulate as optional subsystems come online.
	var checkers []observability.Checker

	// Decision log (optional)
	var (
		recorder  updater.Recorder
		decisions webhook.DecisionReader
	)
	if cfg.Database.IsConfigured() {
		pool, err := database.NewPostgresPool(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()

		go database.RunPoolMonitor(ctx, pool, poolMonitorInterval)

		repo := store.NewPostgresStore(pool, cfg.Platform.ProjectUID)
		recorder = repo
		decisions = repo
		checkers = append(checkers, database.NewHealthChecker(pool))
	} else {
		appLogger.Info("decision log disabled, running without persistence")
	}

	// Redis snapshot store (optional) keeps the catalog warm across restarts
	var snapshots catalog.SnapshotStore
	if cfg.Redis.IsConfigured() {
		redisClient, err := catalog.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()

		snapshots = catalog.NewRedisStore(redisClient, cfg.Catalog.TTL)
		checkers = append(checkers, catalog.NewHealthChecker(redisClient))
	}

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------

	// Platform client bound to the configured project
	client := platform.NewClient(appLogger, &cfg.Platform)
	project := platform.NewProject(client, cfg.Platform.ProjectUID)
	checkers = append(checkers, observability.CheckFunc("platform", client.Ping))

	// Firmware catalog cache in front of the platform
	cache := catalog.NewCache(appLogger, &cfg.Catalog, project.CatalogFetch, snapshots)

	// Rule engine + rule set
	engine := ruleengine.New(appLogger)

	rules := ruleengine.DefaultRuleSet()
	if cfg.Rules.Path != "" {
		rules, err = ruleengine.LoadRuleSet(cfg.Rules.Path)
		if err != nil {
			return fmt.Errorf("failed to load rule set: %w", err)
		}
	}
	appLogger.Info("rule set loaded",
		slog.String("path", cfg.Rules.Path),
		slog.Int("rules", rules.Len()),
	)

	// Updater pipeline
	checks := updater.New(appLogger, updater.Config{
		ProjectUID:     cfg.Platform.ProjectUID,
		TargetPriority: cfg.Rules.TargetPriority,
	}, engine, rules, cache, project, recorder)

	// -------------------------------------------------------------------------
	// 4. Background Workers
	// -------------------------------------------------------------------------

	// Observability server (metrics + probes) on its own port
	obs := observability.NewServer(appLogger, &cfg.Observability, checkers...)
	obs.Start()

	// Catalog warmer
	if cfg.Catalog.WarmInterval > 0 {
		warmer := catalog.NewWarmer(appLogger, cache, cfg.Platform.ProjectUID, cfg.Catalog.WarmInterval)
		go func() {
			if err := warmer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("catalog warmer stopped", slog.Any("error", err))
			}
		}()
	}

	// -------------------------------------------------------------------------
	// 5. Webhook HTTP Server
	// -------------------------------------------------------------------------

	api := webhook.NewAPI(appLogger, checks, decisions, cfg.Auth.Token, cfg.Server.MaxBodyBytes)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		appLogger.Info("webhook server listening",
			slog.String("addr", server.Addr),
			slog.Bool("tls", cfg.Server.TLSEnabled),
		)

		var serveErr error
		if cfg.Server.TLSEnabled {
			serveErr = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("webhook server failed: %w", serveErr)
		}
	}()

	// -------------------------------------------------------------------------
	// 6. Graceful Shutdown
	// -------------------------------------------------------------------------

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		appLogger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	// Stop background workers first, then drain in-flight requests.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook server shutdown failed: %w", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("observability server shutdown failed", slog.Any("error", err))
	}

	appLogger.Info("service exited successfully")
	return nil
}
