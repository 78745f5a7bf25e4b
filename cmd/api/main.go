package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deckbase/cardsync/internal/api"
	"github.com/deckbase/cardsync/internal/breaker"
	"github.com/deckbase/cardsync/internal/config"
	"github.com/deckbase/cardsync/internal/downstream"
	"github.com/deckbase/cardsync/internal/logger"
	"github.com/deckbase/cardsync/internal/ratelimit"
	"github.com/deckbase/cardsync/internal/repository"
	"github.com/deckbase/cardsync/internal/service"
	"github.com/deckbase/cardsync/internal/source"
	"github.com/deckbase/cardsync/internal/source/catalogapi"
	"github.com/deckbase/cardsync/internal/source/mirrorapi"
	"github.com/deckbase/cardsync/internal/storage"
	"github.com/deckbase/cardsync/internal/upstream"
)

func main() {
	// Initialize logger from environment (rotation, multi-output)
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	jobRepo := repository.NewJobRepository(db)
	importedRepo := repository.NewImportedCardRepository(db)
	auditRepo := repository.NewSetAuditRepository(db)

	// Initialize the snapshot cache store (local disk or S3-compatible)
	store, err := storage.NewSnapshotStore(&storage.Config{
		Backend:  cfg.Snapshot.Backend,
		LocalDir: cfg.Snapshot.Dir,
		S3: storage.S3Config{
			Endpoint:  cfg.Snapshot.S3.Endpoint,
			AccessKey: cfg.Snapshot.S3.AccessKey,
			SecretKey: cfg.Snapshot.S3.SecretKey,
			UseSSL:    cfg.Snapshot.S3.UseSSL,
			Bucket:    cfg.Snapshot.S3.Bucket,
			Region:    cfg.Snapshot.S3.Region,
		},
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize snapshot store")
	}

	ctx := context.Background()
	if s3Store, ok := store.(*storage.S3Store); ok {
		if err := s3Store.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure snapshot bucket")
		}
	}

	// The rate limiter is shared by every upstream call in the process
	limiter := ratelimit.New(&ratelimit.Config{
		MaxPerSecond: cfg.Upstream.MaxPerSecond,
		MinGap:       time.Duration(cfg.Upstream.MinGapMs) * time.Millisecond,
	})
	defer limiter.Close()

	upstreamClient := upstream.NewClient(&upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: cfg.Upstream.Timeout,
	}, limiter)

	// The primary source gets a fresh circuit breaker per job run
	primary := func(br *breaker.Breaker) source.Source {
		return catalogapi.New(upstreamClient, store, br, &catalogapi.Config{
			SnapshotTTL: cfg.Snapshot.TTL,
		}, appLogger)
	}

	var fallback source.Source
	if cfg.Mirror.Enabled {
		fallback = mirrorapi.New(&mirrorapi.Config{
			BaseURL: cfg.Mirror.BaseURL,
			APIKey:  cfg.Mirror.APIKey,
		})
	}

	writer := downstream.NewClient(&downstream.Config{
		BaseURL: cfg.Downstream.BaseURL,
		Token:   cfg.Downstream.Token,
		Timeout: cfg.Downstream.Timeout,
	})

	importService := service.NewImportService(
		cfg, jobRepo, importedRepo, auditRepo,
		writer, primary, fallback, appLogger,
	)
	recoveryService := service.NewRecoveryService(jobRepo, appLogger)

	// Recover jobs orphaned by a previous process before dispatching new ones
	staleness := time.Duration(cfg.Importer.StalenessMinutes) * time.Minute
	if n, err := recoveryService.RecoverOrphans(ctx, staleness); err != nil {
		appLogger.WithError(err).Error("Startup orphan recovery failed")
	} else if n > 0 {
		appLogger.WithField("count", n).Warn("Recovered orphaned jobs at startup")
	}

	// Background loops: job dispatcher and periodic orphan recovery
	loopCtx, stopLoops := context.WithCancel(ctx)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		importService.RunDispatcher(loopCtx)
	}()
	go recoveryService.RunPeriodic(loopCtx, cfg.Importer.RecoveryInterval, staleness)

	// Setup router
	router := api.SetupRouter(importService, &cfg.Server, appLogger)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")

	// Signal every active run to checkpoint and stop, stop the loops, and
	// wait for the dispatcher to hand the in-flight job back.
	importService.Registry().CancelAll("cancelled by shutdown")
	stopLoops()
	select {
	case <-dispatcherDone:
	case <-time.After(30 * time.Second):
		appLogger.Warn("Dispatcher did not stop in time")
	}

	// Graceful HTTP shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
