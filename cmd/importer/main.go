package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deckbase/cardsync/internal/breaker"
	"github.com/deckbase/cardsync/internal/config"
	"github.com/deckbase/cardsync/internal/domain"
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

// cmd/importer runs import jobs without the API server: it optionally
// creates one job from the flags, then drains every pending job and exits.
func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "cardsync-importer",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	kind := flag.String("kind", "", "Create a job of this kind before draining (single_set, full_catalog, backfill_set)")
	setCode := flag.String("set", "", "Set code for set-scoped job kinds")
	priority := flag.Int("priority", 0, "Priority of the created job")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	jobRepo := repository.NewJobRepository(db)
	importedRepo := repository.NewImportedCardRepository(db)
	auditRepo := repository.NewSetAuditRepository(db)

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

	limiter := ratelimit.New(&ratelimit.Config{
		MaxPerSecond: cfg.Upstream.MaxPerSecond,
		MinGap:       time.Duration(cfg.Upstream.MinGapMs) * time.Millisecond,
	})
	defer limiter.Close()

	upstreamClient := upstream.NewClient(&upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: cfg.Upstream.Timeout,
	}, limiter)

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

	// Recover anything a dead process left behind before claiming work
	recoveryService := service.NewRecoveryService(jobRepo, appLogger)
	staleness := time.Duration(cfg.Importer.StalenessMinutes) * time.Minute
	if _, err := recoveryService.RecoverOrphans(ctx, staleness); err != nil {
		appLogger.WithError(err).Error("Startup orphan recovery failed")
	}

	// Ctrl-C asks the active run to checkpoint and stop
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		appLogger.Warn("Interrupt received, cancelling active run")
		importService.Registry().CancelAll("cancelled by shutdown")
	}()

	if *kind != "" {
		job, err := importService.CreateJob(ctx, &service.CreateJobInput{
			Kind:     domain.JobKind(*kind),
			SetCode:  *setCode,
			Priority: *priority,
		})
		if err != nil && !errors.Is(err, repository.ErrActiveJobExists) {
			appLogger.WithError(err).Fatal("Failed to create job")
		}
		if job != nil {
			appLogger.WithFields(logger.Fields{
				logger.FieldJobID: job.ID,
				"kind":            job.Kind,
			}).Info("Job created")
		}
	}

	ran := 0
	for {
		ok, err := importService.RunOnce(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to claim job")
		}
		if !ok {
			break
		}
		ran++
	}

	appLogger.WithField("jobs_run", ran).Info("Importer finished")
}
