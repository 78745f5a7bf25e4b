package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/deckbase/cardsync/internal/breaker"
	"github.com/deckbase/cardsync/internal/config"
	"github.com/deckbase/cardsync/internal/domain"
	"github.com/deckbase/cardsync/internal/downstream"
	"github.com/deckbase/cardsync/internal/logger"
	"github.com/deckbase/cardsync/internal/repository"
	"github.com/deckbase/cardsync/internal/source"
	"github.com/deckbase/cardsync/internal/upstream"
)

var (
	// ErrSetCodeRequired is returned when a set-scoped job is created without a set.
	ErrSetCodeRequired = errors.New("set_code is required for this job kind")

	// ErrInvalidKind is returned for an unknown job kind.
	ErrInvalidKind = errors.New("invalid job kind")

	// ErrSetNotFound is returned when the upstream catalog has no such set.
	ErrSetNotFound = errors.New("set not found upstream")

	// ErrNotCancellable is returned when cancelling a job that is neither
	// pending nor running.
	ErrNotCancellable = errors.New("job is not in a cancellable state")

	// ErrNotRetryable is returned when retrying a job that is not failed or
	// cancelled.
	ErrNotRetryable = errors.New("only failed or cancelled jobs can be retried")
)

// SourceFactory builds a primary source bound to one run's circuit breaker.
type SourceFactory func(br *breaker.Breaker) source.Source

// ImportService owns the import job lifecycle: creation, dispatch, the run
// loop, cancellation, and retry.
type ImportService struct {
	cfg      *config.Config
	jobs     *repository.JobRepository
	imported *repository.ImportedCardRepository
	audits   *repository.SetAuditRepository
	writer   downstream.Writer
	primary  SourceFactory
	fallback source.Source
	registry *RunRegistry
	logger   *logger.Logger
}

// NewImportService creates a new import service.
func NewImportService(
	cfg *config.Config,
	jobs *repository.JobRepository,
	imported *repository.ImportedCardRepository,
	audits *repository.SetAuditRepository,
	writer downstream.Writer,
	primary SourceFactory,
	fallback source.Source,
	log *logger.Logger,
) *ImportService {
	return &ImportService{
		cfg:      cfg,
		jobs:     jobs,
		imported: imported,
		audits:   audits,
		writer:   writer,
		primary:  primary,
		fallback: fallback,
		registry: NewRunRegistry(),
		logger:   log,
	}
}

// Registry exposes the run registry so the shutdown path can signal active
// runs.
func (s *ImportService) Registry() *RunRegistry {
	return s.registry
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *ImportService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// CreateJobInput carries the parameters of a new import job.
type CreateJobInput struct {
	Kind     domain.JobKind
	SetCode  string
	Priority int
}

// CreateJob validates and persists a new pending job. At most one job per
// (tenant, set, kind) may be pending or running at a time.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - in: job parameters.
// Returns:
//   - *domain.ImportJob: the created job.
//   - error: ErrInvalidKind, ErrSetCodeRequired, ErrSetNotFound,
//     repository.ErrActiveJobExists, or a persistence error.
func (s *ImportService) CreateJob(ctx context.Context, in *CreateJobInput) (*domain.ImportJob, error) {
	switch in.Kind {
	case domain.JobKindFullCatalog:
		in.SetCode = ""
	case domain.JobKindSingleSet, domain.JobKindBackfillSet:
		if in.SetCode == "" {
			return nil, ErrSetCodeRequired
		}
		// Unknown sets are a creation-time validation failure, not a run
		// failure.
		src := s.primary(breaker.New(s.breakerConfig()))
		if _, err := src.SetInfo(ctx, in.SetCode); err != nil {
			if errors.Is(err, upstream.ErrNotFound) {
				return nil, ErrSetNotFound
			}
			return nil, fmt.Errorf("failed to look up set %s: %w", in.SetCode, err)
		}
	default:
		return nil, ErrInvalidKind
	}

	job := &domain.ImportJob{
		ID:       uuid.New().String(),
		TenantID: s.cfg.Importer.TenantID,
		Kind:     in.Kind,
		SetCode:  in.SetCode,
		Status:   domain.JobStatusPending,
		Priority: in.Priority,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID:   job.ID,
		logger.FieldSetCode: job.SetCode,
		"kind":              job.Kind,
	}).Info("Import job created")
	return job, nil
}

// GetJob retrieves one job by id.
func (s *ImportService) GetJob(ctx context.Context, id string) (*domain.ImportJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// ListJobs retrieves jobs matching the filter, newest first.
func (s *ImportService) ListJobs(ctx context.Context, filter *repository.JobFilter) ([]domain.ImportJob, error) {
	return s.jobs.List(ctx, filter)
}

// CancelJob requests cancellation of a pending or running job. For a running
// job this only signals the run; the processor checkpoints the in-flight
// group and transitions the job at its next between-group check.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - error: ErrNotCancellable if the job is already terminal.
func (s *ImportService) CancelJob(ctx context.Context, id string) error {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch job.Status {
	case domain.JobStatusPending:
		return s.jobs.CancelPending(ctx, id, "cancelled before start")
	case domain.JobStatusRunning:
		if s.registry.Cancel(id, "cancelled on request") {
			return nil
		}
		// Running in the database but not in this process: another replica
		// owns it, or it is an orphan. Orphan recovery will reap the latter.
		return fmt.Errorf("job %s is not running in this process", id)
	default:
		return ErrNotCancellable
	}
}

// RetryJob creates a new job that resumes a failed or cancelled one. The new
// job inherits the original's kind, set, priority, and checkpoint; the
// original row is kept as history.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: the terminal job to resume.
// Returns:
//   - *domain.ImportJob: the new pending job.
//   - error: ErrNotRetryable, repository.ErrActiveJobExists, or a
//     persistence error.
func (s *ImportService) RetryJob(ctx context.Context, id string) (*domain.ImportJob, error) {
	orig, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != domain.JobStatusFailed && orig.Status != domain.JobStatusCancelled {
		return nil, ErrNotRetryable
	}

	job := &domain.ImportJob{
		ID:         uuid.New().String(),
		TenantID:   orig.TenantID,
		Kind:       orig.Kind,
		SetCode:    orig.SetCode,
		Status:     domain.JobStatusPending,
		Priority:   orig.Priority,
		Checkpoint: orig.Checkpoint,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		"resumed_from":    orig.ID,
		"checkpoint":      job.Checkpoint,
	}).Info("Retry job created")
	return job, nil
}

// RunDispatcher polls for pending jobs and runs them one at a time until ctx
// is cancelled. Claims are atomic, so multiple replicas can dispatch safely.
// Parameters:
//   - ctx: dispatcher lifetime; cancelling it stops polling after the
//     current job finishes.
// Returns: none.
func (s *ImportService) RunDispatcher(ctx context.Context) {
	interval := s.cfg.Importer.DispatchInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	s.logger.WithField("interval", interval.String()).Info("Job dispatcher started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Job dispatcher stopped")
			return
		case <-ticker.C:
		}

		for {
			ran, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.WithError(err).Error("Failed to claim pending job")
				break
			}
			if !ran {
				break
			}

			// Bail out between jobs on shutdown.
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// RunOnce claims the next pending job, if any, and runs it to a terminal
// state synchronously.
// Parameters:
//   - ctx: context for the claim; the run itself is not bound to it.
// Returns:
//   - bool: whether a job was claimed and run.
//   - error: non-nil if the claim fails.
func (s *ImportService) RunOnce(ctx context.Context) (bool, error) {
	job, err := s.jobs.ClaimNextPending(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	s.runJob(job)
	return true, nil
}

func (s *ImportService) breakerConfig() *breaker.Config {
	bc := s.cfg.Importer.Breaker
	return &breaker.Config{
		FailureThreshold: bc.FailureThreshold,
		Cooldown:         bc.Cooldown,
		MaxRetries:       bc.MaxRetries,
		RetryBackoff:     bc.RetryBackoff,
		Retryable:        upstream.IsRetryable,
	}
}
