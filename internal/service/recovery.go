package service

import (
	"context"
	"time"

	"github.com/deckbase/cardsync/internal/logger"
	"github.com/deckbase/cardsync/internal/repository"
)

// RecoveryService reaps jobs left in Running by a process that died without
// a chance to self-report. Safe to run repeatedly and concurrently: a job
// already out of Running is simply not matched.
type RecoveryService struct {
	jobs   *repository.JobRepository
	logger *logger.Logger
}

// NewRecoveryService creates a new recovery service.
func NewRecoveryService(jobs *repository.JobRepository, log *logger.Logger) *RecoveryService {
	return &RecoveryService{jobs: jobs, logger: log}
}

// RecoverOrphans fails every running job whose last progress update is older
// than the threshold, in one atomic update. Checkpoints are preserved, so a
// recovered job can be retried and resume where it stopped.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - staleness: how long a running job may go without an update.
// Returns:
//   - int: number of jobs recovered.
//   - error: non-nil if the scan or update fails.
func (s *RecoveryService) RecoverOrphans(ctx context.Context, staleness time.Duration) (int, error) {
	recovered, err := s.jobs.FailStale(ctx, staleness)
	if err != nil {
		return 0, err
	}

	for _, job := range recovered {
		s.logger.WithFields(logger.Fields{
			logger.FieldJobID:   job.ID,
			logger.FieldSetCode: job.SetCode,
			"checkpoint":        job.Checkpoint,
		}).Warn("Orphaned job marked failed")
	}
	return len(recovered), nil
}

// RunPeriodic recovers orphans on a timer until ctx is cancelled.
// Parameters:
//   - ctx: loop lifetime.
//   - interval: time between recovery sweeps.
//   - staleness: threshold passed to each sweep.
// Returns: none.
func (s *RecoveryService) RunPeriodic(ctx context.Context, interval, staleness time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RecoverOrphans(ctx, staleness); err != nil {
				s.logger.WithError(err).Error("Orphan recovery sweep failed")
			}
		}
	}
}
