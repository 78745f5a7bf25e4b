package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deckbase/cardsync/internal/domain"
	"gorm.io/gorm"
)

// ErrActiveJobExists is returned when a job for the same (tenant, set, kind)
// is already pending or running.
var ErrActiveJobExists = errors.New("an active job for this set already exists")

// JobFilter narrows job listings.
type JobFilter struct {
	TenantID string
	Status   domain.JobStatus
	SetCode  string
	Limit    int
	Offset   int
}

// JobRepository handles import job persistence.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job after enforcing the single-active-job invariant:
// at most one job per (tenant, set, kind) may be pending or running.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record to persist.
// Returns:
//   - error: ErrActiveJobExists on conflict, or the insert error.
func (r *JobRepository) Create(ctx context.Context, job *domain.ImportJob) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&domain.ImportJob{}).
			Where("tenant_id = ? AND set_code = ? AND kind = ? AND status IN ?",
				job.TenantID, job.SetCode, job.Kind,
				[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusRunning}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrActiveJobExists
		}
		return tx.Create(job).Error
	})
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.ImportJob: job record if found.
//   - error: non-nil if lookup fails.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.ImportJob, error) {
	var job domain.ImportJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// List retrieves jobs matching the filter, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - filter: optional tenant/status/set narrowing plus pagination.
// Returns:
//   - []domain.ImportJob: matching job records.
//   - error: non-nil if the query fails.
func (r *JobRepository) List(ctx context.Context, filter *JobFilter) ([]domain.ImportJob, error) {
	query := r.db.WithContext(ctx).Model(&domain.ImportJob{})
	if filter != nil {
		if filter.TenantID != "" {
			query = query.Where("tenant_id = ?", filter.TenantID)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.SetCode != "" {
			query = query.Where("set_code = ?", filter.SetCode)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		query = query.Offset(filter.Offset)
	}

	var jobs []domain.ImportJob
	if err := query.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ClaimNextPending atomically claims the most eligible pending job: highest
// priority first, oldest first within a priority. The claim is an optimistic
// conditional update so it is safe across processes and works on both
// drivers.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - *domain.ImportJob: the claimed job in Running state, or nil when no
//     pending job exists.
//   - error: non-nil if the query fails.
func (r *JobRepository) ClaimNextPending(ctx context.Context) (*domain.ImportJob, error) {
	for {
		var job domain.ImportJob
		err := r.db.WithContext(ctx).
			Where("status = ?", domain.JobStatusPending).
			Order("priority DESC, created_at ASC").
			First(&job).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}

		now := time.Now()
		res := r.db.WithContext(ctx).Model(&domain.ImportJob{}).
			Where("id = ? AND status = ?", job.ID, domain.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     domain.JobStatusRunning,
				"started_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race to another claimer; pick the next candidate.
			continue
		}

		job.Status = domain.JobStatusRunning
		job.StartedAt = &now
		job.UpdatedAt = now
		return &job, nil
	}
}

// UpdateProgress persists the job's running counters, checkpoint, and error
// log. The checkpoint only moves forward.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job carrying the new totals.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) UpdateProgress(ctx context.Context, job *domain.ImportJob) error {
	return r.db.WithContext(ctx).Model(&domain.ImportJob{}).
		Where("id = ? AND checkpoint <= ?", job.ID, job.Checkpoint).
		Updates(map[string]interface{}{
			"records_total":     job.RecordsTotal,
			"records_processed": job.RecordsProcessed,
			"writes_created":    job.WritesCreated,
			"skipped_count":     job.SkippedCount,
			"error_count":       job.ErrorCount,
			"checkpoint":        job.Checkpoint,
			"record_errors":     job.RecordErrors,
			"updated_at":        time.Now(),
		}).Error
}

// MarkTerminal moves a job into a terminal state exactly once.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - status: the terminal status to set.
//   - summary: free-text error or completion summary.
// Returns:
//   - error: non-nil if the update fails or the job was not running.
func (r *JobRepository) MarkTerminal(ctx context.Context, id string, status domain.JobStatus, summary string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.ImportJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":        status,
			"error_summary": summary,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s is not running", id)
	}
	return nil
}

// CancelPending moves a job that has not started yet straight to cancelled.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - summary: reason recorded on the job.
// Returns:
//   - error: non-nil if the update fails or the job was not pending.
func (r *JobRepository) CancelPending(ctx context.Context, id, summary string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.ImportJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":        domain.JobStatusCancelled,
			"error_summary": summary,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s is not pending", id)
	}
	return nil
}

// FailStale marks every running job whose last update is older than the
// threshold as failed, in one atomic update, preserving checkpoints.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - threshold: staleness cutoff.
// Returns:
//   - []domain.ImportJob: the jobs that were recovered.
//   - error: non-nil if the scan or update fails.
func (r *JobRepository) FailStale(ctx context.Context, threshold time.Duration) ([]domain.ImportJob, error) {
	cutoff := time.Now().Add(-threshold)

	var stale []domain.ImportJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.JobStatusRunning, cutoff).
		Find(&stale).Error
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(stale))
	for _, job := range stale {
		ids = append(ids, job.ID)
	}

	summary := fmt.Sprintf(
		"job abandoned: no progress update for over %s; marked failed by orphan recovery, checkpoint preserved",
		threshold)

	now := time.Now()
	err = r.db.WithContext(ctx).Model(&domain.ImportJob{}).
		Where("id IN ? AND status = ?", ids, domain.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":        domain.JobStatusFailed,
			"error_summary": summary,
			"completed_at":  now,
			"updated_at":    now,
		}).Error
	if err != nil {
		return nil, err
	}
	return stale, nil
}
