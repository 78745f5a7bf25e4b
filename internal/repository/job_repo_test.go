package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/deckbase/cardsync/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.ImportJob{}, &domain.ImportedCard{}, &domain.SetAudit{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func pendingJob(setCode string, priority int, createdAt time.Time) *domain.ImportJob {
	return &domain.ImportJob{
		ID:        uuid.New().String(),
		TenantID:  "default",
		Kind:      domain.JobKindSingleSet,
		SetCode:   setCode,
		Status:    domain.JobStatusPending,
		Priority:  priority,
		CreatedAt: createdAt,
	}
}

func TestJobRepository_CreateRejectsDuplicateActive(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	first := pendingJob("ab1", 0, time.Now())
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dup := pendingJob("ab1", 0, time.Now())
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrActiveJobExists) {
		t.Errorf("duplicate Create() error = %v, want ErrActiveJobExists", err)
	}

	// A different kind for the same set is allowed.
	backfill := pendingJob("ab1", 0, time.Now())
	backfill.Kind = domain.JobKindBackfillSet
	if err := repo.Create(ctx, backfill); err != nil {
		t.Errorf("Create() for different kind error = %v", err)
	}

	// Once the first job is terminal a new one may be created.
	if _, err := repo.ClaimNextPending(ctx); err != nil {
		t.Fatalf("ClaimNextPending() error = %v", err)
	}
	if err := repo.MarkTerminal(ctx, first.ID, domain.JobStatusCompleted, ""); err != nil {
		t.Fatalf("MarkTerminal() error = %v", err)
	}
	again := pendingJob("ab1", 0, time.Now())
	if err := repo.Create(ctx, again); err != nil {
		t.Errorf("Create() after completion error = %v", err)
	}
}

func TestJobRepository_ClaimOrdering(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	older := pendingJob("aa1", 0, base)
	newer := pendingJob("bb2", 0, base.Add(time.Minute))
	urgent := pendingJob("cc3", 5, base.Add(2*time.Minute))
	for _, job := range []*domain.ImportJob{older, newer, urgent} {
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	wantOrder := []string{urgent.ID, older.ID, newer.ID}
	for i, want := range wantOrder {
		job, err := repo.ClaimNextPending(ctx)
		if err != nil {
			t.Fatalf("ClaimNextPending() #%d error = %v", i, err)
		}
		if job == nil || job.ID != want {
			t.Fatalf("claim #%d = %v, want job %s", i, job, want)
		}
		if job.Status != domain.JobStatusRunning || job.StartedAt == nil {
			t.Errorf("claimed job not marked running: %+v", job)
		}
	}

	job, err := repo.ClaimNextPending(ctx)
	if err != nil || job != nil {
		t.Errorf("empty claim = (%v, %v), want (nil, nil)", job, err)
	}
}

func TestJobRepository_UpdateProgressIsMonotonic(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := pendingJob("ab1", 0, time.Now())
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	job.Checkpoint = 200
	job.RecordsProcessed = 200
	if err := repo.UpdateProgress(ctx, job); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	// A stale writer with an older checkpoint must not move it backwards.
	stale := *job
	stale.Checkpoint = 100
	stale.RecordsProcessed = 100
	if err := repo.UpdateProgress(ctx, &stale); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Checkpoint != 200 {
		t.Errorf("checkpoint = %d, want 200", got.Checkpoint)
	}
}

func TestJobRepository_MarkTerminalOnlyFromRunning(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := pendingJob("ab1", 0, time.Now())
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.MarkTerminal(ctx, job.ID, domain.JobStatusCompleted, ""); err == nil {
		t.Error("MarkTerminal() on pending job should fail")
	}
	if err := repo.MarkTerminal(ctx, job.ID, domain.JobStatusRunning, ""); err == nil {
		t.Error("MarkTerminal() with non-terminal status should fail")
	}

	if _, err := repo.ClaimNextPending(ctx); err != nil {
		t.Fatalf("ClaimNextPending() error = %v", err)
	}
	if err := repo.MarkTerminal(ctx, job.ID, domain.JobStatusFailed, "boom"); err != nil {
		t.Fatalf("MarkTerminal() error = %v", err)
	}

	// Terminal is final: a second transition is rejected.
	if err := repo.MarkTerminal(ctx, job.ID, domain.JobStatusCompleted, ""); err == nil {
		t.Error("MarkTerminal() on terminal job should fail")
	}
}

func TestJobRepository_CancelPending(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := pendingJob("ab1", 0, time.Now())
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.CancelPending(ctx, job.ID, "not needed"); err != nil {
		t.Fatalf("CancelPending() error = %v", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.JobStatusCancelled || got.ErrorSummary != "not needed" {
		t.Errorf("job = %+v, want cancelled with reason", got)
	}

	if err := repo.CancelPending(ctx, job.ID, "again"); err == nil {
		t.Error("CancelPending() on non-pending job should fail")
	}
}
