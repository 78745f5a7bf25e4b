package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
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
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// fakeSource serves in-memory records as a source.Source.
type fakeSource struct {
	name      string
	records   []domain.CardRecord
	sets      map[string]*source.SetInfo
	openErr   error
	failAfter int // error after yielding this many records; 0 = never
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) StreamAll(ctx context.Context) (source.Stream, error) {
	return f.open()
}

func (f *fakeSource) StreamSet(ctx context.Context, code string) (source.Stream, error) {
	return f.open()
}

func (f *fakeSource) SetInfo(ctx context.Context, code string) (*source.SetInfo, error) {
	if info, ok := f.sets[code]; ok {
		return info, nil
	}
	return nil, upstream.ErrNotFound
}

func (f *fakeSource) open() (source.Stream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.failAfter > 0 {
		return &failingStream{
			inner:     source.NewSliceStream(f.records),
			failAfter: f.failAfter,
		}, nil
	}
	return source.NewSliceStream(f.records), nil
}

// failingStream errors after yielding failAfter records, simulating a source
// that dies partway through an open stream.
type failingStream struct {
	inner     source.Stream
	failAfter int
	yielded   int
}

func (s *failingStream) Next(ctx context.Context) (*domain.CardRecord, error) {
	if s.yielded >= s.failAfter {
		return nil, errors.New("connection reset mid-stream")
	}
	rec, err := s.inner.Next(ctx)
	if err != nil {
		return nil, err
	}
	s.yielded++
	return rec, nil
}

func (s *failingStream) Close() error { return s.inner.Close() }

// fakeWriter implements downstream.Writer with a per-call hook. Safe for
// concurrent batches.
type fakeWriter struct {
	mu      sync.Mutex
	calls   int
	seen    int
	respond func(call int, inputs []downstream.ProductInput) ([]downstream.ProductResult, error)
}

func (w *fakeWriter) ProductBulkCreate(ctx context.Context, inputs []downstream.ProductInput) ([]downstream.ProductResult, error) {
	w.mu.Lock()
	w.calls++
	w.seen += len(inputs)
	call := w.calls
	respond := w.respond
	w.mu.Unlock()

	if respond != nil {
		return respond(call, inputs)
	}
	return allCreated(inputs), nil
}

func (w *fakeWriter) stats() (calls, seen int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls, w.seen
}

func allCreated(inputs []downstream.ProductInput) []downstream.ProductResult {
	results := make([]downstream.ProductResult, len(inputs))
	for i, in := range inputs {
		results[i] = downstream.ProductResult{
			Product: &downstream.ProductRef{ID: "prod-" + in.Slug, Slug: in.Slug},
		}
	}
	return results
}

func existsResult() downstream.ProductResult {
	return downstream.ProductResult{
		Errors: []downstream.WriteError{{Code: "unique", Field: "slug", Message: "already exists"}},
	}
}

func failedResult(msg string) downstream.ProductResult {
	return downstream.ProductResult{
		Errors: []downstream.WriteError{{Code: "invalid", Field: "variants", Message: msg}},
	}
}

func makeCards(n int, setCode string) []domain.CardRecord {
	cards := make([]domain.CardRecord, n)
	for i := range cards {
		cards[i] = domain.CardRecord{
			ID:              fmt.Sprintf("card-%04d", i),
			Name:            fmt.Sprintf("Card %d", i),
			SetCode:         setCode,
			CollectorNumber: fmt.Sprintf("%d", i+1),
			Rarity:          "common",
			Layout:          "normal",
			Finishes:        []string{"nonfoil"},
			PriceUSD:        1.50,
		}
	}
	return cards
}

func testConfig() *config.Config {
	return &config.Config{
		Importer: config.ImporterConfig{
			TenantID:  "default",
			BatchSize: 25,
			GroupSize: 4,
			Breaker: config.BreakerConfig{
				FailureThreshold: 3,
				Cooldown:         time.Second,
				MaxRetries:       1,
				RetryBackoff:     time.Millisecond,
			},
		},
		Target: config.TargetConfig{
			AttributeIDs:    map[string]string{"rarity": "attr-r", "set": "attr-s"},
			CategoryID:      "cat-1",
			ChannelIDs:      []string{"chan-1"},
			WarehouseID:     "wh-1",
			DefaultPriceUSD: 0.25,
		},
	}
}

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

func newTestService(t *testing.T, cfg *config.Config, primary *fakeSource, fallback source.Source, writer downstream.Writer) (*ImportService, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	svc := NewImportService(
		cfg,
		repository.NewJobRepository(db),
		repository.NewImportedCardRepository(db),
		repository.NewSetAuditRepository(db),
		writer,
		func(br *breaker.Breaker) source.Source { return primary },
		fallback,
		logger.GetDefault(),
	)
	return svc, db
}

func seedRunningJob(t *testing.T, db *gorm.DB, kind domain.JobKind, setCode string, checkpoint int) *domain.ImportJob {
	t.Helper()
	now := time.Now()
	job := &domain.ImportJob{
		ID:         uuid.New().String(),
		TenantID:   "default",
		Kind:       kind,
		SetCode:    setCode,
		Status:     domain.JobStatusRunning,
		Checkpoint: checkpoint,
		StartedAt:  &now,
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
	return job
}

func reloadJob(t *testing.T, db *gorm.DB, id string) *domain.ImportJob {
	t.Helper()
	var job domain.ImportJob
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to reload job: %v", err)
	}
	return &job
}

func TestRunJob_ClassifiesWriteResults(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{
		name:    "catalogapi",
		records: makeCards(3, "ab1"),
		sets:    map[string]*source.SetInfo{"ab1": {Code: "ab1", Name: "Alpha Block", CardCount: 3}},
	}
	writer := &fakeWriter{
		respond: func(call int, inputs []downstream.ProductInput) ([]downstream.ProductResult, error) {
			results := allCreated(inputs)
			results[1] = existsResult()
			results[2] = failedResult("price out of range")
			return results, nil
		},
	}
	svc, db := newTestService(t, cfg, src, nil, writer)

	job := seedRunningJob(t, db, domain.JobKindSingleSet, "ab1", 0)
	svc.runJob(job)

	got := reloadJob(t, db, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.ErrorSummary)
	}
	if got.WritesCreated != 1 || got.SkippedCount != 1 || got.ErrorCount != 1 {
		t.Errorf("counters = created %d skipped %d errors %d, want 1/1/1",
			got.WritesCreated, got.SkippedCount, got.ErrorCount)
	}
	if got.RecordsProcessed != 3 || got.Checkpoint != 3 {
		t.Errorf("processed=%d checkpoint=%d, want 3/3", got.RecordsProcessed, got.Checkpoint)
	}
	if len(got.RecordErrors) != 1 || !strings.Contains(got.RecordErrors[0], "card-0002") {
		t.Errorf("unexpected record errors: %v", got.RecordErrors)
	}

	var rows []domain.ImportedCard
	if err := db.Order("card_id").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load imported rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 imported rows, got %d", len(rows))
	}
	if !rows[0].Success || rows[0].ProductID == "" {
		t.Errorf("row 0 should be a created success: %+v", rows[0])
	}
	if !rows[1].Success || rows[1].ProductID != domain.ProductIDExisting {
		t.Errorf("row 1 should be an existing skip: %+v", rows[1])
	}
	if rows[2].Success || rows[2].ErrorText == "" {
		t.Errorf("row 2 should be a failure with reason: %+v", rows[2])
	}
}

func TestRunJob_FullScenarioWithFilterAndCheckpoints(t *testing.T) {
	// 600 source records of which the filter accepts 550: batch size 25 and
	// group size 4 commit in steps of 100 with a final partial group of 50.
	cfg := testConfig()
	records := makeCards(600, "ab1")
	for i := 0; i < 50; i++ {
		records[i*12].Digital = true // filtered out
	}
	src := &fakeSource{
		name:    "catalogapi",
		records: records,
		sets:    map[string]*source.SetInfo{"ab1": {Code: "ab1", Name: "Alpha Block", CardCount: 600}},
	}
	writer := &fakeWriter{}
	svc, db := newTestService(t, cfg, src, nil, writer)

	job := seedRunningJob(t, db, domain.JobKindSingleSet, "ab1", 0)
	svc.runJob(job)

	got := reloadJob(t, db, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.ErrorSummary)
	}
	if got.RecordsProcessed != 550 || got.Checkpoint != 550 || got.WritesCreated != 550 {
		t.Errorf("processed=%d checkpoint=%d created=%d, want 550 each",
			got.RecordsProcessed, got.Checkpoint, got.WritesCreated)
	}
	calls, seen := writer.stats()
	if calls != 22 || seen != 550 {
		t.Errorf("writer saw %d calls / %d records, want 22 / 550", calls, seen)
	}
}

func TestRunJob_ResumeSkipsCheckpointedRecords(t *testing.T) {
	cfg := testConfig()
	cfg.Importer.BatchSize = 2
	cfg.Importer.GroupSize = 1
	src := &fakeSource{
		name:    "catalogapi",
		records: makeCards(10, "ab1"),
		sets:    map[string]*source.SetInfo{"ab1": {Code: "ab1", CardCount: 10}},
	}
	writer := &fakeWriter{}
	svc, db := newTestService(t, cfg, src, nil, writer)

	job := seedRunningJob(t, db, domain.JobKindSingleSet, "ab1", 4)
	svc.runJob(job)

	got := reloadJob(t, db, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.ErrorSummary)
	}
	_, seen := writer.stats()
	if seen != 6 {
		t.Errorf("writer saw %d records, want 6 (first 4 skipped by checkpoint)", seen)
	}
	if got.Checkpoint != 10 {
		t.Errorf("final checkpoint = %d, want 10", got.Checkpoint)
	}
	if got.RecordsProcessed != 6 {
		t.Errorf("processed = %d, want 6", got.RecordsProcessed)
	}
}

func TestRunJob_MidStreamFailurePreservesCheckpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Importer.BatchSize = 5
	cfg.Importer.GroupSize = 2
	src := &fakeSource{
		name:      "catalogapi",
		records:   makeCards(100, "ab1"),
		sets:      map[string]*source.SetInfo{"ab1": {Code: "ab1", CardCount: 100}},
		failAfter: 25,
	}
	// A fallback is configured, but a mid-stream failure must not silently
	// substitute providers.
	fallback := &fakeSource{name: "mirrorapi", records: makeCards(100, "ab1")}
	writer := &fakeWriter{}
	svc, db := newTestService(t, cfg, src, fallback, writer)

	job := seedRunningJob(t, db, domain.JobKindSingleSet, "ab1", 0)
	svc.runJob(job)

	got := reloadJob(t, db, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorSummary, "mid-run") {
		t.Errorf("summary should name the mid-run stream failure: %q", got.ErrorSummary)
	}
	// Two full groups of 10 committed before the stream died at record 25.
	if got.Checkpoint != 20 {
		t.Errorf("checkpoint = %d, want 20", got.Checkpoint)
	}
}

func TestRunJob_FallsBackWhenPrimaryCannotOpen(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{
		name:    "catalogapi",
		openErr: errors.New("snapshot endpoint unreachable"),
		sets:    map[string]*source.SetInfo{"ab1": {Code: "ab1", CardCount: 5}},
	}
	fallback := &fakeSource{name: "mirrorapi", records: makeCards(5, "ab1")}
	writer := &fakeWriter{}
	svc, db := newTestService(t, cfg, src, fallback, writer)

	job := seedRunningJob(t, db, domain.JobKindSingleSet, "ab1", 0)
	svc.runJob(job)

	got := reloadJob(t, db, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed via fallback, got %s (%s)", got.Status, got.ErrorSummary)
	}
	if got.WritesCreated != 5 {
		t.Errorf("created = %d, want 5", got.WritesCreated)
	}
}

func TestRunJob_WholeBatchFailureFailsEveryRecord(t *testing.T) {
	cfg := testConfig()
	cfg.Importer.BatchSize = 10
	cfg.Importer.GroupSize = 1
	src := &fakeSource{
		name:    "catalogapi",
		records: makeCards(30, "ab1"),
		sets:    map[string]*source.SetInfo{"ab1": {Code: "ab1", CardCount: 30}},
	}
	writer := &fakeWriter{
		respond: func(call int, inputs []downstream.ProductInput) ([]downstream.ProductResult, error) {
			return nil, errors.New("downstream gateway timeout")
		},
	}
	svc, db := newTestService(t, cfg, src, nil, writer)

	job := seedRunningJob(t, db, domain.JobKindSingleSet, "ab1", 0)
	svc.runJob(job)

	got := reloadJob(t, db, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed when nothing succeeded, got %s", got.Status)
	}
	if got.ErrorCount != 30 {
		t.Errorf("error count = %d, want 30", got.ErrorCount)
	}
	// The error log is bounded, most recent first.
	if len(got.RecordErrors) != domain.MaxErrorLogEntries {
		t.Errorf("error log length = %d, want %d", len(got.RecordErrors), domain.MaxErrorLogEntries)
	}
}

func TestRunJob_CancellationMergesInFlightGroup(t *testing.T) {
	cfg := testConfig()
	cfg.Importer.BatchSize = 2
	cfg.Importer.GroupSize = 2
	src := &fakeSource{
		name:    "catalogapi",
		records: makeCards(20, "ab1"),
		sets:    map[string]*source.SetInfo{"ab1": {Code: "ab1", CardCount: 20}},
	}
	writer := &fakeWriter{}
	svc, db := newTestService(t, cfg, src, nil, writer)

	job := seedRunningJob(t, db, domain.JobKindSingleSet, "ab1", 0)

	// Cancel from inside the first write call: the in-flight group must
	// still be merged and checkpointed before the Cancelled transition.
	writer.respond = func(call int, inputs []downstream.ProductInput) ([]downstream.ProductResult, error) {
		svc.Registry().Cancel(job.ID, "cancelled on request")
		return allCreated(inputs), nil
	}

	svc.runJob(job)

	got := reloadJob(t, db, job.ID)
	if got.Status != domain.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if got.Checkpoint != 4 {
		t.Errorf("checkpoint = %d, want 4 (one full group committed)", got.Checkpoint)
	}
	if got.WritesCreated != 4 {
		t.Errorf("created = %d, want 4", got.WritesCreated)
	}
	if got.ErrorSummary != "cancelled on request" {
		t.Errorf("summary = %q", got.ErrorSummary)
	}
}

func TestRunJob_BackfillStreamsOnlyComplement(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{
		name:    "catalogapi",
		records: makeCards(10, "ab1"),
		sets:    map[string]*source.SetInfo{"ab1": {Code: "ab1", CardCount: 10}},
	}
	writer := &fakeWriter{}
	svc, db := newTestService(t, cfg, src, nil, writer)

	// Cards 0-5 already imported successfully; card-0006 failed before.
	for i := 0; i < 6; i++ {
		db.Create(&domain.ImportedCard{
			CardID: fmt.Sprintf("card-%04d", i), SetCode: "ab1",
			ProductID: "prod-x", Success: true,
		})
	}
	db.Create(&domain.ImportedCard{
		CardID: "card-0006", SetCode: "ab1", Success: false, ErrorText: "boom",
	})

	job := seedRunningJob(t, db, domain.JobKindBackfillSet, "ab1", 0)
	svc.runJob(job)

	got := reloadJob(t, db, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.ErrorSummary)
	}
	// Only the 4 never-successful cards (0006-0009) should reach the writer.
	_, seen := writer.stats()
	if seen != 4 {
		t.Errorf("writer saw %d records, want 4", seen)
	}
}

func TestRunJob_PanicNeverLeavesJobRunning(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{
		name:    "catalogapi",
		records: makeCards(5, "ab1"),
		sets:    map[string]*source.SetInfo{"ab1": {Code: "ab1", CardCount: 5}},
	}
	writer := &fakeWriter{
		respond: func(call int, inputs []downstream.ProductInput) ([]downstream.ProductResult, error) {
			panic("writer exploded")
		},
	}
	svc, db := newTestService(t, cfg, src, nil, writer)

	job := seedRunningJob(t, db, domain.JobKindSingleSet, "ab1", 0)
	svc.runJob(job)

	got := reloadJob(t, db, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed after panic, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorSummary, "panic") {
		t.Errorf("summary should mention the panic: %q", got.ErrorSummary)
	}
}

func TestCreateJob_Validation(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{
		name: "catalogapi",
		sets: map[string]*source.SetInfo{"ab1": {Code: "ab1", CardCount: 10}},
	}
	svc, _ := newTestService(t, cfg, src, nil, &fakeWriter{})
	ctx := context.Background()

	tests := []struct {
		name    string
		input   CreateJobInput
		wantErr error
	}{
		{"missing set code", CreateJobInput{Kind: domain.JobKindSingleSet}, ErrSetCodeRequired},
		{"unknown kind", CreateJobInput{Kind: "weekly"}, ErrInvalidKind},
		{"unknown set", CreateJobInput{Kind: domain.JobKindSingleSet, SetCode: "zzz"}, ErrSetNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateJob(ctx, &tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateJob() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := svc.CreateJob(ctx, &CreateJobInput{Kind: domain.JobKindSingleSet, SetCode: "ab1"}); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
	_, err := svc.CreateJob(ctx, &CreateJobInput{Kind: domain.JobKindSingleSet, SetCode: "ab1"})
	if !errors.Is(err, repository.ErrActiveJobExists) {
		t.Errorf("duplicate active job error = %v, want ErrActiveJobExists", err)
	}
}

func TestRetryJob_InheritsCheckpoint(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{
		name: "catalogapi",
		sets: map[string]*source.SetInfo{"ab1": {Code: "ab1", CardCount: 10}},
	}
	svc, db := newTestService(t, cfg, src, nil, &fakeWriter{})
	ctx := context.Background()

	now := time.Now()
	orig := &domain.ImportJob{
		ID: uuid.New().String(), TenantID: "default",
		Kind: domain.JobKindSingleSet, SetCode: "ab1",
		Status: domain.JobStatusFailed, Checkpoint: 275,
		Priority: 3, CompletedAt: &now,
	}
	if err := db.Create(orig).Error; err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}

	retry, err := svc.RetryJob(ctx, orig.ID)
	if err != nil {
		t.Fatalf("RetryJob() error = %v", err)
	}
	if retry.ID == orig.ID {
		t.Error("retry must be a new job row")
	}
	if retry.Checkpoint != 275 || retry.SetCode != "ab1" || retry.Priority != 3 {
		t.Errorf("retry did not inherit checkpoint/set/priority: %+v", retry)
	}
	if retry.Status != domain.JobStatusPending {
		t.Errorf("retry status = %s, want pending", retry.Status)
	}

	// The original stays as history.
	if got := reloadJob(t, db, orig.ID); got.Status != domain.JobStatusFailed {
		t.Errorf("original status = %s, want failed", got.Status)
	}

	// A completed job is not retryable.
	done := &domain.ImportJob{
		ID: uuid.New().String(), TenantID: "default",
		Kind: domain.JobKindSingleSet, SetCode: "xy2",
		Status: domain.JobStatusCompleted,
	}
	db.Create(done)
	if _, err := svc.RetryJob(ctx, done.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("retry of completed job error = %v, want ErrNotRetryable", err)
	}
}

func TestCancelJob_PendingAndTerminal(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{
		name: "catalogapi",
		sets: map[string]*source.SetInfo{"ab1": {Code: "ab1", CardCount: 10}},
	}
	svc, db := newTestService(t, cfg, src, nil, &fakeWriter{})
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, &CreateJobInput{Kind: domain.JobKindSingleSet, SetCode: "ab1"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := svc.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("CancelJob() on pending job error = %v", err)
	}
	if got := reloadJob(t, db, job.ID); got.Status != domain.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	// Cancelling an already-terminal job is rejected.
	if err := svc.CancelJob(ctx, job.ID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("cancel of terminal job error = %v, want ErrNotCancellable", err)
	}
}

func TestRunJob_RefreshesSetAudit(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{
		name:    "catalogapi",
		records: makeCards(5, "ab1"),
		sets:    map[string]*source.SetInfo{"ab1": {Code: "ab1", Name: "Alpha Block", CardCount: 8}},
	}
	svc, db := newTestService(t, cfg, src, nil, &fakeWriter{})

	job := seedRunningJob(t, db, domain.JobKindSingleSet, "ab1", 0)
	svc.runJob(job)

	var audit domain.SetAudit
	if err := db.First(&audit, "tenant_id = ? AND set_code = ?", "default", "ab1").Error; err != nil {
		t.Fatalf("audit row missing: %v", err)
	}
	if audit.ImportedCount != 5 || audit.ExpectedCount != 8 || audit.SetName != "Alpha Block" {
		t.Errorf("audit = %+v, want imported 5 / expected 8 / Alpha Block", audit)
	}
}
