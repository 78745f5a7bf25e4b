package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/deckbase/cardsync/internal/breaker"
	"github.com/deckbase/cardsync/internal/domain"
	"github.com/deckbase/cardsync/internal/downstream"
	"github.com/deckbase/cardsync/internal/logger"
	"github.com/deckbase/cardsync/internal/source"
	"github.com/deckbase/cardsync/internal/transform"
)

// batchResult carries one batch's outcome back to the merging goroutine.
// Batches never touch shared state; everything flows through this value.
type batchResult struct {
	created int
	skipped int
	failed  int
	errors  []string
	rows    []domain.ImportedCard
}

// runContext is resolved once on entry to Running and reused for the whole
// run.
type runContext struct {
	transform *transform.Context
	setInfo   *source.SetInfo
}

// runJob drives one claimed job from Running to a terminal state. It never
// returns with the job still Running: panics and unhandled errors are
// captured into a Failed transition.
func (s *ImportService) runJob(job *domain.ImportJob) {
	// I/O inside the run deliberately does not use the stop signal: cancel
	// is cooperative and only honored between groups, so in-flight batches
	// always finish and get merged.
	ctx := context.Background()
	ctx = logger.SetJobID(ctx, job.ID)
	if job.SetCode != "" {
		ctx = logger.SetSetCode(ctx, job.SetCode)
	}

	stopCtx := s.registry.Register(job.ID)
	defer s.registry.Unregister(job.ID)

	log := s.log(ctx)
	log.WithFields(logger.Fields{
		"kind":       job.Kind,
		"checkpoint": job.Checkpoint,
	}).Info("Job run started")

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic during import run: %v", r)
			log.Error(msg)
			s.failJob(ctx, job, msg)
		}
	}()

	br := breaker.New(s.breakerConfig())
	src := s.primary(br)

	rctx, err := s.resolveRunContext(ctx, src, job)
	if err != nil {
		s.failJob(ctx, job, fmt.Sprintf("failed to resolve run context: %v", err))
		return
	}
	if rctx.setInfo != nil {
		job.RecordsTotal = rctx.setInfo.CardCount
	}

	stream, err := s.openStream(ctx, src, job)
	if err != nil {
		s.failJob(ctx, job, fmt.Sprintf("failed to open record stream: %v", err))
		return
	}
	defer stream.Close()

	if err := s.processStream(ctx, stopCtx, job, stream, rctx); err != nil {
		s.failJob(ctx, job, err.Error())
		return
	}
}

// resolveRunContext builds the per-run target lookups and, for set-scoped
// jobs, fetches the set's expected card count.
func (s *ImportService) resolveRunContext(ctx context.Context, src source.Source, job *domain.ImportJob) (*runContext, error) {
	rctx := &runContext{
		transform: &transform.Context{
			AttributeIDs:    s.cfg.Target.AttributeIDs,
			CategoryID:      s.cfg.Target.CategoryID,
			ChannelIDs:      s.cfg.Target.ChannelIDs,
			WarehouseID:     s.cfg.Target.WarehouseID,
			DefaultPriceUSD: s.cfg.Target.DefaultPriceUSD,
		},
	}

	if job.SetCode != "" {
		info, err := src.SetInfo(ctx, job.SetCode)
		if err != nil {
			return nil, err
		}
		rctx.setInfo = info
	}
	return rctx, nil
}

// openStream selects the record stream for the job's kind. A total failure
// of the primary source, before it has yielded anything, falls over to the
// mirror provider; a failure partway through an open stream does not.
func (s *ImportService) openStream(ctx context.Context, src source.Source, job *domain.ImportJob) (source.Stream, error) {
	open := func(p source.Source) (source.Stream, error) {
		switch job.Kind {
		case domain.JobKindFullCatalog:
			return p.StreamAll(ctx)
		case domain.JobKindSingleSet, domain.JobKindBackfillSet:
			return p.StreamSet(ctx, job.SetCode)
		default:
			return nil, fmt.Errorf("unknown job kind %q", job.Kind)
		}
	}

	stream, err := open(src)
	if err != nil {
		if s.fallback == nil {
			return nil, err
		}
		s.log(ctx).WithError(err).WithField(logger.FieldSource, s.fallback.Name()).
			Warn("Primary source unavailable, switching to fallback provider")
		stream, err = open(s.fallback)
		if err != nil {
			return nil, fmt.Errorf("primary and fallback sources both failed: %w", err)
		}
	}

	return s.wrapStream(ctx, stream, job)
}

// wrapStream layers the kind-specific exclusion on top of the raw stream:
// backfill is defined as the complement of already-imported cards, and a
// first-attempt full-catalog run pre-filters known ids to avoid wasted
// downstream calls.
func (s *ImportService) wrapStream(ctx context.Context, stream source.Stream, job *domain.ImportJob) (source.Stream, error) {
	switch {
	case job.Kind == domain.JobKindBackfillSet:
		done, err := s.imported.ImportedIDs(ctx, job.SetCode)
		if err != nil {
			stream.Close()
			return nil, err
		}
		return &complementStream{inner: stream, exclude: done}, nil
	case job.Kind == domain.JobKindFullCatalog && job.Checkpoint == 0:
		// Retries (checkpoint > 0) skip the pre-filter: the exclusion set
		// grows as the run commits, and re-deriving it would shift the
		// filtered-record numbering the checkpoint counts against.
		done, err := s.imported.ImportedIDs(ctx, "")
		if err != nil {
			stream.Close()
			return nil, err
		}
		if len(done) == 0 {
			return stream, nil
		}
		return &complementStream{inner: stream, exclude: done}, nil
	default:
		return stream, nil
	}
}

// complementStream drops records whose id is in the exclusion set.
type complementStream struct {
	inner   source.Stream
	exclude map[string]struct{}
}

func (c *complementStream) Next(ctx context.Context) (*domain.CardRecord, error) {
	for {
		rec, err := c.inner.Next(ctx)
		if err != nil {
			return nil, err
		}
		if _, ok := c.exclude[rec.ID]; ok {
			continue
		}
		return rec, nil
	}
}

func (c *complementStream) Close() error {
	return c.inner.Close()
}

// includeRecord applies the configured inclusion filter.
func (s *ImportService) includeRecord(rec *domain.CardRecord) bool {
	f := s.cfg.Importer.Filter
	if rec.Digital && !f.AllowDigital {
		return false
	}
	if len(f.LayoutAllowlist) > 0 {
		ok := false
		for _, layout := range f.LayoutAllowlist {
			if rec.Layout == layout {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.MaxPriceUSD > 0 && rec.PriceUSD > f.MaxPriceUSD {
		return false
	}
	return true
}

// processStream is the batching loop: filtered records accumulate into
// fixed-size batches, batches into concurrency groups, each group runs its
// batches concurrently, and results are merged sequentially and checkpointed
// before the next group begins.
func (s *ImportService) processStream(ctx, stopCtx context.Context, job *domain.ImportJob, stream source.Stream, rctx *runContext) error {
	log := s.log(ctx)

	batchSize := s.cfg.Importer.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}
	groupSize := s.cfg.Importer.GroupSize
	if groupSize <= 0 {
		groupSize = 4
	}

	toSkip := job.Checkpoint
	streamDone := false
	start := time.Now()

	for !streamDone {
		// Gather up to groupSize batches of batchSize filtered records.
		group := make([][]domain.CardRecord, 0, groupSize)
		batch := make([]domain.CardRecord, 0, batchSize)
		for len(group) < groupSize {
			rec, err := stream.Next(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					streamDone = true
					break
				}
				// Mid-stream failure is a job failure, never a silent
				// provider substitution.
				return fmt.Errorf("record stream failed mid-run: %w", err)
			}
			if !s.includeRecord(rec) {
				continue
			}
			if toSkip > 0 {
				// Resume-skip: this record was committed by a previous
				// attempt of the same logical import.
				toSkip--
				continue
			}
			batch = append(batch, *rec)
			if len(batch) == batchSize {
				group = append(group, batch)
				batch = make([]domain.CardRecord, 0, batchSize)
			}
		}
		if len(batch) > 0 {
			group = append(group, batch)
		}
		if len(group) == 0 {
			break
		}

		// Run the group's batches concurrently. Each batch works on its own
		// slice and returns a value; nothing here shares mutable state. A
		// panic in a batch goroutine is captured here so it fails the job
		// instead of killing the process with the job parked in Running.
		results := make([]batchResult, len(group))
		panics := make([]error, len(group))
		var wg sync.WaitGroup
		for i := range group {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						panics[i] = fmt.Errorf("panic in batch: %v", r)
					}
				}()
				results[i] = s.processBatch(ctx, job.ID, group[i], rctx)
			}(i)
		}
		wg.Wait()
		for _, err := range panics {
			if err != nil {
				return err
			}
		}

		// Sequential merge, then one checkpoint for the whole group.
		var rows []domain.ImportedCard
		groupCount := 0
		for _, res := range results {
			job.WritesCreated += res.created
			job.SkippedCount += res.skipped
			job.ErrorCount += res.failed
			processed := res.created + res.skipped + res.failed
			job.RecordsProcessed += processed
			groupCount += processed
			for _, msg := range res.errors {
				job.RecordErrors = job.RecordErrors.Prepend(msg)
			}
			rows = append(rows, res.rows...)
		}
		job.Checkpoint += groupCount
		if job.RecordsTotal < job.RecordsProcessed {
			job.RecordsTotal = job.RecordsProcessed
		}

		if err := s.imported.UpsertBatch(ctx, rows); err != nil {
			return fmt.Errorf("failed to persist imported rows: %w", err)
		}
		if err := s.jobs.UpdateProgress(ctx, job); err != nil {
			return fmt.Errorf("failed to persist checkpoint: %w", err)
		}

		log.WithFields(logger.Fields{
			"checkpoint":        job.Checkpoint,
			"records_processed": job.RecordsProcessed,
			"writes_created":    job.WritesCreated,
			"skipped":           job.SkippedCount,
			"errors":            job.ErrorCount,
		}).Debug("Group committed")

		// Cooperative cancellation: only between groups, after the in-flight
		// group's results are merged and checkpointed.
		select {
		case <-stopCtx.Done():
			reason := s.registry.Reason(job.ID)
			if reason == "" {
				reason = "cancelled"
			}
			log.WithField("checkpoint", job.Checkpoint).Info("Job cancelled, checkpoint preserved")
			if err := s.jobs.MarkTerminal(ctx, job.ID, domain.JobStatusCancelled, reason); err != nil {
				log.WithError(err).Error("Failed to mark job cancelled")
			}
			return nil
		default:
		}
	}

	return s.completeJob(ctx, job, time.Since(start))
}

// processBatch transforms one batch, issues one bulk write, and classifies
// every result row. A failure of the whole call fails every record in the
// batch with the same reason.
func (s *ImportService) processBatch(ctx context.Context, jobID string, batch []domain.CardRecord, rctx *runContext) batchResult {
	var res batchResult

	inputs := make([]downstream.ProductInput, 0, len(batch))
	inputRecs := make([]*domain.CardRecord, 0, len(batch))
	for i := range batch {
		rec := &batch[i]
		input, err := transform.Build(rec, rctx.transform)
		if err != nil {
			res.failed++
			res.errors = append(res.errors, fmt.Sprintf("card %s: %v", rec.ID, err))
			res.rows = append(res.rows, domain.ImportedCard{
				CardID:    rec.ID,
				SetCode:   rec.SetCode,
				JobID:     jobID,
				Success:   false,
				ErrorText: err.Error(),
			})
			continue
		}
		inputs = append(inputs, *input)
		inputRecs = append(inputRecs, rec)
	}
	if len(inputs) == 0 {
		return res
	}

	results, err := s.writer.ProductBulkCreate(ctx, inputs)
	if err != nil {
		reason := fmt.Sprintf("bulk write failed: %v", err)
		for _, rec := range inputRecs {
			res.failed++
			res.errors = append(res.errors, fmt.Sprintf("card %s: %s", rec.ID, reason))
			res.rows = append(res.rows, domain.ImportedCard{
				CardID:    rec.ID,
				SetCode:   rec.SetCode,
				JobID:     jobID,
				Success:   false,
				ErrorText: reason,
			})
		}
		return res
	}

	for i := range results {
		rec := inputRecs[i]
		row := &results[i]
		switch {
		case row.Product != nil:
			res.created++
			res.rows = append(res.rows, domain.ImportedCard{
				CardID:    rec.ID,
				SetCode:   rec.SetCode,
				JobID:     jobID,
				ProductID: row.Product.ID,
				Success:   true,
			})
		case row.AlreadyExists():
			// The product was written by an earlier run; count it as a
			// skip, not an error.
			res.skipped++
			res.rows = append(res.rows, domain.ImportedCard{
				CardID:    rec.ID,
				SetCode:   rec.SetCode,
				JobID:     jobID,
				ProductID: domain.ProductIDExisting,
				Success:   true,
			})
		default:
			res.failed++
			msg := row.ErrorText()
			res.errors = append(res.errors, fmt.Sprintf("card %s: %s", rec.ID, msg))
			res.rows = append(res.rows, domain.ImportedCard{
				CardID:    rec.ID,
				SetCode:   rec.SetCode,
				JobID:     jobID,
				Success:   false,
				ErrorText: msg,
			})
		}
	}
	return res
}

// completeJob applies the completion rule and refreshes the set audit.
func (s *ImportService) completeJob(ctx context.Context, job *domain.ImportJob, elapsed time.Duration) error {
	succeeded := job.WritesCreated + job.SkippedCount
	status := domain.JobStatusCompleted
	summary := ""
	if succeeded == 0 && job.ErrorCount > 0 {
		status = domain.JobStatusFailed
		summary = fmt.Sprintf("all %d processed records failed", job.RecordsProcessed)
	}

	if err := s.jobs.MarkTerminal(ctx, job.ID, status, summary); err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldStatus:     string(status),
		logger.FieldDurationMs: elapsed.Milliseconds(),
		"records_processed":    job.RecordsProcessed,
		"writes_created":       job.WritesCreated,
		"skipped":              job.SkippedCount,
		"errors":               job.ErrorCount,
	}).Info("Job run finished")

	if status == domain.JobStatusCompleted && job.SetCode != "" {
		if err := s.refreshSetAudit(ctx, job.TenantID, job.SetCode); err != nil {
			// The audit is a derived cache; a refresh failure must not fail
			// a completed import.
			s.log(ctx).WithError(err).Warn("Failed to refresh set audit")
		}
	}
	return nil
}

// failJob persists current totals and marks the job failed.
func (s *ImportService) failJob(ctx context.Context, job *domain.ImportJob, summary string) {
	log := s.log(ctx)
	log.WithField("checkpoint", job.Checkpoint).Error(summary)

	if err := s.jobs.UpdateProgress(ctx, job); err != nil {
		log.WithError(err).Error("Failed to persist totals before failing job")
	}
	if err := s.jobs.MarkTerminal(ctx, job.ID, domain.JobStatusFailed, summary); err != nil {
		log.WithError(err).Error("Failed to mark job failed")
	}
}
