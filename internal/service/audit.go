package service

import (
	"context"
	"errors"
	"time"

	"github.com/deckbase/cardsync/internal/breaker"
	"github.com/deckbase/cardsync/internal/domain"
	"github.com/deckbase/cardsync/internal/logger"
	"github.com/deckbase/cardsync/internal/upstream"
)

// refreshSetAudit recomputes one set's audit row from the imported rows and
// upstream set metadata.
func (s *ImportService) refreshSetAudit(ctx context.Context, tenantID, setCode string) error {
	count, err := s.imported.CountImported(ctx, setCode)
	if err != nil {
		return err
	}

	audit := &domain.SetAudit{
		TenantID:      tenantID,
		SetCode:       setCode,
		ImportedCount: int(count),
	}

	src := s.primary(breaker.New(s.breakerConfig()))
	if info, err := src.SetInfo(ctx, setCode); err == nil {
		audit.SetName = info.Name
		audit.ExpectedCount = info.CardCount
	} else if !errors.Is(err, upstream.ErrNotFound) {
		s.log(ctx).WithError(err).WithField(logger.FieldSetCode, setCode).
			Warn("Set metadata unavailable, audit keeps counts only")
	}

	now := time.Now()
	audit.LastImportedAt = &now
	return s.audits.Upsert(ctx, audit)
}

// RebuildSetAudits recomputes the audit row of every set that has imported
// rows. Upstream metadata is fetched best-effort per set; a set whose
// metadata cannot be fetched still gets its imported count refreshed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int: number of audit rows rebuilt.
//   - error: non-nil if the set listing or an upsert fails.
func (s *ImportService) RebuildSetAudits(ctx context.Context) (int, error) {
	codes, err := s.imported.DistinctSets(ctx)
	if err != nil {
		return 0, err
	}

	tenantID := s.cfg.Importer.TenantID
	rebuilt := 0
	for _, code := range codes {
		if code == "" {
			continue
		}
		if err := s.refreshSetAudit(ctx, tenantID, code); err != nil {
			return rebuilt, err
		}
		rebuilt++
	}

	s.log(ctx).WithField(logger.FieldCount, rebuilt).Info("Set audits rebuilt")
	return rebuilt, nil
}

// ListSetAudits returns the tenant's audit rows.
func (s *ImportService) ListSetAudits(ctx context.Context) ([]domain.SetAudit, error) {
	return s.audits.ListByTenant(ctx, s.cfg.Importer.TenantID)
}
