package repository

import (
	"context"

	"github.com/deckbase/cardsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SetAuditRepository handles the derived per-set audit rows.
type SetAuditRepository struct {
	db *gorm.DB
}

// NewSetAuditRepository creates a new SetAuditRepository.
func NewSetAuditRepository(db *gorm.DB) *SetAuditRepository {
	return &SetAuditRepository{db: db}
}

// Upsert creates or updates one audit row keyed by (tenant, set).
func (r *SetAuditRepository) Upsert(ctx context.Context, audit *domain.SetAudit) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "set_code"}},
		UpdateAll: true,
	}).Create(audit).Error
}

// ListByTenant retrieves every audit row of a tenant.
func (r *SetAuditRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.SetAudit, error) {
	var audits []domain.SetAudit
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("set_code ASC").
		Find(&audits).Error
	if err != nil {
		return nil, err
	}
	return audits, nil
}

// DeleteByTenant clears a tenant's audit rows ahead of a full rebuild.
func (r *SetAuditRepository) DeleteByTenant(ctx context.Context, tenantID string) error {
	return r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Delete(&domain.SetAudit{}).Error
}
