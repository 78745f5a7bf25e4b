package repository

import (
	"context"

	"github.com/deckbase/cardsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImportedCardRepository handles the idempotency/audit rows of imported cards.
type ImportedCardRepository struct {
	db *gorm.DB
}

// NewImportedCardRepository creates a new ImportedCardRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ImportedCardRepository: repository instance bound to db.
func NewImportedCardRepository(db *gorm.DB) *ImportedCardRepository {
	return &ImportedCardRepository{db: db}
}

// Upsert creates or updates one imported-card row keyed by (card, set).
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - card: row to create or update.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *ImportedCardRepository) Upsert(ctx context.Context, card *domain.ImportedCard) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "card_id"}, {Name: "set_code"}},
		UpdateAll: true,
	}).Create(card).Error
}

// UpsertBatch writes a batch of rows in one transaction, so the batch's
// bookkeeping lands atomically with its aggregate counters.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - cards: rows to create or update.
// Returns:
//   - error: non-nil if any upsert fails; the transaction rolls back.
func (r *ImportedCardRepository) UpsertBatch(ctx context.Context, cards []domain.ImportedCard) error {
	if len(cards) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range cards {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "card_id"}, {Name: "set_code"}},
				UpdateAll: true,
			}).Create(&cards[i]).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetBySource retrieves one row by its natural key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - cardID: upstream card id.
//   - setCode: set code.
// Returns:
//   - *domain.ImportedCard: row if found.
//   - error: non-nil if lookup fails.
func (r *ImportedCardRepository) GetBySource(ctx context.Context, cardID, setCode string) (*domain.ImportedCard, error) {
	var card domain.ImportedCard
	if err := r.db.WithContext(ctx).
		First(&card, "card_id = ? AND set_code = ?", cardID, setCode).Error; err != nil {
		return nil, err
	}
	return &card, nil
}

// ImportedIDs returns the set of card ids already imported successfully,
// optionally narrowed to one set. Used for backfill complements and for
// pre-filtering full-catalog reruns.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - setCode: set code to narrow by; empty means the whole catalog.
// Returns:
//   - map[string]struct{}: successfully imported card ids.
//   - error: non-nil if the query fails.
func (r *ImportedCardRepository) ImportedIDs(ctx context.Context, setCode string) (map[string]struct{}, error) {
	query := r.db.WithContext(ctx).Model(&domain.ImportedCard{}).Where("success = ?", true)
	if setCode != "" {
		query = query.Where("set_code = ?", setCode)
	}

	var ids []string
	if err := query.Pluck("card_id", &ids).Error; err != nil {
		return nil, err
	}

	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// CountImported counts successfully imported cards for one set.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - setCode: set code.
// Returns:
//   - int64: number of successful rows.
//   - error: non-nil if the query fails.
func (r *ImportedCardRepository) CountImported(ctx context.Context, setCode string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ImportedCard{}).
		Where("set_code = ? AND success = ?", setCode, true).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DistinctSets returns every set code present in the imported rows.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - []string: distinct set codes.
//   - error: non-nil if the query fails.
func (r *ImportedCardRepository) DistinctSets(ctx context.Context) ([]string, error) {
	var codes []string
	err := r.db.WithContext(ctx).Model(&domain.ImportedCard{}).
		Distinct("set_code").
		Pluck("set_code", &codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}
