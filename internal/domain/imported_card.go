package domain

import "time"

// ProductIDExisting is the sentinel stored when the downstream product
// already existed and the write was classified as a skip.
const ProductIDExisting = "existing"

// ImportedCard is the idempotency and audit row for one imported card.
// The (card_id, set_code) key is stable across retries and backfills, so
// re-processing the same card updates the existing row instead of
// duplicating it. Rows are upserted and never deleted by the pipeline.
type ImportedCard struct {
	CardID    string    `gorm:"type:text;primaryKey" json:"card_id"`
	SetCode   string    `gorm:"type:text;primaryKey" json:"set_code"`
	JobID     string    `gorm:"type:text;index" json:"job_id"`
	ProductID string    `gorm:"type:text" json:"product_id,omitempty"`
	Success   bool      `gorm:"default:false;index" json:"success"`
	ErrorText string    `json:"error_text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for ImportedCard.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (ImportedCard) TableName() string {
	return "imported_cards"
}
