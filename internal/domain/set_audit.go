package domain

import "time"

// SetAudit is a derived per-set view comparing the upstream card count with
// the number of successfully imported cards. It is entirely reconstructable
// from ImportedCard rows plus upstream set metadata, so it is a cache, not a
// source of truth, and may be rebuilt from scratch at any time.
type SetAudit struct {
	TenantID       string     `gorm:"type:text;primaryKey" json:"tenant_id"`
	SetCode        string     `gorm:"type:text;primaryKey" json:"set_code"`
	SetName        string     `gorm:"type:text" json:"set_name,omitempty"`
	ExpectedCount  int        `gorm:"default:0" json:"expected_count"`
	ImportedCount  int        `gorm:"default:0" json:"imported_count"`
	LastImportedAt *time.Time `json:"last_imported_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for SetAudit.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (SetAudit) TableName() string {
	return "set_audits"
}
