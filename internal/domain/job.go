package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus represents the lifecycle state of an import job.
// Values include JobStatusPending, JobStatusRunning, JobStatusCompleted,
// JobStatusFailed, and JobStatusCancelled.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobKind represents the scope of an import job.
type JobKind string

const (
	// JobKindSingleSet imports every card of one set.
	JobKindSingleSet JobKind = "single_set"
	// JobKindFullCatalog imports the whole upstream catalog from a bulk snapshot.
	JobKindFullCatalog JobKind = "full_catalog"
	// JobKindBackfillSet imports only the cards of a set that have not been
	// successfully imported yet.
	JobKindBackfillSet JobKind = "backfill_set"
)

// MaxErrorLogEntries caps the per-job record error log. The log is kept
// most-recent-first and older entries are dropped once the cap is reached.
const MaxErrorLogEntries = 25

// ErrorLog is a bounded list of per-record error strings stored as JSON.
type ErrorLog []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded representation of the log.
//   - error: non-nil if marshaling fails.
func (l ErrorLog) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (l *ErrorLog) Scan(value interface{}) error {
	if value == nil {
		*l = ErrorLog{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan ErrorLog")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, l)
}

// Prepend inserts an entry at the front of the log, trimming to the cap.
func (l ErrorLog) Prepend(entry string) ErrorLog {
	out := append(ErrorLog{entry}, l...)
	if len(out) > MaxErrorLogEntries {
		out = out[:MaxErrorLogEntries]
	}
	return out
}

// ImportJob represents one unit of catalog import work and its progress.
type ImportJob struct {
	ID       string    `gorm:"type:text;primaryKey" json:"id"`
	TenantID string    `gorm:"type:text;not null;index" json:"tenant_id"`
	Kind     JobKind   `gorm:"type:text;not null" json:"kind"`
	SetCode  string    `gorm:"type:text;index" json:"set_code,omitempty"`
	Status   JobStatus `gorm:"default:pending;index" json:"status"`

	RecordsTotal     int `gorm:"default:0" json:"records_total"`
	RecordsProcessed int `gorm:"default:0" json:"records_processed"`
	WritesCreated    int `gorm:"default:0" json:"writes_created"`
	SkippedCount     int `gorm:"default:0" json:"skipped_count"`
	ErrorCount       int `gorm:"default:0" json:"error_count"`

	// Checkpoint counts filtered source records the job has fully committed
	// past. Monotonically non-decreasing within one job.
	Checkpoint int `gorm:"default:0" json:"checkpoint"`

	Priority int `gorm:"default:0" json:"priority"`

	ErrorSummary string   `json:"error_summary,omitempty"`
	RecordErrors ErrorLog `gorm:"type:text" json:"record_errors,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `gorm:"index" json:"updated_at"`
}

// TableName returns the database table name for ImportJob.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (ImportJob) TableName() string {
	return "import_jobs"
}
