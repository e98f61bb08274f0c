package analysis

import (
	"database/sql"
	"time"
)

// Status is the lifecycle state of an analysis record. Transitions move
// forward only (PENDING → PROCESSING → COMPLETED|FAILED); the single
// exception is a worker retry, which re-enters PROCESSING from FAILED.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the status admits no further attempts.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is one submitted (document, query) pair and its tracked outcome.
// It is the single source of truth for status, result, and error; only the
// execution paths (inline executor, queue worker) mutate it after creation.
type Record struct {
	ID          string         `db:"id"`
	SourceName  string         `db:"source_name"`
	Query       string         `db:"query"`
	Status      Status         `db:"status"`
	Result      sql.NullString `db:"result"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
}
