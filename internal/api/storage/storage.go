// Package storage is the API service's view of the analysis record store:
// record creation, lookup, listing, and the status transitions the inline
// execution path drives.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/finsight/docanalyzer/internal/analysis"
	"github.com/finsight/docanalyzer/shared/postgresql"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	pqUniqueViolation = "23505"
)

// Storage persists analysis records through the shared connection pool.
type Storage struct {
	db *sqlx.DB
}

// NewStorage creates a Storage over the PostgreSQL client.
func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// Create inserts a new record. A duplicate id maps to ErrDuplicateID so
// the handler can answer with a conflict instead of a server error.
func (s *Storage) Create(ctx context.Context, rec *analysis.Record) error {
	query := `
		INSERT INTO analyses (
			id, source_name, query, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.SourceName,
		rec.Query,
		rec.Status,
		rec.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return analysis.ErrDuplicateID
		}
		return fmt.Errorf("failed to create analysis: %w", err)
	}

	return nil
}

// GetByID retrieves one record.
func (s *Storage) GetByID(ctx context.Context, id string) (*analysis.Record, error) {
	query := `
		SELECT id, source_name, query, status, result, error, created_at, completed_at
		FROM analyses
		WHERE id = $1
	`

	var rec analysis.Record
	if err := s.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, analysis.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	return &rec, nil
}

// List returns records newest first. Offset and limit are clamped; the id
// tiebreaker keeps the order stable for records created in the same
// instant.
func (s *Storage) List(ctx context.Context, offset, limit int) ([]analysis.Record, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	query := `
		SELECT id, source_name, query, status, result, error, created_at, completed_at
		FROM analyses
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	recs := []analysis.Record{}
	if err := s.db.SelectContext(ctx, &recs, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	return recs, nil
}

// MarkProcessing claims the record for an execution and clears any prior
// outcome. A record already COMPLETED is never reclaimed.
func (s *Storage) MarkProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE analyses
		SET status = $1, result = NULL, error = NULL, completed_at = NULL
		WHERE id = $2 AND status <> $3
	`

	res, err := s.db.ExecContext(ctx, query, analysis.StatusProcessing, id, analysis.StatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to mark analysis processing: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return analysis.ErrAlreadyCompleted
	}

	return nil
}

// MarkCompleted records the success outcome in a single statement.
func (s *Storage) MarkCompleted(ctx context.Context, id, result string, completedAt time.Time) error {
	query := `
		UPDATE analyses
		SET status = $1, result = $2, error = NULL, completed_at = $3
		WHERE id = $4
	`

	if _, err := s.db.ExecContext(ctx, query, analysis.StatusCompleted, result, completedAt, id); err != nil {
		return fmt.Errorf("failed to mark analysis completed: %w", err)
	}

	return nil
}

// MarkFailed records a failure outcome without ever overwriting COMPLETED.
func (s *Storage) MarkFailed(ctx context.Context, id, errMsg string, completedAt time.Time) error {
	query := `
		UPDATE analyses
		SET status = $1, error = $2, result = NULL, completed_at = $3
		WHERE id = $4 AND status <> $5
	`

	if _, err := s.db.ExecContext(ctx, query, analysis.StatusFailed, errMsg, completedAt, id, analysis.StatusCompleted); err != nil {
		return fmt.Errorf("failed to mark analysis failed: %w", err)
	}

	return nil
}
