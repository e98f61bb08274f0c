// Package storage gives each worker execution its own database session.
// A shared long-lived handle closed by one job would silently break every
// subsequent one, so sessions are acquired per delivery and released in the
// processor's cleanup path.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/finsight/docanalyzer/internal/analysis"
)

// Factory hands out per-execution sessions from the shared connection pool.
type Factory struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewFactory creates a session factory over the pool.
func NewFactory(db *sqlx.DB, logger *slog.Logger) *Factory {
	return &Factory{db: db, logger: logger}
}

// Acquire checks a dedicated connection out of the pool for one execution.
// The caller must Close the session on every exit path.
func (f *Factory) Acquire(ctx context.Context) (*Session, error) {
	conn, err := f.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire store session: %w", err)
	}
	return &Session{conn: conn, logger: f.logger}, nil
}

// Session wraps one dedicated connection for the duration of a single job
// execution. It is not safe for concurrent use and must not outlive the
// execution it was acquired for.
type Session struct {
	conn   *sqlx.Conn
	logger *slog.Logger
}

// Get retrieves the record for an analysis id.
func (s *Session) Get(ctx context.Context, id string) (*analysis.Record, error) {
	query := `
		SELECT id, source_name, query, status, result, error, created_at, completed_at
		FROM analyses
		WHERE id = $1
	`

	var rec analysis.Record
	if err := s.conn.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, analysis.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	return &rec, nil
}

// MarkProcessing moves the record into PROCESSING and clears any outcome
// from a previous attempt, so the non-terminal invariant (no result, no
// error) holds while the attempt runs. A record that already reached
// COMPLETED is never reclaimed; redelivered messages hit ErrAlreadyCompleted.
func (s *Session) MarkProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE analyses
		SET status = $1, result = NULL, error = NULL, completed_at = NULL
		WHERE id = $2 AND status <> $3
	`

	res, err := s.conn.ExecContext(ctx, query, analysis.StatusProcessing, id, analysis.StatusCompleted)
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

	s.logger.Info("Analysis claimed",
		slog.String("analysis_id", id),
	)

	return nil
}

// MarkCompleted records the terminal success outcome. Status, result, and
// completed_at land in one statement so a concurrent poller never observes
// a torn view.
func (s *Session) MarkCompleted(ctx context.Context, id, result string, completedAt time.Time) error {
	query := `
		UPDATE analyses
		SET status = $1, result = $2, error = NULL, completed_at = $3
		WHERE id = $4
	`

	if _, err := s.conn.ExecContext(ctx, query, analysis.StatusCompleted, result, completedAt, id); err != nil {
		return fmt.Errorf("failed to mark analysis completed: %w", err)
	}

	s.logger.Info("Analysis completed",
		slog.String("analysis_id", id),
	)

	return nil
}

// MarkFailed records a failure outcome. The write happens immediately even
// when a retry will follow, so polling callers always see the latest known
// state. COMPLETED is never overwritten.
func (s *Session) MarkFailed(ctx context.Context, id, errMsg string, completedAt time.Time) error {
	query := `
		UPDATE analyses
		SET status = $1, error = $2, result = NULL, completed_at = $3
		WHERE id = $4 AND status <> $5
	`

	if _, err := s.conn.ExecContext(ctx, query, analysis.StatusFailed, errMsg, completedAt, id, analysis.StatusCompleted); err != nil {
		return fmt.Errorf("failed to mark analysis failed: %w", err)
	}

	s.logger.Info("Analysis failed",
		slog.String("analysis_id", id),
		slog.String("error", errMsg),
	)

	return nil
}

// Close returns the dedicated connection to the pool.
func (s *Session) Close() error {
	return s.conn.Close()
}
