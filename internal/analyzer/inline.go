package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// RecordStore is the slice of the job record store the inline executor
// needs: the three status transitions it owns.
type RecordStore interface {
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, result string, completedAt time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string, completedAt time.Time) error
}

// InlineExecutor runs an analysis for a caller that waits synchronously
// for the outcome. The blocking orchestrator run is offloaded to its own
// goroutine, detached from the request's cancellation, so the record
// reaches a terminal state even if the caller goes away mid-run.
type InlineExecutor struct {
	store  RecordStore
	orch   *Orchestrator
	logger *slog.Logger

	// Seam for tests.
	removeArtifact func(path string) error
}

// NewInlineExecutor creates an inline execution adapter.
func NewInlineExecutor(store RecordStore, orch *Orchestrator, logger *slog.Logger) *InlineExecutor {
	return &InlineExecutor{
		store:          store,
		orch:           orch,
		logger:         logger,
		removeArtifact: os.Remove,
	}
}

type outcome struct {
	result string
	err    error
}

// Execute transitions the record to PROCESSING, runs the orchestrator off
// the calling goroutine, transitions to the terminal status, and returns
// the outcome. The record is left terminal on every exit path: if neither
// COMPLETED nor FAILED was recorded normally, a deferred FAILED write
// covers the gap.
//
// The executor also owns the uploaded artifact: it is removed only after
// the run reaches its terminal state, so an abandoned caller cannot pull
// the document out from under the still-running analysis.
func (e *InlineExecutor) Execute(ctx context.Context, in Input) (string, error) {
	if err := e.store.MarkProcessing(ctx, in.AnalysisID); err != nil {
		e.cleanupArtifact(in.ArtifactPath)
		return "", fmt.Errorf("failed to start analysis %s: %w", in.AnalysisID, err)
	}

	done := make(chan outcome, 1)

	// The run continues past request cancellation; values flow through but
	// the deadline does not.
	runCtx := context.WithoutCancel(ctx)

	go func() {
		terminal := false
		defer func() {
			if !terminal {
				now := time.Now().UTC()
				if err := e.store.MarkFailed(runCtx, in.AnalysisID, "analysis aborted unexpectedly", now); err != nil {
					e.logger.Error("Failed to record fallback failure",
						slog.String("analysis_id", in.AnalysisID),
						slog.Any("error", err),
					)
				}
			}
			// The single inline attempt is over; nothing else reads the
			// document.
			e.cleanupArtifact(in.ArtifactPath)
		}()

		result, runErr := e.orch.Run(runCtx, in)
		now := time.Now().UTC()

		if runErr != nil {
			if err := e.store.MarkFailed(runCtx, in.AnalysisID, runErr.Error(), now); err != nil {
				e.logger.Error("Failed to record analysis failure",
					slog.String("analysis_id", in.AnalysisID),
					slog.Any("error", err),
				)
			}
			terminal = true
			done <- outcome{err: runErr}
			return
		}

		if err := e.store.MarkCompleted(runCtx, in.AnalysisID, result, now); err != nil {
			e.logger.Error("Failed to record analysis result",
				slog.String("analysis_id", in.AnalysisID),
				slog.Any("error", err),
			)
			done <- outcome{err: fmt.Errorf("analysis succeeded but persisting the result failed: %w", err)}
			return
		}

		terminal = true
		done <- outcome{result: result}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		// The caller is gone; the goroutine above still drives the record
		// to a terminal state.
		e.logger.Warn("Caller abandoned inline analysis",
			slog.String("analysis_id", in.AnalysisID),
			slog.Any("error", ctx.Err()),
		)
		return "", ctx.Err()
	}
}

func (e *InlineExecutor) cleanupArtifact(path string) {
	if path == "" {
		return
	}
	if err := e.removeArtifact(path); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("Failed to remove artifact",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}
