package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsight/docanalyzer/internal/analysis"
	"github.com/finsight/docanalyzer/internal/analyzer"
)

// processDelivery runs one dequeued analysis request end to end.
//
// Outcome handling: a nil return means the delivery is done from the
// queue's perspective and gets ACKed - including terminal failures (the
// FAILED record is the durable outcome) and failures that scheduled a
// retry (the retry rides a fresh message). Errors are returned only when
// redelivery is the right remedy (transient store trouble) or can never
// help (missing record), and the NACK requeue flag follows from the error
// class.
func (w *Worker) processDelivery(ctx context.Context, msg *message) error {
	req := msg.req
	log := w.logger.With(
		slog.String("analysis_id", req.AnalysisID),
		slog.Int("attempt", req.Attempt),
	)

	log.Info("Processing analysis request")

	// Fresh store session per execution; released on every exit path.
	sess, err := w.sessions(ctx)
	if err != nil {
		return newRetryable(err)
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			log.Warn("Failed to release store session",
				slog.String("error", closeErr.Error()),
			)
		}
	}()

	rec, err := sess.Get(ctx, req.AnalysisID)
	if err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			log.Error("No record for queue message - dropping")
			return fmt.Errorf("%w: %s", errRecordMissing, req.AnalysisID)
		}
		return newRetryable(err)
	}

	// At-least-once delivery: a redelivered message for a finished job is
	// a no-op so the persisted result is never recomputed or overwritten.
	if rec.Status == analysis.StatusCompleted {
		log.Info("Analysis already completed - ignoring redelivered message")
		return nil
	}

	if err := sess.MarkProcessing(ctx, req.AnalysisID); err != nil {
		if errors.Is(err, analysis.ErrAlreadyCompleted) {
			log.Info("Analysis completed concurrently - ignoring delivery")
			return nil
		}
		return newRetryable(err)
	}

	result, runErr := w.run.Run(ctx, analyzer.Input{
		AnalysisID:   req.AnalysisID,
		Query:        req.Query,
		ArtifactPath: req.ArtifactPath,
	})
	now := time.Now().UTC()

	// The job timeout bounds the run, not the bookkeeping: outcome writes
	// ride a detached context so an attempt killed by its own deadline
	// still lands as FAILED instead of lingering in PROCESSING through the
	// backoff window.
	persistCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		// Persist the failure before deciding on a retry so pollers see
		// the latest known state even mid-backoff.
		if err := sess.MarkFailed(persistCtx, req.AnalysisID, runErr.Error(), now); err != nil {
			log.Error("Failed to persist failure outcome",
				slog.String("error", err.Error()),
			)
		}

		if analyzer.Retriable(runErr) && req.Attempt < w.maxRetries {
			w.scheduleRetry(req)
			// The artifact stays on disk for the next attempt.
			return nil
		}

		log.Warn("Analysis permanently failed",
			slog.String("error", runErr.Error()),
			slog.Int("total_attempts", req.Attempt+1),
		)
		w.cleanupArtifact(log, req.ArtifactPath)
		return nil
	}

	if err := sess.MarkCompleted(persistCtx, req.AnalysisID, result, now); err != nil {
		// The analysis ran but the outcome is not durable; let the broker
		// redeliver and the idempotence guard sort out the rest.
		return newRetryable(err)
	}

	if _, err := w.reports.Write(req.AnalysisID, rec.SourceName, req.Query, result); err != nil {
		log.Warn("Failed to write report file",
			slog.String("error", err.Error()),
		)
	}

	log.Info("Analysis request completed")
	w.cleanupArtifact(log, req.ArtifactPath)
	return nil
}

// scheduleRetry re-publishes the request with an incremented attempt count
// after the exponential backoff delay (30s, then 60s by default). The
// broker has no delayed-delivery primitive on a plain queue, so the worker
// owns the timer. The pending retry joins the shutdown WaitGroup: a
// graceful Stop publishes it immediately instead of losing it with the
// process.
func (w *Worker) scheduleRetry(req analysis.Request) {
	next := req
	next.Attempt++
	delay := time.Duration(next.Attempt) * w.retryBackoff

	body, err := json.Marshal(next)
	if err != nil {
		w.logger.Error("Failed to encode retry message",
			slog.String("analysis_id", req.AnalysisID),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("Retry scheduled",
		slog.String("analysis_id", req.AnalysisID),
		slog.Int("attempt", next.Attempt),
		slog.Duration("delay", delay),
	)

	timerC := w.schedule(delay)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		select {
		case <-timerC:
		case <-w.stopChan:
			w.logger.Info("Flushing pending retry before shutdown",
				slog.String("analysis_id", req.AnalysisID),
				slog.Int("attempt", next.Attempt),
			)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := w.publish.Publish(ctx, body); err != nil {
			w.logger.Error("Failed to publish retry message",
				slog.String("analysis_id", req.AnalysisID),
				slog.Int("attempt", next.Attempt),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// cleanupArtifact deletes the uploaded document once no further attempt
// will need it.
func (w *Worker) cleanupArtifact(log *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := w.removeArtifact(path); err != nil {
		log.Warn("Failed to remove artifact",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	log.Debug("Artifact removed",
		slog.String("path", path),
	)
}
