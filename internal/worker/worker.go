// Package worker consumes analysis requests from the durable queue, runs
// the orchestrator for each one, and persists the outcome with bounded
// retries.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finsight/docanalyzer/internal/analysis"
	"github.com/finsight/docanalyzer/internal/analyzer"
	"github.com/finsight/docanalyzer/internal/worker/storage"
	"github.com/finsight/docanalyzer/shared/postgresql"
	"github.com/finsight/docanalyzer/shared/rabbitmq"
)

// Config holds worker configuration.
type Config struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
	Orchestrator *analyzer.Orchestrator
	Reports      reportWriter

	Concurrency   int
	PrefetchCount int
	MaxRetries    int
	RetryBackoff  time.Duration
	JobTimeout    time.Duration
}

// session is the per-execution slice of the record store the processor
// uses. Satisfied by *storage.Session.
type session interface {
	Get(ctx context.Context, id string) (*analysis.Record, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, result string, completedAt time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string, completedAt time.Time) error
	Close() error
}

// sessionFactory opens a fresh store session for one execution.
type sessionFactory func(ctx context.Context) (session, error)

// runner executes one analysis attempt. Satisfied by *analyzer.Orchestrator.
type runner interface {
	Run(ctx context.Context, in analyzer.Input) (string, error)
}

// publisher re-publishes retry messages to the queue.
type publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// reportWriter persists the report file for a completed analysis.
type reportWriter interface {
	Write(analysisID, sourceName, query, result string) (string, error)
}

// message is one queue delivery handed from the dispatcher to the pool.
type message struct {
	req         analysis.Request
	deliveryTag uint64
}

// Worker is the queue-consuming analysis worker.
type Worker struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	sessions      sessionFactory
	run           runner
	publish       publisher
	reports       reportWriter
	concurrency   int
	prefetchCount int
	maxRetries    int
	retryBackoff  time.Duration
	jobTimeout    time.Duration
	workerID      string

	// seams for the retry timer and artifact deletion
	schedule       func(d time.Duration) <-chan time.Time
	removeArtifact func(path string) error

	jobsChan chan *message
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewWorker creates a worker wired to the shared database pool and queue
// client. Store sessions are still acquired per execution, never shared.
func NewWorker(cfg *Config) *Worker {
	sessionStore := storage.NewFactory(cfg.DBClient.GetDB(), cfg.Logger)

	return &Worker{
		logger:       cfg.Logger,
		rabbitClient: cfg.RabbitClient,
		sessions: func(ctx context.Context) (session, error) {
			return sessionStore.Acquire(ctx)
		},
		run:           cfg.Orchestrator,
		publish:       &queuePublisher{client: cfg.RabbitClient},
		reports:       cfg.Reports,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		maxRetries:    cfg.MaxRetries,
		retryBackoff:  cfg.RetryBackoff,
		jobTimeout:    cfg.JobTimeout,
		workerID:      fmt.Sprintf("analysis-worker-%s", uuid.New().String()[:8]),
		schedule: func(d time.Duration) <-chan time.Time {
			return time.After(d)
		},
		removeArtifact: os.Remove,
		jobsChan:       make(chan *message, cfg.Concurrency),
		stopChan:       make(chan struct{}),
	}
}

// Start begins consuming and processing analysis requests. It blocks until
// the context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_retries", w.maxRetries),
		slog.Duration("retry_backoff", w.retryBackoff),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	go w.startMessageDispatcher(ctx, deliveries)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker: it waits for in-flight jobs and
// flushes any retries still sitting in their backoff window back to the
// queue before returning.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// queuePublisher adapts the RabbitMQ client for retry re-publication.
type queuePublisher struct {
	client *rabbitmq.Client
}

func (p *queuePublisher) Publish(ctx context.Context, body []byte) error {
	return p.client.PublishWithRetry(ctx, body, "application/json")
}
