package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/finsight/docanalyzer/internal/analysis"
)

// setupConsumer configures QoS and starts consuming from the queue.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// Bound unacknowledged deliveries per consumer so one worker does not
	// hoard slow analyses.
	if err := channel.Qos(w.prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.rabbitClient.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Queue consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and feeds them to the pool.
// Malformed messages are NACKed without requeue; redelivery would only
// fail the same way.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Queue delivery channel closed")
				return
			}

			var req analysis.Request
			if err := json.Unmarshal(delivery.Body, &req); err != nil {
				w.logger.Error("Failed to parse queue message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				w.nack(delivery, false)
				continue
			}

			if _, err := uuid.Parse(req.AnalysisID); err != nil {
				w.logger.Error("Queue message carries invalid analysis id",
					slog.String("analysis_id", req.AnalysisID),
					slog.String("error", err.Error()),
				)
				w.nack(delivery, false)
				continue
			}

			msg := &message{req: req, deliveryTag: delivery.DeliveryTag}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Analysis dispatched to worker pool",
					slog.String("analysis_id", req.AnalysisID),
					slog.Int("attempt", req.Attempt),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching")
				// Hand the message back so another worker picks it up.
				w.nack(delivery, true)
				return
			}
		}
	}
}

func (w *Worker) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("error", err.Error()),
		)
	}
}
