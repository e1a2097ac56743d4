package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/script-studio/internal/tracker"
	"github.com/cuongbtq/script-studio/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// eventMessage is a decoded delivery on its way to the pool
type eventMessage struct {
	Event    tracker.OutcomeEvent
	Delivery amqp.Delivery
}

// setupConsumer registers a manual-ack consumer tagged with the worker id
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.consumer.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Consumer started",
		slog.String("consumer_tag", w.workerID),
	)
	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the pool.
// Deliveries that can never be archived are nacked without requeue.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return domain.ErrDeliveriesClosed
			}

			event, err := decodeEvent(delivery.Body)
			if err != nil {
				w.logger.Error("Dropping undecodable event",
					slog.Any("error", err),
					slog.String("routing_key", delivery.RoutingKey),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK invalid event",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			msg := &eventMessage{Event: event, Delivery: delivery}
			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Event dispatched to worker pool",
					slog.String("job_id", event.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching event")
				// Put it back for the next consumer
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK event on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return nil
			}
		}
	}
}

// decodeEvent parses an outcome event. Job ids are backend task UUIDs and
// name archive files, so anything else is rejected.
func decodeEvent(body []byte) (tracker.OutcomeEvent, error) {
	var event tracker.OutcomeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return tracker.OutcomeEvent{}, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	id, err := uuid.Parse(event.JobID)
	if err != nil {
		return tracker.OutcomeEvent{}, fmt.Errorf("%w: job_id %q is not a UUID", domain.ErrInvalidEvent, event.JobID)
	}
	event.JobID = id.String()
	if event.Outcome == "" {
		return tracker.OutcomeEvent{}, fmt.Errorf("%w: missing outcome", domain.ErrInvalidEvent)
	}
	return event, nil
}
