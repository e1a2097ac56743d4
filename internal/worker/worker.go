// Package worker archives outcome events published by the gateway. A
// dispatcher reads deliveries from RabbitMQ and a fixed pool of goroutines
// writes them to the script archive, acking or nacking each delivery.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/script-studio/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer yields deliveries from the outcome queue. *rabbitmq.Client
// satisfies it.
type Consumer interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// Archive stores scripts and outcome entries
type Archive interface {
	SaveScript(jobID, script string) (string, error)
	AppendEntry(entry domain.Entry) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Consumer      Consumer
	Archive       Archive
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	// Now is used for archive timestamps; defaults to time.Now
	Now func() time.Time
}

// Worker consumes outcome events and archives them
type Worker struct {
	logger        *slog.Logger
	consumer      Consumer
	archive       Archive
	workerID      string
	concurrency   int
	prefetchCount int
	now           func() time.Time

	jobsChan chan *eventMessage
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Consumer == nil || cfg.Archive == nil {
		return nil, errors.New("worker: consumer and archive are required")
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "archiver"
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Worker{
		logger:        logger,
		consumer:      cfg.Consumer,
		archive:       cfg.Archive,
		workerID:      workerID,
		concurrency:   concurrency,
		prefetchCount: cfg.PrefetchCount,
		now:           now,
		jobsChan:      make(chan *eventMessage, concurrency),
		stopChan:      make(chan struct{}),
	}, nil
}

// Start registers the consumer, spawns the pool and dispatches deliveries
// until ctx is done or the broker closes the delivery channel. It returns
// nil when ctx ends and domain.ErrDeliveriesClosed when the broker went away.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	err = w.startMessageDispatcher(ctx, deliveries)
	close(w.jobsChan)
	return err
}

// Stop waits for the pool to finish in-flight events
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
