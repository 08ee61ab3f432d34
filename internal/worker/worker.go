package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/storage"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer delivers job messages from the queue
type Consumer interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// Runner executes claimed jobs and re-dispatches pending ones
type Runner interface {
	Run(ctx context.Context, jobID, workerID string) error
	Enqueue(ctx context.Context, job *domain.Job) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Consumer          Consumer
	Runner            Runner
	Store             storage.JobStore
	WorkerID          string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	RedispatchAfter   time.Duration
	StaleAfter        time.Duration
	SweepBatchSize    int
	Clock             func() time.Time
}

// delivery is a decoded job message with the handle used to settle it
type delivery struct {
	msg   domain.JobMessage
	acker amqp.Acknowledger
}

// Worker consumes job messages and runs them on a fixed pool of goroutines
type Worker struct {
	logger            *slog.Logger
	consumer          Consumer
	runner            Runner
	store             storage.JobStore
	workerID          string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	sweepInterval     time.Duration
	redispatchAfter   time.Duration
	staleAfter        time.Duration
	sweepBatchSize    int
	now               func() time.Time

	jobsChan chan *delivery
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		consumer:          cfg.Consumer,
		runner:            cfg.Runner,
		store:             cfg.Store,
		workerID:          cfg.WorkerID,
		concurrency:       max(cfg.Concurrency, 1),
		prefetchCount:     cfg.PrefetchCount,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		sweepInterval:     cfg.SweepInterval,
		redispatchAfter:   cfg.RedispatchAfter,
		staleAfter:        cfg.StaleAfter,
		sweepBatchSize:    cfg.SweepBatchSize,
		now:               cfg.Clock,
		stopChan:          make(chan struct{}),
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 10 * time.Minute
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = 30 * time.Second
	}
	if w.sweepBatchSize <= 0 {
		w.sweepBatchSize = 100
	}
	w.jobsChan = make(chan *delivery, w.concurrency)
	return w
}

// Start subscribes to the queue, spawns the worker pool and the maintenance
// loop, and blocks until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runMaintenance(ctx)
	}()

	w.startMessageDispatcher(ctx, deliveries)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop stops taking new jobs and waits for in-flight jobs to settle
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
