package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case job := <-w.jobsChan:
			w.handle(ctx, workerName, job)
		}
	}
}

// handle runs one job and settles its delivery
func (w *Worker) handle(ctx context.Context, workerName string, job *delivery) {
	logger := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("job_id", job.msg.JobID),
	)

	err := w.processJob(ctx, job.msg)
	if err == nil {
		if ackErr := job.acker.Ack(job.msg.DeliveryTag, false); ackErr != nil {
			logger.Error("Failed to ACK message", slog.Any("error", ackErr))
		}
		return
	}

	requeue := shouldRequeueJob(err)
	logger.Warn("Job processing returned an error",
		slog.Any("error", err),
		slog.Bool("requeue", requeue),
	)
	if nackErr := job.acker.Nack(job.msg.DeliveryTag, false, requeue); nackErr != nil {
		logger.Error("Failed to NACK message", slog.Any("error", nackErr))
	}
}

// shouldRequeueJob requeues only infrastructure errors raised before the job
// was claimed. A claimed job always reaches a terminal state itself.
func shouldRequeueJob(err error) bool {
	if errors.Is(err, domain.ErrJobAlreadyClaimed) {
		return false
	}
	return domain.IsRetryable(err)
}
