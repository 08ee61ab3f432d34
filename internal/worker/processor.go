package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
)

// processJob runs one job under the hard job timeout with a heartbeat.
// In-flight jobs are not canceled by shutdown so the worker can drain.
func (w *Worker) processJob(ctx context.Context, msg domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("stage", msg.Stage),
		slog.String("worker_id", w.workerID),
	)

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, msg.JobID, heartbeatDone)
	defer close(heartbeatDone)

	return w.runner.Run(jobCtx, msg.JobID, w.workerID)
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
		}
	}
}
