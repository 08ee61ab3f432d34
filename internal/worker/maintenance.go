package worker

import (
	"context"
	"log/slog"
	"time"
)

const staleJobMessage = "worker heartbeat lost"

// runMaintenance re-dispatches pending jobs whose message was lost and fails
// running jobs whose worker stopped sending heartbeats
func (w *Worker) runMaintenance(ctx context.Context) {
	if w.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepPending(ctx)
			w.reapStale(ctx)
		}
	}
}

// sweepPending dispatches pending jobs never enqueued or enqueued before the
// redispatch window
func (w *Worker) sweepPending(ctx context.Context) int {
	jobs, err := w.store.ListDispatchable(ctx, w.now().Add(-w.redispatchAfter), w.sweepBatchSize)
	if err != nil {
		w.logger.Error("Failed to list dispatchable jobs", slog.Any("error", err))
		return 0
	}

	dispatched := 0
	for i := range jobs {
		if err := w.runner.Enqueue(ctx, &jobs[i]); err != nil {
			w.logger.Warn("Failed to re-dispatch job",
				slog.String("job_id", jobs[i].JobID),
				slog.Any("error", err),
			)
			continue
		}
		dispatched++
	}
	if dispatched > 0 {
		w.logger.Info("Re-dispatched pending jobs", slog.Int("count", dispatched))
	}
	return dispatched
}

// reapStale fails running jobs whose heartbeat is older than the stale window
func (w *Worker) reapStale(ctx context.Context) []string {
	if w.staleAfter <= 0 {
		return nil
	}
	failed, err := w.store.FailStale(ctx, w.now().Add(-w.staleAfter), staleJobMessage)
	if err != nil {
		w.logger.Error("Failed to reap stale jobs", slog.Any("error", err))
		return nil
	}
	for _, jobID := range failed {
		w.logger.Warn("Failed stale job", slog.String("job_id", jobID))
	}
	return failed
}
