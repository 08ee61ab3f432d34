package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/executor"
	"github.com/cuongbtq/opportunity-pipeline/internal/planner"
	"github.com/cuongbtq/opportunity-pipeline/internal/stage"
	"github.com/cuongbtq/opportunity-pipeline/internal/storage"
	"golang.org/x/sync/errgroup"
)

// ErrJobFailed wraps the cause of a job that was marked failed
type ErrJobFailed struct {
	JobID string
	Err   error
}

func (e *ErrJobFailed) Error() string {
	return fmt.Sprintf("job %s failed: %v", e.JobID, e.Err)
}

func (e *ErrJobFailed) Unwrap() error {
	return e.Err
}

// run is the state of one job execution
type run struct {
	job       *domain.Job
	stage     stage.Stage
	processor stage.Processor
	exec      *executor.Executor
	params    domain.Params
	started   time.Time
	budget    time.Duration
	progress  domain.Progress
	cursor    *domain.ItemCursor
	batches   int
}

type batchCounts struct {
	succeeded, fallback, failed, skipped int
}

// Run claims a pending job and executes it to a terminal state. A claim
// conflict returns ErrJobAlreadyClaimed, an infrastructure error during the
// claim is retryable, and any failure after the claim marks the job failed
// and returns *ErrJobFailed.
func (o *Orchestrator) Run(ctx context.Context, jobID, workerID string) (err error) {
	job, err := o.store.ClaimJob(ctx, jobID, workerID)
	if err != nil {
		if isClaimConflict(err) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	started := o.now()
	logger := o.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("stage", job.Stage),
	)
	logger.Info("Job started", slog.String("worker_id", workerID))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator panic: %v", r)
		}
		if err == nil {
			return
		}

		o.metrics.RecordJob(ctx, job.Stage, domain.JobStatusFailed, o.now().Sub(started))
		// the failure must be recorded even when ctx was canceled
		if failErr := o.store.FailJob(context.WithoutCancel(ctx), job.JobID, err.Error()); failErr != nil {
			logger.Error("Failed to mark job failed",
				slog.Any("error", failErr),
				slog.Any("cause", err),
			)
		}
		logger.Error("Job failed", slog.Any("error", err))
		err = &ErrJobFailed{JobID: job.JobID, Err: err}
	}()

	result, err := o.execute(ctx, job, started, logger)
	if err != nil {
		return err
	}

	// a run that stopped on its deadline still completes
	if err := o.store.CompleteJob(context.WithoutCancel(ctx), job.JobID, result); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	o.metrics.RecordJob(ctx, job.Stage, domain.JobStatusCompleted, o.now().Sub(started))

	logger.Info("Job completed",
		slog.Int("posts_processed", result.PostsProcessed),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("fallback", result.Fallback),
		slog.Int("failed", result.Failed),
		slog.Bool("needs_continuation", result.NeedsContinuation),
		slog.String("stop_reason", result.StopReason),
	)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, job *domain.Job, started time.Time, logger *slog.Logger) (domain.Result, error) {
	st, err := o.stages.Get(job.Stage)
	if err != nil {
		return domain.Result{}, err
	}
	params, err := domain.DecodeParams(job.Parameters)
	if err != nil {
		return domain.Result{}, err
	}
	processor, err := st.Prepare(job.Parameters)
	if err != nil {
		return domain.Result{}, err
	}

	r := &run{
		job:       job,
		stage:     st,
		processor: processor,
		exec:      o.executorFor(st.Dependency()),
		params:    params.WithDefaults(o.defaults),
		started:   started,
		progress:  domain.Progress{CurrentStep: domain.StepClaimed},
	}
	r.budget = effectiveBudget(ctx, r.params.TimeBudget())
	if err := o.saveProgress(ctx, r); err != nil {
		return domain.Result{}, err
	}

	stopReason, needsContinuation, err := o.drain(ctx, r, logger)
	if err != nil && reachedDeadline(ctx, err) {
		// the batch in flight overran the reserve; keep what was done
		logger.Warn("Run deadline reached before the time budget", slog.Any("error", err))
		stopReason, needsContinuation, err = domain.StopReasonTimeBudget, true, nil
	}
	if err != nil {
		return domain.Result{}, err
	}
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}

	result := domain.Result{
		PostsProcessed:    r.progress.PostsProcessed,
		Succeeded:         r.progress.Succeeded,
		Fallback:          r.progress.Fallback,
		Failed:            r.progress.Failed,
		Skipped:           r.progress.Skipped,
		ProducedRecords:   r.progress.Succeeded + r.progress.Fallback,
		NeedsContinuation: needsContinuation,
		StopReason:        stopReason,
		Reliability:       o.reliability.Snapshots(),
	}

	r.progress.CurrentStep = domain.StepFinishing
	if err := o.saveProgress(ctx, r); err != nil {
		return domain.Result{}, err
	}

	if next := st.Next(); next != "" && result.ProducedRecords > 0 && r.params.HandoffEnabled() {
		nextJob, err := o.handoff(ctx, job, next, result.ProducedRecords)
		if err != nil {
			logger.Warn("Handoff failed", slog.String("next_stage", next), slog.Any("error", err))
		} else {
			result.NextJobID = nextJob.JobID
		}
	}

	if result.NeedsContinuation && r.params.AutoContinue {
		continuation, err := o.createJob(ctx, job.Stage, job.Parameters, &job.JobID)
		if err != nil {
			logger.Warn("Automatic continuation failed", slog.Any("error", err))
		} else {
			result.ContinuationJobID = continuation.JobID
		}
	}

	r.progress.CurrentStep = domain.StepDone
	if err := o.saveProgress(ctx, r); err != nil {
		return domain.Result{}, err
	}

	result.DurationMS = o.now().Sub(started).Milliseconds()
	return result, nil
}

// drain processes pages until the backlog is empty, the time budget is spent
// or the item ceiling is reached. The budget is only checked between batches
// and between pages.
func (o *Orchestrator) drain(ctx context.Context, r *run, logger *slog.Logger) (string, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", false, fmt.Errorf("run interrupted: %w", err)
		}
		if r.progress.PagesFetched > 0 && o.budgetSpent(r) {
			more, err := o.hasMore(ctx, r)
			return domain.StopReasonTimeBudget, more, err
		}

		remaining := r.params.MaxItems - r.progress.PostsProcessed
		if remaining <= 0 {
			more, err := o.hasMore(ctx, r)
			return domain.StopReasonItemCeiling, more, err
		}

		r.progress.CurrentStep = domain.StepFetching
		items, err := o.store.FetchPending(ctx, o.itemQuery(r, min(r.params.PageSize, remaining)))
		if err != nil {
			return "", false, fmt.Errorf("failed to fetch work items: %w", err)
		}
		if len(items) == 0 {
			return domain.StopReasonExhausted, false, nil
		}

		r.progress.PagesFetched++
		last := items[len(items)-1].Cursor()
		r.cursor = &last

		batches := o.planner.Plan(items)
		logger.Debug("Page planned",
			slog.Int("page", r.progress.PagesFetched),
			slog.Int("items", len(items)),
			slog.Int("batches", len(batches)),
		)

		r.progress.CurrentStep = domain.StepProcessing
		for _, batch := range batches {
			if r.batches > 0 {
				if o.budgetSpent(r) {
					return domain.StopReasonTimeBudget, true, nil
				}
				if err := o.sleep(ctx, r.params.InterBatchDelay()); err != nil {
					return "", false, fmt.Errorf("interrupted between batches: %w", err)
				}
			}

			counts, err := o.runBatch(ctx, r, batch)
			r.batches++
			r.progress.BatchesCompleted++
			r.progress.Succeeded += counts.succeeded
			r.progress.Fallback += counts.fallback
			r.progress.Failed += counts.failed
			r.progress.Skipped += counts.skipped
			r.progress.PostsProcessed += counts.succeeded + counts.fallback + counts.failed + counts.skipped
			addTier(&r.progress.Tiers, batch.Tier, len(batch.Items))
			if err != nil {
				return "", false, err
			}
			if err := o.saveProgress(ctx, r); err != nil {
				return "", false, err
			}
		}
	}
}

// runBatch fans the batch items out to at most Concurrency workers. Items in
// a batch complete in no particular order; the write-back is idempotent.
// A write-back error cancels the batch and is fatal for the job.
func (o *Orchestrator) runBatch(ctx context.Context, r *run, batch planner.Batch) (batchCounts, error) {
	var (
		mu     sync.Mutex
		counts batchCounts
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.params.Concurrency, 1))

	for _, item := range batch.Items {
		g.Go(func() error {
			outcome := executor.Execute(gctx, r.exec,
				func(callCtx context.Context) (domain.RawJSON, error) {
					return r.processor.Process(callCtx, item)
				},
				func() (domain.RawJSON, error) {
					return r.processor.Fallback(item)
				},
			)
			// an abandoned call leaves the item pending for the next run
			if err := gctx.Err(); err != nil {
				return err
			}

			name, err := o.writeBack(gctx, r, item, outcome)
			if err != nil {
				return err
			}
			o.metrics.RecordItem(gctx, r.job.Stage, name)

			mu.Lock()
			defer mu.Unlock()
			switch name {
			case domain.OutcomeSuccess:
				counts.succeeded++
			case domain.OutcomeFallback:
				counts.fallback++
			case domain.OutcomeSkipped:
				counts.skipped++
			default:
				counts.failed++
			}
			return nil
		})
	}

	err := g.Wait()
	return counts, err
}

func (o *Orchestrator) writeBack(ctx context.Context, r *run, item domain.WorkItem, outcome executor.Outcome[domain.RawJSON]) (string, error) {
	if outcome.Failed {
		o.logger.Warn("Item failed",
			slog.String("job_id", r.job.JobID),
			slog.String("post_id", item.ID),
			slog.Any("error", outcome.Err),
		)
		return domain.OutcomeFailed, nil
	}

	inserted, err := o.store.SaveResult(ctx, domain.StageResult{
		PostID:   item.ID,
		Stage:    r.stage.Name(),
		Output:   outcome.Value,
		Fallback: outcome.Fallback,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save result for post %s: %w", item.ID, err)
	}

	switch {
	case !inserted:
		return domain.OutcomeSkipped, nil
	case outcome.Fallback:
		return domain.OutcomeFallback, nil
	default:
		return domain.OutcomeSuccess, nil
	}
}

// hasMore looks for one unprocessed item past the cursor
func (o *Orchestrator) hasMore(ctx context.Context, r *run) (bool, error) {
	items, err := o.store.FetchPending(ctx, o.itemQuery(r, 1))
	if err != nil {
		return false, fmt.Errorf("failed to look up remaining work items: %w", err)
	}
	return len(items) > 0, nil
}

func (o *Orchestrator) itemQuery(r *run, limit int) storage.ItemQuery {
	return storage.ItemQuery{
		Stage:    r.stage.Name(),
		Requires: r.stage.Requires(),
		Filter:   r.params.ItemFilter(),
		After:    r.cursor,
		Limit:    limit,
	}
}

func (o *Orchestrator) budgetSpent(r *run) bool {
	return r.budget > 0 && o.now().Sub(r.started) >= r.budget
}

// deadlineReserve is the share of the time left before the run deadline that
// is kept free for the batch in flight and the final writes
const deadlineReserve = 10

// effectiveBudget caps the time budget so that it runs out before the run
// deadline, leaving a tenth of the remaining time in reserve
func effectiveBudget(ctx context.Context, budget time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return budget
	}
	remaining := time.Until(deadline)
	capped := max(remaining-remaining/deadlineReserve, time.Nanosecond)
	if budget <= 0 || capped < budget {
		return capped
	}
	return budget
}

// reachedDeadline reports whether err was caused by the run deadline
// passing. Cancellation is not a deadline and still fails the run.
func reachedDeadline(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) saveProgress(ctx context.Context, r *run) error {
	r.progress.UpdatedAt = o.now()
	if err := o.store.UpdateProgress(ctx, r.job.JobID, r.progress); err != nil {
		return fmt.Errorf("failed to persist progress: %w", err)
	}
	return nil
}

// handoff creates the next stage job with the inherited parameters and an
// upstream block describing this job
func (o *Orchestrator) handoff(ctx context.Context, job *domain.Job, next string, produced int) (*domain.Job, error) {
	inherited := map[string]json.RawMessage{}
	if len(job.Parameters) > 0 {
		if err := json.Unmarshal(job.Parameters, &inherited); err != nil {
			return nil, fmt.Errorf("failed to inherit parameters: %w", err)
		}
	}
	upstream, err := json.Marshal(domain.Handoff{
		JobID:           job.JobID,
		Stage:           job.Stage,
		ProducedRecords: produced,
	})
	if err != nil {
		return nil, err
	}
	inherited["upstream"] = upstream

	params, err := json.Marshal(inherited)
	if err != nil {
		return nil, err
	}
	return o.createJob(ctx, next, params, &job.JobID)
}

func addTier(tiers *domain.TierCounts, tier planner.Complexity, n int) {
	switch tier {
	case planner.Complex:
		tiers.Complex += n
	case planner.Medium:
		tiers.Medium += n
	default:
		tiers.Simple += n
	}
}

func isClaimConflict(err error) bool {
	return errors.Is(err, domain.ErrJobAlreadyClaimed) || errors.Is(err, domain.ErrJobNotFound)
}
