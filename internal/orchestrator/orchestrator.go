// Package orchestrator owns the job lifecycle of every pipeline stage: it
// creates and dispatches jobs, runs them page by page through the batch
// planner and the resilient executor, persists progress and hands off to the
// next stage.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/executor"
	"github.com/cuongbtq/opportunity-pipeline/internal/planner"
	"github.com/cuongbtq/opportunity-pipeline/internal/reliability"
	"github.com/cuongbtq/opportunity-pipeline/internal/stage"
	"github.com/cuongbtq/opportunity-pipeline/internal/storage"
	"github.com/cuongbtq/opportunity-pipeline/internal/telemetry"
	"github.com/google/uuid"
)

// Dispatcher hands a created job to the worker queue
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.JobMessage) error
}

// Config holds the orchestrator settings
type Config struct {
	Defaults    domain.Params
	Planner     planner.Config
	Executor    executor.Policy
	Reliability reliability.Config
}

// DefaultParams returns the parameter defaults used when none are configured
func DefaultParams() domain.Params {
	return domain.Params{
		PageSize:          50,
		MaxItems:          500,
		TimeBudgetSeconds: 240,
		Concurrency:       4,
		InterBatchDelayMS: 0,
	}
}

// Orchestrator runs jobs for the registered stages
type Orchestrator struct {
	store       storage.Store
	stages      *stage.Registry
	dispatcher  Dispatcher
	planner     *planner.Planner
	reliability *reliability.Registry
	policy      executor.Policy
	defaults    domain.Params

	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
	sleeper func(time.Duration)
	newID   func() string

	mu        sync.Mutex
	executors map[string]*executor.Executor
}

// Option customizes the orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metric instruments
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithClock overrides the time source used for budgets and durations
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSleeper overrides how retry and inter-batch sleeps are performed
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(o *Orchestrator) {
		o.sleeper = sleeper
	}
}

// WithIDGenerator overrides job id generation
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// New creates an orchestrator. The reliability state it creates is private
// to this instance. A nil dispatcher leaves created jobs pending for the
// sweeper.
func New(store storage.Store, stages *stage.Registry, dispatcher Dispatcher, config Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		stages:     stages,
		dispatcher: dispatcher,
		policy:     config.Executor,
		defaults:   config.Defaults.WithDefaults(DefaultParams()),
		logger:     slog.Default(),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
		executors:  make(map[string]*executor.Executor),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.planner = planner.New(config.Planner, planner.WithClock(o.now))
	o.reliability = reliability.NewRegistry(config.Reliability, reliability.WithClock(o.now))
	return o
}

// Create validates the parameters, stores a pending job and dispatches it.
// A dispatch failure leaves the job pending with no enqueue marker.
func (o *Orchestrator) Create(ctx context.Context, stageName string, params domain.RawJSON) (*domain.Job, error) {
	return o.createJob(ctx, stageName, params, nil)
}

func (o *Orchestrator) createJob(ctx context.Context, stageName string, params domain.RawJSON, parentID *string) (*domain.Job, error) {
	if err := o.stages.Validate(stageName, params); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		params = domain.RawJSON("{}")
	}

	job := &domain.Job{
		JobID:       o.newID(),
		Stage:       stageName,
		Status:      domain.JobStatusPending,
		Parameters:  params,
		ParentJobID: parentID,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	o.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("stage", job.Stage),
	)

	if err := o.Enqueue(ctx, job); err != nil {
		o.logger.Warn("Job dispatch failed, left for the sweeper",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}
	return job, nil
}

// Enqueue publishes a pending job and stamps its enqueue marker
func (o *Orchestrator) Enqueue(ctx context.Context, job *domain.Job) error {
	if o.dispatcher == nil {
		return nil
	}
	if err := o.dispatcher.Dispatch(ctx, domain.JobMessage{JobID: job.JobID, Stage: job.Stage}); err != nil {
		return fmt.Errorf("failed to dispatch job: %w", err)
	}
	if err := o.store.MarkEnqueued(ctx, job.JobID); err != nil {
		return fmt.Errorf("failed to mark job enqueued: %w", err)
	}
	now := o.now()
	job.EnqueuedAt = &now
	return nil
}

// GetStatus returns the persisted job
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// List returns one page of jobs and the cursor of the next page, nil on the last page
func (o *Orchestrator) List(ctx context.Context, filter storage.JobFilter) ([]domain.Job, *storage.JobCursor, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	jobs, err := o.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, nil, err
	}

	var next *storage.JobCursor
	if len(jobs) > filter.PageSize {
		jobs = jobs[:filter.PageSize]
		last := jobs[len(jobs)-1]
		next = &storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.JobID}
	}
	return jobs, next, nil
}

// Continue creates a new job with the stage and parameters of a completed job
// that reported needs_continuation
func (o *Orchestrator) Continue(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted || job.Result == nil || !job.Result.NeedsContinuation {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrNotContinuable, jobID, job.Status)
	}
	return o.createJob(ctx, job.Stage, job.Parameters, &job.JobID)
}

// Stages returns the registered stage names
func (o *Orchestrator) Stages() []string {
	return o.stages.Names()
}

func (o *Orchestrator) executorFor(dependency string) *executor.Executor {
	o.mu.Lock()
	defer o.mu.Unlock()

	exec, ok := o.executors[dependency]
	if !ok {
		opts := []executor.Option{
			executor.WithLogger(o.logger),
			executor.WithMetrics(o.metrics),
		}
		if o.sleeper != nil {
			opts = append(opts, executor.WithSleeper(o.sleeper))
		}
		exec = executor.New(o.reliability.Tracker(dependency), o.policy, opts...)
		o.executors[dependency] = exec
	}
	return exec
}

func (o *Orchestrator) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if o.sleeper != nil {
		o.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
