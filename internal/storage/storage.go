// Package storage defines the persistence contracts of the pipeline: the jobs
// table and the work item store with its idempotent stage write-back.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
)

// JobFilter selects a page of jobs in (created_at DESC, job_id DESC) order
type JobFilter struct {
	Stage    string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last job of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ItemQuery selects work items a stage has not processed yet
type ItemQuery struct {
	Stage    string
	Requires string // stage whose output must exist, empty for none
	Filter   domain.ItemFilter
	After    *domain.ItemCursor
	Limit    int
}

// JobStore persists jobs. Status changes are conditional updates so terminal
// states are never left.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	// ListJobs returns up to PageSize+1 jobs so callers can detect a next page
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)
	// ClaimJob moves a pending job to running; ErrJobAlreadyClaimed otherwise
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	MarkEnqueued(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress domain.Progress) error
	Heartbeat(ctx context.Context, jobID string) error
	// CompleteJob and FailJob only apply to running jobs; ErrInvalidTransition otherwise
	CompleteJob(ctx context.Context, jobID string, result domain.Result) error
	FailJob(ctx context.Context, jobID, message string) error
	// ListDispatchable returns pending jobs never enqueued or enqueued before the cutoff
	ListDispatchable(ctx context.Context, enqueuedBefore time.Time, limit int) ([]domain.Job, error)
	// FailStale fails running jobs whose last heartbeat is older than the cutoff
	FailStale(ctx context.Context, heartbeatBefore time.Time, message string) ([]string, error)
}

// ItemStore reads work items and writes stage outputs
type ItemStore interface {
	// FetchPending returns items without an output for q.Stage, newest first
	FetchPending(ctx context.Context, q ItemQuery) ([]domain.WorkItem, error)
	// SaveResult inserts the output unless one exists; false means zero rows affected
	SaveResult(ctx context.Context, result domain.StageResult) (bool, error)
}

// Store is the full persistence surface used by the orchestrator
type Store interface {
	JobStore
	ItemStore
}
