package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/storage"
	"github.com/cuongbtq/opportunity-pipeline/shared/ratelimit"
)

// JobService is the orchestrator surface used by the handlers
type JobService interface {
	Create(ctx context.Context, stage string, params domain.RawJSON) (*domain.Job, error)
	GetStatus(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter storage.JobFilter) ([]domain.Job, *storage.JobCursor, error)
	Continue(ctx context.Context, jobID string) (*domain.Job, error)
	Stages() []string
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	Jobs        JobService
	Limiter     *ratelimit.Limiter
	HealthCheck func(ctx context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}
