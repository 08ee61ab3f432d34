// Package memory is an in-process Store with the same conditional semantics as
// the PostgreSQL store. It backs tests and local runs without a database.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/storage"
)

type resultKey struct {
	postID string
	stage  string
}

// Store is a mutex guarded in-memory implementation of storage.Store
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	jobs    map[string]*domain.Job
	items   []domain.WorkItem
	results map[resultKey]domain.StageResult

	// FetchErr, when set, is returned by FetchPending
	FetchErr error
	// SaveErr, when set, is returned by SaveResult
	SaveErr error
}

// Option customizes the store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		jobs:    make(map[string]*domain.Job),
		results: make(map[resultKey]domain.StageResult),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ storage.Store = (*Store)(nil)

// AddItems appends work items
func (s *Store) AddItems(items ...domain.WorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
}

// Results returns the stored outputs of a stage ordered by post id
func (s *Store) Results(stage string) []domain.StageResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.StageResult
	for key, result := range s.results {
		if key.stage == stage {
			out = append(out, result)
		}
	}
	slices.SortFunc(out, func(a, b domain.StageResult) int {
		return cmp.Compare(a.PostID, b.PostID)
	})
	return out
}

// Jobs returns copies of every stored job ordered by creation
func (s *Store) Jobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	slices.SortFunc(out, compareJobs)
	slices.Reverse(out)
	return out
}

func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; exists {
		return fmt.Errorf("failed to create job: duplicate job_id %s", job.JobID)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	stored := cloneJob(job)
	s.jobs[job.JobID] = &stored
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	out := cloneJob(job)
	return &out, nil
}

func (s *Store) ListJobs(_ context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Job
	for _, job := range s.jobs {
		if filter.Stage != "" && job.Stage != filter.Stage {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil {
			if !(job.CreatedAt.Before(c.CreatedAt) || (job.CreatedAt.Equal(c.CreatedAt) && job.JobID < c.JobID)) {
				continue
			}
		}
		out = append(out, cloneJob(job))
	}
	slices.SortFunc(out, compareJobs)
	slices.Reverse(out)
	if filter.PageSize > 0 && len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

func (s *Store) ClaimJob(_ context.Context, jobID, workerID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusPending {
		return nil, domain.ErrJobAlreadyClaimed
	}
	now := s.now()
	job.Status = domain.JobStatusRunning
	job.WorkerID = &workerID
	job.StartedAt = &now
	job.LastHeartbeatAt = &now
	job.UpdatedAt = now
	out := cloneJob(job)
	return &out, nil
}

func (s *Store) MarkEnqueued(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status == domain.JobStatusPending {
		now := s.now()
		job.EnqueuedAt = &now
		job.UpdatedAt = now
	}
	return nil
}

func (s *Store) UpdateProgress(_ context.Context, jobID string, progress domain.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.runningLocked(jobID)
	if err != nil {
		return err
	}
	job.Progress = &progress
	job.UpdatedAt = s.now()
	return nil
}

func (s *Store) Heartbeat(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusRunning {
		return nil
	}
	now := s.now()
	job.LastHeartbeatAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *Store) CompleteJob(_ context.Context, jobID string, result domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.runningLocked(jobID)
	if err != nil {
		return err
	}
	now := s.now()
	job.Status = domain.JobStatusCompleted
	job.Result = &result
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *Store) FailJob(_ context.Context, jobID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.runningLocked(jobID)
	if err != nil {
		return err
	}
	now := s.now()
	job.Status = domain.JobStatusFailed
	job.Error = &message
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *Store) ListDispatchable(_ context.Context, enqueuedBefore time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Job
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusPending {
			continue
		}
		if job.EnqueuedAt != nil && !job.EnqueuedAt.Before(enqueuedBefore) {
			continue
		}
		out = append(out, cloneJob(job))
	}
	slices.SortFunc(out, compareJobs)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FailStale(_ context.Context, heartbeatBefore time.Time, message string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []string
	now := s.now()
	for id, job := range s.jobs {
		if job.Status != domain.JobStatusRunning || job.LastHeartbeatAt == nil || !job.LastHeartbeatAt.Before(heartbeatBefore) {
			continue
		}
		msg := message
		job.Status = domain.JobStatusFailed
		job.Error = &msg
		job.CompletedAt = &now
		job.UpdatedAt = now
		failed = append(failed, id)
	}
	slices.Sort(failed)
	return failed, nil
}

func (s *Store) FetchPending(_ context.Context, q storage.ItemQuery) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FetchErr != nil {
		return nil, s.FetchErr
	}

	var out []domain.WorkItem
	for _, item := range s.items {
		if _, done := s.results[resultKey{item.ID, q.Stage}]; done {
			continue
		}
		if !q.Filter.Matches(item) || !q.After.Admits(item.CreatedAt, item.ID) {
			continue
		}
		if q.Requires != "" {
			prior, ok := s.results[resultKey{item.ID, q.Requires}]
			if !ok {
				continue
			}
			item.Prior = append(domain.RawJSON(nil), prior.Output...)
		}
		out = append(out, item)
	}

	slices.SortFunc(out, func(a, b domain.WorkItem) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) SaveResult(_ context.Context, result domain.StageResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return false, s.SaveErr
	}

	key := resultKey{result.PostID, result.Stage}
	if _, exists := s.results[key]; exists {
		return false, nil
	}
	if result.ProcessedAt.IsZero() {
		result.ProcessedAt = s.now()
	}
	result.Output = append(domain.RawJSON(nil), result.Output...)
	s.results[key] = result
	return true, nil
}

func (s *Store) runningLocked(jobID string) (*domain.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusRunning {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, jobID, job.Status)
	}
	return job, nil
}

// compareJobs orders by (created_at, job_id) ascending
func compareJobs(a, b domain.Job) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.JobID, b.JobID)
}

func cloneJob(job *domain.Job) domain.Job {
	out := *job
	out.Parameters = append(domain.RawJSON(nil), job.Parameters...)
	if job.Progress != nil {
		progress := *job.Progress
		out.Progress = &progress
	}
	if job.Result != nil {
		result := *job.Result
		result.Reliability = slices.Clone(job.Result.Reliability)
		out.Result = &result
	}
	return out
}
