// Package postgres implements storage.Store on PostgreSQL through sqlx and lib/pq
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/storage"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `job_id, stage, status, parameters, progress, result, error, parent_job_id,
	worker_id, created_at, started_at, completed_at, enqueued_at, last_heartbeat_at, updated_at`

// Store handles all database operations of the pipeline
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

var _ storage.Store = (*Store)(nil)

// Migrate creates the tables and indexes if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	s.logger.Info("Database schema up to date", slog.Int("statements", len(schema)))
	return nil
}

// CreateJob inserts a new job
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, stage, status, parameters, parent_job_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, NOW(), NOW()
		)
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRowxContext(ctx, query,
		job.JobID,
		job.Stage,
		job.Status,
		job.Parameters,
		job.ParentJobID,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by its ID
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobs returns one page of jobs plus one extra row to signal more results
func (s *Store) ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	// Filters
	if filter.Stage != "" {
		query += fmt.Sprintf(" AND stage = $%d", argIdx)
		args = append(args, filter.Stage)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// ClaimJob attempts to claim a job using optimistic locking.
// Returns the job on success, ErrJobAlreadyClaimed if it is not pending.
func (s *Store) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.QueryRowxContext(ctx, query, domain.JobStatusRunning, workerID, jobID, domain.JobStatusPending).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("stage", job.Stage),
	)

	return &job, nil
}

// MarkEnqueued stamps enqueued_at on a pending job
func (s *Store) MarkEnqueued(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET enqueued_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusPending); err != nil {
		return fmt.Errorf("failed to mark job enqueued: %w", err)
	}
	return nil
}

// UpdateProgress overwrites the progress snapshot of a running job
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress domain.Progress) error {
	query := `
		UPDATE jobs
		SET progress = $1,
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	return s.execRunning(ctx, "update progress", jobID, query, progress, jobID, domain.JobStatusRunning)
}

// Heartbeat updates the last_heartbeat_at timestamp for a running job
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// CompleteJob writes the result and moves a running job to completed
func (s *Store) CompleteJob(ctx context.Context, jobID string, result domain.Result) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    result = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	return s.execRunning(ctx, "complete job", jobID, query, domain.JobStatusCompleted, result, jobID, domain.JobStatusRunning)
}

// FailJob writes the error and moves a running job to failed
func (s *Store) FailJob(ctx context.Context, jobID, message string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	return s.execRunning(ctx, "fail job", jobID, query, domain.JobStatusFailed, message, jobID, domain.JobStatusRunning)
}

// ListDispatchable returns pending jobs that were never published or whose
// publication is older than enqueuedBefore
func (s *Store) ListDispatchable(ctx context.Context, enqueuedBefore time.Time, limit int) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND (enqueued_at IS NULL OR enqueued_at < $2)
		ORDER BY created_at, job_id
		LIMIT $3
	`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusPending, enqueuedBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list dispatchable jobs: %w", err)
	}
	return jobs, nil
}

// FailStale fails running jobs whose heartbeat stopped before heartbeatBefore
func (s *Store) FailStale(ctx context.Context, heartbeatBefore time.Time, message string) ([]string, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    error = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE status = $3
		  AND last_heartbeat_at < $4
		RETURNING job_id
	`

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, domain.JobStatusFailed, message, domain.JobStatusRunning, heartbeatBefore); err != nil {
		return nil, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	return ids, nil
}

// FetchPending returns posts without an output for the stage, newest first.
// When the stage requires another stage, only posts with that output qualify
// and the output is returned as prior_output.
func (s *Store) FetchPending(ctx context.Context, q storage.ItemQuery) ([]domain.WorkItem, error) {
	var b strings.Builder
	args := []interface{}{q.Stage}
	argIdx := 2

	b.WriteString(`
		SELECT p.id, p.platform, p.title, p.body, p.author, p.url, p.score,
		       p.comment_count, p.created_at, `)
	if q.Requires != "" {
		fmt.Fprintf(&b, `req.output AS prior_output
		FROM posts p
		JOIN post_stage_results req ON req.post_id = p.id AND req.stage = $%d`, argIdx)
		args = append(args, q.Requires)
		argIdx++
	} else {
		b.WriteString(`NULL::jsonb AS prior_output
		FROM posts p`)
	}
	b.WriteString(`
		WHERE NOT EXISTS (
			SELECT 1 FROM post_stage_results r WHERE r.post_id = p.id AND r.stage = $1
		)`)

	if q.Filter.Platform != "" {
		fmt.Fprintf(&b, " AND p.platform = $%d", argIdx)
		args = append(args, q.Filter.Platform)
		argIdx++
	}
	if q.Filter.Since != nil {
		fmt.Fprintf(&b, " AND p.created_at >= $%d", argIdx)
		args = append(args, *q.Filter.Since)
		argIdx++
	}
	if q.Filter.MinScore > 0 {
		fmt.Fprintf(&b, " AND p.score >= $%d", argIdx)
		args = append(args, q.Filter.MinScore)
		argIdx++
	}
	if q.After != nil {
		fmt.Fprintf(&b, " AND (p.created_at, p.id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, q.After.CreatedAt, q.After.ID)
		argIdx += 2
	}

	fmt.Fprintf(&b, " ORDER BY p.created_at DESC, p.id DESC LIMIT $%d", argIdx)
	args = append(args, q.Limit)

	var items []domain.WorkItem
	if err := s.db.SelectContext(ctx, &items, b.String(), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch pending items: %w", err)
	}
	return items, nil
}

// SaveResult inserts a stage output. A second write for the same post and
// stage affects zero rows and returns false.
func (s *Store) SaveResult(ctx context.Context, result domain.StageResult) (bool, error) {
	query := `
		INSERT INTO post_stage_results (post_id, stage, output, fallback, processed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (post_id, stage) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query, result.PostID, result.Stage, result.Output, result.Fallback)
	if err != nil {
		return false, fmt.Errorf("failed to save stage result: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func (s *Store) execRunning(ctx context.Context, op, jobID, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s on job %s that is not running", domain.ErrInvalidTransition, op, jobID)
	}
	return nil
}
