package domain

import (
	"database/sql/driver"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/reliability"
)

// Job is one tracked run of one pipeline stage
type Job struct {
	JobID           string     `db:"job_id" json:"job_id"`
	Stage           string     `db:"stage" json:"stage"`
	Status          string     `db:"status" json:"status"`
	Parameters      RawJSON    `db:"parameters" json:"parameters"`
	Progress        *Progress  `db:"progress" json:"progress,omitempty"`
	Result          *Result    `db:"result" json:"result,omitempty"`
	Error           *string    `db:"error" json:"error,omitempty"`
	ParentJobID     *string    `db:"parent_job_id" json:"parent_job_id,omitempty"`
	WorkerID        *string    `db:"worker_id" json:"worker_id,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	EnqueuedAt      *time.Time `db:"enqueued_at" json:"enqueued_at,omitempty"`
	LastHeartbeatAt *time.Time `db:"last_heartbeat_at" json:"last_heartbeat_at,omitempty"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the job reached completed or failed
func (j *Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// TierCounts counts items per complexity tier
type TierCounts struct {
	Complex int `json:"complex"`
	Medium  int `json:"medium"`
	Simple  int `json:"simple"`
}

// Progress is the mutable snapshot overwritten on every update
type Progress struct {
	CurrentStep      string     `json:"current_step"`
	PagesFetched     int        `json:"pages_fetched"`
	BatchesCompleted int        `json:"batches_completed"`
	PostsProcessed   int        `json:"posts_processed"`
	Succeeded        int        `json:"succeeded"`
	Fallback         int        `json:"fallback"`
	Failed           int        `json:"failed"`
	Skipped          int        `json:"skipped"`
	Tiers            TierCounts `json:"tiers"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Value implements driver.Valuer
func (p Progress) Value() (driver.Value, error) {
	return valueJSON(p)
}

// Scan implements sql.Scanner
func (p *Progress) Scan(src any) error {
	return scanJSON(src, p)
}

// Result is the final output of a completed job
type Result struct {
	PostsProcessed    int                    `json:"posts_processed"`
	Succeeded         int                    `json:"succeeded"`
	Fallback          int                    `json:"fallback"`
	Failed            int                    `json:"failed"`
	Skipped           int                    `json:"skipped"`
	ProducedRecords   int                    `json:"produced_records"`
	NeedsContinuation bool                   `json:"needs_continuation"`
	StopReason        string                 `json:"stop_reason"`
	DurationMS        int64                  `json:"duration_ms"`
	NextJobID         string                 `json:"next_job_id,omitempty"`
	ContinuationJobID string                 `json:"continuation_job_id,omitempty"`
	Reliability       []reliability.Snapshot `json:"reliability,omitempty"`
}

// Value implements driver.Valuer
func (r Result) Value() (driver.Value, error) {
	return valueJSON(r)
}

// Scan implements sql.Scanner
func (r *Result) Scan(src any) error {
	return scanJSON(src, r)
}

// JobMessage represents a job message on the job queue
type JobMessage struct {
	JobID       string `json:"job_id"`
	Stage       string `json:"stage"`
	DeliveryTag uint64 `json:"-"`
}
