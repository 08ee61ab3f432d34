package domain

// Job status constants
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Stop reasons reported in a job result
const (
	StopReasonExhausted   = "exhausted"
	StopReasonTimeBudget  = "time_budget"
	StopReasonItemCeiling = "item_ceiling"
)

// Item outcomes counted in progress and metrics
const (
	OutcomeSuccess  = "success"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
)

// Progress steps
const (
	StepClaimed    = "claimed"
	StepFetching   = "fetching"
	StepProcessing = "processing"
	StepFinishing  = "finishing"
	StepDone       = "done"
)

// IsTerminalStatus reports whether a job in the given status can never change again
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// IsValidStatus reports whether status is one of the job status constants
func IsValidStatus(status string) bool {
	switch status {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}
