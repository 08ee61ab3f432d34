package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's already claimed
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrInvalidParameters is returned when job parameters fail validation
	ErrInvalidParameters = errors.New("invalid job parameters")

	// ErrUnknownStage is returned when a stage name is not registered
	ErrUnknownStage = errors.New("unknown stage")

	// ErrInvalidTransition is returned when a status update would leave a terminal state
	// or skip the running state
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrNotContinuable is returned when continuation is requested for a job that
	// did not finish with needs_continuation
	ErrNotContinuable = errors.New("job does not need continuation")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
