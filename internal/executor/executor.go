// Package executor wraps one external call per work item with retry, backoff
// and circuit breaker gating. Execute never returns an error: when the call
// cannot succeed the caller's local fallback is returned instead.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/backoff"
	"github.com/cuongbtq/opportunity-pipeline/internal/reliability"
	"github.com/cuongbtq/opportunity-pipeline/internal/telemetry"
)

// Policy holds the retry settings of an executor
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RateLimitCooldown time.Duration
}

// DefaultPolicy returns the retry settings used when none are configured
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          8 * time.Second,
		RateLimitCooldown: 5 * time.Second,
	}
}

// Executor runs calls against one dependency
type Executor struct {
	tracker   *reliability.Tracker
	policy    Policy
	transient backoff.Strategy
	rateLimit backoff.Strategy
	sleeper   func(time.Duration)
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// Option customizes the executor
type Option func(*Executor)

// WithSleeper overrides how retry sleeps are performed (useful for tests)
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(e *Executor) {
		e.sleeper = sleeper
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metric instruments
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// New creates an executor gated by tracker
func New(tracker *reliability.Tracker, policy Policy, opts ...Option) *Executor {
	defaults := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaults.MaxAttempts
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	if policy.RateLimitCooldown < 0 {
		policy.RateLimitCooldown = 0
	}

	e := &Executor{
		tracker:   tracker,
		policy:    policy,
		transient: backoff.NewExponential(policy.BaseDelay, policy.MaxDelay),
		rateLimit: backoff.NewConstant(policy.RateLimitCooldown),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dependency returns the name of the tracked dependency
func (e *Executor) Dependency() string {
	return e.tracker.Name()
}

// Tracker returns the reliability tracker gating this executor
func (e *Executor) Tracker() *reliability.Tracker {
	return e.tracker
}

// Outcome is the result of one Execute call
type Outcome[T any] struct {
	Value    T
	Fallback bool  // Value came from the fallback
	Skipped  bool  // the circuit rejected the call, no network attempt was made
	Failed   bool  // the fallback could not produce a value either
	Attempts int   // network attempts made
	Err      error // last call or fallback error
}

// Fallback computes a local substitute for the call result
type Fallback[T any] func() (T, error)

// Execute runs call with retries and returns the fallback value when the
// circuit is open, the attempts are exhausted, the error is permanent or ctx
// ends. Panics in call or fallback are recovered.
func Execute[T any](ctx context.Context, e *Executor, call func(context.Context) (T, error), fallback Fallback[T]) Outcome[T] {
	dependency := e.tracker.Name()

	decision := e.tracker.Decide()
	if decision == reliability.Reject {
		e.metrics.RecordCircuitRejection(ctx, dependency)
		outcome := useFallback(fallback, 0, nil)
		outcome.Skipped = true
		return outcome
	}

	maxAttempts := e.policy.MaxAttempts
	if decision == reliability.Probe {
		// half-open admits exactly one attempt before the state is re-evaluated
		maxAttempts = 1
	}

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++

		value, err := invoke(ctx, call)
		if err == nil {
			e.tracker.RecordSuccess()
			e.metrics.RecordAttempt(ctx, dependency, "ok")
			return Outcome[T]{Value: value, Attempts: attempt}
		}
		lastErr = err

		if ctx.Err() != nil {
			return abandon(ctx, e, decision, fallback, attempt, lastErr)
		}

		class := Classify(err)
		e.metrics.RecordAttempt(ctx, dependency, class.String())
		if class == ClassPermanent || attempt >= maxAttempts {
			break
		}

		delay := e.transient.Delay(attempt)
		if class == ClassRateLimited {
			delay = e.rateLimit.Delay(attempt)
		}

		e.logger.Debug("Retrying call",
			slog.String("dependency", dependency),
			slog.Int("attempt", attempt),
			slog.String("class", class.String()),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		if err := e.sleep(ctx, delay); err != nil {
			return abandon(ctx, e, decision, fallback, attempt, lastErr)
		}
	}

	e.tracker.RecordFailure()
	snapshot := e.tracker.Snapshot()
	if snapshot.CircuitOpen || snapshot.FallbackMode {
		e.logger.Warn("Dependency degraded",
			slog.String("dependency", dependency),
			slog.Int("consecutive_failures", snapshot.ConsecutiveFailures),
			slog.Bool("circuit_open", snapshot.CircuitOpen),
			slog.Bool("fallback_mode", snapshot.FallbackMode),
			slog.Any("error", lastErr),
		)
	}

	return useFallback(fallback, attempt, lastErr)
}

// abandon returns the fallback without recording an outcome; a canceled call
// says nothing about the health of the dependency
func abandon[T any](ctx context.Context, e *Executor, decision reliability.Decision, fallback Fallback[T], attempts int, err error) Outcome[T] {
	if decision == reliability.Probe {
		e.tracker.ReleaseProbe()
	}
	if err == nil {
		err = ctx.Err()
	}
	return useFallback(fallback, attempts, err)
}

func useFallback[T any](fallback Fallback[T], attempts int, callErr error) (outcome Outcome[T]) {
	outcome = Outcome[T]{Fallback: true, Attempts: attempts, Err: callErr}
	defer func() {
		if r := recover(); r != nil {
			var zero T
			outcome.Value = zero
			outcome.Failed = true
			outcome.Err = fmt.Errorf("fallback panicked: %v", r)
		}
	}()

	value, err := fallback()
	if err != nil {
		outcome.Failed = true
		outcome.Err = fmt.Errorf("fallback failed: %w", err)
		return outcome
	}
	outcome.Value = value
	return outcome
}

func invoke[T any](ctx context.Context, call func(context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("call panicked: %v", r)
		}
	}()
	return call(ctx)
}

func (e *Executor) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if e.sleeper != nil {
		e.sleeper(delay)
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
