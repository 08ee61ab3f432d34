// Package telemetry exposes the pipeline's OpenTelemetry instruments.
//
// Services build a Provider, which exports collected metrics to the service
// log, and inject its instruments into the orchestrator.
//
// Instruments:
//   - pipeline.item.outcomes (Int64Counter): items finished per stage, with
//     attributes stage and outcome ("success", "fallback", "failed", "skipped")
//   - pipeline.call.attempts (Int64Counter): network attempts per dependency,
//     with attributes dependency and result ("ok", "rate_limited", "transient", "permanent")
//   - pipeline.circuit.rejections (Int64Counter): calls skipped by an open
//     circuit or fallback mode, with attribute dependency
//   - pipeline.job.duration (Float64Histogram): job run time in seconds, with
//     attributes stage and status
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/cuongbtq/opportunity-pipeline"

// Metrics groups the instruments recorded by the orchestrator and executor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	itemOutcomes      metric.Int64Counter
	callAttempts      metric.Int64Counter
	circuitRejections metric.Int64Counter
	jobDuration       metric.Float64Histogram
}

// NewWithMeter creates instruments from the supplied meter
func NewWithMeter(meter metric.Meter) *Metrics {
	// instrument constructors return usable no-op instruments on error
	itemOutcomes, _ := meter.Int64Counter(
		"pipeline.item.outcomes",
		metric.WithDescription("Work items finished by a stage"),
		metric.WithUnit("{item}"),
	)
	callAttempts, _ := meter.Int64Counter(
		"pipeline.call.attempts",
		metric.WithDescription("Network attempts against an external dependency"),
		metric.WithUnit("{attempt}"),
	)
	circuitRejections, _ := meter.Int64Counter(
		"pipeline.circuit.rejections",
		metric.WithDescription("Calls skipped because the dependency circuit was open"),
		metric.WithUnit("{call}"),
	)
	jobDuration, _ := meter.Float64Histogram(
		"pipeline.job.duration",
		metric.WithDescription("Duration of job runs in seconds"),
		metric.WithUnit("s"),
	)

	return &Metrics{
		itemOutcomes:      itemOutcomes,
		callAttempts:      callAttempts,
		circuitRejections: circuitRejections,
		jobDuration:       jobDuration,
	}
}

// RecordItem counts one finished work item
func (m *Metrics) RecordItem(ctx context.Context, stage, outcome string) {
	if m == nil {
		return
	}
	m.itemOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}

// RecordAttempt counts one network attempt
func (m *Metrics) RecordAttempt(ctx context.Context, dependency, result string) {
	if m == nil {
		return
	}
	m.callAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dependency", dependency),
		attribute.String("result", result),
	))
}

// RecordCircuitRejection counts a call skipped by the circuit breaker
func (m *Metrics) RecordCircuitRejection(ctx context.Context, dependency string) {
	if m == nil {
		return
	}
	m.circuitRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dependency", dependency),
	))
}

// RecordJob records the duration of a finished job run
func (m *Metrics) RecordJob(ctx context.Context, stage, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
}
