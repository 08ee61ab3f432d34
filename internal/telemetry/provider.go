package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ProviderConfig configures the service MeterProvider
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	// ExportInterval is how often collected metrics are written to the log
	ExportInterval time.Duration
	Logger         *slog.Logger
}

// Provider owns the SDK MeterProvider of a service process
type Provider struct {
	mp *sdkmetric.MeterProvider
}

// NewProvider builds a MeterProvider whose periodic reader exports to the
// service logger
func NewProvider(cfg ProviderConfig) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts []sdkmetric.PeriodicReaderOption
	if cfg.ExportInterval > 0 {
		opts = append(opts, sdkmetric.WithInterval(cfg.ExportInterval))
	}
	reader := sdkmetric.NewPeriodicReader(&logExporter{logger: logger}, opts...)

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	return &Provider{mp: sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)}
}

// Meter returns the pipeline meter of this provider
func (p *Provider) Meter() metric.Meter {
	return p.mp.Meter(meterName)
}

// Metrics creates the pipeline instruments on this provider
func (p *Provider) Metrics() *Metrics {
	return NewWithMeter(p.Meter())
}

// Shutdown flushes pending metrics and stops the reader
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

// logExporter writes every collected data point as one structured log line
type logExporter struct {
	logger *slog.Logger
}

func (e *logExporter) Temporality(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(kind)
}

func (e *logExporter) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(kind)
}

func (e *logExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			for _, attrs := range dataPoints(m) {
				e.logger.LogAttrs(ctx, slog.LevelInfo, "Metric", attrs...)
			}
		}
	}
	return nil
}

func (e *logExporter) ForceFlush(context.Context) error { return nil }

func (e *logExporter) Shutdown(context.Context) error { return nil }

func dataPoints(m metricdata.Metrics) [][]slog.Attr {
	var out [][]slog.Attr
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range data.DataPoints {
			attrs := append(pointAttrs(m.Name, dp.Attributes), slog.Int64("value", dp.Value))
			out = append(out, attrs)
		}
	case metricdata.Histogram[float64]:
		for _, dp := range data.DataPoints {
			attrs := append(pointAttrs(m.Name, dp.Attributes),
				slog.Uint64("count", dp.Count),
				slog.Float64("sum", dp.Sum),
			)
			out = append(out, attrs)
		}
	}
	return out
}

func pointAttrs(name string, set attribute.Set) []slog.Attr {
	attrs := []slog.Attr{slog.String("metric", name)}
	for _, kv := range set.ToSlice() {
		attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
	}
	return attrs
}
