package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	return lines
}

func findLine(lines []map[string]any, name string) map[string]any {
	for _, line := range lines {
		if line["metric"] == name {
			return line
		}
	}
	return nil
}

func TestProvider_ShutdownExportsToLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	provider := NewProvider(ProviderConfig{
		ServiceName:    "worker-service",
		ServiceVersion: "1.0.0",
		ExportInterval: time.Hour,
		Logger:         logger,
	})
	m := provider.Metrics()
	ctx := context.Background()

	m.RecordItem(ctx, "enrichment", "success")
	m.RecordItem(ctx, "enrichment", "success")
	m.RecordJob(ctx, "enrichment", "completed", 2*time.Second)

	require.NoError(t, provider.Shutdown(ctx))

	lines := decodeLines(t, &buf)

	tests := []struct {
		name   string
		metric string
		want   map[string]any
	}{
		{
			name:   "counter",
			metric: "pipeline.item.outcomes",
			want:   map[string]any{"stage": "enrichment", "outcome": "success", "value": float64(2)},
		},
		{
			name:   "histogram",
			metric: "pipeline.job.duration",
			want:   map[string]any{"status": "completed", "count": float64(1), "sum": float64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := findLine(lines, tt.metric)
			require.NotNil(t, line, "no log line for %s", tt.metric)
			for key, value := range tt.want {
				assert.Equal(t, value, line[key], key)
			}
		})
	}
}

func TestProvider_DefaultsToSlogDefault(t *testing.T) {
	provider := NewProvider(ProviderConfig{ServiceName: "api-service"})
	assert.NotNil(t, provider.Meter())
	assert.NoError(t, provider.Shutdown(context.Background()))
}
