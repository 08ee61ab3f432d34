package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T, config Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	config.writer = output
	logger, err := New(&config)
	require.NoError(t, err)
	return logger, output
}

func jsonEntries(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	scanner := bufio.NewScanner(output)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func emitAll(logger *Logger) {
	logger.Debug("cursor advanced", slog.String("last_id", "p12"))
	logger.Info("job claimed", slog.String("job_id", "j1"))
	logger.Warn("dependency in fallback mode", slog.String("dependency", "inference.chat"))
	logger.Error("job failed", slog.String("error", "store unavailable"))
}

func TestNew_LevelThreshold(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  []string
	}{
		{name: "debug", level: "debug", want: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{name: "info", level: "info", want: []string{"INFO", "WARN", "ERROR"}},
		{name: "warn", level: "warn", want: []string{"WARN", "ERROR"}},
		{name: "error", level: "error", want: []string{"ERROR"}},
		{name: "uppercase", level: "WARN", want: []string{"WARN", "ERROR"}},
		{name: "mixed case", level: "Debug", want: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{name: "warning alias", level: "Warning", want: []string{"WARN", "ERROR"}},
		{name: "unknown falls back to info", level: "verbose", want: []string{"INFO", "WARN", "ERROR"}},
		{name: "empty falls back to info", level: "", want: []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, output := newBuffered(t, Config{Level: tt.level, Format: "json"})
			emitAll(logger)

			var levels []string
			for _, entry := range jsonEntries(t, output) {
				levels = append(levels, entry["level"].(string))
			}
			assert.Equal(t, tt.want, levels)
		})
	}
}

func TestNew_Format(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		wantJSON bool
	}{
		{name: "json", format: "json", wantJSON: true},
		{name: "console", format: "console"},
		{name: "empty defaults to console", format: ""},
		{name: "unknown defaults to json", format: "logfmt", wantJSON: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, output := newBuffered(t, Config{Level: "info", Format: tt.format})
			logger.Info("job completed", slog.Int("posts_processed", 40))

			line := strings.TrimSpace(output.String())
			if tt.wantJSON {
				var entry map[string]any
				require.NoError(t, json.Unmarshal([]byte(line), &entry))
				assert.Equal(t, "job completed", entry["msg"])
				assert.Equal(t, float64(40), entry["posts_processed"])
				return
			}
			assert.Contains(t, line, "INF")
			assert.Contains(t, line, "job completed")
			assert.Contains(t, line, "posts_processed")
		})
	}
}

func TestNew_SourceLocation(t *testing.T) {
	logger, output := newBuffered(t, Config{Level: "info", Format: "json", EnableSource: true})
	logger.Info("heartbeat")

	entries := jsonEntries(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source["file"], "logger_test.go")
}

func TestNew_FileOutput(t *testing.T) {
	tests := []struct {
		name   string
		format string
		check  func(t *testing.T, data []byte)
	}{
		{
			name:   "json lines appended",
			format: "json",
			check: func(t *testing.T, data []byte) {
				lines := strings.Split(strings.TrimSpace(string(data)), "\n")
				require.Len(t, lines, 2)
				var entry map[string]any
				require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
				assert.Equal(t, "job claimed", entry["msg"])
				assert.Equal(t, "worker", entry["service"])
				assert.Equal(t, "j1", entry["job_id"])
			},
		},
		{
			name:   "console without color codes",
			format: "console",
			check: func(t *testing.T, data []byte) {
				assert.Contains(t, string(data), "job claimed")
				assert.NotContains(t, string(data), "\x1b[")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "logs", "worker.log")

			for range 2 {
				logger, err := New(&Config{Level: "info", Format: tt.format, Output: path})
				require.NoError(t, err)
				logger.With(slog.String("service", "worker")).Info("job claimed", slog.String("job_id", "j1"))
				require.NoError(t, logger.Close())
			}

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			tt.check(t, data)
		})
	}
}

func TestNew_FileOutputError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	logger, err := New(&Config{Output: filepath.Join(blocker, "worker.log")})
	require.Error(t, err)
	assert.Nil(t, logger)
}

func TestLogger_Close(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{name: "stdout", output: "stdout"},
		{name: "stderr", output: "stderr"},
		{name: "empty output", output: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(&Config{Output: tt.output})
			require.NoError(t, err)
			assert.NoError(t, logger.Close())
			assert.NoError(t, logger.Close())
		})
	}

	t.Run("default logger", func(t *testing.T) {
		assert.NoError(t, NewDefault().Close())
	})
}

func TestLogger_DerivedLoggersShareFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.log")
	logger, err := New(&Config{Format: "json", Output: path})
	require.NoError(t, err)

	derived := logger.WithGroup("request").WithAttrs(slog.String("request_id", "r-1"))
	derived.Info("request served", slog.Int("status", 202))
	require.NoError(t, derived.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	request, ok := entry["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "r-1", request["request_id"])
	assert.Equal(t, float64(202), request["status"])
}

func TestLogger_With(t *testing.T) {
	logger, output := newBuffered(t, Config{Format: "json"})

	logger.With("stage", "enrichment", slog.Int("page", 3)).Info("page fetched")

	entries := jsonEntries(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "enrichment", entries[0]["stage"])
	assert.Equal(t, float64(3), entries[0]["page"])
	assert.Equal(t, "page fetched", entries[0]["msg"])
}
