package stage

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	content string
	err     error
}

func (f *fakeChat) CompleteJSON(_ context.Context, _, _ string, target any) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.content), target)
}

type fakeEmbedder struct {
	vector     []float64
	dimensions int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, dimensions int) ([]float64, error) {
	f.dimensions = dimensions
	return f.vector, nil
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	enrichment, err := NewEnrichment(&fakeChat{})
	require.NoError(t, err)
	registry, err := NewRegistry(enrichment, NewEmbedding(&fakeEmbedder{}))
	require.NoError(t, err)
	return registry
}

func TestRegistry_Validate(t *testing.T) {
	registry := newRegistry(t)

	tests := []struct {
		name    string
		stage   string
		params  string
		wantErr error
	}{
		{name: "empty", stage: Enrichment, params: ``},
		{name: "common keys", stage: Enrichment, params: `{"page_size": 2, "max_items": 10, "since": "2026-01-01T00:00:00Z"}`},
		{name: "stage key", stage: Enrichment, params: `{"max_keywords": 5}`},
		{name: "unknown keys pass through", stage: Embedding, params: `{"max_keywords": 5, "dimensions": 64}`},
		{name: "page size out of range", stage: Enrichment, params: `{"page_size": 0}`, wantErr: domain.ErrInvalidParameters},
		{name: "wrong type", stage: Enrichment, params: `{"concurrency": "many"}`, wantErr: domain.ErrInvalidParameters},
		{name: "bad date", stage: Enrichment, params: `{"since": "yesterday"}`, wantErr: domain.ErrInvalidParameters},
		{name: "stage key out of range", stage: Enrichment, params: `{"max_keywords": 100}`, wantErr: domain.ErrInvalidParameters},
		{name: "not an object", stage: Enrichment, params: `[1, 2]`, wantErr: domain.ErrInvalidParameters},
		{name: "malformed", stage: Enrichment, params: `{"page_size":`, wantErr: domain.ErrInvalidParameters},
		{name: "unknown stage", stage: "clustering", params: `{}`, wantErr: domain.ErrUnknownStage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Validate(tt.stage, domain.RawJSON(tt.params))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegistry_Get(t *testing.T) {
	registry := newRegistry(t)

	s, err := registry.Get(Embedding)
	require.NoError(t, err)
	assert.Equal(t, Enrichment, s.Requires())
	assert.Equal(t, []string{Embedding, Enrichment}, registry.Names())

	_, err = registry.Get("nope")
	assert.ErrorIs(t, err, domain.ErrUnknownStage)
}

func TestEnrichment_Process(t *testing.T) {
	item := domain.WorkItem{ID: "1", Title: "Sync", Body: "sync is terrible"}

	t.Run("model output", func(t *testing.T) {
		stage, err := NewEnrichment(&fakeChat{content: `{"sentiment": -0.8, "pain_score": 0.9, "keywords": ["Sync", "sync", "speed", "ui"]}`})
		require.NoError(t, err)
		processor, err := stage.Prepare(domain.RawJSON(`{"max_keywords": 2}`))
		require.NoError(t, err)

		raw, err := processor.Process(context.Background(), item)
		require.NoError(t, err)

		var out EnrichmentOutput
		require.NoError(t, json.Unmarshal(raw, &out))
		assert.InDelta(t, -0.8, out.Sentiment, 1e-9)
		assert.Equal(t, []string{"sync", "speed"}, out.Keywords)
		assert.Equal(t, "model", out.Source)
	})

	t.Run("output outside the schema is an error", func(t *testing.T) {
		stage, err := NewEnrichment(&fakeChat{content: `{"sentiment": -3, "keywords": []}`})
		require.NoError(t, err)
		processor, err := stage.Prepare(nil)
		require.NoError(t, err)

		_, err = processor.Process(context.Background(), item)
		assert.Error(t, err)
	})

	t.Run("client error is returned", func(t *testing.T) {
		stage, err := NewEnrichment(&fakeChat{err: errors.New("boom")})
		require.NoError(t, err)
		processor, err := stage.Prepare(nil)
		require.NoError(t, err)

		_, err = processor.Process(context.Background(), item)
		assert.EqualError(t, err, "boom")
	})
}

func TestEnrichment_Fallback(t *testing.T) {
	stage, err := NewEnrichment(&fakeChat{})
	require.NoError(t, err)
	processor, err := stage.Prepare(nil)
	require.NoError(t, err)

	raw, err := processor.Fallback(domain.WorkItem{ID: "1", Body: "export is broken and slow, export keeps failing"})
	require.NoError(t, err)

	var out EnrichmentOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Negative(t, out.Sentiment)
	assert.Positive(t, out.PainScore)
	assert.Contains(t, out.Keywords, "export")
	assert.Equal(t, "lexicon", out.Source)

	again, err := processor.Fallback(domain.WorkItem{ID: "1", Body: "export is broken and slow, export keeps failing"})
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again), "fallback is deterministic")

	_, err = processor.Fallback(domain.WorkItem{ID: "2"})
	assert.Error(t, err)
}

func TestEmbedding_Process(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float64{0.5, 0.5}}
	processor, err := NewEmbedding(embedder).Prepare(domain.RawJSON(`{"dimensions": 64}`))
	require.NoError(t, err)

	raw, err := processor.Process(context.Background(), domain.WorkItem{ID: "1", Body: "text"})
	require.NoError(t, err)
	assert.Equal(t, 64, embedder.dimensions)

	var out EmbeddingOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, []float64{0.5, 0.5}, out.Vector)
	assert.Equal(t, "model", out.Source)
}

func TestEmbedding_Fallback(t *testing.T) {
	processor, err := NewEmbedding(&fakeEmbedder{}).Prepare(domain.RawJSON(`{"dimensions": 32}`))
	require.NoError(t, err)

	raw, err := processor.Fallback(domain.WorkItem{ID: "1", Body: "login fails on mobile again and again"})
	require.NoError(t, err)

	var out EmbeddingOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 32, out.Dimensions)
	require.Len(t, out.Vector, 32)
	assert.Equal(t, "hashed", out.Source)

	var norm float64
	for _, v := range out.Vector {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)

	_, err = processor.Fallback(domain.WorkItem{ID: "2", Body: "   "})
	assert.Error(t, err)
}
