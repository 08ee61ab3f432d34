package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeParams(t *testing.T) {
	t.Run("empty document", func(t *testing.T) {
		p, err := DecodeParams(nil)
		require.NoError(t, err)
		assert.Zero(t, p.PageSize)
		assert.True(t, p.HandoffEnabled())
	})

	t.Run("common keys", func(t *testing.T) {
		p, err := DecodeParams(RawJSON(`{"page_size": 2, "max_items": 10, "handoff": false, "platform": "reddit", "max_keywords": 5}`))
		require.NoError(t, err)
		assert.Equal(t, 2, p.PageSize)
		assert.Equal(t, 10, p.MaxItems)
		assert.Equal(t, "reddit", p.Platform)
		assert.False(t, p.HandoffEnabled())
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := DecodeParams(RawJSON(`{"page_size": "two"}`))
		assert.ErrorIs(t, err, ErrInvalidParameters)
	})
}

func TestParams_WithDefaults(t *testing.T) {
	defaults := Params{PageSize: 50, MaxItems: 500, TimeBudgetSeconds: 240, Concurrency: 4, InterBatchDelayMS: 100}

	p := Params{PageSize: 2}.WithDefaults(defaults)
	assert.Equal(t, 2, p.PageSize)
	assert.Equal(t, 500, p.MaxItems)
	assert.Equal(t, 4*time.Minute, p.TimeBudget())
	assert.Equal(t, 100*time.Millisecond, p.InterBatchDelay())
}

func TestItemCursor_Admits(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cursor := &ItemCursor{CreatedAt: base, ID: "m"}

	tests := []struct {
		name      string
		createdAt time.Time
		id        string
		want      bool
	}{
		{name: "older", createdAt: base.Add(-time.Second), id: "z", want: true},
		{name: "newer", createdAt: base.Add(time.Second), id: "a", want: false},
		{name: "same time lower id", createdAt: base, id: "a", want: true},
		{name: "same time same id", createdAt: base, id: "m", want: false},
		{name: "same time higher id", createdAt: base, id: "z", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cursor.Admits(tt.createdAt, tt.id))
		})
	}

	var none *ItemCursor
	assert.True(t, none.Admits(base, "a"))
}

func TestItemFilter_Matches(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	item := WorkItem{ID: "1", Platform: "reddit", Score: -3, CreatedAt: since.Add(time.Hour)}

	assert.True(t, ItemFilter{}.Matches(item))
	assert.True(t, ItemFilter{Platform: "reddit", Since: &since}.Matches(item))
	assert.False(t, ItemFilter{Platform: "hackernews"}.Matches(item))
	assert.False(t, ItemFilter{MinScore: 1}.Matches(item))

	later := since.Add(2 * time.Hour)
	assert.False(t, ItemFilter{Since: &later}.Matches(item))
}

func TestWorkItem_PriorSentiment(t *testing.T) {
	item := WorkItem{Prior: RawJSON(`{"sentiment": -0.6, "keywords": ["slow"]}`)}
	sentiment, ok := item.PriorSentiment()
	require.True(t, ok)
	assert.InDelta(t, -0.6, sentiment, 1e-9)

	_, ok = WorkItem{}.PriorSentiment()
	assert.False(t, ok)
}

func TestJob_MarshalsParametersVerbatim(t *testing.T) {
	job := Job{
		JobID:      "a",
		Stage:      "enrichment",
		Status:     JobStatusPending,
		Parameters: RawJSON(`{"page_size":2}`),
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"parameters":{"page_size":2}`)
	assert.NotContains(t, string(data), `"result"`)
}

func TestProgress_ScanValue(t *testing.T) {
	in := Progress{CurrentStep: StepProcessing, PostsProcessed: 5}
	value, err := in.Value()
	require.NoError(t, err)

	var out Progress
	require.NoError(t, out.Scan(value))
	assert.Equal(t, in.CurrentStep, out.CurrentStep)
	assert.Equal(t, 5, out.PostsProcessed)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewRetryableError(assert.AnError)))
	assert.False(t, IsRetryable(assert.AnError))
}
