package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential_Delay(t *testing.T) {
	strategy := NewExponential(100*time.Millisecond, time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 3, want: 400 * time.Millisecond},
		{attempt: 4, want: 800 * time.Millisecond},
		{attempt: 5, want: time.Second},
		{attempt: 64, want: time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, strategy.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponential_Uncapped(t *testing.T) {
	strategy := NewExponential(time.Millisecond, 0)
	assert.Equal(t, 8*time.Millisecond, strategy.Delay(4))
}

func TestExponential_ZeroBase(t *testing.T) {
	strategy := NewExponential(0, time.Second)
	assert.Zero(t, strategy.Delay(3))
}

func TestConstant_Delay(t *testing.T) {
	strategy := NewConstant(3 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 3*time.Second, strategy.Delay(attempt))
	}
}
