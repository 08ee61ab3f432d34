package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestLimiter_Allow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := New(Config{Limit: 3, Window: time.Minute}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		allowed, retryAfter := limiter.Allow("client-a")
		require.True(t, allowed, "request %d should be allowed", i+1)
		assert.Zero(t, retryAfter)
	}

	clock.Advance(20 * time.Second)
	allowed, retryAfter := limiter.Allow("client-a")
	assert.False(t, allowed)
	assert.Equal(t, 40*time.Second, retryAfter)

	// Other identities have their own window
	allowed, _ = limiter.Allow("client-b")
	assert.True(t, allowed)

	clock.Advance(40 * time.Second)
	allowed, _ = limiter.Allow("client-a")
	assert.True(t, allowed, "count resets when the window elapses")
	assert.Equal(t, 2, limiter.Remaining("client-a"))
}

func TestLimiter_Disabled(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "zero limit", config: Config{Limit: 0, Window: time.Second}},
		{name: "zero window", config: Config{Limit: 1, Window: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.config)
			for i := 0; i < 10; i++ {
				allowed, _ := limiter.Allow("anyone")
				assert.True(t, allowed)
			}
		})
	}
}

func TestLimiter_Purge(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := New(Config{Limit: 1, Window: time.Second}, WithClock(clock.Now))

	limiter.Allow("a")
	limiter.Allow("b")
	clock.Advance(500 * time.Millisecond)
	limiter.Allow("c")

	clock.Advance(600 * time.Millisecond)
	assert.Equal(t, 2, limiter.Purge())
	assert.Equal(t, 0, limiter.Remaining("c"))
	assert.Equal(t, 1, limiter.Remaining("a"))
}
