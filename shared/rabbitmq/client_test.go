package rabbitmq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(wait func(context.Context, time.Duration) error) *Client {
	return &Client{
		config: &Config{
			PublishRetries:     3,
			PublishRetryDelay:  time.Second,
			PublishBackoffMult: 2,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		wait:   wait,
	}
}

func TestPublishWithBackoff(t *testing.T) {
	errBroker := errors.New("channel closed")

	tests := []struct {
		name       string
		failures   int
		err        error
		wantCalls  int
		wantDelays []time.Duration
		wantErr    error
	}{
		{
			name:      "first attempt succeeds",
			wantCalls: 1,
		},
		{
			name:       "recovers after retries",
			failures:   2,
			err:        errBroker,
			wantCalls:  3,
			wantDelays: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:       "gives up after all retries",
			failures:   10,
			err:        errBroker,
			wantCalls:  4,
			wantDelays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
			wantErr:    errBroker,
		},
		{
			name:      "not connected stops immediately",
			failures:  10,
			err:       ErrNotConnected,
			wantCalls: 1,
			wantErr:   ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var delays []time.Duration
			client := newTestClient(func(_ context.Context, d time.Duration) error {
				delays = append(delays, d)
				return nil
			})

			calls := 0
			err := client.publishWithBackoff(context.Background(), 2, func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantDelays, delays)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPublishWithBackoff_CanceledDuringWait(t *testing.T) {
	client := newTestClient(waitContext)
	client.config.PublishRetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- client.publishWithBackoff(ctx, 2, func(context.Context) error {
			calls++
			return errors.New("channel closed")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("publish retry ignored context cancellation")
	}
}

func TestWaitContext(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		delay   time.Duration
		wantErr error
	}{
		{name: "elapses", ctx: context.Background(), delay: time.Millisecond},
		{name: "zero delay", ctx: context.Background()},
		{name: "canceled before the timer", ctx: canceled, delay: time.Hour, wantErr: context.Canceled},
		{name: "canceled with zero delay", ctx: canceled, wantErr: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := waitContext(tt.ctx, tt.delay)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
