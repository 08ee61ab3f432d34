package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/storage/memory"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobID = "6f1c2b9e-4a57-4d0e-9a51-3f3e8c2d7b10"

type settlement struct {
	tag     uint64
	acked   bool
	requeue bool
}

type fakeAcker struct {
	mu      sync.Mutex
	settled []settlement
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, acked: true})
	return nil
}

func (a *fakeAcker) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcker) Settled() []settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]settlement(nil), a.settled...)
}

type fakeRunner struct {
	mu       sync.Mutex
	ran      []string
	enqueued []string
	run      func(ctx context.Context) error
}

func (r *fakeRunner) Run(ctx context.Context, jobID, _ string) error {
	r.mu.Lock()
	r.ran = append(r.ran, jobID)
	run := r.run
	r.mu.Unlock()
	if run == nil {
		return nil
	}
	return run(ctx)
}

func (r *fakeRunner) Enqueue(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, job.JobID)
	return nil
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
}

func (c *fakeConsumer) Consume(string, int) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

type countingStore struct {
	*memory.Store
	heartbeats atomic.Int32
}

func (s *countingStore) Heartbeat(ctx context.Context, jobID string) error {
	s.heartbeats.Add(1)
	return s.Store.Heartbeat(ctx, jobID)
}

func newTestWorker(runner *fakeRunner, store *countingStore, opts func(*Config)) *Worker {
	cfg := &Config{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Consumer:          &fakeConsumer{deliveries: make(chan amqp.Delivery, 4)},
		Runner:            runner,
		Store:             store,
		WorkerID:          "worker-test",
		Concurrency:       2,
		HeartbeatInterval: time.Hour,
	}
	if opts != nil {
		opts(cfg)
	}
	return NewWorker(cfg)
}

func TestShouldRequeueJob(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "claim conflict", err: domain.ErrJobAlreadyClaimed, want: false},
		{name: "retryable", err: domain.NewRetryableError(errors.New("db down")), want: true},
		{name: "wrapped retryable", err: errors.Join(errors.New("ctx"), domain.NewRetryableError(errors.New("db down"))), want: true},
		{name: "job failure", err: errors.New("job failed"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldRequeueJob(tt.err))
		})
	}
}

func TestHandle_SettlesByError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want settlement
	}{
		{name: "success acks", want: settlement{tag: 9, acked: true}},
		{name: "retryable requeues", err: domain.NewRetryableError(errors.New("db down")), want: settlement{tag: 9, requeue: true}},
		{name: "terminal failure drops", err: errors.New("job failed"), want: settlement{tag: 9}},
		{name: "claim conflict drops", err: domain.ErrJobAlreadyClaimed, want: settlement{tag: 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{run: func(context.Context) error { return tt.err }}
			w := newTestWorker(runner, &countingStore{Store: memory.New()}, nil)
			acker := &fakeAcker{}

			w.handle(context.Background(), "worker-test-0", &delivery{
				msg:   domain.JobMessage{JobID: jobID, DeliveryTag: 9},
				acker: acker,
			})

			assert.Equal(t, []settlement{tt.want}, acker.Settled())
		})
	}
}

func TestDecodeDelivery(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{name: "valid", body: `{"job_id":"` + jobID + `","stage":"enrichment"}`, ok: true},
		{name: "not a uuid", body: `{"job_id":"job-1"}`},
		{name: "malformed", body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorker(&fakeRunner{}, &countingStore{Store: memory.New()}, nil)
			acker := &fakeAcker{}

			job, ok := w.decodeDelivery(amqp.Delivery{Acknowledger: acker, DeliveryTag: 3, Body: []byte(tt.body)})
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, domain.JobMessage{JobID: jobID, Stage: "enrichment", DeliveryTag: 3}, job.msg)
				assert.Empty(t, acker.Settled())
				return
			}
			assert.Equal(t, []settlement{{tag: 3}}, acker.Settled())
		})
	}
}

func TestWorker_ConsumesAndAcks(t *testing.T) {
	runner := &fakeRunner{}
	consumer := &fakeConsumer{deliveries: make(chan amqp.Delivery, 1)}
	w := newTestWorker(runner, &countingStore{Store: memory.New()}, func(cfg *Config) {
		cfg.Consumer = consumer
	})
	acker := &fakeAcker{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	consumer.deliveries <- amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  1,
		Body:         []byte(`{"job_id":"` + jobID + `","stage":"enrichment"}`),
	}

	require.Eventually(t, func() bool { return len(acker.Settled()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, acker.Settled()[0].acked)

	cancel()
	require.NoError(t, <-done)
	w.Stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{jobID}, runner.ran)
}

func TestProcessJob_SendsHeartbeats(t *testing.T) {
	store := &countingStore{Store: memory.New()}
	runner := &fakeRunner{}
	runner.run = func(ctx context.Context) error {
		deadline := time.After(time.Second)
		for store.heartbeats.Load() < 2 {
			select {
			case <-deadline:
				return errors.New("no heartbeat")
			case <-time.After(time.Millisecond):
			}
		}
		return nil
	}
	w := newTestWorker(runner, store, func(cfg *Config) {
		cfg.HeartbeatInterval = 5 * time.Millisecond
	})

	require.NoError(t, w.processJob(context.Background(), domain.JobMessage{JobID: jobID}))
}

func TestProcessJob_ShutdownDoesNotCancelRunningJob(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context) error { return ctx.Err() }}
	w := newTestWorker(runner, &countingStore{Store: memory.New()}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, w.processJob(ctx, domain.JobMessage{JobID: jobID}))
}

func TestSweepPending(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New(memory.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, &domain.Job{JobID: "lost", Stage: "enrichment", Status: domain.JobStatusPending}))
	require.NoError(t, store.CreateJob(ctx, &domain.Job{JobID: "queued", Stage: "enrichment", Status: domain.JobStatusPending}))
	require.NoError(t, store.MarkEnqueued(ctx, "queued"))

	runner := &fakeRunner{}
	w := newTestWorker(runner, &countingStore{Store: store}, func(cfg *Config) {
		cfg.RedispatchAfter = time.Minute
		cfg.Clock = func() time.Time { return now }
	})

	assert.Equal(t, 1, w.sweepPending(ctx))
	assert.Equal(t, []string{"lost"}, runner.enqueued)
}

func TestReapStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := memory.New(memory.WithClock(clock))
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, &domain.Job{JobID: "stale", Stage: "enrichment", Status: domain.JobStatusPending}))
	_, err := store.ClaimJob(ctx, "stale", "gone-worker")
	require.NoError(t, err)

	w := newTestWorker(&fakeRunner{}, &countingStore{Store: store}, func(cfg *Config) {
		cfg.StaleAfter = time.Minute
		cfg.Clock = func() time.Time { return now.Add(2 * time.Minute) }
	})

	assert.Equal(t, []string{"stale"}, w.reapStale(ctx))

	job, err := store.GetJob(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, staleJobMessage, *job.Error)
}
