package connpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrPoolClosed is returned when acquiring from a closed pool
	ErrPoolClosed = errors.New("connection pool closed")

	// ErrForeignHandle is returned when releasing a handle the pool does not own
	ErrForeignHandle = errors.New("handle does not belong to this pool")
)

// Config holds connection pool configuration
type Config struct {
	Capacity     int           // hard limit on live handles
	MaxAge       time.Duration // idle handles older than this are not reused
	PollInterval time.Duration // how often a blocked Acquire re-checks for a free handle
}

// Factory opens a new downstream handle
type Factory[T any] func(ctx context.Context) (T, error)

// Closer releases a downstream handle
type Closer[T any] func(T) error

// Handle is one pooled downstream handle
type Handle[T any] struct {
	Value T

	id        uint64
	createdAt time.Time
	lastUsed  time.Time
	inUse     bool
}

// ID returns the pool-local identifier of the handle
func (h *Handle[T]) ID() uint64 {
	return h.id
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Capacity int
	Open     int
	InUse    int
	Idle     int
	Created  uint64
	Evicted  uint64
}

// Pool is a bounded set of reusable downstream handles
type Pool[T any] struct {
	config  Config
	factory Factory[T]
	closer  Closer[T]
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	handles  map[uint64]*Handle[T]
	creating int
	nextID   uint64
	created  uint64
	evicted  uint64
	closed   bool
}

// Option customizes the pool
type Option[T any] func(*Pool[T])

// WithClock overrides the time source (useful for tests)
func WithClock[T any](now func() time.Time) Option[T] {
	return func(p *Pool[T]) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the pool logger
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a new pool. Handles are opened lazily on Acquire.
func New[T any](config Config, factory Factory[T], closer Closer[T], opts ...Option[T]) *Pool[T] {
	if config.Capacity <= 0 {
		config.Capacity = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Millisecond
	}

	p := &Pool[T]{
		config:  config,
		factory: factory,
		closer:  closer,
		logger:  slog.Default(),
		now:     time.Now,
		handles: make(map[uint64]*Handle[T]),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns an idle handle younger than MaxAge, opens a new one while under
// capacity, or waits until a handle is released.
func (p *Pool[T]) Acquire(ctx context.Context) (*Handle[T], error) {
	for {
		h, create, err := p.tryAcquire()
		if err != nil {
			return nil, err
		}
		if h != nil {
			return h, nil
		}
		if create {
			return p.open(ctx)
		}

		timer := time.NewTimer(p.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire handle: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// tryAcquire hands out an idle handle or reserves a slot for a new one
func (p *Pool[T]) tryAcquire() (*Handle[T], bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, ErrPoolClosed
	}

	now := p.now()
	var stale []*Handle[T]
	var found *Handle[T]

	for _, h := range p.handles {
		if h.inUse {
			continue
		}
		if p.expired(h, now) {
			stale = append(stale, h)
			continue
		}
		if found == nil || h.lastUsed.After(found.lastUsed) {
			found = h
		}
	}

	for _, h := range stale {
		p.evictLocked(h)
	}

	if found != nil {
		found.inUse = true
		found.lastUsed = now
		return found, false, nil
	}

	if len(p.handles)+p.creating < p.config.Capacity {
		p.creating++
		return nil, true, nil
	}

	return nil, false, nil
}

func (p *Pool[T]) open(ctx context.Context) (*Handle[T], error) {
	value, err := p.factory(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.creating--
	if err != nil {
		return nil, fmt.Errorf("open handle: %w", err)
	}
	if p.closed {
		_ = p.closer(value)
		return nil, ErrPoolClosed
	}

	now := p.now()
	p.nextID++
	p.created++
	h := &Handle[T]{
		Value:     value,
		id:        p.nextID,
		createdAt: now,
		lastUsed:  now,
		inUse:     true,
	}
	p.handles[h.id] = h

	p.logger.Debug("Pool handle opened",
		slog.Uint64("handle_id", h.id),
		slog.Int("open", len(p.handles)),
	)

	return h, nil
}

// Release marks a handle idle so another caller can reuse it
func (p *Pool[T]) Release(h *Handle[T]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	owned, ok := p.handles[h.id]
	if !ok || owned != h {
		return ErrForeignHandle
	}
	h.inUse = false
	h.lastUsed = p.now()
	return nil
}

// Discard closes and drops a handle that the caller found to be broken
func (p *Pool[T]) Discard(h *Handle[T]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	owned, ok := p.handles[h.id]
	if !ok || owned != h {
		return ErrForeignHandle
	}
	p.evictLocked(h)
	return nil
}

// Cleanup evicts idle handles older than MaxAge and returns how many were evicted
func (p *Pool[T]) Cleanup() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	evicted := 0
	for _, h := range p.handles {
		if !h.inUse && p.expired(h, now) {
			p.evictLocked(h)
			evicted++
		}
	}
	return evicted
}

// RunCleanup calls Cleanup every interval until ctx is canceled
func (p *Pool[T]) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.Cleanup(); n > 0 {
				p.logger.Debug("Pool cleanup evicted idle handles",
					slog.Int("evicted", n),
				)
			}
		}
	}
}

// Close closes every handle and rejects further acquires
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for id, h := range p.handles {
		if err := p.closer(h.Value); err != nil {
			errs = append(errs, err)
		}
		delete(p.handles, id)
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of pool usage
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		Capacity: p.config.Capacity,
		Open:     len(p.handles),
		Created:  p.created,
		Evicted:  p.evicted,
	}
	for _, h := range p.handles {
		if h.inUse {
			stats.InUse++
		} else {
			stats.Idle++
		}
	}
	return stats
}

func (p *Pool[T]) expired(h *Handle[T], now time.Time) bool {
	return p.config.MaxAge > 0 && now.Sub(h.createdAt) >= p.config.MaxAge
}

// evictLocked must be called with p.mu held and never with an in-use handle
// unless the caller is discarding it.
func (p *Pool[T]) evictLocked(h *Handle[T]) {
	delete(p.handles, h.id)
	p.evicted++
	if err := p.closer(h.Value); err != nil {
		p.logger.Warn("Failed to close pooled handle",
			slog.Uint64("handle_id", h.id),
			slog.Any("error", err),
		)
	}
}
