package ratelimit

import (
	"sync"
	"time"
)

// Config holds fixed window limiter configuration
type Config struct {
	Limit  int           // requests allowed per window
	Window time.Duration // window length
}

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed window request counter keyed by caller identity.
// The count for an identity resets once its window has elapsed.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// Option customizes the limiter
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests)
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a new fixed window limiter
func New(config Config, opts ...Option) *Limiter {
	l := &Limiter{
		limit:   config.Limit,
		window:  config.Window,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one request for identity and reports whether it is within the limit.
// When the request is rejected, retryAfter is the time left in the current window.
func (l *Limiter) Allow(identity string) (allowed bool, retryAfter time.Duration) {
	if l.limit <= 0 || l.window <= 0 {
		return true, 0
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identity]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.windows[identity] = w
	}

	if w.count < l.limit {
		w.count++
		return true, 0
	}

	return false, w.start.Add(l.window).Sub(now)
}

// Remaining returns how many requests identity may still issue in its current window
func (l *Limiter) Remaining(identity string) int {
	if l.limit <= 0 || l.window <= 0 {
		return l.limit
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identity]
	if !ok || now.Sub(w.start) >= l.window {
		return l.limit
	}
	return l.limit - w.count
}

// Purge drops windows that have already elapsed and returns how many were removed
func (l *Limiter) Purge() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for identity, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, identity)
			removed++
		}
	}
	return removed
}

// Limit returns the configured per-window limit
func (l *Limiter) Limit() int {
	return l.limit
}
