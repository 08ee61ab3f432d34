// Package reliability tracks the health of one external dependency: a circuit
// breaker on consecutive failures and a sticky fallback mode on the rolling
// failure ratio. State is owned by whoever constructs the Tracker and is never
// persisted.
package reliability

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Decision tells the caller whether to attempt the network call
type Decision int

const (
	// Allow means the dependency is healthy and the call may proceed
	Allow Decision = iota
	// Probe means the circuit cooled down and this caller is the single trial call
	Probe
	// Reject means the caller must skip the network call and use its fallback
	Reject
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Probe:
		return "probe"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Config holds tracker thresholds
type Config struct {
	FailureThreshold int           // consecutive failures that open the circuit
	Cooldown         time.Duration // time since last failure before a probe is admitted
	FailureRatio     float64       // rolling failure ratio that enters fallback mode
	RatioWindow      int           // number of most recent outcomes in the rolling ratio
	MinRequests      int           // outcomes required before the ratio is evaluated
}

// DefaultConfig returns the thresholds used when none are configured
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		FailureRatio:     0.5,
		RatioWindow:      20,
		MinRequests:      10,
	}
}

// Snapshot is a copy of the tracker counters
type Snapshot struct {
	Name                string    `json:"name"`
	TotalRequests       int64     `json:"total_requests"`
	FailedRequests      int64     `json:"failed_requests"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	CircuitOpen         bool      `json:"circuit_open"`
	FallbackMode        bool      `json:"fallback_mode"`
	FailureRatio        float64   `json:"failure_ratio"`
}

// Tracker holds reliability state for one dependency
type Tracker struct {
	name   string
	config Config
	now    func() time.Time

	mu           sync.Mutex
	total        int64
	failed       int64
	consecutive  int
	lastFailure  time.Time
	open         bool
	fallbackMode bool
	probing      bool
	window       []bool // true = failure
	windowNext   int
	windowFilled bool
}

// Option customizes the tracker
type Option func(*Tracker)

// WithClock overrides the time source (useful for tests)
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker for the named dependency
func NewTracker(name string, config Config, opts ...Option) *Tracker {
	defaults := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.RatioWindow <= 0 {
		config.RatioWindow = defaults.RatioWindow
	}
	if config.MinRequests <= 0 {
		config.MinRequests = defaults.MinRequests
	}
	if config.MinRequests > config.RatioWindow {
		config.MinRequests = config.RatioWindow
	}

	t := &Tracker{
		name:   name,
		config: config,
		now:    time.Now,
		window: make([]bool, config.RatioWindow),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the dependency name
func (t *Tracker) Name() string {
	return t.name
}

// Decide reports whether the next call should go to the network.
// While the circuit is open (or fallback mode is active) every caller is
// rejected until Cooldown has elapsed since the last failure; then exactly one
// caller receives Probe and the rest keep being rejected until that probe
// reports its outcome.
func (t *Tracker) Decide() Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open && !t.fallbackMode {
		return Allow
	}
	if t.probing {
		return Reject
	}
	if t.now().Sub(t.lastFailure) < t.config.Cooldown {
		return Reject
	}
	t.probing = true
	return Probe
}

// RecordSuccess registers a successful call
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	t.consecutive = 0
	t.open = false
	t.probing = false
	t.pushOutcome(false)

	if t.fallbackMode && t.ratioLocked() < t.config.FailureRatio {
		t.fallbackMode = false
	}
}

// RecordFailure registers a call that failed after exhausting its retries
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	t.failed++
	t.consecutive++
	t.lastFailure = t.now()
	t.probing = false
	t.pushOutcome(true)

	if t.consecutive >= t.config.FailureThreshold {
		t.open = true
	}
	if t.config.FailureRatio > 0 && t.samplesLocked() >= t.config.MinRequests &&
		t.ratioLocked() >= t.config.FailureRatio {
		t.fallbackMode = true
	}
}

// ReleaseProbe returns an unused probe slot, e.g. when the caller was canceled
// before the call could produce an outcome.
func (t *Tracker) ReleaseProbe() {
	t.mu.Lock()
	t.probing = false
	t.mu.Unlock()
}

// Snapshot returns a copy of the current counters
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		Name:                t.name,
		TotalRequests:       t.total,
		FailedRequests:      t.failed,
		ConsecutiveFailures: t.consecutive,
		LastFailureAt:       t.lastFailure,
		CircuitOpen:         t.open,
		FallbackMode:        t.fallbackMode,
		FailureRatio:        t.ratioLocked(),
	}
}

func (t *Tracker) pushOutcome(failure bool) {
	t.window[t.windowNext] = failure
	t.windowNext = (t.windowNext + 1) % len(t.window)
	if t.windowNext == 0 {
		t.windowFilled = true
	}
}

func (t *Tracker) samplesLocked() int {
	if t.windowFilled {
		return len(t.window)
	}
	return t.windowNext
}

func (t *Tracker) ratioLocked() float64 {
	n := t.samplesLocked()
	if n == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < n; i++ {
		if t.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(n)
}

// Registry hands out one Tracker per dependency name. A Registry belongs to a
// single orchestrator so independent pipelines never share breaker state.
type Registry struct {
	config Config
	opts   []Option

	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewRegistry creates an empty registry; trackers are created on first use
func NewRegistry(config Config, opts ...Option) *Registry {
	return &Registry{
		config:   config,
		opts:     opts,
		trackers: make(map[string]*Tracker),
	}
}

// Tracker returns the tracker for the named dependency, creating it if needed
func (r *Registry) Tracker(name string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[name]
	if !ok {
		t = NewTracker(name, r.config, r.opts...)
		r.trackers[name] = t
	}
	return t
}

// Snapshots returns the counters of every tracker created so far
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(trackers))
	for _, t := range trackers {
		snapshots = append(snapshots, t.Snapshot())
	}
	slices.SortFunc(snapshots, func(a, b Snapshot) int {
		return strings.Compare(a.Name, b.Name)
	})
	return snapshots
}
