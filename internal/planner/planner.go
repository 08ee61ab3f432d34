// Package planner scores work items with local heuristics and partitions them
// into batches: complex items first in small batches, then medium, then simple
// items in large batches. Within a tier items are ordered by descending
// priority.
package planner

import (
	"cmp"
	"math"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/textsignal"
)

// Complexity is the estimated cost tier of a work item
type Complexity int

const (
	Simple Complexity = iota
	Medium
	Complex
)

func (c Complexity) String() string {
	switch c {
	case Complex:
		return "complex"
	case Medium:
		return "medium"
	default:
		return "simple"
	}
}

// Config holds tier batch sizes and scoring thresholds
type Config struct {
	ComplexBatchSize int
	MediumBatchSize  int
	SimpleBatchSize  int

	// text length in runes from which an item counts as medium or complex
	MediumLength  int
	ComplexLength int
	// age at which the recency component of the priority halves
	RecencyHalfLife time.Duration
}

// DefaultConfig returns the planner settings used when none are configured
func DefaultConfig() Config {
	return Config{
		ComplexBatchSize: 4,
		MediumBatchSize:  8,
		SimpleBatchSize:  12,
		MediumLength:     400,
		ComplexLength:    1200,
		RecencyHalfLife:  24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ComplexBatchSize <= 0 {
		c.ComplexBatchSize = defaults.ComplexBatchSize
	}
	if c.MediumBatchSize <= 0 {
		c.MediumBatchSize = defaults.MediumBatchSize
	}
	if c.SimpleBatchSize <= 0 {
		c.SimpleBatchSize = defaults.SimpleBatchSize
	}
	if c.MediumLength <= 0 {
		c.MediumLength = defaults.MediumLength
	}
	if c.ComplexLength <= 0 {
		c.ComplexLength = defaults.ComplexLength
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = defaults.RecencyHalfLife
	}
	return c
}

func (c Config) batchSize(tier Complexity) int {
	switch tier {
	case Complex:
		return c.ComplexBatchSize
	case Medium:
		return c.MediumBatchSize
	default:
		return c.SimpleBatchSize
	}
}

// Scored is a work item annotated with its tier and priority
type Scored struct {
	Item       domain.WorkItem
	Complexity Complexity
	Priority   float64
}

// Batch is an in-memory group of items from one tier
type Batch struct {
	Tier  Complexity
	Items []domain.WorkItem
}

// Planner scores and batches work items
type Planner struct {
	config Config
	now    func() time.Time
}

// Option customizes the planner
type Option func(*Planner)

// WithClock overrides the time source used for recency
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a planner
func New(config Config, opts ...Option) *Planner {
	p := &Planner{
		config: config.withDefaults(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Assess derives the (complexity, priority) pair of one item
func (p *Planner) Assess(item domain.WorkItem) Scored {
	text := item.Text()
	return Scored{
		Item:       item,
		Complexity: p.complexity(text),
		Priority:   p.priority(item, text),
	}
}

// complexity scores size and markers; a very long text or many markers make
// an item complex on their own
func (p *Planner) complexity(text string) Complexity {
	points := 0
	length := utf8.RuneCountInString(text)
	switch {
	case length >= p.config.ComplexLength:
		points += 2
	case length >= p.config.MediumLength:
		points++
	}

	switch markers := textsignal.ComplexityMarkers(text); {
	case markers >= 3:
		points += 2
	case markers >= 1:
		points++
	}

	switch {
	case points >= 2:
		return Complex
	case points >= 1:
		return Medium
	default:
		return Simple
	}
}

// priority weighs negative signal, engagement and recency into [0, 1]
func (p *Planner) priority(item domain.WorkItem, text string) float64 {
	negative := textsignal.NegativeStrength(text)
	if sentiment, ok := item.PriorSentiment(); ok {
		negative = (1 - clamp(sentiment, -1, 1)) / 2
	}

	engagement := math.Log1p(float64(max(item.Score, 0)+max(item.CommentCount, 0))) / math.Log1p(1000)
	engagement = clamp(engagement, 0, 1)

	recency := 0.0
	if !item.CreatedAt.IsZero() {
		age := p.now().Sub(item.CreatedAt)
		if age < 0 {
			age = 0
		}
		recency = math.Exp2(-float64(age) / float64(p.config.RecencyHalfLife))
	}

	return 0.4*negative + 0.3*engagement + 0.3*recency
}

// Plan scores the items and partitions them into batches
func (p *Planner) Plan(items []domain.WorkItem) []Batch {
	scored := make([]Scored, len(items))
	for i, item := range items {
		scored[i] = p.Assess(item)
	}
	return Partition(scored, p.config)
}

// Partition chunks pre-scored items into tier batches. Complex batches come
// first, then medium, then simple. Every item lands in exactly one batch;
// an unknown tier is treated as simple.
func Partition(scored []Scored, config Config) []Batch {
	config = config.withDefaults()

	tiers := map[Complexity][]Scored{}
	for _, s := range scored {
		tier := s.Complexity
		if tier != Complex && tier != Medium {
			tier = Simple
		}
		tiers[tier] = append(tiers[tier], s)
	}

	var batches []Batch
	for _, tier := range []Complexity{Complex, Medium, Simple} {
		members := tiers[tier]
		slices.SortStableFunc(members, func(a, b Scored) int {
			if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
				return c
			}
			return cmp.Compare(a.Item.ID, b.Item.ID)
		})

		size := config.batchSize(tier)
		for chunk := range slices.Chunk(members, size) {
			items := make([]domain.WorkItem, len(chunk))
			for i, s := range chunk {
				items[i] = s.Item
			}
			batches = append(batches, Batch{Tier: tier, Items: items})
		}
	}
	return batches
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
