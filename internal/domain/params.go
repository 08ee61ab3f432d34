package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Handoff describes the upstream job that produced the input of a handed-off job
type Handoff struct {
	JobID           string `json:"job_id"`
	Stage           string `json:"stage"`
	ProducedRecords int    `json:"produced_records"`
}

// Params holds the parameter keys understood by every stage. Stage specific
// keys live in the same document and are read by the stage itself.
type Params struct {
	PageSize          int        `json:"page_size,omitempty"`
	MaxItems          int        `json:"max_items,omitempty"`
	TimeBudgetSeconds int        `json:"time_budget_seconds,omitempty"`
	Concurrency       int        `json:"concurrency,omitempty"`
	InterBatchDelayMS int        `json:"inter_batch_delay_ms,omitempty"`
	Platform          string     `json:"platform,omitempty"`
	Since             *time.Time `json:"since,omitempty"`
	MinScore          int        `json:"min_score,omitempty"`
	AutoContinue      bool       `json:"auto_continue,omitempty"`
	Handoff           *bool      `json:"handoff,omitempty"`
	Upstream          *Handoff   `json:"upstream,omitempty"`
}

// DecodeParams reads the common keys of a parameter document. An empty
// document yields zero Params.
func DecodeParams(raw RawJSON) (Params, error) {
	var p Params
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return p, nil
}

// WithDefaults fills zero values from defaults
func (p Params) WithDefaults(defaults Params) Params {
	if p.PageSize <= 0 {
		p.PageSize = defaults.PageSize
	}
	if p.MaxItems <= 0 {
		p.MaxItems = defaults.MaxItems
	}
	if p.TimeBudgetSeconds <= 0 {
		p.TimeBudgetSeconds = defaults.TimeBudgetSeconds
	}
	if p.Concurrency <= 0 {
		p.Concurrency = defaults.Concurrency
	}
	if p.InterBatchDelayMS <= 0 {
		p.InterBatchDelayMS = defaults.InterBatchDelayMS
	}
	return p
}

// HandoffEnabled reports whether the next stage should be triggered on completion
func (p Params) HandoffEnabled() bool {
	return p.Handoff == nil || *p.Handoff
}

// TimeBudget returns the wall-clock budget of one run; zero means unbounded
func (p Params) TimeBudget() time.Duration {
	return time.Duration(p.TimeBudgetSeconds) * time.Second
}

// InterBatchDelay returns the pause between two batches
func (p Params) InterBatchDelay() time.Duration {
	return time.Duration(p.InterBatchDelayMS) * time.Millisecond
}

// ItemFilter returns the work item filter described by the parameters
func (p Params) ItemFilter() ItemFilter {
	return ItemFilter{
		Platform: p.Platform,
		Since:    p.Since,
		MinScore: p.MinScore,
	}
}
