// Package stage holds the per-item strategies plugged into the orchestrator.
// A stage names the stage it depends on and the one it hands off to, the
// inference dependency it drives, the schema of its own parameters, and how
// to process one item remotely or locally.
package stage

import (
	"context"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
)

// Stage names
const (
	Enrichment = "enrichment"
	Embedding  = "embedding"
)

// Processor handles items for one job with its parameters bound
type Processor interface {
	// Process computes the item output through the external dependency
	Process(ctx context.Context, item domain.WorkItem) (domain.RawJSON, error)
	// Fallback computes a deterministic local output
	Fallback(item domain.WorkItem) (domain.RawJSON, error)
}

// Stage describes one pipeline stage
type Stage interface {
	Name() string
	// Requires is the stage whose output items need before this stage runs
	Requires() string
	// Next is the stage triggered with a handoff on completion, empty for none
	Next() string
	// Dependency names the reliability tracker guarding the external calls
	Dependency() string
	// ParamSchema is the JSON schema of the stage specific parameters
	ParamSchema() map[string]any
	// Prepare binds validated parameters
	Prepare(params domain.RawJSON) (Processor, error)
}

// ChatCompleter runs a JSON-mode chat completion
type ChatCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, text string, target any) error
}

// Embedder returns embedding vectors
type Embedder interface {
	Embed(ctx context.Context, text string, dimensions int) ([]float64, error)
}
