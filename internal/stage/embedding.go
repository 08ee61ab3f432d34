package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/textsignal"
)

const defaultFallbackDimensions = 256

// EmbeddingOutput is the stored output of the embedding stage
type EmbeddingOutput struct {
	Vector     []float64 `json:"vector"`
	Dimensions int       `json:"dimensions"`
	Source     string    `json:"source"`
}

// EmbeddingStage computes an embedding vector for each enriched post
type EmbeddingStage struct {
	client Embedder
}

// NewEmbedding creates the embedding stage
func NewEmbedding(client Embedder) *EmbeddingStage {
	return &EmbeddingStage{client: client}
}

func (s *EmbeddingStage) Name() string       { return Embedding }
func (s *EmbeddingStage) Requires() string   { return Enrichment }
func (s *EmbeddingStage) Next() string       { return "" }
func (s *EmbeddingStage) Dependency() string { return "inference.embeddings" }

func (s *EmbeddingStage) ParamSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dimensions": map[string]any{"type": "integer", "minimum": 8, "maximum": 4096},
		},
	}
}

func (s *EmbeddingStage) Prepare(params domain.RawJSON) (Processor, error) {
	var p struct {
		Dimensions int `json:"dimensions"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
		}
	}
	return &embeddingProcessor{client: s.client, dimensions: p.Dimensions}, nil
}

type embeddingProcessor struct {
	client     Embedder
	dimensions int // zero keeps the model default
}

func (p *embeddingProcessor) Process(ctx context.Context, item domain.WorkItem) (domain.RawJSON, error) {
	vector, err := p.client.Embed(ctx, item.Text(), p.dimensions)
	if err != nil {
		return nil, err
	}
	return json.Marshal(EmbeddingOutput{Vector: vector, Dimensions: len(vector), Source: "model"})
}

// Fallback hashes the item tokens into a normalized bag-of-words vector
func (p *embeddingProcessor) Fallback(item domain.WorkItem) (domain.RawJSON, error) {
	tokens := textsignal.Tokens(item.Text())
	if len(tokens) == 0 {
		return nil, errors.New("no text to embed")
	}

	dims := p.dimensions
	if dims <= 0 {
		dims = defaultFallbackDimensions
	}
	vector := make([]float64, dims)
	for _, token := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		sign := 1.0
		if sum&1 == 1 {
			sign = -1
		}
		vector[(sum>>1)%uint64(dims)] += sign
	}

	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vector {
			vector[i] /= norm
		}
	}

	return json.Marshal(EmbeddingOutput{Vector: vector, Dimensions: dims, Source: "hashed"})
}
