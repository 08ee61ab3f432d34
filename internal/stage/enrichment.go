package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/textsignal"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const defaultMaxKeywords = 8

const enrichmentPrompt = `You analyze user complaints about software products.
Return a JSON object with the fields:
"sentiment": number from -1 (very negative) to 1 (very positive),
"pain_score": number from 0 (no pain) to 1 (severe pain),
"keywords": array of short lowercase keywords naming the problem.`

var enrichmentOutputSchema = map[string]any{
	"type":     "object",
	"required": []any{"sentiment", "keywords"},
	"properties": map[string]any{
		"sentiment":  map[string]any{"type": "number", "minimum": -1, "maximum": 1},
		"pain_score": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"keywords": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

// EnrichmentOutput is the stored output of the enrichment stage
type EnrichmentOutput struct {
	Sentiment float64  `json:"sentiment"`
	PainScore float64  `json:"pain_score"`
	Keywords  []string `json:"keywords"`
	Source    string   `json:"source"`
}

// EnrichmentStage derives sentiment, pain score and keywords for each post
type EnrichmentStage struct {
	client ChatCompleter
	output *jsonschema.Schema
}

// NewEnrichment creates the enrichment stage
func NewEnrichment(client ChatCompleter) (*EnrichmentStage, error) {
	output, err := compileSchema("enrichment-output.json", enrichmentOutputSchema)
	if err != nil {
		return nil, fmt.Errorf("enrichment output: %w", err)
	}
	return &EnrichmentStage{client: client, output: output}, nil
}

func (s *EnrichmentStage) Name() string       { return Enrichment }
func (s *EnrichmentStage) Requires() string   { return "" }
func (s *EnrichmentStage) Next() string       { return Embedding }
func (s *EnrichmentStage) Dependency() string { return "inference.chat" }

func (s *EnrichmentStage) ParamSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"max_keywords": map[string]any{"type": "integer", "minimum": 1, "maximum": 25},
		},
	}
}

func (s *EnrichmentStage) Prepare(params domain.RawJSON) (Processor, error) {
	var p struct {
		MaxKeywords int `json:"max_keywords"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
		}
	}
	if p.MaxKeywords <= 0 {
		p.MaxKeywords = defaultMaxKeywords
	}
	return &enrichmentProcessor{stage: s, maxKeywords: p.MaxKeywords}, nil
}

type enrichmentProcessor struct {
	stage       *EnrichmentStage
	maxKeywords int
}

func (p *enrichmentProcessor) Process(ctx context.Context, item domain.WorkItem) (domain.RawJSON, error) {
	var raw json.RawMessage
	if err := p.stage.client.CompleteJSON(ctx, enrichmentPrompt, item.Text(), &raw); err != nil {
		return nil, err
	}
	if err := validateDocument(p.stage.output, raw); err != nil {
		return nil, fmt.Errorf("enrichment output: %w", err)
	}

	var out EnrichmentOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("enrichment output: %w", err)
	}
	out.Keywords = normalizeKeywords(out.Keywords, p.maxKeywords)
	out.Source = "model"
	return json.Marshal(out)
}

func (p *enrichmentProcessor) Fallback(item domain.WorkItem) (domain.RawJSON, error) {
	text := item.Text()
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("no text to analyze")
	}
	out := EnrichmentOutput{
		Sentiment: textsignal.Sentiment(text),
		PainScore: textsignal.NegativeStrength(text),
		Keywords:  textsignal.Keywords(text, p.maxKeywords),
		Source:    "lexicon",
	}
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	return json.Marshal(out)
}

func normalizeKeywords(keywords []string, limit int) []string {
	out := make([]string, 0, min(len(keywords), limit))
	seen := make(map[string]bool, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" || seen[keyword] {
			continue
		}
		seen[keyword] = true
		out = append(out, keyword)
		if len(out) == limit {
			break
		}
	}
	return out
}
