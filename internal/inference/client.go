// Package inference is a client for OpenAI-compatible chat completion and
// embedding endpoints. Each call makes exactly one HTTP request; retries and
// circuit breaking belong to the caller. Requests are paced client side by a
// token bucket.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	jsonResponseType     = "json_object"
	defaultHTTPTimeout   = 30 * time.Second
	defaultMaxInputChars = 6000
)

// Config captures the runtime settings required to talk to the API
type Config struct {
	BaseURL           string
	APIKey            string
	ChatModel         string
	EmbeddingModel    string
	Timeout           time.Duration
	RequestsPerSecond float64 // zero disables pacing
	Burst             int
	MaxInputChars     int
}

// Client wraps the chat completion and embedding APIs
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option customizes the client
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client using the supplied configuration
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = defaultMaxInputChars
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference request: http %d: %s", e.StatusCode, summarizePayloadSnippet(e.Body))
}

// HTTPStatus returns the response status code
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// ErrEmptyResponse is returned when the API answers without content
var ErrEmptyResponse = errors.New("inference: empty response")

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
}

// CompleteJSON sends a JSON-mode chat completion and decodes the content into target
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, text string, target any) error {
	payload := chatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: strings.TrimSpace(systemPrompt)},
			{Role: "user", Content: c.truncate(text)},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	var completion chatCompletionResponse
	if err := c.post(ctx, "chat/completions", payload, &completion); err != nil {
		return err
	}
	if completion.Error != nil {
		return fmt.Errorf("inference chat: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return ErrEmptyResponse
	}

	if err := DecodeJSON(completion.Choices[0].Message.Content, target); err != nil {
		return fmt.Errorf("inference chat: parse payload: %w", err)
	}
	return nil
}

// Embed returns the embedding vector of text. A positive dimensions asks the
// model for a shortened vector.
func (c *Client) Embed(ctx context.Context, text string, dimensions int) ([]float64, error) {
	payload := embeddingRequest{
		Model:      c.cfg.EmbeddingModel,
		Input:      c.truncate(text),
		Dimensions: max(dimensions, 0),
	}

	var resp embeddingResponse
	if err := c.post(ctx, "embeddings", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("inference embed: api error: %s", strings.TrimSpace(resp.Error.Message))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Data[0].Embedding, nil
}

// MaxInputChars returns the input truncation limit in runes
func (c *Client) MaxInputChars() int {
	return c.cfg.MaxInputChars
}

func (c *Client) post(ctx context.Context, path string, payload, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("inference request: pacing: %w", err)
	}

	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return fmt.Errorf("inference request: build url: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("inference request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("inference request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference request: http error (timeout=%s): %w", c.cfg.Timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("inference request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("inference request: decode response: %w", err)
	}
	return nil
}

// truncate bounds the payload to MaxInputChars runes
func (c *Client) truncate(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= c.cfg.MaxInputChars {
		return text
	}
	return string(runes[:c.cfg.MaxInputChars])
}
