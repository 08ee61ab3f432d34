// Package jobqueue carries job messages between the API and the workers
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
)

const contentType = "application/json"

// Broker publishes raw message bodies
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher dispatches job messages to the worker queue
type Publisher struct {
	broker Broker
	logger *slog.Logger
}

// NewPublisher creates a publisher on top of the broker
func NewPublisher(broker Broker, logger *slog.Logger) *Publisher {
	return &Publisher{broker: broker, logger: logger}
}

// Dispatch publishes {job_id, stage}
func (p *Publisher) Dispatch(ctx context.Context, msg domain.JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}
	if err := p.broker.PublishWithRetry(ctx, body, contentType); err != nil {
		return err
	}

	p.logger.Debug("Job message published",
		slog.String("job_id", msg.JobID),
		slog.String("stage", msg.Stage),
	)
	return nil
}

// Decode parses a delivery body into a job message
func Decode(body []byte) (domain.JobMessage, error) {
	var msg domain.JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("invalid job message: %w", err)
	}
	if msg.JobID == "" {
		return msg, fmt.Errorf("invalid job message: missing job_id")
	}
	return msg, nil
}
