package jobqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	body        []byte
	contentType string
	err         error
}

func (b *fakeBroker) PublishWithRetry(_ context.Context, body []byte, contentType string) error {
	b.body = body
	b.contentType = contentType
	return b.err
}

func TestPublisher_Dispatch(t *testing.T) {
	broker := &fakeBroker{}
	publisher := NewPublisher(broker, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := publisher.Dispatch(context.Background(), domain.JobMessage{JobID: "job-1", Stage: "enrichment", DeliveryTag: 7})
	require.NoError(t, err)

	assert.JSONEq(t, `{"job_id":"job-1","stage":"enrichment"}`, string(broker.body))
	assert.Equal(t, "application/json", broker.contentType)

	decoded, err := Decode(broker.body)
	require.NoError(t, err)
	assert.Equal(t, domain.JobMessage{JobID: "job-1", Stage: "enrichment"}, decoded)
}

func TestPublisher_DispatchError(t *testing.T) {
	broker := &fakeBroker{err: errors.New("channel closed")}
	publisher := NewPublisher(broker, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := publisher.Dispatch(context.Background(), domain.JobMessage{JobID: "job-1"})
	assert.ErrorContains(t, err, "channel closed")
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"job_id":"a","stage":"embedding"}`},
		{name: "missing job id", body: `{"stage":"embedding"}`, wantErr: true},
		{name: "malformed", body: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
