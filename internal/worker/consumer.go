package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/opportunity-pipeline/internal/jobqueue"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming with manual acknowledgement
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.consumer.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, err
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)
	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the worker pool
// until ctx is canceled or the delivery channel closes
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case d, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			job, ok := w.decodeDelivery(d)
			if !ok {
				continue
			}

			select {
			case w.jobsChan <- job:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", job.msg.JobID),
					slog.Uint64("delivery_tag", job.msg.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := d.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			}
		}
	}
}

// decodeDelivery parses the message body; malformed messages are rejected
// without requeue
func (w *Worker) decodeDelivery(d amqp.Delivery) (*delivery, bool) {
	msg, err := jobqueue.Decode(d.Body)
	if err == nil {
		_, err = uuid.Parse(msg.JobID)
	}
	if err != nil {
		w.logger.Error("Rejecting malformed job message",
			slog.Any("error", err),
			slog.String("body", string(d.Body)),
		)
		if nackErr := d.Nack(false, false); nackErr != nil {
			w.logger.Error("Failed to NACK malformed message",
				slog.Any("error", nackErr),
			)
		}
		return nil, false
	}

	msg.DeliveryTag = d.DeliveryTag
	return &delivery{msg: msg, acker: d.Acknowledger}, true
}
