package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume subscribes the handler to a queue and blocks until the
// context is canceled, reconnecting with backoff on broker errors.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler JobHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("job handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer loop error, reconnecting",
			zap.String("queue", queue),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler JobHandler) error {
	ch, err := c.client.channel(ctx, queue)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, ch, queue, d, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery runs the handler and settles the delivery. A failed
// job below its retry budget is republished to the origin queue with an
// incremented count; at the budget it is rejected without requeue so
// the broker routes it to the DLQ.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, ch *amqp.Channel, queue string, d amqp.Delivery, handler JobHandler) error {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		c.logger.Warn("rejecting job: invalid JSON",
			zap.Error(err),
			zap.String("queue", queue),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid job: %w", rejectErr)
		}
		return nil
	}

	if err := job.Validate(); err != nil {
		c.logger.Warn("rejecting job: validation failed",
			zap.Error(err),
			zap.String("jobId", job.ID),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid job: %w", rejectErr)
		}
		return nil
	}

	if err := handler(ctx, job); err != nil {
		return c.settleFailure(ctx, ch, queue, d, job, err)
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

func (c *RabbitMQConsumer) settleFailure(ctx context.Context, ch *amqp.Channel, queue string, d amqp.Delivery, job Job, handlerErr error) error {
	if !shouldRequeue(job) {
		c.logger.Warn("job exhausted retries, routing to dlq",
			zap.String("jobId", job.ID),
			zap.String("queue", queue),
			zap.Int("retryCount", job.RetryCount),
			zap.Error(handlerErr),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject exhausted job: %w", rejectErr)
		}
		return nil
	}

	job.RetryCount++
	if err := publishJob(ctx, ch, "", queue, job, ""); err != nil {
		// Keep the original delivery alive so the job is not lost.
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("retry publish failed and nack failed: %w", nackErr)
		}
		return nil
	}

	c.logger.Debug("job requeued for retry",
		zap.String("jobId", job.ID),
		zap.String("queue", queue),
		zap.Int("retryCount", job.RetryCount),
		zap.Error(handlerErr),
	)

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack retried delivery: %w", err)
	}

	return nil
}

// Dequeue pulls at most one ready job off the queue with basic.get.
// The caller owns the job until it settles; the backing channel stays
// open until then.
func (c *RabbitMQConsumer) Dequeue(ctx context.Context, queue string) (Job, Settle, bool, error) {
	if c == nil || c.client == nil {
		return Job{}, nil, false, fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return Job{}, nil, false, fmt.Errorf("queue name is required")
	}

	ch, err := c.client.channel(ctx, queue)
	if err != nil {
		return Job{}, nil, false, err
	}

	return dequeueJob(ch, queue)
}

// dequeueJob fetches the next decodable job. Undecodable deliveries
// are rejected without requeue, routing them to the DLQ.
func dequeueJob(ch brokerChannel, queue string) (Job, Settle, bool, error) {
	for {
		d, ok, err := ch.Get(queue, false)
		if err != nil {
			ch.Close()
			return Job{}, nil, false, fmt.Errorf("failed to get from queue %q: %w", queue, err)
		}
		if !ok {
			ch.Close()
			return Job{}, nil, false, nil
		}

		var job Job
		if err := json.Unmarshal(d.Body, &job); err != nil {
			if rejectErr := d.Reject(false); rejectErr != nil {
				ch.Close()
				return Job{}, nil, false, fmt.Errorf("failed to reject invalid job: %w", rejectErr)
			}
			continue
		}
		if err := job.Validate(); err != nil {
			if rejectErr := d.Reject(false); rejectErr != nil {
				ch.Close()
				return Job{}, nil, false, fmt.Errorf("failed to reject invalid job: %w", rejectErr)
			}
			continue
		}

		settle := func(ack bool) error {
			defer ch.Close()
			if ack {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, settle, true, nil
	}
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
