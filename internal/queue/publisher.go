package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

// Enqueue publishes one job to its queue.
func (p *RabbitMQPublisher) Enqueue(ctx context.Context, job Job) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	ch, err := p.client.channel(ctx, job.Queue)
	if err != nil {
		return err
	}
	defer ch.Close()

	return publishJob(ctx, ch, "", job.Queue, job, "")
}

// EnqueueBatch publishes jobs atomically as a set using a channel
// transaction. Jobs may target different queues.
func (p *RabbitMQPublisher) EnqueueBatch(ctx context.Context, jobs []Job) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if len(jobs) == 0 {
		return nil
	}

	queues := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return fmt.Errorf("invalid job %q: %w", job.ID, err)
		}
		queues = append(queues, job.Queue)
	}

	ch, err := p.client.channel(ctx, queues...)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Tx(); err != nil {
		return fmt.Errorf("failed to open publish transaction: %w", err)
	}

	for _, job := range jobs {
		if err := publishJob(ctx, ch, "", job.Queue, job, ""); err != nil {
			_ = ch.TxRollback()
			return err
		}
	}

	if err := ch.TxCommit(); err != nil {
		return fmt.Errorf("failed to commit publish transaction: %w", err)
	}

	return nil
}

// Schedule parks the job in the delay queue with a per-message TTL so
// the broker delivers it to the origin queue once the delay elapses.
func (p *RabbitMQPublisher) Schedule(ctx context.Context, job Job, delay time.Duration) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	if delay <= 0 {
		return p.Enqueue(ctx, job)
	}

	ch, err := p.client.channel(ctx, job.Queue)
	if err != nil {
		return err
	}
	defer ch.Close()

	expiration := strconv.FormatInt(delay.Milliseconds(), 10)
	return publishJob(ctx, ch, "", DelayQueueName(job.Queue), job, expiration)
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// jobPublisher is satisfied by *amqp.Channel.
type jobPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

func publishJob(ctx context.Context, ch jobPublisher, exchange, routingKey string, job Job, expiration string) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    job.ID,
		Priority:     PriorityValue(job.Priority),
		Expiration:   expiration,
		Headers: amqp.Table{
			"x-retry-count": int32(job.RetryCount),
			"x-max-retries": int32(job.MaxRetries),
		},
		Body: payload,
	}

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish job to %q: %w", routingKey, err)
	}

	return nil
}
