package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
)

// brokerChannel is the subset of amqp.Channel the pull-mode fetch and
// admin operations go through.
type brokerChannel interface {
	QueueInspect(name string) (amqp.Queue, error)
	QueuePurge(name string, noWait bool) (int, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQAdmin implements operational queue actions on top of the
// shared connection.
type RabbitMQAdmin struct {
	client *RabbitMQ
}

func NewRabbitMQAdmin(client *RabbitMQ) *RabbitMQAdmin {
	return &RabbitMQAdmin{client: client}
}

// Stats inspects a queue and its DLQ.
func (a *RabbitMQAdmin) Stats(ctx context.Context, queue string) (Stats, error) {
	if a == nil || a.client == nil {
		return Stats{}, fmt.Errorf("admin is not initialized")
	}

	ch, err := a.client.channel(ctx, queue)
	if err != nil {
		return Stats{}, err
	}
	defer ch.Close()

	return queueStats(ch, queue)
}

func queueStats(ch brokerChannel, queue string) (Stats, error) {
	q, err := ch.QueueInspect(queue)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to inspect queue %q: %w", queue, err)
	}

	dlq, err := ch.QueueInspect(DLQName(queue))
	if err != nil {
		return Stats{}, fmt.Errorf("failed to inspect dlq for %q: %w", queue, err)
	}

	return Stats{
		Queue:     queue,
		Depth:     q.Messages,
		Consumers: q.Consumers,
		DLQDepth:  dlq.Messages,
	}, nil
}

// Purge drops all ready messages from a queue and returns the count.
func (a *RabbitMQAdmin) Purge(ctx context.Context, queue string) (int, error) {
	if a == nil || a.client == nil {
		return 0, fmt.Errorf("admin is not initialized")
	}

	ch, err := a.client.channel(ctx, queue)
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	purged, err := ch.QueuePurge(queue, false)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue %q: %w", queue, err)
	}

	return purged, nil
}

// MoveToDLQ routes a job directly to its origin queue's DLQ.
func (a *RabbitMQAdmin) MoveToDLQ(ctx context.Context, job Job, reason string) error {
	if a == nil || a.client == nil {
		return fmt.Errorf("admin is not initialized")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	ch, err := a.client.channel(ctx, job.Queue)
	if err != nil {
		return err
	}
	defer ch.Close()

	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}
	job.Metadata["dlq_reason"] = reason

	return publishJob(ctx, ch, dlxExchangeName, job.Queue, job, "")
}

// DLQJobs peeks up to limit jobs from a queue's DLQ without consuming
// them.
func (a *RabbitMQAdmin) DLQJobs(ctx context.Context, queue string, limit int) ([]Job, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("admin is not initialized")
	}

	ch, err := a.client.channel(ctx, queue)
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	return dlqJobs(ch, DLQName(queue), limit)
}

func dlqJobs(ch brokerChannel, dlqName string, limit int) ([]Job, error) {
	if limit < 1 {
		limit = 10
	}

	jobs := make([]Job, 0, limit)
	for len(jobs) < limit {
		d, ok, err := ch.Get(dlqName, false)
		if err != nil {
			return nil, fmt.Errorf("failed to read dlq %q: %w", dlqName, err)
		}
		if !ok {
			break
		}

		var job Job
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Nack(false, true)
			continue
		}
		jobs = append(jobs, job)

		// Return the message to the DLQ; peeking must not consume.
		if err := d.Nack(false, true); err != nil {
			return nil, fmt.Errorf("failed to requeue dlq job: %w", err)
		}
	}

	return jobs, nil
}

// RetryDLQJob moves one job from the DLQ back to its origin queue with
// a reset retry budget.
func (a *RabbitMQAdmin) RetryDLQJob(ctx context.Context, queue, jobID string) error {
	if a == nil || a.client == nil {
		return fmt.Errorf("admin is not initialized")
	}

	ch, err := a.client.channel(ctx, queue)
	if err != nil {
		return err
	}
	defer ch.Close()

	return retryDLQJob(ctx, ch, queue, jobID)
}

// retryDLQJob scans at most one pass over the DLQ's current depth.
// Non-matching jobs are returned unconsumed; the match is republished
// to the origin queue and acked away.
func retryDLQJob(ctx context.Context, ch brokerChannel, queue, jobID string) error {
	dlqName := DLQName(queue)
	q, err := ch.QueueInspect(dlqName)
	if err != nil {
		return fmt.Errorf("failed to inspect dlq %q: %w", dlqName, err)
	}

	for i := 0; i < q.Messages; i++ {
		d, ok, err := ch.Get(dlqName, false)
		if err != nil {
			return fmt.Errorf("failed to read dlq %q: %w", dlqName, err)
		}
		if !ok {
			break
		}

		var job Job
		if err := json.Unmarshal(d.Body, &job); err != nil || job.ID != jobID {
			if nackErr := d.Nack(false, true); nackErr != nil {
				return fmt.Errorf("failed to requeue dlq job: %w", nackErr)
			}
			continue
		}

		job.RetryCount = 0
		if err := publishJob(ctx, ch, "", queue, job, ""); err != nil {
			if nackErr := d.Nack(false, true); nackErr != nil {
				return fmt.Errorf("retry publish failed and nack failed: %w", nackErr)
			}
			return err
		}

		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack retried dlq job: %w", err)
		}
		return nil
	}

	return fmt.Errorf("%w: job %q not in dlq %s", domain.ErrNotFound, jobID, dlqName)
}
