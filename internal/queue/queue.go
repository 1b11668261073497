package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
)

// Well-known work queues.
const (
	QueueDispatch     = "message.dispatch"
	QueueWebhook      = "webhook.process"
	QueueFallback     = "fallback.sms"
	QueueOrchestrator = "campaign.orchestrate"
)

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for work
	// queues, sized to the URGENT priority level.
	queueMaxPriority int32 = 20

	// DefaultMaxRetries bounds broker-level redeliveries per job.
	DefaultMaxRetries = 3
)

// DLQName returns the dead-letter queue bound 1:1 to an origin queue.
func DLQName(queue string) string {
	return queue + ".dlq"
}

// DelayQueueName returns the holding queue used for delayed delivery.
// Messages parked there dead-letter back to the origin queue when their
// per-message TTL expires.
func DelayQueueName(queue string) string {
	return queue + ".delay"
}

// WorkQueueNames returns all well-known work queues (4 total).
func WorkQueueNames() []string {
	return []string{QueueDispatch, QueueWebhook, QueueFallback, QueueOrchestrator}
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityUrgent:
		return 20
	case domain.PriorityHigh:
		return 10
	case domain.PriorityMedium:
		return 5
	case domain.PriorityLow:
		return 1
	default:
		return 1
	}
}

// Job is the durable envelope carried on the broker.
type Job struct {
	ID         string            `json:"id"`
	Queue      string            `json:"queue"`
	Payload    json.RawMessage   `json:"payload"`
	Priority   domain.Priority   `json:"priority"`
	MaxRetries int               `json:"maxRetries"`
	RetryCount int               `json:"retryCount"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewJob builds a job envelope around a JSON-marshalable payload.
func NewJob(queue string, payload any, priority domain.Priority) (Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Payload:    body,
		Priority:   priority,
		MaxRetries: DefaultMaxRetries,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if strings.TrimSpace(j.Queue) == "" {
		return fmt.Errorf("job queue is required")
	}
	if !j.Priority.IsValid() {
		return fmt.Errorf("invalid job priority %q", j.Priority)
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("job maxRetries cannot be negative")
	}
	return nil
}

// shouldRequeue decides whether a failed job goes back to its origin
// queue or to the DLQ.
func shouldRequeue(job Job) bool {
	return job.RetryCount < job.MaxRetries
}

// Stats is a point-in-time snapshot of one queue and its DLQ.
type Stats struct {
	Queue     string `json:"queue"`
	Depth     int    `json:"depth"`
	Consumers int    `json:"consumers"`
	DLQDepth  int    `json:"dlqDepth"`
}

// Publisher enqueues jobs, immediately or after a delay.
type Publisher interface {
	Enqueue(ctx context.Context, job Job) error
	EnqueueBatch(ctx context.Context, jobs []Job) error
	Schedule(ctx context.Context, job Job, delay time.Duration) error
	Close() error
}

// JobHandler handles a consumed job. A non-nil error triggers the
// queue's bounded retry, ending in the DLQ.
type JobHandler func(ctx context.Context, job Job) error

// Settle finalizes a pulled job. Ack removes it from the queue; a
// non-ack returns it for redelivery.
type Settle func(ack bool) error

// Consumer consumes jobs with at-least-once delivery, either push
// (Consume subscribes a handler) or pull (Dequeue fetches one ready
// job; ok is false when the queue is empty).
type Consumer interface {
	Consume(ctx context.Context, queue string, handler JobHandler) error
	Dequeue(ctx context.Context, queue string) (job Job, settle Settle, ok bool, err error)
	Close() error
}

// Admin exposes operational queue actions.
type Admin interface {
	Stats(ctx context.Context, queue string) (Stats, error)
	Purge(ctx context.Context, queue string) (int, error)
	MoveToDLQ(ctx context.Context, job Job, reason string) error
	DLQJobs(ctx context.Context, queue string, limit int) ([]Job, error)
	RetryDLQJob(ctx context.Context, queue, jobID string) error
}
