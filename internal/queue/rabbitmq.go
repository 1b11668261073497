package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "rcs.dlx"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	maxDialAttempts  = 5
)

// RabbitMQ manages RabbitMQ connectivity and topology declaration.
type RabbitMQ struct {
	url string

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection

	declaredMu sync.Mutex
	declared   map[string]struct{}
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, declared: make(map[string]struct{})}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

// Connected reports whether the broker connection is currently open.
// Used by readiness probes; a reconnect in flight counts as down.
func (r *RabbitMQ) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// channel returns a fresh channel with topology declared for the given
// queues. Callers own the channel and must close it.
func (r *RabbitMQ) channel(ctx context.Context, queues ...string) (*amqp.Channel, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		if err := r.ensureConnected(ctx); err != nil {
			return nil, err
		}
		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()
	}

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := r.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()

		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	for _, queue := range queues {
		if err := r.ensureTopology(ch, queue); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}

	return ch, nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	var lastErr error
	wait := reconnectBackoff
	for attempt := 1; attempt <= maxDialAttempts; attempt++ {
		newConn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.mu.Unlock()

			// A new connection starts with no declared topology.
			r.declaredMu.Lock()
			r.declared = make(map[string]struct{})
			r.declaredMu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}

			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}

	return fmt.Errorf("rabbitmq connect failed after %d attempts: %w", maxDialAttempts, lastErr)
}

// ensureTopology declares the queue, its DLQ and its delay companion.
// Declarations are idempotent; the cache just avoids repeating them on
// every channel acquisition.
func (r *RabbitMQ) ensureTopology(ch *amqp.Channel, queue string) error {
	r.declaredMu.Lock()
	_, done := r.declared[queue]
	r.declaredMu.Unlock()
	if done {
		return nil
	}

	if err := ch.ExchangeDeclare(
		dlxExchangeName,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	dlqName := DLQName(queue)
	if _, err := ch.QueueDeclare(
		dlqName,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", dlqName, err)
	}

	if err := ch.QueueBind(dlqName, queue, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", dlqName, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": queue,
		"x-max-priority":            queueMaxPriority,
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		args,
	); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}

	// Expired messages in the delay queue dead-letter through the
	// default exchange straight back to the origin queue.
	delayArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}

	delayName := DelayQueueName(queue)
	if _, err := ch.QueueDeclare(
		delayName,
		true,
		false,
		false,
		false,
		delayArgs,
	); err != nil {
		return fmt.Errorf("failed to declare delay queue %q: %w", delayName, err)
	}

	r.declaredMu.Lock()
	r.declared[queue] = struct{}{}
	r.declaredMu.Unlock()

	return nil
}
