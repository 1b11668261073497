package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/observability"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
)

// Worker drains one queue with a fixed number of concurrent consumers.
// Each consumer holds its own broker channel, so concurrency here is
// also the channel count.
type Worker struct {
	name        string
	queue       string
	concurrency int
	consumer    queue.Consumer
	handler     queue.JobHandler
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func newWorker(name, queueName string, concurrency int, consumer queue.Consumer, handler queue.JobHandler, logger *zap.Logger) (*Worker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("job handler is required")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		name:        name,
		queue:       queueName,
		concurrency: concurrency,
		consumer:    consumer,
		handler:     handler,
		logger:      logger.With(zap.String("worker", name)),
	}, nil
}

func (w *Worker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

func (w *Worker) Name() string { return w.name }

// Run blocks until the context is canceled or a consumer fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting",
		zap.String("queue", w.queue),
		zap.Int("concurrency", w.concurrency),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.consumer.Consume(ctx, w.queue, w.handle)
		})
	}

	err := g.Wait()
	w.logger.Info("worker stopped", zap.String("queue", w.queue))
	return err
}

func (w *Worker) handle(ctx context.Context, job queue.Job) error {
	w.metrics.IncWorkerInFlight(w.name)
	defer w.metrics.DecWorkerInFlight(w.name)

	ctx = observability.WithCorrelationID(ctx, job.ID)
	if err := w.handler(ctx, job); err != nil {
		observability.WithContextLogger(w.logger, ctx).Warn("job failed",
			zap.Int("retryCount", job.RetryCount),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// decodePayload unmarshals the job payload. A malformed payload is
// poison: the caller acks it away instead of retrying.
func decodePayload(job queue.Job, v any) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of job %s: %w", job.ID, err)
	}
	return nil
}
