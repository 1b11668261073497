package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/observability"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/transport"
)

type stubQueueAdmin struct {
	statsFn func(ctx context.Context, q string) (queue.Stats, error)
	purgeFn func(ctx context.Context, q string) (int, error)
	moveFn  func(ctx context.Context, job queue.Job, reason string) error
	dlqFn   func(ctx context.Context, q string, limit int) ([]queue.Job, error)
	retryFn func(ctx context.Context, q, jobID string) error
}

func (s *stubQueueAdmin) Stats(ctx context.Context, q string) (queue.Stats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, q)
	}
	return queue.Stats{Queue: q}, nil
}

func (s *stubQueueAdmin) Purge(ctx context.Context, q string) (int, error) {
	if s.purgeFn != nil {
		return s.purgeFn(ctx, q)
	}
	return 0, nil
}

func (s *stubQueueAdmin) MoveToDLQ(ctx context.Context, job queue.Job, reason string) error {
	if s.moveFn != nil {
		return s.moveFn(ctx, job, reason)
	}
	return nil
}

func (s *stubQueueAdmin) DLQJobs(ctx context.Context, q string, limit int) ([]queue.Job, error) {
	if s.dlqFn != nil {
		return s.dlqFn(ctx, q, limit)
	}
	return nil, nil
}

func (s *stubQueueAdmin) RetryDLQJob(ctx context.Context, q, jobID string) error {
	if s.retryFn != nil {
		return s.retryFn(ctx, q, jobID)
	}
	return nil
}

func newQueueTestApp(t *testing.T, admin queue.Admin, metrics *observability.Metrics) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterQueueRoutes(app, admin, metrics); err != nil {
		t.Fatalf("RegisterQueueRoutes() error = %v", err)
	}
	return app
}

func TestQueueIntegration_ListStatsUpdatesDepthGauge(t *testing.T) {
	t.Parallel()

	admin := &stubQueueAdmin{
		statsFn: func(ctx context.Context, q string) (queue.Stats, error) {
			depth := 0
			dlqDepth := 0
			if q == queue.QueueDispatch {
				depth = 12
				dlqDepth = 2
			}
			return queue.Stats{Queue: q, Depth: depth, Consumers: 1, DLQDepth: dlqDepth}, nil
		},
	}
	metrics := observability.NewMetrics()
	app := newQueueTestApp(t, admin, metrics)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/queues", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var listed struct {
		Queues []queue.Stats `json:"queues"`
	}
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(listed.Queues) != len(queue.WorkQueueNames()) {
		t.Fatalf("len(queues) = %d, want %d", len(listed.Queues), len(queue.WorkQueueNames()))
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	scraped := rec.Body.String()
	if !strings.Contains(scraped, `rcs_engine_queue_depth{queue="message.dispatch"} 12`) {
		t.Fatalf("queue depth gauge not recorded, metrics:\n%s", scraped)
	}
	if !strings.Contains(scraped, `rcs_engine_queue_depth{queue="message.dispatch.dlq"} 2`) {
		t.Fatalf("dlq depth gauge not recorded, metrics:\n%s", scraped)
	}
}

func TestQueueIntegration_UnknownQueueRejected(t *testing.T) {
	t.Parallel()

	app := newQueueTestApp(t, &stubQueueAdmin{}, nil)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/queues/not.a.queue", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/queues/not.a.queue/purge", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("purge status = %d, want 404", resp.StatusCode)
	}
}

func TestQueueIntegration_PurgeQueue(t *testing.T) {
	t.Parallel()

	var purgedQueue string
	admin := &stubQueueAdmin{
		purgeFn: func(ctx context.Context, q string) (int, error) {
			purgedQueue = q
			return 5, nil
		},
	}
	app := newQueueTestApp(t, admin, nil)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/queues/message.dispatch/purge", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if purgedQueue != queue.QueueDispatch {
		t.Fatalf("purged queue = %s, want %s", purgedQueue, queue.QueueDispatch)
	}
	if !strings.Contains(string(body), `"purged":5`) {
		t.Fatalf("body = %s, want purged count 5", string(body))
	}
}

func TestQueueIntegration_ListDLQJobs(t *testing.T) {
	t.Parallel()

	var gotLimit int
	admin := &stubQueueAdmin{
		dlqFn: func(ctx context.Context, q string, limit int) ([]queue.Job, error) {
			gotLimit = limit
			return []queue.Job{{ID: "j1", Queue: q, Priority: domain.PriorityMedium}}, nil
		},
	}
	app := newQueueTestApp(t, admin, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/queues/message.dispatch/dlq?limit=25", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if gotLimit != 25 {
		t.Fatalf("limit = %d, want 25", gotLimit)
	}
	if !strings.Contains(string(body), `"j1"`) {
		t.Fatalf("body = %s, want job j1 listed", string(body))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/queues/message.dispatch/dlq?limit=9999", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized limit", resp.StatusCode)
	}
}

func TestQueueIntegration_RetryDLQJob(t *testing.T) {
	t.Parallel()

	admin := &stubQueueAdmin{
		retryFn: func(ctx context.Context, q, jobID string) error {
			if jobID != "j9" {
				return fmt.Errorf("%w: job %q not in dlq", domain.ErrNotFound, jobID)
			}
			return nil
		},
	}
	app := newQueueTestApp(t, admin, nil)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/queues/message.dispatch/dlq/j9/retry", "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/queues/message.dispatch/dlq/missing/retry", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown job", resp.StatusCode)
	}
}

func TestQueueIntegration_QuarantineJob(t *testing.T) {
	t.Parallel()

	var gotJob queue.Job
	var gotReason string
	admin := &stubQueueAdmin{
		moveFn: func(ctx context.Context, job queue.Job, reason string) error {
			gotJob = job
			gotReason = reason
			return nil
		},
	}
	app := newQueueTestApp(t, admin, nil)

	reqBody := `{"job":{"id":"j5","queue":"message.dispatch","priority":"MEDIUM"},"reason":"stuck payload"}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/queues/message.dispatch/dlq", reqBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	if gotJob.ID != "j5" || gotReason != "stuck payload" {
		t.Fatalf("moved job=%s reason=%q, want j5 with reason", gotJob.ID, gotReason)
	}

	mismatched := `{"job":{"id":"j6","queue":"fallback.sms","priority":"MEDIUM"}}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/queues/message.dispatch/dlq", mismatched)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for queue mismatch", resp.StatusCode)
	}
}
