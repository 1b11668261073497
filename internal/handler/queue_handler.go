package handler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/observability"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
)

const maxDLQPeek = 100

// QueueHandler exposes the operational queue surface: depth stats,
// purge, and DLQ inspection/requeue.
type QueueHandler struct {
	admin   queue.Admin
	metrics *observability.Metrics
}

func NewQueueHandler(admin queue.Admin, metrics *observability.Metrics) (*QueueHandler, error) {
	if admin == nil {
		return nil, fmt.Errorf("queue admin is required")
	}
	return &QueueHandler{admin: admin, metrics: metrics}, nil
}

func RegisterQueueRoutes(router fiber.Router, admin queue.Admin, metrics *observability.Metrics) error {
	h, err := NewQueueHandler(admin, metrics)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/queues", h.ListQueueStats)
	v1.Get("/queues/:name", h.GetQueueStats)
	v1.Post("/queues/:name/purge", h.PurgeQueue)
	v1.Get("/queues/:name/dlq", h.ListDLQJobs)
	v1.Post("/queues/:name/dlq", h.QuarantineJob)
	v1.Post("/queues/:name/dlq/:jobId/retry", h.RetryDLQJob)

	return nil
}

type quarantineRequest struct {
	Job    queue.Job `json:"job"`
	Reason string    `json:"reason"`
}

func (h *QueueHandler) ListQueueStats(c *fiber.Ctx) error {
	stats := make([]queue.Stats, 0, len(queue.WorkQueueNames()))
	for _, name := range queue.WorkQueueNames() {
		s, err := h.admin.Stats(c.Context(), name)
		if err != nil {
			return err
		}
		h.recordDepth(s)
		stats = append(stats, s)
	}

	return c.JSON(fiber.Map{"queues": stats})
}

func (h *QueueHandler) GetQueueStats(c *fiber.Ctx) error {
	name, err := queueName(c)
	if err != nil {
		return err
	}

	s, err := h.admin.Stats(c.Context(), name)
	if err != nil {
		return err
	}
	h.recordDepth(s)

	return c.JSON(s)
}

func (h *QueueHandler) PurgeQueue(c *fiber.Ctx) error {
	name, err := queueName(c)
	if err != nil {
		return err
	}

	purged, err := h.admin.Purge(c.Context(), name)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"queue":  name,
		"purged": purged,
	})
}

func (h *QueueHandler) ListDLQJobs(c *fiber.Ctx) error {
	name, err := queueName(c)
	if err != nil {
		return err
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxDLQPeek {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("limit must be 1..%d", maxDLQPeek))
		}
	}

	jobs, err := h.admin.DLQJobs(c.Context(), name, limit)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"queue": queue.DLQName(name),
		"jobs":  jobs,
	})
}

// QuarantineJob parks a job straight in the DLQ, bypassing its retry
// budget.
func (h *QueueHandler) QuarantineJob(c *fiber.Ctx) error {
	name, err := queueName(c)
	if err != nil {
		return err
	}

	var req quarantineRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Job.Queue == "" {
		req.Job.Queue = name
	}
	if req.Job.Queue != name {
		return fiber.NewError(fiber.StatusBadRequest, "job queue does not match route")
	}

	if err := h.admin.MoveToDLQ(c.Context(), req.Job, req.Reason); err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"jobId":  req.Job.ID,
		"queue":  queue.DLQName(name),
		"status": "quarantined",
	})
}

func (h *QueueHandler) RetryDLQJob(c *fiber.Ctx) error {
	name, err := queueName(c)
	if err != nil {
		return err
	}

	jobID := strings.TrimSpace(c.Params("jobId"))
	if jobID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "job id is required")
	}

	if err := h.admin.RetryDLQJob(c.Context(), name, jobID); err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"jobId":  jobID,
		"queue":  name,
		"status": "requeued",
	})
}

func (h *QueueHandler) recordDepth(s queue.Stats) {
	h.metrics.SetQueueDepth(s.Queue, s.Depth)
	h.metrics.SetQueueDepth(queue.DLQName(s.Queue), s.DLQDepth)
}

// queueName resolves the :name route param against the well-known work
// queues.
func queueName(c *fiber.Ctx) (string, error) {
	name := strings.TrimSpace(c.Params("name"))
	for _, known := range queue.WorkQueueNames() {
		if name == known {
			return name, nil
		}
	}
	return "", fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("unknown queue %q", name))
}
