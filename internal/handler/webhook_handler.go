package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/service"
)

// WebhookHandler accepts raw vendor callbacks and parks them on the
// webhook queue. Verification and parsing happen in the webhook worker
// so the vendor gets its 202 fast.
type WebhookHandler struct {
	publisher queue.Publisher
}

func NewWebhookHandler(publisher queue.Publisher) (*WebhookHandler, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &WebhookHandler{publisher: publisher}, nil
}

func RegisterWebhookRoutes(router fiber.Router, publisher queue.Publisher) error {
	h, err := NewWebhookHandler(publisher)
	if err != nil {
		return err
	}

	router.Post("/webhooks/:aggregator", h.ReceiveWebhook)
	return nil
}

func (h *WebhookHandler) ReceiveWebhook(c *fiber.Ctx) error {
	vendor := strings.ToLower(strings.TrimSpace(c.Params("aggregator")))
	if vendor == "" {
		return fiber.NewError(fiber.StatusBadRequest, "aggregator is required")
	}

	body := c.Body()
	if len(body) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty webhook body")
	}

	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[strings.ToLower(key)] = values[0]
		}
	}

	webhookID := uuid.NewString()
	payload := service.WebhookJob{
		WebhookID:  webhookID,
		Aggregator: vendor,
		Payload:    append([]byte(nil), body...),
		Headers:    headers,
	}

	// Status updates jump the line ahead of new sends.
	job, err := queue.NewJob(queue.QueueWebhook, payload, domain.PriorityUrgent)
	if err != nil {
		return err
	}
	if err := h.publisher.Enqueue(c.Context(), job); err != nil {
		return fmt.Errorf("failed to enqueue webhook job: %w", err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"webhookId": webhookID,
		"status":    "accepted",
	})
}
