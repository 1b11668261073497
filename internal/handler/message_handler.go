package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/repository"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type MessageService interface {
	SendMessage(ctx context.Context, m *domain.Message) (*domain.Message, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	ListMessages(ctx context.Context, params repository.MessageListParams) ([]domain.Message, int64, error)
}

type MessageHandler struct {
	service MessageService
}

func NewMessageHandler(service MessageService) (*MessageHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("message service is required")
	}
	return &MessageHandler{service: service}, nil
}

func RegisterMessageRoutes(router fiber.Router, service MessageService) error {
	h, err := NewMessageHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/messages", h.SendMessage)
	v1.Get("/messages/:id", h.GetMessage)
	v1.Get("/messages", h.ListMessages)

	return nil
}

type sendMessageRequest struct {
	CampaignID      string                `json:"campaignId"`
	TenantID        string                `json:"tenantId"`
	RecipientPhone  string                `json:"recipientPhone"`
	Content         domain.MessageContent `json:"content"`
	Priority        string                `json:"priority"`
	FallbackEnabled *bool                 `json:"fallbackEnabled,omitempty"`
}

type messageResponse struct {
	ID             string                `json:"id"`
	CampaignID     string                `json:"campaignId"`
	TenantID       string                `json:"tenantId"`
	RecipientPhone string                `json:"recipientPhone"`
	Content        domain.MessageContent `json:"content"`
	Channel        string                `json:"channel"`
	Status         string                `json:"status"`
	Priority       string                `json:"priority"`
	FailureReason  string                `json:"failureReason,omitempty"`
	RetryCount     int                   `json:"retryCount"`
	MaxRetries     int                   `json:"maxRetries"`
	Fallback       bool                  `json:"fallbackTriggered"`
	Aggregator     string                `json:"aggregator,omitempty"`
	ExternalID     string                `json:"externalId,omitempty"`
	QueuedAt       *time.Time            `json:"queuedAt,omitempty"`
	SentAt         *time.Time            `json:"sentAt,omitempty"`
	DeliveredAt    *time.Time            `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time            `json:"readAt,omitempty"`
	FailedAt       *time.Time            `json:"failedAt,omitempty"`
	ExpiresAt      time.Time             `json:"expiresAt"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

type listMessagesResponse struct {
	Data []messageResponse `json:"data"`
	Meta listMeta          `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	priority, err := domain.ParsePriorityFromString(req.Priority)
	if err != nil {
		return toHTTPError(err)
	}

	fallbackEnabled := true
	if req.FallbackEnabled != nil {
		fallbackEnabled = *req.FallbackEnabled
	}

	m, err := service.NewOutboundMessage(
		strings.TrimSpace(req.CampaignID),
		strings.TrimSpace(req.TenantID),
		strings.TrimSpace(req.RecipientPhone),
		req.Content,
		priority,
		fallbackEnabled,
		time.Now(),
	)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.SendMessage(c.Context(), m)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toMessageResponse(created))
}

func (h *MessageHandler) GetMessage(c *fiber.Ctx) error {
	m, err := h.service.GetMessage(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toMessageResponse(m))
}

func (h *MessageHandler) ListMessages(c *fiber.Ctx) error {
	params, err := parseMessageListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	messages, total, err := h.service.ListMessages(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]messageResponse, 0, len(messages))
	for _, message := range messages {
		m := message
		responses = append(responses, toMessageResponse(&m))
	}

	return c.Status(fiber.StatusOK).JSON(listMessagesResponse{
		Data: responses,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseMessageListParams(c *fiber.Ctx) (repository.MessageListParams, error) {
	params := repository.MessageListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.MessageListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.MessageListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if raw := strings.TrimSpace(c.Query("campaignId")); raw != "" {
		params.CampaignID = &raw
	}

	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseMessageStatusFromString(raw)
		if err != nil {
			return repository.MessageListParams{}, err
		}
		params.Status = &status
	}

	if raw := strings.TrimSpace(c.Query("channel")); raw != "" {
		channel, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return repository.MessageListParams{}, err
		}
		params.Channel = &channel
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.MessageListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.MessageListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toMessageResponse(m *domain.Message) messageResponse {
	if m == nil {
		return messageResponse{}
	}

	return messageResponse{
		ID:             m.ID,
		CampaignID:     m.CampaignID,
		TenantID:       m.TenantID,
		RecipientPhone: m.RecipientPhone,
		Content:        m.Content,
		Channel:        m.Channel.String(),
		Status:         m.Status.String(),
		Priority:       m.Priority.String(),
		FailureReason:  m.FailureReason.String(),
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		Fallback:       m.FallbackTriggered,
		Aggregator:     m.Aggregator,
		ExternalID:     m.ExternalID,
		QueuedAt:       m.QueuedAt,
		SentAt:         m.SentAt,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
		FailedAt:       m.FailedAt,
		ExpiresAt:      m.ExpiresAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
