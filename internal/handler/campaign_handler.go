package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/service"
)

type CampaignService interface {
	Create(ctx context.Context, input service.CreateCampaignInput) (*domain.Campaign, error)
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error)
	Activate(ctx context.Context, id string) (*domain.Campaign, error)
	Pause(ctx context.Context, id string) (*domain.Campaign, error)
	Resume(ctx context.Context, id string) (*domain.Campaign, error)
	Complete(ctx context.Context, id string) (*domain.Campaign, error)
	Cancel(ctx context.Context, id, reason string) (*domain.Campaign, error)
	AddAudience(ctx context.Context, id, audienceID string, recipientCount int) (*domain.Campaign, error)
	Events(ctx context.Context, id string) ([]domain.Event, error)
}

type CampaignHandler struct {
	service CampaignService
}

func NewCampaignHandler(service CampaignService) (*CampaignHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	return &CampaignHandler{service: service}, nil
}

func RegisterCampaignRoutes(router fiber.Router, service CampaignService) error {
	h, err := NewCampaignHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns", h.CreateCampaign)
	v1.Get("/campaigns/:id", h.GetCampaign)
	v1.Get("/campaigns/:id/events", h.GetCampaignEvents)
	v1.Post("/campaigns/:id/schedule", h.ScheduleCampaign)
	v1.Post("/campaigns/:id/activate", h.ActivateCampaign)
	v1.Post("/campaigns/:id/pause", h.PauseCampaign)
	v1.Post("/campaigns/:id/resume", h.ResumeCampaign)
	v1.Post("/campaigns/:id/complete", h.CompleteCampaign)
	v1.Post("/campaigns/:id/cancel", h.CancelCampaign)
	v1.Post("/campaigns/:id/audiences", h.AddAudience)

	return nil
}

type createCampaignRequest struct {
	TenantID       string            `json:"tenantId"`
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	Priority       string            `json:"priority"`
	TemplateID     string            `json:"templateId"`
	EnableFallback *bool             `json:"enableFallback,omitempty"`
	RateLimit      int               `json:"rateLimit,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type scheduleCampaignRequest struct {
	ScheduledFor string `json:"scheduledFor"`
}

type cancelCampaignRequest struct {
	Reason string `json:"reason"`
}

type addAudienceRequest struct {
	AudienceID     string `json:"audienceId"`
	RecipientCount int    `json:"recipientCount"`
}

type campaignStatsResponse struct {
	TotalRecipients   int     `json:"totalRecipients"`
	MessagesSent      int     `json:"messagesSent"`
	MessagesDelivered int     `json:"messagesDelivered"`
	MessagesFailed    int     `json:"messagesFailed"`
	MessagesRead      int     `json:"messagesRead"`
	FallbackTriggered int     `json:"fallbackTriggered"`
	OptOuts           int     `json:"optOuts"`
	DeliveryRate      float64 `json:"deliveryRate"`
	ReadRate          float64 `json:"readRate"`
}

type campaignResponse struct {
	ID             string                `json:"id"`
	TenantID       string                `json:"tenantId"`
	Name           string                `json:"name"`
	Type           string                `json:"type"`
	Status         string                `json:"status"`
	Priority       string                `json:"priority"`
	TemplateID     string                `json:"templateId,omitempty"`
	ScheduledFor   *time.Time            `json:"scheduledFor,omitempty"`
	EnableFallback bool                  `json:"enableFallback"`
	RateLimit      int                   `json:"rateLimit,omitempty"`
	AudienceIDs    []string              `json:"audienceIds,omitempty"`
	RecipientCount int                   `json:"recipientCount"`
	Stats          campaignStatsResponse `json:"stats"`
	Tags           []string              `json:"tags,omitempty"`
	Metadata       map[string]string     `json:"metadata,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

type campaignEventResponse struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregateId"`
	Version     int            `json:"version"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Data        map[string]any `json:"data,omitempty"`
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	campaignType, err := domain.ParseCampaignTypeFromString(req.Type)
	if err != nil {
		return toHTTPError(err)
	}
	priority, err := domain.ParsePriorityFromString(req.Priority)
	if err != nil {
		return toHTTPError(err)
	}

	campaign, err := h.service.Create(c.Context(), service.CreateCampaignInput{
		TenantID:       strings.TrimSpace(req.TenantID),
		Name:           strings.TrimSpace(req.Name),
		Type:           campaignType,
		Priority:       priority,
		TemplateID:     strings.TrimSpace(req.TemplateID),
		EnableFallback: req.EnableFallback,
		RateLimit:      req.RateLimit,
		Tags:           req.Tags,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	campaign, err := h.service.GetByID(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) GetCampaignEvents(c *fiber.Ctx) error {
	events, err := h.service.Events(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]campaignEventResponse, 0, len(events))
	for _, event := range events {
		responses = append(responses, campaignEventResponse{
			ID:          event.ID,
			Type:        event.Type,
			AggregateID: event.AggregateID,
			Version:     event.Version,
			OccurredAt:  event.OccurredAt,
			Data:        event.Data,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *CampaignHandler) ScheduleCampaign(c *fiber.Ctx) error {
	var req scheduleCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledFor))
	if err != nil {
		return toHTTPError(fmt.Errorf("%w: scheduledFor must be RFC3339", domain.ErrValidation))
	}

	campaign, err := h.service.Schedule(c.Context(), strings.TrimSpace(c.Params("id")), at)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) ActivateCampaign(c *fiber.Ctx) error {
	return h.transition(c, h.service.Activate)
}

func (h *CampaignHandler) PauseCampaign(c *fiber.Ctx) error {
	return h.transition(c, h.service.Pause)
}

func (h *CampaignHandler) ResumeCampaign(c *fiber.Ctx) error {
	return h.transition(c, h.service.Resume)
}

func (h *CampaignHandler) CompleteCampaign(c *fiber.Ctx) error {
	return h.transition(c, h.service.Complete)
}

func (h *CampaignHandler) CancelCampaign(c *fiber.Ctx) error {
	var req cancelCampaignRequest
	if err := c.BodyParser(&req); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	campaign, err := h.service.Cancel(c.Context(), strings.TrimSpace(c.Params("id")), strings.TrimSpace(req.Reason))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) AddAudience(c *fiber.Ctx) error {
	var req addAudienceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	campaign, err := h.service.AddAudience(
		c.Context(),
		strings.TrimSpace(c.Params("id")),
		strings.TrimSpace(req.AudienceID),
		req.RecipientCount,
	)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) transition(c *fiber.Ctx, op func(ctx context.Context, id string) (*domain.Campaign, error)) error {
	campaign, err := op(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func toCampaignResponse(campaign *domain.Campaign) campaignResponse {
	if campaign == nil {
		return campaignResponse{}
	}

	return campaignResponse{
		ID:             campaign.ID,
		TenantID:       campaign.TenantID,
		Name:           campaign.Name,
		Type:           campaign.Type.String(),
		Status:         campaign.Status.String(),
		Priority:       campaign.Priority.String(),
		TemplateID:     campaign.TemplateID,
		ScheduledFor:   campaign.ScheduledFor,
		EnableFallback: campaign.EnableFallback,
		RateLimit:      campaign.RateLimit,
		AudienceIDs:    campaign.AudienceIDs,
		RecipientCount: campaign.RecipientCount,
		Stats: campaignStatsResponse{
			TotalRecipients:   campaign.Stats.TotalRecipients,
			MessagesSent:      campaign.Stats.MessagesSent,
			MessagesDelivered: campaign.Stats.MessagesDelivered,
			MessagesFailed:    campaign.Stats.MessagesFailed,
			MessagesRead:      campaign.Stats.MessagesRead,
			FallbackTriggered: campaign.Stats.FallbackTriggered,
			OptOuts:           campaign.Stats.OptOuts,
			DeliveryRate:      campaign.Stats.DeliveryRate(),
			ReadRate:          campaign.Stats.ReadRate(),
		},
		Tags:      campaign.Tags,
		Metadata:  campaign.Metadata,
		CreatedAt: campaign.CreatedAt,
		UpdatedAt: campaign.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}
