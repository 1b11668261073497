package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/aggregator"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/service"
)

// DeliveryProcessor is the slice of the delivery service the queue
// workers need.
type DeliveryProcessor interface {
	ProcessMessageDelivery(ctx context.Context, messageID string) error
	ProcessFallback(ctx context.Context, messageID string) error
	HandleDeliveryStatusUpdate(ctx context.Context, update aggregator.StatusUpdate) error
}

// CampaignOrchestrator expands a campaign into dispatch jobs.
type CampaignOrchestrator interface {
	ProcessCampaignJob(ctx context.Context, campaignID string) error
}

// NewDispatcher consumes message.dispatch and runs one delivery attempt
// per job.
func NewDispatcher(consumer queue.Consumer, delivery DeliveryProcessor, concurrency int, logger *zap.Logger) (*Worker, error) {
	if delivery == nil {
		return nil, fmt.Errorf("delivery processor is required")
	}

	handler := func(ctx context.Context, job queue.Job) error {
		var payload service.DispatchJob
		if err := decodePayload(job, &payload); err != nil {
			logger.Warn("dropping malformed dispatch job", zap.String("jobId", job.ID), zap.Error(err))
			return nil
		}
		return delivery.ProcessMessageDelivery(ctx, payload.MessageID)
	}

	return newWorker("dispatcher", queue.QueueDispatch, concurrency, consumer, handler, logger)
}

// NewFallbackWorker consumes fallback.sms and sends the SMS leg.
func NewFallbackWorker(consumer queue.Consumer, delivery DeliveryProcessor, concurrency int, logger *zap.Logger) (*Worker, error) {
	if delivery == nil {
		return nil, fmt.Errorf("delivery processor is required")
	}

	handler := func(ctx context.Context, job queue.Job) error {
		var payload service.FallbackJob
		if err := decodePayload(job, &payload); err != nil {
			logger.Warn("dropping malformed fallback job", zap.String("jobId", job.ID), zap.Error(err))
			return nil
		}
		return delivery.ProcessFallback(ctx, payload.MessageID)
	}

	return newWorker("fallback", queue.QueueFallback, concurrency, consumer, handler, logger)
}

// NewOrchestratorWorker consumes campaign.orchestrate and expands each
// campaign into per-recipient dispatch jobs.
func NewOrchestratorWorker(consumer queue.Consumer, orchestrator CampaignOrchestrator, concurrency int, logger *zap.Logger) (*Worker, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	handler := func(ctx context.Context, job queue.Job) error {
		var payload service.OrchestrateJob
		if err := decodePayload(job, &payload); err != nil {
			logger.Warn("dropping malformed orchestrate job", zap.String("jobId", job.ID), zap.Error(err))
			return nil
		}
		return orchestrator.ProcessCampaignJob(ctx, payload.CampaignID)
	}

	return newWorker("orchestrator", queue.QueueOrchestrator, concurrency, consumer, handler, logger)
}

// NewWebhookWorker consumes webhook.process, verifies and parses each
// raw vendor callback, and applies the resulting status update. A
// callback that fails signature verification is poison and is acked
// away; redelivery cannot make it valid.
func NewWebhookWorker(consumer queue.Consumer, agg aggregator.Aggregator, delivery DeliveryProcessor, concurrency int, logger *zap.Logger) (*Worker, error) {
	if agg == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if delivery == nil {
		return nil, fmt.Errorf("delivery processor is required")
	}

	handler := func(ctx context.Context, job queue.Job) error {
		var payload service.WebhookJob
		if err := decodePayload(job, &payload); err != nil {
			logger.Warn("dropping malformed webhook job", zap.String("jobId", job.ID), zap.Error(err))
			return nil
		}

		update, err := agg.ParseWebhook(payload.Payload, payload.Headers)
		if err != nil {
			if errors.Is(err, aggregator.ErrInvalidSignature) {
				logger.Warn("dropping webhook with invalid signature",
					zap.String("webhookId", payload.WebhookID),
					zap.String("aggregator", payload.Aggregator),
				)
				return nil
			}
			logger.Warn("dropping unparseable webhook",
				zap.String("webhookId", payload.WebhookID),
				zap.String("aggregator", payload.Aggregator),
				zap.Error(err),
			)
			return nil
		}

		return delivery.HandleDeliveryStatusUpdate(ctx, *update)
	}

	return newWorker("webhook", queue.QueueWebhook, concurrency, consumer, handler, logger)
}
