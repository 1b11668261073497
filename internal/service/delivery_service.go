package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/aggregator"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/observability"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/ratelimit"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/repository"
)

// DeliveryService owns every message state transition: capability check,
// aggregator send, retry, fallback and webhook status application. Workers
// never mutate messages directly.
type DeliveryService struct {
	uow        repository.UnitOfWork
	publisher  queue.Publisher
	aggregator aggregator.Aggregator
	limiter    ratelimit.RateLimiter
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// followUp is a job produced by a delivery decision, published only after
// the surrounding transaction committed.
type followUp struct {
	job   queue.Job
	delay time.Duration
}

func NewDeliveryService(
	uow repository.UnitOfWork,
	publisher queue.Publisher,
	agg aggregator.Aggregator,
	limiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*DeliveryService, error) {
	if uow == nil {
		return nil, fmt.Errorf("unit of work is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if agg == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryService{
		uow:        uow,
		publisher:  publisher,
		aggregator: agg,
		limiter:    limiter,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *DeliveryService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SendMessage creates and enqueues one message. Opted-out recipients are
// rejected before the message exists.
func (s *DeliveryService) SendMessage(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}

	var created *domain.Message
	err := s.uow.Do(ctx, func(r repository.Repositories) error {
		optedOut, err := r.OptOuts.IsOptedOut(ctx, m.TenantID, m.RecipientPhone)
		if err != nil {
			return fmt.Errorf("failed to check opt-out: %w", err)
		}
		if optedOut {
			return fmt.Errorf("%w: recipient %s is opted out", domain.ErrValidation, m.RecipientPhone)
		}

		if err := r.Messages.Create(ctx, m); err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	job, err := queue.NewJob(queue.QueueDispatch, DispatchJob{MessageID: created.ID}, created.Priority)
	if err != nil {
		return nil, err
	}
	if err := s.publisher.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue dispatch job: %w", err)
	}

	return created, nil
}

// SendMessageBatch creates and enqueues many messages, skipping opted-out
// recipients. It returns the created messages and the skip count.
func (s *DeliveryService) SendMessageBatch(ctx context.Context, campaignID string, messages []*domain.Message) ([]*domain.Message, int, error) {
	if len(messages) == 0 {
		return nil, 0, nil
	}

	var created []*domain.Message
	skipped := 0

	err := s.uow.Do(ctx, func(r repository.Repositories) error {
		phones := make([]string, 0, len(messages))
		for _, m := range messages {
			phones = append(phones, m.RecipientPhone)
		}

		optedOut, err := r.OptOuts.FilterOptedOut(ctx, messages[0].TenantID, phones)
		if err != nil {
			return fmt.Errorf("failed to filter opted-out recipients: %w", err)
		}

		created = created[:0]
		skipped = 0
		for _, m := range messages {
			if optedOut[m.RecipientPhone] {
				skipped++
				continue
			}
			created = append(created, m)
		}

		if len(created) > 0 {
			if err := r.Messages.CreateBatch(ctx, created); err != nil {
				return fmt.Errorf("failed to create message batch: %w", err)
			}
		}

		if skipped > 0 && campaignID != "" {
			if err := r.Campaigns.IncrementStats(ctx, campaignID, repository.StatsDelta{OptOuts: skipped}); err != nil {
				return fmt.Errorf("failed to record opt-out stats: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if len(created) == 0 {
		return nil, skipped, nil
	}

	jobs := make([]queue.Job, 0, len(created))
	for _, m := range created {
		job, err := queue.NewJob(queue.QueueDispatch, DispatchJob{MessageID: m.ID}, m.Priority)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	if err := s.publisher.EnqueueBatch(ctx, jobs); err != nil {
		return nil, 0, fmt.Errorf("failed to enqueue dispatch jobs: %w", err)
	}

	return created, skipped, nil
}

func (s *DeliveryService) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}

	var m *domain.Message
	err := s.uow.Do(ctx, func(r repository.Repositories) error {
		var err error
		m, err = r.Messages.GetByID(ctx, strings.TrimSpace(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *DeliveryService) ListMessages(ctx context.Context, params repository.MessageListParams) ([]domain.Message, int64, error) {
	var messages []domain.Message
	var total int64

	err := s.uow.Do(ctx, func(r repository.Repositories) error {
		var err error
		messages, total, err = r.Messages.List(ctx, params)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// ProcessMessageDelivery runs one delivery attempt: capability check for
// RCS, aggregator send, and the retry/fallback decision on failure. All
// state mutation happens in one transaction; follow-up jobs are published
// after commit.
func (s *DeliveryService) ProcessMessageDelivery(ctx context.Context, messageID string) error {
	var followUps []followUp

	err := s.uow.Do(ctx, func(r repository.Repositories) error {
		followUps = followUps[:0]

		m, err := r.Messages.LockForProcessing(ctx, messageID)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("message not found during dispatch, skipping",
				zap.String("messageId", messageID),
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock message: %w", err)
		}

		now := s.now().UTC()

		// Redeliveries of an already-handled job are acked without a
		// second send.
		switch m.Status {
		case domain.StatusSent, domain.StatusDelivered, domain.StatusRead,
			domain.StatusFallbackSent, domain.StatusFallbackDelivered, domain.StatusExpired:
			return nil
		}

		if m.IsExpired(now) {
			if err := m.MarkExpired(now); err != nil {
				return nil
			}
			if err := r.Messages.Save(ctx, m); err != nil {
				return fmt.Errorf("failed to save expired message: %w", err)
			}
			return nil
		}

		if m.Channel == domain.ChannelRCS {
			capable, err := s.recipientSupportsRCS(ctx, m.RecipientPhone)
			if err != nil {
				s.logger.Warn("capability check failed, treating recipient as not RCS capable",
					zap.String("messageId", m.ID),
					zap.Error(err),
				)
			}
			if !capable {
				m.MarkFailed(domain.FailureRCSNotSupported, "rcs_not_supported", "recipient is not RCS capable", now)
				return s.settleCapabilityMismatch(ctx, r, m, now, &followUps)
			}
		}

		if m.Status == domain.StatusPending {
			if err := m.Queue(now); err != nil {
				return fmt.Errorf("failed to queue message: %w", err)
			}
		}

		return s.attemptSend(ctx, r, m, queue.QueueDispatch, &followUps)
	})
	if err != nil {
		return err
	}

	return s.publishFollowUps(ctx, followUps)
}

// ProcessFallback sends the SMS leg of a fallback message. Capability is
// not checked; fallback is unconditional.
func (s *DeliveryService) ProcessFallback(ctx context.Context, messageID string) error {
	var followUps []followUp

	err := s.uow.Do(ctx, func(r repository.Repositories) error {
		followUps = followUps[:0]

		m, err := r.Messages.LockForProcessing(ctx, messageID)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("message not found during fallback, skipping",
				zap.String("messageId", messageID),
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock message: %w", err)
		}

		now := s.now().UTC()

		if m.Status.IsTerminal() || m.Status == domain.StatusFallbackSent {
			return nil
		}
		if m.IsExpired(now) {
			if err := m.MarkExpired(now); err != nil {
				return nil
			}
			if err := r.Messages.Save(ctx, m); err != nil {
				return fmt.Errorf("failed to save expired message: %w", err)
			}
			return nil
		}

		if !m.FallbackTriggered {
			if !m.ShouldFallbackToSMS() {
				s.logger.Warn("fallback job for message that is not fallback eligible, skipping",
					zap.String("messageId", m.ID),
					zap.String("status", m.Status.String()),
				)
				return nil
			}
			if err := m.TriggerFallback(now); err != nil {
				return fmt.Errorf("failed to trigger fallback: %w", err)
			}
			if err := r.Campaigns.IncrementStats(ctx, m.CampaignID, repository.StatsDelta{FallbackTriggered: 1}); err != nil {
				return fmt.Errorf("failed to record fallback stats: %w", err)
			}
		}

		if m.Status == domain.StatusPending {
			if err := m.Queue(now); err != nil {
				return fmt.Errorf("failed to queue fallback message: %w", err)
			}
		}

		return s.attemptSend(ctx, r, m, queue.QueueFallback, &followUps)
	})
	if err != nil {
		return err
	}

	return s.publishFollowUps(ctx, followUps)
}

// HandleDeliveryStatusUpdate applies a vendor status report correlated by
// external ID. Unknown external IDs are logged and dropped since a webhook
// can race message creation.
func (s *DeliveryService) HandleDeliveryStatusUpdate(ctx context.Context, update aggregator.StatusUpdate) error {
	var followUps []followUp

	err := s.uow.Do(ctx, func(r repository.Repositories) error {
		followUps = followUps[:0]

		m, err := r.Messages.GetByExternalID(ctx, update.ExternalID)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("status update for unknown external id, dropping",
				zap.String("externalId", update.ExternalID),
				zap.String("state", update.State),
			)
			if s.metrics != nil {
				s.metrics.IncWebhookEvent("unknown_external_id")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load message by external id: %w", err)
		}

		now := s.now().UTC()

		switch update.State {
		case aggregator.StateDelivered:
			var markErr error
			if m.Status == domain.StatusFallbackSent {
				markErr = m.MarkFallbackDelivered(now)
			} else {
				markErr = m.MarkDelivered(now)
			}
			if markErr != nil {
				s.logger.Info("delivery receipt ignored for current status",
					zap.String("messageId", m.ID),
					zap.String("status", m.Status.String()),
				)
				return nil
			}
			if err := r.Messages.Save(ctx, m); err != nil {
				return fmt.Errorf("failed to save delivered message: %w", err)
			}
			if s.metrics != nil {
				s.metrics.IncWebhookEvent(aggregator.StateDelivered)
			}
			return r.Campaigns.IncrementStats(ctx, m.CampaignID, repository.StatsDelta{Delivered: 1})

		case aggregator.StateRead:
			before := m.Status
			if err := m.MarkRead(now); err != nil {
				s.logger.Info("read receipt ignored for current status",
					zap.String("messageId", m.ID),
					zap.String("status", m.Status.String()),
				)
				return nil
			}
			if m.Status == before {
				return nil
			}
			if err := r.Messages.Save(ctx, m); err != nil {
				return fmt.Errorf("failed to save read message: %w", err)
			}
			if s.metrics != nil {
				s.metrics.IncWebhookEvent(aggregator.StateRead)
			}
			return r.Campaigns.IncrementStats(ctx, m.CampaignID, repository.StatsDelta{Read: 1})

		case aggregator.StateSent:
			// The local send path already recorded the handoff.
			return nil

		case aggregator.StateFailed:
			if m.Status.IsTerminal() {
				return nil
			}
			reason := classifyWebhookFailure(update.ErrorCode)
			m.MarkFailed(reason, update.ErrorCode, update.ErrorMessage, now)
			if s.metrics != nil {
				s.metrics.IncWebhookEvent(aggregator.StateFailed)
			}
			return s.settleSendFailure(ctx, r, m, now, queue.QueueDispatch, &followUps)

		default:
			s.logger.Warn("unknown delivery state, dropping",
				zap.String("externalId", update.ExternalID),
				zap.String("state", update.State),
			)
			return nil
		}
	})
	if err != nil {
		return err
	}

	return s.publishFollowUps(ctx, followUps)
}

// attemptSend performs the aggregator call for a QUEUED message and
// settles the outcome. originQueue is where rate-limit and retry
// follow-ups are republished.
func (s *DeliveryService) attemptSend(
	ctx context.Context,
	r repository.Repositories,
	m *domain.Message,
	originQueue string,
	followUps *[]followUp,
) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, m.TenantID); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	req := aggregator.SendRequest{
		MessageID:      m.ID,
		RecipientPhone: m.RecipientPhone,
		Text:           m.Content.Text,
		RichCard:       m.Content.RichCard,
		Suggestions:    m.Content.Suggestions,
	}

	sendStart := s.now()
	var resp *aggregator.SendResponse
	var sendErr error
	if m.Channel == domain.ChannelSMS {
		resp, sendErr = s.aggregator.SendSMS(ctx, req)
	} else {
		resp, sendErr = s.aggregator.SendRCS(ctx, req)
	}
	channelName := strings.ToLower(m.Channel.String())
	if s.metrics != nil {
		s.metrics.ObserveSendDuration(channelName, s.now().Sub(sendStart))
	}

	now := s.now().UTC()

	// Vendor throttling parks the job for the vendor-specified delay
	// without consuming a retry.
	if sendErr != nil && aggregator.IsRateLimited(sendErr) {
		if err := r.Messages.Save(ctx, m); err != nil {
			return fmt.Errorf("failed to save rate-limited message: %w", err)
		}
		if err := s.addDispatchFollowUp(m, originQueue, aggregator.RetryAfter(sendErr), followUps); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.IncRetryScheduled(channelName)
		}
		return nil
	}

	if sendErr == nil && resp != nil && resp.Success {
		var markErr error
		if m.FallbackTriggered && m.Channel == domain.ChannelSMS {
			markErr = m.MarkFallbackSent(s.aggregator.Name(), resp.ExternalID, now)
		} else {
			markErr = m.MarkSent(s.aggregator.Name(), resp.ExternalID, now)
		}
		if markErr != nil {
			return fmt.Errorf("failed to mark message sent: %w", markErr)
		}
		if err := r.Messages.Save(ctx, m); err != nil {
			return fmt.Errorf("failed to save sent message: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncMessageSent(channelName)
		}
		return r.Campaigns.IncrementStats(ctx, m.CampaignID, repository.StatsDelta{Sent: 1})
	}

	reason, code, message := classifySendFailure(resp, sendErr)
	m.MarkFailed(reason, code, message, now)
	return s.settleSendFailure(ctx, r, m, now, originQueue, followUps)
}

// settleSendFailure applies the retry > fallback > terminal decision
// tree for a FAILED message.
func (s *DeliveryService) settleSendFailure(
	ctx context.Context,
	r repository.Repositories,
	m *domain.Message,
	now time.Time,
	originQueue string,
	followUps *[]followUp,
) error {
	switch {
	case m.ShouldRetry(now):
		m.IncrementRetry(now)
		if err := r.Messages.Save(ctx, m); err != nil {
			return fmt.Errorf("failed to save message for retry: %w", err)
		}
		if err := s.addDispatchFollowUp(m, originQueue, 0, followUps); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.IncRetryScheduled(strings.ToLower(m.Channel.String()))
		}
		return nil

	case m.ShouldFallbackToSMS():
		return s.routeToFallback(ctx, r, m, now, followUps)

	default:
		return s.settleTerminalFailure(ctx, r, m)
	}
}

// settleCapabilityMismatch routes straight to fallback or terminal
// failure. A recipient without RCS support is never retried on RCS.
func (s *DeliveryService) settleCapabilityMismatch(
	ctx context.Context,
	r repository.Repositories,
	m *domain.Message,
	now time.Time,
	followUps *[]followUp,
) error {
	if m.ShouldFallbackToSMS() {
		return s.routeToFallback(ctx, r, m, now, followUps)
	}
	return s.settleTerminalFailure(ctx, r, m)
}

func (s *DeliveryService) routeToFallback(
	ctx context.Context,
	r repository.Repositories,
	m *domain.Message,
	now time.Time,
	followUps *[]followUp,
) error {
	reason := m.FailureReason

	if err := m.TriggerFallback(now); err != nil {
		return fmt.Errorf("failed to trigger fallback: %w", err)
	}
	if err := r.Messages.Save(ctx, m); err != nil {
		return fmt.Errorf("failed to save fallback message: %w", err)
	}
	if err := r.Campaigns.IncrementStats(ctx, m.CampaignID, repository.StatsDelta{FallbackTriggered: 1}); err != nil {
		return fmt.Errorf("failed to record fallback stats: %w", err)
	}

	job, err := queue.NewJob(queue.QueueFallback, FallbackJob{MessageID: m.ID}, m.Priority)
	if err != nil {
		return err
	}
	*followUps = append(*followUps, followUp{job: job})

	if s.metrics != nil {
		s.metrics.IncFallbackTriggered(strings.ToLower(reason.String()))
	}
	return nil
}

func (s *DeliveryService) settleTerminalFailure(ctx context.Context, r repository.Repositories, m *domain.Message) error {
	if err := r.Messages.Save(ctx, m); err != nil {
		return fmt.Errorf("failed to save failed message: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncMessageFailed(strings.ToLower(m.Channel.String()), strings.ToLower(m.FailureReason.String()))
	}
	s.logger.Info("message terminally failed",
		zap.String("messageId", m.ID),
		zap.String("reason", m.FailureReason.String()),
	)
	return r.Campaigns.IncrementStats(ctx, m.CampaignID, repository.StatsDelta{Failed: 1})
}

func (s *DeliveryService) addDispatchFollowUp(m *domain.Message, originQueue string, delay time.Duration, followUps *[]followUp) error {
	payload := any(DispatchJob{MessageID: m.ID})
	if originQueue == queue.QueueFallback {
		payload = FallbackJob{MessageID: m.ID}
	}

	job, err := queue.NewJob(originQueue, payload, m.Priority)
	if err != nil {
		return err
	}
	*followUps = append(*followUps, followUp{job: job, delay: delay})
	return nil
}

func (s *DeliveryService) publishFollowUps(ctx context.Context, followUps []followUp) error {
	for _, f := range followUps {
		var err error
		if f.delay > 0 {
			err = s.publisher.Schedule(ctx, f.job, f.delay)
		} else {
			err = s.publisher.Enqueue(ctx, f.job)
		}
		if err != nil {
			return fmt.Errorf("failed to publish follow-up job: %w", err)
		}
	}
	return nil
}

func (s *DeliveryService) recipientSupportsRCS(ctx context.Context, phone string) (bool, error) {
	caps, err := s.aggregator.CheckCapability(ctx, []string{phone})
	if err != nil {
		return false, err
	}
	if len(caps) == 0 {
		return false, nil
	}
	for _, c := range caps {
		if c.Phone == phone {
			return c.RCSEnabled, nil
		}
	}
	return caps[0].RCSEnabled, nil
}

// NewOutboundMessage builds a PENDING message with a fresh ID.
func NewOutboundMessage(campaignID, tenantID, phone string, content domain.MessageContent, priority domain.Priority, fallbackEnabled bool, now time.Time) (*domain.Message, error) {
	return domain.NewMessage(uuid.NewString(), campaignID, tenantID, phone, content, priority, fallbackEnabled, now)
}

func classifySendFailure(resp *aggregator.SendResponse, err error) (domain.FailureReason, string, string) {
	code := ""
	message := ""
	if resp != nil {
		code = resp.ErrorCode
		message = resp.ErrorMessage
	}

	var vendorErr *aggregator.VendorError
	if errors.As(err, &vendorErr) {
		if code == "" {
			code = vendorErr.Code
		}
		if message == "" {
			message = vendorErr.Message
		}
	}

	if err != nil && aggregator.IsTransient(err) {
		if message == "" {
			message = err.Error()
		}
		return domain.FailureNetworkError, code, message
	}

	if reason, ok := failureReasonFromCode(code); ok {
		return reason, code, message
	}

	if err != nil {
		if message == "" {
			message = err.Error()
		}
		return domain.FailureUnknown, code, message
	}
	return domain.FailureUnknown, code, message
}

func classifyWebhookFailure(code string) domain.FailureReason {
	if reason, ok := failureReasonFromCode(code); ok {
		return reason
	}
	return domain.FailureUnknown
}

func failureReasonFromCode(code string) (domain.FailureReason, bool) {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "invalid_number", "invalid_destination":
		return domain.FailureInvalidNumber, true
	case "blocked", "user_blocked", "spam_blocked":
		return domain.FailureBlocked, true
	case "rcs_not_supported", "capability_unsupported":
		return domain.FailureRCSNotSupported, true
	case "rate_limited", "throttled":
		return domain.FailureRateLimited, true
	case "network_error", "timeout":
		return domain.FailureNetworkError, true
	}
	return "", false
}
