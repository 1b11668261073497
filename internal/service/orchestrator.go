package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/audience"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/observability"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/repository"
)

const defaultOrchestratorBatchSize = 100

// Orchestrator expands a campaign into individual dispatch jobs: it
// activates due campaigns, renders the template per recipient, creates
// messages in fixed-size batches and paces enqueueing against the
// campaign rate limit.
type Orchestrator struct {
	uow       repository.UnitOfWork
	publisher queue.Publisher
	resolver  audience.Resolver
	logger    *zap.Logger
	metrics   *observability.Metrics
	batchSize int
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	uow repository.UnitOfWork,
	publisher queue.Publisher,
	resolver audience.Resolver,
	batchSize int,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if uow == nil {
		return nil, fmt.Errorf("unit of work is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("audience resolver is required")
	}
	if batchSize < 1 {
		batchSize = defaultOrchestratorBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		uow:       uow,
		publisher: publisher,
		resolver:  resolver,
		logger:    logger,
		batchSize: batchSize,
		now:       time.Now,
		sleep:     sleepWithContext,
	}, nil
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// ProcessCampaignJob runs one orchestration pass for a campaign. It is a
// no-op unless the campaign is due SCHEDULED or ACTIVE.
func (o *Orchestrator) ProcessCampaignJob(ctx context.Context, campaignID string) error {
	campaign, tmpl, proceed, err := o.prepareCampaign(ctx, campaignID)
	if err != nil || !proceed {
		return err
	}

	recipients, err := o.resolver.Resolve(ctx, campaign.TenantID, campaign.AudienceIDs)
	if err != nil {
		return fmt.Errorf("failed to resolve audiences for campaign %s: %w", campaign.ID, err)
	}
	if len(recipients) == 0 {
		o.logger.Warn("campaign resolved to zero recipients",
			zap.String("campaignId", campaign.ID),
		)
	}

	createdTotal := 0
	skippedTotal := 0
	for start := 0; start < len(recipients); start += o.batchSize {
		end := min(start+o.batchSize, len(recipients))

		created, skipped, err := o.createBatch(ctx, campaign, tmpl, recipients[start:end])
		if err != nil {
			return err
		}
		createdTotal += created
		skippedTotal += skipped

		if end < len(recipients) {
			if err := o.paceBatches(ctx, campaign.RateLimit, end-start); err != nil {
				return err
			}
		}
	}

	if err := o.finalizeRecipientCount(ctx, campaign.ID, createdTotal); err != nil {
		return err
	}

	o.logger.Info("campaign orchestrated",
		zap.String("campaignId", campaign.ID),
		zap.Int("created", createdTotal),
		zap.Int("skipped", skippedTotal),
	)
	return nil
}

// prepareCampaign loads the campaign and, when it is a due SCHEDULED
// one, activates it in the same transaction. proceed is false when the
// job should be acked without orchestration.
func (o *Orchestrator) prepareCampaign(ctx context.Context, campaignID string) (*domain.Campaign, *domain.Template, bool, error) {
	var campaign *domain.Campaign
	var tmpl *domain.Template
	proceed := false

	err := o.uow.Do(ctx, func(r repository.Repositories) error {
		var err error
		campaign, err = r.Campaigns.GetByID(ctx, campaignID)
		if errors.Is(err, domain.ErrNotFound) {
			o.logger.Warn("campaign not found during orchestration, skipping",
				zap.String("campaignId", campaignID),
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load campaign: %w", err)
		}

		now := o.now().UTC()

		switch campaign.Status {
		case domain.CampaignActive:
		case domain.CampaignScheduled:
			if !campaign.IsDue(now) {
				// Delivered early; nothing to do until the delay queue
				// re-delivers at the scheduled time.
				o.logger.Info("campaign not yet due, skipping",
					zap.String("campaignId", campaign.ID),
				)
				return nil
			}
			events, err := campaign.Activate(now)
			if err != nil {
				return fmt.Errorf("failed to activate due campaign: %w", err)
			}
			if err := r.Campaigns.Save(ctx, campaign); err != nil {
				return fmt.Errorf("failed to save activated campaign: %w", err)
			}
			if err := r.Events.Append(ctx, events); err != nil {
				return err
			}
		default:
			o.logger.Info("campaign not orchestrable in current status, skipping",
				zap.String("campaignId", campaign.ID),
				zap.String("status", campaign.Status.String()),
			)
			return nil
		}

		if campaign.TemplateID == "" {
			return fmt.Errorf("%w: campaign %s has no template", domain.ErrValidation, campaign.ID)
		}
		tmpl, err = r.Templates.GetByID(ctx, campaign.TemplateID)
		if err != nil {
			return fmt.Errorf("failed to load template %s: %w", campaign.TemplateID, err)
		}
		if !tmpl.IsApproved() {
			return fmt.Errorf("%w: template %s is not approved", domain.ErrValidation, campaign.TemplateID)
		}

		proceed = true
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}

	return campaign, tmpl, proceed, nil
}

// createBatch renders, filters and persists one recipient batch, then
// enqueues a dispatch job per created message at campaign priority.
func (o *Orchestrator) createBatch(
	ctx context.Context,
	campaign *domain.Campaign,
	tmpl *domain.Template,
	recipients []audience.Recipient,
) (int, int, error) {
	var created []*domain.Message
	skipped := 0

	err := o.uow.Do(ctx, func(r repository.Repositories) error {
		created = created[:0]
		skipped = 0

		phones := make([]string, 0, len(recipients))
		for _, rec := range recipients {
			phones = append(phones, rec.Phone)
		}
		optedOut, err := r.OptOuts.FilterOptedOut(ctx, campaign.TenantID, phones)
		if err != nil {
			return fmt.Errorf("failed to filter opted-out recipients: %w", err)
		}

		now := o.now()
		for _, rec := range recipients {
			if optedOut[rec.Phone] {
				skipped++
				continue
			}

			content := tmpl.Render(rec.Vars)
			m, err := domain.NewMessage(
				uuid.NewString(),
				campaign.ID,
				campaign.TenantID,
				rec.Phone,
				content,
				campaign.Priority,
				campaign.EnableFallback,
				now,
			)
			if err != nil {
				skipped++
				o.logger.Warn("recipient rejected during message creation",
					zap.String("campaignId", campaign.ID),
					zap.Error(err),
				)
				continue
			}
			created = append(created, m)
		}

		if len(created) > 0 {
			if err := r.Messages.CreateBatch(ctx, created); err != nil {
				return fmt.Errorf("failed to create message batch: %w", err)
			}
		}
		if skipped > 0 {
			if err := r.Campaigns.IncrementStats(ctx, campaign.ID, repository.StatsDelta{OptOuts: skipped}); err != nil {
				return fmt.Errorf("failed to record opt-out stats: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	if len(created) == 0 {
		return 0, skipped, nil
	}

	jobs := make([]queue.Job, 0, len(created))
	for _, m := range created {
		job, err := queue.NewJob(queue.QueueDispatch, DispatchJob{MessageID: m.ID}, campaign.Priority)
		if err != nil {
			return 0, 0, err
		}
		jobs = append(jobs, job)
	}
	if err := o.publisher.EnqueueBatch(ctx, jobs); err != nil {
		return 0, 0, fmt.Errorf("failed to enqueue dispatch jobs: %w", err)
	}

	return len(created), skipped, nil
}

// paceBatches approximates the campaign send rate by sleeping
// batch/rate seconds between batches. Best effort, not a hard SLA.
func (o *Orchestrator) paceBatches(ctx context.Context, rateLimit, batchSize int) error {
	if rateLimit <= 0 {
		return nil
	}
	delay := time.Duration(float64(batchSize) / float64(rateLimit) * float64(time.Second))
	if delay <= 0 {
		return nil
	}
	return o.sleep(ctx, delay)
}

func (o *Orchestrator) finalizeRecipientCount(ctx context.Context, campaignID string, created int) error {
	return o.uow.Do(ctx, func(r repository.Repositories) error {
		campaign, err := r.Campaigns.GetByID(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("failed to reload campaign: %w", err)
		}

		campaign.RecipientCount = created
		campaign.Stats.TotalRecipients = created
		campaign.UpdatedAt = o.now().UTC()
		if err := r.Campaigns.Save(ctx, campaign); err != nil {
			return fmt.Errorf("failed to save recipient count: %w", err)
		}
		return nil
	})
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
