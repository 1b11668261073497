package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/repository"
)

// CampaignService owns campaign lifecycle transitions. Every mutation
// persists the aggregate and its emitted events in one transaction.
type CampaignService struct {
	uow       repository.UnitOfWork
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// CreateCampaignInput carries the caller-provided campaign fields.
type CreateCampaignInput struct {
	TenantID       string
	Name           string
	Type           domain.CampaignType
	Priority       domain.Priority
	TemplateID     string
	EnableFallback *bool
	RateLimit      int
	Tags           []string
	Metadata       map[string]string
}

func NewCampaignService(
	uow repository.UnitOfWork,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*CampaignService, error) {
	if uow == nil {
		return nil, fmt.Errorf("unit of work is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		uow:       uow,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *CampaignService) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	campaign, events, err := domain.NewCampaign(
		uuid.NewString(),
		input.TenantID,
		input.Name,
		input.TemplateID,
		input.Type,
		input.Priority,
		s.now(),
	)
	if err != nil {
		return nil, err
	}

	if input.EnableFallback != nil {
		campaign.EnableFallback = *input.EnableFallback
	}
	if input.RateLimit < 0 {
		return nil, fmt.Errorf("%w: rate limit cannot be negative", domain.ErrValidation)
	}
	campaign.RateLimit = input.RateLimit
	campaign.Tags = input.Tags
	for k, v := range input.Metadata {
		campaign.Metadata[k] = v
	}

	err = s.uow.Do(ctx, func(r repository.Repositories) error {
		if campaign.TemplateID != "" {
			if _, err := r.Templates.GetByID(ctx, campaign.TemplateID); err != nil {
				return fmt.Errorf("failed to load template %s: %w", campaign.TemplateID, err)
			}
		}
		if err := r.Campaigns.Create(ctx, campaign); err != nil {
			return fmt.Errorf("failed to create campaign: %w", err)
		}
		return r.Events.Append(ctx, events)
	})
	if err != nil {
		return nil, err
	}

	return campaign, nil
}

func (s *CampaignService) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}

	var campaign *domain.Campaign
	err := s.uow.Do(ctx, func(r repository.Repositories) error {
		var err error
		campaign, err = r.Campaigns.GetByID(ctx, strings.TrimSpace(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// Schedule moves a campaign to SCHEDULED and parks an orchestration job
// on the broker until the scheduled time.
func (s *CampaignService) Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
	campaign, err := s.mutate(ctx, id, func(c *domain.Campaign) ([]domain.Event, error) {
		return c.Schedule(at, s.now())
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueueOrchestration(ctx, campaign, at.Sub(s.now())); err != nil {
		return nil, err
	}
	return campaign, nil
}

// Activate moves a campaign to ACTIVE and enqueues orchestration
// immediately. The referenced template must be approved.
func (s *CampaignService) Activate(ctx context.Context, id string) (*domain.Campaign, error) {
	campaign, err := s.mutateWith(ctx, id, func(r repository.Repositories, c *domain.Campaign) ([]domain.Event, error) {
		if c.TemplateID != "" {
			tmpl, err := r.Templates.GetByID(ctx, c.TemplateID)
			if err != nil {
				return nil, fmt.Errorf("failed to load template %s: %w", c.TemplateID, err)
			}
			if !tmpl.IsApproved() {
				return nil, fmt.Errorf("%w: template %s is not approved", domain.ErrValidation, c.TemplateID)
			}
		}
		return c.Activate(s.now())
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueueOrchestration(ctx, campaign, 0); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *CampaignService) Pause(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.mutate(ctx, id, func(c *domain.Campaign) ([]domain.Event, error) {
		return c.Pause(s.now())
	})
}

func (s *CampaignService) Resume(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.mutate(ctx, id, func(c *domain.Campaign) ([]domain.Event, error) {
		return c.Resume(s.now())
	})
}

func (s *CampaignService) Complete(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.mutate(ctx, id, func(c *domain.Campaign) ([]domain.Event, error) {
		return c.Complete(s.now())
	})
}

func (s *CampaignService) Cancel(ctx context.Context, id, reason string) (*domain.Campaign, error) {
	return s.mutate(ctx, id, func(c *domain.Campaign) ([]domain.Event, error) {
		return c.Cancel(reason, s.now())
	})
}

func (s *CampaignService) AddAudience(ctx context.Context, id, audienceID string, recipientCount int) (*domain.Campaign, error) {
	return s.mutate(ctx, id, func(c *domain.Campaign) ([]domain.Event, error) {
		return c.AddAudience(audienceID, recipientCount, s.now())
	})
}

// Events returns the campaign's audit trail ordered by version.
func (s *CampaignService) Events(ctx context.Context, id string) ([]domain.Event, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}

	var events []domain.Event
	err := s.uow.Do(ctx, func(r repository.Repositories) error {
		var err error
		events, err = r.Events.GetByAggregateID(ctx, strings.TrimSpace(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *CampaignService) mutate(ctx context.Context, id string, op func(*domain.Campaign) ([]domain.Event, error)) (*domain.Campaign, error) {
	return s.mutateWith(ctx, id, func(_ repository.Repositories, c *domain.Campaign) ([]domain.Event, error) {
		return op(c)
	})
}

// mutateWith loads the campaign, applies one state-mutating operation
// and persists the aggregate plus its events atomically.
func (s *CampaignService) mutateWith(
	ctx context.Context,
	id string,
	op func(repository.Repositories, *domain.Campaign) ([]domain.Event, error),
) (*domain.Campaign, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}

	var campaign *domain.Campaign
	err := s.uow.Do(ctx, func(r repository.Repositories) error {
		var err error
		campaign, err = r.Campaigns.GetByID(ctx, strings.TrimSpace(id))
		if err != nil {
			return err
		}

		events, err := op(r, campaign)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			// Idempotent no-op, nothing changed.
			return nil
		}

		if err := r.Campaigns.Save(ctx, campaign); err != nil {
			return fmt.Errorf("failed to save campaign: %w", err)
		}
		return r.Events.Append(ctx, events)
	})
	if err != nil {
		return nil, err
	}

	return campaign, nil
}

func (s *CampaignService) enqueueOrchestration(ctx context.Context, campaign *domain.Campaign, delay time.Duration) error {
	job, err := queue.NewJob(queue.QueueOrchestrator, OrchestrateJob{CampaignID: campaign.ID}, campaign.Priority)
	if err != nil {
		return err
	}

	if delay > 0 {
		if err := s.publisher.Schedule(ctx, job, delay); err != nil {
			return fmt.Errorf("failed to schedule orchestration job: %w", err)
		}
		return nil
	}
	if err := s.publisher.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue orchestration job: %w", err)
	}
	return nil
}
