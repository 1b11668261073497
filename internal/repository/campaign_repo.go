package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
)

// StatsDelta carries counter increments applied atomically with SQL
// expressions so concurrent workers never lose updates.
type StatsDelta struct {
	Sent              int
	Delivered         int
	Failed            int
	Read              int
	FallbackTriggered int
	OptOuts           int
}

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	Save(ctx context.Context, c *domain.Campaign) error
	IncrementStats(ctx context.Context, id string, delta StatsDelta) error
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	model := campaignModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if c != nil {
		*c = *campaignModelToDomain(model)
	}
	return nil
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

// Save persists lifecycle fields. Stats columns are excluded; they only
// move through IncrementStats so counters stay monotonic.
func (r *GormCampaignRepo) Save(ctx context.Context, c *domain.Campaign) error {
	model := campaignModelFromDomain(c)
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", model.ID).
		Select("*").
		Omit("id", "created_at",
			"stats_sent", "stats_delivered", "stats_failed",
			"stats_read", "stats_fallback_triggered", "stats_opt_outs").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormCampaignRepo) IncrementStats(ctx context.Context, id string, delta StatsDelta) error {
	updates := map[string]any{}

	if delta.Sent != 0 {
		updates["stats_sent"] = gorm.Expr("stats_sent + ?", delta.Sent)
	}
	if delta.Delivered != 0 {
		updates["stats_delivered"] = gorm.Expr("stats_delivered + ?", delta.Delivered)
	}
	if delta.Failed != 0 {
		updates["stats_failed"] = gorm.Expr("stats_failed + ?", delta.Failed)
	}
	if delta.Read != 0 {
		updates["stats_read"] = gorm.Expr("stats_read + ?", delta.Read)
	}
	if delta.FallbackTriggered != 0 {
		updates["stats_fallback_triggered"] = gorm.Expr("stats_fallback_triggered + ?", delta.FallbackTriggered)
	}
	if delta.OptOuts != 0 {
		updates["stats_opt_outs"] = gorm.Expr("stats_opt_outs + ?", delta.OptOuts)
	}

	if len(updates) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormCampaignRepo) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error) {
	if limit < 1 {
		limit = 50
	}

	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i]))
	}

	return campaigns, nil
}
