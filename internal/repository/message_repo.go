package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
)

type MessageListParams struct {
	CampaignID *string
	Status     *domain.MessageStatus
	Channel    *domain.Channel
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	CreateBatch(ctx context.Context, messages []*domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Message, error)
	List(ctx context.Context, params MessageListParams) ([]domain.Message, int64, error)
	Save(ctx context.Context, m *domain.Message) error
	LockForProcessing(ctx context.Context, id string) (*domain.Message, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) Create(ctx context.Context, m *domain.Message) error {
	model := messageModelFromDomain(m)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if m != nil {
		*m = *messageModelToDomain(model)
	}
	return nil
}

func (r *GormMessageRepo) CreateBatch(ctx context.Context, messages []*domain.Message) error {
	models := make([]MessageModel, 0, len(messages))
	modelIndexes := make([]int, 0, len(messages))
	for i, m := range messages {
		model := messageModelFromDomain(m)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(messages) && messages[idx] != nil {
			*messages[idx] = *messageModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return messageModelToDomain(&model), nil
}

func (r *GormMessageRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return messageModelToDomain(&model), nil
}

func (r *GormMessageRepo) List(ctx context.Context, params MessageListParams) ([]domain.Message, int64, error) {
	query := r.db.WithContext(ctx).Model(&MessageModel{})

	if params.CampaignID != nil {
		query = query.Where("campaign_id = ?", *params.CampaignID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []MessageModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	messages := make([]domain.Message, 0, len(models))
	for i := range models {
		messages = append(messages, *messageModelToDomain(&models[i]))
	}

	return messages, total, nil
}

// Save persists the full aggregate state after a state transition.
func (r *GormMessageRepo) Save(ctx context.Context, m *domain.Message) error {
	model := messageModelFromDomain(m)
	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ?", model.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LockForProcessing loads the message with a row lock so only one
// in-flight job mutates it at a time. Callers must run inside a
// transaction.
func (r *GormMessageRepo) LockForProcessing(ctx context.Context, id string) (*domain.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return messageModelToDomain(&model), nil
}
