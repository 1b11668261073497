package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
)

type OptOutRepository interface {
	Create(ctx context.Context, o *domain.OptOut) error
	IsOptedOut(ctx context.Context, tenantID, phone string) (bool, error)
	FilterOptedOut(ctx context.Context, tenantID string, phones []string) (map[string]bool, error)
}

type GormOptOutRepo struct {
	db *gorm.DB
}

func NewGormOptOutRepo(db *gorm.DB) *GormOptOutRepo {
	return &GormOptOutRepo{db: db}
}

func (r *GormOptOutRepo) Create(ctx context.Context, o *domain.OptOut) error {
	model := optOutModelFromDomain(o)
	err := r.db.WithContext(ctx).Create(model).Error
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return domain.ErrConflict
	}
	if err != nil {
		return err
	}
	if o != nil {
		*o = *optOutModelToDomain(model)
	}
	return nil
}

func (r *GormOptOutRepo) IsOptedOut(ctx context.Context, tenantID, phone string) (bool, error) {
	var model OptOutModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND phone = ?", tenantID, phone).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FilterOptedOut returns the opted-out subset of phones in one query.
func (r *GormOptOutRepo) FilterOptedOut(ctx context.Context, tenantID string, phones []string) (map[string]bool, error) {
	optedOut := make(map[string]bool, len(phones))
	if len(phones) == 0 {
		return optedOut, nil
	}

	var rows []OptOutModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND phone IN ?", tenantID, phones).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for i := range rows {
		optedOut[rows[i].Phone] = true
	}

	return optedOut, nil
}
