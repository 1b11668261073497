package repository

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
)

type EventRepository interface {
	Append(ctx context.Context, events []domain.Event) error
	GetByAggregateID(ctx context.Context, aggregateID string) ([]domain.Event, error)
}

// GormEventRepo is the append-only event store. Versions increase
// monotonically per aggregate; the unique (aggregate_id, version)
// index rejects concurrent writers.
type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	aggregateID := events[0].AggregateID

	var currentVersion int
	err := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("aggregate_id = ?", aggregateID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&currentVersion).Error
	if err != nil {
		return err
	}

	models := make([]EventModel, 0, len(events))
	for i, event := range events {
		data, marshalErr := json.Marshal(event.Data)
		if marshalErr != nil {
			return marshalErr
		}

		models = append(models, EventModel{
			ID:          event.ID,
			Type:        event.Type,
			AggregateID: event.AggregateID,
			Version:     currentVersion + i + 1,
			Data:        data,
			OccurredAt:  event.OccurredAt,
		})
	}

	return r.db.WithContext(ctx).Create(&models).Error
}

func (r *GormEventRepo) GetByAggregateID(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	var models []EventModel
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("version ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(models))
	for i := range models {
		data := map[string]any{}
		if len(models[i].Data) > 0 {
			_ = json.Unmarshal(models[i].Data, &data)
		}

		events = append(events, domain.Event{
			ID:          models[i].ID,
			Type:        models[i].Type,
			AggregateID: models[i].AggregateID,
			Version:     models[i].Version,
			OccurredAt:  models[i].OccurredAt,
			Data:        data,
		})
	}

	return events, nil
}
