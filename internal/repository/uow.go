package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repositories bundles all repositories bound to one transaction.
type Repositories struct {
	Messages  MessageRepository
	Campaigns CampaignRepository
	Templates TemplateRepository
	OptOuts   OptOutRepository
	Events    EventRepository
}

// UnitOfWork runs a function with all repositories inside a single
// transaction. Job handlers commit before acknowledging the queue job
// so a crash between commit and ack only ever causes a redelivery,
// never lost state.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(r Repositories) error) error
}

type GormUnitOfWork struct {
	db *gorm.DB
}

func NewGormUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

func (u *GormUnitOfWork) Do(ctx context.Context, fn func(r Repositories) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(Repositories{
			Messages:  NewGormMessageRepo(tx),
			Campaigns: NewGormCampaignRepo(tx),
			Templates: NewGormTemplateRepo(tx),
			OptOuts:   NewGormOptOutRepo(tx),
			Events:    NewGormEventRepo(tx),
		})
	})
}
