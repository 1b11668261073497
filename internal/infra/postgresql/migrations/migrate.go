package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/repository"
)

// Composite indexes the model tags do not express. Column names must
// match the gorm-derived schema of the owning model.
var (
	campaignIndexes = []string{
		`CREATE INDEX IF NOT EXISTS idx_campaigns_status_scheduled ON campaigns (status, scheduled_for)`,
	}
	messageIndexes = []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_tenant_phone ON messages (tenant_id, recipient_phone)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_status_expires ON messages (status, expires_at)`,
	}
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_campaigns",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.CampaignModel{}); err != nil {
					return err
				}
				for _, sql := range campaignIndexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CampaignModel{})
			},
		},
		{
			ID: "000002_create_messages",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.MessageModel{}); err != nil {
					return err
				}
				for _, sql := range messageIndexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.MessageModel{})
			},
		},
		{
			ID: "000003_create_templates",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.TemplateModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.TemplateModel{})
			},
		},
		{
			ID: "000004_create_opt_outs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.OptOutModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.OptOutModel{})
			},
		},
		{
			ID: "000005_create_events",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.EventModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.EventModel{})
			},
		},
	})

	return m.Migrate()
}
