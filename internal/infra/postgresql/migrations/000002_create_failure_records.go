package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/mail-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createFailureRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_failure_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FailureRecordModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_failure_records_resolved_created ON failure_records (resolved, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_failure_records_category ON failure_records (category)`,
				`CREATE INDEX IF NOT EXISTS idx_failure_records_notification ON failure_records (original_notification_id) WHERE original_notification_id IS NOT NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FailureRecordModel{})
		},
	}
}
