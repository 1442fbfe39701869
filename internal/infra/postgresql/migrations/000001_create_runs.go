package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createRunsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_runs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RunModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_runs_job_created ON runs (job_name, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_runs_parent ON runs (parent_run_id) WHERE parent_run_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_runs_retryable ON runs (finished_at) WHERE status IN ('PARTIAL_FAILURE', 'ABORTED')`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RunModel{})
		},
	}
}
