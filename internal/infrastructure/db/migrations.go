package db

import "gorm.io/gorm"

func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&JobModel{}); err != nil {
		return err
	}

	// Listing is newest-first and the health check counts by status.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_generation_jobs_status_created
		ON generation_jobs (status, created_at DESC)
	`).Error; err != nil {
		return err
	}

	return nil
}
