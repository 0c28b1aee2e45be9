package model

import "gorm.io/gorm"

// AutoMigrate runs GORM auto-migration for all models and creates custom indexes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{},
		&WebhookEvent{},
		&ReconciliationLogEntry{},
	); err != nil {
		return err
	}

	// Case-insensitive unique email for non-soft-deleted users.
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_lower " +
			"ON users ((lower(email))) WHERE deleted_at IS NULL",
	).Error; err != nil {
		return err
	}

	// Billing customer references are unique while the account is live; a
	// soft-deleted user keeps the reference for audit without blocking reuse.
	return db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_users_billing_customer " +
			"ON users (billing_customer_id) WHERE deleted_at IS NULL AND billing_customer_id IS NOT NULL",
	).Error
}
