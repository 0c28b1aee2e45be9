package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"songmetrix/entsync/internal/model"
)

type pgWebhookEventRepository struct {
	db *gorm.DB
}

func NewPGWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &pgWebhookEventRepository{db: db}
}

func (r *pgWebhookEventRepository) Create(ctx context.Context, event *model.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *pgWebhookEventRepository) MarkProcessed(ctx context.Context, id uint, note string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":    &now,
			"processing_note": note,
		}).Error
}
