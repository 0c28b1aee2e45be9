package repository

import (
	"context"

	"songmetrix/entsync/internal/model"
)

type WebhookEventRepository interface {
	// Create persists a webhook event. Returns gorm.ErrDuplicatedKey (wrapped)
	// when an event with the same (provider, provider_event_id) already exists.
	Create(ctx context.Context, event *model.WebhookEvent) error
	// MarkProcessed stamps processed_at and records a short note about what
	// intake decided (applied, unknown event type, unresolved customer, ...).
	MarkProcessed(ctx context.Context, id uint, note string) error
}
