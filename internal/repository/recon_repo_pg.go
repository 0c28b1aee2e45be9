package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"songmetrix/entsync/internal/model"
)

type pgReconciliationRepository struct {
	db *gorm.DB
}

func NewPGReconciliationRepository(db *gorm.DB) ReconciliationRepository {
	return &pgReconciliationRepository{db: db}
}

func (r *pgReconciliationRepository) Create(ctx context.Context, entry *model.ReconciliationLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *pgReconciliationRepository) Update(ctx context.Context, entry *model.ReconciliationLogEntry) error {
	return r.db.WithContext(ctx).
		Model(&model.ReconciliationLogEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"state":              entry.State,
			"skip_reason":        entry.SkipReason,
			"user_store_outcome": entry.UserStoreOutcome,
			"auth_store_outcome": entry.AuthStoreOutcome,
			"mail_store_outcome": entry.MailStoreOutcome,
			"error_detail":       entry.ErrorDetail,
			"retry_count":        entry.RetryCount,
		}).Error
}

func (r *pgReconciliationRepository) HasApplied(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ReconciliationLogEntry{}).
		Where("idempotency_key = ? AND state IN ?", idempotencyKey, []model.RequestState{
			model.StateApplying,
			model.StateSuccess,
			model.StatePartial,
			model.StateRepaired,
			model.StateManualReview,
		}).
		Count(&count).Error
	return count > 0, err
}

func (r *pgReconciliationRepository) ListPartialSince(ctx context.Context, since time.Time, limit int) ([]model.ReconciliationLogEntry, error) {
	var entries []model.ReconciliationLogEntry
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at >= ?", model.StatePartial, since).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *pgReconciliationRepository) ListApplyingBefore(ctx context.Context, before time.Time, limit int) ([]model.ReconciliationLogEntry, error) {
	var entries []model.ReconciliationLogEntry
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", model.StateApplying, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *pgReconciliationRepository) ListByState(ctx context.Context, state model.RequestState, limit int) ([]model.ReconciliationLogEntry, error) {
	var entries []model.ReconciliationLogEntry
	err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
