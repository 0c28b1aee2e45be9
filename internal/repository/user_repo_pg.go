package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"songmetrix/entsync/internal/model"
)

type pgUserRepository struct {
	db *gorm.DB
}

func NewPGUserRepository(db *gorm.DB) UserRepository {
	return &pgUserRepository{db: db}
}

func (r *pgUserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *pgUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *pgUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "lower(email) = lower(?)", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *pgUserRepository) GetByBillingCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "billing_customer_id = ?", customerID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *pgUserRepository) UpdateStatusGuarded(ctx context.Context, id uuid.UUID, from, to model.Status) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
