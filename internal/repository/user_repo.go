package repository

import (
	"context"

	"github.com/google/uuid"

	"songmetrix/entsync/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetByBillingCustomerID resolves the external billing customer reference
	// carried by webhook payloads to the internal user record.
	GetByBillingCustomerID(ctx context.Context, customerID string) (*model.User, error)
	// UpdateStatusGuarded performs the conditional status update
	// (UPDATE ... WHERE id = ? AND status = ?). It returns false when the
	// guard matched no row, i.e. a concurrent transition won the race.
	UpdateStatusGuarded(ctx context.Context, id uuid.UUID, from, to model.Status) (bool, error)
}
