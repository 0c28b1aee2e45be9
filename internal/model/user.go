package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the entitlement level of a user. It is the single canonical
// field; provider plan references are mapped to one of these values at intake
// and never stored alongside it.
type Status string

const (
	StatusAdmin   Status = "ADMIN"
	StatusAtivo   Status = "ATIVO"
	StatusInativo Status = "INATIVO"
	StatusTrial   Status = "TRIAL"
	StatusFree    Status = "FREE"
)

// Valid reports whether s is one of the enumerated status values.
func (s Status) Valid() bool {
	switch s {
	case StatusAdmin, StatusAtivo, StatusInativo, StatusTrial, StatusFree:
		return true
	}
	return false
}

type User struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Email             string         `gorm:"type:varchar(512);not null" json:"email"`
	Status            Status         `gorm:"type:varchar(16);not null;default:'TRIAL'" json:"status"`
	BillingCustomerID *string        `gorm:"type:varchar(191);index" json:"billing_customer_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "users" }
