package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies who asked for a status change: "WEBHOOK:<provider>:<eventType>"
// or "ADMIN:<adminUserID>".
type Source string

func WebhookSource(provider, eventType string) Source {
	return Source(fmt.Sprintf("WEBHOOK:%s:%s", provider, eventType))
}

func AdminSource(adminID uuid.UUID) Source {
	return Source("ADMIN:" + adminID.String())
}

// IsAutomated reports whether the source is a webhook rather than a human
// admin action. Automated sources may never change an ADMIN user.
func (s Source) IsAutomated() bool {
	return len(s) >= 8 && s[:8] == "WEBHOOK:"
}

// StatusChangeRequest is the normalized command produced by intake. It is a
// value passed through the pipeline, not a persisted row; its durable trace
// is the ReconciliationLogEntry.
type StatusChangeRequest struct {
	UserID         uuid.UUID
	Target         Status
	Source         Source
	IdempotencyKey string
	OccurredAt     time.Time
}

// StoreOutcome is the per-store result recorded in the reconciliation log.
type StoreOutcome string

const (
	OutcomeSuccess StoreOutcome = "SUCCESS"
	OutcomeFailed  StoreOutcome = "FAILED"
	OutcomeSkipped StoreOutcome = "SKIPPED"
)

// RequestState is the lifecycle state of a processed StatusChangeRequest.
// SUCCESS, SKIPPED, CONFLICT, REPAIRED and MANUAL_REVIEW are terminal.
// PARTIAL entries, and APPLYING entries stranded by a crashed writer, are
// owned by the repair job until they terminate.
type RequestState string

const (
	StateReceived     RequestState = "RECEIVED"
	StateResolved     RequestState = "RESOLVED"
	StateApplying     RequestState = "APPLYING"
	StateSuccess      RequestState = "SUCCESS"
	StateSkipped      RequestState = "SKIPPED"
	StatePartial      RequestState = "PARTIAL"
	StateConflict     RequestState = "CONFLICT"
	StateRepaired     RequestState = "REPAIRED"
	StateManualReview RequestState = "MANUAL_REVIEW"
)

// SkipReason distinguishes the ways a request can terminate without writes.
type SkipReason string

const (
	SkipDuplicate      SkipReason = "duplicate"
	SkipSameStatus     SkipReason = "same_status"
	SkipAdminProtected SkipReason = "admin_protected"
)

// ReconciliationLogEntry is the append-only audit record: exactly one row per
// processing attempt, regardless of outcome. Non-terminal rows are re-driven
// by the repair job, which updates state, per-store outcomes and retry_count.
// The request identity fields are never rewritten.
type ReconciliationLogEntry struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	IdempotencyKey string       `gorm:"type:varchar(191);not null;index" json:"idempotency_key"`
	UserID         uuid.UUID    `gorm:"type:uuid;not null;index" json:"user_id"`
	Source         Source       `gorm:"type:varchar(191);not null" json:"source"`
	FromStatus     Status       `gorm:"type:varchar(16)" json:"from_status"`
	ToStatus       Status       `gorm:"type:varchar(16);not null" json:"to_status"`
	State          RequestState `gorm:"type:varchar(16);not null;index:idx_recon_state_created,priority:1" json:"state"`
	SkipReason     SkipReason   `gorm:"type:varchar(32)" json:"skip_reason,omitempty"`

	UserStoreOutcome StoreOutcome `gorm:"type:varchar(8)" json:"user_store_outcome"`
	AuthStoreOutcome StoreOutcome `gorm:"type:varchar(8)" json:"auth_store_outcome"`
	MailStoreOutcome StoreOutcome `gorm:"type:varchar(8)" json:"mail_store_outcome"`

	ErrorDetail string    `gorm:"type:text" json:"error_detail,omitempty"`
	RetryCount  int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt   time.Time `gorm:"index:idx_recon_state_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ReconciliationLogEntry) TableName() string { return "reconciliation_log" }

// Applied reports whether this entry represents a request whose Step 1 write
// reached the users table. Replays of such a request must be skipped.
func (e *ReconciliationLogEntry) Applied() bool {
	switch e.State {
	case StateApplying, StateSuccess, StatePartial, StateRepaired, StateManualReview:
		return true
	}
	return false
}
