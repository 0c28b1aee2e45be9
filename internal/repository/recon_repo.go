package repository

import (
	"context"
	"time"

	"songmetrix/entsync/internal/model"
)

type ReconciliationRepository interface {
	Create(ctx context.Context, entry *model.ReconciliationLogEntry) error
	// Update rewrites the mutable fields of an entry (state, per-store
	// outcomes, error detail, retry count). Only the writer and the repair
	// job call this; request identity fields stay as first written.
	Update(ctx context.Context, entry *model.ReconciliationLogEntry) error
	// HasApplied reports whether any entry with this idempotency key reached
	// Step 1, which makes a replay of the same logical event a no-op.
	HasApplied(ctx context.Context, idempotencyKey string) (bool, error)
	// ListPartialSince returns PARTIAL entries created at or after since,
	// oldest first, for the repair job.
	ListPartialSince(ctx context.Context, since time.Time, limit int) ([]model.ReconciliationLogEntry, error)
	// ListApplyingBefore returns APPLYING entries created before the cutoff,
	// oldest first. An entry stuck in APPLYING past the writer's normal
	// lifetime means the process died mid-sequence.
	ListApplyingBefore(ctx context.Context, before time.Time, limit int) ([]model.ReconciliationLogEntry, error)
	ListByState(ctx context.Context, state model.RequestState, limit int) ([]model.ReconciliationLogEntry, error)
}
