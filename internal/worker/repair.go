// Package worker contains the out-of-band repair job that drives non-terminal
// reconciliation entries to a terminal state, replacing one-off fix scripts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"songmetrix/entsync/internal/mailer"
	"songmetrix/entsync/internal/model"
	"songmetrix/entsync/internal/repository"
	"songmetrix/entsync/internal/service"
)

const (
	defaultInterval   = 5 * time.Minute
	defaultMaxRetries = 5
	defaultBatchSize  = 100
	defaultStaleAfter = 10 * time.Minute

	cursorKey = "repair:cursor"
)

// RepairJob periodically drives non-terminal reconciliation entries to a
// terminal state. For PARTIAL entries it re-attempts only the failed steps
// (auth directory and/or mailing lists, never a Step 1 that committed).
// APPLYING entries older than StaleAfter are orphans of a writer that died
// mid-sequence; those are re-derived from the current users row, finishing
// Step 1 through the same conditional guard when it never committed. After
// MaxRetries attempts an entry is escalated to MANUAL_REVIEW and an operator
// is alerted.
type RepairJob struct {
	reconRepo  repository.ReconciliationRepository
	userRepo   repository.UserRepository
	writer     service.WriterService
	stateStore repository.StateStore
	alerter    mailer.MailSender
	alertTo    string
	logger     *zap.Logger

	Interval   time.Duration
	MaxRetries int
	BatchSize  int
	StaleAfter time.Duration
}

func NewRepairJob(
	reconRepo repository.ReconciliationRepository,
	userRepo repository.UserRepository,
	writer service.WriterService,
	stateStore repository.StateStore,
	alerter mailer.MailSender,
	alertTo string,
	logger *zap.Logger,
) *RepairJob {
	return &RepairJob{
		reconRepo:  reconRepo,
		userRepo:   userRepo,
		writer:     writer,
		stateStore: stateStore,
		alerter:    alerter,
		alertTo:    alertTo,
		logger:     logger,
		Interval:   defaultInterval,
		MaxRetries: defaultMaxRetries,
		BatchSize:  defaultBatchSize,
		StaleAfter: defaultStaleAfter,
	}
}

// Start runs the job on its interval until the context is cancelled. The
// first pass runs immediately.
func (j *RepairJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	j.logger.Info("repair job started",
		zap.Duration("interval", j.Interval),
		zap.Int("max_retries", j.MaxRetries),
	)

	if err := j.RunOnce(ctx); err != nil {
		j.logger.Error("repair pass failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("repair job stopped")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("repair pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce scans one batch of PARTIAL entries newer than the persisted cursor
// and repairs or escalates each, then sweeps APPLYING entries stale enough to
// be crash orphans. The cursor advances to the oldest entry still PARTIAL
// after the pass (or the pass start when none remain), so a still-failing
// entry is never skipped by a later pass. The APPLYING sweep is cursorless;
// an entry that stays APPLYING is picked up again on every pass.
func (j *RepairJob) RunOnce(ctx context.Context) error {
	start := time.Now()
	cursor := j.loadCursor(ctx)

	entries, err := j.reconRepo.ListPartialSince(ctx, cursor, j.BatchSize)
	if err != nil {
		return fmt.Errorf("list partial entries: %w", err)
	}
	stuck, err := j.reconRepo.ListApplyingBefore(ctx, start.Add(-j.StaleAfter), j.BatchSize)
	if err != nil {
		return fmt.Errorf("list stuck applying entries: %w", err)
	}

	var repaired, escalated, remaining int
	var oldestRemaining time.Time

	for i := range entries {
		entry := &entries[i]
		switch j.repairEntry(ctx, entry) {
		case model.StateRepaired:
			repaired++
		case model.StateManualReview:
			escalated++
		default:
			remaining++
			if oldestRemaining.IsZero() || entry.CreatedAt.Before(oldestRemaining) {
				oldestRemaining = entry.CreatedAt
			}
		}
	}

	newCursor := start
	if remaining > 0 {
		newCursor = oldestRemaining
	}
	j.storeCursor(ctx, newCursor)

	var recovered, stranded int
	for i := range stuck {
		entry := &stuck[i]
		switch j.recoverEntry(ctx, entry) {
		case model.StateRepaired, model.StateConflict:
			recovered++
		case model.StateManualReview:
			escalated++
		default:
			stranded++
		}
	}

	if len(entries) > 0 || len(stuck) > 0 {
		j.logger.Info("repair pass completed",
			zap.Int("scanned", len(entries)+len(stuck)),
			zap.Int("repaired", repaired),
			zap.Int("recovered", recovered),
			zap.Int("escalated", escalated),
			zap.Int("remaining", remaining+stranded),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return nil
}

// repairEntry re-attempts the failed steps of one entry and returns the state
// it ended in.
func (j *RepairJob) repairEntry(ctx context.Context, entry *model.ReconciliationLogEntry) model.RequestState {
	user, err := j.userRepo.GetByID(ctx, entry.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// User disappeared out from under a pending repair; only an
			// operator can decide what that means.
			return j.escalate(ctx, entry, "user no longer exists")
		}
		j.logger.Error("repair: user lookup failed",
			zap.Uint("entry_id", entry.ID), zap.Error(err))
		return entry.State
	}

	// The users row may have moved on since this entry was written. Repair
	// converges the lagging stores to the current source of truth, which is
	// the entry's target only if no later transition applied.
	target := user.Status

	if entry.AuthStoreOutcome == model.OutcomeFailed {
		if err := j.writer.SyncAuthDirectory(ctx, entry.UserID, target); err != nil {
			return j.recordFailure(ctx, entry, fmt.Sprintf("auth directory: %v", err))
		}
		entry.AuthStoreOutcome = model.OutcomeSuccess
	}

	if entry.MailStoreOutcome == model.OutcomeFailed {
		if err := j.writer.SyncMailingLists(ctx, user.Email, target); err != nil {
			return j.recordFailure(ctx, entry, fmt.Sprintf("mailing lists: %v", err))
		}
		entry.MailStoreOutcome = model.OutcomeSuccess
	}

	entry.State = model.StateRepaired
	if err := j.reconRepo.Update(ctx, entry); err != nil {
		j.logger.Error("repair: failed to persist repaired entry",
			zap.Uint("entry_id", entry.ID), zap.Error(err))
		return model.StatePartial
	}
	j.logger.Info("reconciliation entry repaired",
		zap.Uint("entry_id", entry.ID),
		zap.String("user_id", entry.UserID.String()),
	)
	return model.StateRepaired
}

// recoverEntry drives one crash-orphaned APPLYING entry. The crash point is
// unknowable from the entry alone, so Step 1 is settled against the current
// users row: already at the target means it committed, still at the origin
// means it did not and the conditional guard can finish it now, anything else
// means a later transition won and replaying would clobber it.
func (j *RepairJob) recoverEntry(ctx context.Context, entry *model.ReconciliationLogEntry) model.RequestState {
	user, err := j.userRepo.GetByID(ctx, entry.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return j.escalate(ctx, entry, "user no longer exists")
		}
		j.logger.Error("recover: user lookup failed",
			zap.Uint("entry_id", entry.ID), zap.Error(err))
		return entry.State
	}

	if entry.UserStoreOutcome != model.OutcomeSuccess {
		switch user.Status {
		case entry.ToStatus:
			entry.UserStoreOutcome = model.OutcomeSuccess
		case entry.FromStatus:
			ok, err := j.userRepo.UpdateStatusGuarded(ctx, entry.UserID, entry.FromStatus, entry.ToStatus)
			if err != nil {
				return j.recordFailure(ctx, entry, fmt.Sprintf("users update: %v", err))
			}
			if !ok {
				return j.abandon(ctx, entry, fmt.Sprintf("guard failed: status changed away from %s concurrently", entry.FromStatus))
			}
			entry.UserStoreOutcome = model.OutcomeSuccess
		default:
			return j.abandon(ctx, entry, fmt.Sprintf("status moved to %s since this request was received", user.Status))
		}
	}

	// Downstream steps that never ran are handed to the normal repair path.
	if entry.AuthStoreOutcome == model.OutcomeSkipped {
		entry.AuthStoreOutcome = model.OutcomeFailed
	}
	if entry.MailStoreOutcome == model.OutcomeSkipped {
		entry.MailStoreOutcome = model.OutcomeFailed
	}
	return j.repairEntry(ctx, entry)
}

// abandon terminates a recovered entry whose transition lost to a concurrent
// one.
func (j *RepairJob) abandon(ctx context.Context, entry *model.ReconciliationLogEntry, detail string) model.RequestState {
	entry.State = model.StateConflict
	entry.UserStoreOutcome = model.OutcomeFailed
	entry.ErrorDetail = detail
	if err := j.reconRepo.Update(ctx, entry); err != nil {
		j.logger.Error("recover: failed to persist conflict",
			zap.Uint("entry_id", entry.ID), zap.Error(err))
		return model.StateApplying
	}
	j.logger.Warn("stuck reconciliation entry abandoned as conflict",
		zap.Uint("entry_id", entry.ID),
		zap.String("user_id", entry.UserID.String()),
		zap.String("detail", detail),
	)
	return model.StateConflict
}

func (j *RepairJob) recordFailure(ctx context.Context, entry *model.ReconciliationLogEntry, detail string) model.RequestState {
	entry.RetryCount++
	entry.ErrorDetail = detail
	if entry.RetryCount >= j.MaxRetries {
		return j.escalate(ctx, entry, detail)
	}
	if err := j.reconRepo.Update(ctx, entry); err != nil {
		j.logger.Error("repair: failed to persist retry count",
			zap.Uint("entry_id", entry.ID), zap.Error(err))
	}
	return model.StatePartial
}

func (j *RepairJob) escalate(ctx context.Context, entry *model.ReconciliationLogEntry, detail string) model.RequestState {
	entry.State = model.StateManualReview
	entry.ErrorDetail = detail
	if err := j.reconRepo.Update(ctx, entry); err != nil {
		j.logger.Error("repair: failed to persist escalation",
			zap.Uint("entry_id", entry.ID), zap.Error(err))
		return model.StatePartial
	}

	j.logger.Error("reconciliation entry escalated to manual review",
		zap.Uint("entry_id", entry.ID),
		zap.String("user_id", entry.UserID.String()),
		zap.Int("retry_count", entry.RetryCount),
		zap.String("detail", detail),
	)

	if j.alerter != nil && j.alertTo != "" {
		subject := fmt.Sprintf("[entsync] reconciliation entry %d needs manual review", entry.ID)
		body := fmt.Sprintf(
			"Entry %d for user %s (key %s) exhausted %d repair attempts.\nLast failure: %s\n",
			entry.ID, entry.UserID, entry.IdempotencyKey, entry.RetryCount, detail,
		)
		if err := j.alerter.Send(ctx, j.alertTo, subject, body); err != nil {
			j.logger.Error("repair: operator alert failed", zap.Error(err))
		}
	}
	return model.StateManualReview
}

func (j *RepairJob) loadCursor(ctx context.Context) time.Time {
	raw, err := j.stateStore.Get(ctx, cursorKey)
	if err != nil || len(raw) == 0 {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func (j *RepairJob) storeCursor(ctx context.Context, cursor time.Time) {
	raw := []byte(strconv.FormatInt(cursor.Unix(), 10))
	if err := j.stateStore.Set(ctx, cursorKey, raw, 0); err != nil {
		j.logger.Warn("repair: failed to persist cursor", zap.Error(err))
	}
}
