package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"songmetrix/entsync/internal/directory"
	"songmetrix/entsync/internal/mailer"
	"songmetrix/entsync/internal/model"
	"songmetrix/entsync/internal/repository"
)

// WriterService applies one resolved status transition across the three
// backing stores in a fixed order: users table, auth directory, mailing
// lists. There is no cross-store transaction; the users table is the source
// of truth and later steps are re-driven from it on failure.
type WriterService interface {
	Apply(ctx context.Context, req *model.StatusChangeRequest) (*model.ReconciliationLogEntry, error)

	// SyncAuthDirectory pushes the status into the auth provider's user
	// metadata, merging around unrelated fields. Also used by the repair job.
	SyncAuthDirectory(ctx context.Context, userID uuid.UUID, status model.Status) error
	// SyncMailingLists moves the email to the list associated with status,
	// removing stale status memberships first. Also used by the repair job.
	SyncMailingLists(ctx context.Context, email string, status model.Status) error
}

type writerService struct {
	userRepo    repository.UserRepository
	reconRepo   repository.ReconciliationRepository
	dir         directory.Directory
	lists       mailer.ListManager
	statusLists map[model.Status]int64
	locks       *userLocks
	logger      *zap.Logger
}

func NewWriterService(
	userRepo repository.UserRepository,
	reconRepo repository.ReconciliationRepository,
	dir directory.Directory,
	lists mailer.ListManager,
	statusLists map[model.Status]int64,
	logger *zap.Logger,
) WriterService {
	return &writerService{
		userRepo:    userRepo,
		reconRepo:   reconRepo,
		dir:         dir,
		lists:       lists,
		statusLists: statusLists,
		locks:       newUserLocks(),
		logger:      logger,
	}
}

func (s *writerService) Apply(ctx context.Context, req *model.StatusChangeRequest) (*model.ReconciliationLogEntry, error) {
	unlock := s.locks.lock(req.UserID)
	defer unlock()

	entry := &model.ReconciliationLogEntry{
		IdempotencyKey:   req.IdempotencyKey,
		UserID:           req.UserID,
		Source:           req.Source,
		ToStatus:         req.Target,
		State:            model.StateReceived,
		UserStoreOutcome: model.OutcomeSkipped,
		AuthStoreOutcome: model.OutcomeSkipped,
		MailStoreOutcome: model.OutcomeSkipped,
	}

	applied, err := s.reconRepo.HasApplied(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}
	if applied {
		return s.skip(ctx, entry, model.SkipDuplicate)
	}

	user, err := s.userRepo.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	entry.FromStatus = user.Status
	entry.State = model.StateResolved

	switch Resolve(req.Source, user.Status, req.Target) {
	case ResolutionSkipSame:
		return s.skip(ctx, entry, model.SkipSameStatus)
	case ResolutionAdminProtected:
		s.logger.Warn("automated downgrade of admin user rejected",
			zap.String("user_id", req.UserID.String()),
			zap.String("source", string(req.Source)),
			zap.String("requested", string(req.Target)),
		)
		return s.skip(ctx, entry, model.SkipAdminProtected)
	}

	// The APPLYING row is written before Step 1 so a crash mid-sequence
	// leaves a visible trace instead of a silent gap.
	entry.State = model.StateApplying
	if err := s.reconRepo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create reconciliation entry: %w", err)
	}

	// Step 1: conditional update on the source of truth. Zero rows affected
	// means a concurrent transition won; abort, a fresh request must be
	// re-derived from current state.
	ok, err := s.userRepo.UpdateStatusGuarded(ctx, req.UserID, user.Status, req.Target)
	if err != nil || !ok {
		entry.State = model.StateConflict
		entry.UserStoreOutcome = model.OutcomeFailed
		if err != nil {
			entry.ErrorDetail = fmt.Sprintf("users update: %v", err)
		} else {
			entry.ErrorDetail = fmt.Sprintf("guard failed: status changed away from %s concurrently", user.Status)
		}
		if uerr := s.reconRepo.Update(ctx, entry); uerr != nil {
			s.logger.Error("failed to record conflict", zap.Error(uerr), zap.Uint("entry_id", entry.ID))
		}
		if err != nil {
			return entry, fmt.Errorf("update user status: %w", err)
		}
		return entry, ErrConcurrencyConflict
	}
	entry.UserStoreOutcome = model.OutcomeSuccess

	// Step 2: auth directory metadata. Not rolled back on failure; the users
	// row stays correct and the repair job closes the gap.
	if err := s.SyncAuthDirectory(ctx, req.UserID, req.Target); err != nil {
		entry.AuthStoreOutcome = model.OutcomeFailed
		entry.ErrorDetail = appendDetail(entry.ErrorDetail, fmt.Sprintf("auth directory: %v", err))
		s.logger.Error("auth directory sync failed",
			zap.String("user_id", req.UserID.String()), zap.Error(err))
	} else {
		entry.AuthStoreOutcome = model.OutcomeSuccess
	}

	// Step 3: mailing lists, best-effort.
	if err := s.SyncMailingLists(ctx, user.Email, req.Target); err != nil {
		entry.MailStoreOutcome = model.OutcomeFailed
		entry.ErrorDetail = appendDetail(entry.ErrorDetail, fmt.Sprintf("mailing lists: %v", err))
		s.logger.Warn("mailing list sync failed",
			zap.String("email", user.Email), zap.Error(err))
	} else {
		entry.MailStoreOutcome = model.OutcomeSuccess
	}

	if entry.AuthStoreOutcome == model.OutcomeSuccess && entry.MailStoreOutcome == model.OutcomeSuccess {
		entry.State = model.StateSuccess
	} else {
		entry.State = model.StatePartial
	}

	if err := s.reconRepo.Update(ctx, entry); err != nil {
		return entry, fmt.Errorf("finalize reconciliation entry: %w", err)
	}

	s.logger.Info("status transition applied",
		zap.String("user_id", req.UserID.String()),
		zap.String("from", string(entry.FromStatus)),
		zap.String("to", string(req.Target)),
		zap.String("state", string(entry.State)),
	)
	return entry, nil
}

func (s *writerService) SyncAuthDirectory(ctx context.Context, userID uuid.UUID, status model.Status) error {
	current, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}
	if err := s.dir.UpdateUserMetadata(ctx, userID, current.Metadata.WithStatus(status)); err != nil {
		return fmt.Errorf("merge metadata: %w", err)
	}
	return nil
}

func (s *writerService) SyncMailingLists(ctx context.Context, email string, status model.Status) error {
	targetList, hasTarget := s.statusLists[status]

	// Remove stale memberships first so the contact is never on two status
	// lists at once.
	for st, listID := range s.statusLists {
		if st == status {
			continue
		}
		if err := s.lists.RemoveFromList(ctx, listID, email); err != nil {
			return fmt.Errorf("remove from %s list: %w", st, err)
		}
	}

	if hasTarget {
		if err := s.lists.AddToList(ctx, targetList, email); err != nil {
			return fmt.Errorf("add to %s list: %w", status, err)
		}
	}

	if err := s.lists.UpsertContactAttributes(ctx, email, map[string]string{"STATUS": string(status)}); err != nil {
		return fmt.Errorf("upsert contact attributes: %w", err)
	}
	return nil
}

func (s *writerService) skip(ctx context.Context, entry *model.ReconciliationLogEntry, reason model.SkipReason) (*model.ReconciliationLogEntry, error) {
	entry.State = model.StateSkipped
	entry.SkipReason = reason
	if err := s.reconRepo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create reconciliation entry: %w", err)
	}
	return entry, nil
}

func appendDetail(existing, detail string) string {
	if existing == "" {
		return detail
	}
	return existing + "; " + detail
}

var _ WriterService = (*writerService)(nil)
