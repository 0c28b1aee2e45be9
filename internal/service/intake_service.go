package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"songmetrix/entsync/internal/config"
	"songmetrix/entsync/internal/model"
	"songmetrix/entsync/internal/repository"
)

// defaultTokenHeader carries the webhook shared secret unless the provider
// configuration names its own header.
const defaultTokenHeader = "X-Provider-Access-Token"

// adminDedupeTTL bounds how long an admin double-submit mark lives. Keys are
// rounded to the second, so a short TTL is enough.
const adminDedupeTTL = 5 * time.Second

// eventOutcomes is the fixed mapping from provider event types to target
// statuses. Anything absent here is recorded and ignored.
var eventOutcomes = map[string]model.Status{
	"PAYMENT_CONFIRMED":        model.StatusAtivo,
	"SUBSCRIPTION_CANCELLED":   model.StatusFree,
	"PAYMENT_OVERDUE":          model.StatusFree,
	"CHARGEBACK":               model.StatusFree,
	"SUBSCRIPTION_INACTIVATED": model.StatusInativo,
}

// IntakeService turns inbound webhook calls and admin actions into normalized
// status-change requests for the writer.
type IntakeService interface {
	// TokenHeader returns the header name carrying the provider's secret.
	TokenHeader(provider string) string
	// VerifyWebhookToken compares the presented token against the configured
	// secret in constant time. Unknown providers fail closed.
	VerifyWebhookToken(provider, token string) bool
	// RecordWebhook durably persists an authenticated webhook payload.
	// Returns ErrMalformedPayload when the envelope cannot be parsed. The
	// returned event has ID zero when the provider redelivered a known event.
	RecordWebhook(ctx context.Context, provider string, payload []byte) (*model.WebhookEvent, error)
	// ProcessWebhook runs the downstream pipeline for a recorded event. It is
	// called after the HTTP response has been sent and never returns an error
	// to the caller; every outcome lands in logs and the reconciliation log.
	ProcessWebhook(ctx context.Context, event *model.WebhookEvent)
	// SubmitAdminChange handles an admin status-change action synchronously.
	SubmitAdminChange(ctx context.Context, adminID, targetID uuid.UUID, target model.Status) (*model.User, error)
}

type intakeService struct {
	cfg        config.WebhookConfig
	userRepo   repository.UserRepository
	eventRepo  repository.WebhookEventRepository
	stateStore repository.StateStore
	writer     WriterService
	logger     *zap.Logger
}

func NewIntakeService(
	cfg config.WebhookConfig,
	userRepo repository.UserRepository,
	eventRepo repository.WebhookEventRepository,
	stateStore repository.StateStore,
	writer WriterService,
	logger *zap.Logger,
) IntakeService {
	return &intakeService{
		cfg:        cfg,
		userRepo:   userRepo,
		eventRepo:  eventRepo,
		stateStore: stateStore,
		writer:     writer,
		logger:     logger,
	}
}

func (s *intakeService) TokenHeader(provider string) string {
	if p, ok := s.cfg.Providers[provider]; ok && p.TokenHeader != "" {
		return p.TokenHeader
	}
	return defaultTokenHeader
}

func (s *intakeService) VerifyWebhookToken(provider, token string) bool {
	p, ok := s.cfg.Providers[provider]
	if !ok || p.Secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(p.Secret), []byte(token)) == 1
}

// webhookEnvelope is the provider-agnostic shape intake needs: an event id,
// an event type, and the external billing customer reference.
type webhookEnvelope struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payment struct {
		ID       string `json:"id"`
		Customer string `json:"customer"`
	} `json:"payment"`
}

func (e *webhookEnvelope) eventID() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Payment.ID
}

func parseEnvelope(payload []byte) (*webhookEnvelope, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, ErrMalformedPayload
	}
	if env.Event == "" || env.eventID() == "" {
		return nil, ErrMalformedPayload
	}
	return &env, nil
}

func (s *intakeService) RecordWebhook(ctx context.Context, provider string, payload []byte) (*model.WebhookEvent, error) {
	env, err := parseEnvelope(payload)
	if err != nil {
		return nil, err
	}

	event := &model.WebhookEvent{
		Provider:        provider,
		ProviderEventID: env.eventID(),
		EventType:       env.Event,
		PayloadJSON:     string(payload),
	}
	if err := s.eventRepo.Create(ctx, event); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Redelivery. The pipeline still runs so the replay leaves a
			// SKIPPED entry in the reconciliation log.
			s.logger.Info("webhook event redelivered",
				zap.String("provider", provider),
				zap.String("event_id", env.eventID()),
			)
			event.ID = 0
			return event, nil
		}
		return nil, fmt.Errorf("persist webhook event: %w", err)
	}
	return event, nil
}

func (s *intakeService) ProcessWebhook(ctx context.Context, event *model.WebhookEvent) {
	note := s.processWebhook(ctx, event)
	if event.ID == 0 {
		return
	}
	if err := s.eventRepo.MarkProcessed(ctx, event.ID, note); err != nil {
		s.logger.Error("failed to mark webhook event processed",
			zap.Uint("event_id", event.ID), zap.Error(err))
	}
}

func (s *intakeService) processWebhook(ctx context.Context, event *model.WebhookEvent) string {
	target, known := eventOutcomes[event.EventType]
	if !known {
		s.logger.Info("ignoring unrecognized webhook event type",
			zap.String("provider", event.Provider),
			zap.String("event_type", event.EventType),
		)
		return "ignored: unrecognized event type"
	}

	env, err := parseEnvelope([]byte(event.PayloadJSON))
	if err != nil {
		return "ignored: unparseable stored payload"
	}
	if env.Payment.Customer == "" {
		s.logger.Warn("webhook event carries no customer reference",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.ProviderEventID),
		)
		return "ignored: missing customer reference"
	}

	user, err := s.userRepo.GetByBillingCustomerID(ctx, env.Payment.Customer)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A missing mapping is expected and recoverable, not a bug.
			s.logger.Warn("unresolved billing customer",
				zap.String("provider", event.Provider),
				zap.String("customer_id", env.Payment.Customer),
				zap.String("event_id", event.ProviderEventID),
			)
			return "ignored: unresolved customer"
		}
		s.logger.Error("customer lookup failed",
			zap.String("customer_id", env.Payment.Customer), zap.Error(err))
		return fmt.Sprintf("error: customer lookup failed: %v", err)
	}

	req := &model.StatusChangeRequest{
		UserID:         user.ID,
		Target:         target,
		Source:         model.WebhookSource(event.Provider, event.EventType),
		IdempotencyKey: event.ProviderEventID,
		OccurredAt:     time.Now(),
	}

	entry, err := s.writer.Apply(ctx, req)
	if err != nil && !errors.Is(err, ErrConcurrencyConflict) {
		s.logger.Error("webhook status change failed",
			zap.String("event_id", event.ProviderEventID), zap.Error(err))
		return fmt.Sprintf("error: %v", err)
	}
	return "applied: " + string(entry.State)
}

func (s *intakeService) SubmitAdminChange(ctx context.Context, adminID, targetID uuid.UUID, target model.Status) (*model.User, error) {
	if !target.Valid() {
		return nil, ErrInvalidStatus
	}
	if _, err := s.userRepo.GetByID(ctx, targetID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load target user: %w", err)
	}

	// Key rounds to the second so a UI double-click maps to one logical
	// action. SetNX makes the second submit a no-op.
	key := fmt.Sprintf("admin:set_status:%s:%d", targetID, time.Now().Unix())
	first, err := s.stateStore.SetNX(ctx, "dedupe:"+key, []byte{1}, adminDedupeTTL)
	if err != nil {
		s.logger.Warn("dedupe store unavailable, proceeding without", zap.Error(err))
		first = true
	}
	if first {
		req := &model.StatusChangeRequest{
			UserID:         targetID,
			Target:         target,
			Source:         model.AdminSource(adminID),
			IdempotencyKey: key,
			OccurredAt:     time.Now(),
		}
		// Partial write failures past Step 1 are not surfaced to the admin;
		// the source of truth is updated and the repair job owns the rest.
		if _, err := s.writer.Apply(ctx, req); err != nil {
			return nil, err
		}
	}

	return s.userRepo.GetByID(ctx, targetID)
}

var _ IntakeService = (*intakeService)(nil)
