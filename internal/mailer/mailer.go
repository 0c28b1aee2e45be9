// Package mailer holds the outbound mail surface: the marketing list manager
// used by the multi-store writer's last step, and the transactional sender
// used for operator alerts.
package mailer

import (
	"context"
	"fmt"

	"songmetrix/entsync/internal/config"
)

// ListManager is the consumed contract of the external mailing provider.
// All three operations are idempotent by provider contract.
type ListManager interface {
	AddToList(ctx context.Context, listID int64, email string) error
	RemoveFromList(ctx context.Context, listID int64, email string) error
	UpsertContactAttributes(ctx context.Context, email string, attributes map[string]string) error
}

// MailSender delivers transactional mail.
type MailSender interface {
	Send(ctx context.Context, to string, subject string, body string) error
}

// NewListManager selects the mailing backend once at startup based on
// configuration. "none" yields a no-op manager for environments without a
// marketing integration.
func NewListManager(cfg config.MailConfig) (ListManager, error) {
	switch cfg.Provider {
	case "brevo":
		return NewBrevoListManager(cfg.Brevo)
	case "sendpulse":
		return NewSendPulseListManager(cfg.SendPulse)
	case "none", "":
		return noopListManager{}, nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

type noopListManager struct{}

func (noopListManager) AddToList(context.Context, int64, string) error      { return nil }
func (noopListManager) RemoveFromList(context.Context, int64, string) error { return nil }
func (noopListManager) UpsertContactAttributes(context.Context, string, map[string]string) error {
	return nil
}
