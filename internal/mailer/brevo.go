package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"songmetrix/entsync/internal/config"
)

const brevoDefaultBaseURL = "https://api.brevo.com/v3"

type brevoListManager struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewBrevoListManager(cfg config.BrevoConfig) (ListManager, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("brevo api_key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = brevoDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &brevoListManager{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (b *brevoListManager) AddToList(ctx context.Context, listID int64, email string) error {
	path := fmt.Sprintf("/contacts/lists/%d/contacts/add", listID)
	return b.post(ctx, path, map[string]interface{}{"emails": []string{email}})
}

func (b *brevoListManager) RemoveFromList(ctx context.Context, listID int64, email string) error {
	path := fmt.Sprintf("/contacts/lists/%d/contacts/remove", listID)
	// Brevo answers 400 with code invalid_parameter when none of the emails
	// are in the list; that is the desired end state, not a failure.
	err := b.post(ctx, path, map[string]interface{}{"emails": []string{email}})
	if err != nil && strings.Contains(err.Error(), "invalid_parameter") {
		return nil
	}
	return err
}

func (b *brevoListManager) UpsertContactAttributes(ctx context.Context, email string, attributes map[string]string) error {
	attrs := make(map[string]interface{}, len(attributes))
	for k, v := range attributes {
		attrs[strings.ToUpper(k)] = v
	}
	return b.post(ctx, "/contacts", map[string]interface{}{
		"email":         email,
		"attributes":    attrs,
		"updateEnabled": true,
	})
}

func (b *brevoListManager) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("brevo: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("brevo: build request: %w", err)
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("brevo: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("brevo: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
