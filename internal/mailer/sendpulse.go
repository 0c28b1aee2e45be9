package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"songmetrix/entsync/internal/config"
)

const sendPulseDefaultBaseURL = "https://api.sendpulse.com"

type sendPulseListManager struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewSendPulseListManager(cfg config.SendPulseConfig) (ListManager, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("sendpulse client_id and client_secret are required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendPulseDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &sendPulseListManager{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       &http.Client{Timeout: timeout},
	}, nil
}

func (s *sendPulseListManager) AddToList(ctx context.Context, listID int64, email string) error {
	path := fmt.Sprintf("/addressbooks/%d/emails", listID)
	return s.call(ctx, http.MethodPost, path, map[string]interface{}{
		"emails": []map[string]interface{}{{"email": email}},
	})
}

func (s *sendPulseListManager) RemoveFromList(ctx context.Context, listID int64, email string) error {
	path := fmt.Sprintf("/addressbooks/%d/emails", listID)
	return s.call(ctx, http.MethodDelete, path, map[string]interface{}{
		"emails": []string{email},
	})
}

func (s *sendPulseListManager) UpsertContactAttributes(ctx context.Context, email string, attributes map[string]string) error {
	vars := make([]map[string]string, 0, len(attributes))
	for name, value := range attributes {
		vars = append(vars, map[string]string{"name": name, "value": value})
	}
	return s.call(ctx, http.MethodPost, "/emails/"+url.PathEscape(email)+"/variables", map[string]interface{}{
		"variables": vars,
	})
}

func (s *sendPulseListManager) call(ctx context.Context, method, path string, payload interface{}) error {
	token, err := s.token(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sendpulse: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sendpulse: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendpulse: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendpulse: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// token returns a cached OAuth client-credentials token, refreshing it a
// minute before expiry.
func (s *sendPulseListManager) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Now().Before(s.tokenExpiry.Add(-time.Minute)) {
		return s.accessToken, nil
	}

	body, _ := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     s.clientID,
		"client_secret": s.clientSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/oauth/access_token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("sendpulse: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sendpulse: fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sendpulse: fetch token: status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("sendpulse: decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("sendpulse: empty access token")
	}

	s.accessToken = tokenResp.AccessToken
	s.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return s.accessToken, nil
}
