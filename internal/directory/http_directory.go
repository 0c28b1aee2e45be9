package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"songmetrix/entsync/internal/config"
)

const defaultTimeout = 10 * time.Second

type httpDirectory struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// NewHTTPDirectory builds a Directory backed by the auth provider's admin
// REST endpoints (GET/PUT {base}/admin/users/{id}), authenticated with the
// service-role key.
func NewHTTPDirectory(cfg config.DirectoryConfig) (Directory, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("directory base_url is required")
	}
	if strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, fmt.Errorf("directory service_key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &httpDirectory{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		serviceKey: cfg.ServiceKey,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (d *httpDirectory) GetUser(ctx context.Context, id uuid.UUID) (*DirectoryUser, error) {
	req, err := d.newRequest(ctx, http.MethodGet, d.userURL(id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory get user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory get user: unexpected status %d: %s", resp.StatusCode, readBody(resp.Body))
	}

	var user DirectoryUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("directory get user: decode response: %w", err)
	}
	return &user, nil
}

func (d *httpDirectory) UpdateUserMetadata(ctx context.Context, id uuid.UUID, metadata Metadata) error {
	body, err := json.Marshal(map[string]interface{}{"user_metadata": metadata})
	if err != nil {
		return fmt.Errorf("directory update user: encode body: %w", err)
	}

	req, err := d.newRequest(ctx, http.MethodPut, d.userURL(id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory update user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory update user: unexpected status %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	return nil
}

func (d *httpDirectory) userURL(id uuid.UUID) string {
	return fmt.Sprintf("%s/admin/users/%s", d.baseURL, id)
}

func (d *httpDirectory) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.serviceKey)
	return req, nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
