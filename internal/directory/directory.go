// Package directory talks to the auth provider's admin API, which mirrors a
// user's status in its metadata blob for request-time authorization checks.
package directory

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"songmetrix/entsync/internal/model"
)

// Metadata is the auth provider's per-user metadata blob. Only the status
// field belongs to this service; everything else (display name, favorite
// radios, ...) is colocated in the same record and must pass through writes
// untouched.
type Metadata struct {
	Status model.Status
	Extra  map[string]interface{}
}

const statusKey = "status"

func (m Metadata) MarshalJSON() ([]byte, error) {
	merged := make(map[string]interface{}, len(m.Extra)+1)
	for k, v := range m.Extra {
		merged[k] = v
	}
	if m.Status != "" {
		merged[statusKey] = string(m.Status)
	}
	return json.Marshal(merged)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	raw := map[string]interface{}{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if s, ok := raw[statusKey].(string); ok {
		m.Status = model.Status(s)
	}
	delete(raw, statusKey)
	m.Extra = raw
	return nil
}

// WithStatus returns a copy of the blob with only the status field replaced.
func (m Metadata) WithStatus(status model.Status) Metadata {
	return Metadata{Status: status, Extra: m.Extra}
}

// DirectoryUser is the admin-API view of an auth identity.
type DirectoryUser struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Metadata Metadata  `json:"user_metadata"`
}

// Directory is the consumed contract of the auth provider's admin API.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*DirectoryUser, error)
	UpdateUserMetadata(ctx context.Context, id uuid.UUID, metadata Metadata) error
}
