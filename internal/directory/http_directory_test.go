package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songmetrix/entsync/internal/config"
	"songmetrix/entsync/internal/model"
)

func TestMetadataJSONRoundTrip(t *testing.T) {
	in := Metadata{
		Status: model.StatusAtivo,
		Extra: map[string]interface{}{
			"display_name":    "Maria",
			"favorite_radios": []interface{}{"89fm", "jovempan"},
		},
	}

	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "ATIVO", flat["status"])
	assert.Equal(t, "Maria", flat["display_name"])

	var out Metadata
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, model.StatusAtivo, out.Status)
	assert.Equal(t, "Maria", out.Extra["display_name"])
	assert.NotContains(t, out.Extra, "status")
}

func TestMetadataWithStatusPreservesExtra(t *testing.T) {
	m := Metadata{Status: model.StatusTrial, Extra: map[string]interface{}{"display_name": "Maria"}}
	got := m.WithStatus(model.StatusAtivo)
	assert.Equal(t, model.StatusAtivo, got.Status)
	assert.Equal(t, m.Extra, got.Extra)
}

func newTestDirectory(t *testing.T, handler http.Handler) (Directory, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	dir, err := NewHTTPDirectory(config.DirectoryConfig{
		BaseURL:    srv.URL,
		ServiceKey: "srv_key",
	})
	require.NoError(t, err)
	return dir, srv
}

func TestHTTPDirectoryGetUser(t *testing.T) {
	userID := uuid.New()
	dir, _ := newTestDirectory(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/admin/users/"+userID.String(), r.URL.Path)
		assert.Equal(t, "Bearer srv_key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "` + userID.String() + `",
			"email": "u@example.com",
			"user_metadata": {"status": "TRIAL", "display_name": "Maria"}
		}`))
	}))

	user, err := dir.GetUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, model.StatusTrial, user.Metadata.Status)
	assert.Equal(t, "Maria", user.Metadata.Extra["display_name"])
}

func TestHTTPDirectoryGetUser_Non200(t *testing.T) {
	dir, _ := newTestDirectory(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	_, err := dir.GetUser(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestHTTPDirectoryUpdateUserMetadata_MergesAroundExtra(t *testing.T) {
	userID := uuid.New()
	var sent map[string]interface{}
	dir, _ := newTestDirectory(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
	}))

	metadata := Metadata{Status: model.StatusTrial, Extra: map[string]interface{}{"display_name": "Maria"}}
	err := dir.UpdateUserMetadata(context.Background(), userID, metadata.WithStatus(model.StatusAtivo))
	require.NoError(t, err)

	blob, ok := sent["user_metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ATIVO", blob["status"])
	assert.Equal(t, "Maria", blob["display_name"])
}

func TestNewHTTPDirectory_RequiresConfig(t *testing.T) {
	_, err := NewHTTPDirectory(config.DirectoryConfig{ServiceKey: "k"})
	assert.Error(t, err)

	_, err = NewHTTPDirectory(config.DirectoryConfig{BaseURL: "http://localhost"})
	assert.Error(t, err)
}
