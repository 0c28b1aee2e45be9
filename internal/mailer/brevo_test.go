package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songmetrix/entsync/internal/config"
)

type brevoCall struct {
	path string
	body map[string]interface{}
}

func newTestBrevo(t *testing.T, status int, respBody string) (ListManager, *[]brevoCall) {
	t.Helper()
	calls := &[]brevoCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key_test", r.Header.Get("api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*calls = append(*calls, brevoCall{path: r.URL.Path, body: body})

		w.WriteHeader(status)
		w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)

	lm, err := NewBrevoListManager(config.BrevoConfig{APIKey: "key_test", BaseURL: srv.URL})
	require.NoError(t, err)
	return lm, calls
}

func TestBrevoAddToList(t *testing.T) {
	lm, calls := newTestBrevo(t, http.StatusCreated, `{}`)

	require.NoError(t, lm.AddToList(context.Background(), 3, "u@example.com"))
	require.Len(t, *calls, 1)
	assert.Equal(t, "/contacts/lists/3/contacts/add", (*calls)[0].path)
	assert.Equal(t, []interface{}{"u@example.com"}, (*calls)[0].body["emails"])
}

func TestBrevoRemoveFromList_NotAMemberIsNotAnError(t *testing.T) {
	lm, _ := newTestBrevo(t, http.StatusBadRequest, `{"code":"invalid_parameter","message":"Contact already removed"}`)
	assert.NoError(t, lm.RemoveFromList(context.Background(), 7, "u@example.com"))
}

func TestBrevoRemoveFromList_OtherErrorsSurface(t *testing.T) {
	lm, _ := newTestBrevo(t, http.StatusUnauthorized, `{"code":"unauthorized"}`)
	err := lm.RemoveFromList(context.Background(), 7, "u@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestBrevoUpsertContactAttributes(t *testing.T) {
	lm, calls := newTestBrevo(t, http.StatusNoContent, ``)

	err := lm.UpsertContactAttributes(context.Background(), "u@example.com", map[string]string{"status": "ATIVO"})
	require.NoError(t, err)
	require.Len(t, *calls, 1)

	call := (*calls)[0]
	assert.Equal(t, "/contacts", call.path)
	assert.Equal(t, "u@example.com", call.body["email"])
	assert.Equal(t, true, call.body["updateEnabled"])
	attrs := call.body["attributes"].(map[string]interface{})
	assert.Equal(t, "ATIVO", attrs["STATUS"])
}

func TestNewBrevoListManager_RequiresAPIKey(t *testing.T) {
	_, err := NewBrevoListManager(config.BrevoConfig{})
	assert.Error(t, err)
}

func TestNewListManagerFactory(t *testing.T) {
	lm, err := NewListManager(config.MailConfig{Provider: "none"})
	require.NoError(t, err)
	assert.NoError(t, lm.AddToList(context.Background(), 1, "u@example.com"))

	_, err = NewListManager(config.MailConfig{Provider: "carrierpigeon"})
	assert.Error(t, err)
}
