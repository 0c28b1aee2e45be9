package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"songmetrix/entsync/internal/model"
	"songmetrix/entsync/internal/service"
)

// fakeIntake lets each test script the intake behavior it needs; the
// processed channel observes the async pipeline.
type fakeIntake struct {
	secret    string
	recordErr error
	recorded  []*model.WebhookEvent
	processed chan *model.WebhookEvent

	submitFn func(ctx context.Context, adminID, targetID uuid.UUID, target model.Status) (*model.User, error)
}

func newFakeIntake() *fakeIntake {
	return &fakeIntake{
		secret:    "whsec_test",
		processed: make(chan *model.WebhookEvent, 1),
	}
}

func (f *fakeIntake) TokenHeader(string) string { return "X-Provider-Access-Token" }

func (f *fakeIntake) VerifyWebhookToken(_, token string) bool {
	return token != "" && token == f.secret
}

func (f *fakeIntake) RecordWebhook(_ context.Context, provider string, payload []byte) (*model.WebhookEvent, error) {
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	event := &model.WebhookEvent{
		ID:          uint(len(f.recorded) + 1),
		Provider:    provider,
		PayloadJSON: string(payload),
	}
	f.recorded = append(f.recorded, event)
	return event, nil
}

func (f *fakeIntake) ProcessWebhook(_ context.Context, event *model.WebhookEvent) {
	f.processed <- event
}

func (f *fakeIntake) SubmitAdminChange(ctx context.Context, adminID, targetID uuid.UUID, target model.Status) (*model.User, error) {
	if f.submitFn == nil {
		return nil, errors.New("submitFn not set")
	}
	return f.submitFn(ctx, adminID, targetID, target)
}

func newWebhookRouter(intake service.IntakeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewWebhookHandler(intake, zap.NewNop())
	r.POST("/webhook/:provider", h.Receive)
	return r
}

func postWebhook(r *gin.Engine, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/asaas", bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("X-Provider-Access-Token", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookReceive_RejectsMissingToken(t *testing.T) {
	intake := newFakeIntake()
	w := postWebhook(newWebhookRouter(intake), "", `{"event":"PAYMENT_CONFIRMED"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, intake.recorded)
}

func TestWebhookReceive_RejectsWrongToken(t *testing.T) {
	intake := newFakeIntake()
	w := postWebhook(newWebhookRouter(intake), "wrong", `{"event":"PAYMENT_CONFIRMED"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, intake.recorded)
}

func TestWebhookReceive_RejectsMalformedPayload(t *testing.T) {
	intake := newFakeIntake()
	intake.recordErr = service.ErrMalformedPayload
	w := postWebhook(newWebhookRouter(intake), "whsec_test", "not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookReceive_IntakeFailureIsServerError(t *testing.T) {
	intake := newFakeIntake()
	intake.recordErr = errors.New("database down")
	w := postWebhook(newWebhookRouter(intake), "whsec_test", `{"event":"PAYMENT_CONFIRMED","id":"evt_1"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookReceive_AcknowledgesThenProcessesAsync(t *testing.T) {
	intake := newFakeIntake()
	body := `{"event":"PAYMENT_CONFIRMED","id":"evt_1","payment":{"customer":"cus_1"}}`
	w := postWebhook(newWebhookRouter(intake), "whsec_test", body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	require.Len(t, intake.recorded, 1)

	select {
	case event := <-intake.processed:
		assert.Equal(t, "asaas", event.Provider)
		assert.Equal(t, body, event.PayloadJSON)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline was not started after the response was sent")
	}
}
