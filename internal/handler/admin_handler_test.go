package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songmetrix/entsync/internal/handler/middleware"
	"songmetrix/entsync/internal/model"
	"songmetrix/entsync/internal/service"
	jwtpkg "songmetrix/entsync/pkg/jwt"
	"songmetrix/entsync/pkg/response"
)

type fakeReconRepo struct {
	entries   []model.ReconciliationLogEntry
	lastState model.RequestState
	lastLimit int
	listErr   error
}

func (r *fakeReconRepo) Create(context.Context, *model.ReconciliationLogEntry) error { return nil }
func (r *fakeReconRepo) Update(context.Context, *model.ReconciliationLogEntry) error { return nil }
func (r *fakeReconRepo) HasApplied(context.Context, string) (bool, error)            { return false, nil }
func (r *fakeReconRepo) ListPartialSince(context.Context, time.Time, int) ([]model.ReconciliationLogEntry, error) {
	return nil, nil
}

func (r *fakeReconRepo) ListApplyingBefore(context.Context, time.Time, int) ([]model.ReconciliationLogEntry, error) {
	return nil, nil
}

func (r *fakeReconRepo) ListByState(_ context.Context, state model.RequestState, limit int) ([]model.ReconciliationLogEntry, error) {
	r.lastState = state
	r.lastLimit = limit
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []model.ReconciliationLogEntry
	for _, e := range r.entries {
		if e.State == state {
			out = append(out, e)
		}
	}
	return out, nil
}

// injectClaims stands in for the JWT middleware so handler tests can set the
// acting admin directly.
func injectClaims(adminID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserClaims, &jwtpkg.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: adminID.String()},
		})
		c.Next()
	}
}

func newAdminRouter(intake *fakeIntake, recon *fakeReconRepo, adminID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewAdminHandler(intake, recon)
	grp := r.Group("/api/v1/admin", injectClaims(adminID))
	grp.POST("/users/:user_id/status", h.SetUserStatus)
	grp.GET("/reconciliation", h.ListReconciliation)
	grp.GET("/reconciliation/manual-review", h.ListManualReview)
	return r
}

func putStatus(r *gin.Engine, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/users/"+userID+"/status", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetUserStatus_Success(t *testing.T) {
	adminID := uuid.New()
	targetID := uuid.New()
	intake := newFakeIntake()
	intake.submitFn = func(_ context.Context, gotAdmin, gotTarget uuid.UUID, target model.Status) (*model.User, error) {
		assert.Equal(t, adminID, gotAdmin)
		assert.Equal(t, targetID, gotTarget)
		assert.Equal(t, model.StatusAtivo, target)
		return &model.User{ID: gotTarget, Email: "u@example.com", Status: target}, nil
	}
	r := newAdminRouter(intake, &fakeReconRepo{}, adminID)

	w := putStatus(r, targetID.String(), `{"status":"ATIVO"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Code)
	user := resp.Data.(map[string]interface{})
	assert.Equal(t, "ATIVO", user["status"])
}

func TestSetUserStatus_InvalidUserID(t *testing.T) {
	r := newAdminRouter(newFakeIntake(), &fakeReconRepo{}, uuid.New())
	w := putStatus(r, "not-a-uuid", `{"status":"ATIVO"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetUserStatus_MissingBody(t *testing.T) {
	r := newAdminRouter(newFakeIntake(), &fakeReconRepo{}, uuid.New())
	w := putStatus(r, uuid.NewString(), `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetUserStatus_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid status", service.ErrInvalidStatus, http.StatusBadRequest},
		{"unknown user", service.ErrUserNotFound, http.StatusNotFound},
		{"concurrent change", service.ErrConcurrencyConflict, http.StatusConflict},
		{"backend failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intake := newFakeIntake()
			intake.submitFn = func(context.Context, uuid.UUID, uuid.UUID, model.Status) (*model.User, error) {
				return nil, tc.err
			}
			r := newAdminRouter(intake, &fakeReconRepo{}, uuid.New())
			w := putStatus(r, uuid.NewString(), `{"status":"ATIVO"}`)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestSetUserStatus_RejectsMissingClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewAdminHandler(newFakeIntake(), &fakeReconRepo{})
	r.POST("/api/v1/admin/users/:user_id/status", h.SetUserStatus)

	w := putStatus(r, uuid.NewString(), `{"status":"ATIVO"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListReconciliation_DefaultsToPartial(t *testing.T) {
	recon := &fakeReconRepo{entries: []model.ReconciliationLogEntry{
		{ID: 1, State: model.StatePartial},
		{ID: 2, State: model.StateSuccess},
	}}
	r := newAdminRouter(newFakeIntake(), recon, uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconciliation", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatePartial, recon.lastState)
	assert.Equal(t, 50, recon.lastLimit)

	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
}

func TestListReconciliation_StateAndLimitParams(t *testing.T) {
	recon := &fakeReconRepo{}
	r := newAdminRouter(newFakeIntake(), recon, uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconciliation?state=CONFLICT&limit=10", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StateConflict, recon.lastState)
	assert.Equal(t, 10, recon.lastLimit)
}

func TestListReconciliation_RejectsBadLimit(t *testing.T) {
	r := newAdminRouter(newFakeIntake(), &fakeReconRepo{}, uuid.New())
	for _, limit := range []string{"0", "-1", "501", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconciliation?limit="+limit, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}
}

func TestListManualReview(t *testing.T) {
	recon := &fakeReconRepo{entries: []model.ReconciliationLogEntry{
		{ID: 3, State: model.StateManualReview},
	}}
	r := newAdminRouter(newFakeIntake(), recon, uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconciliation/manual-review", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StateManualReview, recon.lastState)
}
