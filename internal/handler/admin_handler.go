package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"songmetrix/entsync/internal/model"
	"songmetrix/entsync/internal/repository"
	"songmetrix/entsync/internal/service"
	"songmetrix/entsync/pkg/response"
)

type AdminHandler struct {
	intake    service.IntakeService
	reconRepo repository.ReconciliationRepository
}

func NewAdminHandler(intake service.IntakeService, reconRepo repository.ReconciliationRepository) *AdminHandler {
	return &AdminHandler{intake: intake, reconRepo: reconRepo}
}

type SetStatusRequest struct {
	Status model.Status `json:"status" binding:"required"`
}

// SetUserStatus changes a user's entitlement status on behalf of an admin.
// The change runs through the same pipeline as webhook events, so it is
// logged and its idempotency key dedupes UI double-clicks.
func (h *AdminHandler) SetUserStatus(c *gin.Context) {
	adminID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "invalid user context")
		return
	}

	targetID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	user, err := h.intake.SubmitAdminChange(c.Request.Context(), adminID, targetID, req.Status)
	switch {
	case errors.Is(err, service.ErrInvalidStatus):
		response.BadRequest(c, "invalid status value")
	case errors.Is(err, service.ErrUserNotFound):
		response.NotFound(c, "user not found")
	case errors.Is(err, service.ErrConcurrencyConflict):
		response.Conflict(c, "status changed concurrently, re-submit from current state")
	case err != nil:
		response.InternalError(c, "failed to change status")
	default:
		response.Success(c, user)
	}
}

// ListReconciliation returns recent reconciliation log entries, optionally
// filtered by state.
func (h *AdminHandler) ListReconciliation(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	state := model.RequestState(c.Query("state"))
	if state == "" {
		state = model.StatePartial
	}

	entries, err := h.reconRepo.ListByState(c.Request.Context(), state, limit)
	if err != nil {
		response.InternalError(c, "failed to list reconciliation entries")
		return
	}
	response.Success(c, entries)
}

// ListManualReview returns entries waiting on an operator.
func (h *AdminHandler) ListManualReview(c *gin.Context) {
	entries, err := h.reconRepo.ListByState(c.Request.Context(), model.StateManualReview, 100)
	if err != nil {
		response.InternalError(c, "failed to list manual-review entries")
		return
	}
	response.Success(c, entries)
}
