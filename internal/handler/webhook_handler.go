package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"songmetrix/entsync/internal/service"
	"songmetrix/entsync/pkg/response"
)

// webhookBodyLimit bounds inbound payloads; provider events are small.
const webhookBodyLimit = 1 << 20

// processTimeout bounds the downstream pipeline that runs after the webhook
// response has already been sent.
const processTimeout = 60 * time.Second

type WebhookHandler struct {
	intake service.IntakeService
	logger *zap.Logger
}

func NewWebhookHandler(intake service.IntakeService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{intake: intake, logger: logger}
}

// Receive authenticates and durably records a provider webhook, acknowledges
// it, and runs the status pipeline asynchronously. The provider gets its 200
// before any slow downstream call so retries do not pile up; only
// authentication and malformed-body failures reject synchronously.
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")

	token := c.GetHeader(h.intake.TokenHeader(provider))
	if !h.intake.VerifyWebhookToken(provider, token) {
		response.Unauthorized(c, "invalid webhook token")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "unreadable request body")
		return
	}

	event, err := h.intake.RecordWebhook(c.Request.Context(), provider, payload)
	if err != nil {
		if errors.Is(err, service.ErrMalformedPayload) {
			response.BadRequest(c, "malformed webhook payload")
			return
		}
		h.logger.Error("webhook intake failed",
			zap.String("provider", provider), zap.Error(err))
		response.InternalError(c, "failed to record event")
		return
	}

	c.String(http.StatusOK, "OK")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		h.intake.ProcessWebhook(ctx, event)
	}()
}
