package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"songmetrix/entsync/internal/config"
	"songmetrix/entsync/internal/handler/middleware"
	"songmetrix/entsync/internal/repository"
	jwtpkg "songmetrix/entsync/pkg/jwt"
)

func SetupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	jwtManager *jwtpkg.Manager,
	userRepo repository.UserRepository,
	webhookHandler *WebhookHandler,
	adminHandler *AdminHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Payment provider webhooks (shared-secret header auth, no JWT)
	r.POST("/webhook/:provider", webhookHandler.Receive)

	// Admin routes (JWT + current ADMIN status)
	admin := r.Group("/api/v1/admin")
	admin.Use(middleware.JWTAuth(jwtManager))
	admin.Use(middleware.AdminAuth(userRepo))
	{
		admin.POST("/users/:user_id/status", adminHandler.SetUserStatus)
		admin.GET("/reconciliation", adminHandler.ListReconciliation)
		admin.GET("/reconciliation/manual-review", adminHandler.ListManualReview)
	}

	return r
}
