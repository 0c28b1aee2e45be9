package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"songmetrix/entsync/internal/config"
	"songmetrix/entsync/internal/directory"
	"songmetrix/entsync/internal/handler"
	"songmetrix/entsync/internal/mailer"
	"songmetrix/entsync/internal/model"
	"songmetrix/entsync/internal/repository"
	"songmetrix/entsync/internal/service"
	"songmetrix/entsync/internal/worker"
	cryptopkg "songmetrix/entsync/pkg/crypto"
	jwtpkg "songmetrix/entsync/pkg/jwt"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Initialize logger
	var logger *zap.Logger
	if cfg.Log.Format == "json" {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// 3. Connect to PostgreSQL
	db, err := config.NewPostgresDB(cfg.Database.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}

	// 4. Auto-migrate if enabled
	if cfg.Database.Postgres.AutoMigrate {
		if err := model.AutoMigrate(db); err != nil {
			logger.Fatal("failed to auto-migrate", zap.Error(err))
		}
		logger.Info("database migration completed")
	}

	// 5. Initialize state store (Redis or in-memory)
	var stateStore repository.StateStore
	switch cfg.State.Backend {
	case "redis":
		redisClient, err := config.NewRedisClient(cfg.Database.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		stateStore = repository.NewRedisStateStore(redisClient)
		logger.Info("using Redis state store")
	case "memory":
		stateStore = repository.NewMemoryStateStore()
		logger.Info("using in-memory state store")
	default:
		logger.Fatal("unknown state backend", zap.String("backend", cfg.State.Backend))
	}

	// 6. Initialize repositories
	userRepo := repository.NewPGUserRepository(db)
	eventRepo := repository.NewPGWebhookEventRepository(db)
	reconRepo := repository.NewPGReconciliationRepository(db)

	// 7. Auth directory client
	dir, err := directory.NewHTTPDirectory(cfg.Directory)
	if err != nil {
		logger.Fatal("failed to init auth directory client", zap.Error(err))
	}

	// 8. Mailing backend (selected once here, injected everywhere)
	listManager, err := mailer.NewListManager(cfg.Mail)
	if err != nil {
		logger.Fatal("failed to init mailing list backend", zap.Error(err))
	}
	statusLists := make(map[model.Status]int64, len(cfg.Mail.Lists))
	for name, listID := range cfg.Mail.Lists {
		status := model.Status(name)
		if !status.Valid() {
			logger.Fatal("mail.lists references unknown status", zap.String("status", name))
		}
		statusLists[status] = listID
	}

	var alerter mailer.MailSender
	if cfg.Mail.SMTP.Host != "" {
		alerter, err = mailer.NewSMTPSender(cfg.Mail.SMTP)
		if err != nil {
			logger.Fatal("failed to init smtp sender", zap.Error(err))
		}
	}

	// 9. Webhook secrets: a provider without a configured secret gets a
	// random one so the endpoint stays fail-closed, with the value logged
	// once for local development.
	for name, p := range cfg.Webhook.Providers {
		if p.Secret == "" {
			secret, err := cryptopkg.GenerateWebhookSecret()
			if err != nil {
				logger.Fatal("failed to generate webhook secret", zap.Error(err))
			}
			p.Secret = secret
			cfg.Webhook.Providers[name] = p
			logger.Warn("webhook provider has no configured secret, generated one",
				zap.String("provider", name), zap.String("secret", secret))
		}
	}

	// 10. Initialize services
	writerService := service.NewWriterService(userRepo, reconRepo, dir, listManager, statusLists, logger)
	intakeService := service.NewIntakeService(cfg.Webhook, userRepo, eventRepo, stateStore, writerService, logger)

	// 11. Initialize JWT manager and handlers
	jwtManager := jwtpkg.NewManager(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL)
	webhookHandler := handler.NewWebhookHandler(intakeService, logger)
	adminHandler := handler.NewAdminHandler(intakeService, reconRepo)

	// 12. Repair job
	repairJob := worker.NewRepairJob(reconRepo, userRepo, writerService, stateStore, alerter, cfg.Mail.AlertRecipient, logger)
	if cfg.Repair.Interval > 0 {
		repairJob.Interval = cfg.Repair.Interval
	}
	if cfg.Repair.MaxRetries > 0 {
		repairJob.MaxRetries = cfg.Repair.MaxRetries
	}
	if cfg.Repair.BatchSize > 0 {
		repairJob.BatchSize = cfg.Repair.BatchSize
	}
	if cfg.Repair.StaleAfter > 0 {
		repairJob.StaleAfter = cfg.Repair.StaleAfter
	}

	jobCtx, jobCancel := context.WithCancel(context.Background())
	defer jobCancel()
	go repairJob.Start(jobCtx)

	// 13. Setup router
	router := handler.SetupRouter(cfg, logger, jwtManager, userRepo, webhookHandler, adminHandler)

	// 14. Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 15. Start server with graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// 16. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")
	jobCancel()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited gracefully")
}
