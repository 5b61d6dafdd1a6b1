package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	config "github.com/simcorehq/admission/configs"
	"github.com/simcorehq/admission/internal/application/services"
	"github.com/simcorehq/admission/internal/core/domain/tier"
	"github.com/simcorehq/admission/internal/core/ports"
	"github.com/simcorehq/admission/internal/infrastructure/db"
	"github.com/simcorehq/admission/internal/infrastructure/email"
	"github.com/simcorehq/admission/internal/infrastructure/health"
	"github.com/simcorehq/admission/internal/infrastructure/httpserver"
	"github.com/simcorehq/admission/internal/infrastructure/reaper"
	"github.com/simcorehq/admission/internal/infrastructure/redis"
	"github.com/simcorehq/admission/internal/infrastructure/repositories"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Setup logger
	logger := logrus.New()
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(level)
	}

	logger.Info("Starting simcore admission service...")

	// Initialize database (apply pool settings from config)
	database, err := db.NewDatabaseWithConfig(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	logger.Info("Connected to database successfully")

	// Run migrations
	if err := database.Migrate("./migrations"); err != nil {
		logger.Warn("Failed to run migrations:", err)
	}

	// The tier table is loaded once and passed explicitly everywhere.
	registry := tier.NewRegistry(cfg.Tiers)

	// Pick the usage ledger backend. Postgres is the default; Redis keeps
	// the sliding window in sorted sets.
	var usageLedger ports.UsageLedger
	healthCheckers := []ports.HealthChecker{health.NewDBHealthChecker(database)}
	if cfg.Ledger.Backend == "redis" {
		redisClient, err := redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis:", err)
		}
		defer redisClient.Close()
		logger.Info("Connected to Redis successfully")
		usageLedger = repositories.NewUsageRedisRepository(redisClient, 2*cfg.RateLimit.Window)
		healthCheckers = append(healthCheckers, health.NewRedisHealthChecker(redisClient))
	} else {
		usageLedger = repositories.NewUsagePostgresRepository(database, logger)
	}

	quotaLedger := repositories.NewQuotaPostgresRepository(database, logger)
	apiKeyRepo := repositories.NewAPIKeyRepository(database, logger)

	alertService := email.NewAlertService(&email.AlertConfig{
		SendGridAPIKey: cfg.Alert.SendGridAPIKey,
		FromEmail:      cfg.Alert.FromEmail,
		FromName:       cfg.Alert.FromName,
		OpsEmail:       cfg.Alert.OpsEmail,
	}, logger)

	rateLimiter := services.NewRateLimiterService(usageLedger, registry, &services.RateLimiterConfig{
		Window:       cfg.RateLimit.Window,
		QueryTimeout: cfg.RateLimit.QueryTimeout,
	}, logger)

	quotaService := services.NewQuotaService(quotaLedger, registry, alertService, &services.QuotaServiceConfig{
		TierChange:        cfg.Quota.TierChange,
		FailOpenResources: cfg.Quota.FailOpenResources,
		QueryTimeout:      cfg.Quota.QueryTimeout,
	}, logger)

	admissionService := services.NewAdmissionService(rateLimiter, quotaService, logger)
	identityService := services.NewIdentityService(apiKeyRepo, cfg.Auth.JWTSecret, logger)

	// Background cleanup of expired usage rows.
	usageReaper := reaper.NewReaper(usageLedger, cfg.Ledger.ReapInterval, 2*cfg.RateLimit.Window, logger)
	usageReaper.Start()
	defer usageReaper.Stop()

	// Create server configuration
	serverConfig := &httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		TLSCertFile:  cfg.Server.TLSCertFile,
		TLSKeyFile:   cfg.Server.TLSKeyFile,
		Endpoint:     cfg.RateLimit.Endpoint,
		Platform:     cfg.Quota.Platform,
	}

	deps := httpserver.ServerDeps{
		IdentityResolver: identityService,
		Admission:        admissionService,
		QuotaService:     quotaService,
		Registry:         registry,
		HealthCheckers:   healthCheckers,
	}

	server := httpserver.NewServer(serverConfig, logger, deps)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	logger.Infof("Server started on %s:%s", cfg.Server.Host, cfg.Server.Port)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
