package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tabhq/tab-billing/internal/config"
	"github.com/tabhq/tab-billing/internal/domain"
	"github.com/tabhq/tab-billing/internal/handler"
	"github.com/tabhq/tab-billing/internal/infra/cache"
	"github.com/tabhq/tab-billing/internal/infra/notify"
	"github.com/tabhq/tab-billing/internal/infra/observability"
	"github.com/tabhq/tab-billing/internal/infra/resilience"
	"github.com/tabhq/tab-billing/internal/infra/sqlite"
	"github.com/tabhq/tab-billing/internal/port"
	"github.com/tabhq/tab-billing/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("db_path", cfg.DBPath),
		zap.Bool("webhook_enabled", cfg.WebhookURL != ""),
		zap.Duration("rule_cache_ttl", cfg.RuleCacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "tab-billing")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Store ---
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	// --- Cache ---
	ruleCache := cache.New[[]domain.BillingGroupRule](cfg.RuleCacheTTL)
	defer ruleCache.Stop()

	// --- Notifier ---
	var notifier port.Notifier = notify.Noop{}
	if cfg.WebhookURL != "" {
		resilienceCfg := resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
		}
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		notifier = notify.NewWebhook(httpClient, cfg.WebhookURL, resilienceCfg, cfg.WebhookMaxConcurrency, logger)
		logger.Info("webhook notifier enabled", zap.String("url", cfg.WebhookURL))
	} else {
		logger.Info("no webhook configured, rule events will be dropped")
	}

	// --- Services ---
	authSvc := service.NewAuthService(store, cfg.JWTSecret, cfg.JWTAccessTTL, logger)
	tabSvc := service.NewTabService(store, logger)
	rulesSvc := service.NewRulesService(store, ruleCache, metrics, logger)
	billingSvc := service.NewBillingService(store, rulesSvc, notifier, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Auth:    authSvc,
		Tabs:    tabSvc,
		Billing: billingSvc,
		Rules:   rulesSvc,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
