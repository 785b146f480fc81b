package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studyhallhq/studyhall/internal"
	"github.com/studyhallhq/studyhall/internal/billing"
	"github.com/studyhallhq/studyhall/internal/domain"
	"github.com/studyhallhq/studyhall/internal/handler"
	"github.com/studyhallhq/studyhall/internal/jobs"
	"github.com/studyhallhq/studyhall/internal/metrics"
	"github.com/studyhallhq/studyhall/internal/middleware"
	"github.com/studyhallhq/studyhall/internal/repository"
	"github.com/studyhallhq/studyhall/internal/service"
	"github.com/studyhallhq/studyhall/internal/storage"
	"github.com/studyhallhq/studyhall/internal/worker"
)

// archiveEnqueueInterval is how often a transaction-log archive export is
// scheduled. The job itself is cheap when nothing has aged out.
const archiveEnqueueInterval = 24 * time.Hour

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	repo := repository.New(db)

	// Plan overrides come in as data so support can grant tiers without a
	// deploy.
	overrides := domain.ParseOverrideTable(cfg.PlanOverrides)
	if len(overrides) > 0 {
		logger.Info("Plan overrides loaded", "count", len(overrides))
	}
	planResolver := service.NewStaticPlanResolver(domain.PlanFree, overrides)

	// Initialize services
	quotaService := service.NewQuotaService(repo, planResolver, logger)
	ledgerService := service.NewLedgerService(db, repo, logger)

	var billingService billing.Service
	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, payment reconciliation runs against the stub source")
		billingService = billing.NewStubService()
	} else {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	}
	reconcileService := service.NewReconcileService(billingService, ledgerService, logger)

	// Initialize archive storage
	store, err := newStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	logger.Info("Storage ready", "provider", cfg.StorageProvider)

	// ==========================================================================
	// Background worker
	// ==========================================================================

	workerCfg := worker.DefaultConfig()
	workerCfg.Concurrency = cfg.WorkerConcurrency
	workerCfg.PollInterval = cfg.WorkerPollInterval
	workerCfg.JobTimeout = cfg.WorkerJobTimeout

	jobWorker, err := worker.New(db, repo, workerCfg, logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	jobWorker.Register(jobs.NewReconcileUserHandler(reconcileService, logger))
	jobWorker.Register(jobs.NewArchiveTransactionsHandler(repo, store, cfg.ArchiveRetention, cfg.ArchiveBatchSize, logger))

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	if cfg.WorkerEnabled {
		jobWorker.Start(workerCtx)
		go scheduleArchiveExports(workerCtx, repo, logger)
	} else {
		logger.Warn("Background worker disabled, reconcile and archive jobs will queue up")
	}

	// Initialize middleware
	adminMw := middleware.NewAdminAuthMiddleware(cfg.AdminAPIKeyHash, logger)
	adminRl := middleware.NewAdminRateLimiter(logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(cfg.Env != "development")
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)

	// Initialize handlers
	quotaHandler := handler.NewQuotaHandler(quotaService, logger)
	adminHandler := handler.NewAdminHandler(ledgerService, reconcileService, store, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, repo, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics (basic auth when configured)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Quota enforcement and usage
	quotaHandler.RegisterRoutes(mux)

	// Admin API (shared-key auth, rate limited per IP)
	requireAdmin := middleware.Stack(adminRl.Limit, adminMw.RequireAdmin)
	adminHandler.RegisterRoutes(mux, requireAdmin)

	// Stripe webhook (signature-verified, no session auth)
	webhookHandler.RegisterRoutes(mux)

	// Outermost first: metrics wraps everything so failures still count.
	stack := middleware.Stack(
		metrics.Middleware,
		loggingMw.Handler,
		securityMw.Handler,
	)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: stack(mux),
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	if cfg.WorkerEnabled {
		stopWorker()
		jobWorker.Stop()
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// newStorage builds the archive storage backend for the configured provider.
func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
		}, logger)
	case storage.ProviderLocal:
		return storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.StorageProvider)
	}
}

// scheduleArchiveExports enqueues a transaction-log archive job on a fixed
// interval. Enqueueing is idempotent enough for this purpose: a duplicate
// job just exports an empty batch.
func scheduleArchiveExports(ctx context.Context, queries *repository.Queries, logger *slog.Logger) {
	ticker := time.NewTicker(archiveEnqueueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := worker.EnqueueArchiveTransactions(ctx, queries); err != nil {
				logger.Error("Failed to enqueue archive export", "error", err)
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
