package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"ledger-api/internal/config"
	"ledger-api/internal/controller"
	"ledger-api/internal/database"
	"ledger-api/internal/engine"
	"ledger-api/internal/ingest"
	"ledger-api/internal/jobs"
	"ledger-api/internal/middleware"
	"ledger-api/internal/monitoring"
	"ledger-api/internal/service"
	"ledger-api/pkg/logger"

	balancecache "ledger-api/internal/cache"
)

// @title Ledger API
// @version 1.0
// @description Multi-currency wallet and append-only ledger service. Handles transfers, withdrawals, swaps, deposit confirmation, payout review and commission accounting.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.New(cfg.Logging)
	log.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"port":       cfg.Server.Port,
	}).Info("Starting Ledger API")

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApp(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.cleanup()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("address", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	cancel()

	log.Info("Server exited")
}

// Application holds the wired dependencies that main needs to run and
// shut down.
type Application struct {
	router  *gin.Engine
	cleanup func()
}

func initializeApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*Application, error) {
	db, err := database.Initialize(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repos := db.Repositories

	var notify service.NotificationPublisher = service.NopPublisher{}
	if cfg.RabbitMQ.Enabled {
		publisher, err := service.NewNotificationPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize notification publisher: %w", err)
		}
		notify = publisher
	}

	threshold, err := decimal.NewFromString(cfg.Ledger.LargeAmountThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid large amount threshold %q: %w", cfg.Ledger.LargeAmountThreshold, err)
	}

	audit := service.NewAuditService(repos.Audit, logger.AuditLogger(cfg.Logging))
	projector := engine.NewProjector(repos.Wallet, repos.Entry)
	fees := engine.NewCommissionEngine(repos.Commission)
	orchestrator := engine.NewOrchestrator(repos.Wallet, repos.Entry, repos.Transaction, repos.Referral, repos.UnitOfWork, repos.Locker, projector, log)
	workflow := engine.NewPayoutWorkflow(repos.Wallet, repos.Entry, repos.Transaction, repos.Payout, repos.UnitOfWork, repos.Locker, projector, service.ContextAuthorizer{}, log)
	reconciler := engine.NewReconciler(repos.Wallet, projector, audit, log)

	balances := balancecache.NewBalanceCache(db.RedisDB, cfg.Redis.BalanceCacheTTL)
	ledger := service.NewLedgerService(
		orchestrator, workflow, fees, projector, service.NoDiscount{},
		repos.Wallet, repos.Entry, repos.Transaction, repos.Payout,
		balances, audit, notify, threshold, log,
	)
	admin := service.NewAdminService(repos.Commission, audit, log)
	webhooks := ingest.NewService(repos.Webhook, orchestrator, audit, cfg.Webhooks.Secrets, log)

	metrics := monitoring.NewMetrics()
	health := monitoring.NewHealthChecker(version)
	health.Register("mongodb", func(ctx context.Context) error {
		return db.MongoDB.Client().Ping(ctx, nil)
	})
	health.Register("redis", func(ctx context.Context) error {
		return db.RedisDB.Ping(ctx).Err()
	})

	scheduler := jobs.NewScheduler(reconciler, webhooks, metrics, cfg.Jobs, log)
	if cfg.Jobs.Enabled {
		if err := scheduler.Start(); err != nil {
			return nil, fmt.Errorf("failed to start background jobs: %w", err)
		}
	}

	router := setupRouter(cfg, log, metrics, health, audit, ledger, admin, webhooks)

	cleanup := func() {
		log.Info("Cleaning up application resources...")
		if cfg.Jobs.Enabled {
			scheduler.Stop()
		}
		if err := notify.Close(); err != nil {
			log.WithError(err).Warn("Failed to close notification publisher")
		}
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer closeCancel()
		if err := db.Close(closeCtx); err != nil {
			log.WithError(err).Warn("Failed to close database connections")
		}
	}

	return &Application{router: router, cleanup: cleanup}, nil
}

func setupRouter(
	cfg *config.Config,
	log *logrus.Logger,
	metrics *monitoring.Metrics,
	health *monitoring.HealthChecker,
	audit service.AuditService,
	ledger service.LedgerService,
	admin service.AdminService,
	webhooks *ingest.Service,
) *gin.Engine {
	router := gin.New()
	_ = router.SetTrustedProxies(cfg.Server.TrustedProxies)

	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(cors.Default())
	router.Use(middleware.RequestLogging(log, metrics))

	router.GET(cfg.Monitoring.HealthCheckPath, func(c *gin.Context) {
		status := health.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if status.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
			"service":    "ledger-api",
		})
	})
	if cfg.Monitoring.EnableMetrics {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	ledgerController := controller.NewLedgerController(ledger, metrics)
	adminController := controller.NewAdminController(ledger, admin, metrics)
	webhookController := controller.NewWebhookController(webhooks, metrics)

	// Provider callbacks authenticate by HMAC signature, not JWT.
	router.POST("/webhooks/:provider", webhookController.Receive)

	auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, audit)
	rateLimit := middleware.NewRateLimitMiddleware(20, 40)

	api := router.Group("/api/v1")
	api.Use(auth.JWTAuth())
	api.Use(rateLimit.Limit())
	{
		api.POST("/transfers", ledgerController.Transfer)
		api.POST("/withdrawals", ledgerController.Withdraw)
		api.POST("/swaps", ledgerController.Swap)
		api.POST("/deposits", ledgerController.InitiateDeposit)
		api.POST("/payouts", ledgerController.RequestPayout)

		api.GET("/wallets", ledgerController.ListWallets)
		api.GET("/wallets/:walletId/balance", ledgerController.GetBalance)
		api.GET("/wallets/:walletId/entries", ledgerController.ListEntries)
		api.GET("/transactions", ledgerController.ListTransactions)
		api.GET("/transactions/:transactionId", ledgerController.GetTransaction)

		adminRoutes := api.Group("/admin")
		adminRoutes.Use(auth.RequireAdmin())
		{
			adminRoutes.GET("/payouts", adminController.ListPendingPayouts)
			adminRoutes.POST("/payouts/:payoutId/approve", adminController.ApprovePayout)
			adminRoutes.POST("/payouts/:payoutId/reject", adminController.RejectPayout)
			adminRoutes.POST("/wallets/:walletId/freeze", adminController.FreezeWallet)
			adminRoutes.POST("/wallets/:walletId/unfreeze", adminController.UnfreezeWallet)
			adminRoutes.PUT("/commissions", adminController.UpsertCommission)
			adminRoutes.GET("/commissions", adminController.ListCommissions)
			adminRoutes.POST("/subscriptions/charge", adminController.ChargeSubscription)
		}
	}

	return router
}
