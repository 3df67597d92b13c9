package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payment-gateway-core/config"
	httpHandler "payment-gateway-core/internal/adapter/http/handler"
	pgStorage "payment-gateway-core/internal/adapter/storage/postgres"
	redisStorage "payment-gateway-core/internal/adapter/storage/redis"
	"payment-gateway-core/internal/core/ports"
	"payment-gateway-core/internal/metrics"
	"payment-gateway-core/internal/service"
	"payment-gateway-core/pkg/logger"
	"payment-gateway-core/pkg/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load(os.Getenv("PGC_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("api", cfg.Log.Level, cfg.Log.Pretty)
	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting payment gateway core")

	ctx := context.Background()

	pool, err := pgStorage.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	rdb, err := redisStorage.New(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Repositories
	teamRepo := pgStorage.NewTeamRepository(pool)
	paymentRepo := pgStorage.NewPaymentRepository(pool)
	txRepo := pgStorage.NewTransactionRepository(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)
	attemptRepo := pgStorage.NewDeliveryAttemptRepository(pool)

	// Redis stores
	lockStore := redisStorage.NewLockStore(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	windowStore := redisStorage.NewWindowStore(rdb)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Core services
	encSvc, err := newEncryptionService(cfg.AES)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewSHA256SignatureService()
	jwtSvc := service.NewJWTTokenService(cfg.Admin.JWTSecret, cfg.Admin.JWTExpiry, cfg.Admin.JWTIssuer)
	tokenSvc := service.NewExpiringTokenService(sigSvc, teamRepo, encSvc,
		cfg.Tokens.TTL, cfg.Tokens.MaxTokensPerTeam, log)
	auditSvc := service.NewAuditService(auditRepo, log)
	limiter := service.NewRateLimiter(service.DefaultPolicies(), m, log)
	verifier := service.NewWebhookVerifier(nonceStore)

	// Webhook delivery engine
	webhookEngine := service.NewWebhookEngine(
		&http.Client{Timeout: cfg.Webhook.DefaultTimeout},
		attemptRepo,
		windowStore,
		teamRepo,
		encSvc,
		service.WebhookEngineConfig{
			Workers:          cfg.Webhook.Workers,
			QueueCapacity:    cfg.Webhook.QueueCapacity,
			DefaultTimeout:   cfg.Webhook.DefaultTimeout,
			UserAgent:        cfg.Webhook.UserAgent,
			ReplayProtection: cfg.Webhook.ReplayProtection,
			MaxPayloadBytes:  cfg.Webhook.MaxPayloadBytes,
		},
		m, log,
	)
	webhookEngine.Start()

	// Lifecycle engine and dispatcher
	paymentSvc := service.NewPaymentService(service.PaymentServiceDeps{
		DB:       pool,
		Payments: paymentRepo,
		Txs:      txRepo,
		Teams:    teamRepo,
		Audit:    auditSvc,
		Locker:   lockStore,
		Sink:     webhookEngine,
		Metrics:  m,
		Log:      log,

		LockTimeout:       cfg.Processing.LockTimeout,
		ProcessingTimeout: cfg.Processing.ProcessingTimeout,
		MaxRetries:        cfg.Processing.MaxRetries,
		BaseRetryDelay:    cfg.Processing.BaseRetryDelay,
		GlobalConcurrency: cfg.Processing.GlobalConcurrency,
	})

	dispatcher := service.NewDispatcher(paymentSvc, service.DispatcherConfig{
		QueueCapacity:        cfg.Processing.QueueCapacity,
		Workers:              cfg.Processing.Workers,
		GlobalConcurrency:    cfg.Processing.GlobalConcurrency,
		TeamConcurrency:      cfg.Processing.TeamConcurrency,
		AllowConcurrentTeams: cfg.Processing.AllowConcurrentTeams,
		MaxRetries:           cfg.Processing.MaxRetries,
		BaseRetryDelay:       cfg.Processing.BaseRetryDelay,
	}, m, log)
	dispatcher.Start()

	adminSvc := service.NewAdminService(pool, paymentRepo, txRepo, auditRepo, teamRepo,
		auditSvc, jwtSvc, cfg.Admin.Username, cfg.Admin.Password, log)

	// Background sweeps
	sched := scheduler.New(log)
	sched.Every(cfg.Tokens.CleanupInterval, "token_cleanup", tokenSvc.Cleanup)
	sched.Every(time.Minute, "rate_limit_sweep", limiter.Sweep)
	sched.Every(5*time.Minute, "idempotency_cleanup", paymentSvc.CleanupIdempotency)
	sched.Every(cfg.Processing.RetrySweepInterval, "dispatcher_retry_sweep", dispatcher.SweepRetries)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Payments:   paymentSvc,
		Dispatcher: dispatcher,
		Tokens:     tokenSvc,
		Admin:      adminSvc,
		Verifier:   verifier,

		Teams:       teamRepo,
		EncSvc:      encSvc,
		SigSvc:      sigSvc,
		AdminTokens: jwtSvc,

		RateLimiter: limiter,
		HealthCheckers: []ports.HealthChecker{
			pgStorage.NewHealthChecker(pool),
			redisStorage.NewHealthChecker(rdb),
		},
		Registry: registry,
		Logger:   log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop intake first, then drain the engines.
	sched.Stop()
	dispatcher.Stop()
	webhookEngine.Stop()

	log.Info().Msg("Server exited")
}

// newEncryptionService builds the AES-GCM service from a hex key, or
// derives one from a passphrase when no key is configured.
func newEncryptionService(cfg config.AESConfig) (*service.AESEncryptionService, error) {
	if cfg.Key != "" {
		return service.NewAESEncryptionService(cfg.Key)
	}
	return service.NewAESEncryptionServiceFromPassphrase(cfg.Passphrase, cfg.Salt)
}
