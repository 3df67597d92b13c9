package handler

import (
	"payment-gateway-core/internal/adapter/http/middleware"
	"payment-gateway-core/internal/core/ports"
	"payment-gateway-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds everything the router wires together.
type RouterDeps struct {
	Payments   *service.PaymentService
	Dispatcher *service.Dispatcher
	Tokens     *service.ExpiringTokenService
	Admin      *service.AdminService
	Verifier   *service.WebhookVerifier

	Teams       ports.TeamRepository
	EncSvc      ports.EncryptionService
	SigSvc      ports.SignatureService
	AdminTokens ports.AdminTokenService

	RateLimiter    *service.RateLimiter // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Registry       *prometheus.Registry // nil = /metrics disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))

	r.GET("/healthz", HealthCheck(deps.HealthCheckers...))
	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	rl := func(policy string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimit(deps.RateLimiter, policy)
	}

	v1 := r.Group("/api/v1")

	// Merchant API: every request is token-signed over its body.
	tokenAuth := middleware.TokenAuth(deps.Teams, deps.EncSvc, deps.SigSvc, deps.Logger)
	paymentHandler := NewPaymentHandler(deps.Payments, deps.Dispatcher)
	payments := v1.Group("/payments", tokenAuth)
	{
		payments.POST("/init", rl("payment_init"), paymentHandler.Init)
		payments.POST("/authorize", rl("api_default"), paymentHandler.Authorize)
		payments.POST("/confirm", rl("api_default"), paymentHandler.Confirm)
		payments.POST("/cancel", rl("payment_cancel"), paymentHandler.Cancel)
		payments.POST("/state", rl("status_check"), paymentHandler.GetState)
	}

	if deps.Verifier != nil {
		webhookHandler := NewWebhookHandler(deps.Verifier, deps.EncSvc)
		v1.POST("/webhooks/verify", tokenAuth, rl("api_default"), webhookHandler.Verify)
	}

	tokenHandler := NewTokenHandler(deps.Tokens)
	tokens := v1.Group("/tokens")
	{
		tokens.POST("", tokenAuth, rl("api_default"), tokenHandler.Issue)
		tokens.POST("/refresh", rl("api_default"), tokenHandler.Refresh)
	}

	// Ops surface: credential login, then JWT-guarded routes.
	adminHandler := NewAdminHandler(deps.Admin)
	admin := v1.Group("/admin")
	{
		admin.POST("/login", rl("admin"), adminHandler.Login)

		guarded := admin.Group("", middleware.JWTAuth(deps.AdminTokens))
		guarded.DELETE("/teams/:slug/payments", rl("admin"), adminHandler.BulkDeleteTeamPayments)
		guarded.GET("/payments/:id/audit", rl("admin"), adminHandler.VerifyPaymentAudit)
	}

	return r
}
