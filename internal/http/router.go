// Package httpapi assembles the Gin transport for the payments API: it
// stacks the cross-cutting middleware (tracing, request correlation,
// redacted logging, recovery, metrics, idempotency, rate limiting, CORS,
// security headers) and mounts the versioned payment, wallet, and premium
// endpoints on top of the service layer.
//
// Everything long-lived (DB handle, breaker manager, nonce service, domain
// limiter) is built in main and injected through Dependencies, so the
// router itself stays deterministic and trivially testable.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/coria/go-payments-backend/internal/breaker"
	"github.com/coria/go-payments-backend/internal/config"
	"github.com/coria/go-payments-backend/internal/domain"
	"github.com/coria/go-payments-backend/internal/http/handlers"
	"github.com/coria/go-payments-backend/internal/http/middleware"
	"github.com/coria/go-payments-backend/internal/nonce"
	"github.com/coria/go-payments-backend/internal/ratelimit"
	"github.com/coria/go-payments-backend/internal/repo"
	"github.com/coria/go-payments-backend/internal/services"
)

// paymentRepoShim adapts the repository free functions to the
// services.PaymentRepo interface expected by PaymentService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type paymentRepoShim struct{}

// CreatePayment proxies repo.CreatePayment.
func (paymentRepoShim) CreatePayment(ctx context.Context, db *gorm.DB, p *domain.Payment, ttl time.Duration) (*domain.Payment, error) {
	return repo.CreatePayment(ctx, db, p, ttl)
}

// GetPayment proxies repo.GetPayment.
func (paymentRepoShim) GetPayment(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Payment, error) {
	return repo.GetPayment(ctx, db, id, userID)
}

// GetPaymentByIdemKey proxies repo.GetPaymentByIdemKey.
func (paymentRepoShim) GetPaymentByIdemKey(ctx context.Context, db *gorm.DB, userID, key string) (*domain.Payment, error) {
	return repo.GetPaymentByIdemKey(ctx, db, userID, key)
}

// CountPayments proxies repo.CountPayments (pagination support).
func (paymentRepoShim) CountPayments(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountPayments(ctx, db, userID)
}

// ListPaymentsPage proxies repo.ListPaymentsPage (pagination support).
func (paymentRepoShim) ListPaymentsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Payment, error) {
	return repo.ListPaymentsPage(ctx, db, userID, offset, limit)
}

// SetPaymentSignature proxies repo.SetPaymentSignature.
func (paymentRepoShim) SetPaymentSignature(ctx context.Context, db *gorm.DB, id, signature string) error {
	return repo.SetPaymentSignature(ctx, db, id, signature)
}

// MarkPaymentStatus proxies repo.MarkPaymentStatus.
func (paymentRepoShim) MarkPaymentStatus(ctx context.Context, db *gorm.DB, id, status, reason string) error {
	return repo.MarkPaymentStatus(ctx, db, id, status, reason)
}

// CreateLedgerEntry proxies repo.CreateLedgerEntry.
func (paymentRepoShim) CreateLedgerEntry(ctx context.Context, db *gorm.DB, e *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	return repo.CreateLedgerEntry(ctx, db, e)
}

// GetWallet proxies repo.GetWallet.
func (paymentRepoShim) GetWallet(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Wallet, error) {
	return repo.GetWallet(ctx, db, id, userID)
}

// CreateWallet proxies repo.CreateWallet.
func (paymentRepoShim) CreateWallet(ctx context.Context, db *gorm.DB, userID, address, label string) (*domain.Wallet, error) {
	return repo.CreateWallet(ctx, db, userID, address, label)
}

// ListWallets proxies repo.ListWallets.
func (paymentRepoShim) ListWallets(ctx context.Context, db *gorm.DB, userID string) ([]domain.Wallet, error) {
	return repo.ListWallets(ctx, db, userID)
}

// GetPlanByType proxies repo.GetPlanByType.
func (paymentRepoShim) GetPlanByType(ctx context.Context, db *gorm.DB, planType string) (*domain.PremiumPlan, error) {
	return repo.GetPlanByType(ctx, db, planType)
}

// premiumRepoShim adapts the repository free functions to the
// services.PremiumRepo interface expected by PremiumService.
type premiumRepoShim struct{}

func (premiumRepoShim) GetPlanByType(ctx context.Context, db *gorm.DB, planType string) (*domain.PremiumPlan, error) {
	return repo.GetPlanByType(ctx, db, planType)
}

func (premiumRepoShim) ListPlans(ctx context.Context, db *gorm.DB) ([]domain.PremiumPlan, error) {
	return repo.ListPlans(ctx, db)
}

func (premiumRepoShim) GetActiveSubscription(ctx context.Context, db *gorm.DB, userID string) (*domain.PremiumSubscription, error) {
	return repo.GetActiveSubscription(ctx, db, userID)
}

func (premiumRepoShim) CreateSubscription(ctx context.Context, db *gorm.DB, s *domain.PremiumSubscription) (*domain.PremiumSubscription, error) {
	return repo.CreateSubscription(ctx, db, s)
}

func (premiumRepoShim) ExtendSubscription(ctx context.Context, db *gorm.DB, id string, expiresAt *time.Time, planID, paymentID string) error {
	return repo.ExtendSubscription(ctx, db, id, expiresAt, planID, paymentID)
}

func (premiumRepoShim) SetSubscriptionStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	return repo.SetSubscriptionStatus(ctx, db, id, status)
}

func (premiumRepoShim) ExpireOverdueSubscriptions(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	return repo.ExpireOverdueSubscriptions(ctx, db, now)
}

// Dependencies carries the long-lived components built in main that the
// router wires into services and handlers.
type Dependencies struct {
	// Verifier checks ledger state during payment confirmation. Usually the
	// TransferService; may be a stub in tests.
	Verifier services.Verifier
	// Breakers guards outbound ledger calls and feeds the stats endpoint.
	Breakers *breaker.Manager
	// Limiter is the domain token-bucket limiter (per identity, operation,
	// tier). Nil disables domain rate limiting.
	Limiter *ratelimit.Limiter
	// Nonces issues and consumes single-use activation nonces.
	Nonces *nonce.Service
	// Clock drives time-dependent logic; nil means wall clock.
	Clock clock.Clock
	// Log is the base structured logger.
	Log zerolog.Logger
}

// RegisterRoutes installs the middleware stack and every HTTP endpoint on
// the given engine. The stack order is load-bearing: tracing wraps the whole
// request, RequestID must precede the logger so log lines carry the id,
// Recovery sits after the logger so panics are logged with context, the
// idempotency validator runs before the edge rate limiter so a detected
// replay can bypass it, and CORS plus security headers come last.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Dependencies, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// Tracing first so every later stage runs inside the request span.
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// Correlation id, then the access logger that consumes it.
	r.Use(middleware.RequestID())

	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// Panics become the standard JSON 500 envelope.
	r.Use(middleware.Recovery())

	// 1 MiB body cap; payment payloads are small JSON documents.
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Idempotency-Key validation plus replay detection against stored records.
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// Edge limiter per user/IP. The domain limiter with operation tiers and
	// hard blocks runs inside the handlers.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// CORS: wide open when no allowlist is configured.
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Set ACAO: * even without an Origin header so plain health probes see it.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo allowlisted origins ourselves as well; gin-contrib/cors handles preflight.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// HSTS is emitted only when enabled and the request arrived over HTTPS.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Unknown routes and methods still get the JSON error envelope.
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	premiumSvc := services.NewPremiumService(db, premiumRepoShim{}, deps.Clock, deps.Log)
	paySvc := services.NewPaymentService(db, paymentRepoShim{}, deps.Verifier, premiumSvc,
		cfg.Payment.DonationPool, cfg.Payment.PremiumPool)
	paySvc.MinAmountUnits = cfg.Payment.MinAmountUnits
	paySvc.PendingTTL = cfg.Payment.PendingTTL

	h := handlers.New(paySvc, premiumSvc, deps.Nonces, deps.Limiter, deps.Breakers)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Payments
		api.POST("/payments", h.CreatePayment)
		api.GET("/payments", h.ListPayments)
		api.GET("/payments/:id", h.GetPayment)
		api.POST("/payments/:id/confirm", h.ConfirmPayment)

		// Wallets
		api.POST("/wallets", h.CreateWallet)
		api.GET("/wallets", h.ListWallets)

		// Premium
		api.GET("/premium/plans", h.ListPlans)
		api.GET("/premium/status", h.PremiumStatus)
		api.POST("/premium/nonce", h.IssueNonce)
		api.POST("/premium/activate", h.ActivatePremium)

		// Operational introspection
		api.GET("/ratelimit/status", h.RateLimitStatus)
		api.GET("/breakers", h.BreakerStats)
	}
}

// limitBody caps request bodies at maxBytes via http.MaxBytesReader, so an
// oversized payload errors at the first body read in the handler.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a route group at prefix; "/" and "" mean the root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
