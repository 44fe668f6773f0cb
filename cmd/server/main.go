// Command server runs the payments backend HTTP API.
//
// Startup sequence:
//  1. Load .env (best effort) and the environment configuration.
//  2. Configure global logging (zerolog) and OpenTelemetry tracing.
//  3. Open the SQLite store, run migrations, and seed the plan catalog.
//  4. Build the ledger client, circuit breakers, rate limiter (restoring
//     still-active blocks), nonce service, and transfer service.
//  5. Start background workers: confirmation poller, stale-payment expiry,
//     subscription expiry, and idle-state sweepers.
//  6. Serve the Gin router with graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/coria/go-payments-backend/internal/breaker"
	"github.com/coria/go-payments-backend/internal/chain"
	"github.com/coria/go-payments-backend/internal/config"
	"github.com/coria/go-payments-backend/internal/domain"
	httpapi "github.com/coria/go-payments-backend/internal/http"
	"github.com/coria/go-payments-backend/internal/nonce"
	"github.com/coria/go-payments-backend/internal/observability"
	"github.com/coria/go-payments-backend/internal/ratelimit"
	"github.com/coria/go-payments-backend/internal/repo"
	"github.com/coria/go-payments-backend/internal/services"
	"github.com/coria/go-payments-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// violationStore adapts repo free functions to ratelimit.ViolationStore.
type violationStore struct {
	db *gorm.DB
}

func (s violationStore) Record(ctx context.Context, v *domain.RateLimitViolation) error {
	return repo.CreateViolation(ctx, s.db, v)
}

func (s violationStore) RecentSince(ctx context.Context, since time.Time) ([]domain.RateLimitViolation, error) {
	return repo.ListRecentViolations(ctx, s.db, since)
}

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	if err := seedPlans(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("plan seed failed")
	}

	// Outbound ledger protection.
	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
		MonitoringPeriod: cfg.Breaker.MonitoringPeriod,
	}, nil, log.Logger)

	// Domain rate limiting with persisted hard blocks.
	limiter := ratelimit.New(ratelimit.DefaultProfiles(), violationStore{db: db}, nil, log.Logger)
	if err := limiter.RestoreBlocks(ctx); err != nil {
		log.Warn().Err(err).Msg("restore rate-limit blocks")
	}

	nonces := nonce.New(cfg.Nonce.TTL, cfg.Nonce.MaxPerUser, nil, log.Logger)

	// Ledger access. A signer is only needed for server-initiated transfers;
	// confirmation and verification work without one.
	client := chain.NewHTTPClient(cfg.Ledger.GatewayURL, cfg.Ledger.APIKey)
	var signer chain.Signer
	if cfg.Ledger.SignerKey != "" {
		signer, err = chain.NewLocalSigner(cfg.Ledger.SignerKey)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid signer key")
		}
	}
	transfers := services.NewTransferService(client, signer, breakers, nil, log.Logger)
	transfers.MaxAmountUnits = cfg.Ledger.MaxAmountUnits
	transfers.PollInterval = cfg.Ledger.PollInterval
	transfers.ConfirmTimeout = cfg.Ledger.ConfirmTimeout
	transfers.Retry = breaker.Policy{
		Attempts:  cfg.Ledger.RetryAttempts,
		BaseDelay: cfg.Ledger.RetryBaseDelay,
		MaxDelay:  cfg.Ledger.RetryMaxDelay,
	}

	// Background workers.
	go transfers.RunPoller(ctx)
	go breakers.RunSweeper(ctx, cfg.SweepInterval, cfg.IdleMaxAge)
	go limiter.RunSweeper(ctx, cfg.SweepInterval, cfg.IdleMaxAge)
	go nonces.RunSweeper(ctx, cfg.SweepInterval)
	go runPaymentExpiry(ctx, db, cfg.SweepInterval)
	go runSubscriptionExpiry(ctx, db, cfg.SweepInterval)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.Dependencies{
		Verifier: transfers,
		Breakers: breakers,
		Limiter:  limiter,
		Nonces:   nonces,
		Log:      log.Logger,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// seedPlans upserts the plan catalog so fresh deployments have purchasable
// plans. Prices are in minor units.
func seedPlans(ctx context.Context, db *gorm.DB) error {
	plans := []domain.PremiumPlan{
		{PlanType: domain.PlanMonthly, Name: "Premium Monthly", PriceUnits: 100_000, DurationDays: 30,
			Features: "priority_support,higher_limits"},
		{PlanType: domain.PlanYearly, Name: "Premium Yearly", PriceUnits: 1_000_000, DurationDays: 365,
			Features: "priority_support,higher_limits,yearly_badge"},
		{PlanType: domain.PlanLifetime, Name: "Premium Lifetime", PriceUnits: 5_000_000, DurationDays: 0,
			Features: "priority_support,higher_limits,lifetime_badge"},
	}
	for i := range plans {
		if err := repo.UpsertPlan(ctx, db, &plans[i]); err != nil {
			return err
		}
	}
	return nil
}

// runSubscriptionExpiry periodically flips overdue subscriptions to expired.
// Status reads also expire lazily; this sweep keeps the table tidy for
// reporting queries.
func runSubscriptionExpiry(ctx context.Context, db *gorm.DB, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.ExpireOverdueSubscriptions(ctx, db, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("expire subscriptions")
				continue
			}
			if n > 0 {
				log.Info().Int64("expired", n).Msg("subscriptions expired")
			}
		}
	}
}

// runPaymentExpiry periodically fails pending payments that outlived their
// TTL so they cannot be confirmed later.
func runPaymentExpiry(ctx context.Context, db *gorm.DB, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.ExpireStalePayments(ctx, db, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("expire stale payments")
				continue
			}
			if n > 0 {
				log.Info().Int64("count", n).Msg("expired stale pending payments")
			}
		}
	}
}
