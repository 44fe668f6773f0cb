// Package config loads every runtime setting from the environment, applies
// defaults, and validates the result: server timeouts, logging, the SQLite
// path, ledger endpoints, payment rules, rate limiting tiers, and
// observability switches all live here.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig groups transport-hardening settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig carries the OpenTelemetry exporter settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-payments-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LedgerConfig defines access to the ledger node gateway and the transfer
// execution profile.
type LedgerConfig struct {
	GatewayURL     string        // LEDGER_GATEWAY_URL
	APIKey         string        // LEDGER_API_KEY
	SignerKey      string        // LEDGER_SIGNER_KEY (hex ed25519 seed)
	MaxAmountUnits int64         // LEDGER_MAX_AMOUNT_UNITS per-transfer cap
	PollInterval   time.Duration // LEDGER_POLL_INTERVAL
	ConfirmTimeout time.Duration // LEDGER_CONFIRM_TIMEOUT
	RetryAttempts  int           // LEDGER_RETRY_ATTEMPTS
	RetryBaseDelay time.Duration // LEDGER_RETRY_BASE_DELAY
	RetryMaxDelay  time.Duration // LEDGER_RETRY_MAX_DELAY
}

// BreakerConfig defines the default circuit breaker profile.
type BreakerConfig struct {
	FailureThreshold int           // BREAKER_FAILURE_THRESHOLD
	SuccessThreshold int           // BREAKER_SUCCESS_THRESHOLD
	OpenTimeout      time.Duration // BREAKER_OPEN_TIMEOUT
	MonitoringPeriod time.Duration // BREAKER_MONITORING_PERIOD
}

// PaymentConfig defines payment lifecycle rules and pool addresses.
type PaymentConfig struct {
	MinAmountUnits int64         // PAYMENT_MIN_AMOUNT_UNITS
	PendingTTL     time.Duration // PAYMENT_PENDING_TTL
	DonationPool   string        // PAYMENT_DONATION_POOL
	PremiumPool    string        // PAYMENT_PREMIUM_POOL
}

// NonceConfig defines anti-replay nonce behavior.
type NonceConfig struct {
	TTL        time.Duration // NONCE_TTL
	MaxPerUser int           // NONCE_MAX_PER_USER
}

// Config is the full runtime configuration of the payments server.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path

	// Domain
	Ledger  LedgerConfig
	Breaker BreakerConfig
	Payment PaymentConfig
	Nonce   NonceConfig

	// Edge rate limiting (per-IP, in front of the domain limiter)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Background sweeps
	SweepInterval time.Duration // SWEEP_INTERVAL for idle-state eviction
	IdleMaxAge    time.Duration // IDLE_MAX_AGE before eviction

	// Observability
	OTEL OTELConfig
}

// MustLoad is Load or panic, for main.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load builds a Config from the environment, normalizing and validating
// along the way.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "payments.db"),

		// Ledger
		Ledger: LedgerConfig{
			GatewayURL:     getenv("LEDGER_GATEWAY_URL", "http://localhost:8899"),
			APIKey:         getenv("LEDGER_API_KEY", ""),
			SignerKey:      getenv("LEDGER_SIGNER_KEY", ""),
			MaxAmountUnits: getint64("LEDGER_MAX_AMOUNT_UNITS", 1_000_000_000_000),
			PollInterval:   getdur("LEDGER_POLL_INTERVAL", 2*time.Second),
			ConfirmTimeout: getdur("LEDGER_CONFIRM_TIMEOUT", 60*time.Second),
			RetryAttempts:  getint("LEDGER_RETRY_ATTEMPTS", 3),
			RetryBaseDelay: getdur("LEDGER_RETRY_BASE_DELAY", time.Second),
			RetryMaxDelay:  getdur("LEDGER_RETRY_MAX_DELAY", 30*time.Second),
		},

		// Circuit breaker defaults
		Breaker: BreakerConfig{
			FailureThreshold: getint("BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold: getint("BREAKER_SUCCESS_THRESHOLD", 3),
			OpenTimeout:      getdur("BREAKER_OPEN_TIMEOUT", 30*time.Second),
			MonitoringPeriod: getdur("BREAKER_MONITORING_PERIOD", 60*time.Second),
		},

		// Payment rules
		Payment: PaymentConfig{
			MinAmountUnits: getint64("PAYMENT_MIN_AMOUNT_UNITS", 1000),
			PendingTTL:     getdur("PAYMENT_PENDING_TTL", 24*time.Hour),
			DonationPool:   getenv("PAYMENT_DONATION_POOL", ""),
			PremiumPool:    getenv("PAYMENT_PREMIUM_POOL", ""),
		},

		// Nonces
		Nonce: NonceConfig{
			TTL:        getdur("NONCE_TTL", 15*time.Minute),
			MaxPerUser: getint("NONCE_MAX_PER_USER", 10),
		},

		// Edge rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Background sweeps
		SweepInterval: getdur("SWEEP_INTERVAL", 5*time.Minute),
		IdleMaxAge:    getdur("IDLE_MAX_AGE", time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-payments-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.Ledger.GatewayURL) == "" {
		return cfg, errors.New("LEDGER_GATEWAY_URL must not be empty")
	}
	if cfg.Ledger.MaxAmountUnits <= 0 {
		return cfg, errors.New("LEDGER_MAX_AMOUNT_UNITS must be > 0")
	}
	if cfg.Ledger.PollInterval <= 0 || cfg.Ledger.ConfirmTimeout <= 0 {
		return cfg, errors.New("ledger poll interval and confirm timeout must be > 0")
	}
	if cfg.Ledger.RetryAttempts < 1 {
		return cfg, errors.New("LEDGER_RETRY_ATTEMPTS must be >= 1")
	}
	if cfg.Breaker.FailureThreshold < 1 || cfg.Breaker.SuccessThreshold < 1 {
		return cfg, errors.New("breaker thresholds must be >= 1")
	}
	if cfg.Breaker.OpenTimeout <= 0 || cfg.Breaker.MonitoringPeriod <= 0 {
		return cfg, errors.New("breaker timeout and monitoring period must be > 0")
	}
	if cfg.Payment.MinAmountUnits < 1 {
		return cfg, errors.New("PAYMENT_MIN_AMOUNT_UNITS must be >= 1")
	}
	if cfg.Payment.PendingTTL <= 0 {
		return cfg, errors.New("PAYMENT_PENDING_TTL must be > 0")
	}
	if cfg.Nonce.TTL <= 0 {
		return cfg, errors.New("NONCE_TTL must be > 0")
	}
	if cfg.Nonce.MaxPerUser < 1 {
		return cfg, errors.New("NONCE_MAX_PER_USER must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.SweepInterval <= 0 || cfg.IdleMaxAge <= 0 {
		return cfg, errors.New("sweep interval and idle max age must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- env parsing helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath forces a leading '/' and drops a trailing one, keeping
// "/" itself intact.
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
