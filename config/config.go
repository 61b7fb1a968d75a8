// Package config loads server settings from VSLA_* environment variables.
// cmd/server lets flags override the most common ones.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type Config struct {
	// --- Server ---
	Port            int
	DBPath          string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration

	// --- Logging ---
	LogLevel  zerolog.Level
	LogFormat string // json | console

	// --- Sessions ---
	SessionSecret string
	SessionIssuer string
	SessionTTL    time.Duration
	// DevLogin enables POST /api/auth/dev-login, which issues a token for any
	// well-formed session. Never enable it in production.
	DevLogin bool

	// External identity provider (optional)
	JWKSURL             string
	JWKSIssuer          string
	JWKSRefreshInterval time.Duration

	// --- Lending ---
	FallbackRatePercent decimal.Decimal
	AutoApproveLoans    bool

	// --- Calculator ---
	CacheSize      int
	CacheTTL       time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CalcRateLimit  int           // requests per window per client
	CalcRateWindow time.Duration

	// --- Arrears sweep ---
	ArrearsInterval time.Duration
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.Port, err = getEnvInt("VSLA_PORT", 8080); err != nil {
		return nil, fmt.Errorf("VSLA_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("VSLA_PORT: %d out of range", cfg.Port)
	}
	cfg.DBPath = getEnvDefault("VSLA_DB_PATH", "vsla.db")
	cfg.AllowedOrigins = splitList(getEnvDefault("VSLA_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	if cfg.ShutdownTimeout, err = getEnvDuration("VSLA_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("VSLA_SHUTDOWN_TIMEOUT: %w", err)
	}
	if cfg.ReadTimeout, err = getEnvDuration("VSLA_HTTP_READ_TIMEOUT", 15*time.Second); err != nil {
		return nil, fmt.Errorf("VSLA_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.WriteTimeout, err = getEnvDuration("VSLA_HTTP_WRITE_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("VSLA_HTTP_WRITE_TIMEOUT: %w", err)
	}

	if cfg.LogLevel, err = zerolog.ParseLevel(getEnvDefault("VSLA_LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("VSLA_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("VSLA_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return nil, fmt.Errorf("VSLA_LOG_FORMAT: invalid format %q, expected json or console", cfg.LogFormat)
	}

	cfg.SessionSecret = os.Getenv("VSLA_SESSION_SECRET")
	cfg.SessionIssuer = getEnvDefault("VSLA_SESSION_ISSUER", "vsla-engine")
	if cfg.SessionTTL, err = getEnvDuration("VSLA_SESSION_TTL", 12*time.Hour); err != nil {
		return nil, fmt.Errorf("VSLA_SESSION_TTL: %w", err)
	}
	if cfg.DevLogin, err = getEnvBool("VSLA_DEV_LOGIN", false); err != nil {
		return nil, fmt.Errorf("VSLA_DEV_LOGIN: %w", err)
	}
	cfg.JWKSURL = os.Getenv("VSLA_JWKS_URL")
	cfg.JWKSIssuer = os.Getenv("VSLA_JWKS_ISSUER")
	if cfg.JWKSRefreshInterval, err = getEnvDuration("VSLA_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("VSLA_JWKS_REFRESH_INTERVAL: %w", err)
	}

	rate := getEnvDefault("VSLA_LOAN_FALLBACK_RATE", "10")
	if cfg.FallbackRatePercent, err = decimal.NewFromString(rate); err != nil || cfg.FallbackRatePercent.IsNegative() {
		return nil, fmt.Errorf("VSLA_LOAN_FALLBACK_RATE: invalid rate %q", rate)
	}
	if cfg.AutoApproveLoans, err = getEnvBool("VSLA_LOAN_AUTO_APPROVE", true); err != nil {
		return nil, fmt.Errorf("VSLA_LOAN_AUTO_APPROVE: %w", err)
	}

	if cfg.CacheSize, err = getEnvInt("VSLA_CACHE_SIZE", 1024); err != nil {
		return nil, fmt.Errorf("VSLA_CACHE_SIZE: %w", err)
	}
	if cfg.CacheTTL, err = getEnvDuration("VSLA_CACHE_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("VSLA_CACHE_TTL: %w", err)
	}
	cfg.RedisAddr = os.Getenv("VSLA_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("VSLA_REDIS_PASSWORD")
	if cfg.RedisDB, err = getEnvInt("VSLA_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("VSLA_REDIS_DB: %w", err)
	}
	if cfg.CalcRateLimit, err = getEnvInt("VSLA_CALC_RATE_LIMIT", 60); err != nil {
		return nil, fmt.Errorf("VSLA_CALC_RATE_LIMIT: %w", err)
	}
	if cfg.CalcRateWindow, err = getEnvDuration("VSLA_CALC_RATE_WINDOW", time.Minute); err != nil {
		return nil, fmt.Errorf("VSLA_CALC_RATE_WINDOW: %w", err)
	}

	if cfg.ArrearsInterval, err = getEnvDuration("VSLA_ARREARS_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("VSLA_ARREARS_INTERVAL: %w", err)
	}

	return cfg, nil
}

// NewLogger builds the service logger.
func NewLogger(cfg *Config, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(cfg.LogLevel).
		With().
		Timestamp().
		Str("service", "vsla-engine").
		Str("version", Version).
		Logger()
}

// --- helpers ---

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q (use Go format: 30s, 1h, 15m)", val)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid boolean: %q", val)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
