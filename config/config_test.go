package config

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "vsla.db", cfg.DBPath)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.AutoApproveLoans)
	assert.True(t, decimal.NewFromInt(10).Equal(cfg.FallbackRatePercent))
	assert.Equal(t, time.Hour, cfg.ArrearsInterval)
	assert.False(t, cfg.DevLogin)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("VSLA_PORT", "9090")
	t.Setenv("VSLA_LOG_LEVEL", "debug")
	t.Setenv("VSLA_LOG_FORMAT", "console")
	t.Setenv("VSLA_LOAN_FALLBACK_RATE", "18.5")
	t.Setenv("VSLA_LOAN_AUTO_APPROVE", "false")
	t.Setenv("VSLA_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("VSLA_ARREARS_INTERVAL", "30m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "18.5", cfg.FallbackRatePercent.String())
	assert.False(t, cfg.AutoApproveLoans)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Minute, cfg.ArrearsInterval)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"VSLA_PORT":               "eighty",
		"VSLA_LOG_FORMAT":         "xml",
		"VSLA_LOG_LEVEL":          "loud",
		"VSLA_LOAN_FALLBACK_RATE": "-1",
		"VSLA_LOAN_AUTO_APPROVE":  "maybe",
		"VSLA_CACHE_TTL":          "forever",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}

	t.Run("port out of range", func(t *testing.T) {
		t.Setenv("VSLA_PORT", "70000")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{LogLevel: zerolog.WarnLevel, LogFormat: "json"}, &buf)

	log.Info().Msg("dropped")
	log.Warn().Str("loan_id", "l-1").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "l-1", entry["loan_id"])
	assert.Equal(t, "vsla-engine", entry["service"])
}
