package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propguard/riskwatch/internal/risk"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultEvalInterval, cfg.EvalInterval)
	assert.Equal(t, DefaultWebhookTimeout, cfg.WebhookTimeout)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPM)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("ENV", "production")
	t.Setenv("EVAL_INTERVAL", "30s")
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/risk")
	t.Setenv("ADMIN_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30*time.Second, cfg.EvalInterval)
	assert.Equal(t, "https://hooks.example.com/risk", cfg.WebhookURL)
	assert.Equal(t, "s3cret", cfg.AdminSecret)
}

func TestLoad_RejectsInvalidWebhookURL(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "not a url")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_RejectsNonPositiveDurations(t *testing.T) {
	cfg := &Config{EvalInterval: 0, WebhookTimeout: time.Second}
	assert.Error(t, cfg.Validate())

	cfg = &Config{EvalInterval: time.Minute, WebhookTimeout: 0}
	assert.Error(t, cfg.Validate())
}

func TestLoadThresholds_Defaults(t *testing.T) {
	th := LoadThresholds()
	assert.Equal(t, risk.DefaultThresholds(), th)
}

func TestLoadThresholds_EnvOverrides(t *testing.T) {
	t.Setenv("WINDOW_SIZE", "50")
	t.Setenv("INITIAL_BALANCE", "250000")
	t.Setenv("HFT_DURATION", "30s")
	t.Setenv("RISK_THRESHOLD", "65")

	th := LoadThresholds()
	assert.Equal(t, 50, th.WindowSize)
	assert.Equal(t, 250000.0, th.InitialBalance)
	assert.Equal(t, 30*time.Second, th.HFTDuration)
	assert.Equal(t, 65.0, th.AlertScore)
	// Untouched fields keep their defaults.
	assert.Equal(t, risk.DefaultThresholds().WinRatio, th.WinRatio)
}

func TestLoadThresholds_IgnoresGarbage(t *testing.T) {
	t.Setenv("WINDOW_SIZE", "banana")
	t.Setenv("HFT_DURATION", "-5s")

	th := LoadThresholds()
	assert.Equal(t, risk.DefaultThresholds().WindowSize, th.WindowSize)
	assert.Equal(t, risk.DefaultThresholds().HFTDuration, th.HFTDuration)
}
