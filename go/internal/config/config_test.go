package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "whsec")
	t.Setenv("ADMIN_TOKEN", "admin")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("PORT", "9090")

	path := writeConfig(t, `
fraud:
  threshold: 80
timing:
  question_time_limit: 15s
settlement:
  auto_restart: false
payment:
  allowed_cidrs: ["203.0.113.0/24"]
  retry:
    base_delay: 30s
log_level: debug
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 80, cfg.Fraud.Threshold)
	assert.Equal(t, 0.5, cfg.Fraud.MinDuration)
	assert.Equal(t, 15*time.Second, cfg.Timing.QuestionTimeLimit)
	assert.Equal(t, 15*time.Second, cfg.Settlement.QuestionTimeLimit, "settlement follows the timing limit")
	assert.Equal(t, 2*time.Second, cfg.Timing.MaxClientDrift)
	assert.False(t, cfg.Settlement.AutoRestart)
	assert.Equal(t, 0.01, cfg.Settlement.DurationTolerance)
	assert.Equal(t, []string{"203.0.113.0/24"}, cfg.Payment.AllowedCIDRs)
	assert.Equal(t, 30*time.Second, cfg.Payment.Retry.BaseDelay)
	assert.Equal(t, 5, cfg.Payment.Retry.MaxAttempts)
	assert.Equal(t, "debug", cfg.LogLevel)

	assert.Equal(t, "whsec", cfg.Payment.WebhookSecret)
	assert.Equal(t, "admin", cfg.Server.AdminToken)
	assert.Equal(t, "nats://nats:4222", cfg.JetStream.URL)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Fraud, cfg.Fraud)
	assert.Equal(t, want.Payment.Retry, cfg.Payment.Retry)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestSecretsComeOnlyFromEnv(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "")
	path := writeConfig(t, `
payment:
  webhook_secret: from-file
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Payment.WebhookSecret)
}

func TestLoadFileInvalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":      "fraud: [",
		"zero attempts": "payment:\n  retry:\n    max_attempts: 0\n",
		"bad cidr":      "payment:\n  allowed_cidrs: [\"nope/99\"]\n",
		"bad level":     "log_level: loud\n",
		"no time limit": "timing:\n  question_time_limit: 0s\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestSettlementTimeLimitIgnoresFileValue(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "timing:\n  question_time_limit: 12s\nsettlement:\n  question_time_limit: 30s\n"))
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, cfg.Settlement.QuestionTimeLimit)
}

func TestValidateRejectsDivergentTimeLimits(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Settlement.QuestionTimeLimit = 20 * time.Second
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "differs from timing.question_time_limit")
}

func TestAllowedCIDRsFromEnv(t *testing.T) {
	t.Setenv("WEBHOOK_ALLOWED_CIDRS", "198.51.100.0/24,203.0.113.5")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"198.51.100.0/24", "203.0.113.5"}, cfg.Payment.AllowedCIDRs)
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := LoadFile(filepath.Join("..", "..", "..", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Fraud, cfg.Fraud)
	assert.Equal(t, Default().Payment.Retry, cfg.Payment.Retry)
	assert.True(t, cfg.Settlement.AutoRestart)
}
