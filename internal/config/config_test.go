package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validYAML = `
exchange:
  api_key: test_key
  secret_key: test_secret
accounts:
  - account_id: acct-1
    symbol: btcusdt
    interval: 1m
    leverage: 10
    order_size_quote: 100.0
    stop_loss_percent: 2.0
    take_profit_percent: 4.0
    entitlement_check_seconds: 60
system:
  log_level: INFO
  trade_db_path: trades.db
  entitlement_db_path: entitlements.db
telemetry:
  metrics_port: 9090
  enable_metrics: true
`

func TestLoadConfig_Valid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, Secret("test_key"), cfg.Exchange.APIKey)
	require.Len(t, cfg.Accounts, 1)

	settings := cfg.Accounts[0].Settings()
	assert.Equal(t, "BTCUSDT", settings.Symbol)
	assert.Equal(t, 10, settings.Leverage)
	assert.Equal(t, time.Minute, settings.EntitlementCheck)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("TT_TEST_API_KEY", "from_env")

	yaml := `
exchange:
  api_key: ${TT_TEST_API_KEY}
  secret_key: test_secret
accounts:
  - account_id: acct-1
    symbol: BTCUSDT
    interval: 1m
    leverage: 5
    order_size_quote: 50.0
    stop_loss_percent: 1.0
    take_profit_percent: 2.0
system:
  log_level: INFO
  trade_db_path: trades.db
  entitlement_db_path: entitlements.db
`
	cfg, err := LoadConfig(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, Secret("from_env"), cfg.Exchange.APIKey)
}

func TestValidate_RejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing api key", func(c *Config) { c.Exchange.APIKey = "" }},
		{"missing secret", func(c *Config) { c.Exchange.SecretKey = "" }},
		{"no accounts", func(c *Config) { c.Accounts = nil }},
		{"bad interval", func(c *Config) { c.Accounts[0].Interval = "90s" }},
		{"bad leverage", func(c *Config) { c.Accounts[0].Leverage = 500 }},
		{"bad log level", func(c *Config) { c.System.LogLevel = "LOUD" }},
		{"missing trade db", func(c *Config) { c.System.TradeDBPath = "" }},
		{"missing entitlement db", func(c *Config) { c.System.EntitlementDB = "" }},
		{"duplicate accounts", func(c *Config) {
			c.Accounts = append(c.Accounts, c.Accounts[0])
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestGuardOverrides(t *testing.T) {
	cfg := DefaultConfig()

	// No overrides: defaults apply.
	g := cfg.ExchangeGuard()
	assert.Equal(t, uint(3), g.FailureThreshold)
	assert.Equal(t, 30*time.Second, g.OpenDelay)

	cfg.Resilience.Exchange = GuardConfig{
		FailureThreshold: 7,
		OpenDelaySeconds: 90,
		MaxAttempts:      5,
	}
	g = cfg.ExchangeGuard()
	assert.Equal(t, uint(7), g.FailureThreshold)
	assert.Equal(t, 90*time.Second, g.OpenDelay)
	assert.Equal(t, 5, g.MaxAttempts)

	e := cfg.EntitlementGuard()
	assert.Equal(t, uint(5), e.FailureThreshold)
	assert.Equal(t, time.Minute, e.OpenDelay)
}

func TestConfigString_RedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	out := cfg.String()

	assert.NotContains(t, out, "test_api_key")
	assert.NotContains(t, out, "test_secret_key")
	assert.Contains(t, out, "[REDACTED]")
}
