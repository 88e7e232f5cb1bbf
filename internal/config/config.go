// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trend_trader/internal/core"
	"trend_trader/internal/resilience"
)

// Config represents the complete configuration structure
type Config struct {
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Accounts   []AccountConfig  `yaml:"accounts"`
	System     SystemConfig     `yaml:"system"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Alerts     AlertConfig      `yaml:"alerts"`
}

// AlertConfig contains notification channel settings; empty values disable a
// channel.
type AlertConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// ExchangeConfig contains the exchange API credentials
type ExchangeConfig struct {
	APIKey    Secret `yaml:"api_key"`
	SecretKey Secret `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`   // Optional override for the REST endpoint
	StreamURL string `yaml:"stream_url"` // Optional override for the kline stream endpoint
}

// AccountConfig describes one trading engine instance
type AccountConfig struct {
	AccountID               string  `yaml:"account_id"`
	Symbol                  string  `yaml:"symbol"`
	Interval                string  `yaml:"interval"`
	Leverage                int     `yaml:"leverage"`
	OrderSizeQuote          float64 `yaml:"order_size_quote"`
	StopLossPercent         float64 `yaml:"stop_loss_percent"`
	TakeProfitPercent       float64 `yaml:"take_profit_percent"`
	EntitlementCheckSeconds int     `yaml:"entitlement_check_seconds"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel      string `yaml:"log_level"`
	TradeDBPath   string `yaml:"trade_db_path"`
	EntitlementDB string `yaml:"entitlement_db_path"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ResilienceConfig overrides the built-in guard defaults; zero values keep
// the defaults.
type ResilienceConfig struct {
	Exchange    GuardConfig `yaml:"exchange"`
	Entitlement GuardConfig `yaml:"entitlement"`
}

// GuardConfig is one dependency's breaker/retry tuning
type GuardConfig struct {
	FailureThreshold uint `yaml:"failure_threshold"`
	OpenDelaySeconds int  `yaml:"open_delay_seconds"`
	MaxAttempts      int  `yaml:"max_attempts"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateExchange(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateAccounts(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.APIKey == "" {
		return ValidationError{
			Field:   "exchange.api_key",
			Message: "API key is required",
		}
	}
	if c.Exchange.SecretKey == "" {
		return ValidationError{
			Field:   "exchange.secret_key",
			Message: "secret key is required",
		}
	}
	return nil
}

func (c *Config) validateAccounts() error {
	if len(c.Accounts) == 0 {
		return ValidationError{
			Field:   "accounts",
			Message: "at least one account must be configured",
		}
	}

	seen := make(map[string]bool)
	for i, acct := range c.Accounts {
		if seen[acct.AccountID] {
			return ValidationError{
				Field:   fmt.Sprintf("accounts[%d].account_id", i),
				Value:   acct.AccountID,
				Message: "duplicate account id",
			}
		}
		seen[acct.AccountID] = true

		if err := acct.Settings().Validate(); err != nil {
			return ValidationError{
				Field:   fmt.Sprintf("accounts[%d]", i),
				Value:   acct.AccountID,
				Message: err.Error(),
			}
		}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	if c.System.TradeDBPath == "" {
		return ValidationError{
			Field:   "system.trade_db_path",
			Message: "trade database path is required",
		}
	}
	if c.System.EntitlementDB == "" {
		return ValidationError{
			Field:   "system.entitlement_db_path",
			Message: "entitlement database path is required",
		}
	}
	return nil
}

// Settings converts one account entry into validated engine settings.
func (a AccountConfig) Settings() core.Settings {
	checkInterval := time.Duration(a.EntitlementCheckSeconds) * time.Second
	if checkInterval <= 0 {
		checkInterval = 60 * time.Second
	}
	return core.Settings{
		AccountID:         a.AccountID,
		Symbol:            strings.ToUpper(a.Symbol),
		Interval:          a.Interval,
		Leverage:          a.Leverage,
		OrderSizeQuote:    decimal.NewFromFloat(a.OrderSizeQuote),
		StopLossPercent:   decimal.NewFromFloat(a.StopLossPercent),
		TakeProfitPercent: decimal.NewFromFloat(a.TakeProfitPercent),
		EntitlementCheck:  checkInterval,
	}
}

// ExchangeGuard returns the exchange guard config with overrides applied.
func (c *Config) ExchangeGuard() resilience.Config {
	return applyGuardOverrides(resilience.ExchangeDefaults(), c.Resilience.Exchange)
}

// EntitlementGuard returns the entitlement guard config with overrides applied.
func (c *Config) EntitlementGuard() resilience.Config {
	return applyGuardOverrides(resilience.EntitlementDefaults(), c.Resilience.Entitlement)
}

func applyGuardOverrides(base resilience.Config, o GuardConfig) resilience.Config {
	if o.FailureThreshold > 0 {
		base.FailureThreshold = o.FailureThreshold
	}
	if o.OpenDelaySeconds > 0 {
		base.OpenDelay = time.Duration(o.OpenDelaySeconds) * time.Second
	}
	if o.MaxAttempts > 0 {
		base.MaxAttempts = o.MaxAttempts
	}
	return base
}

// String returns a string representation of the configuration. Credentials
// are Secret values and redact themselves when marshaled.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			APIKey:    "test_api_key",
			SecretKey: "test_secret_key",
		},
		Accounts: []AccountConfig{
			{
				AccountID:               "acct-1",
				Symbol:                  "BTCUSDT",
				Interval:                "1m",
				Leverage:                10,
				OrderSizeQuote:          100.0,
				StopLossPercent:         2.0,
				TakeProfitPercent:       4.0,
				EntitlementCheckSeconds: 60,
			},
		},
		System: SystemConfig{
			LogLevel:      "INFO",
			TradeDBPath:   "trades.db",
			EntitlementDB: "entitlements.db",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
