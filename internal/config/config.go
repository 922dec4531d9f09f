package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/meanrev/pairsbot/pkg/models"
	"github.com/meanrev/pairsbot/pkg/secrets"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Binance BinanceConfig `mapstructure:"binance"`
	Trading TradingConfig `mapstructure:"trading"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Logging LoggingConfig `mapstructure:"logging"`
	GCP     GCPConfig     `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type BinanceConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Testnet   bool   `mapstructure:"testnet"`
}

type TradingConfig struct {
	Symbol1             string                     `mapstructure:"symbol1"`
	Symbol2             string                     `mapstructure:"symbol2"`
	NotionalPerLeg      float64                    `mapstructure:"notional_per_leg"`
	MaxLossTotal        float64                    `mapstructure:"max_loss_total"`
	RollingWindow       int                        `mapstructure:"rolling_window"`
	EntryThreshold      float64                    `mapstructure:"entry_threshold"`
	ExitThreshold       float64                    `mapstructure:"exit_threshold"`
	StopLossThreshold   float64                    `mapstructure:"stop_loss_threshold"`
	PartialExitPct      float64                    `mapstructure:"partial_exit_pct"`
	MaxHoldBars         int                        `mapstructure:"max_hold_bars"`
	PollIntervalSeconds int                        `mapstructure:"poll_interval_seconds"`
	BarInterval         string                     `mapstructure:"bar_interval"`
	ReconcileWindowMin  int                        `mapstructure:"reconcile_window_minutes"`
	Instruments         map[string]models.LotRules `mapstructure:"instruments"`
}

type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GCPConfig struct {
	ProjectID   string              `mapstructure:"project_id"`
	UseSecrets  bool                `mapstructure:"use_secrets"`
	SecretNames secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pairsbot")
	}

	v.SetEnvPrefix("PAIRSBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects parameter combinations the strategy cannot trade with.
func (c *Config) Validate() error {
	t := c.Trading
	if t.ExitThreshold >= t.EntryThreshold {
		return fmt.Errorf("exit threshold %.2f must be below entry threshold %.2f", t.ExitThreshold, t.EntryThreshold)
	}
	if t.StopLossThreshold <= t.EntryThreshold {
		return fmt.Errorf("stop loss threshold %.2f must be above entry threshold %.2f", t.StopLossThreshold, t.EntryThreshold)
	}
	if t.PartialExitPct <= 0 || t.PartialExitPct > 1 {
		return fmt.Errorf("partial exit pct %.2f must be in (0, 1]", t.PartialExitPct)
	}
	if t.RollingWindow < 2 {
		return fmt.Errorf("rolling window %d must be at least 2", t.RollingWindow)
	}
	if t.NotionalPerLeg <= 0 {
		return fmt.Errorf("notional per leg must be positive")
	}
	if t.MaxHoldBars < 1 {
		return fmt.Errorf("max hold bars %d must be at least 1", t.MaxHoldBars)
	}
	return nil
}

// Pair assembles the immutable instrument pair configuration, including
// each leg's lot rules.
func (c *Config) Pair() models.InstrumentPair {
	return models.InstrumentPair{
		Symbol1: c.Trading.Symbol1,
		Symbol2: c.Trading.Symbol2,
		Rules1:  c.Trading.Instruments[c.Trading.Symbol1],
		Rules2:  c.Trading.Instruments[c.Trading.Symbol2],
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trading.PollIntervalSeconds) * time.Second
}

func (c *Config) ReconcileWindow() time.Duration {
	return time.Duration(c.Trading.ReconcileWindowMin) * time.Minute
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)

	// Exchange defaults
	v.SetDefault("binance.testnet", true)

	// Trading defaults
	v.SetDefault("trading.symbol1", "ETHUSDT")
	v.SetDefault("trading.symbol2", "SOLUSDT")
	v.SetDefault("trading.notional_per_leg", 4000.0)
	v.SetDefault("trading.max_loss_total", 80.0)
	v.SetDefault("trading.rolling_window", 48)
	v.SetDefault("trading.entry_threshold", 1.5)
	v.SetDefault("trading.exit_threshold", 0.5)
	v.SetDefault("trading.stop_loss_threshold", 3.0)
	v.SetDefault("trading.partial_exit_pct", 0.5)
	v.SetDefault("trading.max_hold_bars", 48)
	v.SetDefault("trading.poll_interval_seconds", 30)
	v.SetDefault("trading.bar_interval", "1m")
	v.SetDefault("trading.reconcile_window_minutes", 60)
	v.SetDefault("trading.instruments", map[string]any{
		"ETHUSDT": map[string]any{"min_qty": 0.001, "step_size": 0.001},
		"SOLUSDT": map[string]any{"min_qty": 1.0, "step_size": 1.0},
	})

	// Ledger defaults
	v.SetDefault("ledger.path", "./data/trade_logs.json")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.api_key", secretNames.APIKey)
	v.SetDefault("gcp.secret_names.api_secret", secretNames.APISecret)
}

func overrideFromEnv(config *Config) {
	if apiKey := os.Getenv("BINANCE_API_KEY"); apiKey != "" {
		config.Binance.APIKey = apiKey
	}
	if apiSecret := os.Getenv("BINANCE_API_SECRET"); apiSecret != "" {
		config.Binance.APISecret = apiSecret
	}
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets that are not already set
	if config.Binance.APIKey == "" {
		config.Binance.APIKey = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.APIKey, "")
	}
	if config.Binance.APISecret == "" {
		config.Binance.APISecret = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.APISecret, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}
