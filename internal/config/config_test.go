package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		// viper errors on an explicitly named missing file; fall back to
		// discovery mode with no file present.
		cfg, err = Load("")
	}
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "ETHUSDT", cfg.Trading.Symbol1)
	assert.Equal(t, "SOLUSDT", cfg.Trading.Symbol2)
	assert.Equal(t, 4000.0, cfg.Trading.NotionalPerLeg)
	assert.Equal(t, 80.0, cfg.Trading.MaxLossTotal)
	assert.Equal(t, 48, cfg.Trading.RollingWindow)
	assert.Equal(t, 1.5, cfg.Trading.EntryThreshold)
	assert.Equal(t, 0.5, cfg.Trading.ExitThreshold)
	assert.Equal(t, 3.0, cfg.Trading.StopLossThreshold)
	assert.Equal(t, 0.5, cfg.Trading.PartialExitPct)
	assert.Equal(t, 48, cfg.Trading.MaxHoldBars)
	assert.Equal(t, 30*time.Second, cfg.PollInterval())
	assert.Equal(t, time.Hour, cfg.ReconcileWindow())
	assert.True(t, cfg.Binance.Testnet)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
trading:
  symbol1: BTCUSDT
  symbol2: ETHUSDT
  entry_threshold: 2.0
  exit_threshold: 0.4
  stop_loss_threshold: 4.0
  instruments:
    BTCUSDT:
      min_qty: 0.001
      step_size: 0.001
    ETHUSDT:
      min_qty: 0.001
      step_size: 0.001
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Trading.Symbol1)
	assert.Equal(t, 2.0, cfg.Trading.EntryThreshold)

	pair := cfg.Pair()
	assert.Equal(t, "BTCUSDT", pair.Symbol1)
	assert.Equal(t, 0.001, pair.Rules1.StepSize)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key-from-env")
	t.Setenv("BINANCE_API_SECRET", "secret-from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.Binance.APIKey)
	assert.Equal(t, "secret-from-env", cfg.Binance.APISecret)
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Trading.ExitThreshold = 2.0
	assert.Error(t, cfg.Validate())

	cfg.Trading.ExitThreshold = 0.5
	cfg.Trading.StopLossThreshold = 1.0
	assert.Error(t, cfg.Validate())

	cfg.Trading.StopLossThreshold = 3.0
	cfg.Trading.PartialExitPct = 1.5
	assert.Error(t, cfg.Validate())
}
