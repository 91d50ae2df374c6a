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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "TradePipe", cfg.App.Name)
	assert.Equal(t, "paper", cfg.Trading.Mode)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Trading.Symbols)

	assert.Equal(t, "polling", cfg.Collector.Mode)
	assert.Equal(t, 30*time.Second, cfg.Collector.Interval())
	assert.Equal(t, 90*time.Second, cfg.Collector.WSSilenceThreshold)

	assert.Equal(t, "hybrid", cfg.Strategy.FusionStrategy)
	assert.Equal(t, 2, cfg.Strategy.MinSignals)
	assert.InDelta(t, 0.6, cfg.Strategy.MinConfidence, 1e-9)
	// Cooldown defaults to the decision interval.
	assert.Equal(t, cfg.Strategy.DecisionInterval, cfg.Strategy.Cooldown)
	assert.InDelta(t, 1.0, cfg.Strategy.BayesianWeight+cfg.Strategy.ConsensusWeight+cfg.Strategy.TimeDecayWeight, 1e-9)

	assert.InDelta(t, 0.20, cfg.Risk.MaxPortfolioRisk, 1e-9)
	assert.InDelta(t, 0.01, cfg.Risk.MaxRiskPerTrade, 1e-9)
	assert.InDelta(t, 1.5, cfg.Risk.MinRR, 1e-9)
	assert.Equal(t, "hybrid", cfg.Risk.SizingMethod)
	assert.Equal(t, "atr", cfg.Risk.StopMethod)
	assert.InDelta(t, 2.0, cfg.Risk.ATRMultiplier, 1e-9)

	assert.Equal(t, 10*time.Second, cfg.Execution.MonitoringInterval)
	assert.Equal(t, 5*time.Second, cfg.Execution.OrderTimeout)
	assert.Equal(t, 30*time.Second, cfg.Execution.FillWaitTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  environment: staging
trading:
  symbols: ["SOL/USDT"]
strategy:
  fusion_strategy: bayesian
  min_confidence: 0.7
  decision_interval: 30s
risk:
  sizing_method: kelly
collector:
  mode: streaming
  interval_seconds: 15
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.App.Environment)
	assert.Equal(t, []string{"SOL/USDT"}, cfg.Trading.Symbols)
	assert.Equal(t, "bayesian", cfg.Strategy.FusionStrategy)
	assert.InDelta(t, 0.7, cfg.Strategy.MinConfidence, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Strategy.Cooldown)
	assert.Equal(t, "kelly", cfg.Risk.SizingMethod)
	assert.Equal(t, "streaming", cfg.Collector.Mode)
	assert.Equal(t, 15*time.Second, cfg.Collector.Interval())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad fusion strategy", func(c *Config) { c.Strategy.FusionStrategy = "oracle" }, "strategy.fusion_strategy"},
		{"bad sizing method", func(c *Config) { c.Risk.SizingMethod = "martingale" }, "risk.sizing_method"},
		{"bad stop method", func(c *Config) { c.Risk.StopMethod = "none" }, "risk.stop_method"},
		{"rr below one", func(c *Config) { c.Risk.MinRR = 0.5 }, "risk.min_rr"},
		{"per trade above portfolio", func(c *Config) { c.Risk.MaxRiskPerTrade = 0.5 }, "risk.max_risk_per_trade"},
		{"bad collector mode", func(c *Config) { c.Collector.Mode = "push" }, "collector.mode"},
		{"no symbols", func(c *Config) { c.Trading.Symbols = nil }, "trading.symbols"},
		{"zero monitoring interval", func(c *Config) { c.Execution.MonitoringInterval = 0 }, "execution.monitoring_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)

			verrs, ok := err.(ValidationErrors)
			require.True(t, ok)

			found := false
			for _, ve := range verrs {
				if ve.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected a validation error on %s, got %v", tt.field, verrs)
		})
	}
}

func TestValidateSecretPlaceholders(t *testing.T) {
	result := ValidateSecret("changeme_in_production", "Database password", 12, true)
	assert.False(t, result.IsValid)

	result = ValidateSecret("qwerty", "Database password", 12, true)
	assert.False(t, result.IsValid)

	result = ValidateSecret("N7#kQz9$wLpX2vRb", "Database password", 12, true)
	assert.True(t, result.IsValid)
	assert.Equal(t, SecretStrengthStrong, result.Strength)
}

func TestLiveModeRequiresKeys(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Trading.Mode = "live"
	err = cfg.Validate()
	require.Error(t, err)
}
