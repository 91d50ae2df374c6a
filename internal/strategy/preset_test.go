package strategy

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepipe/internal/config"
)

func TestPresetYAMLRoundTrip(t *testing.T) {
	p := NewDefaultPreset("momentum-scalper")
	p.Metadata.Author = "ops"
	p.Metadata.Tags = []string{"momentum", "testnet"}

	data, err := ExportPreset(p, FormatYAML)
	require.NoError(t, err)

	imported, err := ImportPreset(data)
	require.NoError(t, err)
	assert.Equal(t, p.Metadata.Name, imported.Metadata.Name)
	assert.Equal(t, p.Fusion.Strategy, imported.Fusion.Strategy)
	assert.Equal(t, p.Risk.SizingMethod, imported.Risk.SizingMethod)
	assert.Equal(t, p.Symbols, imported.Symbols)
	assert.Equal(t, PresetSchemaVersion, imported.Metadata.SchemaVersion)
}

func TestPresetJSONFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.json")

	p := NewDefaultPreset("swing")
	require.NoError(t, ExportPresetFile(p, path))

	imported, err := ImportPresetFile(path)
	require.NoError(t, err)
	assert.Equal(t, "swing", imported.Metadata.Name)
}

func TestMigrateRejectsNewerSchema(t *testing.T) {
	p := NewDefaultPreset("future")
	p.Metadata.SchemaVersion = "9.0"

	err := MigratePreset(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestImportMissingVersionDefaults(t *testing.T) {
	imported, err := ImportPreset([]byte("metadata:\n  name: bare\n"))
	require.NoError(t, err)
	assert.Equal(t, PresetSchemaVersion, imported.Metadata.SchemaVersion)
}

func TestPresetValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Preset)
	}{
		{"missing name", func(p *Preset) { p.Metadata.Name = "" }},
		{"bad fusion strategy", func(p *Preset) { p.Fusion.Strategy = "astrology" }},
		{"confidence out of range", func(p *Preset) { p.Fusion.MinConfidence = 1.5 }},
		{"risk per trade out of range", func(p *Preset) { p.Risk.MaxRiskPerTrade = 2.0 }},
		{"negative rr", func(p *Preset) { p.Risk.MinRR = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewDefaultPreset("valid")
			tt.mutate(p)
			assert.Error(t, p.Validate())
		})
	}
}

// The agent binaries load presets from disk and apply them over the file
// configuration before wiring the service; the applied settings must
// produce a service the fusion layer accepts.
func TestImportedPresetConfiguresService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.yaml")

	p := NewDefaultPreset("conservative")
	p.Fusion.Strategy = "consensus"
	p.Fusion.MinSignals = 3
	p.Fusion.MinConfidence = 0.75
	require.NoError(t, ExportPresetFile(p, path))

	imported, err := ImportPresetFile(path)
	require.NoError(t, err)

	var cfg config.StrategyConfig
	imported.ApplyStrategy(&cfg)
	assert.Equal(t, "consensus", cfg.FusionStrategy)
	assert.Equal(t, 3, cfg.MinSignals)

	svc, err := NewService(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, svc.minSignals)
	assert.Equal(t, 0.75, svc.minConfidence)
}

func TestFromConfigApplyRoundTrip(t *testing.T) {
	strategyCfg := config.StrategyConfig{
		FusionStrategy:   "time_decay",
		MinSignals:       3,
		SignalTimeout:    2 * time.Minute,
		BufferMax:        20,
		MinConfidence:    0.7,
		MinAgreement:     0.65,
		DecisionInterval: time.Minute,
		Cooldown:         2 * time.Minute,
		AdaptiveWeights:  true,
	}
	riskCfg := config.RiskConfig{
		SizingMethod:     "kelly",
		StopMethod:       "trailing",
		MaxRiskPerTrade:  0.005,
		MaxPortfolioRisk: 0.15,
		MinRR:            2.0,
		MinConfidence:    0.7,
		ATRMultiplier:    3.0,
		RewardRisk:       2.5,
		FixedRiskPct:     0.01,
		ClusterCap:       0.1,
	}

	p := FromConfig("captured", strategyCfg, riskCfg, []string{"BTCUSDT"})
	require.NoError(t, p.Validate())

	var gotStrategy config.StrategyConfig
	var gotRisk config.RiskConfig
	p.ApplyStrategy(&gotStrategy)
	p.ApplyRisk(&gotRisk)

	assert.Equal(t, strategyCfg, gotStrategy)
	assert.Equal(t, riskCfg, gotRisk)
}
