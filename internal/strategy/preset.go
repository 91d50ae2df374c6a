package strategy

import (
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/fusion"
)

// PresetSchemaVersion is the current preset schema version.
const PresetSchemaVersion = "1.0"

// Preset is a portable strategy configuration: the fusion, risk, and
// indicator settings that define a trading style, exportable for backup
// or sharing and importable on another deployment.
type Preset struct {
	Metadata PresetMetadata `yaml:"metadata" json:"metadata"`
	Fusion   FusionPreset   `yaml:"fusion" json:"fusion"`
	Risk     RiskPreset     `yaml:"risk" json:"risk"`
	Symbols  []string       `yaml:"symbols,omitempty" json:"symbols,omitempty"`
}

// PresetMetadata identifies and describes a preset.
type PresetMetadata struct {
	SchemaVersion string    `yaml:"schema_version" json:"schema_version"`
	ID            string    `yaml:"id,omitempty" json:"id,omitempty"`
	Name          string    `yaml:"name" json:"name"`
	Description   string    `yaml:"description,omitempty" json:"description,omitempty"`
	Author        string    `yaml:"author,omitempty" json:"author,omitempty"`
	Tags          []string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	CreatedAt     time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt     time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// FusionPreset mirrors the strategy agent's fusion settings.
type FusionPreset struct {
	Strategy         string  `yaml:"strategy" json:"strategy"`
	MinSignals       int     `yaml:"min_signals" json:"min_signals"`
	SignalTimeoutSec int     `yaml:"signal_timeout_sec" json:"signal_timeout_sec"`
	BufferMax        int     `yaml:"buffer_max" json:"buffer_max"`
	MinConfidence    float64 `yaml:"min_confidence" json:"min_confidence"`
	MinAgreement     float64 `yaml:"min_agreement" json:"min_agreement"`
	DecisionInterval int     `yaml:"decision_interval_sec" json:"decision_interval_sec"`
	CooldownSec      int     `yaml:"cooldown_sec" json:"cooldown_sec"`
	BayesianWeight   float64 `yaml:"bayesian_weight,omitempty" json:"bayesian_weight,omitempty"`
	ConsensusWeight  float64 `yaml:"consensus_weight,omitempty" json:"consensus_weight,omitempty"`
	TimeDecayWeight  float64 `yaml:"time_decay_weight,omitempty" json:"time_decay_weight,omitempty"`
	AdaptiveWeights  bool    `yaml:"adaptive_weights" json:"adaptive_weights"`
}

// RiskPreset mirrors the risk manager's sizing and validation settings.
type RiskPreset struct {
	SizingMethod     string  `yaml:"sizing_method" json:"sizing_method"`
	StopMethod       string  `yaml:"stop_method" json:"stop_method"`
	MaxRiskPerTrade  float64 `yaml:"max_risk_per_trade" json:"max_risk_per_trade"`
	MaxPortfolioRisk float64 `yaml:"max_portfolio_risk" json:"max_portfolio_risk"`
	MinRR            float64 `yaml:"min_rr" json:"min_rr"`
	MinConfidence    float64 `yaml:"min_confidence" json:"min_confidence"`
	ATRMultiplier    float64 `yaml:"atr_k" json:"atr_k"`
	RewardRisk       float64 `yaml:"rr" json:"rr"`
	FixedRiskPct     float64 `yaml:"fixed_risk_pct" json:"fixed_risk_pct"`
	ClusterCap       float64 `yaml:"cluster_cap,omitempty" json:"cluster_cap,omitempty"`
}

// NewDefaultPreset creates a preset with the production defaults.
func NewDefaultPreset(name string) *Preset {
	now := time.Now().UTC()
	return &Preset{
		Metadata: PresetMetadata{
			SchemaVersion: PresetSchemaVersion,
			ID:            uuid.New().String(),
			Name:          name,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		Fusion: FusionPreset{
			Strategy:         fusion.StrategyHybrid,
			MinSignals:       2,
			SignalTimeoutSec: 300,
			BufferMax:        50,
			MinConfidence:    0.6,
			MinAgreement:     0.6,
			DecisionInterval: 30,
			CooldownSec:      30,
			BayesianWeight:   0.4,
			ConsensusWeight:  0.3,
			TimeDecayWeight:  0.3,
		},
		Risk: RiskPreset{
			SizingMethod:     "hybrid",
			StopMethod:       "atr",
			MaxRiskPerTrade:  0.01,
			MaxPortfolioRisk: 0.20,
			MinRR:            1.5,
			MinConfidence:    0.6,
			ATRMultiplier:    2.0,
			RewardRisk:       2.0,
			FixedRiskPct:     0.02,
		},
		Symbols: []string{"BTCUSDT", "ETHUSDT"},
	}
}

// FromConfig captures the live configuration as a preset.
func FromConfig(name string, strategyCfg config.StrategyConfig, riskCfg config.RiskConfig, symbols []string) *Preset {
	p := NewDefaultPreset(name)
	p.Fusion = FusionPreset{
		Strategy:         strategyCfg.FusionStrategy,
		MinSignals:       strategyCfg.MinSignals,
		SignalTimeoutSec: int(strategyCfg.SignalTimeout.Seconds()),
		BufferMax:        strategyCfg.BufferMax,
		MinConfidence:    strategyCfg.MinConfidence,
		MinAgreement:     strategyCfg.MinAgreement,
		DecisionInterval: int(strategyCfg.DecisionInterval.Seconds()),
		CooldownSec:      int(strategyCfg.Cooldown.Seconds()),
		BayesianWeight:   strategyCfg.BayesianWeight,
		ConsensusWeight:  strategyCfg.ConsensusWeight,
		TimeDecayWeight:  strategyCfg.TimeDecayWeight,
		AdaptiveWeights:  strategyCfg.AdaptiveWeights,
	}
	p.Risk = RiskPreset{
		SizingMethod:     riskCfg.SizingMethod,
		StopMethod:       riskCfg.StopMethod,
		MaxRiskPerTrade:  riskCfg.MaxRiskPerTrade,
		MaxPortfolioRisk: riskCfg.MaxPortfolioRisk,
		MinRR:            riskCfg.MinRR,
		MinConfidence:    riskCfg.MinConfidence,
		ATRMultiplier:    riskCfg.ATRMultiplier,
		RewardRisk:       riskCfg.RewardRisk,
		FixedRiskPct:     riskCfg.FixedRiskPct,
		ClusterCap:       riskCfg.ClusterCap,
	}
	p.Symbols = append([]string(nil), symbols...)
	return p
}

// ApplyStrategy maps the preset's fusion settings onto a StrategyConfig.
func (p *Preset) ApplyStrategy(cfg *config.StrategyConfig) {
	cfg.FusionStrategy = p.Fusion.Strategy
	cfg.MinSignals = p.Fusion.MinSignals
	cfg.SignalTimeout = time.Duration(p.Fusion.SignalTimeoutSec) * time.Second
	cfg.BufferMax = p.Fusion.BufferMax
	cfg.MinConfidence = p.Fusion.MinConfidence
	cfg.MinAgreement = p.Fusion.MinAgreement
	cfg.DecisionInterval = time.Duration(p.Fusion.DecisionInterval) * time.Second
	cfg.Cooldown = time.Duration(p.Fusion.CooldownSec) * time.Second
	cfg.BayesianWeight = p.Fusion.BayesianWeight
	cfg.ConsensusWeight = p.Fusion.ConsensusWeight
	cfg.TimeDecayWeight = p.Fusion.TimeDecayWeight
	cfg.AdaptiveWeights = p.Fusion.AdaptiveWeights
}

// ApplyRisk maps the preset's risk settings onto a RiskConfig.
func (p *Preset) ApplyRisk(cfg *config.RiskConfig) {
	cfg.SizingMethod = p.Risk.SizingMethod
	cfg.StopMethod = p.Risk.StopMethod
	cfg.MaxRiskPerTrade = p.Risk.MaxRiskPerTrade
	cfg.MaxPortfolioRisk = p.Risk.MaxPortfolioRisk
	cfg.MinRR = p.Risk.MinRR
	cfg.MinConfidence = p.Risk.MinConfidence
	cfg.ATRMultiplier = p.Risk.ATRMultiplier
	cfg.RewardRisk = p.Risk.RewardRisk
	cfg.FixedRiskPct = p.Risk.FixedRiskPct
	cfg.ClusterCap = p.Risk.ClusterCap
}
