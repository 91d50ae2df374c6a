package risk

import (
	"fmt"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// Rejection reason codes recorded on risk assessments.
const (
	ReasonLowConfidence     = "confidence_below_minimum"
	ReasonBadRewardRisk     = "reward_risk_below_minimum"
	ReasonTradeRiskExceeded = "per_trade_risk_exceeded"
	ReasonPortfolioRisk     = "portfolio_risk_exceeded"
	ReasonClusterRisk       = "correlation_cluster_exceeded"
	ReasonMinLotBudget      = "below_min_lot_exceeds_budget"
	ReasonInsufficientFunds = "insufficient_available_balance"
)

// Validator applies the layered pre-approval checks, in order, stopping
// at the first failure.
type Validator struct {
	minConfidence    float64
	minRR            float64
	maxRiskPerTrade  float64
	maxPortfolioRisk float64
	clusterCap       float64
}

// NewValidator builds a validator with the documented defaults for any
// unset limits.
func NewValidator(cfg config.RiskConfig) *Validator {
	v := &Validator{
		minConfidence:    cfg.MinConfidence,
		minRR:            cfg.MinRR,
		maxRiskPerTrade:  cfg.MaxRiskPerTrade,
		maxPortfolioRisk: cfg.MaxPortfolioRisk,
		clusterCap:       cfg.ClusterCap,
	}
	if v.minConfidence <= 0 {
		v.minConfidence = 0.6
	}
	if v.minRR <= 0 {
		v.minRR = 1.5
	}
	if v.maxRiskPerTrade <= 0 {
		v.maxRiskPerTrade = 0.01
	}
	if v.maxPortfolioRisk <= 0 {
		v.maxPortfolioRisk = 0.20
	}
	if v.clusterCap <= 0 {
		v.clusterCap = 0.10
	}
	return v
}

// CheckInput is everything the layered validation needs.
type CheckInput struct {
	Intent       *protocol.TradeIntent
	Price        float64
	Plan         *StopPlan
	Sizing       *SizeResult
	Balance      float64
	OpenRiskUSD  map[string]float64 // per open symbol
	TotalOpenUSD float64            // sum of OpenRiskUSD
}

// Check runs the five validation layers in order. It returns the first
// failing reason, or "" when the trade passes.
func (v *Validator) Check(in CheckInput) (string, string) {
	if in.Intent.Confidence < v.minConfidence {
		return ReasonLowConfidence,
			fmt.Sprintf("confidence %.2f below %.2f", in.Intent.Confidence, v.minConfidence)
	}

	rr := in.Plan.RewardRisk(in.Price, in.Intent.Action)
	if rr < v.minRR {
		return ReasonBadRewardRisk,
			fmt.Sprintf("reward/risk %.2f below %.2f", rr, v.minRR)
	}

	maxTradeRisk := in.Balance * v.maxRiskPerTrade
	if in.Sizing.RiskUSD > maxTradeRisk {
		return ReasonTradeRiskExceeded,
			fmt.Sprintf("trade risk %.2f exceeds %.2f (%.1f%% of balance)",
				in.Sizing.RiskUSD, maxTradeRisk, v.maxRiskPerTrade*100)
	}

	maxPortfolio := in.Balance * v.maxPortfolioRisk
	if in.TotalOpenUSD+in.Sizing.RiskUSD > maxPortfolio {
		return ReasonPortfolioRisk,
			fmt.Sprintf("portfolio risk %.2f would exceed %.2f",
				in.TotalOpenUSD+in.Sizing.RiskUSD, maxPortfolio)
	}

	clusterRisk := ClusterRisk(in.Intent.Symbol, in.OpenRiskUSD) + in.Sizing.RiskUSD
	maxCluster := in.Balance * v.clusterCap
	if clusterRisk > maxCluster {
		return ReasonClusterRisk,
			fmt.Sprintf("cluster %s risk %.2f would exceed %.2f",
				ClusterOf(in.Intent.Symbol), clusterRisk, maxCluster)
	}

	return "", ""
}
