// Package risk sizes, validates, and approves trade intents, reserving
// funds atomically so concurrent intents cannot overcommit the account.
package risk

import (
	"fmt"
	"math"

	"github.com/ajitpratap0/tradepipe/internal/config"
)

// Sizing methods accepted in configuration.
const (
	SizingKelly      = "kelly"
	SizingFixed      = "fixed"
	SizingVolatility = "volatility"
	SizingHybrid     = "hybrid"
)

// Kelly fraction bounds.
const (
	minKellyFraction = 0.01
	maxKellyFraction = 0.25
)

// Account-tier position ceilings: small accounts may commit a large share
// of balance to clear exchange minimum notionals, large accounts are
// capped tight.
const (
	smallAccountLimit  = 100.0
	mediumAccountLimit = 1000.0

	smallAccountPct  = 0.80
	mediumAccountPct = 0.15
	largeAccountPct  = 0.10
)

// defaultQtyStep is used when the exchange step size is unknown.
const defaultQtyStep = 1e-5

// SizeResult is a computed position size.
type SizeResult struct {
	Method        string
	SizeUSD       float64
	Quantity      float64
	RiskUSD       float64
	KellyFraction float64
}

// Sizer computes position sizes from balance, price, and stop distance.
type Sizer struct {
	method         string
	fixedRiskPct   float64
	rewardRisk     float64
	maxPositionPct float64 // 0 means use the account tiers
}

// NewSizer builds a sizer from configuration, falling back to the hybrid
// method and the documented defaults.
func NewSizer(cfg config.RiskConfig) *Sizer {
	s := &Sizer{
		method:         cfg.SizingMethod,
		fixedRiskPct:   cfg.FixedRiskPct,
		rewardRisk:     cfg.RewardRisk,
		maxPositionPct: cfg.MaxPositionPct,
	}
	if s.method == "" {
		s.method = SizingHybrid
	}
	if s.fixedRiskPct <= 0 {
		s.fixedRiskPct = 0.02
	}
	if s.rewardRisk <= 0 {
		s.rewardRisk = 2.0
	}
	return s
}

// Size computes the position size for one intent. stopDistance must be
// positive; price must be positive.
func (s *Sizer) Size(balance, price, confidence, stopDistance float64) (*SizeResult, error) {
	if price <= 0 {
		return nil, fmt.Errorf("price must be positive, got %f", price)
	}
	if stopDistance <= 0 {
		return nil, fmt.Errorf("stop distance must be positive, got %f", stopDistance)
	}
	if balance <= 0 {
		return nil, fmt.Errorf("balance must be positive, got %f", balance)
	}

	switch s.method {
	case SizingKelly:
		return s.kelly(balance, price, confidence, stopDistance), nil
	case SizingFixed:
		return s.fixed(balance, price, stopDistance), nil
	case SizingVolatility:
		return s.volatility(balance, price, stopDistance), nil
	case SizingHybrid:
		return s.hybrid(balance, price, confidence, stopDistance), nil
	default:
		return nil, fmt.Errorf("unknown sizing method %q", s.method)
	}
}

// kelly bets the Kelly fraction of balance: f = (b*p - (1-p)) / b with
// p = confidence and b = the configured reward/risk ratio, clamped to
// [1%, 25%].
func (s *Sizer) kelly(balance, price, confidence, stopDistance float64) *SizeResult {
	b := s.rewardRisk
	f := (b*confidence - (1 - confidence)) / b
	f = clampFloat(f, minKellyFraction, maxKellyFraction)

	size := balance * f
	qty := size / price
	return &SizeResult{
		Method:        SizingKelly,
		SizeUSD:       size,
		Quantity:      qty,
		RiskUSD:       qty * stopDistance,
		KellyFraction: f,
	}
}

// fixed risks a fixed fraction of balance per trade: the position is
// sized so that hitting the stop loses balance*fixedRiskPct.
func (s *Sizer) fixed(balance, price, stopDistance float64) *SizeResult {
	riskUSD := balance * s.fixedRiskPct
	qty := riskUSD / stopDistance
	return &SizeResult{
		Method:   SizingFixed,
		SizeUSD:  qty * price,
		Quantity: qty,
		RiskUSD:  riskUSD,
	}
}

// volatility sizes off the ATR-derived stop distance; wider stops mean
// smaller positions for the same dollar risk.
func (s *Sizer) volatility(balance, price, stopDistance float64) *SizeResult {
	qty := (balance * s.fixedRiskPct) / stopDistance
	return &SizeResult{
		Method:   SizingVolatility,
		SizeUSD:  qty * price,
		Quantity: qty,
		RiskUSD:  qty * stopDistance,
	}
}

// hybrid takes the smaller of the Kelly and fixed sizes, then applies the
// account-tier ceiling.
func (s *Sizer) hybrid(balance, price, confidence, stopDistance float64) *SizeResult {
	kelly := s.kelly(balance, price, confidence, stopDistance)
	fixed := s.fixed(balance, price, stopDistance)

	result := kelly
	if fixed.SizeUSD < kelly.SizeUSD {
		result = fixed
	}

	ceiling := balance * s.PositionCeiling(balance)
	if result.SizeUSD > ceiling {
		qty := ceiling / price
		result = &SizeResult{
			SizeUSD:  ceiling,
			Quantity: qty,
			RiskUSD:  qty * stopDistance,
		}
	}
	result.Method = SizingHybrid
	result.KellyFraction = result.SizeUSD / balance
	return result
}

// PositionCeiling returns the maximum position fraction for the balance:
// the configured override if set, otherwise the account tier.
func (s *Sizer) PositionCeiling(balance float64) float64 {
	if s.maxPositionPct > 0 {
		return s.maxPositionPct
	}
	switch {
	case balance < smallAccountLimit:
		return smallAccountPct
	case balance < mediumAccountLimit:
		return mediumAccountPct
	default:
		return largeAccountPct
	}
}

// RoundDownQty truncates a quantity to the exchange step size so orders
// never exceed the computed budget.
func RoundDownQty(qty, step float64) float64 {
	if step <= 0 {
		step = defaultQtyStep
	}
	return math.Floor(qty/step) * step
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
