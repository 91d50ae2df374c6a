package risk

import (
	"fmt"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// Stop placement methods accepted in configuration.
const (
	StopATR               = "atr"
	StopPercentage        = "percentage"
	StopVolatility        = "volatility"
	StopSupportResistance = "support_resistance"
	StopTrailing          = "trailing"
)

// StopPlan is a computed stop-loss / take-profit pair.
type StopPlan struct {
	Method       string
	StopLoss     float64
	TakeProfit   float64
	StopDistance float64
	Trailing     bool
}

// RewardRisk returns the plan's reward-to-risk ratio.
func (p *StopPlan) RewardRisk(price float64, side protocol.OrderSide) float64 {
	if p.StopDistance <= 0 {
		return 0
	}
	var reward float64
	if side == protocol.SideBuy {
		reward = p.TakeProfit - price
	} else {
		reward = price - p.TakeProfit
	}
	return reward / p.StopDistance
}

// StopPlanner computes stop placement from price context.
type StopPlanner struct {
	method        string
	atrMultiplier float64
	rewardRisk    float64
	stopPct       float64
	activatePct   float64
}

// NewStopPlanner builds a planner from configuration with the documented
// defaults (ATR stops, k=2, RR=2).
func NewStopPlanner(cfg config.RiskConfig) *StopPlanner {
	p := &StopPlanner{
		method:        cfg.StopMethod,
		atrMultiplier: cfg.ATRMultiplier,
		rewardRisk:    cfg.RewardRisk,
		stopPct:       cfg.StopPct,
		activatePct:   cfg.TrailingActivate,
	}
	if p.method == "" {
		p.method = StopATR
	}
	if p.atrMultiplier <= 0 {
		p.atrMultiplier = 2.0
	}
	if p.rewardRisk <= 0 {
		p.rewardRisk = 2.0
	}
	if p.stopPct <= 0 {
		p.stopPct = 0.02
	}
	if p.activatePct <= 0 {
		p.activatePct = 0.01
	}
	return p
}

// PlanContext carries the market context stop placement may need.
type PlanContext struct {
	ATR       float64
	ReturnStd float64
	// RecentLows and RecentHighs feed support/resistance placement.
	RecentLows  []float64
	RecentHighs []float64
}

// Plan computes the stop-loss and take-profit for an entry at price.
func (p *StopPlanner) Plan(side protocol.OrderSide, price float64, ctx PlanContext) (*StopPlan, error) {
	if price <= 0 {
		return nil, fmt.Errorf("price must be positive, got %f", price)
	}

	var distance float64
	trailing := false
	method := p.method

	switch p.method {
	case StopATR:
		if ctx.ATR <= 0 {
			// degrade to the percentage stop when ATR is unavailable
			distance = price * p.stopPct
			method = StopPercentage
		} else {
			distance = p.atrMultiplier * ctx.ATR
		}
	case StopPercentage:
		distance = price * p.stopPct
	case StopVolatility:
		if ctx.ReturnStd <= 0 {
			return nil, fmt.Errorf("volatility stop needs a positive return std")
		}
		distance = p.atrMultiplier * ctx.ReturnStd * price
	case StopSupportResistance:
		level, err := supportResistanceLevel(side, price, ctx)
		if err != nil {
			return nil, err
		}
		if side == protocol.SideBuy {
			distance = price - level
		} else {
			distance = level - price
		}
	case StopTrailing:
		// trailing stops start as ATR stops and then ratchet
		if ctx.ATR > 0 {
			distance = p.atrMultiplier * ctx.ATR
		} else {
			distance = price * p.stopPct
		}
		trailing = true
	default:
		return nil, fmt.Errorf("unknown stop method %q", p.method)
	}

	if distance <= 0 || distance >= price {
		return nil, fmt.Errorf("stop distance %f unusable at price %f", distance, price)
	}

	plan := &StopPlan{Method: method, StopDistance: distance, Trailing: trailing}
	if side == protocol.SideBuy {
		plan.StopLoss = price - distance
		plan.TakeProfit = price + distance*p.rewardRisk
	} else {
		plan.StopLoss = price + distance
		plan.TakeProfit = price - distance*p.rewardRisk
	}
	return plan, nil
}

// UpdateTrailingStop ratchets a trailing stop in the favorable direction
// once the position is in profit by the activation fraction. Returns the
// new stop and whether it moved.
func (p *StopPlanner) UpdateTrailingStop(side protocol.OrderSide, entry, current, currentStop, distance float64) (float64, bool) {
	if distance <= 0 {
		return currentStop, false
	}

	if side == protocol.SideBuy {
		if current < entry*(1+p.activatePct) {
			return currentStop, false
		}
		candidate := current - distance
		if candidate > currentStop {
			return candidate, true
		}
		return currentStop, false
	}

	if current > entry*(1-p.activatePct) {
		return currentStop, false
	}
	candidate := current + distance
	if candidate < currentStop {
		return candidate, true
	}
	return currentStop, false
}

// supportResistanceLevel picks the stop anchor from recent swing extremes:
// the lowest recent low for longs, the highest recent high for shorts.
func supportResistanceLevel(side protocol.OrderSide, price float64, ctx PlanContext) (float64, error) {
	if side == protocol.SideBuy {
		if len(ctx.RecentLows) == 0 {
			return 0, fmt.Errorf("support/resistance stop needs recent lows")
		}
		level := ctx.RecentLows[0]
		for _, low := range ctx.RecentLows[1:] {
			if low < level {
				level = low
			}
		}
		if level >= price {
			return 0, fmt.Errorf("no support below price %f", price)
		}
		return level, nil
	}

	if len(ctx.RecentHighs) == 0 {
		return 0, fmt.Errorf("support/resistance stop needs recent highs")
	}
	level := ctx.RecentHighs[0]
	for _, high := range ctx.RecentHighs[1:] {
		if high > level {
			level = high
		}
	}
	if level <= price {
		return 0, fmt.Errorf("no resistance above price %f", price)
	}
	return level, nil
}
