package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

func TestATRStopLong(t *testing.T) {
	p := NewStopPlanner(config.RiskConfig{StopMethod: StopATR, ATRMultiplier: 2.0, RewardRisk: 2.0})

	plan, err := p.Plan(protocol.SideBuy, 121617, PlanContext{ATR: 1500})
	require.NoError(t, err)

	assert.Equal(t, StopATR, plan.Method)
	assert.InDelta(t, 3000, plan.StopDistance, 1e-9)
	assert.InDelta(t, 118617, plan.StopLoss, 1e-9)
	assert.InDelta(t, 127617, plan.TakeProfit, 1e-9)
	assert.InDelta(t, 2.0, plan.RewardRisk(121617, protocol.SideBuy), 1e-9)
}

func TestATRStopShortMirrorsLong(t *testing.T) {
	p := NewStopPlanner(config.RiskConfig{StopMethod: StopATR, ATRMultiplier: 2.0, RewardRisk: 2.0})

	plan, err := p.Plan(protocol.SideSell, 121617, PlanContext{ATR: 1500})
	require.NoError(t, err)

	assert.InDelta(t, 124617, plan.StopLoss, 1e-9)
	assert.InDelta(t, 115617, plan.TakeProfit, 1e-9)
	assert.InDelta(t, 2.0, plan.RewardRisk(121617, protocol.SideSell), 1e-9)
}

func TestATRStopDegradesToPercentageWithoutATR(t *testing.T) {
	p := NewStopPlanner(config.RiskConfig{StopMethod: StopATR, StopPct: 0.02, RewardRisk: 2.0})

	plan, err := p.Plan(protocol.SideBuy, 50000, PlanContext{})
	require.NoError(t, err)

	assert.Equal(t, StopPercentage, plan.Method)
	assert.InDelta(t, 1000, plan.StopDistance, 1e-9)
	assert.InDelta(t, 49000, plan.StopLoss, 1e-9)
}

func TestVolatilityStopNeedsReturnStd(t *testing.T) {
	p := NewStopPlanner(config.RiskConfig{StopMethod: StopVolatility, ATRMultiplier: 2.0})

	_, err := p.Plan(protocol.SideBuy, 100, PlanContext{})
	assert.Error(t, err)

	plan, err := p.Plan(protocol.SideBuy, 100, PlanContext{ReturnStd: 0.01})
	require.NoError(t, err)
	assert.InDelta(t, 2, plan.StopDistance, 1e-9)
}

func TestSupportResistanceStop(t *testing.T) {
	p := NewStopPlanner(config.RiskConfig{StopMethod: StopSupportResistance, RewardRisk: 2.0})

	plan, err := p.Plan(protocol.SideBuy, 100, PlanContext{RecentLows: []float64{96, 94, 97}})
	require.NoError(t, err)
	assert.InDelta(t, 94, plan.StopLoss, 1e-9)

	plan, err = p.Plan(protocol.SideSell, 100, PlanContext{RecentHighs: []float64{103, 106, 104}})
	require.NoError(t, err)
	assert.InDelta(t, 106, plan.StopLoss, 1e-9)

	// support above price is unusable
	_, err = p.Plan(protocol.SideBuy, 100, PlanContext{RecentLows: []float64{101}})
	assert.Error(t, err)
}

func TestTrailingStopActivatesAfterProfit(t *testing.T) {
	p := NewStopPlanner(config.RiskConfig{StopMethod: StopTrailing, ATRMultiplier: 2.0, TrailingActivate: 0.01})

	plan, err := p.Plan(protocol.SideBuy, 100, PlanContext{ATR: 2})
	require.NoError(t, err)
	assert.True(t, plan.Trailing)

	// below the activation threshold the stop stays put
	stop, moved := p.UpdateTrailingStop(protocol.SideBuy, 100, 100.5, plan.StopLoss, plan.StopDistance)
	assert.False(t, moved)
	assert.InDelta(t, plan.StopLoss, stop, 1e-9)

	// in profit, the stop ratchets up behind the price
	stop, moved = p.UpdateTrailingStop(protocol.SideBuy, 100, 102, plan.StopLoss, plan.StopDistance)
	assert.True(t, moved)
	assert.InDelta(t, 98, stop, 1e-9)

	// it never ratchets back down
	stop, moved = p.UpdateTrailingStop(protocol.SideBuy, 100, 101.5, stop, plan.StopDistance)
	assert.False(t, moved)
	assert.InDelta(t, 98, stop, 1e-9)
}

func TestUnknownStopMethodErrors(t *testing.T) {
	p := NewStopPlanner(config.RiskConfig{StopMethod: "chandelier"})

	_, err := p.Plan(protocol.SideBuy, 100, PlanContext{ATR: 2})
	assert.ErrorContains(t, err, "unknown stop method")
}

func TestPlanRejectsOversizedDistance(t *testing.T) {
	p := NewStopPlanner(config.RiskConfig{StopMethod: StopATR, ATRMultiplier: 2.0})

	_, err := p.Plan(protocol.SideBuy, 100, PlanContext{ATR: 60})
	assert.Error(t, err)
}
