package fusion

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

var fuseNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sig(source string, kind protocol.SignalKind, confidence float64, age time.Duration) protocol.Signal {
	return protocol.Signal{
		ID:         uuid.New(),
		Symbol:     "ETHUSDT",
		Source:     source,
		Kind:       kind,
		Confidence: confidence,
		EmittedAt:  fuseNow.Add(-age),
	}
}

func TestBayesianSingleSignalPosteriorEqualsConfidence(t *testing.T) {
	b := NewBayesian(nil)
	d := b.Fuse([]protocol.Signal{sig("technical.rsi", protocol.SignalBuy, 0.7, 0)}, fuseNow)

	assert.Equal(t, protocol.SignalBuy, d.Action)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9)
}

func TestBayesianCorroborationRaisesConfidence(t *testing.T) {
	b := NewBayesian(nil)

	one := b.Fuse([]protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 0.85, 0),
	}, fuseNow)
	two := b.Fuse([]protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 0.85, 0),
		sig("technical.macd", protocol.SignalBuy, 0.75, 0),
	}, fuseNow)

	assert.Equal(t, protocol.SignalBuy, two.Action)
	// 0.85*0.75 / (0.85*0.75 + 0.15)
	assert.InDelta(t, 0.6375/0.7875, two.Confidence, 1e-9)
	assert.Greater(t, two.Confidence, one.Confidence)
}

func TestBayesianHoldVotesCompoundDoubt(t *testing.T) {
	b := NewBayesian(nil)
	d := b.Fuse([]protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 0.8, 0),
		sig("technical.macd", protocol.SignalHold, 0.5, 0),
		sig("technical.bollinger", protocol.SignalHold, 0.5, 0),
	}, fuseNow)

	assert.Equal(t, protocol.SignalBuy, d.Action)
	// p_B=0.8, p_H=(1-0.8)^2=0.04
	assert.InDelta(t, 0.8/0.84, d.Confidence, 1e-9)
}

func TestBayesianConflictTieBreaksToHold(t *testing.T) {
	b := NewBayesian(nil)
	d := b.Fuse([]protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 0.6, 0),
		sig("technical.macd", protocol.SignalSell, 0.6, 0),
	}, fuseNow)

	assert.Equal(t, protocol.SignalHold, d.Action)
	assert.InDelta(t, 0.4/1.6, d.Confidence, 1e-9)
}

func TestBayesianEmptyBufferHolds(t *testing.T) {
	d := NewBayesian(nil).Fuse(nil, fuseNow)
	assert.Equal(t, protocol.SignalHold, d.Action)
	assert.Zero(t, d.Confidence)
}

func TestBayesianReliabilityScaling(t *testing.T) {
	strong := NewReliabilityTracker()
	for i := 0; i < 10; i++ {
		strong.Record("technical.rsi", true)
	}
	weak := NewReliabilityTracker()
	for i := 0; i < 10; i++ {
		weak.Record("technical.rsi", false)
	}

	buffer := []protocol.Signal{sig("technical.rsi", protocol.SignalBuy, 0.6, 0)}

	plain := NewBayesian(nil).Fuse(buffer, fuseNow)
	boosted := NewBayesian(strong).Fuse(buffer, fuseNow)
	damped := NewBayesian(weak).Fuse(buffer, fuseNow)

	assert.Greater(t, boosted.Confidence, plain.Confidence)
	assert.Less(t, damped.Confidence, plain.Confidence)
	// perfect history weighs 1.5, all-loss history weighs 0.5
	assert.InDelta(t, 0.9, boosted.Confidence, 1e-9)
	assert.InDelta(t, 0.3, damped.Confidence, 1e-9)
}

func TestConsensusMajority(t *testing.T) {
	c := NewConsensus(0.6)
	d := c.Fuse([]protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 0.9, 0),
		sig("technical.macd", protocol.SignalBuy, 0.8, 0),
		sig("technical.bollinger", protocol.SignalBuy, 0.7, 0),
		sig("technical.volume", protocol.SignalSell, 0.9, 0),
	}, fuseNow)

	assert.Equal(t, protocol.SignalBuy, d.Action)
	assert.InDelta(t, 0.75, d.Confidence, 1e-9)
}

func TestConsensusBelowAgreementHolds(t *testing.T) {
	c := NewConsensus(0.6)
	d := c.Fuse([]protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 0.9, 0),
		sig("technical.macd", protocol.SignalBuy, 0.8, 0),
		sig("technical.bollinger", protocol.SignalSell, 0.7, 0),
		sig("technical.volume", protocol.SignalHold, 0.5, 0),
	}, fuseNow)

	assert.Equal(t, protocol.SignalHold, d.Action)
	assert.InDelta(t, 0.5, d.Confidence, 1e-9, "winner share is kept as confidence")
}

func TestConsensusSplitVoteHolds(t *testing.T) {
	c := NewConsensus(0.6)
	d := c.Fuse([]protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 0.9, 0),
		sig("technical.macd", protocol.SignalSell, 0.9, 0),
	}, fuseNow)

	assert.Equal(t, protocol.SignalHold, d.Action)
}

func TestTimeDecayPrefersFreshSignals(t *testing.T) {
	td := NewTimeDecay(0)
	d := td.Fuse([]protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 0.9, 45*time.Minute),
		sig("technical.macd", protocol.SignalSell, 0.8, 0),
	}, fuseNow)

	assert.Equal(t, protocol.SignalSell, d.Action,
		"a fresh signal should outweigh a stale stronger one past the half-life")
}

func TestTimeDecaySingleFreshSignal(t *testing.T) {
	td := NewTimeDecay(0)
	d := td.Fuse([]protocol.Signal{sig("technical.rsi", protocol.SignalBuy, 0.8, 0)}, fuseNow)

	assert.Equal(t, protocol.SignalBuy, d.Action)
	assert.InDelta(t, 0.8, d.Confidence, 1e-9)
}

func TestTimeDecayHalfLifeWeight(t *testing.T) {
	td := NewTimeDecay(0)
	d := td.Fuse([]protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 1.0, 30*time.Minute),
		sig("technical.macd", protocol.SignalHold, 0.0, 0),
	}, fuseNow)

	// weight of a 30-minute-old signal is exactly one half; the fresh
	// zero-confidence HOLD contributes only to the denominator.
	assert.Equal(t, protocol.SignalBuy, d.Action)
	assert.InDelta(t, 0.5/1.5, d.Confidence, 1e-9)
}

func TestHybridUnanimousBuyBuffer(t *testing.T) {
	h := NewHybrid(config.StrategyConfig{}, nil)

	buffer := []protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 0.85, 2*time.Second),
		sig("technical.macd", protocol.SignalBuy, 0.75, 2*time.Second),
		sig("technical.bollinger", protocol.SignalBuy, 0.70, 2*time.Second),
		sig("technical.volume", protocol.SignalBuy, 0.80, 2*time.Second),
		sig("technical.sma", protocol.SignalBuy, 0.60, 4*time.Second),
	}

	d := h.Fuse(buffer, fuseNow)
	require.Equal(t, protocol.SignalBuy, d.Action)
	// bayesian 0.5881, consensus 1.0, time decay 0.7400 at weights 0.4/0.3/0.3
	assert.InDelta(t, 0.7573, d.Confidence, 1e-3)

	// a sixth strong BUY raises the fused confidence
	stronger := append(buffer, sig("technical.ema", protocol.SignalBuy, 0.90, 0))
	d2 := h.Fuse(stronger, fuseNow)
	require.Equal(t, protocol.SignalBuy, d2.Action)
	assert.Greater(t, d2.Confidence, d.Confidence)
	assert.InDelta(t, 0.7934, d2.Confidence, 1e-3)
}

func TestHybridDisagreementLowersConfidence(t *testing.T) {
	h := NewHybrid(config.StrategyConfig{}, nil)
	d := h.Fuse([]protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 0.9, 0),
		sig("technical.macd", protocol.SignalBuy, 0.9, 0),
		sig("technical.bollinger", protocol.SignalSell, 0.9, 0),
	}, fuseNow)

	assert.Equal(t, protocol.SignalBuy, d.Action)
	assert.Less(t, d.Confidence, 0.5, "strategies splitting across kinds should dilute the winner")
}

func TestHybridEmptyBufferHolds(t *testing.T) {
	d := NewHybrid(config.StrategyConfig{}, nil).Fuse(nil, fuseNow)
	assert.Equal(t, protocol.SignalHold, d.Action)
	assert.Zero(t, d.Confidence)
}

func TestHybridScoresExported(t *testing.T) {
	h := NewHybrid(config.StrategyConfig{}, nil)
	d := h.Fuse([]protocol.Signal{
		sig("technical.rsi", protocol.SignalBuy, 0.8, 0),
		sig("technical.macd", protocol.SignalBuy, 0.7, 0),
	}, fuseNow)

	require.Contains(t, d.Scores, "BUY")
	require.Contains(t, d.Scores, "SELL")
	require.Contains(t, d.Scores, "HOLD")
	assert.Equal(t, d.Confidence, d.Scores["BUY"])
}

func TestReliabilityTrackerWindow(t *testing.T) {
	tr := NewReliabilityTracker()
	assert.Equal(t, 1.0, tr.Weight("unknown"))

	for i := 0; i < reliabilityWindow; i++ {
		tr.Record("technical.rsi", true)
	}
	assert.Equal(t, reliabilityWindow, tr.Outcomes("technical.rsi"))
	assert.Equal(t, 1.5, tr.Weight("technical.rsi"))

	// losses push the wins out of the bounded window
	for i := 0; i < reliabilityWindow; i++ {
		tr.Record("technical.rsi", false)
	}
	assert.Equal(t, reliabilityWindow, tr.Outcomes("technical.rsi"))
	assert.Equal(t, 0.5, tr.Weight("technical.rsi"))
}

func TestNewStrategyFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		want     string
	}{
		{"default is bayesian", "", StrategyBayesian},
		{"bayesian", "bayesian", StrategyBayesian},
		{"consensus", "consensus", StrategyConsensus},
		{"time decay", "time_decay", StrategyTimeDecay},
		{"hybrid", "hybrid", StrategyHybrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(config.StrategyConfig{FusionStrategy: tt.strategy}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Name())
		})
	}

	_, err := New(config.StrategyConfig{FusionStrategy: "voodoo"}, nil)
	require.Error(t, err)
}
