package fusion

import (
	"time"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// Default strategy weights for hybrid fusion.
const (
	defaultBayesianWeight  = 0.4
	defaultConsensusWeight = 0.3
	defaultTimeDecayWeight = 0.3
)

// Hybrid runs all three strategies and combines their (action, confidence)
// votes into per-kind buckets weighted by strategy. A strategy that votes
// HOLD still weighs in the denominator, so disagreement between the
// strategies lowers the winning confidence.
type Hybrid struct {
	bayesian  *Bayesian
	consensus *Consensus
	timeDecay *TimeDecay

	bayesianWeight  float64
	consensusWeight float64
	timeDecayWeight float64
}

// NewHybrid creates the hybrid strategy. Zero-valued weights fall back to
// the defaults 0.4/0.3/0.3.
func NewHybrid(cfg config.StrategyConfig, tracker *ReliabilityTracker) *Hybrid {
	h := &Hybrid{
		bayesian:        NewBayesian(tracker),
		consensus:       NewConsensus(cfg.MinAgreement),
		timeDecay:       NewTimeDecay(0),
		bayesianWeight:  cfg.BayesianWeight,
		consensusWeight: cfg.ConsensusWeight,
		timeDecayWeight: cfg.TimeDecayWeight,
	}
	if h.bayesianWeight <= 0 && h.consensusWeight <= 0 && h.timeDecayWeight <= 0 {
		h.bayesianWeight = defaultBayesianWeight
		h.consensusWeight = defaultConsensusWeight
		h.timeDecayWeight = defaultTimeDecayWeight
	}
	return h
}

func (h *Hybrid) Name() string { return StrategyHybrid }

func (h *Hybrid) Fuse(signals []protocol.Signal, now time.Time) Decision {
	if len(signals) == 0 {
		return hold(0, nil)
	}

	votes := []struct {
		weight   float64
		decision Decision
	}{
		{h.bayesianWeight, h.bayesian.Fuse(signals, now)},
		{h.consensusWeight, h.consensus.Fuse(signals, now)},
		{h.timeDecayWeight, h.timeDecay.Fuse(signals, now)},
	}

	buckets := map[protocol.SignalKind]float64{}
	var totalWeight float64
	for _, vote := range votes {
		if vote.weight <= 0 {
			continue
		}
		totalWeight += vote.weight
		buckets[vote.decision.Action] += vote.weight * vote.decision.Confidence
	}
	if totalWeight <= 0 {
		return hold(0, nil)
	}

	scores := map[protocol.SignalKind]float64{
		protocol.SignalBuy:  buckets[protocol.SignalBuy] / totalWeight,
		protocol.SignalSell: buckets[protocol.SignalSell] / totalWeight,
		protocol.SignalHold: buckets[protocol.SignalHold] / totalWeight,
	}
	action := argmaxKind(scores)
	return Decision{Action: action, Confidence: scores[action], Scores: exportScores(scores)}
}
