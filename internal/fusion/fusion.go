// Package fusion combines buffered trading signals into a single
// (action, confidence) decision using one of four selectable strategies.
package fusion

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// Strategy names accepted in configuration.
const (
	StrategyBayesian  = "bayesian"
	StrategyConsensus = "consensus"
	StrategyTimeDecay = "time_decay"
	StrategyHybrid    = "hybrid"
)

// Decision is the outcome of fusing a signal buffer.
type Decision struct {
	Action     protocol.SignalKind
	Confidence float64
	// Scores holds the per-kind fused scores that produced the decision,
	// persisted with the decision for audit.
	Scores map[string]float64
}

// Strategy fuses the current signal buffer into one decision. The buffer
// may be empty; implementations return (HOLD, 0) in that case.
type Strategy interface {
	Name() string
	Fuse(signals []protocol.Signal, now time.Time) Decision
}

// New builds the configured fusion strategy. The reliability tracker is
// consulted by the Bayesian strategy only and may be nil.
func New(cfg config.StrategyConfig, tracker *ReliabilityTracker) (Strategy, error) {
	switch cfg.FusionStrategy {
	case StrategyBayesian, "":
		return NewBayesian(tracker), nil
	case StrategyConsensus:
		return NewConsensus(cfg.MinAgreement), nil
	case StrategyTimeDecay:
		return NewTimeDecay(0), nil
	case StrategyHybrid:
		return NewHybrid(cfg, tracker), nil
	default:
		return nil, fmt.Errorf("unknown fusion strategy %q", cfg.FusionStrategy)
	}
}

// hold is the neutral decision returned for empty or inconclusive buffers.
func hold(confidence float64, scores map[string]float64) Decision {
	return Decision{Action: protocol.SignalHold, Confidence: confidence, Scores: scores}
}

// argmaxKind returns the kind with the highest score. Any tie involving
// the best score resolves to HOLD.
func argmaxKind(scores map[protocol.SignalKind]float64) protocol.SignalKind {
	best := protocol.SignalHold
	bestScore := scores[protocol.SignalHold]
	for _, kind := range []protocol.SignalKind{protocol.SignalBuy, protocol.SignalSell} {
		if scores[kind] > bestScore {
			best = kind
			bestScore = scores[kind]
		} else if scores[kind] == bestScore && best != protocol.SignalHold {
			best = protocol.SignalHold
		}
	}
	return best
}

func exportScores(scores map[protocol.SignalKind]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for kind, score := range scores {
		out[string(kind)] = score
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
