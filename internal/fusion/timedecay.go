package fusion

import (
	"math"
	"time"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

const defaultHalfLife = 30 * time.Minute

// TimeDecay weights each signal by exponential age decay before summing
// confidences per kind, so stale signals fade instead of expiring
// abruptly. Confidence is the winning kind's weighted confidence mass
// over the total decay weight; a lone fresh signal scores its own
// confidence.
type TimeDecay struct {
	lambda float64 // per-second decay rate, ln2 / half-life
}

// NewTimeDecay creates the time-decay strategy. A non-positive half-life
// falls back to the default 30 minutes.
func NewTimeDecay(halfLife time.Duration) *TimeDecay {
	if halfLife <= 0 {
		halfLife = defaultHalfLife
	}
	return &TimeDecay{lambda: math.Ln2 / halfLife.Seconds()}
}

func (t *TimeDecay) Name() string { return StrategyTimeDecay }

func (t *TimeDecay) Fuse(signals []protocol.Signal, now time.Time) Decision {
	if len(signals) == 0 {
		return hold(0, nil)
	}

	sums := map[protocol.SignalKind]float64{}
	var totalWeight float64
	for _, sig := range signals {
		age := now.Sub(sig.EmittedAt).Seconds()
		if age < 0 {
			age = 0
		}
		weight := math.Exp(-t.lambda * age)
		totalWeight += weight
		sums[sig.Kind] += weight * sig.Confidence
	}
	if totalWeight <= 0 {
		return hold(0, nil)
	}

	scores := map[protocol.SignalKind]float64{
		protocol.SignalBuy:  sums[protocol.SignalBuy] / totalWeight,
		protocol.SignalSell: sums[protocol.SignalSell] / totalWeight,
		protocol.SignalHold: sums[protocol.SignalHold] / totalWeight,
	}
	action := argmaxKind(scores)
	return Decision{Action: action, Confidence: scores[action], Scores: exportScores(scores)}
}
