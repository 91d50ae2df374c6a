package fusion

import (
	"math"
	"time"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// Bayesian treats each signal as an independent likelihood: the evidence
// for a direction is the product of the confidences voting for it, and a
// residual HOLD term (1-max(conf))^n captures the doubt left by the
// strongest signal. With a single signal the posterior equals its
// confidence. When a reliability tracker is present, each confidence is
// first scaled by its source's empirical precision.
type Bayesian struct {
	tracker *ReliabilityTracker
}

// NewBayesian creates the Bayesian strategy. tracker may be nil, in which
// case every source weighs 1.0.
func NewBayesian(tracker *ReliabilityTracker) *Bayesian {
	return &Bayesian{tracker: tracker}
}

func (b *Bayesian) Name() string { return StrategyBayesian }

func (b *Bayesian) Fuse(signals []protocol.Signal, now time.Time) Decision {
	if len(signals) == 0 {
		return hold(0, nil)
	}

	var (
		pBuy      float64
		pSell     float64
		buyCount  int
		sellCount int
		holdCount int
		maxConf   float64
	)
	for _, sig := range signals {
		conf := sig.Confidence
		if b.tracker != nil {
			conf = clamp(conf*b.tracker.Weight(sig.Source), 0, 1)
		}
		if conf > maxConf {
			maxConf = conf
		}
		switch sig.Kind {
		case protocol.SignalBuy:
			if buyCount == 0 {
				pBuy = conf
			} else {
				pBuy *= conf
			}
			buyCount++
		case protocol.SignalSell:
			if sellCount == 0 {
				pSell = conf
			} else {
				pSell *= conf
			}
			sellCount++
		default:
			holdCount++
		}
	}

	// The HOLD term is always present as residual doubt, raised to the
	// number of explicit HOLD votes when there are any.
	exponent := holdCount
	if exponent == 0 {
		exponent = 1
	}
	pHold := math.Pow(1-maxConf, float64(exponent))

	total := pBuy + pSell + pHold
	if total <= 0 {
		return hold(0, nil)
	}

	scores := map[protocol.SignalKind]float64{
		protocol.SignalBuy:  pBuy / total,
		protocol.SignalSell: pSell / total,
		protocol.SignalHold: pHold / total,
	}
	action := argmaxKind(scores)
	return Decision{Action: action, Confidence: scores[action], Scores: exportScores(scores)}
}
