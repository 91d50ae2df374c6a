package fusion

import (
	"time"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

const defaultMinAgreement = 0.6

// Consensus is a majority vote by signal kind. Confidence is the winner's
// share of the buffer; a share below the agreement threshold demotes the
// decision to HOLD while keeping that share as the confidence.
type Consensus struct {
	minAgreement float64
}

// NewConsensus creates the consensus strategy. A non-positive threshold
// falls back to the default 0.6.
func NewConsensus(minAgreement float64) *Consensus {
	if minAgreement <= 0 {
		minAgreement = defaultMinAgreement
	}
	return &Consensus{minAgreement: minAgreement}
}

func (c *Consensus) Name() string { return StrategyConsensus }

func (c *Consensus) Fuse(signals []protocol.Signal, now time.Time) Decision {
	if len(signals) == 0 {
		return hold(0, nil)
	}

	votes := map[protocol.SignalKind]float64{}
	for _, sig := range signals {
		votes[sig.Kind]++
	}

	total := float64(len(signals))
	scores := map[protocol.SignalKind]float64{
		protocol.SignalBuy:  votes[protocol.SignalBuy] / total,
		protocol.SignalSell: votes[protocol.SignalSell] / total,
		protocol.SignalHold: votes[protocol.SignalHold] / total,
	}

	winner := argmaxKind(scores)
	share := scores[winner]
	if winner != protocol.SignalHold && share < c.minAgreement {
		return hold(share, exportScores(scores))
	}
	return Decision{Action: winner, Confidence: share, Scores: exportScores(scores)}
}
