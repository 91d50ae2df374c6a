package protocol

// OrderState is the lifecycle state of an order record. Transitions are
// forward-only.
type OrderState string

const (
	OrderPending   OrderState = "PENDING"
	OrderOpen      OrderState = "OPEN"
	OrderPartial   OrderState = "PARTIAL"
	OrderFilled    OrderState = "FILLED"
	OrderCancelled OrderState = "CANCELLED"
	OrderRejected  OrderState = "REJECTED"
	OrderFailed    OrderState = "FAILED"
)

func (s OrderState) valid() bool {
	switch s {
	case OrderPending, OrderOpen, OrderPartial, OrderFilled, OrderCancelled, OrderRejected, OrderFailed:
		return true
	}
	return false
}

// Terminal reports whether the state resolves the order's reservation.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderFailed:
		return true
	}
	return false
}

// orderRank orders states so that transitions can only move forward.
// PARTIAL may repeat (additional fills) but never regress to OPEN.
func orderRank(s OrderState) int {
	switch s {
	case OrderPending:
		return 0
	case OrderOpen:
		return 1
	case OrderPartial:
		return 2
	case OrderFilled, OrderCancelled, OrderRejected, OrderFailed:
		return 3
	}
	return -1
}

// CanTransition reports whether an order may move from s to next.
func (s OrderState) CanTransition(next OrderState) bool {
	if !s.valid() || !next.valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	if s == next {
		return s == OrderPartial
	}
	return orderRank(next) > orderRank(s)
}

// TransitionSources returns every state an order may legally move to next
// from, in declaration order.
func TransitionSources(next OrderState) []OrderState {
	all := []OrderState{OrderPending, OrderOpen, OrderPartial, OrderFilled, OrderCancelled, OrderRejected, OrderFailed}
	var sources []OrderState
	for _, s := range all {
		if s.CanTransition(next) {
			sources = append(sources, s)
		}
	}
	return sources
}

// PositionState is the lifecycle state of a position.
type PositionState string

const (
	PositionNone     PositionState = "NONE"
	PositionOpening  PositionState = "OPENING"
	PositionOpen     PositionState = "OPEN"
	PositionReducing PositionState = "REDUCING"
	PositionClosing  PositionState = "CLOSING"
	PositionClosed   PositionState = "CLOSED"
)

// positionTransitions enumerates the legal edges of the position state
// machine.
var positionTransitions = map[PositionState][]PositionState{
	PositionNone:     {PositionOpening},
	PositionOpening:  {PositionOpening, PositionOpen, PositionClosed},
	PositionOpen:     {PositionReducing, PositionClosing},
	PositionReducing: {PositionOpen, PositionClosing},
	PositionClosing:  {PositionClosed},
	PositionClosed:   {},
}

// CanTransition reports whether a position may move from s to next.
func (s PositionState) CanTransition(next PositionState) bool {
	for _, allowed := range positionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RejectionReason is the structured reason attached to a rejected intent or
// order.
type RejectionReason string

const (
	RejectLowConfidence    RejectionReason = "low_confidence"
	RejectRRBelowMin       RejectionReason = "rr_below_min"
	RejectRiskCap          RejectionReason = "risk_cap"
	RejectPortfolioCap     RejectionReason = "portfolio_cap"
	RejectCorrelationCap   RejectionReason = "correlation_cap"
	RejectInsufficientBal  RejectionReason = "insufficient_available_balance"
	RejectBelowMinLot      RejectionReason = "below_min_lot_exceeds_budget"
	RejectExchangeRejected RejectionReason = "exchange_rejected"
	RejectTimeout          RejectionReason = "timeout"
)
