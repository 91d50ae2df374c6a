// Package protocol defines the message contracts exchanged between the
// trading agents over the bus.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every envelope. Consumers reject envelopes
// with a higher major version.
const SchemaVersion = "1.0"

// MessageType identifies the payload carried by an envelope.
type MessageType string

const (
	MessageTypeMarketTick     MessageType = "market.tick"
	MessageTypeCandle         MessageType = "market.ohlcv"
	MessageTypeSignal         MessageType = "signal"
	MessageTypeTradeIntent    MessageType = "trade.intent"
	MessageTypeValidatedOrder MessageType = "trade.order"
	MessageTypeOrderStatus    MessageType = "order.status"
	MessageTypePositionUpdate MessageType = "position.update"
	MessageTypeStreamDegraded MessageType = "stream.degraded"
	MessageTypeAgentError     MessageType = "agent.error"
	MessageTypeHeartbeat      MessageType = "agent.heartbeat"
)

// Envelope wraps every message on the bus.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	SchemaVersion string          `json:"schema_version"`
	SourceAgent   string          `json:"source_agent"`
	Type          MessageType     `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope around the given payload.
func NewEnvelope(sourceAgent string, msgType MessageType, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return &Envelope{
		ID:            uuid.New(),
		SchemaVersion: SchemaVersion,
		SourceAgent:   sourceAgent,
		Type:          msgType,
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}, nil
}

// Validate checks the envelope's required fields.
func (e *Envelope) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("envelope missing id")
	}
	if e.SourceAgent == "" {
		return fmt.Errorf("envelope missing source_agent")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope missing type")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("envelope missing timestamp")
	}
	return nil
}

// DecodePayload unmarshals the payload into v and, when v implements
// Validator, enforces its required fields. Unknown fields are ignored for
// forward compatibility.
func (e *Envelope) DecodePayload(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Type, err)
	}
	if validator, ok := v.(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("invalid %s payload: %w", e.Type, err)
		}
	}
	return nil
}

// Validator is implemented by payloads with required fields.
type Validator interface {
	Validate() error
}

// SignalKind is the direction of a trading signal.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
	SignalHold SignalKind = "HOLD"
)

// OrderSide is the side of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// MarketTick is the latest ticker datum for a symbol.
type MarketTick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (t *MarketTick) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("tick missing symbol")
	}
	if t.Price <= 0 {
		return fmt.Errorf("tick price must be positive, got %f", t.Price)
	}
	return nil
}

// Candle is one OHLCV bar for a symbol and timeframe.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("candle missing symbol")
	}
	if c.Timeframe == "" {
		return fmt.Errorf("candle missing timeframe")
	}
	if c.OpenTime.IsZero() {
		return fmt.Errorf("candle missing open_time")
	}
	if c.High < c.Low {
		return fmt.Errorf("candle high %f below low %f", c.High, c.Low)
	}
	if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("candle open/close outside high/low range")
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle volume must be non-negative, got %f", c.Volume)
	}
	return nil
}

// Signal is an indicator-derived trading signal.
type Signal struct {
	ID         uuid.UUID          `json:"id"`
	Symbol     string             `json:"symbol"`
	Source     string             `json:"source"` // indicator family, e.g. "rsi", "macd"
	Kind       SignalKind         `json:"kind"`
	Confidence float64            `json:"confidence"`
	EmittedAt  time.Time          `json:"emitted_at"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Reasoning  string             `json:"reasoning,omitempty"`
}

func (s *Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal missing symbol")
	}
	if s.Source == "" {
		return fmt.Errorf("signal missing source")
	}
	switch s.Kind {
	case SignalBuy, SignalSell, SignalHold:
	default:
		return fmt.Errorf("signal kind %q is not one of BUY/SELL/HOLD", s.Kind)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal confidence %f outside [0,1]", s.Confidence)
	}
	if s.EmittedAt.IsZero() {
		return fmt.Errorf("signal missing emitted_at")
	}
	return nil
}

// FusionMeta records how a trade intent was fused from its input signals.
type FusionMeta struct {
	Strategy    string             `json:"strategy"`
	SignalCount int                `json:"signal_count"`
	Scores      map[string]float64 `json:"scores,omitempty"` // per-kind fused scores
	Sources     []string           `json:"sources,omitempty"`
}

// TradeIntent is a desired trade emitted by the strategy agent, before risk
// sizing.
type TradeIntent struct {
	ID            uuid.UUID  `json:"id"`
	Symbol        string     `json:"symbol"`
	Action        OrderSide  `json:"action"`
	Confidence    float64    `json:"confidence"`
	ExpectedPrice float64    `json:"expected_price"`
	Fusion        FusionMeta `json:"fusion"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (i *TradeIntent) Validate() error {
	if i.ID == uuid.Nil {
		return fmt.Errorf("intent missing id")
	}
	if i.Symbol == "" {
		return fmt.Errorf("intent missing symbol")
	}
	if i.Action != SideBuy && i.Action != SideSell {
		return fmt.Errorf("intent action %q is not BUY or SELL", i.Action)
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("intent confidence %f outside [0,1]", i.Confidence)
	}
	return nil
}

// ValidatedOrder is a fully sized order approved by the risk manager.
type ValidatedOrder struct {
	OrderID       uuid.UUID `json:"order_id"`
	IntentID      uuid.UUID `json:"intent_id"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Quantity      float64   `json:"quantity"`
	ExpectedPrice float64   `json:"expected_price"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	ReservedUSD   float64   `json:"reserved_usd"`
	CreatedAt     time.Time `json:"created_at"`
}

func (o *ValidatedOrder) Validate() error {
	if o.OrderID == uuid.Nil {
		return fmt.Errorf("order missing order_id")
	}
	if o.Symbol == "" {
		return fmt.Errorf("order missing symbol")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("order side %q is not BUY or SELL", o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %f", o.Quantity)
	}
	if o.ReservedUSD <= 0 {
		return fmt.Errorf("order reserved_usd must be positive, got %f", o.ReservedUSD)
	}
	return nil
}

// OrderStatusUpdate reports an order's progress to the rest of the pipeline.
type OrderStatusUpdate struct {
	OrderID     uuid.UUID  `json:"order_id"`
	Symbol      string     `json:"symbol"`
	Side        OrderSide  `json:"side,omitempty"`
	Status      OrderState `json:"status"`
	FilledQty   float64    `json:"filled_qty"`
	AvgPrice    float64    `json:"avg_price"`
	Fee         float64    `json:"fee"`
	FeeCurrency string     `json:"fee_currency,omitempty"`
	RealizedPnL float64    `json:"realized_pnl,omitempty"` // set on position-closing fills
	Timestamp   time.Time  `json:"timestamp"`
}

func (u *OrderStatusUpdate) Validate() error {
	if u.OrderID == uuid.Nil {
		return fmt.Errorf("order status missing order_id")
	}
	if !u.Status.valid() {
		return fmt.Errorf("order status %q is unknown", u.Status)
	}
	return nil
}

// PositionUpdate is a snapshot of a position published on every state change.
type PositionUpdate struct {
	PositionID    uuid.UUID     `json:"position_id"`
	Exchange      string        `json:"exchange"`
	Symbol        string        `json:"symbol"`
	Side          string        `json:"side"` // LONG or SHORT
	State         PositionState `json:"state"`
	Quantity      float64       `json:"quantity"`
	AvgEntry      float64       `json:"avg_entry"`
	CurrentPrice  float64       `json:"current_price"`
	StopLoss      float64       `json:"stop_loss,omitempty"`
	TakeProfit    float64       `json:"take_profit,omitempty"`
	UnrealizedPnL float64       `json:"unrealized_pnl"`
	RealizedPnL   float64       `json:"realized_pnl"`
	Timestamp     time.Time     `json:"timestamp"`
}

func (p *PositionUpdate) Validate() error {
	if p.PositionID == uuid.Nil {
		return fmt.Errorf("position update missing position_id")
	}
	if p.Symbol == "" {
		return fmt.Errorf("position update missing symbol")
	}
	return nil
}

// StreamDegraded signals that a streaming market data feed went silent and
// the collector fell back to polling.
type StreamDegraded struct {
	Symbol    string        `json:"symbol"`
	SilentFor time.Duration `json:"silent_for"`
	Timestamp time.Time     `json:"timestamp"`
}

// AgentError is published on the diagnostic topic for non-recoverable errors.
type AgentError struct {
	Agent     string    `json:"agent"`
	Error     string    `json:"error"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Heartbeat is the periodic liveness beacon every agent publishes.
type Heartbeat struct {
	Agent     string    `json:"agent"`
	AgentType string    `json:"agent_type"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
