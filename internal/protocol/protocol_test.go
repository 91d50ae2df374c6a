package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	intent := TradeIntent{
		ID:            uuid.New(),
		Symbol:        "BTC/USDT",
		Action:        SideBuy,
		Confidence:    0.72,
		ExpectedPrice: 121617.00,
		Fusion: FusionMeta{
			Strategy:    "hybrid",
			SignalCount: 5,
			Scores:      map[string]float64{"BUY": 0.72, "SELL": 0.05, "HOLD": 0.23},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	env, err := NewEnvelope("strategy-agent", MessageTypeTradeIntent, intent)
	require.NoError(t, err)
	require.NoError(t, env.Validate())

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NoError(t, decoded.Validate())

	var got TradeIntent
	require.NoError(t, decoded.DecodePayload(&got))

	assert.Equal(t, intent.ID, got.ID)
	assert.Equal(t, intent.Symbol, got.Symbol)
	assert.Equal(t, intent.Action, got.Action)
	assert.InDelta(t, intent.Confidence, got.Confidence, 1e-12)
	assert.InDelta(t, intent.ExpectedPrice, got.ExpectedPrice, 1e-12)
	assert.Equal(t, intent.Fusion.Strategy, got.Fusion.Strategy)
	assert.True(t, intent.CreatedAt.Equal(got.CreatedAt))
}

func TestDecodePayloadIgnoresUnknownFields(t *testing.T) {
	payload := []byte(`{
		"symbol": "ETH/USDT",
		"price": 4312.5,
		"timestamp": "2026-01-02T15:04:05Z",
		"future_field": {"nested": true}
	}`)

	env := &Envelope{
		ID:            uuid.New(),
		SchemaVersion: SchemaVersion,
		SourceAgent:   "data-agent",
		Type:          MessageTypeMarketTick,
		Timestamp:     time.Now(),
		Payload:       payload,
	}

	var tick MarketTick
	require.NoError(t, env.DecodePayload(&tick))
	assert.Equal(t, "ETH/USDT", tick.Symbol)
	assert.InDelta(t, 4312.5, tick.Price, 1e-12)
}

func TestDecodePayloadRejectsMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		payload string
		target  Validator
	}{
		{
			name:    "tick without price",
			msgType: MessageTypeMarketTick,
			payload: `{"symbol": "BTC/USDT", "timestamp": "2026-01-02T15:04:05Z"}`,
			target:  &MarketTick{},
		},
		{
			name:    "signal without kind",
			msgType: MessageTypeSignal,
			payload: `{"symbol": "BTC/USDT", "source": "rsi", "confidence": 0.5, "emitted_at": "2026-01-02T15:04:05Z"}`,
			target:  &Signal{},
		},
		{
			name:    "order without quantity",
			msgType: MessageTypeValidatedOrder,
			payload: `{"order_id": "a2f1b6f0-9f4e-4a6e-8f2a-1c9d1e1f2a3b", "symbol": "BTC/USDT", "side": "BUY", "reserved_usd": 100}`,
			target:  &ValidatedOrder{},
		},
		{
			name:    "intent with out of range confidence",
			msgType: MessageTypeTradeIntent,
			payload: `{"id": "a2f1b6f0-9f4e-4a6e-8f2a-1c9d1e1f2a3b", "symbol": "BTC/USDT", "action": "BUY", "confidence": 1.5}`,
			target:  &TradeIntent{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Envelope{
				ID:            uuid.New(),
				SchemaVersion: SchemaVersion,
				SourceAgent:   "test",
				Type:          tt.msgType,
				Timestamp:     time.Now(),
				Payload:       []byte(tt.payload),
			}
			assert.Error(t, env.DecodePayload(tt.target))
		})
	}
}

func TestCandleValidation(t *testing.T) {
	base := Candle{
		Symbol:    "BTC/USDT",
		Timeframe: "1m",
		OpenTime:  time.Now(),
		Open:      100, High: 110, Low: 95, Close: 105, Volume: 12.5,
	}
	require.NoError(t, base.Validate())

	badHigh := base
	badHigh.High = 90
	assert.Error(t, badHigh.Validate())

	badVolume := base
	badVolume.Volume = -1
	assert.Error(t, badVolume.Validate())
}

func TestOrderStateTransitionsForwardOnly(t *testing.T) {
	tests := []struct {
		from    OrderState
		to      OrderState
		allowed bool
	}{
		{OrderPending, OrderOpen, true},
		{OrderPending, OrderFilled, true},
		{OrderOpen, OrderPartial, true},
		{OrderPartial, OrderPartial, true},
		{OrderPartial, OrderFilled, true},
		{OrderOpen, OrderCancelled, true},
		{OrderFilled, OrderOpen, false},
		{OrderFilled, OrderCancelled, false},
		{OrderCancelled, OrderFilled, false},
		{OrderPartial, OrderOpen, false},
		{OrderOpen, OrderPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionSources(t *testing.T) {
	assert.Equal(t,
		[]OrderState{OrderPending, OrderOpen, OrderPartial},
		TransitionSources(OrderFilled))
	assert.Equal(t,
		[]OrderState{OrderPending}, TransitionSources(OrderOpen))
	// nothing may move to PENDING, it is the initial state
	assert.Empty(t, TransitionSources(OrderPending))
}

func TestPositionStateMachine(t *testing.T) {
	assert.True(t, PositionNone.CanTransition(PositionOpening))
	assert.True(t, PositionOpening.CanTransition(PositionOpening)) // partial fill
	assert.True(t, PositionOpening.CanTransition(PositionOpen))
	assert.True(t, PositionOpen.CanTransition(PositionReducing))
	assert.True(t, PositionReducing.CanTransition(PositionOpen))
	assert.True(t, PositionReducing.CanTransition(PositionClosing))
	assert.True(t, PositionClosing.CanTransition(PositionClosed))

	assert.False(t, PositionNone.CanTransition(PositionOpen))
	assert.False(t, PositionClosed.CanTransition(PositionOpening))
	assert.False(t, PositionOpen.CanTransition(PositionClosed))
	assert.False(t, PositionClosing.CanTransition(PositionOpen))
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "market.tick.BTCUSDT", TickTopic("BTC/USDT"))
	assert.Equal(t, "market.ohlcv.ETHUSDT", CandleTopic("eth/usdt"))
	assert.Equal(t, "market.ohlcv.SOLUSDT", CandleTopic("SOL-USDT"))
	assert.Equal(t, "dlq.trade.order", DeadLetterTopic(TopicTradeOrder))
}
