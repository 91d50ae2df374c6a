package protocol

import (
	"fmt"
	"strings"
)

// Canonical topic names. Per-symbol topics are built with TickTopic and
// CandleTopic; the rest are fixed.
const (
	TopicSignals        = "signals.tech"
	TopicTradeIntent    = "trade.intent"
	TopicTradeOrder     = "trade.order"
	TopicOrderStatus    = "order.status"
	TopicPositionUpdate = "position.update"
	TopicDiagnostics    = "diag.agent_error"
	TopicHeartbeat      = "diag.heartbeat"

	tickTopicPrefix   = "market.tick."
	candleTopicPrefix = "market.ohlcv."
)

// NormalizeSymbol converts an exchange pair like "BTC/USDT" into its subject
// form "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "", ":", "").Replace(symbol))
}

// TickTopic returns the per-symbol ticker topic.
func TickTopic(symbol string) string {
	return tickTopicPrefix + NormalizeSymbol(symbol)
}

// CandleTopic returns the per-symbol OHLCV topic.
func CandleTopic(symbol string) string {
	return candleTopicPrefix + NormalizeSymbol(symbol)
}

// TickTopicWildcard subscribes to ticks for all symbols.
func TickTopicWildcard() string {
	return tickTopicPrefix + "*"
}

// CandleTopicWildcard subscribes to candles for all symbols.
func CandleTopicWildcard() string {
	return candleTopicPrefix + "*"
}

// DeadLetterTopic returns the dead-letter topic for a source topic.
func DeadLetterTopic(topic string) string {
	return fmt.Sprintf("dlq.%s", topic)
}
