// Package metrics holds the Prometheus instruments for the trading
// pipeline plus the HTTP plumbing to expose them. Label values are drawn
// from bounded sets so cardinality stays flat.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded label sets. Free-form strings are normalized before labeling.
const (
	// Risk rejection reasons
	RejectLowConfidence = "confidence_below_minimum"
	RejectRewardRisk    = "reward_risk_below_minimum"
	RejectTradeRisk     = "per_trade_risk_exceeded"
	RejectPortfolioRisk = "portfolio_risk_exceeded"
	RejectClusterRisk   = "correlation_cluster_exceeded"
	RejectMinLotBudget  = "below_min_lot_exceeds_budget"
	RejectInsufficient  = "insufficient_available_balance"
	RejectOther         = "other"

	// Exchange API error categories
	ExchangeErrorTimeout     = "timeout"
	ExchangeErrorRateLimit   = "rate_limit"
	ExchangeErrorAuth        = "authentication"
	ExchangeErrorNetwork     = "network"
	ExchangeErrorInvalidReq  = "invalid_request"
	ExchangeErrorServerError = "server_error"
	ExchangeErrorOther       = "other"
)

var knownRejectReasons = map[string]bool{
	RejectLowConfidence: true,
	RejectRewardRisk:    true,
	RejectTradeRisk:     true,
	RejectPortfolioRisk: true,
	RejectClusterRisk:   true,
	RejectMinLotBudget:  true,
	RejectInsufficient:  true,
}

// NormalizeRejectReason maps arbitrary rejection reasons to the bounded set
func NormalizeRejectReason(reason string) string {
	if knownRejectReasons[reason] {
		return reason
	}
	return RejectOther
}

// NormalizeExchangeError maps arbitrary error messages to the bounded set
func NormalizeExchangeError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ExchangeErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return ExchangeErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "signature") || strings.Contains(errStr, "key"):
		return ExchangeErrorAuth
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") || strings.Contains(errStr, "refused"):
		return ExchangeErrorNetwork
	case strings.Contains(errStr, "invalid") || strings.Contains(errStr, "rejected"):
		return ExchangeErrorInvalidReq
	case strings.Contains(errStr, "5xx") || strings.Contains(errStr, "server"):
		return ExchangeErrorServerError
	default:
		return ExchangeErrorOther
	}
}

// Market data
var (
	CandlesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_candles_ingested_total",
		Help: "Candles persisted and published by the data agent",
	}, []string{"symbol"})

	DuplicateCandlesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_duplicate_candles_dropped_total",
		Help: "Late candles discarded by the open-time guard",
	})

	StreamDegradations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stream_degradations_total",
		Help: "Times a market data stream went silent past the threshold",
	}, []string{"symbol"})
)

// Signals and strategy
var (
	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_signals_generated_total",
		Help: "Technical signals emitted, by indicator and kind",
	}, []string{"indicator", "kind"})

	StrategyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_strategy_decisions_total",
		Help: "Fusion decisions, by action and whether an intent was emitted",
	}, []string{"action", "emitted"})
)

// Risk
var (
	RiskApprovals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_risk_approvals_total",
		Help: "Trade intents approved by the risk manager",
	})

	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_risk_rejections_total",
		Help: "Trade intents rejected, by reason",
	}, []string{"reason"})

	AvailableBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_available_balance_usd",
		Help: "Balance minus active reservations",
	})
)

// Execution
var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_orders_placed_total",
		Help: "Orders sent to the venue, by terminal status",
	}, []string{"status"})

	SlippagePct = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_slippage_pct",
		Help:    "Sign-adjusted fill slippage in percent",
		Buckets: []float64{-1, -0.5, -0.3, -0.1, 0, 0.1, 0.3, 0.5, 1, 2},
	})

	ExecutionQuality = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_execution_quality_score",
		Help:    "Composite execution quality score (0-100)",
		Buckets: []float64{20, 40, 60, 80, 90, 100},
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_open_positions",
		Help: "Currently open positions",
	})

	TotalPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_total_pnl_usd",
		Help: "Realized plus unrealized PnL across positions",
	})

	WinRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_win_rate",
		Help: "Share of closed positions with positive realized PnL",
	})
)

// Infrastructure
var (
	ExchangeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_exchange_errors_total",
		Help: "Exchange API errors, by category",
	}, []string{"category"})

	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_cache_operations_total",
		Help: "Ticker cache operations, by op and outcome",
	}, []string{"op", "outcome"})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_api_requests_total",
		Help: "Ops API requests, by method, path, and status",
	}, []string{"method", "path", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_api_request_duration_ms",
		Help:    "Ops API request latency in milliseconds",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
	}, []string{"method", "path"})
)

// RecordSignal counts one emitted technical signal.
func RecordSignal(indicator, kind string) {
	SignalsGenerated.WithLabelValues(indicator, kind).Inc()
}

// RecordDecision counts one strategy decision.
func RecordDecision(action string, emitted bool) {
	label := "false"
	if emitted {
		label = "true"
	}
	StrategyDecisions.WithLabelValues(action, label).Inc()
}

// RecordRejection counts one risk rejection with a normalized reason.
func RecordRejection(reason string) {
	RiskRejections.WithLabelValues(NormalizeRejectReason(reason)).Inc()
}

// RecordFill records one terminal order outcome and its quality.
func RecordFill(status string, slippagePct, qualityScore float64) {
	OrdersPlaced.WithLabelValues(status).Inc()
	SlippagePct.Observe(slippagePct)
	ExecutionQuality.Observe(qualityScore)
}

// RecordCacheOp counts one ticker cache operation.
func RecordCacheOp(op, outcome string) {
	CacheOperations.WithLabelValues(op, outcome).Inc()
}

// RecordAPIRequest records one ops API request.
func RecordAPIRequest(method, path, status string, durationMS float64) {
	APIRequests.WithLabelValues(method, path, status).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(durationMS)
}
