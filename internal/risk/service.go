package risk

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/indicators"
	pipemetrics "github.com/ajitpratap0/tradepipe/internal/metrics"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

const (
	agentName = "risk-agent"

	atrPeriod      = 14
	candleLookback = 50
	riskTimeframe  = "1m"

	assessTimeout = 10 * time.Second
)

// fallbackPrices are last-resort reference prices used when every live
// price source is unavailable. Orders sized off these carry a warning.
var fallbackPrices = map[string]float64{
	"BTCUSDT": 50000,
	"ETHUSDT": 2500,
	"SOLUSDT": 150,
}

const defaultFallbackPrice = 1000.0

// Publisher publishes envelopes to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *protocol.Envelope) error
}

// PriceCache reads the latest ticker for a symbol. A miss is not an error.
type PriceCache interface {
	GetTicker(ctx context.Context, symbol string) (*protocol.MarketTick, bool)
}

// Store is the database surface the risk agent needs.
type Store interface {
	InsertRiskAssessment(ctx context.Context, r *db.RiskAssessmentRecord) error
	RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]db.Candlestick, error)
	LatestClose(ctx context.Context, symbol string) (float64, error)
	GetOpenPositionRisk(ctx context.Context, exchange string) ([]db.OpenPositionRisk, error)
}

// Notifier receives fire-and-forget rejection notices. Optional.
type Notifier interface {
	TradeRejected(symbol string, reasons []string)
}

// Service is the risk manager agent. It consumes trade intents, sizes and
// validates them, and either publishes a validated order with funds
// reserved or records the rejection.
type Service struct {
	cfg      config.RiskConfig
	exchange string

	pub    Publisher
	cache  PriceCache
	store  Store
	notify Notifier

	ledger    *Ledger
	sizer     *Sizer
	planner   *StopPlanner
	validator *Validator

	clock func() time.Time
}

// NewService wires a risk service from configuration and a starting
// balance.
func NewService(cfg config.RiskConfig, exchange string, balance float64, pub Publisher, cache PriceCache, store Store) *Service {
	return &Service{
		cfg:       cfg,
		exchange:  exchange,
		pub:       pub,
		cache:     cache,
		store:     store,
		ledger:    NewLedger(balance),
		sizer:     NewSizer(cfg),
		planner:   NewStopPlanner(cfg),
		validator: NewValidator(cfg),
		clock:     time.Now,
	}
}

// Ledger exposes the fund ledger, mainly for balance re-sync on startup.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// SetNotifier installs an optional rejection notifier.
func (s *Service) SetNotifier(n Notifier) {
	s.notify = n
}

// HandleIntent is the bus handler for trade intents.
func (s *Service) HandleIntent(env *protocol.Envelope) error {
	var intent protocol.TradeIntent
	if err := env.DecodePayload(&intent); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), assessTimeout)
	defer cancel()
	return s.Assess(ctx, &intent)
}

// HandleOrderStatus settles reservations on terminal order states.
func (s *Service) HandleOrderStatus(env *protocol.Envelope) error {
	var update protocol.OrderStatusUpdate
	if err := env.DecodePayload(&update); err != nil {
		return err
	}
	s.ledger.Resolve(update.OrderID, update.Status)
	return nil
}

// Assess runs the full approval pipeline for one intent: price resolution,
// stop planning, sizing, layered validation, and atomic fund reservation.
// Every intent produces an assessment record, approved or not.
func (s *Service) Assess(ctx context.Context, intent *protocol.TradeIntent) error {
	symbol := protocol.NormalizeSymbol(intent.Symbol)
	price := s.resolvePrice(ctx, symbol, intent)

	planCtx := s.marketContext(ctx, symbol)
	plan, err := s.planner.Plan(intent.Action, price, planCtx)
	if err != nil {
		return s.reject(ctx, intent, "stop_plan_failed", err.Error(), nil, nil)
	}

	balance := s.ledger.Balance()
	sizing, err := s.sizer.Size(balance, price, intent.Confidence, plan.StopDistance)
	if err != nil {
		return s.reject(ctx, intent, "sizing_failed", err.Error(), nil, nil)
	}

	// Truncate to the exchange step so the order never exceeds the
	// budget; raise to the minimum lot when the exchange demands it.
	sizing.Quantity = RoundDownQty(sizing.Quantity, 0)
	if minLot := s.cfg.MinLots[symbol]; minLot > 0 && sizing.Quantity < minLot {
		raised := minLot * price
		ceiling := balance * s.sizer.PositionCeiling(balance)
		if raised > ceiling || raised > s.ledger.Available() {
			detail := "minimum lot " + symbol + " does not fit the position budget"
			return s.reject(ctx, intent, ReasonMinLotBudget, detail, sizing, nil)
		}
		sizing.Quantity = minLot
		sizing.SizeUSD = raised
		sizing.RiskUSD = minLot * plan.StopDistance
	}

	openRisk, totalOpen, err := s.openPositionRisk(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Open position risk unavailable, assuming none")
	}

	metrics := map[string]float64{
		"price":         price,
		"atr":           planCtx.ATR,
		"return_std":    planCtx.ReturnStd,
		"stop_distance": plan.StopDistance,
		"reward_risk":   plan.RewardRisk(price, intent.Action),
		"open_risk_usd": totalOpen,
	}

	if reason, detail := s.validator.Check(CheckInput{
		Intent:       intent,
		Price:        price,
		Plan:         plan,
		Sizing:       sizing,
		Balance:      balance,
		OpenRiskUSD:  openRisk,
		TotalOpenUSD: totalOpen,
	}); reason != "" {
		return s.reject(ctx, intent, reason, detail, sizing, metrics)
	}

	now := s.clock()
	order := &protocol.ValidatedOrder{
		OrderID:       uuid.New(),
		IntentID:      intent.ID,
		Symbol:        symbol,
		Side:          intent.Action,
		Quantity:      sizing.Quantity,
		ExpectedPrice: price,
		StopLoss:      plan.StopLoss,
		TakeProfit:    plan.TakeProfit,
		ReservedUSD:   sizing.SizeUSD,
		CreatedAt:     now,
	}

	// Persistence and publication run inside the reservation's critical
	// section, so a concurrent intent can never observe funds this order
	// has already claimed.
	err = s.ledger.Approve(order.OrderID, sizing.SizeUSD, func(available float64) error {
		metrics["available_after"] = available
		record := &db.RiskAssessmentRecord{
			ID:        uuid.New(),
			IntentID:  intent.ID,
			Symbol:    symbol,
			Approved:  true,
			RiskScore: sizing.RiskUSD / balance,
			SizeUSD:   sizing.SizeUSD,
			RiskUSD:   sizing.RiskUSD,
			Metrics:   metrics,
			CreatedAt: now,
		}
		if err := s.store.InsertRiskAssessment(ctx, record); err != nil {
			return err
		}

		env, err := protocol.NewEnvelope(agentName, protocol.MessageTypeValidatedOrder, order)
		if err != nil {
			return err
		}
		env.CorrelationID = intent.ID.String()
		return s.pub.Publish(ctx, protocol.TopicTradeOrder, env)
	})
	if errors.Is(err, ErrInsufficientBalance) {
		return s.reject(ctx, intent, ReasonInsufficientFunds, err.Error(), sizing, metrics)
	}
	if err != nil {
		return err
	}

	pipemetrics.RiskApprovals.Inc()
	pipemetrics.AvailableBalance.Set(s.ledger.Available())

	log.Info().
		Str("symbol", symbol).
		Str("order_id", order.OrderID.String()).
		Str("side", string(order.Side)).
		Float64("size_usd", sizing.SizeUSD).
		Float64("quantity", sizing.Quantity).
		Float64("stop_loss", plan.StopLoss).
		Float64("take_profit", plan.TakeProfit).
		Msg("Trade approved")
	return nil
}

// resolvePrice walks the price sources in freshness order: ticker cache,
// latest stored candle close, the intent's own expected price, and finally
// a hard-coded reference price.
func (s *Service) resolvePrice(ctx context.Context, symbol string, intent *protocol.TradeIntent) float64 {
	if s.cache != nil {
		if tick, ok := s.cache.GetTicker(ctx, symbol); ok && tick.Price > 0 {
			return tick.Price
		}
	}

	if close, err := s.store.LatestClose(ctx, symbol); err == nil && close > 0 {
		return close
	}

	if intent.ExpectedPrice > 0 {
		return intent.ExpectedPrice
	}

	price, ok := fallbackPrices[symbol]
	if !ok {
		price = defaultFallbackPrice
	}
	log.Warn().
		Str("symbol", symbol).
		Float64("price", price).
		Msg("using_fallback_price")
	return price
}

// marketContext derives the volatility context for stop placement from
// recent candles. Missing data degrades gracefully to zero values.
func (s *Service) marketContext(ctx context.Context, symbol string) PlanContext {
	candles, err := s.store.RecentCandles(ctx, symbol, riskTimeframe, candleLookback)
	if err != nil || len(candles) == 0 {
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Recent candles unavailable")
		}
		return PlanContext{}
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	atr, err := indicators.ATR(highs, lows, closes, atrPeriod)
	if err != nil {
		atr = 0
	}

	return PlanContext{
		ATR:         atr,
		ReturnStd:   StdDev(Returns(closes)),
		RecentLows:  lows,
		RecentHighs: highs,
	}
}

// openPositionRisk loads current open positions and returns per-symbol
// dollar risk plus the total.
func (s *Service) openPositionRisk(ctx context.Context) (map[string]float64, float64, error) {
	rows, err := s.store.GetOpenPositionRisk(ctx, s.exchange)
	if err != nil {
		return nil, 0, err
	}

	risk := make(map[string]float64, len(rows))
	var total float64
	for _, row := range rows {
		var perUnit float64
		if row.StopLoss != nil {
			perUnit = row.Entry - *row.StopLoss
			if perUnit < 0 {
				perUnit = -perUnit
			}
		} else {
			// stop unknown, assume the percentage stop width
			perUnit = row.Entry * s.planner.stopPct
		}
		usd := row.Quantity * perUnit
		risk[protocol.NormalizeSymbol(row.Symbol)] += usd
		total += usd
	}
	return risk, total, nil
}

// reject records a failed assessment. Rejections are terminal for the
// intent, so the handler returns nil and the message is acked.
func (s *Service) reject(ctx context.Context, intent *protocol.TradeIntent, reason, detail string, sizing *SizeResult, metrics map[string]float64) error {
	record := &db.RiskAssessmentRecord{
		ID:        uuid.New(),
		IntentID:  intent.ID,
		Symbol:    protocol.NormalizeSymbol(intent.Symbol),
		Approved:  false,
		Reasons:   []string{reason},
		Metrics:   metrics,
		CreatedAt: s.clock(),
	}
	if sizing != nil {
		record.SizeUSD = sizing.SizeUSD
		record.RiskUSD = sizing.RiskUSD
		if balance := s.ledger.Balance(); balance > 0 {
			record.RiskScore = sizing.RiskUSD / balance
		}
	}

	log.Info().
		Str("symbol", record.Symbol).
		Str("intent_id", intent.ID.String()).
		Str("reason", reason).
		Str("detail", detail).
		Msg("Trade rejected")

	if err := s.store.InsertRiskAssessment(ctx, record); err != nil {
		return err
	}
	pipemetrics.RecordRejection(reason)
	if s.notify != nil {
		s.notify.TradeRejected(record.Symbol, record.Reasons)
	}
	return nil
}
