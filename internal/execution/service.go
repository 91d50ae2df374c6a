package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/exchange"
	"github.com/ajitpratap0/tradepipe/internal/metrics"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

const (
	agentName = "execution-agent"

	defaultMonitorInterval = 10 * time.Second
	defaultOrderTimeout    = 30 * time.Second
	queryTimeout           = 5 * time.Second
)

// Publisher publishes envelopes to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *protocol.Envelope) error
}

// Store is the database surface the execution agent needs.
type Store interface {
	InsertOrder(ctx context.Context, order *db.Order) error
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status protocol.OrderState, executedQty, executedQuoteQty float64, filledAt, canceledAt *time.Time, errorMsg *string) error
	GetOrdersByPosition(ctx context.Context, positionID uuid.UUID) ([]db.Order, error)
	InsertTrade(ctx context.Context, trade *db.Trade) error
	InsertPosition(ctx context.Context, p *db.Position) error
	UpdatePosition(ctx context.Context, p *db.Position) error
	GetOpenPositions(ctx context.Context, exchange string) ([]db.Position, error)
	InsertPerformanceSnapshot(ctx context.Context, s *db.PerformanceSnapshot) error
}

// Service is the execution agent. It turns validated orders into venue
// orders, maintains the position lifecycle, and watches open positions for
// stop-loss and take-profit triggers.
type Service struct {
	cfg   config.ExecutionConfig
	venue exchange.Exchange
	store Store
	pub   Publisher

	book  *PositionBook
	bench *Benchmarks
	retry exchange.RetryConfig

	monitorInterval time.Duration
	orderTimeout    time.Duration
	clock           func() time.Time
}

// NewService wires an execution service around a venue.
func NewService(cfg config.ExecutionConfig, venue exchange.Exchange, store Store, pub Publisher) *Service {
	retry := exchange.DefaultRetryConfig()
	if cfg.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.RetryMaxAttempts
	}

	interval := cfg.MonitoringInterval
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	timeout := cfg.OrderTimeout
	if timeout <= 0 {
		timeout = defaultOrderTimeout
	}

	return &Service{
		cfg:             cfg,
		venue:           venue,
		store:           store,
		pub:             pub,
		book:            NewPositionBook(),
		bench:           NewBenchmarks(),
		retry:           retry,
		monitorInterval: interval,
		orderTimeout:    timeout,
		clock:           time.Now,
	}
}

// Book exposes the position book, mainly for recovery checks.
func (s *Service) Book() *PositionBook { return s.book }

// Benchmarks exposes the execution quality rollups.
func (s *Service) Benchmarks() *Benchmarks { return s.bench }

// HandleOrder is the bus handler for validated orders.
func (s *Service) HandleOrder(env *protocol.Envelope) error {
	var order protocol.ValidatedOrder
	if err := env.DecodePayload(&order); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.orderTimeout)
	defer cancel()
	return s.Execute(ctx, &order)
}

// Execute places one validated order and applies its fill to the position
// lifecycle. Redelivered orders that already reached the venue are skipped.
func (s *Service) Execute(ctx context.Context, vo *protocol.ValidatedOrder) error {
	symbol := protocol.NormalizeSymbol(vo.Symbol)

	lock := s.book.SymbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	// redelivery check: the client order id is the validated order id
	if existing, err := s.venue.FetchOrder(ctx, symbol, vo.OrderID.String()); err == nil && existing != nil {
		log.Warn().
			Str("order_id", vo.OrderID.String()).
			Str("status", string(existing.Status)).
			Msg("Order already placed, skipping redelivery")
		return nil
	}

	now := s.clock()
	record := &db.Order{
		ID:        vo.OrderID,
		IntentID:  &vo.IntentID,
		Symbol:    symbol,
		Exchange:  s.venue.Name(),
		Side:      vo.Side,
		Type:      db.OrderTypeMarket,
		Status:    protocol.OrderPending,
		Quantity:  vo.Quantity,
		PlacedAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertOrder(ctx, record); err != nil {
		return err
	}

	placedAt := s.clock()
	var resp *exchange.PlaceOrderResponse
	err := exchange.WithRetry(ctx, s.retry, func() error {
		var placeErr error
		resp, placeErr = s.venue.PlaceOrder(ctx, exchange.PlaceOrderRequest{
			ClientOrderID: vo.OrderID.String(),
			Symbol:        symbol,
			Side:          vo.Side,
			Type:          exchange.OrderTypeMarket,
			Quantity:      vo.Quantity,
		})
		return placeErr
	})
	if err != nil {
		return s.failOrder(ctx, vo, err)
	}

	order, err := s.venue.FetchOrder(ctx, symbol, resp.OrderID)
	if err != nil {
		return s.failOrder(ctx, vo, err)
	}
	if order.Status != protocol.OrderFilled {
		msg := order.RejectReason
		errMsg := &msg
		if msg == "" {
			errMsg = nil
		}
		if err := s.store.UpdateOrderStatus(ctx, vo.OrderID, order.Status, order.FilledQty, order.FilledQty*order.AvgFillPrice, nil, nil, errMsg); err != nil {
			return err
		}
		return s.publishOrderStatus(ctx, &protocol.OrderStatusUpdate{
			OrderID:   vo.OrderID,
			Symbol:    symbol,
			Side:      vo.Side,
			Status:    order.Status,
			Timestamp: s.clock(),
		})
	}

	fills, err := s.venue.GetOrderFills(ctx, symbol, resp.OrderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", vo.OrderID.String()).Msg("Fill details unavailable")
	}

	var totalFee float64
	for _, fill := range fills {
		totalFee += fill.Fee
		trade := &db.Trade{
			ID:            uuid.New(),
			OrderID:       vo.OrderID,
			Symbol:        symbol,
			Exchange:      s.venue.Name(),
			Side:          vo.Side,
			Price:         fill.Price,
			Quantity:      fill.Quantity,
			QuoteQuantity: fill.Price * fill.Quantity,
			Commission:    fill.Fee,
			ExecutedAt:    fill.Timestamp,
			IsMaker:       fill.IsMaker,
			CreatedAt:     s.clock(),
		}
		if err := s.store.InsertTrade(ctx, trade); err != nil {
			log.Error().Err(err).Str("order_id", vo.OrderID.String()).Msg("Failed to persist trade")
		}
	}

	filledAt := s.clock()
	if order.FilledAt != nil {
		filledAt = *order.FilledAt
	}
	if err := s.store.UpdateOrderStatus(ctx, vo.OrderID, protocol.OrderFilled,
		order.FilledQty, order.FilledQty*order.AvgFillPrice, &filledAt, nil, nil); err != nil {
		return err
	}

	s.recordQuality(ctx, vo, order, totalFee, filledAt.Sub(placedAt))

	if err := s.publishOrderStatus(ctx, &protocol.OrderStatusUpdate{
		OrderID:     vo.OrderID,
		Symbol:      symbol,
		Side:        vo.Side,
		Status:      protocol.OrderFilled,
		FilledQty:   order.FilledQty,
		AvgPrice:    order.AvgFillPrice,
		Fee:         totalFee,
		FeeCurrency: "USDT",
		Timestamp:   s.clock(),
	}); err != nil {
		return err
	}

	return s.applyFillToPosition(ctx, vo, order)
}

// failOrder marks an order FAILED after retries are exhausted and reports
// the terminal state downstream.
func (s *Service) failOrder(ctx context.Context, vo *protocol.ValidatedOrder, cause error) error {
	msg := cause.Error()
	if err := s.store.UpdateOrderStatus(ctx, vo.OrderID, protocol.OrderFailed, 0, 0, nil, nil, &msg); err != nil {
		return err
	}

	log.Error().
		Err(cause).
		Str("order_id", vo.OrderID.String()).
		Str("symbol", vo.Symbol).
		Msg("Order placement failed")

	return s.publishOrderStatus(ctx, &protocol.OrderStatusUpdate{
		OrderID:   vo.OrderID,
		Symbol:    protocol.NormalizeSymbol(vo.Symbol),
		Side:      vo.Side,
		Status:    protocol.OrderFailed,
		Timestamp: s.clock(),
	})
}

// recordQuality grades the execution and persists a performance snapshot.
func (s *Service) recordQuality(ctx context.Context, vo *protocol.ValidatedOrder, order *exchange.Order, totalFee float64, speed time.Duration) {
	notional := order.AvgFillPrice * order.FilledQty
	var feePct float64
	if notional > 0 {
		feePct = totalFee / notional * 100
	}

	quality := Quality{
		SlippagePct: SlippagePct(vo.Side, vo.ExpectedPrice, order.AvgFillPrice),
		FeePct:      feePct,
		Duration:    speed,
	}
	s.bench.Record(order.Symbol, quality)
	metrics.RecordFill(string(protocol.OrderFilled), quality.SlippagePct, quality.Score())

	snapshot := &db.PerformanceSnapshot{
		ID:              uuid.New(),
		Symbol:          order.Symbol,
		OrderID:         vo.OrderID,
		SlippagePct:     quality.SlippagePct,
		FeePct:          feePct,
		ExecutionTimeMS: speed.Milliseconds(),
		QualityScore:    quality.Score(),
		CreatedAt:       s.clock(),
	}
	if err := s.store.InsertPerformanceSnapshot(ctx, snapshot); err != nil {
		log.Warn().Err(err).Str("order_id", vo.OrderID.String()).Msg("Failed to persist performance snapshot")
	}

	log.Info().
		Str("symbol", order.Symbol).
		Float64("slippage_pct", quality.SlippagePct).
		Float64("fee_pct", feePct).
		Float64("quality_score", quality.Score()).
		Msg("Execution graded")
}

// applyFillToPosition opens a new position or grows/reduces the existing
// one. Caller holds the symbol lock.
func (s *Service) applyFillToPosition(ctx context.Context, vo *protocol.ValidatedOrder, order *exchange.Order) error {
	now := s.clock()
	symbol := order.Symbol

	pos := s.book.Get(symbol)
	if pos == nil {
		side := db.PositionSideLong
		if vo.Side == protocol.SideSell {
			side = db.PositionSideShort
		}
		pos = &db.Position{
			ID:            uuid.New(),
			Exchange:      s.venue.Name(),
			Symbol:        symbol,
			Side:          side,
			Status:        db.PositionStatusOpen,
			State:         protocol.PositionOpen,
			Quantity:      order.FilledQty,
			AvgEntryPrice: order.AvgFillPrice,
			CurrentPrice:  order.AvgFillPrice,
			OpenedAt:      now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if vo.StopLoss > 0 {
			sl := vo.StopLoss
			pos.StopLoss = &sl
		}
		if vo.TakeProfit > 0 {
			tp := vo.TakeProfit
			pos.TakeProfit = &tp
		}

		if err := s.store.InsertPosition(ctx, pos); err != nil {
			return err
		}
		s.book.Set(symbol, pos)

		if err := s.placeProtectiveOrders(ctx, pos); err != nil {
			log.Warn().Err(err).Str("position_id", pos.ID.String()).Msg("Failed to persist protective orders")
		}
		return s.publishPosition(ctx, pos)
	}

	realized, closed := applyFill(pos, vo.Side, order.FilledQty, order.AvgFillPrice, now)
	if closed {
		pos.Status = db.PositionStatusClosed
		pos.State = protocol.PositionClosed
		closedAt := now
		pos.ClosedAt = &closedAt
		s.book.Remove(symbol)
		s.cancelProtectiveOrders(ctx, pos)
	} else {
		pos.UnrealizedPnL = unrealizedPnL(pos, order.AvgFillPrice)
		if realized != 0 {
			pos.State = protocol.PositionReducing
		}
	}

	if err := s.store.UpdatePosition(ctx, pos); err != nil {
		return err
	}
	if err := s.publishPosition(ctx, pos); err != nil {
		return err
	}

	// a surviving reduced position goes back to steady state
	if !closed && pos.State == protocol.PositionReducing {
		pos.State = protocol.PositionOpen
		if err := s.store.UpdatePosition(ctx, pos); err != nil {
			return err
		}
		return s.publishPosition(ctx, pos)
	}
	return nil
}

// placeProtectiveOrders records the stop-loss and take-profit as
// reduce-only orders tied to the position. The paper venue has no native
// stop orders, so the monitor simulates their triggers locally.
func (s *Service) placeProtectiveOrders(ctx context.Context, pos *db.Position) error {
	closeSide := protocol.SideSell
	if pos.Side == db.PositionSideShort {
		closeSide = protocol.SideBuy
	}

	now := s.clock()
	mk := func(orderType db.OrderType, stopPrice *float64) *db.Order {
		return &db.Order{
			ID:         uuid.New(),
			PositionID: &pos.ID,
			Symbol:     pos.Symbol,
			Exchange:   s.venue.Name(),
			Side:       closeSide,
			Type:       orderType,
			Status:     protocol.OrderOpen,
			StopPrice:  stopPrice,
			Quantity:   pos.Quantity,
			ReduceOnly: true,
			PlacedAt:   now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	if pos.StopLoss != nil {
		if err := s.store.InsertOrder(ctx, mk(db.OrderTypeStopLoss, pos.StopLoss)); err != nil {
			return err
		}
	}
	if pos.TakeProfit != nil {
		if err := s.store.InsertOrder(ctx, mk(db.OrderTypeTakeProfit, pos.TakeProfit)); err != nil {
			return err
		}
	}
	return nil
}

// cancelProtectiveOrders voids any live reduce-only orders for a position.
func (s *Service) cancelProtectiveOrders(ctx context.Context, pos *db.Position) {
	orders, err := s.store.GetOrdersByPosition(ctx, pos.ID)
	if err != nil {
		log.Warn().Err(err).Str("position_id", pos.ID.String()).Msg("Failed to load protective orders")
		return
	}

	now := s.clock()
	for _, order := range orders {
		if !order.ReduceOnly || order.Status.Terminal() {
			continue
		}
		if err := s.store.UpdateOrderStatus(ctx, order.ID, protocol.OrderCancelled, 0, 0, nil, &now, nil); err != nil {
			log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("Failed to cancel protective order")
		}
	}
}

func (s *Service) publishOrderStatus(ctx context.Context, update *protocol.OrderStatusUpdate) error {
	env, err := protocol.NewEnvelope(agentName, protocol.MessageTypeOrderStatus, update)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, protocol.TopicOrderStatus, env)
}

func (s *Service) publishPosition(ctx context.Context, pos *db.Position) error {
	update := &protocol.PositionUpdate{
		PositionID:    pos.ID,
		Exchange:      pos.Exchange,
		Symbol:        pos.Symbol,
		Side:          string(pos.Side),
		State:         pos.State,
		Quantity:      pos.Quantity,
		AvgEntry:      pos.AvgEntryPrice,
		CurrentPrice:  pos.CurrentPrice,
		UnrealizedPnL: pos.UnrealizedPnL,
		RealizedPnL:   pos.RealizedPnL,
		Timestamp:     s.clock(),
	}
	if pos.StopLoss != nil {
		update.StopLoss = *pos.StopLoss
	}
	if pos.TakeProfit != nil {
		update.TakeProfit = *pos.TakeProfit
	}

	env, err := protocol.NewEnvelope(agentName, protocol.MessageTypePositionUpdate, update)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, protocol.TopicPositionUpdate, env)
}

// Recover rebuilds the in-memory position book from the database after a
// restart and reconciles in-flight entry orders with the venue. Monitoring
// resumes from the rebuilt book.
func (s *Service) Recover(ctx context.Context) error {
	positions, err := s.store.GetOpenPositions(ctx, s.venue.Name())
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}

	for i := range positions {
		pos := positions[i]
		symbol := protocol.NormalizeSymbol(pos.Symbol)

		lock := s.book.SymbolLock(symbol)
		lock.Lock()
		s.book.Set(symbol, &pos)
		lock.Unlock()

		s.reconcileOrders(ctx, &pos)
		log.Info().
			Str("symbol", symbol).
			Str("position_id", pos.ID.String()).
			Float64("quantity", pos.Quantity).
			Msg("Position recovered")
	}

	log.Info().Int("positions", len(positions)).Msg("Recovery complete")
	return nil
}

// reconcileOrders syncs non-terminal entry orders with the venue's view.
func (s *Service) reconcileOrders(ctx context.Context, pos *db.Position) {
	orders, err := s.store.GetOrdersByPosition(ctx, pos.ID)
	if err != nil {
		log.Warn().Err(err).Str("position_id", pos.ID.String()).Msg("Failed to load orders for reconciliation")
		return
	}

	for _, order := range orders {
		if order.Status.Terminal() || order.ReduceOnly {
			continue
		}
		venueOrder, err := s.venue.FetchOrder(ctx, order.Symbol, order.ID.String())
		if err != nil {
			continue
		}
		if venueOrder.Status == order.Status {
			continue
		}
		if err := s.store.UpdateOrderStatus(ctx, order.ID, venueOrder.Status,
			venueOrder.FilledQty, venueOrder.FilledQty*venueOrder.AvgFillPrice,
			venueOrder.FilledAt, nil, nil); err != nil {
			log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("Failed to reconcile order status")
		}
	}
}

// Run starts the monitoring loop and blocks until the context is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.monitorInterval).Msg("Position monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Position monitor stopped")
			return
		case <-ticker.C:
			s.MonitorOnce(ctx)
		}
	}
}

// MonitorOnce refreshes every open position: updates unrealized PnL and
// fires stop-loss / take-profit triggers.
func (s *Service) MonitorOnce(ctx context.Context) {
	for _, symbol := range s.book.Symbols() {
		if err := s.checkPosition(ctx, symbol); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Position check failed")
		}
	}
}

// checkPosition refreshes one position under its symbol lock.
func (s *Service) checkPosition(ctx context.Context, symbol string) error {
	lock := s.book.SymbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	pos := s.book.Get(symbol)
	if pos == nil {
		return nil
	}

	tickCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	ticker, err := s.venue.GetTicker(tickCtx, symbol)
	cancel()
	if err != nil {
		return err
	}

	price := ticker.Price
	pos.CurrentPrice = price
	pos.UnrealizedPnL = unrealizedPnL(pos, price)
	pos.UpdatedAt = s.clock()

	if trigger := triggeredBy(pos, price); trigger != "" {
		return s.closeOnTrigger(ctx, pos, trigger, price)
	}

	if err := s.store.UpdatePosition(ctx, pos); err != nil {
		return err
	}
	return s.publishPosition(ctx, pos)
}

// triggeredBy reports which protective level the price crossed, if any.
func triggeredBy(pos *db.Position, price float64) db.OrderType {
	if pos.Side == db.PositionSideLong {
		if pos.StopLoss != nil && price <= *pos.StopLoss {
			return db.OrderTypeStopLoss
		}
		if pos.TakeProfit != nil && price >= *pos.TakeProfit {
			return db.OrderTypeTakeProfit
		}
		return ""
	}

	if pos.StopLoss != nil && price >= *pos.StopLoss {
		return db.OrderTypeStopLoss
	}
	if pos.TakeProfit != nil && price <= *pos.TakeProfit {
		return db.OrderTypeTakeProfit
	}
	return ""
}

// closeOnTrigger market-closes a position whose stop-loss or take-profit
// level was crossed, cancels the sibling protective order, and finalizes
// realized PnL. Caller holds the symbol lock; removing the position from
// the book before unlocking makes the trigger fire at most once.
func (s *Service) closeOnTrigger(ctx context.Context, pos *db.Position, trigger db.OrderType, price float64) error {
	log.Info().
		Str("symbol", pos.Symbol).
		Str("trigger", string(trigger)).
		Float64("price", price).
		Msg("Protective level crossed, closing position")

	pos.State = protocol.PositionClosing
	if err := s.store.UpdatePosition(ctx, pos); err != nil {
		return err
	}
	if err := s.publishPosition(ctx, pos); err != nil {
		return err
	}

	closeSide := protocol.SideSell
	if pos.Side == db.PositionSideShort {
		closeSide = protocol.SideBuy
	}

	orders, err := s.store.GetOrdersByPosition(ctx, pos.ID)
	if err != nil {
		return err
	}
	var triggeredOrder, sibling *db.Order
	for i := range orders {
		order := &orders[i]
		if !order.ReduceOnly || order.Status.Terminal() {
			continue
		}
		if order.Type == trigger {
			triggeredOrder = order
		} else {
			sibling = order
		}
	}

	closeOrderID := uuid.New()
	if triggeredOrder != nil {
		closeOrderID = triggeredOrder.ID
	}

	var resp *exchange.PlaceOrderResponse
	err = exchange.WithRetry(ctx, s.retry, func() error {
		var placeErr error
		resp, placeErr = s.venue.PlaceOrder(ctx, exchange.PlaceOrderRequest{
			ClientOrderID: closeOrderID.String(),
			Symbol:        pos.Symbol,
			Side:          closeSide,
			Type:          exchange.OrderTypeMarket,
			Quantity:      pos.Quantity,
		})
		return placeErr
	})
	if err != nil {
		return fmt.Errorf("failed to close position %s: %w", pos.ID, err)
	}

	order, err := s.venue.FetchOrder(ctx, pos.Symbol, resp.OrderID)
	if err != nil {
		return err
	}

	now := s.clock()
	realized, _ := applyFill(pos, closeSide, order.FilledQty, order.AvgFillPrice, now)
	pos.Status = db.PositionStatusClosed
	pos.State = protocol.PositionClosed
	closedAt := now
	pos.ClosedAt = &closedAt

	if triggeredOrder != nil {
		if err := s.store.UpdateOrderStatus(ctx, triggeredOrder.ID, protocol.OrderFilled,
			order.FilledQty, order.FilledQty*order.AvgFillPrice, &now, nil, nil); err != nil {
			log.Warn().Err(err).Str("order_id", triggeredOrder.ID.String()).Msg("Failed to mark protective order filled")
		}
	}
	if sibling != nil {
		if err := s.store.UpdateOrderStatus(ctx, sibling.ID, protocol.OrderCancelled, 0, 0, nil, &now, nil); err != nil {
			log.Warn().Err(err).Str("order_id", sibling.ID.String()).Msg("Failed to cancel sibling protective order")
		}
	}

	if err := s.store.UpdatePosition(ctx, pos); err != nil {
		return err
	}
	s.book.Remove(pos.Symbol)

	var totalFee float64
	if fills, err := s.venue.GetOrderFills(ctx, pos.Symbol, resp.OrderID); err == nil {
		for _, fill := range fills {
			totalFee += fill.Fee
		}
	}

	if err := s.publishOrderStatus(ctx, &protocol.OrderStatusUpdate{
		OrderID:     closeOrderID,
		Symbol:      pos.Symbol,
		Side:        closeSide,
		Status:      protocol.OrderFilled,
		FilledQty:   order.FilledQty,
		AvgPrice:    order.AvgFillPrice,
		Fee:         totalFee,
		FeeCurrency: "USDT",
		RealizedPnL: realized,
		Timestamp:   now,
	}); err != nil {
		return err
	}
	return s.publishPosition(ctx, pos)
}
