package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/exchange"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

type memStore struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*db.Order
	trades    []*db.Trade
	positions map[uuid.UUID]*db.Position
	snapshots []*db.PerformanceSnapshot
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[uuid.UUID]*db.Order),
		positions: make(map[uuid.UUID]*db.Position),
	}
}

func (m *memStore) InsertOrder(_ context.Context, order *db.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, orderID uuid.UUID, status protocol.OrderState, executedQty, executedQuoteQty float64, filledAt, canceledAt *time.Time, errorMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil
	}
	order.Status = status
	order.ExecutedQuantity = executedQty
	order.ExecutedQuoteQuantity = executedQuoteQty
	order.FilledAt = filledAt
	order.CanceledAt = canceledAt
	order.ErrorMessage = errorMsg
	return nil
}

func (m *memStore) GetOrdersByPosition(_ context.Context, positionID uuid.UUID) ([]db.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Order
	for _, order := range m.orders {
		if order.PositionID != nil && *order.PositionID == positionID {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (m *memStore) InsertTrade(_ context.Context, trade *db.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return nil
}

func (m *memStore) InsertPosition(_ context.Context, p *db.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.positions[p.ID] = &cp
	return nil
}

func (m *memStore) UpdatePosition(_ context.Context, p *db.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.positions[p.ID] = &cp
	return nil
}

func (m *memStore) GetOpenPositions(_ context.Context, exchangeName string) ([]db.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Position
	for _, pos := range m.positions {
		if pos.Status == db.PositionStatusOpen && pos.Exchange == exchangeName {
			out = append(out, *pos)
		}
	}
	return out, nil
}

func (m *memStore) InsertPerformanceSnapshot(_ context.Context, s *db.PerformanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

func (m *memStore) order(t *testing.T, id uuid.UUID) db.Order {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	require.True(t, ok, "order %s not found", id)
	return *order
}

func (m *memStore) protectiveOrders(positionID uuid.UUID) map[db.OrderType]db.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[db.OrderType]db.Order)
	for _, order := range m.orders {
		if order.ReduceOnly && order.PositionID != nil && *order.PositionID == positionID {
			out[order.Type] = *order
		}
	}
	return out
}

type busCapture struct {
	mu     sync.Mutex
	topics []string
	envs   []*protocol.Envelope
}

func (b *busCapture) Publish(_ context.Context, topic string, env *protocol.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.envs = append(b.envs, env)
	return nil
}

func (b *busCapture) lastOrderStatus(t *testing.T) *protocol.OrderStatusUpdate {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.envs) - 1; i >= 0; i-- {
		if b.envs[i].Type == protocol.MessageTypeOrderStatus {
			var update protocol.OrderStatusUpdate
			require.NoError(t, b.envs[i].DecodePayload(&update))
			return &update
		}
	}
	t.Fatal("no order status published")
	return nil
}

func (b *busCapture) lastPosition(t *testing.T) *protocol.PositionUpdate {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.envs) - 1; i >= 0; i-- {
		if b.envs[i].Type == protocol.MessageTypePositionUpdate {
			var update protocol.PositionUpdate
			require.NoError(t, b.envs[i].DecodePayload(&update))
			return &update
		}
	}
	t.Fatal("no position update published")
	return nil
}

// zeroFeeVenue trades without fees or slippage so fill prices are exact.
func zeroFeeVenue() *exchange.MockExchange {
	return exchange.NewMockExchangeWithFees(config.FeeConfig{})
}

func newTestService(venue exchange.Exchange, store Store, pub Publisher) *Service {
	return NewService(config.ExecutionConfig{RetryMaxAttempts: 1}, venue, store, pub)
}

func validated(symbol string, side protocol.OrderSide, qty, price, sl, tp float64) *protocol.ValidatedOrder {
	return &protocol.ValidatedOrder{
		OrderID:       uuid.New(),
		IntentID:      uuid.New(),
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		ExpectedPrice: price,
		StopLoss:      sl,
		TakeProfit:    tp,
		ReservedUSD:   qty * price,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestExecuteFillsAndOpensPosition(t *testing.T) {
	venue := zeroFeeVenue()
	venue.SetMarketPrice("BTCUSDT", 121617)
	store := newMemStore()
	bus := &busCapture{}
	svc := newTestService(venue, store, bus)

	vo := validated("BTCUSDT", protocol.SideBuy, 0.01233, 121617, 118617, 127617)
	require.NoError(t, svc.Execute(context.Background(), vo))

	entry := store.order(t, vo.OrderID)
	assert.Equal(t, protocol.OrderFilled, entry.Status)
	assert.InDelta(t, 0.01233, entry.ExecutedQuantity, 1e-9)

	require.Len(t, store.trades, 1)
	assert.InDelta(t, 121617, store.trades[0].Price, 1e-9)

	pos := svc.Book().Get("BTCUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, db.PositionSideLong, pos.Side)
	assert.Equal(t, protocol.PositionOpen, pos.State)
	assert.InDelta(t, 121617, pos.AvgEntryPrice, 1e-9)
	require.NotNil(t, pos.StopLoss)
	assert.InDelta(t, 118617, *pos.StopLoss, 1e-9)

	protective := store.protectiveOrders(pos.ID)
	require.Len(t, protective, 2)
	assert.Equal(t, protocol.OrderOpen, protective[db.OrderTypeStopLoss].Status)
	assert.Equal(t, protocol.SideSell, protective[db.OrderTypeTakeProfit].Side)

	require.Len(t, store.snapshots, 1)
	assert.InDelta(t, 0, store.snapshots[0].SlippagePct, 1e-9)
	assert.InDelta(t, 100, store.snapshots[0].QualityScore, 1e-9)

	status := bus.lastOrderStatus(t)
	assert.Equal(t, protocol.OrderFilled, status.Status)
	update := bus.lastPosition(t)
	assert.Equal(t, protocol.PositionOpen, update.State)
}

func TestExecuteRedeliveryIsIdempotent(t *testing.T) {
	venue := zeroFeeVenue()
	venue.SetMarketPrice("BTCUSDT", 121617)
	store := newMemStore()
	svc := newTestService(venue, store, &busCapture{})

	vo := validated("BTCUSDT", protocol.SideBuy, 0.01233, 121617, 118617, 127617)
	require.NoError(t, svc.Execute(context.Background(), vo))
	require.NoError(t, svc.Execute(context.Background(), vo))

	assert.Len(t, store.trades, 1)
	pos := svc.Book().Get("BTCUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 0.01233, pos.Quantity, 1e-9)
}

func TestExecuteRejectedWithoutMarketPrice(t *testing.T) {
	venue := zeroFeeVenue()
	store := newMemStore()
	bus := &busCapture{}
	svc := newTestService(venue, store, bus)

	vo := validated("BTCUSDT", protocol.SideBuy, 0.01, 121617, 0, 0)
	require.NoError(t, svc.Execute(context.Background(), vo))

	assert.Equal(t, protocol.OrderRejected, store.order(t, vo.OrderID).Status)
	assert.Equal(t, protocol.OrderRejected, bus.lastOrderStatus(t).Status)
	assert.Nil(t, svc.Book().Get("BTCUSDT"))
}

func TestExecutePartialFillsAverageEntry(t *testing.T) {
	venue := zeroFeeVenue()
	venue.SetMarketPrice("ETHUSDT", 2500)
	store := newMemStore()
	svc := newTestService(venue, store, &busCapture{})

	// quantities of 1.0 and above walk the book across several fills
	vo := validated("ETHUSDT", protocol.SideBuy, 2.0, 2500, 2400, 2700)
	require.NoError(t, svc.Execute(context.Background(), vo))

	require.Greater(t, len(store.trades), 1)
	var value, qty float64
	for _, trade := range store.trades {
		value += trade.Price * trade.Quantity
		qty += trade.Quantity
	}

	pos := svc.Book().Get("ETHUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 2.0, pos.Quantity, 1e-9)
	assert.InDelta(t, value/qty, pos.AvgEntryPrice, 1e-6)
}

func TestExecuteOppositeSideReducesPosition(t *testing.T) {
	venue := zeroFeeVenue()
	venue.SetMarketPrice("ETHUSDT", 2500)
	store := newMemStore()
	bus := &busCapture{}
	svc := newTestService(venue, store, bus)

	require.NoError(t, svc.Execute(context.Background(),
		validated("ETHUSDT", protocol.SideBuy, 0.8, 2500, 2400, 2700)))
	pos := svc.Book().Get("ETHUSDT")
	require.NotNil(t, pos)
	entry := pos.AvgEntryPrice

	venue.SetMarketPrice("ETHUSDT", 2600)
	require.NoError(t, svc.Execute(context.Background(),
		validated("ETHUSDT", protocol.SideSell, 0.5, 2600, 0, 0)))

	pos = svc.Book().Get("ETHUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 0.3, pos.Quantity, 1e-9)
	assert.InDelta(t, (2600-entry)*0.5, pos.RealizedPnL, 1e-6)
	assert.Equal(t, protocol.PositionOpen, bus.lastPosition(t).State)
}

func TestStopLossTriggerClosesPosition(t *testing.T) {
	venue := zeroFeeVenue()
	venue.SetMarketPrice("BTCUSDT", 117050)
	store := newMemStore()
	bus := &busCapture{}
	svc := newTestService(venue, store, bus)

	require.NoError(t, svc.Execute(context.Background(),
		validated("BTCUSDT", protocol.SideBuy, 0.06, 117050, 117000, 118000)))
	pos := svc.Book().Get("BTCUSDT")
	require.NotNil(t, pos)

	venue.SetMarketPrice("BTCUSDT", 116950)
	svc.MonitorOnce(context.Background())

	assert.Nil(t, svc.Book().Get("BTCUSDT"))

	store.mu.Lock()
	closed := *store.positions[pos.ID]
	store.mu.Unlock()
	assert.Equal(t, db.PositionStatusClosed, closed.Status)
	assert.Equal(t, protocol.PositionClosed, closed.State)
	assert.InDelta(t, -6.0, closed.RealizedPnL, 1e-6)
	require.NotNil(t, closed.ClosedAt)

	protective := store.protectiveOrders(pos.ID)
	assert.Equal(t, protocol.OrderFilled, protective[db.OrderTypeStopLoss].Status)
	assert.Equal(t, protocol.OrderCancelled, protective[db.OrderTypeTakeProfit].Status)

	status := bus.lastOrderStatus(t)
	assert.Equal(t, protocol.SideSell, status.Side)
	assert.InDelta(t, -6.0, status.RealizedPnL, 1e-6)

	// the trigger fires at most once
	tradesBefore := len(store.trades)
	svc.MonitorOnce(context.Background())
	assert.Len(t, store.trades, tradesBefore)
}

func TestTakeProfitTriggerClosesLong(t *testing.T) {
	venue := zeroFeeVenue()
	venue.SetMarketPrice("BTCUSDT", 117050)
	store := newMemStore()
	svc := newTestService(venue, store, &busCapture{})

	require.NoError(t, svc.Execute(context.Background(),
		validated("BTCUSDT", protocol.SideBuy, 0.06, 117050, 117000, 118000)))
	pos := svc.Book().Get("BTCUSDT")
	require.NotNil(t, pos)

	venue.SetMarketPrice("BTCUSDT", 118100)
	svc.MonitorOnce(context.Background())

	store.mu.Lock()
	closed := *store.positions[pos.ID]
	store.mu.Unlock()
	assert.Equal(t, protocol.PositionClosed, closed.State)
	assert.InDelta(t, (118100-117050)*0.06, closed.RealizedPnL, 1e-6)

	protective := store.protectiveOrders(pos.ID)
	assert.Equal(t, protocol.OrderFilled, protective[db.OrderTypeTakeProfit].Status)
	assert.Equal(t, protocol.OrderCancelled, protective[db.OrderTypeStopLoss].Status)
}

func TestMonitorRefreshesUnrealizedPnL(t *testing.T) {
	venue := zeroFeeVenue()
	venue.SetMarketPrice("BTCUSDT", 117050)
	store := newMemStore()
	bus := &busCapture{}
	svc := newTestService(venue, store, bus)

	require.NoError(t, svc.Execute(context.Background(),
		validated("BTCUSDT", protocol.SideBuy, 0.06, 117050, 117000, 118000)))

	venue.SetMarketPrice("BTCUSDT", 117500)
	svc.MonitorOnce(context.Background())

	pos := svc.Book().Get("BTCUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 117500, pos.CurrentPrice, 1e-9)
	assert.InDelta(t, (117500-117050)*0.06, pos.UnrealizedPnL, 1e-6)

	update := bus.lastPosition(t)
	assert.Equal(t, protocol.PositionOpen, update.State)
	assert.InDelta(t, 27.0, update.UnrealizedPnL, 1e-6)
}

func TestRecoverRebuildsBookAndResumesMonitoring(t *testing.T) {
	venue := zeroFeeVenue()
	venue.SetMarketPrice("BTCUSDT", 116950)
	store := newMemStore()
	bus := &busCapture{}

	// a previous run left an open position with protective orders
	sl, tp := 117000.0, 118000.0
	now := time.Now().UTC()
	pos := &db.Position{
		ID:            uuid.New(),
		Exchange:      "paper",
		Symbol:        "BTCUSDT",
		Side:          db.PositionSideLong,
		Status:        db.PositionStatusOpen,
		State:         protocol.PositionOpen,
		Quantity:      0.06,
		AvgEntryPrice: 117050,
		CurrentPrice:  117050,
		StopLoss:      &sl,
		TakeProfit:    &tp,
		OpenedAt:      now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.InsertPosition(context.Background(), pos))
	for _, orderType := range []db.OrderType{db.OrderTypeStopLoss, db.OrderTypeTakeProfit} {
		require.NoError(t, store.InsertOrder(context.Background(), &db.Order{
			ID:         uuid.New(),
			PositionID: &pos.ID,
			Symbol:     "BTCUSDT",
			Exchange:   "paper",
			Side:       protocol.SideSell,
			Type:       orderType,
			Status:     protocol.OrderOpen,
			Quantity:   0.06,
			ReduceOnly: true,
			PlacedAt:   now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}))
	}

	svc := newTestService(venue, store, bus)
	require.NoError(t, svc.Recover(context.Background()))
	require.Equal(t, 1, svc.Book().Len())

	// the stop level is already crossed; the first monitor pass closes it
	svc.MonitorOnce(context.Background())
	assert.Nil(t, svc.Book().Get("BTCUSDT"))

	store.mu.Lock()
	closed := *store.positions[pos.ID]
	store.mu.Unlock()
	assert.Equal(t, db.PositionStatusClosed, closed.Status)
	assert.InDelta(t, -6.0, closed.RealizedPnL, 1e-6)
}
