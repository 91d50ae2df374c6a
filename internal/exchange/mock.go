package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// MockExchange simulates a trading venue for paper trading. Market orders
// fill immediately at the set market price plus simulated slippage.
type MockExchange struct {
	mu     sync.RWMutex
	orders map[string]*Order
	fills  map[string][]Fill

	marketPrices map[string]float64
	candles      map[string][]protocol.Candle
	balances     map[string]float64
	symbolInfo   map[string]SymbolInfo

	// Market simulation parameters
	baseSlippage float64
	marketImpact float64
	maxSlippage  float64
	makerFee     float64
	takerFee     float64
}

// NewMockExchange creates a mock exchange with Binance-like default fees
// and a seeded USDT balance.
func NewMockExchange() *MockExchange {
	return NewMockExchangeWithFees(config.FeeConfig{
		Maker:        0.001,
		Taker:        0.001,
		BaseSlippage: 0.0005,
		MarketImpact: 0.0001,
		MaxSlippage:  0.003,
	})
}

// NewMockExchangeWithFees creates a mock exchange with custom fee configuration
func NewMockExchangeWithFees(fees config.FeeConfig) *MockExchange {
	log.Info().
		Float64("maker_fee", fees.Maker).
		Float64("taker_fee", fees.Taker).
		Float64("base_slippage", fees.BaseSlippage).
		Msg("Mock exchange initialized (paper trading mode)")

	return &MockExchange{
		orders:       make(map[string]*Order),
		fills:        make(map[string][]Fill),
		marketPrices: make(map[string]float64),
		candles:      make(map[string][]protocol.Candle),
		balances:     map[string]float64{"USDT": 10000},
		symbolInfo:   make(map[string]SymbolInfo),

		baseSlippage: fees.BaseSlippage,
		marketImpact: fees.MarketImpact,
		maxSlippage:  fees.MaxSlippage,
		makerFee:     fees.Maker,
		takerFee:     fees.Taker,
	}
}

// Name identifies the venue.
func (m *MockExchange) Name() string { return "paper" }

// SetMarketPrice sets the current market price for a symbol.
func (m *MockExchange) SetMarketPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketPrices[protocol.NormalizeSymbol(symbol)] = price
}

// SetCandles seeds historical candles for GetOHLCV.
func (m *MockExchange) SetCandles(symbol, timeframe string, candles []protocol.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[protocol.NormalizeSymbol(symbol)+":"+timeframe] = candles
}

// SetBalance seeds an asset balance.
func (m *MockExchange) SetBalance(asset string, free float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = free
}

// SetSymbolInfo seeds trading constraints for a symbol.
func (m *MockExchange) SetSymbolInfo(info SymbolInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbolInfo[protocol.NormalizeSymbol(info.Symbol)] = info
}

// GetTicker returns the current quote derived from the set market price.
func (m *MockExchange) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sym := protocol.NormalizeSymbol(symbol)
	price, ok := m.marketPrices[sym]
	if !ok {
		return nil, &Error{Class: ErrClassInvalidParam, Message: "no market price for " + sym}
	}

	spread := price * m.baseSlippage
	return &Ticker{
		Symbol:    sym,
		Price:     price,
		Bid:       price - spread,
		Ask:       price + spread,
		Timestamp: time.Now().UTC(),
	}, nil
}

// GetOHLCV returns seeded candles, trimmed to limit, oldest first.
func (m *MockExchange) GetOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]protocol.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candles := m.candles[protocol.NormalizeSymbol(symbol)+":"+timeframe]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	out := make([]protocol.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// PlaceOrder places an order. Market orders fill immediately with simulated
// slippage and fees.
func (m *MockExchange) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateOrder(req); err != nil {
		log.Warn().
			Err(err).
			Str("symbol", req.Symbol).
			Str("side", string(req.Side)).
			Msg("Order validation failed")

		return &PlaceOrderResponse{
			Status:  protocol.OrderRejected,
			Message: err.Error(),
		}, err
	}

	now := time.Now().UTC()
	id := req.ClientOrderID
	if id == "" {
		id = uuid.New().String()
	}

	order := &Order{
		ID:        id,
		Symbol:    protocol.NormalizeSymbol(req.Symbol),
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    protocol.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.orders[order.ID] = order

	log.Info().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("type", string(order.Type)).
		Float64("quantity", order.Quantity).
		Msg("Order placed")

	if req.Type == OrderTypeMarket {
		m.simulateMarketFill(order)
	} else {
		order.Status = protocol.OrderOpen
		order.UpdatedAt = time.Now().UTC()
	}

	return &PlaceOrderResponse{
		OrderID: order.ID,
		Status:  order.Status,
		Message: "order accepted",
	}, nil
}

// FetchOrder retrieves the current state of an order.
func (m *MockExchange) FetchOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, exists := m.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("order not found: %s", orderID)
	}

	cp := *order
	return &cp, nil
}

// CancelOrder cancels an open order.
func (m *MockExchange) CancelOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, exists := m.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("order not found: %s", orderID)
	}

	if order.Status != protocol.OrderOpen && order.Status != protocol.OrderPending {
		return nil, fmt.Errorf("cannot cancel order in status: %s", order.Status)
	}

	order.Status = protocol.OrderCancelled
	order.UpdatedAt = time.Now().UTC()

	log.Info().
		Str("order_id", orderID).
		Msg("Order cancelled")

	cp := *order
	return &cp, nil
}

// GetOrderFills retrieves all fills for an order
func (m *MockExchange) GetOrderFills(ctx context.Context, symbol, orderID string) ([]Fill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fills := m.fills[orderID]
	out := make([]Fill, len(fills))
	copy(out, fills)
	return out, nil
}

// GetBalance returns the free balance of an asset.
func (m *MockExchange) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &Balance{Asset: asset, Free: m.balances[asset]}, nil
}

// GetSymbolInfo returns trading constraints, defaulting when none were
// seeded.
func (m *MockExchange) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sym := protocol.NormalizeSymbol(symbol)
	if info, ok := m.symbolInfo[sym]; ok {
		return &info, nil
	}

	return &SymbolInfo{
		Symbol:   sym,
		MinLot:   0.00001,
		StepSize: 0.00001,
		TickSize: 0.01,
	}, nil
}

// simulateMarketFill fills a market order with slippage and market impact.
// Caller holds the lock.
func (m *MockExchange) simulateMarketFill(order *Order) {
	now := time.Now().UTC()

	midPrice, exists := m.marketPrices[order.Symbol]
	if !exists {
		order.Status = protocol.OrderRejected
		order.RejectReason = "no market price"
		order.UpdatedAt = now
		return
	}

	slippage := m.calculateSlippage(order.Quantity, midPrice)

	var fillPrice float64
	if order.Side == protocol.SideBuy {
		// buying lifts the ask
		fillPrice = midPrice * (1 + slippage)
	} else {
		fillPrice = midPrice * (1 - slippage)
	}

	fills := m.partialFills(order, fillPrice, now)

	var totalValue, totalQty float64
	for _, fill := range fills {
		totalValue += fill.Price * fill.Quantity
		totalQty += fill.Quantity
	}
	avgPrice := totalValue / totalQty

	order.FilledQty = order.Quantity
	order.AvgFillPrice = avgPrice
	order.Status = protocol.OrderFilled
	order.UpdatedAt = now
	order.FilledAt = &now

	m.fills[order.ID] = fills

	log.Info().
		Str("order_id", order.ID).
		Float64("quantity", order.Quantity).
		Float64("avg_price", avgPrice).
		Float64("slippage_pct", slippage*100).
		Int("num_fills", len(fills)).
		Msg("Order filled")
}

// calculateSlippage scales slippage with notional order size, capped at the
// configured ceiling.
func (m *MockExchange) calculateSlippage(quantity, price float64) float64 {
	orderSize := quantity * price
	normalizedSize := orderSize / 1000000.0
	total := m.baseSlippage + m.marketImpact*normalizedSize
	if total > m.maxSlippage {
		total = m.maxSlippage
	}
	return total
}

// partialFills splits large orders across multiple fills with slight price
// walk to mimic order book depth.
func (m *MockExchange) partialFills(order *Order, basePrice float64, startTime time.Time) []Fill {
	mkFill := func(qty, price float64, ts time.Time) Fill {
		return Fill{
			OrderID:   order.ID,
			Quantity:  qty,
			Price:     price,
			Fee:       price * qty * m.takerFee,
			FeeAsset:  "USDT",
			IsMaker:   false,
			Timestamp: ts,
		}
	}

	if order.Quantity < 1.0 {
		return []Fill{mkFill(order.Quantity, basePrice, startTime)}
	}

	var fills []Fill
	remaining := order.Quantity
	fillTime := startTime
	const maxFills = 5

	for i := 0; remaining > 0 && i < maxFills; i++ {
		qty := remaining
		if i < maxFills-1 {
			portion := 0.2 + 0.2*float64(i)/float64(maxFills)
			qty = remaining * portion
			if qty < 0.01 {
				qty = remaining
			}
		}

		variation := 0.0001 * float64(i)
		price := basePrice * (1 + variation)
		if order.Side == protocol.SideSell {
			price = basePrice * (1 - variation)
		}

		fills = append(fills, mkFill(qty, price, fillTime))
		remaining -= qty
		fillTime = fillTime.Add(time.Microsecond * time.Duration(100+i*50))
	}

	return fills
}
