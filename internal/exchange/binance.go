package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// BinanceExchange implements Exchange for real Binance trading. All REST
// calls go through a rate limiter and a circuit breaker.
type BinanceExchange struct {
	client  *binance.Client
	limiter *rate.Limiter
	breaker *Breaker
	retry   RetryConfig
	testnet bool
}

// BinanceConfig contains configuration for Binance exchange
type BinanceConfig struct {
	APIKey      string
	SecretKey   string
	Testnet     bool
	RateLimitMS int
	RetryConfig RetryConfig
}

// NewBinanceExchange creates a new Binance exchange client
func NewBinanceExchange(cfg BinanceConfig) (*BinanceExchange, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("binance api_key and secret_key are required")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	if cfg.Testnet {
		binance.UseTestnet = true
		log.Info().Msg("Binance exchange initialized (TESTNET mode)")
	} else {
		log.Warn().Msg("Binance exchange initialized (LIVE TRADING mode)")
	}

	rateLimitMS := cfg.RateLimitMS
	if rateLimitMS <= 0 {
		rateLimitMS = 100
	}

	retryCfg := cfg.RetryConfig
	if retryCfg.MaxAttempts == 0 {
		retryCfg = DefaultRetryConfig()
	}

	return &BinanceExchange{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Duration(rateLimitMS)*time.Millisecond), 5),
		breaker: NewBreaker("binance"),
		retry:   retryCfg,
		testnet: cfg.Testnet,
	}, nil
}

// Name identifies the venue.
func (b *BinanceExchange) Name() string { return "binance" }

// call wraps a REST operation in rate limiting, circuit breaking and retry.
func (b *BinanceExchange) call(ctx context.Context, op func() error) error {
	return WithRetry(ctx, b.retry, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		return b.breaker.Execute(op)
	})
}

// GetTicker returns the current quote for a symbol.
func (b *BinanceExchange) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	sym := protocol.NormalizeSymbol(symbol)

	var book []*binance.BookTicker
	err := b.call(ctx, func() error {
		var inner error
		book, inner = b.client.NewListBookTickersService().Symbol(sym).Do(ctx)
		return inner
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticker for %s: %w", sym, err)
	}
	if len(book) == 0 {
		return nil, fmt.Errorf("no ticker returned for %s", sym)
	}

	bid, _ := strconv.ParseFloat(book[0].BidPrice, 64)
	ask, _ := strconv.ParseFloat(book[0].AskPrice, 64)

	return &Ticker{
		Symbol:    sym,
		Price:     (bid + ask) / 2,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.Now().UTC(),
	}, nil
}

// GetOHLCV returns up to limit closed candles, oldest first.
func (b *BinanceExchange) GetOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]protocol.Candle, error) {
	sym := protocol.NormalizeSymbol(symbol)

	var klines []*binance.Kline
	err := b.call(ctx, func() error {
		var inner error
		klines, inner = b.client.NewKlinesService().
			Symbol(sym).
			Interval(timeframe).
			Limit(limit).
			Do(ctx)
		return inner
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s %s: %w", sym, timeframe, err)
	}

	candles := make([]protocol.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closeP, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		candles = append(candles, protocol.Candle{
			Symbol:    sym,
			Timeframe: timeframe,
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    volume,
		})
	}

	return candles, nil
}

// PlaceOrder places a new order on Binance.
func (b *BinanceExchange) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResponse, error) {
	if err := validateOrder(req); err != nil {
		return &PlaceOrderResponse{
			Status:  protocol.OrderRejected,
			Message: err.Error(),
		}, err
	}

	sym := protocol.NormalizeSymbol(req.Symbol)
	side := binance.SideTypeBuy
	if req.Side == protocol.SideSell {
		side = binance.SideTypeSell
	}

	var resp *binance.CreateOrderResponse
	err := b.call(ctx, func() error {
		svc := b.client.NewCreateOrderService().
			Symbol(sym).
			Side(side).
			Quantity(strconv.FormatFloat(req.Quantity, 'f', 8, 64))
		if req.ClientOrderID != "" {
			svc = svc.NewClientOrderID(req.ClientOrderID)
		}
		if req.Type == OrderTypeMarket {
			svc = svc.Type(binance.OrderTypeMarket)
		} else {
			svc = svc.Type(binance.OrderTypeLimit).
				TimeInForce(binance.TimeInForceTypeGTC).
				Price(strconv.FormatFloat(req.Price, 'f', 8, 64))
		}

		var inner error
		resp, inner = svc.Do(ctx)
		return inner
	})
	if err != nil {
		return &PlaceOrderResponse{
			Status:  protocol.OrderRejected,
			Message: err.Error(),
		}, fmt.Errorf("failed to place order: %w", err)
	}

	orderID := strconv.FormatInt(resp.OrderID, 10)
	status := mapBinanceStatus(resp.Status)

	log.Info().
		Str("order_id", orderID).
		Str("symbol", sym).
		Str("side", string(req.Side)).
		Str("status", string(status)).
		Msg("Order placed on Binance")

	return &PlaceOrderResponse{
		OrderID: orderID,
		Status:  status,
		Message: "order accepted",
	}, nil
}

// FetchOrder retrieves the latest order state from Binance.
func (b *BinanceExchange) FetchOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	sym := protocol.NormalizeSymbol(symbol)
	binanceOrderID, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, &Error{Class: ErrClassInvalidParam, Message: "invalid order ID: " + orderID, Cause: err}
	}

	var bo *binance.Order
	err = b.call(ctx, func() error {
		var inner error
		bo, inner = b.client.NewGetOrderService().
			Symbol(sym).
			OrderID(binanceOrderID).
			Do(ctx)
		return inner
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}

	return convertBinanceOrder(bo), nil
}

// CancelOrder cancels an open order on Binance.
func (b *BinanceExchange) CancelOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	sym := protocol.NormalizeSymbol(symbol)
	binanceOrderID, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, &Error{Class: ErrClassInvalidParam, Message: "invalid order ID: " + orderID, Cause: err}
	}

	err = b.call(ctx, func() error {
		_, inner := b.client.NewCancelOrderService().
			Symbol(sym).
			OrderID(binanceOrderID).
			Do(ctx)
		return inner
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}

	log.Info().
		Str("order_id", orderID).
		Msg("Order cancelled on Binance")

	return b.FetchOrder(ctx, sym, orderID)
}

// GetOrderFills retrieves the trades recorded for an order.
func (b *BinanceExchange) GetOrderFills(ctx context.Context, symbol, orderID string) ([]Fill, error) {
	sym := protocol.NormalizeSymbol(symbol)
	binanceOrderID, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, &Error{Class: ErrClassInvalidParam, Message: "invalid order ID: " + orderID, Cause: err}
	}

	var trades []*binance.TradeV3
	err = b.call(ctx, func() error {
		var inner error
		trades, inner = b.client.NewListTradesService().
			Symbol(sym).
			OrderId(binanceOrderID).
			Do(ctx)
		return inner
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fills for order %s: %w", orderID, err)
	}

	fills := make([]Fill, 0, len(trades))
	for _, t := range trades {
		price, _ := strconv.ParseFloat(t.Price, 64)
		qty, _ := strconv.ParseFloat(t.Quantity, 64)
		fee, _ := strconv.ParseFloat(t.Commission, 64)

		fills = append(fills, Fill{
			OrderID:   orderID,
			Quantity:  qty,
			Price:     price,
			Fee:       fee,
			FeeAsset:  t.CommissionAsset,
			IsMaker:   t.IsMaker,
			Timestamp: time.UnixMilli(t.Time).UTC(),
		})
	}

	return fills, nil
}

// GetBalance returns the free balance of an asset.
func (b *BinanceExchange) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	var account *binance.Account
	err := b.call(ctx, func() error {
		var inner error
		account, inner = b.client.NewGetAccountService().Do(ctx)
		return inner
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}

	for _, bal := range account.Balances {
		if strings.EqualFold(bal.Asset, asset) {
			free, _ := strconv.ParseFloat(bal.Free, 64)
			locked, _ := strconv.ParseFloat(bal.Locked, 64)
			return &Balance{Asset: bal.Asset, Free: free, Locked: locked}, nil
		}
	}

	return &Balance{Asset: asset}, nil
}

// GetSymbolInfo returns the symbol's lot and tick constraints.
func (b *BinanceExchange) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	sym := protocol.NormalizeSymbol(symbol)

	var info *binance.ExchangeInfo
	err := b.call(ctx, func() error {
		var inner error
		info, inner = b.client.NewExchangeInfoService().Symbol(sym).Do(ctx)
		return inner
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchange info for %s: %w", sym, err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != sym {
			continue
		}

		out := &SymbolInfo{Symbol: sym}
		if lot := s.LotSizeFilter(); lot != nil {
			out.MinLot, _ = strconv.ParseFloat(lot.MinQuantity, 64)
			out.StepSize, _ = strconv.ParseFloat(lot.StepSize, 64)
		}
		if pf := s.PriceFilter(); pf != nil {
			out.TickSize, _ = strconv.ParseFloat(pf.TickSize, 64)
		}
		return out, nil
	}

	return nil, fmt.Errorf("symbol %s not found in exchange info", sym)
}

// StreamTicks pushes live book ticker updates until ctx is done.
func (b *BinanceExchange) StreamTicks(ctx context.Context, symbols []string, handler func(*Ticker)) (<-chan struct{}, error) {
	norm := make([]string, len(symbols))
	for i, s := range symbols {
		norm[i] = protocol.NormalizeSymbol(s)
	}

	wsHandler := func(event *binance.WsBookTickerEvent) {
		bid, _ := strconv.ParseFloat(event.BestBidPrice, 64)
		ask, _ := strconv.ParseFloat(event.BestAskPrice, 64)
		handler(&Ticker{
			Symbol:    event.Symbol,
			Price:     (bid + ask) / 2,
			Bid:       bid,
			Ask:       ask,
			Timestamp: time.Now().UTC(),
		})
	}
	errHandler := func(err error) {
		log.Error().Err(err).Msg("Binance ticker stream error")
	}

	doneC, stopC, err := binance.WsCombinedBookTickerServe(norm, wsHandler, errHandler)
	if err != nil {
		return nil, fmt.Errorf("failed to open ticker stream: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			close(stopC)
		case <-doneC:
		}
	}()

	return doneC, nil
}

// StreamCandles pushes kline updates, open bars included.
func (b *BinanceExchange) StreamCandles(ctx context.Context, symbols []string, timeframe string, handler func(*protocol.Candle)) (<-chan struct{}, error) {
	pairs := make(map[string]string, len(symbols))
	for _, s := range symbols {
		pairs[protocol.NormalizeSymbol(s)] = timeframe
	}

	wsHandler := func(event *binance.WsKlineEvent) {
		k := event.Kline
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closeP, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		handler(&protocol.Candle{
			Symbol:    event.Symbol,
			Timeframe: k.Interval,
			OpenTime:  time.UnixMilli(k.StartTime).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    volume,
		})
	}
	errHandler := func(err error) {
		log.Error().Err(err).Msg("Binance kline stream error")
	}

	doneC, stopC, err := binance.WsCombinedKlineServe(pairs, wsHandler, errHandler)
	if err != nil {
		return nil, fmt.Errorf("failed to open kline stream: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			close(stopC)
		case <-doneC:
		}
	}()

	return doneC, nil
}

// mapBinanceStatus converts Binance order status to the pipeline's order
// state machine.
func mapBinanceStatus(status binance.OrderStatusType) protocol.OrderState {
	switch status {
	case binance.OrderStatusTypeNew:
		return protocol.OrderOpen
	case binance.OrderStatusTypePartiallyFilled:
		return protocol.OrderPartial
	case binance.OrderStatusTypeFilled:
		return protocol.OrderFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return protocol.OrderCancelled
	case binance.OrderStatusTypeRejected:
		return protocol.OrderRejected
	default:
		return protocol.OrderPending
	}
}

func convertBinanceOrder(bo *binance.Order) *Order {
	executedQty, _ := strconv.ParseFloat(bo.ExecutedQuantity, 64)
	quoteQty, _ := strconv.ParseFloat(bo.CummulativeQuoteQuantity, 64)
	price, _ := strconv.ParseFloat(bo.Price, 64)

	var avgFillPrice float64
	if executedQty > 0 {
		avgFillPrice = quoteQty / executedQty
	}

	orderType := OrderTypeMarket
	if bo.Type == binance.OrderTypeLimit {
		orderType = OrderTypeLimit
	}
	side := protocol.SideBuy
	if bo.Side == binance.SideTypeSell {
		side = protocol.SideSell
	}

	origQty, _ := strconv.ParseFloat(bo.OrigQuantity, 64)
	status := mapBinanceStatus(bo.Status)

	order := &Order{
		ID:              strconv.FormatInt(bo.OrderID, 10),
		ExchangeOrderID: strconv.FormatInt(bo.OrderID, 10),
		Symbol:          bo.Symbol,
		Side:            side,
		Type:            orderType,
		Quantity:        origQty,
		Price:           price,
		FilledQty:       executedQty,
		AvgFillPrice:    avgFillPrice,
		Status:          status,
		CreatedAt:       time.UnixMilli(bo.Time).UTC(),
		UpdatedAt:       time.UnixMilli(bo.UpdateTime).UTC(),
	}
	if status == protocol.OrderFilled {
		filledAt := time.UnixMilli(bo.UpdateTime).UTC()
		order.FilledAt = &filledAt
	}

	return order
}
