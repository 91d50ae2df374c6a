// Package exchange abstracts the venues orders are routed to. The mock
// implementation backs paper trading; the Binance implementation backs
// testnet and live trading behind the same interface.
package exchange

import (
	"context"
	"time"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// Exchange is implemented by every trading venue adapter.
type Exchange interface {
	// Name identifies the venue ("paper", "binance").
	Name() string

	// GetTicker returns the current quote for a symbol.
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// GetOHLCV returns up to limit closed candles for a symbol and
	// timeframe, oldest first.
	GetOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]protocol.Candle, error)

	// PlaceOrder places a new order
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResponse, error)

	// FetchOrder retrieves the current order state from the venue.
	FetchOrder(ctx context.Context, symbol, orderID string) (*Order, error)

	// CancelOrder cancels an existing order
	CancelOrder(ctx context.Context, symbol, orderID string) (*Order, error)

	// GetOrderFills retrieves all fills for an order
	GetOrderFills(ctx context.Context, symbol, orderID string) ([]Fill, error)

	// GetBalance returns the free balance of an asset.
	GetBalance(ctx context.Context, asset string) (*Balance, error)

	// GetSymbolInfo returns trading constraints for a symbol.
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
}

// Streamer is implemented by venues that push live market data. The data
// collection agent prefers streaming and falls back to polling when the
// venue does not implement it.
type Streamer interface {
	// StreamTicks pushes live ticks to the handler until ctx is done.
	// The returned channel closes when the stream terminates.
	StreamTicks(ctx context.Context, symbols []string, handler func(*Ticker)) (done <-chan struct{}, err error)

	// StreamCandles pushes candle updates, open bars included, for one
	// timeframe.
	StreamCandles(ctx context.Context, symbols []string, timeframe string, handler func(*protocol.Candle)) (done <-chan struct{}, err error)
}

// validateOrder enforces the parameter checks shared by all venues.
func validateOrder(req PlaceOrderRequest) error {
	switch {
	case req.Symbol == "":
		return &Error{Class: ErrClassInvalidParam, Message: "symbol is required"}
	case req.Side != protocol.SideBuy && req.Side != protocol.SideSell:
		return &Error{Class: ErrClassInvalidParam, Message: "invalid order side: " + string(req.Side)}
	case req.Type != OrderTypeMarket && req.Type != OrderTypeLimit:
		return &Error{Class: ErrClassInvalidParam, Message: "invalid order type: " + string(req.Type)}
	case req.Quantity <= 0:
		return &Error{Class: ErrClassInvalidParam, Message: "quantity must be positive"}
	case req.Type == OrderTypeLimit && req.Price <= 0:
		return &Error{Class: ErrClassInvalidParam, Message: "limit orders must have a positive price"}
	}
	return nil
}

// timeframeDuration maps a timeframe string to its bar duration.
func timeframeDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
