package exchange

import (
	"time"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// OrderType represents market or limit order
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Ticker is a point-in-time price quote.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Order represents an order as the exchange reports it.
type Order struct {
	ID              string              `json:"id"`
	ExchangeOrderID string              `json:"exchange_order_id,omitempty"`
	Symbol          string              `json:"symbol"`
	Side            protocol.OrderSide  `json:"side"`
	Type            OrderType           `json:"type"`
	Quantity        float64             `json:"quantity"`
	Price           float64             `json:"price,omitempty"`
	FilledQty       float64             `json:"filled_qty"`
	AvgFillPrice    float64             `json:"avg_fill_price,omitempty"`
	Status          protocol.OrderState `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	FilledAt        *time.Time          `json:"filled_at,omitempty"`
	RejectReason    string              `json:"reject_reason,omitempty"`
}

// Fill represents a partial or complete order fill
type Fill struct {
	OrderID   string    `json:"order_id"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	FeeAsset  string    `json:"fee_asset,omitempty"`
	IsMaker   bool      `json:"is_maker"`
	Timestamp time.Time `json:"timestamp"`
}

// PlaceOrderRequest represents a request to place an order
type PlaceOrderRequest struct {
	ClientOrderID string             `json:"client_order_id,omitempty"`
	Symbol        string             `json:"symbol"`
	Side          protocol.OrderSide `json:"side"`
	Type          OrderType          `json:"type"`
	Quantity      float64            `json:"quantity"`
	Price         float64            `json:"price,omitempty"`
}

// PlaceOrderResponse represents the response after placing an order
type PlaceOrderResponse struct {
	OrderID string              `json:"order_id"`
	Status  protocol.OrderState `json:"status"`
	Message string              `json:"message,omitempty"`
}

// Balance is a per-asset account balance.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// SymbolInfo carries the exchange's trading constraints for a symbol.
type SymbolInfo struct {
	Symbol   string  `json:"symbol"`
	MinLot   float64 `json:"min_lot"`
	StepSize float64 `json:"step_size"`
	TickSize float64 `json:"tick_size"`
}
