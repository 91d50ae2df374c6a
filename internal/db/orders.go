package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// OrderType represents order type (database enum)
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// Order represents a database order record
type Order struct {
	ID                    uuid.UUID
	PositionID            *uuid.UUID
	IntentID              *uuid.UUID
	ExchangeOrderID       *string
	Symbol                string
	Exchange              string
	Side                  protocol.OrderSide
	Type                  OrderType
	Status                protocol.OrderState
	Price                 *float64
	StopPrice             *float64
	Quantity              float64
	ExecutedQuantity      float64
	ExecutedQuoteQuantity float64
	ReduceOnly            bool
	PlacedAt              time.Time
	FilledAt              *time.Time
	CanceledAt            *time.Time
	ErrorMessage          *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Trade represents a database trade record (fill)
type Trade struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	ExchangeTradeID *string
	Symbol          string
	Exchange        string
	Side            protocol.OrderSide
	Price           float64
	Quantity        float64
	QuoteQuantity   float64
	Commission      float64
	CommissionAsset *string
	ExecutedAt      time.Time
	IsMaker         bool
	CreatedAt       time.Time
}

// InsertOrder inserts a new order into the database
func (db *DB) InsertOrder(ctx context.Context, order *Order) error {
	query := `
		INSERT INTO orders (
			id, position_id, intent_id, exchange_order_id, symbol, exchange,
			side, type, status, price, stop_price, quantity, executed_quantity,
			executed_quote_quantity, reduce_only, placed_at, filled_at,
			canceled_at, error_message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21
		)
	`

	_, err := db.pool.Exec(ctx, query,
		order.ID,
		order.PositionID,
		order.IntentID,
		order.ExchangeOrderID,
		order.Symbol,
		order.Exchange,
		order.Side,
		order.Type,
		order.Status,
		order.Price,
		order.StopPrice,
		order.Quantity,
		order.ExecutedQuantity,
		order.ExecutedQuoteQuantity,
		order.ReduceOnly,
		order.PlacedAt,
		order.FilledAt,
		order.CanceledAt,
		order.ErrorMessage,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("order_id", order.ID.String()).
			Str("symbol", order.Symbol).
			Msg("Failed to insert order")
		return fmt.Errorf("failed to insert order: %w", err)
	}

	log.Debug().
		Str("order_id", order.ID.String()).
		Str("symbol", order.Symbol).
		Str("status", string(order.Status)).
		Msg("Order inserted into database")

	return nil
}

// UpdateOrderStatus updates an order's status and fill progress. The
// update only matches rows whose current status may legally move to the
// new one, so a late or redelivered status event can never regress a
// terminal order. Zero rows affected is a skipped stale transition, not
// an error.
func (db *DB) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status protocol.OrderState, executedQty, executedQuoteQty float64, filledAt, canceledAt *time.Time, errorMsg *string) error {
	query := `
		UPDATE orders
		SET status = $1,
		    executed_quantity = $2,
		    executed_quote_quantity = $3,
		    filled_at = $4,
		    canceled_at = $5,
		    error_message = $6,
		    updated_at = NOW()
		WHERE id = $7
		  AND status = ANY($8)
	`

	sources := protocol.TransitionSources(status)
	from := make([]string, len(sources))
	for i, s := range sources {
		from[i] = string(s)
	}

	result, err := db.pool.Exec(ctx, query,
		status,
		executedQty,
		executedQuoteQty,
		filledAt,
		canceledAt,
		errorMsg,
		orderID,
		from,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("order_id", orderID.String()).
			Msg("Failed to update order status")
		return fmt.Errorf("failed to update order status: %w", err)
	}

	if result.RowsAffected() == 0 {
		log.Warn().
			Str("order_id", orderID.String()).
			Str("status", string(status)).
			Msg("Order status transition skipped, order unknown or already past this state")
		return nil
	}

	log.Debug().
		Str("order_id", orderID.String()).
		Str("status", string(status)).
		Msg("Order status updated")

	return nil
}

// GetOrder fetches a single order by id.
func (db *DB) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	query := `
		SELECT id, position_id, intent_id, exchange_order_id, symbol, exchange,
		       side, type, status, price, stop_price, quantity, executed_quantity,
		       executed_quote_quantity, reduce_only, placed_at, filled_at,
		       canceled_at, error_message, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var o Order
	err := db.pool.QueryRow(ctx, query, orderID).Scan(
		&o.ID, &o.PositionID, &o.IntentID, &o.ExchangeOrderID, &o.Symbol, &o.Exchange,
		&o.Side, &o.Type, &o.Status, &o.Price, &o.StopPrice, &o.Quantity, &o.ExecutedQuantity,
		&o.ExecutedQuoteQuantity, &o.ReduceOnly, &o.PlacedAt, &o.FilledAt,
		&o.CanceledAt, &o.ErrorMessage, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}

	return &o, nil
}

// GetOrdersByPosition returns all orders attached to a position, protective
// exits included.
func (db *DB) GetOrdersByPosition(ctx context.Context, positionID uuid.UUID) ([]Order, error) {
	query := `
		SELECT id, position_id, intent_id, exchange_order_id, symbol, exchange,
		       side, type, status, price, stop_price, quantity, executed_quantity,
		       executed_quote_quantity, reduce_only, placed_at, filled_at,
		       canceled_at, error_message, created_at, updated_at
		FROM orders
		WHERE position_id = $1
		ORDER BY created_at ASC
	`

	rows, err := db.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders for position %s: %w", positionID, err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.PositionID, &o.IntentID, &o.ExchangeOrderID, &o.Symbol, &o.Exchange,
			&o.Side, &o.Type, &o.Status, &o.Price, &o.StopPrice, &o.Quantity, &o.ExecutedQuantity,
			&o.ExecutedQuoteQuantity, &o.ReduceOnly, &o.PlacedAt, &o.FilledAt,
			&o.CanceledAt, &o.ErrorMessage, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}

	return orders, nil
}

// InsertTrade inserts a new trade (fill) into the database
func (db *DB) InsertTrade(ctx context.Context, trade *Trade) error {
	query := `
		INSERT INTO trades (
			id, order_id, exchange_trade_id, symbol, exchange, side,
			price, quantity, quote_quantity, commission, commission_asset,
			executed_at, is_maker, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err := db.pool.Exec(ctx, query,
		trade.ID,
		trade.OrderID,
		trade.ExchangeTradeID,
		trade.Symbol,
		trade.Exchange,
		trade.Side,
		trade.Price,
		trade.Quantity,
		trade.QuoteQuantity,
		trade.Commission,
		trade.CommissionAsset,
		trade.ExecutedAt,
		trade.IsMaker,
		trade.CreatedAt,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("trade_id", trade.ID.String()).
			Str("order_id", trade.OrderID.String()).
			Msg("Failed to insert trade")
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	return nil
}

// GetTradesByOrder returns the fills recorded for an order in execution
// order.
func (db *DB) GetTradesByOrder(ctx context.Context, orderID uuid.UUID) ([]Trade, error) {
	query := `
		SELECT id, order_id, exchange_trade_id, symbol, exchange, side,
		       price, quantity, quote_quantity, commission, commission_asset,
		       executed_at, is_maker, created_at
		FROM trades
		WHERE order_id = $1
		ORDER BY executed_at ASC
	`

	rows, err := db.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(
			&t.ID, &t.OrderID, &t.ExchangeTradeID, &t.Symbol, &t.Exchange, &t.Side,
			&t.Price, &t.Quantity, &t.QuoteQuantity, &t.Commission, &t.CommissionAsset,
			&t.ExecutedAt, &t.IsMaker, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}

	return trades, nil
}
