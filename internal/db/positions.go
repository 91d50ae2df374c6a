package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// PositionSide represents long or short (database enum)
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// PositionStatus represents position status (database enum)
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "OPEN"
	PositionStatusClosed     PositionStatus = "CLOSED"
	PositionStatusLiquidated PositionStatus = "LIQUIDATED"
)

// Position represents a database position record
type Position struct {
	ID            uuid.UUID
	Exchange      string
	Symbol        string
	Side          PositionSide
	Status        PositionStatus
	State         protocol.PositionState
	Quantity      float64
	AvgEntryPrice float64
	CurrentPrice  float64
	StopLoss      *float64
	TakeProfit    *float64
	UnrealizedPnL float64
	RealizedPnL   float64
	OpenedAt      time.Time
	ClosedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InsertPosition inserts a new position into the database
func (db *DB) InsertPosition(ctx context.Context, p *Position) error {
	query := `
		INSERT INTO positions (
			id, exchange, symbol, side, status, state, quantity,
			avg_entry_price, current_price, stop_loss, take_profit,
			unrealized_pnl, realized_pnl, opened_at, closed_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	_, err := db.pool.Exec(ctx, query,
		p.ID, p.Exchange, p.Symbol, p.Side, p.Status, p.State, p.Quantity,
		p.AvgEntryPrice, p.CurrentPrice, p.StopLoss, p.TakeProfit,
		p.UnrealizedPnL, p.RealizedPnL, p.OpenedAt, p.ClosedAt,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("position_id", p.ID.String()).
			Str("symbol", p.Symbol).
			Msg("Failed to insert position")
		return fmt.Errorf("failed to insert position: %w", err)
	}

	log.Debug().
		Str("position_id", p.ID.String()).
		Str("symbol", p.Symbol).
		Str("side", string(p.Side)).
		Msg("Position inserted into database")

	return nil
}

// UpdatePosition writes the mutable fields of a position.
func (db *DB) UpdatePosition(ctx context.Context, p *Position) error {
	query := `
		UPDATE positions
		SET status = $1,
		    state = $2,
		    quantity = $3,
		    avg_entry_price = $4,
		    current_price = $5,
		    stop_loss = $6,
		    take_profit = $7,
		    unrealized_pnl = $8,
		    realized_pnl = $9,
		    closed_at = $10,
		    updated_at = NOW()
		WHERE id = $11
	`

	result, err := db.pool.Exec(ctx, query,
		p.Status, p.State, p.Quantity, p.AvgEntryPrice, p.CurrentPrice,
		p.StopLoss, p.TakeProfit, p.UnrealizedPnL, p.RealizedPnL,
		p.ClosedAt, p.ID,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("position_id", p.ID.String()).
			Msg("Failed to update position")
		return fmt.Errorf("failed to update position: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("position not found: %s", p.ID.String())
	}

	return nil
}

// GetOpenPositions returns every position with status OPEN. The execution
// agent replays this set on startup to rebuild its in-memory state.
func (db *DB) GetOpenPositions(ctx context.Context, exchange string) ([]Position, error) {
	query := `
		SELECT id, exchange, symbol, side, status, state, quantity,
		       avg_entry_price, current_price, stop_loss, take_profit,
		       unrealized_pnl, realized_pnl, opened_at, closed_at,
		       created_at, updated_at
		FROM positions
		WHERE status = 'OPEN' AND exchange = $1
		ORDER BY opened_at ASC
	`

	rows, err := db.pool.Query(ctx, query, exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(
			&p.ID, &p.Exchange, &p.Symbol, &p.Side, &p.Status, &p.State, &p.Quantity,
			&p.AvgEntryPrice, &p.CurrentPrice, &p.StopLoss, &p.TakeProfit,
			&p.UnrealizedPnL, &p.RealizedPnL, &p.OpenedAt, &p.ClosedAt,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}

	log.Debug().Int("count", len(positions)).Str("exchange", exchange).Msg("Loaded open positions")
	return positions, nil
}

// OpenPositionRisk is the per-position exposure used by portfolio risk
// checks.
type OpenPositionRisk struct {
	Symbol   string
	Quantity float64
	Entry    float64
	StopLoss *float64
}

// GetOpenPositionRisk returns the risk exposure of every open position.
func (db *DB) GetOpenPositionRisk(ctx context.Context, exchange string) ([]OpenPositionRisk, error) {
	query := `
		SELECT symbol, quantity, avg_entry_price, stop_loss
		FROM positions
		WHERE status = 'OPEN' AND exchange = $1
	`

	rows, err := db.pool.Query(ctx, query, exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to query open position risk: %w", err)
	}
	defer rows.Close()

	var exposures []OpenPositionRisk
	for rows.Next() {
		var e OpenPositionRisk
		if err := rows.Scan(&e.Symbol, &e.Quantity, &e.Entry, &e.StopLoss); err != nil {
			return nil, fmt.Errorf("failed to scan position risk: %w", err)
		}
		exposures = append(exposures, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read position risk: %w", err)
	}

	return exposures, nil
}
