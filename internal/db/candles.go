package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Candlestick is one OHLCV bar in the time-series store. The candlesticks
// table is a TimescaleDB hypertable keyed by (symbol, timeframe, open_time).
type Candlestick struct {
	Symbol    string
	Timeframe string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// UpsertCandle writes a candle, replacing any previous row for the same
// (symbol, timeframe, open_time). Streaming feeds update the current bar in
// place until it closes.
func (db *DB) UpsertCandle(ctx context.Context, c *Candlestick) error {
	query := `
		INSERT INTO candlesticks (
			symbol, timeframe, open_time, open, high, low, close, volume
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, open_time) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`

	_, err := db.pool.Exec(ctx, query,
		c.Symbol, c.Timeframe, c.OpenTime,
		c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert candle: %w", err)
	}

	return nil
}

// RecentCandles returns the most recent candles for a symbol and timeframe
// in ascending open_time order.
func (db *DB) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candlestick, error) {
	query := `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM (
			SELECT symbol, timeframe, open_time, open, high, low, close, volume
			FROM candlesticks
			WHERE symbol = $1 AND timeframe = $2
			ORDER BY open_time DESC
			LIMIT $3
		) recent
		ORDER BY open_time ASC
	`

	rows, err := db.pool.Query(ctx, query, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []Candlestick
	for rows.Next() {
		var c Candlestick
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.OpenTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candles: %w", err)
	}

	return candles, nil
}

// LatestClose returns the close price of the most recent candle for a
// symbol, across timeframes.
func (db *DB) LatestClose(ctx context.Context, symbol string) (float64, error) {
	query := `
		SELECT close FROM candlesticks
		WHERE symbol = $1
		ORDER BY open_time DESC
		LIMIT 1
	`

	var price float64
	if err := db.pool.QueryRow(ctx, query, symbol).Scan(&price); err != nil {
		return 0, fmt.Errorf("failed to query latest close for %s: %w", symbol, err)
	}

	log.Debug().Str("symbol", symbol).Float64("price", price).Msg("Latest close fetched")
	return price, nil
}
