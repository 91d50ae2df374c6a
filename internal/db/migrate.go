package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// schema is applied idempotently at startup by cmd/migrate. The
// candlesticks table is converted to a TimescaleDB hypertable when the
// extension is available; without it the plain table still works.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS candlesticks (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		open_time TIMESTAMPTZ NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (symbol, timeframe, open_time)
	)`,

	`CREATE TABLE IF NOT EXISTS signals (
		id UUID PRIMARY KEY,
		symbol TEXT NOT NULL,
		source TEXT NOT NULL,
		kind TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		indicators JSONB,
		emitted_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS positions (
		id UUID PRIMARY KEY,
		exchange TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		state TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		avg_entry_price DOUBLE PRECISION NOT NULL,
		current_price DOUBLE PRECISION NOT NULL,
		stop_loss DOUBLE PRECISION,
		take_profit DOUBLE PRECISION,
		unrealized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
		realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
		opened_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_created_at ON positions (created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_one_open
		ON positions (exchange, symbol) WHERE status = 'OPEN'`,

	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		position_id UUID,
		intent_id UUID,
		exchange_order_id TEXT,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		price DOUBLE PRECISION,
		stop_price DOUBLE PRECISION,
		quantity DOUBLE PRECISION NOT NULL,
		executed_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
		executed_quote_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
		reduce_only BOOLEAN NOT NULL DEFAULT FALSE,
		placed_at TIMESTAMPTZ NOT NULL,
		filled_at TIMESTAMPTZ,
		canceled_at TIMESTAMPTZ,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_position ON orders (position_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS trades (
		id UUID PRIMARY KEY,
		order_id UUID NOT NULL,
		exchange_trade_id TEXT,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		quote_quantity DOUBLE PRECISION NOT NULL,
		commission DOUBLE PRECISION NOT NULL DEFAULT 0,
		commission_asset TEXT,
		executed_at TIMESTAMPTZ NOT NULL,
		is_maker BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_order ON trades (order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS risk_assessments (
		id UUID PRIMARY KEY,
		intent_id UUID NOT NULL,
		symbol TEXT NOT NULL,
		approved BOOLEAN NOT NULL,
		risk_score DOUBLE PRECISION NOT NULL,
		reasons TEXT[],
		size_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		risk_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		metrics JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_assessments_symbol ON risk_assessments (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_assessments_created_at ON risk_assessments (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS strategy_decisions (
		id UUID PRIMARY KEY,
		symbol TEXT NOT NULL,
		strategy TEXT NOT NULL,
		action TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		signal_count INTEGER NOT NULL,
		emitted BOOLEAN NOT NULL,
		skip_reason TEXT,
		fusion JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_strategy_decisions_symbol ON strategy_decisions (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_strategy_decisions_created_at ON strategy_decisions (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS performance_snapshots (
		id UUID PRIMARY KEY,
		symbol TEXT NOT NULL,
		order_id UUID NOT NULL,
		slippage_pct DOUBLE PRECISION NOT NULL,
		fee_pct DOUBLE PRECISION NOT NULL,
		execution_time_ms BIGINT NOT NULL,
		quality_score DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_performance_snapshots_symbol ON performance_snapshots (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_performance_snapshots_created_at ON performance_snapshots (created_at DESC)`,
}

// hypertable conversion, best effort
const timescaleSetup = `SELECT create_hypertable('candlesticks', 'open_time',
	partitioning_column => 'symbol', number_partitions => 4, if_not_exists => TRUE)`

// Migrate applies the schema. Safe to run repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i, err)
		}
	}

	if _, err := db.pool.Exec(ctx, timescaleSetup); err != nil {
		log.Warn().Err(err).Msg("TimescaleDB hypertable setup skipped (extension unavailable?)")
	}

	log.Info().Int("statements", len(schema)).Msg("Database schema migrated")
	return nil
}
