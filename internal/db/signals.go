package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// SignalRecord is a persisted technical analysis signal.
type SignalRecord struct {
	ID         uuid.UUID
	Symbol     string
	Source     string
	Kind       protocol.SignalKind
	Confidence float64
	Indicators map[string]float64
	EmittedAt  time.Time
	CreatedAt  time.Time
}

// InsertSignal persists a signal before it is published.
func (db *DB) InsertSignal(ctx context.Context, s *SignalRecord) error {
	indicators, err := json.Marshal(s.Indicators)
	if err != nil {
		return fmt.Errorf("failed to marshal indicators: %w", err)
	}

	query := `
		INSERT INTO signals (
			id, symbol, source, kind, confidence, indicators, emitted_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = db.pool.Exec(ctx, query,
		s.ID, s.Symbol, s.Source, s.Kind, s.Confidence, indicators, s.EmittedAt, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	return nil
}

// RecentSignals returns the latest signals for a symbol, newest first.
func (db *DB) RecentSignals(ctx context.Context, symbol string, limit int) ([]SignalRecord, error) {
	query := `
		SELECT id, symbol, source, kind, confidence, indicators, emitted_at, created_at
		FROM signals
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := db.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []SignalRecord
	for rows.Next() {
		var s SignalRecord
		var indicators []byte
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Source, &s.Kind, &s.Confidence,
			&indicators, &s.EmittedAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		if len(indicators) > 0 {
			if err := json.Unmarshal(indicators, &s.Indicators); err != nil {
				return nil, fmt.Errorf("failed to unmarshal indicators: %w", err)
			}
		}
		signals = append(signals, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read signals: %w", err)
	}

	return signals, nil
}
