package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// RiskAssessmentRecord is the immutable audit record written for every
// trade intent the risk manager evaluates.
type RiskAssessmentRecord struct {
	ID        uuid.UUID
	IntentID  uuid.UUID
	Symbol    string
	Approved  bool
	RiskScore float64
	Reasons   []string
	SizeUSD   float64
	RiskUSD   float64
	Metrics   map[string]float64
	CreatedAt time.Time
}

// InsertRiskAssessment persists an assessment. Records are append-only.
func (db *DB) InsertRiskAssessment(ctx context.Context, r *RiskAssessmentRecord) error {
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal risk metrics: %w", err)
	}

	query := `
		INSERT INTO risk_assessments (
			id, intent_id, symbol, approved, risk_score, reasons,
			size_usd, risk_usd, metrics, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = db.pool.Exec(ctx, query,
		r.ID, r.IntentID, r.Symbol, r.Approved, r.RiskScore, r.Reasons,
		r.SizeUSD, r.RiskUSD, metrics, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert risk assessment: %w", err)
	}

	return nil
}

// RecentRiskAssessments returns the newest assessments for the operations
// API.
func (db *DB) RecentRiskAssessments(ctx context.Context, limit int) ([]RiskAssessmentRecord, error) {
	query := `
		SELECT id, intent_id, symbol, approved, risk_score, reasons,
		       size_usd, risk_usd, metrics, created_at
		FROM risk_assessments
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk assessments: %w", err)
	}
	defer rows.Close()

	var records []RiskAssessmentRecord
	for rows.Next() {
		var r RiskAssessmentRecord
		var metrics []byte
		if err := rows.Scan(&r.ID, &r.IntentID, &r.Symbol, &r.Approved, &r.RiskScore,
			&r.Reasons, &r.SizeUSD, &r.RiskUSD, &metrics, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan risk assessment: %w", err)
		}
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &r.Metrics); err != nil {
				return nil, fmt.Errorf("failed to unmarshal risk metrics: %w", err)
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read risk assessments: %w", err)
	}

	return records, nil
}

// StrategyDecisionRecord is a fusion decision, persisted whether or not an
// intent was emitted.
type StrategyDecisionRecord struct {
	ID          uuid.UUID
	Symbol      string
	Strategy    string
	Action      protocol.SignalKind
	Confidence  float64
	SignalCount int
	Emitted     bool
	SkipReason  string
	Fusion      map[string]float64
	CreatedAt   time.Time
}

// InsertStrategyDecision persists a fusion decision for audit.
func (db *DB) InsertStrategyDecision(ctx context.Context, d *StrategyDecisionRecord) error {
	fusion, err := json.Marshal(d.Fusion)
	if err != nil {
		return fmt.Errorf("failed to marshal fusion metadata: %w", err)
	}

	query := `
		INSERT INTO strategy_decisions (
			id, symbol, strategy, action, confidence, signal_count,
			emitted, skip_reason, fusion, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = db.pool.Exec(ctx, query,
		d.ID, d.Symbol, d.Strategy, d.Action, d.Confidence, d.SignalCount,
		d.Emitted, d.SkipReason, fusion, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert strategy decision: %w", err)
	}

	return nil
}

// RecentStrategyDecisions returns the newest fusion decisions.
func (db *DB) RecentStrategyDecisions(ctx context.Context, limit int) ([]StrategyDecisionRecord, error) {
	query := `
		SELECT id, symbol, strategy, action, confidence, signal_count,
		       emitted, skip_reason, fusion, created_at
		FROM strategy_decisions
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy decisions: %w", err)
	}
	defer rows.Close()

	var records []StrategyDecisionRecord
	for rows.Next() {
		var d StrategyDecisionRecord
		var fusion []byte
		if err := rows.Scan(&d.ID, &d.Symbol, &d.Strategy, &d.Action, &d.Confidence,
			&d.SignalCount, &d.Emitted, &d.SkipReason, &fusion, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan strategy decision: %w", err)
		}
		if len(fusion) > 0 {
			if err := json.Unmarshal(fusion, &d.Fusion); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fusion metadata: %w", err)
			}
		}
		records = append(records, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read strategy decisions: %w", err)
	}

	return records, nil
}

// PerformanceSnapshot is a per-symbol execution quality rollup.
type PerformanceSnapshot struct {
	ID              uuid.UUID
	Symbol          string
	OrderID         uuid.UUID
	SlippagePct     float64
	FeePct          float64
	ExecutionTimeMS int64
	QualityScore    float64
	CreatedAt       time.Time
}

// InsertPerformanceSnapshot persists an execution quality measurement.
func (db *DB) InsertPerformanceSnapshot(ctx context.Context, s *PerformanceSnapshot) error {
	query := `
		INSERT INTO performance_snapshots (
			id, symbol, order_id, slippage_pct, fee_pct,
			execution_time_ms, quality_score, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := db.pool.Exec(ctx, query,
		s.ID, s.Symbol, s.OrderID, s.SlippagePct, s.FeePct,
		s.ExecutionTimeMS, s.QualityScore, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert performance snapshot: %w", err)
	}

	return nil
}
