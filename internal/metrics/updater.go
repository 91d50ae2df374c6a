package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Updater periodically refreshes the database-derived gauges: open
// positions, total PnL, and win rate. Counters are incremented inline by
// the agents; only aggregates need polling.
type Updater struct {
	db       *pgxpool.Pool
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a new metrics updater
func NewUpdater(db *pgxpool.Pool, interval time.Duration) *Updater {
	return &Updater{
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics update loop
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) update(ctx context.Context) {
	u.updatePositionMetrics(ctx)
	u.updateWinRate(ctx)
}

func (u *Updater) updatePositionMetrics(ctx context.Context) {
	var open int64
	var totalPnL float64

	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'OPEN') AS open_positions,
			COALESCE(SUM(realized_pnl), 0) +
			COALESCE(SUM(unrealized_pnl) FILTER (WHERE status = 'OPEN'), 0) AS total_pnl
		FROM positions
	`

	if err := u.db.QueryRow(ctx, query).Scan(&open, &totalPnL); err != nil {
		log.Error().Err(err).Msg("Failed to fetch position metrics")
		return
	}

	OpenPositions.Set(float64(open))
	TotalPnL.Set(totalPnL)
}

func (u *Updater) updateWinRate(ctx context.Context) {
	var closed, winning int64

	query := `
		SELECT
			COUNT(*) AS closed,
			COUNT(*) FILTER (WHERE realized_pnl > 0) AS winning
		FROM positions
		WHERE status = 'CLOSED'
	`

	if err := u.db.QueryRow(ctx, query).Scan(&closed, &winning); err != nil {
		log.Error().Err(err).Msg("Failed to fetch win rate")
		return
	}

	if closed > 0 {
		WinRate.Set(float64(winning) / float64(closed))
	} else {
		WinRate.Set(0)
	}
}
