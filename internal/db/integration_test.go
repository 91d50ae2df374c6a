//go:build integration

package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/db/testhelpers"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

func TestPositionLifecycleRoundTrip(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	stop := 49000.0
	p := &db.Position{
		ID:            uuid.New(),
		Exchange:      "binance",
		Symbol:        "BTCUSDT",
		Side:          db.PositionSideLong,
		Status:        db.PositionStatusOpen,
		State:         protocol.PositionOpen,
		Quantity:      0.5,
		AvgEntryPrice: 50000,
		CurrentPrice:  50000,
		StopLoss:      &stop,
		OpenedAt:      now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, tc.DB.InsertPosition(ctx, p))

	open, err := tc.DB.GetOpenPositions(ctx, "binance")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, p.ID, open[0].ID)
	assert.Equal(t, protocol.PositionOpen, open[0].State)

	closedAt := now.Add(time.Hour)
	p.Status = db.PositionStatusClosed
	p.State = protocol.PositionClosed
	p.Quantity = 0
	p.RealizedPnL = 120.5
	p.ClosedAt = &closedAt
	require.NoError(t, tc.DB.UpdatePosition(ctx, p))

	open, err = tc.DB.GetOpenPositions(ctx, "binance")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCandleUpsertOverwritesOpenBar(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	ctx := context.Background()

	openTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := &db.Candlestick{
		Symbol: "BTCUSDT", Timeframe: "1m", OpenTime: openTime,
		Open: 50000, High: 50050, Low: 49990, Close: 50020, Volume: 3.0,
	}
	require.NoError(t, tc.DB.UpsertCandle(ctx, c))

	c.High = 50200
	c.Close = 50180
	c.Volume = 7.5
	require.NoError(t, tc.DB.UpsertCandle(ctx, c))

	candles, err := tc.DB.RecentCandles(ctx, "BTCUSDT", "1m", 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 50200.0, candles[0].High)
	assert.Equal(t, 7.5, candles[0].Volume)
}
