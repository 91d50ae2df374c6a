package market

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

func newTestCache(t *testing.T, ttl time.Duration) (*TickerCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTickerCache(client, ttl), mr
}

func TestSetGetTicker(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	tick := &protocol.MarketTick{
		Symbol:    "BTCUSDT",
		Price:     50123.45,
		Bid:       50123.0,
		Ask:       50124.0,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, cache.SetTicker(ctx, tick))

	got, ok := cache.GetTicker(ctx, "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 50123.45, got.Price)
	assert.Equal(t, "BTCUSDT", got.Symbol)
}

func TestGetTickerNormalizesSymbol(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	tick := &protocol.MarketTick{Symbol: "BTCUSDT", Price: 50000, Timestamp: time.Now()}
	require.NoError(t, cache.SetTicker(ctx, tick))

	got, ok := cache.GetTicker(ctx, "btc/usdt")
	require.True(t, ok)
	assert.Equal(t, 50000.0, got.Price)
}

func TestGetTickerMiss(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)

	_, ok := cache.GetTicker(context.Background(), "ETHUSDT")
	assert.False(t, ok)
}

func TestTickerExpires(t *testing.T) {
	cache, mr := newTestCache(t, time.Second)
	ctx := context.Background()

	tick := &protocol.MarketTick{Symbol: "BTCUSDT", Price: 50000, Timestamp: time.Now()}
	require.NoError(t, cache.SetTicker(ctx, tick))

	mr.FastForward(2 * time.Second)

	_, ok := cache.GetTicker(ctx, "BTCUSDT")
	assert.False(t, ok)
}

func TestNilCacheIsAlwaysMiss(t *testing.T) {
	var cache *TickerCache

	_, ok := cache.GetTicker(context.Background(), "BTCUSDT")
	assert.False(t, ok)
	assert.Error(t, cache.SetTicker(context.Background(), &protocol.MarketTick{Symbol: "X", Price: 1, Timestamp: time.Now()}))
}
