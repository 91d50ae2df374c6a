// Package market provides the shared Redis cache of live ticker prices.
// The data collection agent writes every tick here; the risk manager and
// execution agent read it as their freshest price source.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/metrics"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// TickerCache caches the latest tick per symbol with a TTL so that stale
// prices expire rather than linger.
type TickerCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTickerCache wraps a Redis client. A nil client returns nil, callers
// treat a nil cache as always-miss.
func NewTickerCache(client *redis.Client, ttl time.Duration) *TickerCache {
	if client == nil {
		return nil
	}

	if ttl == 0 {
		ttl = 60 * time.Second
	}

	return &TickerCache{
		client: client,
		ttl:    ttl,
	}
}

// Connect creates a Redis client and verifies connectivity.
func Connect(ctx context.Context, addr, password string, dbNum int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbNum,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return client, nil
}

// SetTicker stores the latest tick for a symbol.
func (c *TickerCache) SetTicker(ctx context.Context, tick *protocol.MarketTick) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("ticker cache not initialized")
	}

	data, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("failed to marshal tick: %w", err)
	}

	key := tickerKey(tick.Symbol)

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
		// cache write failure is non-fatal for the pipeline
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to cache ticker")
		metrics.RecordCacheOp("set", "error")
		return err
	}

	metrics.RecordCacheOp("set", "ok")
	return nil
}

// GetTicker returns the cached tick for a symbol, or false on miss. Errors
// are treated as misses so callers fall through to slower price sources.
func (c *TickerCache) GetTicker(ctx context.Context, symbol string) (*protocol.MarketTick, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	key := tickerKey(symbol)

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
		}
		metrics.RecordCacheOp("get", "miss")
		return nil, false
	}

	var tick protocol.MarketTick
	if err := json.Unmarshal([]byte(cached), &tick); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached ticker")
		return nil, false
	}

	metrics.RecordCacheOp("get", "hit")
	return &tick, true
}

// Delete removes a symbol's cached tick.
func (c *TickerCache) Delete(ctx context.Context, symbol string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("ticker cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Del(cacheCtx, tickerKey(symbol)).Err(); err != nil {
		return fmt.Errorf("failed to delete ticker key: %w", err)
	}

	return nil
}

// Health checks the Redis connection.
func (c *TickerCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("ticker cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}

func tickerKey(symbol string) string {
	return fmt.Sprintf("tradepipe:ticker:%s", protocol.NormalizeSymbol(symbol))
}
