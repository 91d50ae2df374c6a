// Package collector ingests market data from the venue, persists it, and
// fans it out on the bus. It polls on an interval by default and streams
// when the venue supports it, falling back to polling when a stream goes
// silent.
package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/exchange"
	"github.com/ajitpratap0/tradepipe/internal/metrics"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

const (
	agentName = "data-agent"

	defaultInterval    = 30 * time.Second
	defaultCandleLimit = 2
	ingestTimeout      = 10 * time.Second

	ModePolling   = "polling"
	ModeStreaming = "streaming"
)

// Store persists candles.
type Store interface {
	UpsertCandle(ctx context.Context, c *db.Candlestick) error
}

// TickerSink caches the latest tick per symbol. A nil sink is skipped.
type TickerSink interface {
	SetTicker(ctx context.Context, tick *protocol.MarketTick) error
}

// Publisher publishes envelopes to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *protocol.Envelope) error
}

// Service is the data collection agent.
type Service struct {
	cfg     config.CollectorConfig
	symbols []string
	venue   exchange.Exchange
	store   Store
	cache   TickerSink
	pub     Publisher

	interval    time.Duration
	candleLimit int
	retry       exchange.RetryConfig

	guard *openTimeGuard
	watch *silenceWatchdog

	dupDropped atomic.Int64
	clock      func() time.Time
}

// NewService wires a collector for the given symbols. Symbols are
// normalized once here so topics and store keys agree everywhere.
func NewService(cfg config.CollectorConfig, symbols []string, venue exchange.Exchange, store Store, cache TickerSink, pub Publisher) *Service {
	normalized := make([]string, len(symbols))
	for i, symbol := range symbols {
		normalized[i] = protocol.NormalizeSymbol(symbol)
	}

	interval := cfg.Interval()
	if interval <= 0 {
		interval = defaultInterval
	}
	limit := cfg.CandleLimit
	if limit <= 0 {
		limit = defaultCandleLimit
	}
	threshold := cfg.WSSilenceThreshold
	if threshold <= 0 {
		threshold = 3 * interval
	}

	return &Service{
		cfg:         cfg,
		symbols:     normalized,
		venue:       venue,
		store:       store,
		cache:       cache,
		pub:         pub,
		interval:    interval,
		candleLimit: limit,
		retry:       exchange.DefaultRetryConfig(),
		guard:       newOpenTimeGuard(),
		watch:       newSilenceWatchdog(threshold),
		clock:       time.Now,
	}
}

// DuplicatesDropped reports how many late candles the open-time guard
// discarded.
func (s *Service) DuplicatesDropped() int64 {
	return s.dupDropped.Load()
}

// Run collects until the context is done. Streaming mode requires the
// venue to implement exchange.Streamer; otherwise it degrades to polling
// with a warning.
func (s *Service) Run(ctx context.Context) {
	if s.cfg.Mode == ModeStreaming {
		if streamer, ok := s.venue.(exchange.Streamer); ok {
			s.runStreaming(ctx, streamer)
			return
		}
		log.Warn().Str("venue", s.venue.Name()).Msg("Venue does not stream, polling instead")
	}
	s.runPolling(ctx)
}

func (s *Service) runPolling(ctx context.Context) {
	log.Info().
		Dur("interval", s.interval).
		Strs("symbols", s.symbols).
		Msg("Collector polling started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Collector stopped")
			return
		case <-ticker.C:
			s.PollOnce(ctx)
		}
	}
}

// PollOnce fetches the current tick and recent candles for every symbol.
func (s *Service) PollOnce(ctx context.Context) {
	for _, symbol := range s.symbols {
		s.pollSymbol(ctx, symbol)
	}
}

func (s *Service) pollSymbol(ctx context.Context, symbol string) {
	if ticker, err := s.venue.GetTicker(ctx, symbol); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Ticker fetch failed")
	} else {
		s.ingestTick(ctx, &protocol.MarketTick{
			Symbol:    symbol,
			Price:     ticker.Price,
			Bid:       ticker.Bid,
			Ask:       ticker.Ask,
			Timestamp: ticker.Timestamp,
		})
	}

	candles, err := s.venue.GetOHLCV(ctx, symbol, s.cfg.Timeframe, s.candleLimit)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Candle fetch failed")
		return
	}
	for i := range candles {
		if err := s.IngestCandle(ctx, &candles[i]); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("Candle ingest failed")
		}
	}
}

// ingestTick caches and publishes one tick.
func (s *Service) ingestTick(ctx context.Context, tick *protocol.MarketTick) {
	if err := tick.Validate(); err != nil {
		log.Warn().Err(err).Msg("Dropping invalid tick")
		return
	}

	if s.cache != nil {
		if err := s.cache.SetTicker(ctx, tick); err != nil {
			log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("Ticker cache write failed")
		}
	}

	env, err := protocol.NewEnvelope(agentName, protocol.MessageTypeMarketTick, tick)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build tick envelope")
		return
	}
	if err := s.pub.Publish(ctx, protocol.TickTopic(tick.Symbol), env); err != nil {
		log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("Tick publish failed")
	}
}

// IngestCandle persists then publishes one candle. Late candles for an
// already-advanced bar are dropped so downstream consumers only ever see
// open times move forward. Store failures are retried and never swallowed;
// a candle that cannot be persisted is not published.
func (s *Service) IngestCandle(ctx context.Context, candle *protocol.Candle) error {
	if err := candle.Validate(); err != nil {
		log.Warn().Err(err).Msg("Dropping invalid candle")
		return nil
	}

	symbol := protocol.NormalizeSymbol(candle.Symbol)
	if !s.guard.Observe(symbol, candle.Timeframe, candle.OpenTime) {
		s.dupDropped.Add(1)
		metrics.DuplicateCandlesDropped.Inc()
		log.Debug().
			Str("symbol", symbol).
			Time("open_time", candle.OpenTime).
			Msg("Dropped late duplicate candle")
		return nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	record := &db.Candlestick{
		Symbol:    symbol,
		Timeframe: candle.Timeframe,
		OpenTime:  candle.OpenTime,
		Open:      candle.Open,
		High:      candle.High,
		Low:       candle.Low,
		Close:     candle.Close,
		Volume:    candle.Volume,
	}
	if err := exchange.WithRetry(storeCtx, s.retry, func() error {
		return s.store.UpsertCandle(storeCtx, record)
	}); err != nil {
		return err
	}

	metrics.CandlesIngested.WithLabelValues(symbol).Inc()

	env, err := protocol.NewEnvelope(agentName, protocol.MessageTypeCandle, candle)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, protocol.CandleTopic(symbol), env)
}

// openTimeGuard tracks the newest candle open time per (symbol,timeframe).
type openTimeGuard struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newOpenTimeGuard() *openTimeGuard {
	return &openTimeGuard{last: make(map[string]time.Time)}
}

// Observe reports whether the candle may pass. The guard enforces
// non-decreasing open times rather than strictly increasing ones: an
// equal open time is the still-open bar updating in place and passes,
// only a strictly older candle is dropped as a late duplicate.
func (g *openTimeGuard) Observe(symbol, timeframe string, openTime time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := symbol + ":" + timeframe
	if last, ok := g.last[key]; ok && openTime.Before(last) {
		return false
	}
	g.last[key] = openTime
	return true
}
