package collector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/exchange"
	"github.com/ajitpratap0/tradepipe/internal/metrics"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// runStreaming subscribes to the venue's tick and candle streams and runs
// the per-symbol silence watchdog alongside.
func (s *Service) runStreaming(ctx context.Context, streamer exchange.Streamer) {
	log.Info().
		Strs("symbols", s.symbols).
		Dur("silence_threshold", s.watch.threshold).
		Msg("Collector streaming started")

	now := s.clock()
	for _, symbol := range s.symbols {
		s.watch.Touch(symbol, now)
	}

	ticksDone, err := streamer.StreamTicks(ctx, s.symbols, func(ticker *exchange.Ticker) {
		s.watch.Touch(protocol.NormalizeSymbol(ticker.Symbol), s.clock())
		s.ingestTick(ctx, &protocol.MarketTick{
			Symbol:    protocol.NormalizeSymbol(ticker.Symbol),
			Price:     ticker.Price,
			Bid:       ticker.Bid,
			Ask:       ticker.Ask,
			Timestamp: ticker.Timestamp,
		})
	})
	if err != nil {
		log.Error().Err(err).Msg("Tick stream failed to start, polling instead")
		s.runPolling(ctx)
		return
	}

	candlesDone, err := streamer.StreamCandles(ctx, s.symbols, s.cfg.Timeframe, func(candle *protocol.Candle) {
		s.watch.Touch(protocol.NormalizeSymbol(candle.Symbol), s.clock())
		if err := s.IngestCandle(ctx, candle); err != nil {
			log.Error().Err(err).Str("symbol", candle.Symbol).Msg("Candle ingest failed")
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("Candle stream failed to start, polling instead")
		s.runPolling(ctx)
		return
	}

	ticker := time.NewTicker(s.watch.threshold / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Collector stopped")
			return
		case <-ticksDone:
			log.Warn().Msg("Tick stream closed, polling instead")
			s.runPolling(ctx)
			return
		case <-candlesDone:
			log.Warn().Msg("Candle stream closed, polling instead")
			s.runPolling(ctx)
			return
		case <-ticker.C:
			s.checkSilence(ctx, s.clock())
		}
	}
}

// checkSilence polls any symbol whose stream went quiet and announces the
// degradation once per outage. A symbol recovers as soon as stream data
// flows again.
func (s *Service) checkSilence(ctx context.Context, now time.Time) {
	for _, symbol := range s.symbols {
		silentFor, degradedAlready := s.watch.Check(symbol, now)
		if silentFor < s.watch.threshold {
			continue
		}

		if !degradedAlready {
			s.watch.MarkDegraded(symbol)
			metrics.StreamDegradations.WithLabelValues(symbol).Inc()
			log.Warn().
				Str("symbol", symbol).
				Dur("silent_for", silentFor).
				Msg("Stream silent, falling back to polling")
			s.publishDegraded(ctx, symbol, silentFor)
		}

		// fallback poll keeps data flowing while the stream is quiet
		s.pollSymbol(ctx, symbol)
	}
}

func (s *Service) publishDegraded(ctx context.Context, symbol string, silentFor time.Duration) {
	degraded := &protocol.StreamDegraded{
		Symbol:    symbol,
		SilentFor: silentFor,
		Timestamp: s.clock(),
	}
	env, err := protocol.NewEnvelope(agentName, protocol.MessageTypeStreamDegraded, degraded)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build stream degraded envelope")
		return
	}
	if err := s.pub.Publish(ctx, protocol.TopicDiagnostics, env); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Stream degraded publish failed")
	}
}

// silenceWatchdog tracks the last datum per symbol and whether the symbol
// is currently flagged as degraded.
type silenceWatchdog struct {
	mu        sync.Mutex
	threshold time.Duration
	lastSeen  map[string]time.Time
	degraded  map[string]bool
}

func newSilenceWatchdog(threshold time.Duration) *silenceWatchdog {
	return &silenceWatchdog{
		threshold: threshold,
		lastSeen:  make(map[string]time.Time),
		degraded:  make(map[string]bool),
	}
}

// Touch records a datum for the symbol; a degraded symbol recovers.
func (w *silenceWatchdog) Touch(symbol string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSeen[symbol] = now
	if w.degraded[symbol] {
		delete(w.degraded, symbol)
		log.Info().Str("symbol", symbol).Msg("Stream recovered")
	}
}

// Check returns how long the symbol has been silent and whether it is
// already flagged.
func (w *silenceWatchdog) Check(symbol string, now time.Time) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	last, ok := w.lastSeen[symbol]
	if !ok {
		return 0, false
	}
	return now.Sub(last), w.degraded[symbol]
}

// MarkDegraded flags a symbol as degraded.
func (w *silenceWatchdog) MarkDegraded(symbol string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.degraded[symbol] = true
}
