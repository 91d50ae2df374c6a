package technical

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/metrics"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

const (
	agentName = "technical-agent"

	persistTimeout = 3 * time.Second
)

// Store persists signals before publication.
type Store interface {
	InsertSignal(ctx context.Context, s *db.SignalRecord) error
}

// Publisher publishes envelopes to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *protocol.Envelope) error
}

// Service is the technical analysis agent. It maintains one rolling window
// per symbol, evaluates the indicator rules on every candle, and persists
// then publishes each signal.
type Service struct {
	cfg    config.TechnicalConfig
	engine *Engine
	store  Store
	pub    Publisher

	mu      sync.Mutex
	windows map[string]*Window
}

// NewService wires a technical analysis service.
func NewService(cfg config.TechnicalConfig, store Store, pub Publisher) *Service {
	return &Service{
		cfg:     cfg,
		engine:  NewEngine(cfg),
		store:   store,
		pub:     pub,
		windows: make(map[string]*Window),
	}
}

// HandleCandle ingests one candle envelope: append to the window,
// evaluate, and emit any signals.
func (s *Service) HandleCandle(env *protocol.Envelope) error {
	var candle protocol.Candle
	if err := env.DecodePayload(&candle); err != nil {
		log.Warn().Err(err).Msg("Dropping unreadable candle")
		return nil
	}
	return s.Ingest(context.Background(), &candle)
}

// Ingest appends a candle and evaluates the rules for its symbol.
func (s *Service) Ingest(ctx context.Context, candle *protocol.Candle) error {
	window := s.window(protocol.NormalizeSymbol(candle.Symbol), candle.Timeframe)
	if !window.Append(*candle) {
		log.Debug().
			Str("symbol", window.Symbol()).
			Time("open_time", candle.OpenTime).
			Msg("Out-of-order candle ignored")
		return nil
	}

	if deficit := s.engine.minWindow - window.Len(); deficit > 0 {
		log.Info().
			Str("symbol", window.Symbol()).
			Int("deficit", deficit).
			Msg("insufficient_data")
		return nil
	}

	signals, err := s.engine.Evaluate(window)
	if err != nil {
		return err
	}

	for i := range signals {
		if err := s.emit(ctx, &signals[i]); err != nil {
			return err
		}
	}
	return nil
}

// emit persists then publishes one signal. A signal that cannot be
// persisted is not published.
func (s *Service) emit(ctx context.Context, sig *protocol.Signal) error {
	storeCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	record := &db.SignalRecord{
		ID:         sig.ID,
		Symbol:     sig.Symbol,
		Source:     sig.Source,
		Kind:       sig.Kind,
		Confidence: sig.Confidence,
		Indicators: sig.Indicators,
		EmittedAt:  sig.EmittedAt,
		CreatedAt:  sig.EmittedAt,
	}
	if err := s.store.InsertSignal(storeCtx, record); err != nil {
		return err
	}

	env, err := protocol.NewEnvelope(agentName, protocol.MessageTypeSignal, sig)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(ctx, protocol.TopicSignals, env); err != nil {
		return err
	}

	metrics.RecordSignal(sig.Source, string(sig.Kind))
	log.Info().
		Str("symbol", sig.Symbol).
		Str("source", sig.Source).
		Str("kind", string(sig.Kind)).
		Float64("confidence", sig.Confidence).
		Msg("Signal emitted")
	return nil
}

// Window returns the live window for a symbol, or nil. Read-only callers
// such as the ops API use it.
func (s *Service) Window(symbol, timeframe string) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[protocol.NormalizeSymbol(symbol)+":"+timeframe]
}

func (s *Service) window(symbol, timeframe string) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := symbol + ":" + timeframe
	w, ok := s.windows[key]
	if !ok {
		w = NewWindow(symbol, timeframe, s.cfg.WindowSize)
		s.windows[key] = w
	}
	return w
}
