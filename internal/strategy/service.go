package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/fusion"
	"github.com/ajitpratap0/tradepipe/internal/metrics"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

const agentName = "strategy-agent"

// Skip reasons recorded on decisions that did not emit an intent.
const (
	skipInsufficientSignals = "insufficient_signals"
	skipHold                = "hold"
	skipBelowConfidence     = "below_min_confidence"
	skipCooldown            = "cooldown_active"
)

const (
	defaultMinSignals       = 2
	defaultMinConfidence    = 0.6
	defaultDecisionInterval = 30 * time.Second
)

// Publisher publishes envelopes to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *protocol.Envelope) error
}

// DecisionStore persists fusion decisions for audit.
type DecisionStore interface {
	InsertStrategyDecision(ctx context.Context, d *db.StrategyDecisionRecord) error
}

// Service is the strategy agent core: it buffers incoming signals, runs
// the configured fusion strategy per symbol on a fixed cadence, persists
// every decision, and publishes a TradeIntent when the decision passes
// the emission gates.
type Service struct {
	cfg     config.StrategyConfig
	pub     Publisher
	store   DecisionStore
	buffer  *SignalBuffer
	fuser   fusion.Strategy
	tracker *fusion.ReliabilityTracker

	minSignals    int
	minConfidence float64
	interval      time.Duration
	cooldown      time.Duration

	clock func() time.Time

	// mu guards lastIntent and lastSources, shared between the decision
	// loop and the position-update handler.
	mu          sync.Mutex
	lastIntent  map[string]time.Time
	lastSources map[string][]string
}

// NewService builds the strategy service. store may be nil, in which case
// decisions are not persisted.
func NewService(cfg config.StrategyConfig, pub Publisher, store DecisionStore) (*Service, error) {
	var tracker *fusion.ReliabilityTracker
	if cfg.AdaptiveWeights {
		tracker = fusion.NewReliabilityTracker()
	}

	fuser, err := fusion.New(cfg, tracker)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:           cfg,
		pub:           pub,
		store:         store,
		buffer:        NewSignalBuffer(cfg.SignalTimeout, cfg.BufferMax),
		fuser:         fuser,
		tracker:       tracker,
		minSignals:    cfg.MinSignals,
		minConfidence: cfg.MinConfidence,
		interval:      cfg.DecisionInterval,
		cooldown:      cfg.Cooldown,
		clock:         func() time.Time { return time.Now().UTC() },
		lastIntent:    make(map[string]time.Time),
		lastSources:   make(map[string][]string),
	}
	if s.minSignals <= 0 {
		s.minSignals = defaultMinSignals
	}
	if s.minConfidence <= 0 {
		s.minConfidence = defaultMinConfidence
	}
	if s.interval <= 0 {
		s.interval = defaultDecisionInterval
	}
	if s.cooldown <= 0 {
		s.cooldown = s.interval
	}
	return s, nil
}

// HandleSignal buffers one incoming technical signal.
func (s *Service) HandleSignal(env *protocol.Envelope) error {
	var sig protocol.Signal
	if err := env.DecodePayload(&sig); err != nil {
		return err
	}
	s.buffer.Add(sig, s.clock())
	log.Debug().
		Str("symbol", sig.Symbol).
		Str("source", sig.Source).
		Str("kind", string(sig.Kind)).
		Float64("confidence", sig.Confidence).
		Msg("Signal buffered")
	return nil
}

// HandlePositionUpdate feeds closed-position outcomes back into the
// reliability tracker, crediting the sources that contributed to the
// symbol's last emitted intent.
func (s *Service) HandlePositionUpdate(env *protocol.Envelope) error {
	var update protocol.PositionUpdate
	if err := env.DecodePayload(&update); err != nil {
		return err
	}
	if update.State != protocol.PositionClosed || s.tracker == nil {
		return nil
	}

	symbol := protocol.NormalizeSymbol(update.Symbol)
	win := update.RealizedPnL > 0

	s.mu.Lock()
	sources := s.lastSources[symbol]
	s.mu.Unlock()
	for _, source := range sources {
		s.tracker.Record(source, win)
	}
	log.Info().
		Str("symbol", symbol).
		Bool("win", win).
		Float64("realized_pnl", update.RealizedPnL).
		Msg("Recorded trade outcome for signal reliability")
	return nil
}

// Run executes the decision loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().
		Str("fusion", s.fuser.Name()).
		Dur("interval", s.interval).
		Msg("Strategy decision loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Strategy decision loop stopped")
			return
		case <-ticker.C:
			s.DecideAll(ctx)
		}
	}
}

// DecideAll runs one decision round over every buffered symbol.
func (s *Service) DecideAll(ctx context.Context) {
	now := s.clock()
	for _, symbol := range s.buffer.Symbols() {
		if _, err := s.Decide(ctx, symbol, now); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("Decision round failed")
		}
	}
}

// Decide fuses the buffered signals for one symbol and, if the decision
// passes the gates, publishes a TradeIntent. It returns the emitted
// intent, or nil when nothing was emitted.
func (s *Service) Decide(ctx context.Context, symbol string, now time.Time) (*protocol.TradeIntent, error) {
	symbol = protocol.NormalizeSymbol(symbol)
	signals := s.buffer.Snapshot(symbol, now)

	if len(signals) < s.minSignals {
		s.persistDecision(ctx, &db.StrategyDecisionRecord{
			ID:          uuid.New(),
			Symbol:      symbol,
			Strategy:    s.fuser.Name(),
			Action:      protocol.SignalHold,
			SignalCount: len(signals),
			SkipReason:  skipInsufficientSignals,
			CreatedAt:   now,
		})
		return nil, nil
	}

	decision := s.fuser.Fuse(signals, now)

	skipReason := ""
	switch {
	case decision.Action == protocol.SignalHold:
		skipReason = skipHold
	case decision.Confidence < s.minConfidence:
		skipReason = skipBelowConfidence
	case now.Sub(s.lastIntentAt(symbol)) < s.cooldown:
		skipReason = skipCooldown
	}

	s.persistDecision(ctx, &db.StrategyDecisionRecord{
		ID:          uuid.New(),
		Symbol:      symbol,
		Strategy:    s.fuser.Name(),
		Action:      decision.Action,
		Confidence:  decision.Confidence,
		SignalCount: len(signals),
		Emitted:     skipReason == "",
		SkipReason:  skipReason,
		Fusion:      decision.Scores,
		CreatedAt:   now,
	})
	metrics.RecordDecision(string(decision.Action), skipReason == "")

	if skipReason != "" {
		log.Debug().
			Str("symbol", symbol).
			Str("action", string(decision.Action)).
			Float64("confidence", decision.Confidence).
			Str("skip_reason", skipReason).
			Msg("Decision made, no intent emitted")
		return nil, nil
	}

	sources := signalSources(signals)
	intent := &protocol.TradeIntent{
		ID:            uuid.New(),
		Symbol:        symbol,
		Action:        actionToSide(decision.Action),
		Confidence:    decision.Confidence,
		ExpectedPrice: latestPrice(signals),
		Fusion: protocol.FusionMeta{
			Strategy:    s.fuser.Name(),
			SignalCount: len(signals),
			Scores:      decision.Scores,
			Sources:     sources,
		},
		CreatedAt: now,
	}

	env, err := protocol.NewEnvelope(agentName, protocol.MessageTypeTradeIntent, intent)
	if err != nil {
		return nil, err
	}
	if err := s.pub.Publish(ctx, protocol.TopicTradeIntent, env); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastIntent[symbol] = now
	s.lastSources[symbol] = sources
	s.mu.Unlock()

	log.Info().
		Str("symbol", symbol).
		Str("action", string(intent.Action)).
		Float64("confidence", intent.Confidence).
		Int("signals", len(signals)).
		Msg("Trade intent emitted")
	return intent, nil
}

// Buffer exposes the signal buffer for the operations API.
func (s *Service) Buffer() *SignalBuffer { return s.buffer }

func (s *Service) lastIntentAt(symbol string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIntent[symbol]
}

func (s *Service) persistDecision(ctx context.Context, record *db.StrategyDecisionRecord) {
	if s.store == nil {
		return
	}
	if err := s.store.InsertStrategyDecision(ctx, record); err != nil {
		log.Error().Err(err).Str("symbol", record.Symbol).Msg("Failed to persist strategy decision")
	}
}

func actionToSide(kind protocol.SignalKind) protocol.OrderSide {
	if kind == protocol.SignalSell {
		return protocol.SideSell
	}
	return protocol.SideBuy
}

// latestPrice pulls the most recent price snapshot carried by the
// buffered signals, zero if none carries one.
func latestPrice(signals []protocol.Signal) float64 {
	for i := len(signals) - 1; i >= 0; i-- {
		if price, ok := signals[i].Indicators["price"]; ok && price > 0 {
			return price
		}
	}
	return 0
}

func signalSources(signals []protocol.Signal) []string {
	seen := make(map[string]struct{}, len(signals))
	var sources []string
	for _, sig := range signals {
		if _, ok := seen[sig.Source]; ok {
			continue
		}
		seen[sig.Source] = struct{}{}
		sources = append(sources, sig.Source)
	}
	return sources
}
