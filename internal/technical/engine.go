package technical

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/indicators"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// Signal sources published by the engine.
const (
	SourceRSI       = "technical.rsi"
	SourceMACD      = "technical.macd"
	SourceBollinger = "technical.bollinger"
)

// Standard indicator parameters.
const (
	rsiPeriod    = 14
	macdFast     = 12
	macdSlow     = 26
	macdSignal   = 9
	bbPeriod     = 20
	atrPeriod    = 14
	adxPeriod    = 14
	volumePeriod = 20

	rsiOversold   = 30.0
	rsiOverbought = 70.0

	volumeConfirmRatio = 1.3
	volumeBoost        = 1.1
)

// Engine evaluates indicator rules over a candle window. It is stateless
// beyond configuration; all state lives in the windows.
type Engine struct {
	minWindow int
}

// NewEngine creates a rules engine.
func NewEngine(cfg config.TechnicalConfig) *Engine {
	minWindow := cfg.MinWindow
	if minWindow <= 0 {
		minWindow = macdSlow + macdSignal
	}
	return &Engine{minWindow: minWindow}
}

// Evaluate computes indicators over the window and applies the signal
// rules. An under-filled window yields no signals and no error (cold
// start); each emitted signal carries the indicator snapshot that produced
// it. Absence of a triggering condition yields no signal, not a HOLD.
func (e *Engine) Evaluate(w *Window) ([]protocol.Signal, error) {
	if w.Len() < e.minWindow {
		log.Debug().
			Str("symbol", w.Symbol()).
			Int("have", w.Len()).
			Int("need", e.minWindow).
			Msg("Window still warming up, no signals")
		return nil, nil
	}

	high, low, closeP, volume := w.Series()
	price := indicators.Last(closeP)
	now := time.Now().UTC()

	rsiSeries, err := indicators.RSISeries(closeP, rsiPeriod)
	if err != nil {
		return nil, skipInsufficient(err)
	}
	macd, err := indicators.MACDSeries(closeP, macdFast, macdSlow, macdSignal)
	if err != nil {
		return nil, skipInsufficient(err)
	}
	bb, err := indicators.BollingerSeries(closeP, bbPeriod)
	if err != nil {
		return nil, skipInsufficient(err)
	}
	atr, err := indicators.ATR(high, low, closeP, atrPeriod)
	if err != nil {
		return nil, skipInsufficient(err)
	}
	volRatio, err := indicators.VolumeRatio(volume, volumePeriod)
	if err != nil {
		return nil, skipInsufficient(err)
	}
	adx, err := indicators.ADX(high, low, closeP, adxPeriod)
	if err != nil {
		return nil, skipInsufficient(err)
	}
	obv, err := indicators.OBVSeries(closeP, volume)
	if err != nil {
		return nil, skipInsufficient(err)
	}
	stoch, err := indicators.StochasticSeries(high, low, closeP)
	if err != nil {
		return nil, skipInsufficient(err)
	}

	rsi := indicators.Last(rsiSeries)
	snapshot := map[string]float64{
		"price":        price,
		"rsi":          rsi,
		"macd":         indicators.Last(macd.MACD),
		"macd_signal":  indicators.Last(macd.Signal),
		"macd_hist":    indicators.Last(macd.Histogram),
		"bb_upper":     indicators.Last(bb.Upper),
		"bb_middle":    indicators.Last(bb.Middle),
		"bb_lower":     indicators.Last(bb.Lower),
		"atr":          atr,
		"adx":          adx,
		"obv":          indicators.Last(obv),
		"stoch_k":      indicators.Last(stoch.K),
		"stoch_d":      indicators.Last(stoch.D),
		"volume_ratio": volRatio,
	}

	var signals []protocol.Signal
	emit := func(source string, kind protocol.SignalKind, confidence float64, reasoning string) {
		if volRatio > volumeConfirmRatio {
			confidence *= volumeBoost
		}
		if confidence > 1.0 {
			confidence = 1.0
		}

		signals = append(signals, protocol.Signal{
			ID:         uuid.New(),
			Symbol:     w.Symbol(),
			Source:     source,
			Kind:       kind,
			Confidence: confidence,
			EmittedAt:  now,
			Indicators: snapshot,
			Reasoning:  reasoning,
		})
	}

	// RSI rule: strict thresholds, exactly 30 or 70 triggers nothing.
	switch {
	case rsi < rsiOversold:
		emit(SourceRSI, protocol.SignalBuy, (rsiOversold-rsi)/rsiOversold*0.85+0.15, "RSI oversold")
	case rsi > rsiOverbought:
		emit(SourceRSI, protocol.SignalSell, (rsi-rsiOverbought)/(100-rsiOverbought)*0.85+0.15, "RSI overbought")
	}

	// MACD rule: histogram sign change, confidence scaled by magnitude
	// relative to ATR.
	if cross := macd.Crossover(); cross != "none" && atr > 0 {
		conf := clamp(abs(indicators.Last(macd.Histogram))/atr, 0, 0.85)
		if cross == "bullish" {
			emit(SourceMACD, protocol.SignalBuy, conf, "MACD bullish crossover")
		} else {
			emit(SourceMACD, protocol.SignalSell, conf, "MACD bearish crossover")
		}
	}

	// Bollinger rule: touch or breach of a band.
	if sigma := bb.StdDev(); sigma > 0 {
		mid := indicators.Last(bb.Middle)
		conf := clamp(abs(price-mid)/(2*sigma), 0, 0.8)
		if price <= indicators.Last(bb.Lower) {
			emit(SourceBollinger, protocol.SignalBuy, conf, "Price at lower Bollinger band")
		} else if price >= indicators.Last(bb.Upper) {
			emit(SourceBollinger, protocol.SignalSell, conf, "Price at upper Bollinger band")
		}
	}

	return signals, nil
}

// skipInsufficient swallows warmup errors so a short window is a cold
// start, not a failure.
func skipInsufficient(err error) error {
	var insufficient *indicators.ErrInsufficientData
	if errors.As(err, &insufficient) {
		return nil
	}
	return err
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
