// Package execution places validated orders on the venue, tracks the
// position lifecycle, and monitors open positions for stop-loss and
// take-profit triggers.
package execution

import (
	"math"
	"sync"
	"time"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// SlippagePct is the signed execution slippage in percent. Positive means
// adverse: a buy filled above the expected price, or a sell filled below.
func SlippagePct(side protocol.OrderSide, expected, actual float64) float64 {
	if expected <= 0 || actual <= 0 {
		return 0
	}
	slip := (actual - expected) / expected * 100
	if side == protocol.SideSell {
		slip = -slip
	}
	return slip
}

// Quality grades one execution.
type Quality struct {
	SlippagePct float64
	FeePct      float64
	Duration    time.Duration
}

// Score combines slippage, cost, and speed into a 0-100 grade weighted
// 50/30/20.
func (q Quality) Score() float64 {
	return 0.5*scorePct(q.SlippagePct) + 0.3*scorePct(q.FeePct) + 0.2*scoreSpeed(q.Duration)
}

func scorePct(pct float64) float64 {
	pct = math.Abs(pct)
	switch {
	case pct < 0.1:
		return 100
	case pct < 0.3:
		return 80
	case pct < 0.5:
		return 60
	case pct < 1.0:
		return 40
	default:
		return 20
	}
}

func scoreSpeed(d time.Duration) float64 {
	switch {
	case d < time.Second:
		return 100
	case d < 5*time.Second:
		return 80
	case d < 10*time.Second:
		return 60
	case d < 30*time.Second:
		return 40
	default:
		return 20
	}
}

// Benchmarks accumulates per-symbol execution quality.
type Benchmarks struct {
	mu       sync.Mutex
	bySymbol map[string]*benchAgg
}

type benchAgg struct {
	count       int
	sumScore    float64
	sumSlippage float64
	worstScore  float64
}

// NewBenchmarks creates an empty benchmark aggregator.
func NewBenchmarks() *Benchmarks {
	return &Benchmarks{bySymbol: make(map[string]*benchAgg)}
}

// Record adds one execution to the symbol's rollup.
func (b *Benchmarks) Record(symbol string, q Quality) {
	b.mu.Lock()
	defer b.mu.Unlock()

	agg, ok := b.bySymbol[symbol]
	if !ok {
		agg = &benchAgg{worstScore: 100}
		b.bySymbol[symbol] = agg
	}

	score := q.Score()
	agg.count++
	agg.sumScore += score
	agg.sumSlippage += math.Abs(q.SlippagePct)
	if score < agg.worstScore {
		agg.worstScore = score
	}
}

// BenchmarkSummary is the rolled-up execution quality for one symbol.
type BenchmarkSummary struct {
	Count          int
	AvgScore       float64
	AvgSlippagePct float64
	WorstScore     float64
}

// Summary returns the rollup for a symbol; ok is false when the symbol has
// no recorded executions.
func (b *Benchmarks) Summary(symbol string) (BenchmarkSummary, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	agg, ok := b.bySymbol[symbol]
	if !ok || agg.count == 0 {
		return BenchmarkSummary{}, false
	}
	return BenchmarkSummary{
		Count:          agg.count,
		AvgScore:       agg.sumScore / float64(agg.count),
		AvgSlippagePct: agg.sumSlippage / float64(agg.count),
		WorstScore:     agg.worstScore,
	}, true
}
