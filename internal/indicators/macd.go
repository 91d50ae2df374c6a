package indicators

import (
	"github.com/cinar/indicator/v2/trend"
)

// MACDResult carries the aligned MACD, signal and histogram series.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACDSeries computes MACD over closing prices.
func MACDSeries(prices []float64, fast, slow, signal int) (*MACDResult, error) {
	minRequired := slow + signal
	if fast < 1 || slow <= fast || signal < 1 {
		return nil, &ErrInsufficientData{Indicator: "macd", Need: minRequired, Got: len(prices)}
	}
	if len(prices) < minRequired {
		return nil, &ErrInsufficientData{Indicator: "macd", Need: minRequired, Got: len(prices)}
	}

	macd := trend.NewMacdWithPeriod[float64](fast, slow, signal)
	macdChan, signalChan := macd.Compute(chanOf(prices))

	var macdValues, signalValues, histogram []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, s)
		histogram = append(histogram, m-s)
	}

	if len(macdValues) == 0 {
		return nil, &ErrInsufficientData{Indicator: "macd", Need: minRequired, Got: len(prices)}
	}

	return &MACDResult{
		MACD:      macdValues,
		Signal:    signalValues,
		Histogram: histogram,
	}, nil
}

// Crossover classifies the latest histogram sign change: "bullish",
// "bearish" or "none".
func (r *MACDResult) Crossover() string {
	if len(r.Histogram) < 2 {
		return "none"
	}

	prev := Prev(r.Histogram)
	curr := Last(r.Histogram)

	switch {
	case prev <= 0 && curr > 0:
		return "bullish"
	case prev >= 0 && curr < 0:
		return "bearish"
	default:
		return "none"
	}
}
