package indicators

import (
	"github.com/cinar/indicator/v2/momentum"
)

// StochasticResult carries the %K and %D oscillator series.
type StochasticResult struct {
	K []float64
	D []float64
}

// StochasticSeries computes the stochastic oscillator over high, low and
// closing prices.
func StochasticSeries(high, low, closePrices []float64) (*StochasticResult, error) {
	n := len(closePrices)
	if len(high) != n || len(low) != n || n < 14 {
		return nil, &ErrInsufficientData{Indicator: "stochastic", Need: 14, Got: n}
	}

	stoch := momentum.NewStochasticOscillator[float64]()
	kChan, dChan := stoch.Compute(chanOf(high), chanOf(low), chanOf(closePrices))

	var k, d []float64
	for {
		kv, kok := <-kChan
		dv, dok := <-dChan
		if !kok || !dok {
			break
		}
		k = append(k, kv)
		d = append(d, dv)
	}

	if len(k) == 0 {
		return nil, &ErrInsufficientData{Indicator: "stochastic", Need: 14, Got: n}
	}

	return &StochasticResult{K: k, D: d}, nil
}
