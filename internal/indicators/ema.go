package indicators

import (
	"github.com/cinar/indicator/v2/trend"
)

// EMASeries computes an exponential moving average over prices.
func EMASeries(prices []float64, period int) ([]float64, error) {
	if period < 1 || len(prices) < period {
		return nil, &ErrInsufficientData{Indicator: "ema", Need: period, Got: len(prices)}
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	return collect(ema.Compute(chanOf(prices))), nil
}

// SMASeries computes a simple moving average over prices.
func SMASeries(prices []float64, period int) ([]float64, error) {
	if period < 1 || len(prices) < period {
		return nil, &ErrInsufficientData{Indicator: "sma", Need: period, Got: len(prices)}
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	return collect(sma.Compute(chanOf(prices))), nil
}
