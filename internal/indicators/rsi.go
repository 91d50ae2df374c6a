package indicators

import (
	"github.com/cinar/indicator/v2/momentum"
)

// RSISeries computes the Relative Strength Index over closing prices.
func RSISeries(prices []float64, period int) ([]float64, error) {
	if period < 1 || len(prices) <= period {
		return nil, &ErrInsufficientData{Indicator: "rsi", Need: period + 1, Got: len(prices)}
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	return collect(rsi.Compute(chanOf(prices))), nil
}

// RSI returns the most recent RSI value.
func RSI(prices []float64, period int) (float64, error) {
	series, err := RSISeries(prices, period)
	if err != nil {
		return 0, err
	}
	if len(series) == 0 {
		return 0, &ErrInsufficientData{Indicator: "rsi", Need: period + 1, Got: len(prices)}
	}
	return Last(series), nil
}
