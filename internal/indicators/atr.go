package indicators

import "math"

// ATRSeries computes the Average True Range with Wilder's smoothing, the
// same smoothing used by the ADX calculation. Values before the warmup
// period are zero.
func ATRSeries(high, low, closePrices []float64, period int) ([]float64, error) {
	n := len(closePrices)
	if len(high) != n || len(low) != n {
		return nil, &ErrInsufficientData{Indicator: "atr", Need: n, Got: min(len(high), len(low))}
	}
	if period < 1 || n < period+1 {
		return nil, &ErrInsufficientData{Indicator: "atr", Need: period + 1, Got: n}
	}

	tr := make([]float64, n)
	tr[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-closePrices[i-1]),
				math.Abs(low[i]-closePrices[i-1])))
	}

	return smoothWilder(tr, period), nil
}

// ATR returns the most recent ATR value.
func ATR(high, low, closePrices []float64, period int) (float64, error) {
	series, err := ATRSeries(high, low, closePrices, period)
	if err != nil {
		return 0, err
	}
	return Last(series), nil
}

// smoothWilder applies Wilder's smoothing: a simple average seeds the
// series, then each value blends the previous smoothed value with the new
// observation.
func smoothWilder(data []float64, period int) []float64 {
	n := len(data)
	result := make([]float64, n)

	if n < period {
		return result
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		result[i] = (result[i-1]*float64(period-1) + data[i]) / float64(period)
	}

	return result
}
