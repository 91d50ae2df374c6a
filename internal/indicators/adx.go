package indicators

import "math"

// ADX computes the Average Directional Index. Not available in
// cinar/indicator v2, so the math is implemented here.
func ADX(high, low, closePrices []float64, period int) (float64, error) {
	n := len(closePrices)
	if len(high) != n || len(low) != n {
		return 0, &ErrInsufficientData{Indicator: "adx", Need: n, Got: min(len(high), len(low))}
	}
	if period < 1 || n < period*2 {
		return 0, &ErrInsufficientData{Indicator: "adx", Need: period * 2, Got: n}
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-closePrices[i-1]),
				math.Abs(low[i]-closePrices[i-1])))

		upMove := high[i] - high[i-1]
		downMove := low[i-1] - low[i]

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smoothTR := smoothWilder(tr, period)
	smoothPlusDM := smoothWilder(plusDM, period)
	smoothMinusDM := smoothWilder(minusDM, period)

	dx := make([]float64, n)
	for i := period; i < n; i++ {
		if smoothTR[i] == 0 {
			continue
		}
		plusDI := 100 * smoothPlusDM[i] / smoothTR[i]
		minusDI := 100 * smoothMinusDM[i] / smoothTR[i]

		if diSum := plusDI + minusDI; diSum != 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / diSum
		}
	}

	return Last(smoothWilder(dx, period)), nil
}

// TrendStrength buckets an ADX value: below 25 weak, 25 to 50 strong,
// above 50 very strong.
func TrendStrength(adx float64) string {
	switch {
	case adx >= 50:
		return "very_strong"
	case adx >= 25:
		return "strong"
	default:
		return "weak"
	}
}
