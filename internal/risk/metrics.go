package risk

import (
	"fmt"
	"math"
	"sort"
)

// Returns converts a price series into simple period returns.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	return returns
}

// StdDev is the sample standard deviation.
func StdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(n-1))
}

// VaR computes historical value-at-risk at the given confidence level
// (e.g. 0.95), returned as a positive loss fraction.
func VaR(returns []float64, confidence float64) (float64, error) {
	if len(returns) == 0 {
		return 0, fmt.Errorf("var needs at least one return")
	}
	if confidence <= 0 || confidence >= 1 {
		return 0, fmt.Errorf("confidence level %f outside (0,1)", confidence)
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * (1 - confidence))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	loss := -sorted[idx]
	if loss < 0 {
		loss = 0
	}
	return loss, nil
}

// Sharpe computes the annualized Sharpe ratio from per-period returns,
// assuming daily periods.
func Sharpe(returns []float64, riskFreeRate float64) (float64, error) {
	if len(returns) < 2 {
		return 0, fmt.Errorf("sharpe needs at least two returns")
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	std := StdDev(returns)
	if std == 0 {
		return 0, fmt.Errorf("sharpe undefined for zero-variance returns")
	}

	dailyRF := riskFreeRate / 365
	return (mean - dailyRF) / std * math.Sqrt(365), nil
}

// Drawdown computes the current and maximum drawdown fractions of an
// equity curve along with the peak equity.
func Drawdown(equity []float64) (current, max, peak float64) {
	for _, value := range equity {
		if value > peak {
			peak = value
		}
		if peak > 0 {
			dd := (peak - value) / peak
			current = dd
			if dd > max {
				max = dd
			}
		}
	}
	return current, max, peak
}
