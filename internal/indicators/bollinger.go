package indicators

import (
	"github.com/cinar/indicator/v2/volatility"
)

// BollingerResult carries the aligned lower, middle and upper band series.
// The library uses a fixed 2 standard deviation width.
type BollingerResult struct {
	Lower  []float64
	Middle []float64
	Upper  []float64
}

// BollingerSeries computes Bollinger Bands over closing prices.
func BollingerSeries(prices []float64, period int) (*BollingerResult, error) {
	if period < 2 || len(prices) < period {
		return nil, &ErrInsufficientData{Indicator: "bollinger", Need: period, Got: len(prices)}
	}

	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	lowerChan, middleChan, upperChan := bb.Compute(chanOf(prices))

	var lower, middle, upper []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower = append(lower, l)
		middle = append(middle, m)
		upper = append(upper, u)
	}

	if len(middle) == 0 {
		return nil, &ErrInsufficientData{Indicator: "bollinger", Need: period, Got: len(prices)}
	}

	return &BollingerResult{Lower: lower, Middle: middle, Upper: upper}, nil
}

// StdDev returns the latest single standard deviation implied by the band
// width (upper = middle + 2σ).
func (r *BollingerResult) StdDev() float64 {
	return (Last(r.Upper) - Last(r.Middle)) / 2
}

// Width returns the latest band width as a fraction of the middle band.
func (r *BollingerResult) Width() float64 {
	mid := Last(r.Middle)
	if mid == 0 {
		return 0
	}
	return (Last(r.Upper) - Last(r.Lower)) / mid
}
