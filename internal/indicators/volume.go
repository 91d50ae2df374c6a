package indicators

import (
	"github.com/cinar/indicator/v2/volume"
)

// OBVSeries computes On-Balance Volume over closing prices and volumes.
func OBVSeries(closePrices, volumes []float64) ([]float64, error) {
	if len(closePrices) != len(volumes) || len(closePrices) < 2 {
		return nil, &ErrInsufficientData{Indicator: "obv", Need: 2, Got: len(closePrices)}
	}

	obv := volume.NewObv[float64]()
	return collect(obv.Compute(chanOf(closePrices), chanOf(volumes))), nil
}

// VolumeRatio returns the latest volume divided by its moving average, a
// confirmation measure for signal confidence.
func VolumeRatio(volumes []float64, period int) (float64, error) {
	avg, err := SMASeries(volumes, period)
	if err != nil {
		return 0, err
	}

	mean := Last(avg)
	if mean == 0 {
		return 0, nil
	}
	return Last(volumes) / mean, nil
}
