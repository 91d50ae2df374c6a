// Package indicators computes technical indicators over candle series.
// Where cinar/indicator provides the math we use it; ADX is implemented
// manually because the library does not ship it.
package indicators

import "fmt"

// ErrInsufficientData is returned when a series is shorter than the
// indicator's warmup period.
type ErrInsufficientData struct {
	Indicator string
	Need      int
	Got       int
}

func (e *ErrInsufficientData) Error() string {
	return fmt.Sprintf("%s: insufficient data: need at least %d values, got %d", e.Indicator, e.Need, e.Got)
}

// chanOf feeds a slice into a closed channel for cinar's streaming API.
func chanOf(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// collect drains a result channel back into a slice.
func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// Last returns the final value of a series, or 0 for an empty one.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// Prev returns the second-to-last value of a series, or 0 when absent.
func Prev(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	return series[len(series)-2]
}
