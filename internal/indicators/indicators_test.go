package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rising produces a strictly increasing price series.
func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// falling produces a strictly decreasing price series.
func falling(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start - float64(i)*step
	}
	return out
}

func TestRSIExtremes(t *testing.T) {
	up, err := RSI(rising(50, 100, 1), 14)
	require.NoError(t, err)
	assert.Greater(t, up, 70.0, "monotonic gains should push RSI high")

	down, err := RSI(falling(50, 100, 1), 14)
	require.NoError(t, err)
	assert.Less(t, down, 30.0, "monotonic losses should push RSI low")
}

func TestRSIInsufficientData(t *testing.T) {
	_, err := RSI(rising(10, 100, 1), 14)
	require.Error(t, err)

	var insufficient *ErrInsufficientData
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "rsi", insufficient.Indicator)
}

func TestMACDTrendSign(t *testing.T) {
	res, err := MACDSeries(rising(100, 100, 1), 12, 26, 9)
	require.NoError(t, err)
	assert.Greater(t, Last(res.MACD), 0.0, "uptrend should give positive MACD")

	res, err = MACDSeries(falling(100, 1000, 1), 12, 26, 9)
	require.NoError(t, err)
	assert.Less(t, Last(res.MACD), 0.0, "downtrend should give negative MACD")
}

func TestMACDCrossover(t *testing.T) {
	// downtrend reversing into a sharp uptrend produces a bullish cross
	prices := falling(60, 200, 1)
	prices = append(prices, rising(30, 141, 3)...)

	res, err := MACDSeries(prices, 12, 26, 9)
	require.NoError(t, err)

	crossed := false
	for i := 1; i < len(res.Histogram); i++ {
		if res.Histogram[i-1] <= 0 && res.Histogram[i] > 0 {
			crossed = true
		}
	}
	assert.True(t, crossed, "expected a bullish histogram sign change")
}

func TestBollingerBandsOrdering(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100 + 5*math.Sin(float64(i)/3)
	}

	res, err := BollingerSeries(prices, 20)
	require.NoError(t, err)
	assert.Less(t, Last(res.Lower), Last(res.Middle))
	assert.Less(t, Last(res.Middle), Last(res.Upper))
	assert.Greater(t, res.StdDev(), 0.0)
	assert.Greater(t, res.Width(), 0.0)
}

func TestSMAAndEMA(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	sma, err := SMASeries(prices, 5)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, Last(sma), 1e-9, "SMA of 6..10")

	ema, err := EMASeries(prices, 5)
	require.NoError(t, err)
	assert.Greater(t, Last(ema), Last(sma)-1, "EMA tracks recent rise")
}

func TestATRConstantRange(t *testing.T) {
	n := 30
	high := make([]float64, n)
	low := make([]float64, n)
	closeP := make([]float64, n)
	for i := 0; i < n; i++ {
		high[i] = 105
		low[i] = 95
		closeP[i] = 100
	}

	atr, err := ATR(high, low, closeP, 14)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, atr, 1e-6, "constant 10-point range gives ATR 10")
}

func TestATRMismatchedSeries(t *testing.T) {
	_, err := ATR([]float64{1, 2}, []float64{1}, []float64{1, 2}, 14)
	assert.Error(t, err)
}

func TestADXStrongTrend(t *testing.T) {
	n := 60
	high := make([]float64, n)
	low := make([]float64, n)
	closeP := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)*2
		high[i] = base + 1
		low[i] = base - 1
		closeP[i] = base
	}

	adx, err := ADX(high, low, closeP, 14)
	require.NoError(t, err)
	assert.Greater(t, adx, 25.0, "steady directional move should read as a strong trend")
	assert.NotEqual(t, "weak", TrendStrength(adx))
}

func TestTrendStrengthBuckets(t *testing.T) {
	assert.Equal(t, "weak", TrendStrength(10))
	assert.Equal(t, "strong", TrendStrength(30))
	assert.Equal(t, "very_strong", TrendStrength(60))
}

func TestVolumeRatio(t *testing.T) {
	volumes := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 200}

	ratio, err := VolumeRatio(volumes, 10)
	require.NoError(t, err)
	assert.InDelta(t, 200.0/110.0, ratio, 1e-9)
}

func TestOBVDirection(t *testing.T) {
	closeP := []float64{100, 101, 102, 103, 104}
	volumes := []float64{10, 10, 10, 10, 10}

	obv, err := OBVSeries(closeP, volumes)
	require.NoError(t, err)
	assert.Greater(t, Last(obv), Prev(obv)-1, "rising closes accumulate volume")
}

func TestStochasticBounds(t *testing.T) {
	n := 40
	high := make([]float64, n)
	low := make([]float64, n)
	closeP := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100 + 3*math.Sin(float64(i)/4)
		high[i] = base + 2
		low[i] = base - 2
		closeP[i] = base
	}

	res, err := StochasticSeries(high, low, closeP)
	require.NoError(t, err)
	for _, k := range res.K {
		assert.GreaterOrEqual(t, k, 0.0)
		assert.LessOrEqual(t, k, 100.0)
	}
}
