// Package technical derives trading signals from candle series using a
// fixed set of indicator rules.
package technical

import (
	"sync"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// Window is a rolling candle window for one (symbol, timeframe). A single
// handler task owns each window; the mutex only guards reads from other
// goroutines such as the ops API.
type Window struct {
	mu        sync.RWMutex
	symbol    string
	timeframe string
	capacity  int
	candles   []protocol.Candle
}

// NewWindow creates a rolling window with the given capacity.
func NewWindow(symbol, timeframe string, capacity int) *Window {
	if capacity <= 0 {
		capacity = 200
	}
	return &Window{
		symbol:    symbol,
		timeframe: timeframe,
		capacity:  capacity,
		candles:   make([]protocol.Candle, 0, capacity),
	}
}

// Append adds a candle, keeping openTime non-decreasing. A candle with the
// same openTime as the last one replaces it (open bar updates); an older
// candle is dropped and reported false.
func (w *Window) Append(c protocol.Candle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.candles); n > 0 {
		last := w.candles[n-1].OpenTime
		if c.OpenTime.Before(last) {
			return false
		}
		if c.OpenTime.Equal(last) {
			w.candles[n-1] = c
			return true
		}
	}

	w.candles = append(w.candles, c)
	if len(w.candles) > w.capacity {
		w.candles = w.candles[len(w.candles)-w.capacity:]
	}
	return true
}

// Len returns the number of candles currently held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.candles)
}

// Series extracts the aligned high, low, close and volume series.
func (w *Window) Series() (high, low, closeP, volume []float64) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := len(w.candles)
	high = make([]float64, n)
	low = make([]float64, n)
	closeP = make([]float64, n)
	volume = make([]float64, n)
	for i, c := range w.candles {
		high[i] = c.High
		low[i] = c.Low
		closeP[i] = c.Close
		volume[i] = c.Volume
	}
	return high, low, closeP, volume
}

// Symbol returns the window's symbol.
func (w *Window) Symbol() string { return w.symbol }

// Timeframe returns the window's timeframe.
func (w *Window) Timeframe() string { return w.timeframe }
