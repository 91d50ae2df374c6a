// Package strategy buffers technical signals per symbol, fuses them into
// periodic trading decisions, and emits trade intents that pass the
// confidence and cooldown gates.
package strategy

import (
	"sync"
	"time"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// Buffer defaults.
const (
	defaultSignalTimeout = 5 * time.Minute
	defaultBufferMax     = 50
)

// SignalBuffer holds the recent signals for every symbol, ordered by
// arrival. Signals are pruned by age and by a per-symbol size cap, both
// on insert and when a snapshot is taken.
type SignalBuffer struct {
	mu      sync.Mutex
	timeout time.Duration
	max     int
	bySym   map[string][]protocol.Signal
}

// NewSignalBuffer creates a buffer. Non-positive arguments fall back to
// the defaults (300s, 50).
func NewSignalBuffer(timeout time.Duration, max int) *SignalBuffer {
	if timeout <= 0 {
		timeout = defaultSignalTimeout
	}
	if max <= 0 {
		max = defaultBufferMax
	}
	return &SignalBuffer{
		timeout: timeout,
		max:     max,
		bySym:   make(map[string][]protocol.Signal),
	}
}

// Add appends a signal to its symbol's buffer, evicting expired entries
// and, if the cap is exceeded, the oldest one.
func (b *SignalBuffer) Add(sig protocol.Signal, now time.Time) {
	symbol := protocol.NormalizeSymbol(sig.Symbol)

	b.mu.Lock()
	defer b.mu.Unlock()

	buf := b.pruneLocked(symbol, now)
	buf = append(buf, sig)
	if len(buf) > b.max {
		buf = buf[len(buf)-b.max:]
	}
	b.bySym[symbol] = buf
}

// Snapshot returns a copy of the live signals for a symbol, pruning
// expired ones first.
func (b *SignalBuffer) Snapshot(symbol string, now time.Time) []protocol.Signal {
	symbol = protocol.NormalizeSymbol(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()

	buf := b.pruneLocked(symbol, now)
	b.bySym[symbol] = buf

	out := make([]protocol.Signal, len(buf))
	copy(out, buf)
	return out
}

// Symbols lists every symbol with at least one buffered signal.
func (b *SignalBuffer) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	symbols := make([]string, 0, len(b.bySym))
	for symbol, buf := range b.bySym {
		if len(buf) > 0 {
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}

// Len reports the live signal count for a symbol without pruning.
func (b *SignalBuffer) Len(symbol string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bySym[protocol.NormalizeSymbol(symbol)])
}

func (b *SignalBuffer) pruneLocked(symbol string, now time.Time) []protocol.Signal {
	buf := b.bySym[symbol]
	cutoff := now.Add(-b.timeout)

	live := buf[:0]
	for _, sig := range buf {
		if sig.EmittedAt.After(cutoff) {
			live = append(live, sig)
		}
	}
	return live
}
