package execution

import (
	"math"
	"sync"
	"time"

	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// qtyEpsilon absorbs float residue when a reduction closes a position.
const qtyEpsilon = 1e-9

// PositionBook holds the open position per symbol together with a
// per-symbol mutex. All lifecycle mutations for a symbol happen under its
// lock, so fills, monitor triggers, and recovery never interleave.
type PositionBook struct {
	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	positions map[string]*db.Position
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{
		locks:     make(map[string]*sync.Mutex),
		positions: make(map[string]*db.Position),
	}
}

// SymbolLock returns the mutex guarding a symbol, creating it on first use.
func (b *PositionBook) SymbolLock(symbol string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	lock, ok := b.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[symbol] = lock
	}
	return lock
}

// Get returns the open position for a symbol, or nil. Callers must hold
// the symbol lock.
func (b *PositionBook) Get(symbol string) *db.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions[symbol]
}

// Set records the open position for a symbol.
func (b *PositionBook) Set(symbol string, pos *db.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[symbol] = pos
}

// Remove drops the position for a symbol, typically after close.
func (b *PositionBook) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, symbol)
}

// Symbols lists symbols with an open position.
func (b *PositionBook) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	symbols := make([]string, 0, len(b.positions))
	for symbol := range b.positions {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// Len returns the number of open positions.
func (b *PositionBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// sameDirection reports whether a fill side grows the position.
func sameDirection(posSide db.PositionSide, side protocol.OrderSide) bool {
	return (posSide == db.PositionSideLong && side == protocol.SideBuy) ||
		(posSide == db.PositionSideShort && side == protocol.SideSell)
}

// applyFill mutates a position for one fill. Same-direction fills grow the
// position at a volume-weighted entry; opposite fills reduce it, realizing
// PnL on the reduced quantity against the remaining cost basis. Returns
// the realized PnL of this fill and whether the position is now flat.
func applyFill(pos *db.Position, side protocol.OrderSide, qty, price float64, now time.Time) (float64, bool) {
	if sameDirection(pos.Side, side) {
		total := pos.Quantity + qty
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + price*qty) / total
		pos.Quantity = total
		pos.CurrentPrice = price
		pos.UpdatedAt = now
		return 0, false
	}

	reduced := math.Min(qty, pos.Quantity)
	var realized float64
	if pos.Side == db.PositionSideLong {
		realized = (price - pos.AvgEntryPrice) * reduced
	} else {
		realized = (pos.AvgEntryPrice - price) * reduced
	}

	pos.Quantity -= reduced
	pos.RealizedPnL += realized
	pos.CurrentPrice = price
	pos.UpdatedAt = now

	if pos.Quantity <= qtyEpsilon {
		pos.Quantity = 0
		pos.UnrealizedPnL = 0
		return realized, true
	}
	return realized, false
}

// unrealizedPnL values the remaining quantity at the current price.
func unrealizedPnL(pos *db.Position, price float64) float64 {
	if pos.Side == db.PositionSideLong {
		return (price - pos.AvgEntryPrice) * pos.Quantity
	}
	return (pos.AvgEntryPrice - price) * pos.Quantity
}
