package risk

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// ErrInsufficientBalance is returned when a reservation would overcommit
// the account. The string doubles as the rejection reason code.
var ErrInsufficientBalance = fmt.Errorf("insufficient_available_balance")

// Ledger is the single authority on spendable funds. Every approved order
// reserves its size until a terminal order status resolves it: fills
// deduct the reservation from the balance exactly once, cancellations and
// failures release it untouched.
type Ledger struct {
	mu       sync.Mutex
	balance  float64
	reserved map[uuid.UUID]float64
}

// NewLedger creates a ledger with the given starting balance.
func NewLedger(balance float64) *Ledger {
	return &Ledger{
		balance:  balance,
		reserved: make(map[uuid.UUID]float64),
	}
}

// Balance returns the account balance, ignoring reservations.
func (l *Ledger) Balance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Available returns balance minus all outstanding reservations.
func (l *Ledger) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked()
}

// TotalReserved returns the sum of outstanding reservations.
func (l *Ledger) TotalReserved() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance - l.availableLocked()
}

// SetBalance re-synchronizes the balance from the exchange. Reservations
// are preserved; the balance is never raised above the exchange-reported
// value speculatively.
func (l *Ledger) SetBalance(balance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = balance
}

// Approve atomically checks available funds and inserts a reservation.
// The callback runs inside the critical section so the caller can persist
// and publish before any competing intent can observe the new available
// balance; a callback error rolls the reservation back.
func (l *Ledger) Approve(orderID uuid.UUID, sizeUSD float64, commit func(available float64) error) error {
	if sizeUSD <= 0 {
		return fmt.Errorf("reservation must be positive, got %f", sizeUSD)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	available := l.availableLocked()
	if available < sizeUSD {
		return fmt.Errorf("%w: need %.2f, available %.2f", ErrInsufficientBalance, sizeUSD, available)
	}

	l.reserved[orderID] = sizeUSD
	if commit != nil {
		if err := commit(available - sizeUSD); err != nil {
			delete(l.reserved, orderID)
			return err
		}
	}
	return nil
}

// Resolve settles a reservation on a terminal order state. FILLED deducts
// the reserved amount from the balance exactly once; CANCELLED, REJECTED,
// and FAILED release the reservation with the balance unchanged.
// Unknown order IDs and non-terminal states are ignored, which makes
// redelivered status messages harmless.
func (l *Ledger) Resolve(orderID uuid.UUID, state protocol.OrderState) {
	if !state.Terminal() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	amount, ok := l.reserved[orderID]
	if !ok {
		return
	}
	delete(l.reserved, orderID)

	if state == protocol.OrderFilled {
		l.balance -= amount
	}

	log.Info().
		Str("order_id", orderID.String()).
		Str("state", string(state)).
		Float64("reservation", amount).
		Float64("balance", l.balance).
		Msg("Reservation resolved")
}

func (l *Ledger) availableLocked() float64 {
	available := l.balance
	for _, amount := range l.reserved {
		available -= amount
	}
	return available
}
