package fusion

import "sync"

const (
	reliabilityWindow = 100

	// Weight bounds; a source at 50% precision weighs the neutral 1.0.
	minReliabilityWeight = 0.5
	maxReliabilityWeight = 1.5
)

// ReliabilityTracker keeps a bounded ring of trade outcomes per signal
// source and converts the observed precision into a confidence weight.
// Outcomes are recorded when positions close; sources without history
// weigh the neutral 1.0.
type ReliabilityTracker struct {
	mu      sync.RWMutex
	history map[string]*outcomeRing
}

// NewReliabilityTracker creates an empty tracker.
func NewReliabilityTracker() *ReliabilityTracker {
	return &ReliabilityTracker{history: make(map[string]*outcomeRing)}
}

// Record appends one trade outcome for a source, evicting the oldest
// entry once the window is full.
func (t *ReliabilityTracker) Record(source string, win bool) {
	if source == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ring, ok := t.history[source]
	if !ok {
		ring = &outcomeRing{}
		t.history[source] = ring
	}
	ring.push(win)
}

// Weight returns the confidence multiplier for a source, its precision
// over the recorded window mapped so that 0.5 precision is neutral and
// the result stays within [0.5, 1.5].
func (t *ReliabilityTracker) Weight(source string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ring, ok := t.history[source]
	if !ok || ring.size == 0 {
		return 1.0
	}
	return clamp(2*ring.precision(), minReliabilityWeight, maxReliabilityWeight)
}

// Outcomes reports the number of recorded outcomes for a source.
func (t *ReliabilityTracker) Outcomes(source string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if ring, ok := t.history[source]; ok {
		return ring.size
	}
	return 0
}

// outcomeRing is a fixed-capacity ring of win/loss outcomes.
type outcomeRing struct {
	outcomes [reliabilityWindow]bool
	next     int
	size     int
}

func (r *outcomeRing) push(win bool) {
	r.outcomes[r.next] = win
	r.next = (r.next + 1) % reliabilityWindow
	if r.size < reliabilityWindow {
		r.size++
	}
}

func (r *outcomeRing) precision() float64 {
	if r.size == 0 {
		return 0
	}
	wins := 0
	for i := 0; i < r.size; i++ {
		if r.outcomes[i] {
			wins++
		}
	}
	return float64(wins) / float64(r.size)
}
