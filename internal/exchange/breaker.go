package exchange

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Circuit breaker thresholds for venue API calls
const (
	breakerMinRequests     = 5                // minimum requests before tripping
	breakerFailureRatio    = 0.6              // failure ratio threshold
	breakerOpenTimeout     = 30 * time.Second // how long circuit stays open
	breakerHalfOpenMaxReqs = 3                // max requests in half-open state
	breakerCountInterval   = 10 * time.Second // window for counting failures
)

type breakerMetrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
}

var (
	globalBreakerMetrics *breakerMetrics
	breakerMetricsOnce   sync.Once
)

func initBreakerMetrics() {
	breakerMetricsOnce.Do(func() {
		globalBreakerMetrics = &breakerMetrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "exchange_circuit_breaker_state",
					Help: "Exchange circuit breaker state (0=closed, 1=open, 2=half_open)",
				},
				[]string{"venue"},
			),
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "exchange_requests_total",
					Help: "Total venue API requests through the circuit breaker",
				},
				[]string{"venue", "result"},
			),
		}
	})
}

// Breaker wraps venue API calls in a circuit breaker so a failing venue
// sheds load instead of stalling the executor on retries.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	venue   string
	metrics *breakerMetrics
}

// NewBreaker creates a circuit breaker for one venue.
func NewBreaker(venue string) *Breaker {
	initBreakerMetrics()

	b := &Breaker{
		venue:   venue,
		metrics: globalBreakerMetrics,
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        venue,
		MaxRequests: breakerHalfOpenMaxReqs,
		Interval:    breakerCountInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= breakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			// rejections are the venue answering, not the venue failing
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.recordState(to)
		},
	})

	b.recordState(b.cb.State())
	return b
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	result := "success"
	if err != nil {
		result = "failure"
	}
	b.metrics.requests.WithLabelValues(b.venue, result).Inc()

	return err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) recordState(state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	b.metrics.state.WithLabelValues(b.venue).Set(v)
}
