package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

const sendTimeout = 10 * time.Second

// Notifier translates pipeline events into alerts. Every send is
// asynchronous and rate-limited; the pipeline never waits on delivery.
type Notifier struct {
	mgr     *Manager
	limiter *rate.Limiter
}

// NewNotifier builds a notifier from the alerts config. Without a Telegram
// token the notifier only logs.
func NewNotifier(cfg config.AlertsConfig) *Notifier {
	alerters := []Alerter{NewLogAlerter()}

	if cfg.TelegramToken == "" {
		log.Info().Msg("Telegram alerts disabled, no token configured")
	} else {
		tg, err := NewTelegramAlerter(cfg.TelegramToken, []int64{cfg.TelegramChatID})
		if err != nil {
			log.Error().Err(err).Msg("Telegram alerter unavailable, logging only")
		} else {
			alerters = append(alerters, tg)
		}
	}

	return &Notifier{
		mgr:     NewManager(alerters...),
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 5),
	}
}

// dispatch applies the rate limit and sends in the background.
func (n *Notifier) dispatch(alert Alert) {
	if !n.limiter.Allow() {
		log.Debug().Str("title", alert.Title).Msg("Alert dropped by rate limit")
		return
	}
	alert.Timestamp = time.Now()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.mgr.Send(ctx, alert); err != nil {
			log.Warn().Err(err).Str("title", alert.Title).Msg("Alert delivery failed")
		}
	}()
}

// OrderFilled announces a completed fill.
func (n *Notifier) OrderFilled(status *protocol.OrderStatusUpdate) {
	n.dispatch(Alert{
		Title: "Order Filled",
		Message: fmt.Sprintf("%s %s filled %.8g @ %.8g",
			status.Side, status.Symbol, status.FilledQty, status.AvgPrice),
		Severity: SeverityInfo,
		Metadata: map[string]interface{}{
			"order_id":     status.OrderID.String(),
			"symbol":       status.Symbol,
			"realized_pnl": status.RealizedPnL,
		},
	})
}

// TradeRejected announces a risk rejection with its reasons.
func (n *Notifier) TradeRejected(symbol string, reasons []string) {
	n.dispatch(Alert{
		Title:    "Trade Rejected",
		Message:  fmt.Sprintf("%s intent rejected: %s", symbol, strings.Join(reasons, ", ")),
		Severity: SeverityWarning,
		Metadata: map[string]interface{}{
			"symbol":  symbol,
			"reasons": strings.Join(reasons, ","),
		},
	})
}

// StreamDegraded announces a silent market data stream.
func (n *Notifier) StreamDegraded(degraded *protocol.StreamDegraded) {
	n.dispatch(Alert{
		Title: "Market Stream Degraded",
		Message: fmt.Sprintf("%s stream silent for %s, polling fallback active",
			degraded.Symbol, degraded.SilentFor),
		Severity: SeverityWarning,
		Metadata: map[string]interface{}{
			"symbol":     degraded.Symbol,
			"silent_for": degraded.SilentFor.String(),
		},
	})
}

// AgentError announces a non-recoverable agent failure.
func (n *Notifier) AgentError(agentErr *protocol.AgentError) {
	n.dispatch(Alert{
		Title:    "Agent Error",
		Message:  fmt.Sprintf("%s: %s", agentErr.Agent, agentErr.Error),
		Severity: SeverityCritical,
		Metadata: map[string]interface{}{
			"agent":   agentErr.Agent,
			"context": agentErr.Context,
		},
	})
}

// HandleOrderStatus is a bus handler that alerts on fills. It never
// returns an error; alerting must not trigger redelivery.
func (n *Notifier) HandleOrderStatus(env *protocol.Envelope) error {
	var status protocol.OrderStatusUpdate
	if err := env.DecodePayload(&status); err != nil {
		log.Warn().Err(err).Msg("Unreadable order status for alerting")
		return nil
	}
	if status.Status == protocol.OrderFilled {
		n.OrderFilled(&status)
	}
	return nil
}

// HandleDiagnostics is a bus handler for stream degradation and agent
// errors.
func (n *Notifier) HandleDiagnostics(env *protocol.Envelope) error {
	switch env.Type {
	case protocol.MessageTypeStreamDegraded:
		var degraded protocol.StreamDegraded
		if err := env.DecodePayload(&degraded); err != nil {
			return nil
		}
		n.StreamDegraded(&degraded)
	case protocol.MessageTypeAgentError:
		var agentErr protocol.AgentError
		if err := env.DecodePayload(&agentErr); err != nil {
			return nil
		}
		n.AgentError(&agentErr)
	}
	return nil
}
