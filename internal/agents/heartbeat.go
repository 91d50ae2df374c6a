package agents

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// HeartbeatConfig holds configuration for heartbeat publishing.
type HeartbeatConfig struct {
	Interval time.Duration
	Topic    string
}

// DefaultHeartbeatConfig returns the default heartbeat configuration.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Topic:    protocol.TopicHeartbeat,
	}
}

// HeartbeatPublisher periodically publishes a liveness beacon for an agent.
type HeartbeatPublisher struct {
	busConn   Bus
	config    HeartbeatConfig
	agentName string
	agentType string
	log       zerolog.Logger
	stopChan  chan struct{}
	running   atomic.Bool
}

// NewHeartbeatPublisher creates a heartbeat publisher.
func NewHeartbeatPublisher(agentName, agentType string, config HeartbeatConfig, busConn Bus, log zerolog.Logger) *HeartbeatPublisher {
	return &HeartbeatPublisher{
		busConn:   busConn,
		config:    config,
		agentName: agentName,
		agentType: agentType,
		log:       log.With().Str("component", "heartbeat").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// Start begins publishing at the configured interval. The first beacon
// goes out immediately.
func (h *HeartbeatPublisher) Start() {
	if h.busConn == nil {
		h.log.Warn().Msg("Cannot start heartbeat publisher: no bus")
		return
	}
	if !h.running.CompareAndSwap(false, true) {
		h.log.Warn().Msg("Heartbeat publisher already running")
		return
	}

	ticker := time.NewTicker(h.config.Interval)

	go func() {
		h.publish("healthy")

		for {
			select {
			case <-ticker.C:
				h.publish("healthy")
			case <-h.stopChan:
				ticker.Stop()
				h.running.Store(false)
				h.log.Info().Str("topic", h.config.Topic).Msg("Heartbeat publishing stopped")
				return
			}
		}
	}()

	h.log.Info().
		Str("topic", h.config.Topic).
		Dur("interval", h.config.Interval).
		Msg("Heartbeat publishing started")
}

func (h *HeartbeatPublisher) publish(status string) {
	beat := &protocol.Heartbeat{
		Agent:     h.agentName,
		AgentType: h.agentType,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	env, err := protocol.NewEnvelope(h.agentName, protocol.MessageTypeHeartbeat, beat)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build heartbeat envelope")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.busConn.Publish(ctx, h.config.Topic, env); err != nil {
		h.log.Warn().Err(err).Msg("Heartbeat publish failed")
		return
	}
	h.log.Debug().Str("topic", h.config.Topic).Str("status", status).Msg("Heartbeat published")
}

// Stop stops the heartbeat publisher.
func (h *HeartbeatPublisher) Stop() {
	if !h.running.Load() {
		return
	}
	close(h.stopChan)
}

// IsRunning reports whether the publisher is active.
func (h *HeartbeatPublisher) IsRunning() bool {
	return h.running.Load()
}

// PublishWithStatus publishes one beacon with a custom status.
func (h *HeartbeatPublisher) PublishWithStatus(status string) {
	if h.busConn == nil {
		return
	}
	h.publish(status)
}
