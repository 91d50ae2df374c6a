// Package bus provides durable agent-to-agent messaging over NATS JetStream.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// Config configures the message bus.
type Config struct {
	URL            string
	Name           string        // connection name shown in NATS monitoring
	PublishTimeout time.Duration // default 2s
	MaxRedeliver   int           // attempts before dead-lettering, default 5
	NakDelay       time.Duration // redelivery delay after a handler error, default 1s
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "tradepipe",
		PublishTimeout: 2 * time.Second,
		MaxRedeliver:   5,
		NakDelay:       time.Second,
	}
}

// Bus is a topic-addressed, at-least-once message bus. Messages are
// persisted in JetStream streams; consumers ack after successful handling
// and poison messages are routed to a per-topic dead-letter subject.
type Bus struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg Config
}

// streamDefs maps stream names to the subject families they capture.
// DLQ subjects live in their own stream so poison messages survive for
// operator inspection.
var streamDefs = map[string][]string{
	"MARKET":    {"market.>"},
	"SIGNALS":   {"signals.>"},
	"TRADES":    {"trade.>"},
	"ORDERS":    {"order.>"},
	"POSITIONS": {"position.>"},
	"DIAG":      {"diag.>", "dlq.>"},
}

// Handler processes a decoded envelope. A non-nil error triggers redelivery.
type Handler func(env *protocol.Envelope) error

// Connect connects to NATS, enables JetStream, and ensures the streams
// exist.
func Connect(cfg Config) (*Bus, error) {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.MaxRedeliver <= 0 {
		cfg.MaxRedeliver = 5
	}
	if cfg.NakDelay <= 0 {
		cfg.NakDelay = time.Second
	}

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	b := &Bus{nc: nc, js: js, cfg: cfg}
	if err := b.ensureStreams(); err != nil {
		nc.Close()
		return nil, err
	}

	log.Info().Str("nats_url", cfg.URL).Msg("Message bus connected")
	return b, nil
}

// ensureStreams creates any missing streams. Existing streams are left
// untouched.
func (b *Bus) ensureStreams() error {
	for name, subjects := range streamDefs {
		if _, err := b.js.StreamInfo(name); err == nil {
			continue
		}
		_, err := b.js.AddStream(&nats.StreamConfig{
			Name:      name,
			Subjects:  subjects,
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}
		log.Info().Str("stream", name).Strs("subjects", subjects).Msg("Created JetStream stream")
	}
	return nil
}

// Publish persists the envelope on the given topic. The publish is
// synchronous and bounded by the configured publish timeout.
func (b *Bus) Publish(ctx context.Context, topic string, env *protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("refusing to publish invalid envelope: %w", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	if _, err := b.js.Publish(topic, data, nats.Context(pubCtx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	log.Debug().
		Str("message_id", env.ID.String()).
		Str("source", env.SourceAgent).
		Str("topic", topic).
		Str("type", string(env.Type)).
		Msg("Published message")

	return nil
}

// Subscription is an active durable subscription.
type Subscription struct {
	sub   *nats.Subscription
	topic string
}

// Unsubscribe detaches the consumer. The durable state is preserved so a
// restarted agent resumes where it left off.
func (s *Subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", s.topic, err)
	}
	log.Info().Str("topic", s.topic).Msg("Unsubscribed")
	return nil
}

// Subscribe creates a durable queue subscription on topic. Consumers in the
// same queue group share the work. The handler is acked on success; on
// error the message is redelivered up to MaxRedeliver times, then moved to
// the topic's dead-letter subject.
func (b *Bus) Subscribe(topic, queue string, handler Handler) (*Subscription, error) {
	durable := durableName(queue, topic)

	sub, err := b.js.QueueSubscribe(topic, queue, b.wrapHandler(topic, handler),
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(b.cfg.MaxRedeliver+1),
		nats.AckWait(30*time.Second),
		nats.DeliverAll(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	log.Info().Str("topic", topic).Str("queue", queue).Str("durable", durable).Msg("Subscribed")
	return &Subscription{sub: sub, topic: topic}, nil
}

func (b *Bus) wrapHandler(topic string, handler Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var env protocol.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Dropping unparseable message")
			b.deadLetter(topic, msg.Data)
			_ = msg.Ack()
			return
		}
		if err := env.Validate(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Dropping invalid envelope")
			b.deadLetter(topic, msg.Data)
			_ = msg.Ack()
			return
		}

		if err := handler(&env); err != nil {
			b.handleFailure(topic, msg, &env, err)
			return
		}

		if err := msg.Ack(); err != nil {
			log.Error().Err(err).Str("message_id", env.ID.String()).Msg("Failed to ack message")
		}
	}
}

// handleFailure naks for redelivery, or dead-letters once the message has
// exhausted its delivery budget.
func (b *Bus) handleFailure(topic string, msg *nats.Msg, env *protocol.Envelope, handlerErr error) {
	deliveries := uint64(1)
	if meta, err := msg.Metadata(); err == nil {
		deliveries = meta.NumDelivered
	}

	if deliveries >= uint64(b.cfg.MaxRedeliver) {
		log.Error().
			Err(handlerErr).
			Str("message_id", env.ID.String()).
			Str("topic", topic).
			Uint64("deliveries", deliveries).
			Msg("Poison message, routing to dead-letter")
		b.deadLetter(topic, msg.Data)
		_ = msg.Ack()
		return
	}

	log.Warn().
		Err(handlerErr).
		Str("message_id", env.ID.String()).
		Str("topic", topic).
		Uint64("deliveries", deliveries).
		Msg("Handler error, message will be redelivered")

	if err := msg.NakWithDelay(b.cfg.NakDelay); err != nil {
		log.Error().Err(err).Str("message_id", env.ID.String()).Msg("Failed to nak message")
	}
}

func (b *Bus) deadLetter(topic string, data []byte) {
	if _, err := b.js.Publish(protocol.DeadLetterTopic(topic), data); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to publish to dead-letter")
	}
}

// Stats returns connection statistics for the health endpoint.
func (b *Bus) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	if b.nc != nil {
		stats["connected"] = b.nc.IsConnected()
		stats["status"] = b.nc.Status().String()
		stats["connected_url"] = b.nc.ConnectedUrl()
		stats["in_msgs"] = b.nc.Stats().InMsgs
		stats["out_msgs"] = b.nc.Stats().OutMsgs
		stats["reconnects"] = b.nc.Stats().Reconnects
	}
	return stats
}

// Connected reports whether the underlying NATS connection is up.
func (b *Bus) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Close drains and closes the connection.
func (b *Bus) Close() error {
	if b.nc != nil {
		b.nc.Close()
		log.Info().Msg("Message bus closed")
	}
	return nil
}

// durableName derives a valid durable consumer name from queue and topic.
// JetStream durable names may not contain dots or wildcards.
func durableName(queue, topic string) string {
	r := strings.NewReplacer(".", "-", "*", "ALL", ">", "ALL")
	return fmt.Sprintf("%s_%s", r.Replace(queue), r.Replace(topic))
}
