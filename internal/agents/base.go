// Package agents provides the base runtime shared by every pipeline agent:
// bus subscriptions, one optional periodic job with non-overlapping ticks,
// heartbeats, per-agent metrics, and graceful drain on shutdown.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradepipe/internal/bus"
	"github.com/ajitpratap0/tradepipe/internal/metrics"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

const (
	// drainTimeout caps how long Shutdown waits for in-flight handlers.
	drainTimeout = 30 * time.Second

	// defaultMaxRestarts bounds crash-loop restarts of the periodic job.
	defaultMaxRestarts = 3

	defaultRestartBackoff = time.Second
	defaultStepInterval   = 60 * time.Second

	publishTimeout = 2 * time.Second
)

// AgentConfig holds the identity and cadence of an agent.
type AgentConfig struct {
	Name         string        `json:"name" yaml:"name"`
	Type         string        `json:"type" yaml:"type"`
	Version      string        `json:"version" yaml:"version"`
	StepInterval time.Duration `json:"step_interval" yaml:"step_interval"`
	Enabled      bool          `json:"enabled" yaml:"enabled"`
}

// Handler processes one decoded envelope. A non-nil error triggers bus
// redelivery.
type Handler func(env *protocol.Envelope) error

// Subscription is an active bus subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the slice of the message bus the agent runtime needs.
type Bus interface {
	Publish(ctx context.Context, topic string, env *protocol.Envelope) error
	Subscribe(topic, queue string, handler func(env *protocol.Envelope) error) (Subscription, error)
}

// JetStream adapts *bus.Bus to the Bus interface.
func JetStream(b *bus.Bus) Bus {
	return jsBus{b: b}
}

type jsBus struct {
	b *bus.Bus
}

func (j jsBus) Publish(ctx context.Context, topic string, env *protocol.Envelope) error {
	return j.b.Publish(ctx, topic, env)
}

func (j jsBus) Subscribe(topic, queue string, handler func(env *protocol.Envelope) error) (Subscription, error) {
	return j.b.Subscribe(topic, queue, handler)
}

// AgentMetrics holds the per-agent Prometheus instruments.
type AgentMetrics struct {
	StepsTotal    prometheus.Counter
	StepsSkipped  prometheus.Counter
	StepDuration  prometheus.Histogram
	HandlerErrors prometheus.Counter
	Restarts      prometheus.Counter
	AgentStatus   prometheus.Gauge
}

func newAgentMetrics(name string) *AgentMetrics {
	// Prometheus metric names cannot contain hyphens.
	safe := strings.ReplaceAll(name, "-", "_")
	return &AgentMetrics{
		StepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("agent_%s_steps_total", safe),
			Help: fmt.Sprintf("Completed periodic steps for agent %s", name),
		}),
		StepsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("agent_%s_steps_skipped_total", safe),
			Help: fmt.Sprintf("Ticks skipped because the previous step still ran for agent %s", name),
		}),
		StepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("agent_%s_step_duration_seconds", safe),
			Help:    fmt.Sprintf("Periodic step duration for agent %s", name),
			Buckets: prometheus.DefBuckets,
		}),
		HandlerErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("agent_%s_handler_errors_total", safe),
			Help: fmt.Sprintf("Bus handler errors for agent %s", name),
		}),
		Restarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("agent_%s_restarts_total", safe),
			Help: fmt.Sprintf("Crash-loop restarts of the run task for agent %s", name),
		}),
		AgentStatus: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("agent_%s_status", safe),
			Help: fmt.Sprintf("Status of agent %s (1=running, 0=stopped)", name),
		}),
	}
}

type registration struct {
	topic   string
	queue   string
	handler Handler
}

// BaseAgent wires subscriptions, the periodic job, heartbeats, and metrics
// for a single agent process. Register topics and the job before
// Initialize; Run blocks until the context is done.
type BaseAgent struct {
	name      string
	agentType string
	version   string
	config    *AgentConfig

	busConn Bus

	registered []registration
	active     []Subscription

	stepInterval   time.Duration
	job            func(ctx context.Context) error
	stepBusy       atomic.Bool
	maxRestarts    int
	restartBackoff time.Duration

	stepsDone    atomic.Int64
	stepsSkipped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log zerolog.Logger

	metrics       *AgentMetrics
	metricsServer *metrics.Server
	heartbeat     *HeartbeatPublisher
}

// NewBaseAgent builds an agent runtime. A metricsPort of 0 disables the
// metrics endpoint.
func NewBaseAgent(config *AgentConfig, logger zerolog.Logger, busConn Bus, metricsPort int) *BaseAgent {
	agentLog := logger.With().Str("agent", config.Name).Str("type", config.Type).Logger()

	interval := config.StepInterval
	if interval <= 0 {
		interval = defaultStepInterval
	}

	var metricsServer *metrics.Server
	if metricsPort > 0 {
		metricsServer = metrics.NewServer(metricsPort, agentLog)
	}

	return &BaseAgent{
		name:           config.Name,
		agentType:      config.Type,
		version:        config.Version,
		config:         config,
		busConn:        busConn,
		stepInterval:   interval,
		maxRestarts:    defaultMaxRestarts,
		restartBackoff: defaultRestartBackoff,
		log:            agentLog,
		metrics:        newAgentMetrics(config.Name),
		metricsServer:  metricsServer,
		heartbeat:      NewHeartbeatPublisher(config.Name, config.Type, DefaultHeartbeatConfig(), busConn, agentLog),
	}
}

// HandleTopic registers a bus subscription. Must be called before
// Initialize.
func (a *BaseAgent) HandleTopic(topic, queue string, handler Handler) {
	a.registered = append(a.registered, registration{topic: topic, queue: queue, handler: handler})
}

// SetPeriodicJob installs the agent's periodic job. At most one job is
// supported; a zero interval keeps the configured step interval.
func (a *BaseAgent) SetPeriodicJob(interval time.Duration, job func(ctx context.Context) error) {
	if interval > 0 {
		a.stepInterval = interval
	}
	a.job = job
}

// Initialize subscribes all registered topics, starts the metrics server,
// and begins heartbeating.
func (a *BaseAgent) Initialize(ctx context.Context) error {
	a.log.Info().Int("subscriptions", len(a.registered)).Msg("Initializing agent")

	a.ctx, a.cancel = context.WithCancel(ctx)

	for _, reg := range a.registered {
		sub, err := a.busConn.Subscribe(reg.topic, reg.queue, a.wrapHandler(reg.topic, reg.handler))
		if err != nil {
			a.teardownSubscriptions()
			return fmt.Errorf("subscribe %s: %w", reg.topic, err)
		}
		a.active = append(a.active, sub)
		a.log.Debug().Str("topic", reg.topic).Str("queue", reg.queue).Msg("Subscribed")
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			// the agent keeps running without its metrics endpoint
			a.log.Error().Err(err).Msg("Failed to start metrics server")
		}
	}

	a.heartbeat.Start()
	a.metrics.AgentStatus.Set(1)
	a.log.Info().Msg("Agent initialized")
	return nil
}

// wrapHandler tracks in-flight handlers for shutdown draining and reports
// failures on the diagnostics topic before handing the error back to the
// bus for redelivery.
func (a *BaseAgent) wrapHandler(topic string, handler Handler) func(env *protocol.Envelope) error {
	return func(env *protocol.Envelope) error {
		a.wg.Add(1)
		defer a.wg.Done()

		err := handler(env)
		if err != nil {
			a.metrics.HandlerErrors.Inc()
			a.log.Error().Err(err).Str("topic", topic).Str("msg_type", string(env.Type)).Msg("Handler failed")
			if topic != protocol.TopicDiagnostics {
				a.reportError(err, topic)
			}
		}
		return err
	}
}

// reportError publishes an AgentError on the diagnostics topic,
// best effort.
func (a *BaseAgent) reportError(cause error, where string) {
	diag := &protocol.AgentError{
		Agent:     a.name,
		Error:     cause.Error(),
		Context:   where,
		Timestamp: time.Now().UTC(),
	}
	env, err := protocol.NewEnvelope(a.name, protocol.MessageTypeAgentError, diag)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to build agent error envelope")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := a.busConn.Publish(ctx, protocol.TopicDiagnostics, env); err != nil {
		a.log.Warn().Err(err).Msg("Agent error publish failed")
	}
}

// Run drives the periodic job until the context is done. A panicking step
// restarts the loop up to maxRestarts times before giving up. Agents
// without a periodic job just block here.
func (a *BaseAgent) Run(ctx context.Context) error {
	if a.job == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	a.log.Info().Dur("interval", a.stepInterval).Msg("Agent run loop started")

	restarts := 0
	for {
		err := a.runLoop(ctx)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		restarts++
		a.metrics.Restarts.Inc()
		if restarts > a.maxRestarts {
			a.log.Error().Err(err).Int("restarts", restarts-1).Msg("Run loop crash limit reached")
			a.reportError(err, "run_loop")
			return fmt.Errorf("run loop gave up after %d restarts: %w", restarts-1, err)
		}

		a.log.Error().Err(err).Int("restart", restarts).Msg("Run loop crashed, restarting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.restartBackoff):
		}
	}
}

func (a *BaseAgent) runLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.stepInterval)
	defer ticker.Stop()

	// step panics surface here so Run can count the crash and restart
	panicked := make(chan error, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.ctx.Done():
			return a.ctx.Err()
		case err := <-panicked:
			return err
		case <-ticker.C:
			a.startStep(ctx, panicked)
		}
	}
}

// startStep launches one tick of the periodic job. A tick that arrives
// while the previous one still runs is skipped and counted.
func (a *BaseAgent) startStep(ctx context.Context, panicked chan<- error) {
	if !a.stepBusy.CompareAndSwap(false, true) {
		a.stepsSkipped.Add(1)
		a.metrics.StepsSkipped.Inc()
		a.log.Warn().Msg("Previous step still running, skipping tick")
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.stepBusy.Store(false)
		defer func() {
			if r := recover(); r != nil {
				select {
				case panicked <- fmt.Errorf("step panic: %v", r):
				default:
				}
			}
		}()

		start := time.Now()
		if err := a.job(ctx); err != nil {
			a.log.Error().Err(err).Msg("Step failed")
		}
		a.metrics.StepDuration.Observe(time.Since(start).Seconds())
		a.metrics.StepsTotal.Inc()
		a.stepsDone.Add(1)
	}()
}

// Shutdown unsubscribes, stops heartbeating, and drains in-flight handlers
// for up to drainTimeout before force-cancelling.
func (a *BaseAgent) Shutdown(ctx context.Context) error {
	a.log.Info().Msg("Shutting down agent")

	if a.cancel != nil {
		a.cancel()
	}

	a.teardownSubscriptions()
	a.heartbeat.Stop()

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var drainErr error
	select {
	case <-done:
		a.log.Info().Msg("In-flight handlers drained")
	case <-drainCtx.Done():
		a.log.Warn().Msg("Drain timeout, abandoning in-flight handlers")
		drainErr = drainCtx.Err()
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.log.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	a.metrics.AgentStatus.Set(0)
	a.log.Info().Msg("Agent shutdown complete")
	return drainErr
}

func (a *BaseAgent) teardownSubscriptions() {
	for _, sub := range a.active {
		if err := sub.Unsubscribe(); err != nil {
			a.log.Error().Err(err).Msg("Unsubscribe failed")
		}
	}
	a.active = nil
}

// Name returns the agent's name.
func (a *BaseAgent) Name() string { return a.name }

// Type returns the agent's type.
func (a *BaseAgent) Type() string { return a.agentType }

// Version returns the agent's version.
func (a *BaseAgent) Version() string { return a.version }

// Steps reports completed periodic steps.
func (a *BaseAgent) Steps() int64 { return a.stepsDone.Load() }

// SkippedSteps reports ticks dropped because a step was still running.
func (a *BaseAgent) SkippedSteps() int64 { return a.stepsSkipped.Load() }
