package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

type fakeSub struct {
	unsubscribed bool
}

func (s *fakeSub) Unsubscribe() error {
	s.unsubscribed = true
	return nil
}

type fakeBus struct {
	mu       sync.Mutex
	topics   []string
	envs     []*protocol.Envelope
	subs     map[string]*fakeSub
	handlers map[string]func(env *protocol.Envelope) error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		subs:     make(map[string]*fakeSub),
		handlers: make(map[string]func(env *protocol.Envelope) error),
	}
}

func (b *fakeBus) Publish(_ context.Context, topic string, env *protocol.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.envs = append(b.envs, env)
	return nil
}

func (b *fakeBus) Subscribe(topic, _ string, handler func(env *protocol.Envelope) error) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &fakeSub{}
	b.subs[topic] = sub
	b.handlers[topic] = handler
	return sub, nil
}

func (b *fakeBus) deliver(topic string, env *protocol.Envelope) error {
	b.mu.Lock()
	handler := b.handlers[topic]
	b.mu.Unlock()
	return handler(env)
}

func (b *fakeBus) published(topic string) []*protocol.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*protocol.Envelope
	for i, t := range b.topics {
		if t == topic {
			out = append(out, b.envs[i])
		}
	}
	return out
}

func testAgent(t *testing.T, name string, busConn Bus) *BaseAgent {
	t.Helper()
	cfg := &AgentConfig{Name: name, Type: "test", Version: "0.1.0", StepInterval: time.Hour, Enabled: true}
	return NewBaseAgent(cfg, zerolog.Nop(), busConn, 0)
}

func TestInitializeSubscribesRegisteredTopics(t *testing.T) {
	busConn := newFakeBus()
	agent := testAgent(t, "sub_agent", busConn)

	agent.HandleTopic(protocol.TopicSignals, "q", func(*protocol.Envelope) error { return nil })
	agent.HandleTopic(protocol.TopicTradeIntent, "q", func(*protocol.Envelope) error { return nil })

	require.NoError(t, agent.Initialize(context.Background()))
	defer agent.Shutdown(context.Background())

	assert.Contains(t, busConn.handlers, protocol.TopicSignals)
	assert.Contains(t, busConn.handlers, protocol.TopicTradeIntent)
}

func TestHandlerErrorReportsDiagnosticsAndPropagates(t *testing.T) {
	busConn := newFakeBus()
	agent := testAgent(t, "err_agent", busConn)

	boom := errors.New("downstream unavailable")
	agent.HandleTopic(protocol.TopicSignals, "q", func(*protocol.Envelope) error { return boom })
	require.NoError(t, agent.Initialize(context.Background()))
	defer agent.Shutdown(context.Background())

	env, err := protocol.NewEnvelope("test", protocol.MessageTypeSignal, &protocol.AgentError{Agent: "x", Error: "y", Timestamp: time.Now()})
	require.NoError(t, err)

	// the error must reach the bus so the message is redelivered
	require.ErrorIs(t, busConn.deliver(protocol.TopicSignals, env), boom)

	diags := busConn.published(protocol.TopicDiagnostics)
	require.Len(t, diags, 1)
	var report protocol.AgentError
	require.NoError(t, diags[0].DecodePayload(&report))
	assert.Equal(t, "err_agent", report.Agent)
	assert.Contains(t, report.Error, "downstream unavailable")
}

func TestDiagnosticsHandlerErrorDoesNotSelfReport(t *testing.T) {
	busConn := newFakeBus()
	agent := testAgent(t, "diag_agent", busConn)

	agent.HandleTopic(protocol.TopicDiagnostics, "q", func(*protocol.Envelope) error {
		return errors.New("diag handler broken")
	})
	require.NoError(t, agent.Initialize(context.Background()))
	defer agent.Shutdown(context.Background())

	env, err := protocol.NewEnvelope("test", protocol.MessageTypeAgentError, &protocol.AgentError{Agent: "x", Error: "y", Timestamp: time.Now()})
	require.NoError(t, err)

	require.Error(t, busConn.deliver(protocol.TopicDiagnostics, env))
	assert.Empty(t, busConn.published(protocol.TopicDiagnostics))
}

func TestPeriodicJobSkipsOverlappingTicks(t *testing.T) {
	busConn := newFakeBus()
	agent := testAgent(t, "slow_agent", busConn)
	require.NoError(t, agent.Initialize(context.Background()))
	defer agent.Shutdown(context.Background())

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	agent.SetPeriodicJob(5*time.Millisecond, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- agent.Run(ctx) }()

	<-started
	// let several ticks fire while the first step is still blocked
	assert.Eventually(t, func() bool {
		return agent.SkippedSteps() >= 2
	}, time.Second, time.Millisecond)
	assert.Zero(t, agent.Steps())

	close(release)
	assert.Eventually(t, func() bool {
		return agent.Steps() >= 1
	}, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-runDone, context.Canceled)
}

func TestRunRestartsPanickingStepBounded(t *testing.T) {
	busConn := newFakeBus()
	agent := testAgent(t, "panic_agent", busConn)
	require.NoError(t, agent.Initialize(context.Background()))
	defer agent.Shutdown(context.Background())

	agent.restartBackoff = time.Millisecond
	agent.SetPeriodicJob(time.Millisecond, func(ctx context.Context) error {
		panic("invariant violated")
	})

	err := agent.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 restarts")
	assert.Contains(t, err.Error(), "invariant violated")

	// the terminal crash is reported on diagnostics
	assert.NotEmpty(t, busConn.published(protocol.TopicDiagnostics))
}

func TestShutdownUnsubscribesAndDrains(t *testing.T) {
	busConn := newFakeBus()
	agent := testAgent(t, "drain_agent", busConn)

	inHandler := make(chan struct{})
	release := make(chan struct{})
	agent.HandleTopic(protocol.TopicSignals, "q", func(*protocol.Envelope) error {
		close(inHandler)
		<-release
		return nil
	})
	require.NoError(t, agent.Initialize(context.Background()))

	env, err := protocol.NewEnvelope("test", protocol.MessageTypeSignal, &protocol.AgentError{Agent: "x", Error: "y", Timestamp: time.Now()})
	require.NoError(t, err)
	go busConn.deliver(protocol.TopicSignals, env)
	<-inHandler

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- agent.Shutdown(context.Background()) }()

	// shutdown waits for the in-flight handler
	select {
	case <-shutdownDone:
		t.Fatal("shutdown returned before handler drained")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-shutdownDone)
	assert.True(t, busConn.subs[protocol.TopicSignals].unsubscribed)
}

func TestAgentIdentity(t *testing.T) {
	agent := testAgent(t, "id_agent", newFakeBus())
	assert.Equal(t, "id_agent", agent.Name())
	assert.Equal(t, "test", agent.Type())
	assert.Equal(t, "0.1.0", agent.Version())
}
