package agents

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

func testHeartbeat(busConn Bus, interval time.Duration) *HeartbeatPublisher {
	cfg := HeartbeatConfig{Interval: interval, Topic: protocol.TopicHeartbeat}
	return NewHeartbeatPublisher("data-agent", "collector", cfg, busConn, zerolog.Nop())
}

func TestHeartbeatPublishesImmediatelyOnStart(t *testing.T) {
	busConn := newFakeBus()
	hb := testHeartbeat(busConn, time.Hour)

	hb.Start()
	defer hb.Stop()

	require.Eventually(t, func() bool {
		return len(busConn.published(protocol.TopicHeartbeat)) == 1
	}, time.Second, time.Millisecond)

	var beat protocol.Heartbeat
	envs := busConn.published(protocol.TopicHeartbeat)
	require.NoError(t, envs[0].DecodePayload(&beat))
	assert.Equal(t, "data-agent", beat.Agent)
	assert.Equal(t, "collector", beat.AgentType)
	assert.Equal(t, "healthy", beat.Status)
	assert.True(t, hb.IsRunning())
}

func TestHeartbeatPublishesOnInterval(t *testing.T) {
	busConn := newFakeBus()
	hb := testHeartbeat(busConn, 5*time.Millisecond)

	hb.Start()
	defer hb.Stop()

	require.Eventually(t, func() bool {
		return len(busConn.published(protocol.TopicHeartbeat)) >= 3
	}, time.Second, time.Millisecond)
}

func TestHeartbeatStopHaltsPublishing(t *testing.T) {
	busConn := newFakeBus()
	hb := testHeartbeat(busConn, 5*time.Millisecond)

	hb.Start()
	require.Eventually(t, func() bool {
		return len(busConn.published(protocol.TopicHeartbeat)) >= 1
	}, time.Second, time.Millisecond)

	hb.Stop()
	require.Eventually(t, func() bool { return !hb.IsRunning() }, time.Second, time.Millisecond)

	seen := len(busConn.published(protocol.TopicHeartbeat))
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, seen, len(busConn.published(protocol.TopicHeartbeat)))
}

func TestHeartbeatCustomStatus(t *testing.T) {
	busConn := newFakeBus()
	hb := testHeartbeat(busConn, time.Hour)

	hb.PublishWithStatus("degraded")

	envs := busConn.published(protocol.TopicHeartbeat)
	require.Len(t, envs, 1)
	var beat protocol.Heartbeat
	require.NoError(t, envs[0].DecodePayload(&beat))
	assert.Equal(t, "degraded", beat.Status)
}

func TestHeartbeatWithoutBusIsInert(t *testing.T) {
	hb := NewHeartbeatPublisher("x", "y", DefaultHeartbeatConfig(), nil, zerolog.Nop())
	hb.Start()
	assert.False(t, hb.IsRunning())
	hb.PublishWithStatus("healthy")
}
