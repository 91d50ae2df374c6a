package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

type fakeStore struct {
	positions   []db.Position
	assessments []db.RiskAssessmentRecord
	decisions   []db.StrategyDecisionRecord
	lastLimit   int
	fail        bool
}

func (s *fakeStore) GetOpenPositions(_ context.Context, _ string) ([]db.Position, error) {
	if s.fail {
		return nil, errors.New("db down")
	}
	return s.positions, nil
}

func (s *fakeStore) RecentRiskAssessments(_ context.Context, limit int) ([]db.RiskAssessmentRecord, error) {
	if s.fail {
		return nil, errors.New("db down")
	}
	s.lastLimit = limit
	return s.assessments, nil
}

func (s *fakeStore) RecentStrategyDecisions(_ context.Context, limit int) ([]db.StrategyDecisionRecord, error) {
	if s.fail {
		return nil, errors.New("db down")
	}
	s.lastLimit = limit
	return s.decisions, nil
}

func testServer(store Store, hub *Hub) *Server {
	return NewServer(config.APIConfig{Host: "127.0.0.1", Port: 0}, "paper", store, hub)
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rec := doGet(t, testServer(&fakeStore{}, NewHub()), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["ws_clients"])
}

func TestPositionsEndpoint(t *testing.T) {
	store := &fakeStore{positions: []db.Position{{
		ID:            uuid.New(),
		Exchange:      "paper",
		Symbol:        "BTCUSDT",
		Side:          db.PositionSideLong,
		Status:        db.PositionStatusOpen,
		State:         protocol.PositionOpen,
		Quantity:      0.01233,
		AvgEntryPrice: 121617,
	}}}

	rec := doGet(t, testServer(store, nil), "/api/v1/positions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "BTCUSDT")
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestAssessmentsLimitParsing(t *testing.T) {
	store := &fakeStore{}
	server := testServer(store, nil)

	doGet(t, server, "/api/v1/assessments")
	assert.Equal(t, defaultListLimit, store.lastLimit)

	doGet(t, server, "/api/v1/assessments?limit=10")
	assert.Equal(t, 10, store.lastLimit)

	doGet(t, server, "/api/v1/assessments?limit=99999")
	assert.Equal(t, maxListLimit, store.lastLimit)

	doGet(t, server, "/api/v1/assessments?limit=bogus")
	assert.Equal(t, defaultListLimit, store.lastLimit)
}

func TestDecisionsEndpoint(t *testing.T) {
	store := &fakeStore{decisions: []db.StrategyDecisionRecord{{
		ID:     uuid.New(),
		Symbol: "ETHUSDT",
		Action: protocol.SignalBuy,
	}}}

	rec := doGet(t, testServer(store, nil), "/api/v1/decisions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ETHUSDT")
}

func TestQueryFailureReturns500(t *testing.T) {
	server := testServer(&fakeStore{fail: true}, nil)

	for _, path := range []string{"/api/v1/positions", "/api/v1/assessments", "/api/v1/decisions"} {
		rec := doGet(t, server, path)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
	}
}

func TestWebsocketReceivesPositionBroadcast(t *testing.T) {
	hub := NewHub()
	server := testServer(&fakeStore{}, hub)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/positions"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	update := &protocol.PositionUpdate{
		PositionID:   uuid.New(),
		Exchange:     "paper",
		Symbol:       "BTCUSDT",
		Side:         "LONG",
		State:        protocol.PositionOpen,
		Quantity:     0.01233,
		AvgEntry:     121617,
		CurrentPrice: 121700,
		Timestamp:    time.Now().UTC(),
	}
	env, err := protocol.NewEnvelope("execution-agent", protocol.MessageTypePositionUpdate, update)
	require.NoError(t, err)
	require.NoError(t, hub.HandlePositionUpdate(env))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(message), "BTCUSDT")
	assert.Contains(t, string(message), string(protocol.MessageTypePositionUpdate))
}

func TestHubDropsSlowClients(t *testing.T) {
	hub := NewHub()
	client := &wsClient{send: make(chan []byte, 1)}
	hub.clients[client] = struct{}{}

	// first message fills the buffer, second drops the client
	hub.Broadcast([]byte("one"))
	hub.Broadcast([]byte("two"))
	assert.Zero(t, hub.ClientCount())
}

func TestUnreadablePositionUpdateIsAcked(t *testing.T) {
	hub := NewHub()
	env, err := protocol.NewEnvelope("execution-agent", protocol.MessageTypePositionUpdate, &protocol.AgentError{Agent: "x", Error: "y", Timestamp: time.Now()})
	require.NoError(t, err)
	// wrong payload shape must not error into a redelivery loop
	assert.NoError(t, hub.HandlePositionUpdate(env))
}
