package technical

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

type signalStore struct {
	mu      sync.Mutex
	records []*db.SignalRecord
	fail    bool
}

func (s *signalStore) InsertSignal(_ context.Context, r *db.SignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("insert signal: connection reset")
	}
	cp := *r
	s.records = append(s.records, &cp)
	return nil
}

func (s *signalStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type signalPub struct {
	mu   sync.Mutex
	envs []*protocol.Envelope
}

func (p *signalPub) Publish(_ context.Context, topic string, env *protocol.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic != protocol.TopicSignals {
		return fmt.Errorf("unexpected topic %s", topic)
	}
	p.envs = append(p.envs, env)
	return nil
}

func (p *signalPub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envs)
}

func testService(store Store, pub Publisher) *Service {
	return NewService(config.TechnicalConfig{WindowSize: 200, MinWindow: 50}, store, pub)
}

func feedCandles(t *testing.T, svc *Service, closes []float64) {
	t.Helper()
	for i, c := range closes {
		err := svc.Ingest(context.Background(), &protocol.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: "1m",
			OpenTime:  windowStart.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    100,
		})
		require.NoError(t, err)
	}
}

func TestIngestColdStartPublishesNothing(t *testing.T) {
	store := &signalStore{}
	pub := &signalPub{}
	svc := testService(store, pub)

	feedCandles(t, svc, downtrend(30, 50000, 100))

	assert.Zero(t, store.count())
	assert.Zero(t, pub.count())
}

func TestIngestPersistsThenPublishesSignals(t *testing.T) {
	store := &signalStore{}
	pub := &signalPub{}
	svc := testService(store, pub)

	feedCandles(t, svc, downtrend(60, 50000, 100))

	require.Greater(t, store.count(), 0)
	assert.Equal(t, store.count(), pub.count())

	var sig protocol.Signal
	pub.mu.Lock()
	env := pub.envs[len(pub.envs)-1]
	pub.mu.Unlock()
	require.NoError(t, env.DecodePayload(&sig))
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, protocol.SignalBuy, sig.Kind)
	assert.NotEmpty(t, sig.Indicators)
}

func TestIngestStoreFailureBlocksPublish(t *testing.T) {
	store := &signalStore{fail: true}
	pub := &signalPub{}
	svc := testService(store, pub)

	closes := downtrend(60, 50000, 100)
	for i, c := range closes {
		err := svc.Ingest(context.Background(), &protocol.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: "1m",
			OpenTime:  windowStart.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    100,
		})
		if err != nil {
			assert.Zero(t, pub.count())
			return
		}
	}
	t.Fatal("expected a store failure once signals fired")
}

func TestIngestDropsOutOfOrderCandle(t *testing.T) {
	store := &signalStore{}
	pub := &signalPub{}
	svc := testService(store, pub)

	feedCandles(t, svc, downtrend(60, 50000, 100))
	seen := pub.count()

	// stale candle must not re-trigger evaluation
	require.NoError(t, svc.Ingest(context.Background(), &protocol.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		OpenTime:  windowStart,
		Open:      50000,
		High:      50001,
		Low:       49999,
		Close:     50000,
		Volume:    100,
	}))
	assert.Equal(t, seen, pub.count())
}

func TestHandleCandleDecodesEnvelope(t *testing.T) {
	store := &signalStore{}
	pub := &signalPub{}
	svc := testService(store, pub)

	candle := &protocol.Candle{
		Symbol:    "BTC/USDT",
		Timeframe: "1m",
		OpenTime:  windowStart,
		Open:      50000,
		High:      50050,
		Low:       49950,
		Close:     50000,
		Volume:    100,
	}
	env, err := protocol.NewEnvelope("data-agent", protocol.MessageTypeCandle, candle)
	require.NoError(t, err)
	require.NoError(t, svc.HandleCandle(env))

	assert.NotNil(t, svc.Window("BTCUSDT", "1m"))
	assert.Equal(t, 1, svc.Window("BTCUSDT", "1m").Len())
}

func TestWindowsAreIndependentPerSymbol(t *testing.T) {
	svc := testService(&signalStore{}, &signalPub{})

	require.NoError(t, svc.Ingest(context.Background(), &protocol.Candle{
		Symbol: "BTCUSDT", Timeframe: "1m", OpenTime: windowStart,
		Open: 1, High: 1, Low: 1, Close: 1, Volume: 1,
	}))
	require.NoError(t, svc.Ingest(context.Background(), &protocol.Candle{
		Symbol: "ETHUSDT", Timeframe: "1m", OpenTime: windowStart,
		Open: 1, High: 1, Low: 1, Close: 1, Volume: 1,
	}))

	assert.Equal(t, 1, svc.Window("BTCUSDT", "1m").Len())
	assert.Equal(t, 1, svc.Window("ETHUSDT", "1m").Len())
	assert.Nil(t, svc.Window("SOLUSDT", "1m"))
}
