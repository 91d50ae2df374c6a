package strategy

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

func TestBufferPrunesByAge(t *testing.T) {
	b := NewSignalBuffer(5*time.Minute, 50)

	b.Add(bufferedSignal("technical.rsi", protocol.SignalBuy, 0.8, 3000, 6*time.Minute), decideNow)
	b.Add(bufferedSignal("technical.macd", protocol.SignalBuy, 0.7, 3000, time.Minute), decideNow)

	live := b.Snapshot("ETHUSDT", decideNow)
	assert.Len(t, live, 1, "signals older than the timeout are evicted")
	assert.Equal(t, "technical.macd", live[0].Source)
}

func TestBufferCapsSize(t *testing.T) {
	b := NewSignalBuffer(5*time.Minute, 3)

	for i := 0; i < 5; i++ {
		sig := bufferedSignal(fmt.Sprintf("technical.s%d", i), protocol.SignalBuy, 0.8, 3000, 0)
		b.Add(sig, decideNow)
	}

	live := b.Snapshot("ETHUSDT", decideNow)
	assert.Len(t, live, 3)
	assert.Equal(t, "technical.s2", live[0].Source, "oldest entries drop first")
}

func TestBufferNormalizesSymbols(t *testing.T) {
	b := NewSignalBuffer(0, 0)

	sig := bufferedSignal("technical.rsi", protocol.SignalBuy, 0.8, 3000, 0)
	sig.Symbol = "eth/usdt"
	b.Add(sig, decideNow)

	assert.Equal(t, 1, b.Len("ETHUSDT"))
	assert.Equal(t, []string{"ETHUSDT"}, b.Symbols())
}

func TestBufferSnapshotIsACopy(t *testing.T) {
	b := NewSignalBuffer(0, 0)
	b.Add(bufferedSignal("technical.rsi", protocol.SignalBuy, 0.8, 3000, 0), decideNow)

	snap := b.Snapshot("ETHUSDT", decideNow)
	snap[0].Confidence = 0.1

	again := b.Snapshot("ETHUSDT", decideNow)
	assert.Equal(t, 0.8, again[0].Confidence)
}
