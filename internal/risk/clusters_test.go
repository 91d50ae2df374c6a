package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClusterOf(t *testing.T) {
	assert.Equal(t, "majors", ClusterOf("BTCUSDT"))
	assert.Equal(t, "majors", ClusterOf("eth/usdt"))
	assert.Equal(t, "layer1", ClusterOf("SOLUSDT"))
	assert.Equal(t, "defi", ClusterOf("AAVEUSDC"))
	assert.Equal(t, "meme", ClusterOf("DOGEUSDT"))

	// unlisted assets are their own cluster
	assert.Equal(t, "XRP", ClusterOf("XRPUSDT"))
}

func TestClusterRiskSumsOnlySameCluster(t *testing.T) {
	open := map[string]float64{
		"ETHUSDT": 300,
		"BTCUSDT": 200,
		"SOLUSDT": 400,
		"XRPUSDT": 100,
	}

	assert.InDelta(t, 500, ClusterRisk("BTCUSDT", open), 1e-9)
	assert.InDelta(t, 400, ClusterRisk("ADAUSDT", open), 1e-9)
	assert.InDelta(t, 0, ClusterRisk("LINKUSDT", open), 1e-9)
}
