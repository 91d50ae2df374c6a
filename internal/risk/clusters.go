package risk

import (
	"strings"

	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

// Correlation clusters. Symbols inside a cluster move together closely
// enough that their risk is treated as shared; anything unlisted is its
// own cluster.
var correlationClusters = map[string]string{
	"BTC": "majors",
	"ETH": "majors",

	"SOL":  "layer1",
	"ADA":  "layer1",
	"AVAX": "layer1",
	"DOT":  "layer1",
	"NEAR": "layer1",
	"ATOM": "layer1",

	"UNI":  "defi",
	"AAVE": "defi",
	"LINK": "defi",
	"MKR":  "defi",

	"DOGE": "meme",
	"SHIB": "meme",
	"PEPE": "meme",
}

var quoteAssets = []string{"USDT", "USDC", "BUSD", "USD", "EUR", "BTC"}

// ClusterOf returns the correlation cluster for a symbol. Unclustered
// symbols map to their own base asset.
func ClusterOf(symbol string) string {
	base := baseAsset(protocol.NormalizeSymbol(symbol))
	if cluster, ok := correlationClusters[base]; ok {
		return cluster
	}
	return base
}

// baseAsset strips a known quote suffix from a normalized symbol.
func baseAsset(symbol string) string {
	for _, quote := range quoteAssets {
		if len(symbol) > len(quote) && strings.HasSuffix(symbol, quote) {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}

// ClusterRisk sums open risk for every symbol in the same cluster as the
// candidate symbol.
func ClusterRisk(symbol string, openRisk map[string]float64) float64 {
	cluster := ClusterOf(symbol)
	var total float64
	for openSymbol, risk := range openRisk {
		if ClusterOf(openSymbol) == cluster {
			total += risk
		}
	}
	return total
}
