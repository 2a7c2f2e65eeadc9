package feed

import (
	"github.com/shopspring/decimal"

	"lv-margincore/internal/model"
)

// staticQuotes is the last-resort price table consulted when neither the
// websocket stream nor the polling fallback has delivered anything for a
// symbol. Values are indicative only and flagged by a zero timestamp.
var staticQuotes = map[string]model.Quote{
	"EURUSD": {Symbol: "EURUSD", Bid: decimal.NewFromFloat(1.08500), Ask: decimal.NewFromFloat(1.08520)},
	"GBPUSD": {Symbol: "GBPUSD", Bid: decimal.NewFromFloat(1.27000), Ask: decimal.NewFromFloat(1.27030)},
	"USDJPY": {Symbol: "USDJPY", Bid: decimal.NewFromFloat(150.100), Ask: decimal.NewFromFloat(150.130)},
	"XAUUSD": {Symbol: "XAUUSD", Bid: decimal.NewFromFloat(2300.00), Ask: decimal.NewFromFloat(2300.50)},
	"XAGUSD": {Symbol: "XAGUSD", Bid: decimal.NewFromFloat(27.50), Ask: decimal.NewFromFloat(27.55)},
	"BTCUSD": {Symbol: "BTCUSD", Bid: decimal.NewFromFloat(60000), Ask: decimal.NewFromFloat(60020)},
	"ETHUSD": {Symbol: "ETHUSD", Bid: decimal.NewFromFloat(3000), Ask: decimal.NewFromFloat(3002)},
}

// SeedStatic loads the static table into the cache so a process without any
// live source still prices trades. Live quotes overwrite the seeds.
func SeedStatic(cache Cache) {
	for _, q := range staticQuotes {
		cache.SetLatest(q)
	}
}

// FetchBatch returns the best available quote per requested symbol: cache
// first, static table second. Symbols with no source at all are omitted.
func FetchBatch(cache Cache, symbols []string) map[string]model.Quote {
	out := make(map[string]model.Quote, len(symbols))
	for _, sym := range symbols {
		if q, ok := cache.GetLatest(sym); ok {
			out[sym] = q
			continue
		}
		if q, ok := staticQuotes[sym]; ok {
			out[sym] = q
		}
	}
	return out
}
