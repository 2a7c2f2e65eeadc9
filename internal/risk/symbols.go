package risk

import (
	"strings"

	"github.com/shopspring/decimal"
)

type AssetClass string

const (
	AssetClassForex  AssetClass = "forex"
	AssetClassMetal  AssetClass = "metal"
	AssetClassCrypto AssetClass = "crypto"
)

var cryptoSymbols = map[string]struct{}{
	"BTCUSD": {}, "ETHUSD": {}, "LTCUSD": {}, "XRPUSD": {},
	"BNBUSD": {}, "SOLUSD": {}, "ADAUSD": {}, "DOGEUSD": {},
}

var contractSizes = map[string]decimal.Decimal{
	"XAUUSD": decimal.NewFromInt(100),
	"XAGUSD": decimal.NewFromInt(5000),
}

const defaultForexContractSize = 100000

func ClassOf(symbol string) AssetClass {
	symbol = strings.ToUpper(symbol)
	if _, ok := cryptoSymbols[symbol]; ok {
		return AssetClassCrypto
	}
	if strings.HasSuffix(symbol, "USDT") {
		return AssetClassCrypto
	}
	if strings.HasPrefix(symbol, "XAU") || strings.HasPrefix(symbol, "XAG") {
		return AssetClassMetal
	}
	return AssetClassForex
}

func ContractSize(symbol string) decimal.Decimal {
	symbol = strings.ToUpper(symbol)
	if size, ok := contractSizes[symbol]; ok {
		return size
	}
	if ClassOf(symbol) == AssetClassCrypto {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(defaultForexContractSize)
}

// PipSize converts a spread/swap magnitude expressed in pips into price
// units. Crypto spreads are already quoted in USD, metals and JPY-quoted
// pairs use two-decimal pips, everything else four.
func PipSize(symbol string) decimal.Decimal {
	symbol = strings.ToUpper(symbol)
	switch {
	case ClassOf(symbol) == AssetClassCrypto:
		return decimal.NewFromInt(1)
	case ClassOf(symbol) == AssetClassMetal, strings.HasSuffix(symbol, "JPY"):
		return decimal.NewFromFloat(0.01)
	default:
		return decimal.NewFromFloat(0.0001)
	}
}
