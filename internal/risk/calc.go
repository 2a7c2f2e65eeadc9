package risk

import (
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SpreadAmount returns the price markup applied at execution.
func SpreadAmount(symbol string, bid, ask, value decimal.Decimal, spreadType types.SpreadType) decimal.Decimal {
	if value.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if spreadType == types.SpreadTypePercentage {
		return ask.Sub(bid).Mul(value).Div(hundred)
	}
	return value.Mul(PipSize(symbol))
}

// ExecutionPrice is the fill price after the resolved spread: buys pay above
// the ask, sells receive below the bid.
func ExecutionPrice(side types.Side, symbol string, bid, ask, spreadValue decimal.Decimal, spreadType types.SpreadType) decimal.Decimal {
	spread := SpreadAmount(symbol, bid, ask, spreadValue, spreadType)
	if side == types.SideSell {
		return bid.Sub(spread)
	}
	return ask.Add(spread)
}

// Margin is the capital reserved against a position, rounded to cents.
func Margin(qty, price decimal.Decimal, leverage int, contractSize decimal.Decimal) decimal.Decimal {
	if leverage <= 0 || qty.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return qty.Mul(contractSize).Mul(price).Div(decimal.NewFromInt(int64(leverage))).Round(2)
}

func Commission(qty, price decimal.Decimal, commissionType types.CommissionType, value, contractSize decimal.Decimal) decimal.Decimal {
	if value.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	switch commissionType {
	case types.CommissionTypePerTrade:
		return value
	case types.CommissionTypePercentage:
		return qty.Mul(contractSize).Mul(price).Mul(value).Div(hundred)
	default:
		return qty.Mul(value)
	}
}

func PnL(side types.Side, openPrice, currentPrice, qty, contractSize decimal.Decimal) decimal.Decimal {
	diff := currentPrice.Sub(openPrice)
	if side == types.SideSell {
		diff = openPrice.Sub(currentPrice)
	}
	return diff.Mul(qty).Mul(contractSize)
}

// AccountMetrics is a snapshot of an account's risk figures at one set of
// quotes.
type AccountMetrics struct {
	Balance     decimal.Decimal `json:"balance"`
	Credit      decimal.Decimal `json:"credit"`
	FloatingPnL decimal.Decimal `json:"floating_pnl"`
	Equity      decimal.Decimal `json:"equity"`
	UsedMargin  decimal.Decimal `json:"used_margin"`
	FreeMargin  decimal.Decimal `json:"free_margin"`
	// MarginLevel is 0 when no margin is in use.
	MarginLevel decimal.Decimal `json:"margin_level"`
}

func ComputeMetrics(balance, credit, floatingPnL, usedMargin decimal.Decimal) AccountMetrics {
	equity := balance.Add(credit).Add(floatingPnL)
	m := AccountMetrics{
		Balance:     balance,
		Credit:      credit,
		FloatingPnL: floatingPnL,
		Equity:      equity,
		UsedMargin:  usedMargin,
		FreeMargin:  equity.Sub(usedMargin),
	}
	if usedMargin.GreaterThan(decimal.Zero) {
		m.MarginLevel = equity.Div(usedMargin).Mul(hundred)
	}
	return m
}
