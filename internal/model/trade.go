package model

import (
	"time"

	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
)

type Trade struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	Symbol    string            `json:"symbol"`
	Segment   string            `json:"segment"`
	Side      types.Side        `json:"side"`
	OrderType types.OrderType   `json:"order_type"`
	Status    types.TradeStatus `json:"status"`
	Qty       decimal.Decimal   `json:"qty"`
	// TriggerPrice is the armed price for limit/stop orders. It is not the
	// execution price: the trade opens at the bid/ask that crossed it.
	TriggerPrice *decimal.Decimal `json:"trigger_price,omitempty"`
	OpenPrice    decimal.Decimal  `json:"open_price"`
	ClosePrice   *decimal.Decimal `json:"close_price,omitempty"`
	StopLoss     *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal `json:"take_profit,omitempty"`
	// Margin, leverage and contract size are snapshotted when the trade
	// opens and never recomputed afterwards.
	MarginUsed   decimal.Decimal `json:"margin_used"`
	Leverage     int             `json:"leverage"`
	ContractSize decimal.Decimal `json:"contract_size"`
	Spread       decimal.Decimal `json:"spread"`
	Commission   decimal.Decimal `json:"commission"`
	Swap         decimal.Decimal `json:"swap"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	ClosedBy     types.ClosedBy  `json:"closed_by,omitempty"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (t Trade) IsOpen() bool {
	return t.Status == types.TradeStatusOpen
}

func (t Trade) IsPending() bool {
	return t.Status == types.TradeStatusPending
}

// TradingDay is the UTC day the trade was closed on, used for grouping
// commission settlement.
func (t Trade) TradingDay() string {
	if t.ClosedAt == nil {
		return ""
	}
	return t.ClosedAt.UTC().Format("2006-01-02")
}
