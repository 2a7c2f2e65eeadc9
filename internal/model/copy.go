package model

import (
	"time"

	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
)

// CopyFollower links a follower account to a lead trader's account.
type CopyFollower struct {
	ID              string           `json:"id"`
	MasterAccountID string           `json:"master_account_id"`
	AccountID       string           `json:"account_id"`
	Mode            types.CopyMode   `json:"mode"`
	CopyValue       decimal.Decimal  `json:"copy_value"`
	Multiplier      decimal.Decimal  `json:"multiplier"`
	MaxLotSize      decimal.Decimal  `json:"max_lot_size"`
	Status          types.CopyStatus `json:"status"`
	TotalProfit     decimal.Decimal  `json:"total_profit"`
	TotalLoss       decimal.Decimal  `json:"total_loss"`
	ActiveTrades    int              `json:"active_trades"`
	CopiedTrades    int              `json:"copied_trades"`
	CreatedAt       time.Time        `json:"created_at"`
}

// CopyTrade records one replication of a master trade to one follower.
// At most one exists per (master trade, follower).
type CopyTrade struct {
	ID            string                `json:"id"`
	MasterTradeID string                `json:"master_trade_id"`
	FollowerID    string                `json:"follower_id"`
	AccountID     string                `json:"account_id"`
	TradeID       string                `json:"trade_id,omitempty"`
	MasterAccount string                `json:"master_account_id"`
	Symbol        string                `json:"symbol"`
	Side          types.Side            `json:"side"`
	Mode          types.CopyMode        `json:"mode"`
	MasterLot     decimal.Decimal       `json:"master_lot"`
	Lot           decimal.Decimal       `json:"lot"`
	OpenPrice     decimal.Decimal       `json:"open_price"`
	ClosePrice    *decimal.Decimal      `json:"close_price,omitempty"`
	PnL           decimal.Decimal       `json:"pnl"`
	Status        types.CopyTradeStatus `json:"status"`
	FailReason    string                `json:"fail_reason,omitempty"`
	// CommissionApplied guards exactly-once daily settlement.
	CommissionApplied bool       `json:"commission_applied"`
	OpenedAt          time.Time  `json:"opened_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

func (c CopyTrade) TradingDay() string {
	if c.ClosedAt == nil {
		return ""
	}
	return c.ClosedAt.UTC().Format("2006-01-02")
}

// CopyCommission is one settled (lead trader, follower, trading day) group.
type CopyCommission struct {
	ID              string                 `json:"id"`
	MasterAccountID string                 `json:"master_account_id"`
	FollowerID      string                 `json:"follower_id"`
	TradingDay      string                 `json:"trading_day"`
	DailyProfit     decimal.Decimal        `json:"daily_profit"`
	Amount          decimal.Decimal        `json:"amount"`
	MasterShare     decimal.Decimal        `json:"master_share"`
	AdminShare      decimal.Decimal        `json:"admin_share"`
	Status          types.CommissionStatus `json:"status"`
	FailReason      string                 `json:"fail_reason,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// MasterProfile holds a lead trader's commission terms and the accumulator
// their share is credited to before payout.
type MasterProfile struct {
	AccountID         string          `json:"account_id"`
	CommissionPct     decimal.Decimal `json:"commission_pct"`
	MasterSharePct    decimal.Decimal `json:"master_share_pct"`
	PendingCommission decimal.Decimal `json:"pending_commission"`
}
