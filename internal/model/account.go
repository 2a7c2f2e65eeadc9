package model

import (
	"time"

	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
)

type TradingAccount struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// Balance is withdrawable funds. Credit is a non-withdrawable,
	// loss-absorbing buffer granted by the broker.
	Balance   decimal.Decimal     `json:"balance"`
	Credit    decimal.Decimal     `json:"credit"`
	Leverage  int                 `json:"leverage"`
	TierID    string              `json:"tier_id"`
	Status    types.AccountStatus `json:"status"`
	IsDemo    bool                `json:"is_demo"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type TradeSettings struct {
	StopOutLevel         decimal.Decimal `json:"stop_out_level"`
	MarginCallLevel      decimal.Decimal `json:"margin_call_level"`
	MaxOpenTradesPerUser int             `json:"max_open_trades_per_user"`
	MaxOpenLotsPerUser   decimal.Decimal `json:"max_open_lots_per_user"`
}

func DefaultTradeSettings() TradeSettings {
	return TradeSettings{
		StopOutLevel:         decimal.NewFromInt(20),
		MarginCallLevel:      decimal.NewFromInt(60),
		MaxOpenTradesPerUser: 200,
		MaxOpenLotsPerUser:   decimal.NewFromInt(100),
	}
}
