package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}

func (q Quote) Valid() bool {
	return q.Symbol != "" && q.Bid.GreaterThan(decimal.Zero) && q.Ask.GreaterThan(decimal.Zero)
}
