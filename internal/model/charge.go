package model

import (
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
)

// ChargeRule is one row of the layered fee schedule. Scoping keys are only
// meaningful for their level: UserID for USER rules, Symbol for USER and
// INSTRUMENT rules, TierID for ACCOUNT_TYPE rules, Segment for SEGMENT rules.
type ChargeRule struct {
	ID                string               `json:"id"`
	Level             types.ChargeLevel    `json:"level"`
	UserID            string               `json:"user_id,omitempty"`
	Symbol            string               `json:"symbol,omitempty"`
	Segment           string               `json:"segment,omitempty"`
	TierID            string               `json:"tier_id,omitempty"`
	SpreadType        types.SpreadType     `json:"spread_type"`
	SpreadValue       decimal.Decimal      `json:"spread_value"`
	CommissionType    types.CommissionType `json:"commission_type"`
	CommissionValue   decimal.Decimal      `json:"commission_value"`
	CommissionOnBuy   bool                 `json:"commission_on_buy"`
	CommissionOnSell  bool                 `json:"commission_on_sell"`
	CommissionOnClose bool                 `json:"commission_on_close"`
	SwapLong          decimal.Decimal      `json:"swap_long"`
	SwapShort         decimal.Decimal      `json:"swap_short"`
	SwapType          types.SwapType       `json:"swap_type"`
	IsActive          bool                 `json:"is_active"`
}
