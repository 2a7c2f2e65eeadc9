package charges

import (
	"context"
	"fmt"

	"lv-margincore/internal/model"
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
)

// RuleStore supplies the active charge rules. Rules are read-mostly; an
// in-flight trade may observe a just-superseded rule.
type RuleStore interface {
	ActiveChargeRules(ctx context.Context) ([]model.ChargeRule, error)
}

// Charge is the effective spread/commission/swap configuration for one
// (user, symbol, segment, tier) request.
type Charge struct {
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
}

func defaultCharge() Charge {
	return Charge{
		SpreadType:       types.SpreadTypeFixed,
		CommissionType:   types.CommissionTypePerLot,
		CommissionOnBuy:  true,
		CommissionOnSell: true,
		SwapType:         types.SwapTypePoints,
	}
}

type Resolver struct {
	store RuleStore
}

func NewResolver(store RuleStore) *Resolver {
	return &Resolver{store: store}
}

// specificity orders levels from least to most specific.
var specificity = []types.ChargeLevel{
	types.ChargeLevelGlobal,
	types.ChargeLevelSegment,
	types.ChargeLevelAccountType,
	types.ChargeLevelInstrument,
	types.ChargeLevelUser,
}

// Resolve walks the rule hierarchy and merges the spread, commission and swap
// groups independently, most specific non-zero value winning per group.
//
// Known limitation, kept intentionally: a more specific rule cannot override
// a group to zero. A zero value is read as "not set", so the less specific
// non-zero value survives.
func (r *Resolver) Resolve(ctx context.Context, userID, symbol, segment, tierID string) (Charge, error) {
	rules, err := r.store.ActiveChargeRules(ctx)
	if err != nil {
		return Charge{}, fmt.Errorf("load charge rules: %w", err)
	}

	matched := make([]model.ChargeRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if ruleApplies(rule, userID, symbol, segment, tierID) {
			matched = append(matched, rule)
		}
	}
	matched = dedupe(matched)

	charge := defaultCharge()
	for _, level := range specificity {
		for _, rule := range matched {
			if rule.Level != level {
				continue
			}
			applyGroups(&charge, rule)
		}
	}
	return charge, nil
}

func ruleApplies(rule model.ChargeRule, userID, symbol, segment, tierID string) bool {
	switch rule.Level {
	case types.ChargeLevelUser:
		if rule.UserID != userID {
			return false
		}
		return rule.Symbol == "" || rule.Symbol == symbol
	case types.ChargeLevelInstrument:
		return rule.Symbol == symbol
	case types.ChargeLevelAccountType:
		return rule.TierID == tierID
	case types.ChargeLevelSegment:
		return rule.Segment == "" || rule.Segment == segment
	case types.ChargeLevelGlobal:
		return true
	default:
		return false
	}
}

type ruleKey struct {
	level   types.ChargeLevel
	segment string
	symbol  string
	tier    string
}

// dedupe collapses rules sharing a scope key: the first-seen rule wins and
// later duplicates contribute only their non-zero fields.
func dedupe(rules []model.ChargeRule) []model.ChargeRule {
	seen := make(map[ruleKey]int, len(rules))
	out := make([]model.ChargeRule, 0, len(rules))
	for _, rule := range rules {
		key := ruleKey{level: rule.Level, segment: rule.Segment, symbol: rule.Symbol, tier: rule.TierID}
		idx, ok := seen[key]
		if !ok {
			seen[key] = len(out)
			out = append(out, rule)
			continue
		}
		mergeNonZero(&out[idx], rule)
	}
	return out
}

func mergeNonZero(dst *model.ChargeRule, src model.ChargeRule) {
	if !src.SpreadValue.IsZero() && dst.SpreadValue.IsZero() {
		dst.SpreadType = src.SpreadType
		dst.SpreadValue = src.SpreadValue
	}
	if !src.CommissionValue.IsZero() && dst.CommissionValue.IsZero() {
		dst.CommissionType = src.CommissionType
		dst.CommissionValue = src.CommissionValue
		dst.CommissionOnBuy = src.CommissionOnBuy
		dst.CommissionOnSell = src.CommissionOnSell
		dst.CommissionOnClose = src.CommissionOnClose
	}
	if (!src.SwapLong.IsZero() || !src.SwapShort.IsZero()) && dst.SwapLong.IsZero() && dst.SwapShort.IsZero() {
		dst.SwapType = src.SwapType
		dst.SwapLong = src.SwapLong
		dst.SwapShort = src.SwapShort
	}
}

// applyGroups overwrites each field group when the rule carries a non-zero
// value for it. Groups move independently: a USER rule may set only the
// spread and leave a GLOBAL commission in force.
func applyGroups(charge *Charge, rule model.ChargeRule) {
	if !rule.SpreadValue.IsZero() {
		charge.SpreadType = rule.SpreadType
		charge.SpreadValue = rule.SpreadValue
	}
	if !rule.CommissionValue.IsZero() {
		charge.CommissionType = rule.CommissionType
		charge.CommissionValue = rule.CommissionValue
		charge.CommissionOnBuy = rule.CommissionOnBuy
		charge.CommissionOnSell = rule.CommissionOnSell
		charge.CommissionOnClose = rule.CommissionOnClose
	}
	if !rule.SwapLong.IsZero() || !rule.SwapShort.IsZero() {
		charge.SwapType = rule.SwapType
		charge.SwapLong = rule.SwapLong
		charge.SwapShort = rule.SwapShort
	}
}

// SwapRate returns the side-appropriate overnight rate.
func (c Charge) SwapRate(side types.Side) decimal.Decimal {
	if side == types.SideSell {
		return c.SwapShort
	}
	return c.SwapLong
}

// CommissionCharged reports whether entry commission applies to the side.
func (c Charge) CommissionCharged(side types.Side) bool {
	if side == types.SideSell {
		return c.CommissionOnSell
	}
	return c.CommissionOnBuy
}
