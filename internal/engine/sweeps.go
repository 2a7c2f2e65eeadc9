package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"lv-margincore/internal/events"
	"lv-margincore/internal/ledger"
	"lv-margincore/internal/model"
	"lv-margincore/internal/risk"
	"lv-margincore/internal/types"
)

// CheckPendingOrders fires armed limit/stop orders whose trigger the given
// quotes have crossed. The fill price is the triggering bid/ask, not the
// armed price.
func (s *Service) CheckPendingOrders(ctx context.Context, prices map[string]model.Quote) ([]model.Trade, error) {
	pending, err := s.store.PendingTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending orders: %w", err)
	}
	var executed []model.Trade
	for _, t := range pending {
		q, ok := prices[t.Symbol]
		if !ok {
			q, ok = s.quotes.GetLatest(t.Symbol)
		}
		if !ok || !q.Valid() || t.TriggerPrice == nil {
			continue
		}
		fillPrice, triggered := pendingTrigger(t.OrderType, *t.TriggerPrice, q.Bid, q.Ask)
		if !triggered {
			continue
		}
		filled, err := s.fillPending(ctx, t, fillPrice)
		if err != nil {
			if !errors.Is(err, ErrInsufficientMargin) && !errors.Is(err, ErrAccountNotActive) {
				s.logger.Error("pending fill failed", slog.String("trade_id", t.ID), slog.Any("error", err))
			}
			continue
		}
		executed = append(executed, filled)
	}
	return executed, nil
}

func pendingTrigger(orderType types.OrderType, trigger, bid, ask decimal.Decimal) (decimal.Decimal, bool) {
	switch orderType {
	case types.OrderTypeBuyLimit:
		return ask, ask.LessThanOrEqual(trigger)
	case types.OrderTypeBuyStop:
		return ask, ask.GreaterThanOrEqual(trigger)
	case types.OrderTypeSellLimit:
		return bid, bid.GreaterThanOrEqual(trigger)
	case types.OrderTypeSellStop:
		return bid, bid.LessThanOrEqual(trigger)
	default:
		return decimal.Zero, false
	}
}

func (s *Service) fillPending(ctx context.Context, trade model.Trade, price decimal.Decimal) (model.Trade, error) {
	acc, err := s.store.Account(ctx, trade.AccountID)
	if err != nil {
		return model.Trade{}, fmt.Errorf("load account: %w", err)
	}
	// The market-open admission gate applies again at trigger time: the
	// account state when the order was armed proves nothing about now.
	if acc.Status != types.AccountStatusActive {
		return s.cancelUnfillable(ctx, trade, ErrAccountNotActive)
	}
	open, err := s.store.OpenTradesByAccount(ctx, trade.AccountID)
	if err != nil {
		return model.Trade{}, fmt.Errorf("load open trades: %w", err)
	}
	margin := risk.Margin(trade.Qty, price, trade.Leverage, trade.ContractSize)
	metrics := s.metricsFor(acc, open, map[string]model.Quote{
		trade.Symbol: {Symbol: trade.Symbol, Bid: price, Ask: price},
	})
	if margin.GreaterThan(metrics.FreeMargin) || margin.GreaterThan(metrics.Equity) {
		return s.cancelUnfillable(ctx, trade, ErrInsufficientMargin)
	}

	commission := decimal.Zero
	charge, err := s.charges.Resolve(ctx, acc.UserID, trade.Symbol, trade.Segment, acc.TierID)
	if err == nil && charge.CommissionCharged(trade.Side) {
		commission = risk.Commission(trade.Qty, price, charge.CommissionType, charge.CommissionValue, trade.ContractSize)
	}

	trade.Status = types.TradeStatusOpen
	trade.OpenPrice = price
	trade.MarginUsed = margin
	trade.Commission = commission
	trade.OpenedAt = s.now()

	err = s.locks.WithAccount(trade.AccountID, func() error {
		if commission.GreaterThan(decimal.Zero) {
			fresh, err := s.store.Account(ctx, trade.AccountID)
			if err != nil {
				return fmt.Errorf("load account: %w", err)
			}
			ledger.Deduct(&fresh, commission)
			if err := s.store.SaveAccount(ctx, fresh); err != nil {
				return fmt.Errorf("charge commission: %w", err)
			}
		}
		return s.store.SaveTrade(ctx, trade)
	})
	if err != nil {
		return model.Trade{}, err
	}

	s.logger.Info("pending order executed",
		slog.String("trade_id", trade.ID),
		slog.String("type", string(trade.OrderType)),
		slog.String("price", price.String()))
	s.publish(events.TradeOpened, trade)
	return trade, nil
}

// cancelUnfillable terminates an order whose trigger fired but whose account
// no longer qualifies. Cancelling keeps the order from re-triggering on
// every sweep.
func (s *Service) cancelUnfillable(ctx context.Context, trade model.Trade, cause error) (model.Trade, error) {
	trade.Status = types.TradeStatusCancelled
	if err := s.store.SaveTrade(ctx, trade); err != nil {
		return model.Trade{}, fmt.Errorf("cancel pending order: %w", err)
	}
	s.logger.Warn("pending order cancelled",
		slog.String("trade_id", trade.ID),
		slog.String("account_id", trade.AccountID),
		slog.String("reason", cause.Error()))
	return trade, cause
}

// CheckSLTPAll evaluates stop-loss and take-profit for every open trade.
// Triggered trades close at the exact SL/TP price, not the prevailing quote.
func (s *Service) CheckSLTPAll(ctx context.Context, prices map[string]model.Quote) ([]model.Trade, error) {
	open, err := s.store.OpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open trades: %w", err)
	}
	var triggered []model.Trade
	for _, t := range open {
		q, ok := prices[t.Symbol]
		if !ok {
			q, ok = s.quotes.GetLatest(t.Symbol)
		}
		if !ok || !q.Valid() {
			continue
		}
		price, closedBy, hit := slTpTrigger(t, q.Bid, q.Ask)
		if !hit {
			continue
		}
		result, err := s.closeAt(ctx, t, price, closedBy)
		if err != nil {
			if err != ErrTradeNotOpen {
				s.logger.Error("sl/tp close failed", slog.String("trade_id", t.ID), slog.Any("error", err))
			}
			continue
		}
		triggered = append(triggered, result.Trade)
	}
	return triggered, nil
}

func slTpTrigger(t model.Trade, bid, ask decimal.Decimal) (decimal.Decimal, types.ClosedBy, bool) {
	if t.Side == types.SideBuy {
		if t.StopLoss != nil && bid.LessThanOrEqual(*t.StopLoss) {
			return *t.StopLoss, types.ClosedBySL, true
		}
		if t.TakeProfit != nil && bid.GreaterThanOrEqual(*t.TakeProfit) {
			return *t.TakeProfit, types.ClosedByTP, true
		}
		return decimal.Zero, "", false
	}
	if t.StopLoss != nil && ask.GreaterThanOrEqual(*t.StopLoss) {
		return *t.StopLoss, types.ClosedBySL, true
	}
	if t.TakeProfit != nil && ask.LessThanOrEqual(*t.TakeProfit) {
		return *t.TakeProfit, types.ClosedByTP, true
	}
	return decimal.Zero, "", false
}

type StopOutResult struct {
	Triggered    bool          `json:"triggered"`
	Reason       string        `json:"reason,omitempty"`
	ClosedTrades []model.Trade `json:"closed_trades,omitempty"`
}

// CheckStopOut liquidates every open trade on the account when equity is
// exhausted, free margin is negative, or the margin level breaches the
// stop-out threshold. Most-losing positions close first; afterwards the
// balance is floored at zero.
func (s *Service) CheckStopOut(ctx context.Context, accountID string, prices map[string]model.Quote) (StopOutResult, error) {
	settings, err := s.store.TradeSettings(ctx)
	if err != nil {
		return StopOutResult{}, fmt.Errorf("load trade settings: %w", err)
	}

	var result StopOutResult
	err = s.locks.WithAccount(accountID, func() error {
		acc, err := s.store.Account(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		open, err := s.store.OpenTradesByAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load open trades: %w", err)
		}
		if len(open) == 0 {
			return nil
		}
		metrics := s.metricsFor(acc, open, prices)

		switch {
		case metrics.Equity.LessThanOrEqual(decimal.Zero):
			result.Reason = "equity exhausted"
		case metrics.FreeMargin.LessThan(decimal.Zero):
			result.Reason = "negative free margin"
		case metrics.UsedMargin.GreaterThan(decimal.Zero) && metrics.MarginLevel.LessThanOrEqual(settings.StopOutLevel):
			result.Reason = fmt.Sprintf("margin level %s below stop out %s", metrics.MarginLevel.Round(2), settings.StopOutLevel)
		default:
			return nil
		}
		result.Triggered = true

		// Worst losers first so the liquidation order is deterministic.
		type liquidation struct {
			trade model.Trade
			pnl   decimal.Decimal
		}
		order := make([]liquidation, 0, len(open))
		for _, t := range open {
			pnl, _ := s.floatingPnL(t, prices)
			order = append(order, liquidation{trade: t, pnl: pnl})
		}
		sort.Slice(order, func(i, j int) bool { return order[i].pnl.LessThan(order[j].pnl) })

		for _, l := range order {
			price, ok := s.markPrice(l.trade, prices)
			if !ok {
				price = l.trade.OpenPrice
			}
			closed, err := s.closeLocked(ctx, l.trade, price, types.ClosedByStopOut)
			if err != nil {
				s.logger.Error("stop out close failed", slog.String("trade_id", l.trade.ID), slog.Any("error", err))
				continue
			}
			result.ClosedTrades = append(result.ClosedTrades, closed.Trade)
		}

		// ledger.Apply already floors balance and credit at zero; this is
		// the documented post-liquidation invariant check.
		fresh, err := s.store.Account(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if fresh.Balance.LessThan(decimal.Zero) {
			fresh.Balance = decimal.Zero
			return s.store.SaveAccount(ctx, fresh)
		}
		return nil
	})
	if err != nil {
		return StopOutResult{}, err
	}
	if result.Triggered {
		s.logger.Warn("stop out executed",
			slog.String("account_id", accountID),
			slog.String("reason", result.Reason),
			slog.Int("closed", len(result.ClosedTrades)))
	}
	return result, nil
}

// CheckStopOutAll sweeps every account holding open trades.
func (s *Service) CheckStopOutAll(ctx context.Context, prices map[string]model.Quote) ([]StopOutResult, error) {
	open, err := s.store.OpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open trades: %w", err)
	}
	seen := make(map[string]struct{})
	var results []StopOutResult
	for _, t := range open {
		if _, ok := seen[t.AccountID]; ok {
			continue
		}
		seen[t.AccountID] = struct{}{}
		res, err := s.CheckStopOut(ctx, t.AccountID, prices)
		if err != nil {
			s.logger.Error("stop out sweep failed", slog.String("account_id", t.AccountID), slog.Any("error", err))
			continue
		}
		if res.Triggered {
			results = append(results, res)
		}
	}
	return results, nil
}

// ApplySwap accrues the overnight financing fee on every open trade. Runs
// once per rollover period; the amount accumulates on the trade and is
// realized at close.
func (s *Service) ApplySwap(ctx context.Context) error {
	open, err := s.store.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("load open trades: %w", err)
	}
	for _, t := range open {
		acc, err := s.store.Account(ctx, t.AccountID)
		if err != nil {
			s.logger.Error("swap: load account failed", slog.String("trade_id", t.ID), slog.Any("error", err))
			continue
		}
		charge, err := s.charges.Resolve(ctx, acc.UserID, t.Symbol, t.Segment, acc.TierID)
		if err != nil {
			s.logger.Error("swap: charge resolution failed", slog.String("trade_id", t.ID), slog.Any("error", err))
			continue
		}
		rate := charge.SwapRate(t.Side)
		if rate.IsZero() {
			continue
		}
		var amount decimal.Decimal
		if charge.SwapType == types.SwapTypePercentage {
			tradeValue := t.Qty.Mul(t.ContractSize).Mul(t.OpenPrice)
			amount = tradeValue.Mul(rate).Div(decimal.NewFromInt(100))
		} else {
			amount = t.Qty.Mul(rate)
		}
		t.Swap = t.Swap.Add(amount)
		if err := s.store.SaveTrade(ctx, t); err != nil {
			s.logger.Error("swap: persist failed", slog.String("trade_id", t.ID), slog.Any("error", err))
		}
	}
	return nil
}
