package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"lv-margincore/internal/events"
	"lv-margincore/internal/ledger"
	"lv-margincore/internal/model"
	"lv-margincore/internal/risk"
	"lv-margincore/internal/types"
)

type CloseResult struct {
	Trade       model.Trade     `json:"trade"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// CloseTrade closes an open trade at the given quotes: longs close on the
// bid, shorts on the ask. When bid/ask are zero the latest cached quote is
// used.
func (s *Service) CloseTrade(ctx context.Context, tradeID string, bid, ask decimal.Decimal, closedBy types.ClosedBy) (CloseResult, error) {
	trade, err := s.store.Trade(ctx, tradeID)
	if err != nil {
		return CloseResult{}, fmt.Errorf("load trade: %w", err)
	}
	if !trade.IsOpen() {
		return CloseResult{}, ErrTradeNotOpen
	}
	bid, ask, err = s.quoteFor(trade.Symbol, bid, ask)
	if err != nil {
		return CloseResult{}, err
	}
	price := bid
	if trade.Side == types.SideSell {
		price = ask
	}

	var result CloseResult
	err = s.locks.WithAccount(trade.AccountID, func() error {
		result, err = s.closeLocked(ctx, trade, price, closedBy)
		return err
	})
	return result, err
}

// closeLocked settles the trade at price. Caller must hold the account lock;
// the trade must be OPEN.
func (s *Service) closeLocked(ctx context.Context, trade model.Trade, price decimal.Decimal, closedBy types.ClosedBy) (CloseResult, error) {
	// Re-read under the lock: a concurrent sweep may have closed it already.
	fresh, err := s.store.Trade(ctx, trade.ID)
	if err != nil {
		return CloseResult{}, fmt.Errorf("load trade: %w", err)
	}
	if !fresh.IsOpen() {
		return CloseResult{}, ErrTradeNotOpen
	}
	trade = fresh

	acc, err := s.store.Account(ctx, trade.AccountID)
	if err != nil {
		return CloseResult{}, fmt.Errorf("load account: %w", err)
	}

	rawPnL := risk.PnL(trade.Side, trade.OpenPrice, price, trade.Qty, trade.ContractSize)

	closeCommission := decimal.Zero
	charge, err := s.charges.Resolve(ctx, acc.UserID, trade.Symbol, trade.Segment, acc.TierID)
	if err != nil {
		s.logger.Warn("close: charge resolution failed, closing without close commission",
			slog.String("trade_id", trade.ID), slog.Any("error", err))
	} else if charge.CommissionOnClose {
		closeCommission = risk.Commission(trade.Qty, price, charge.CommissionType, charge.CommissionValue, trade.ContractSize)
	}

	net := rawPnL.Sub(trade.Swap).Sub(closeCommission)
	ledger.Apply(&acc, net)
	if err := s.store.SaveAccount(ctx, acc); err != nil {
		return CloseResult{}, fmt.Errorf("settle account: %w", err)
	}

	now := s.now()
	trade.Status = types.TradeStatusClosed
	trade.ClosePrice = &price
	trade.RealizedPnL = net
	trade.Commission = trade.Commission.Add(closeCommission)
	trade.ClosedBy = closedBy
	trade.ClosedAt = &now
	if err := s.store.SaveTrade(ctx, trade); err != nil {
		return CloseResult{}, fmt.Errorf("persist trade: %w", err)
	}

	s.logger.Info("trade closed",
		slog.String("trade_id", trade.ID),
		slog.String("account_id", trade.AccountID),
		slog.String("closed_by", string(closedBy)),
		slog.String("price", price.String()),
		slog.String("pnl", net.String()))
	s.publish(events.TradeClosed, trade)
	return CloseResult{Trade: trade, RealizedPnL: net}, nil
}

// closeAt closes at an exact price (SL/TP fills), taking the account lock.
func (s *Service) closeAt(ctx context.Context, trade model.Trade, price decimal.Decimal, closedBy types.ClosedBy) (CloseResult, error) {
	var result CloseResult
	err := s.locks.WithAccount(trade.AccountID, func() error {
		var err error
		result, err = s.closeLocked(ctx, trade, price, closedBy)
		return err
	})
	return result, err
}

// ResetDemoAccount closes everything on a demo account and restores the
// starting balance.
func (s *Service) ResetDemoAccount(ctx context.Context, accountID string) error {
	acc, err := s.store.Account(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if !acc.IsDemo {
		return ErrNotDemoAccount
	}
	return s.locks.WithAccount(accountID, func() error {
		open, err := s.store.OpenTradesByAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load open trades: %w", err)
		}
		for _, t := range open {
			price, ok := s.markPrice(t, nil)
			if !ok {
				// No quote: settle flat at the open price.
				price = t.OpenPrice
			}
			if _, err := s.closeLocked(ctx, t, price, types.ClosedByDemoReset); err != nil {
				return err
			}
		}
		pending, err := s.store.PendingTrades(ctx)
		if err != nil {
			return fmt.Errorf("load pending orders: %w", err)
		}
		for _, t := range pending {
			if t.AccountID != accountID {
				continue
			}
			t.Status = types.TradeStatusCancelled
			if err := s.store.SaveTrade(ctx, t); err != nil {
				return fmt.Errorf("cancel pending order: %w", err)
			}
		}
		fresh, err := s.store.Account(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		fresh.Balance = s.demoStartBalance
		fresh.Credit = decimal.Zero
		return s.store.SaveAccount(ctx, fresh)
	})
}
