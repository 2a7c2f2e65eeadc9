package copytrading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"lv-margincore/internal/model"
	"lv-margincore/internal/types"
)

var hundred = decimal.NewFromInt(100)

// CalculateDailyCommission settles the profit-share for one trading day.
// Closed copy trades are grouped per (lead trader, follower); only groups
// with net positive profit owe commission. Every processed trade is marked
// applied, so re-running the same day is a no-op.
func (e *Engine) CalculateDailyCommission(ctx context.Context, day string) error {
	rows, err := e.store.UnappliedClosedCopyTrades(ctx, day)
	if err != nil {
		return fmt.Errorf("load closed copy trades: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	type groupKey struct {
		master   string
		follower string
	}
	groups := make(map[groupKey][]model.CopyTrade)
	for _, ct := range rows {
		k := groupKey{master: ct.MasterAccount, follower: ct.FollowerID}
		groups[k] = append(groups[k], ct)
	}
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].master != keys[j].master {
			return keys[i].master < keys[j].master
		}
		return keys[i].follower < keys[j].follower
	})

	for _, k := range keys {
		if err := e.settleGroup(ctx, day, k.master, k.follower, groups[k]); err != nil {
			e.logger.Error("commission settlement failed",
				slog.String("master_account_id", k.master),
				slog.String("follower_id", k.follower),
				slog.String("day", day),
				slog.Any("error", err))
		}
	}
	return nil
}

func (e *Engine) settleGroup(ctx context.Context, day, masterAccountID, followerID string, trades []model.CopyTrade) error {
	profit := decimal.Zero
	for _, ct := range trades {
		profit = profit.Add(ct.PnL)
	}

	// Loss days and break-even days owe nothing but still burn the trades
	// so they never enter a later settlement.
	if profit.LessThanOrEqual(decimal.Zero) {
		return e.markApplied(ctx, trades)
	}

	profile, err := e.store.MasterProfile(ctx, masterAccountID)
	if err != nil {
		// A missing profile means no commission is configured and the trades
		// are consumed. Any other store error leaves them unapplied so the
		// next run retries the group.
		if errors.Is(err, model.ErrNotFound) {
			return e.markApplied(ctx, trades)
		}
		return fmt.Errorf("load lead trader profile: %w", err)
	}
	if profile.CommissionPct.LessThanOrEqual(decimal.Zero) {
		return e.markApplied(ctx, trades)
	}

	amount := profit.Mul(profile.CommissionPct).Div(hundred).Round(2)
	masterShare := amount.Mul(profile.MasterSharePct).Div(hundred).Round(2)
	adminShare := amount.Sub(masterShare)

	follower, err := e.store.Follower(ctx, followerID)
	if err != nil {
		return fmt.Errorf("load follower: %w", err)
	}

	record := model.CopyCommission{
		MasterAccountID: masterAccountID,
		FollowerID:      followerID,
		TradingDay:      day,
		DailyProfit:     profit,
		Amount:          amount,
		MasterShare:     masterShare,
		AdminShare:      adminShare,
		CreatedAt:       e.now(),
	}

	var deducted bool
	err = e.locks.WithAccount(follower.AccountID, func() error {
		acc, err := e.store.Account(ctx, follower.AccountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		// No partial deduction: the whole amount or nothing.
		if acc.Balance.LessThan(amount) {
			return nil
		}
		acc.Balance = acc.Balance.Sub(amount)
		if err := e.store.SaveAccount(ctx, acc); err != nil {
			return fmt.Errorf("deduct commission: %w", err)
		}
		deducted = true
		return nil
	})
	if err != nil {
		return err
	}

	if !deducted {
		record.Status = types.CommissionStatusFailed
		record.FailReason = "insufficient balance"
		if err := e.store.CreateCommission(ctx, record); err != nil {
			return fmt.Errorf("persist commission: %w", err)
		}
		return e.markApplied(ctx, trades)
	}

	profile.PendingCommission = profile.PendingCommission.Add(masterShare)
	if err := e.store.SaveMasterProfile(ctx, profile); err != nil {
		return fmt.Errorf("credit lead trader: %w", err)
	}
	if err := e.store.AddAdminCommission(ctx, adminShare); err != nil {
		return fmt.Errorf("credit admin pool: %w", err)
	}

	record.Status = types.CommissionStatusDeducted
	if err := e.store.CreateCommission(ctx, record); err != nil {
		return fmt.Errorf("persist commission: %w", err)
	}

	e.logger.Info("copy commission settled",
		slog.String("master_account_id", masterAccountID),
		slog.String("follower_id", followerID),
		slog.String("day", day),
		slog.String("profit", profit.String()),
		slog.String("amount", amount.String()))
	return e.markApplied(ctx, trades)
}

func (e *Engine) markApplied(ctx context.Context, trades []model.CopyTrade) error {
	for _, ct := range trades {
		ct.CommissionApplied = true
		if err := e.store.SaveCopyTrade(ctx, ct); err != nil {
			return fmt.Errorf("mark copy trade applied: %w", err)
		}
	}
	return nil
}
