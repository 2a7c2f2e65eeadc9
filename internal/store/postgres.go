// Package store is the Postgres persistence layer. Queries are written
// against the schema in schema.sql; the in-memory twin lives in memstore.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"lv-margincore/internal/model"
	"lv-margincore/internal/types"
)

var ErrNotFound = model.ErrNotFound

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// --- users ---

func (s *Postgres) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		"insert into users (email, password_hash) values ($1, $2) returning id",
		email, passwordHash).Scan(&id)
	return id, err
}

func (s *Postgres) UserCredentials(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.pool.QueryRow(ctx,
		"select id, password_hash from users where email = $1", email).Scan(&id, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return id, hash, err
}

func (s *Postgres) AdminCredentials(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.pool.QueryRow(ctx,
		"select id, password_hash from admin_users where email = $1", email).Scan(&id, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return id, hash, err
}

// --- accounts ---

const accountColumns = "id, user_id, balance, credit, leverage, tier_id, status, is_demo, created_at, updated_at"

func scanAccount(row pgx.Row) (model.TradingAccount, error) {
	var a model.TradingAccount
	err := row.Scan(&a.ID, &a.UserID, &a.Balance, &a.Credit, &a.Leverage, &a.TierID, &a.Status, &a.IsDemo, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

func (s *Postgres) Account(ctx context.Context, id string) (model.TradingAccount, error) {
	return scanAccount(s.pool.QueryRow(ctx, "select "+accountColumns+" from trading_accounts where id = $1", id))
}

func (s *Postgres) SaveAccount(ctx context.Context, a model.TradingAccount) error {
	_, err := s.pool.Exec(ctx, `
		insert into trading_accounts (id, user_id, balance, credit, leverage, tier_id, status, is_demo)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (id) do update set
			balance = excluded.balance,
			credit = excluded.credit,
			leverage = excluded.leverage,
			tier_id = excluded.tier_id,
			status = excluded.status,
			updated_at = now()`,
		a.ID, a.UserID, a.Balance, a.Credit, a.Leverage, a.TierID, a.Status, a.IsDemo)
	return err
}

// --- trades ---

const tradeColumns = `id, account_id, symbol, segment, side, order_type, status, qty,
	trigger_price, open_price, close_price, stop_loss, take_profit,
	margin_used, leverage, contract_size, spread, commission, swap, realized_pnl,
	closed_by, opened_at, closed_at, created_at`

func scanTrade(row pgx.Row) (model.Trade, error) {
	var t model.Trade
	var closedBy *string
	err := row.Scan(&t.ID, &t.AccountID, &t.Symbol, &t.Segment, &t.Side, &t.OrderType, &t.Status, &t.Qty,
		&t.TriggerPrice, &t.OpenPrice, &t.ClosePrice, &t.StopLoss, &t.TakeProfit,
		&t.MarginUsed, &t.Leverage, &t.ContractSize, &t.Spread, &t.Commission, &t.Swap, &t.RealizedPnL,
		&closedBy, &t.OpenedAt, &t.ClosedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrNotFound
	}
	if closedBy != nil {
		t.ClosedBy = types.ClosedBy(*closedBy)
	}
	return t, err
}

func (s *Postgres) queryTrades(ctx context.Context, query string, args ...any) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateTrade(ctx context.Context, t model.Trade) error {
	_, err := s.pool.Exec(ctx, `
		insert into trades (id, account_id, symbol, segment, side, order_type, status, qty,
			trigger_price, open_price, close_price, stop_loss, take_profit,
			margin_used, leverage, contract_size, spread, commission, swap, realized_pnl,
			closed_by, opened_at, closed_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,nullif($21,''),$22,$23)`,
		t.ID, t.AccountID, t.Symbol, t.Segment, t.Side, t.OrderType, t.Status, t.Qty,
		t.TriggerPrice, t.OpenPrice, t.ClosePrice, t.StopLoss, t.TakeProfit,
		t.MarginUsed, t.Leverage, t.ContractSize, t.Spread, t.Commission, t.Swap, t.RealizedPnL,
		string(t.ClosedBy), t.OpenedAt, t.ClosedAt)
	return err
}

func (s *Postgres) Trade(ctx context.Context, id string) (model.Trade, error) {
	return scanTrade(s.pool.QueryRow(ctx, "select "+tradeColumns+" from trades where id = $1", id))
}

func (s *Postgres) SaveTrade(ctx context.Context, t model.Trade) error {
	tag, err := s.pool.Exec(ctx, `
		update trades set
			status = $2, trigger_price = $3, open_price = $4, close_price = $5,
			stop_loss = $6, take_profit = $7, margin_used = $8, commission = $9,
			swap = $10, realized_pnl = $11, closed_by = nullif($12,''), opened_at = $13, closed_at = $14
		where id = $1`,
		t.ID, t.Status, t.TriggerPrice, t.OpenPrice, t.ClosePrice,
		t.StopLoss, t.TakeProfit, t.MarginUsed, t.Commission,
		t.Swap, t.RealizedPnL, string(t.ClosedBy), t.OpenedAt, t.ClosedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) OpenTradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error) {
	return s.queryTrades(ctx, "select "+tradeColumns+" from trades where account_id = $1 and status = 'OPEN'", accountID)
}

func (s *Postgres) TradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error) {
	return s.queryTrades(ctx, "select "+tradeColumns+" from trades where account_id = $1 order by created_at desc", accountID)
}

func (s *Postgres) OpenTrades(ctx context.Context) ([]model.Trade, error) {
	return s.queryTrades(ctx, "select "+tradeColumns+" from trades where status = 'OPEN'")
}

func (s *Postgres) PendingTrades(ctx context.Context) ([]model.Trade, error) {
	return s.queryTrades(ctx, "select "+tradeColumns+" from trades where status = 'PENDING'")
}

// --- trade settings ---

func (s *Postgres) TradeSettings(ctx context.Context) (model.TradeSettings, error) {
	var t model.TradeSettings
	err := s.pool.QueryRow(ctx,
		"select stop_out_level, margin_call_level, max_open_trades, max_open_lots from trade_settings where id = 1").
		Scan(&t.StopOutLevel, &t.MarginCallLevel, &t.MaxOpenTradesPerUser, &t.MaxOpenLotsPerUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultTradeSettings(), nil
	}
	return t, err
}

func (s *Postgres) SaveTradeSettings(ctx context.Context, t model.TradeSettings) error {
	_, err := s.pool.Exec(ctx, `
		insert into trade_settings (id, stop_out_level, margin_call_level, max_open_trades, max_open_lots)
		values (1, $1, $2, $3, $4)
		on conflict (id) do update set
			stop_out_level = excluded.stop_out_level,
			margin_call_level = excluded.margin_call_level,
			max_open_trades = excluded.max_open_trades,
			max_open_lots = excluded.max_open_lots`,
		t.StopOutLevel, t.MarginCallLevel, t.MaxOpenTradesPerUser, t.MaxOpenLotsPerUser)
	return err
}

// --- charge rules ---

const chargeColumns = `id, level, user_id, symbol, segment, tier_id,
	spread_type, spread_value, commission_type, commission_value,
	commission_on_buy, commission_on_sell, commission_on_close,
	swap_long, swap_short, swap_type, is_active`

func (s *Postgres) ActiveChargeRules(ctx context.Context) ([]model.ChargeRule, error) {
	rows, err := s.pool.Query(ctx, "select "+chargeColumns+" from charge_rules where is_active")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ChargeRule
	for rows.Next() {
		var r model.ChargeRule
		if err := rows.Scan(&r.ID, &r.Level, &r.UserID, &r.Symbol, &r.Segment, &r.TierID,
			&r.SpreadType, &r.SpreadValue, &r.CommissionType, &r.CommissionValue,
			&r.CommissionOnBuy, &r.CommissionOnSell, &r.CommissionOnClose,
			&r.SwapLong, &r.SwapShort, &r.SwapType, &r.IsActive); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) SaveChargeRule(ctx context.Context, r model.ChargeRule) error {
	_, err := s.pool.Exec(ctx, `
		insert into charge_rules (id, level, user_id, symbol, segment, tier_id,
			spread_type, spread_value, commission_type, commission_value,
			commission_on_buy, commission_on_sell, commission_on_close,
			swap_long, swap_short, swap_type, is_active)
		values (coalesce(nullif($1,'')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		on conflict (id) do update set
			spread_type = excluded.spread_type,
			spread_value = excluded.spread_value,
			commission_type = excluded.commission_type,
			commission_value = excluded.commission_value,
			commission_on_buy = excluded.commission_on_buy,
			commission_on_sell = excluded.commission_on_sell,
			commission_on_close = excluded.commission_on_close,
			swap_long = excluded.swap_long,
			swap_short = excluded.swap_short,
			swap_type = excluded.swap_type,
			is_active = excluded.is_active`,
		r.ID, r.Level, r.UserID, r.Symbol, r.Segment, r.TierID,
		r.SpreadType, r.SpreadValue, r.CommissionType, r.CommissionValue,
		r.CommissionOnBuy, r.CommissionOnSell, r.CommissionOnClose,
		r.SwapLong, r.SwapShort, r.SwapType, r.IsActive)
	return err
}

// --- copy trading ---

const followerColumns = `id, master_account_id, account_id, mode, copy_value, multiplier,
	max_lot_size, status, total_profit, total_loss, active_trades, copied_trades, created_at`

func scanFollower(row pgx.Row) (model.CopyFollower, error) {
	var f model.CopyFollower
	err := row.Scan(&f.ID, &f.MasterAccountID, &f.AccountID, &f.Mode, &f.CopyValue, &f.Multiplier,
		&f.MaxLotSize, &f.Status, &f.TotalProfit, &f.TotalLoss, &f.ActiveTrades, &f.CopiedTrades, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return f, ErrNotFound
	}
	return f, err
}

func (s *Postgres) ActiveFollowers(ctx context.Context, masterAccountID string) ([]model.CopyFollower, error) {
	rows, err := s.pool.Query(ctx,
		"select "+followerColumns+" from copy_followers where master_account_id = $1 and status = 'ACTIVE'",
		masterAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CopyFollower
	for rows.Next() {
		f, err := scanFollower(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Postgres) Follower(ctx context.Context, id string) (model.CopyFollower, error) {
	return scanFollower(s.pool.QueryRow(ctx, "select "+followerColumns+" from copy_followers where id = $1", id))
}

func (s *Postgres) SaveFollower(ctx context.Context, f model.CopyFollower) error {
	_, err := s.pool.Exec(ctx, `
		insert into copy_followers (id, master_account_id, account_id, mode, copy_value, multiplier,
			max_lot_size, status, total_profit, total_loss, active_trades, copied_trades)
		values (coalesce(nullif($1,'')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		on conflict (id) do update set
			mode = excluded.mode,
			copy_value = excluded.copy_value,
			multiplier = excluded.multiplier,
			max_lot_size = excluded.max_lot_size,
			status = excluded.status,
			total_profit = excluded.total_profit,
			total_loss = excluded.total_loss,
			active_trades = excluded.active_trades,
			copied_trades = excluded.copied_trades`,
		f.ID, f.MasterAccountID, f.AccountID, f.Mode, f.CopyValue, f.Multiplier,
		f.MaxLotSize, f.Status, f.TotalProfit, f.TotalLoss, f.ActiveTrades, f.CopiedTrades)
	return err
}

const copyTradeColumns = `id, master_trade_id, follower_id, account_id, trade_id, master_account_id,
	symbol, side, mode, master_lot, lot, open_price, close_price, pnl, status, fail_reason,
	commission_applied, opened_at, closed_at`

func scanCopyTrade(row pgx.Row) (model.CopyTrade, error) {
	var ct model.CopyTrade
	var tradeID, failReason *string
	err := row.Scan(&ct.ID, &ct.MasterTradeID, &ct.FollowerID, &ct.AccountID, &tradeID, &ct.MasterAccount,
		&ct.Symbol, &ct.Side, &ct.Mode, &ct.MasterLot, &ct.Lot, &ct.OpenPrice, &ct.ClosePrice, &ct.PnL,
		&ct.Status, &failReason, &ct.CommissionApplied, &ct.OpenedAt, &ct.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ct, ErrNotFound
	}
	if tradeID != nil {
		ct.TradeID = *tradeID
	}
	if failReason != nil {
		ct.FailReason = *failReason
	}
	return ct, err
}

func (s *Postgres) queryCopyTrades(ctx context.Context, query string, args ...any) ([]model.CopyTrade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CopyTrade
	for rows.Next() {
		ct, err := scanCopyTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

func (s *Postgres) CopyTradeExists(ctx context.Context, masterTradeID, followerID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"select exists(select 1 from copy_trades where master_trade_id = $1 and follower_id = $2)",
		masterTradeID, followerID).Scan(&exists)
	return exists, err
}

func (s *Postgres) CreateCopyTrade(ctx context.Context, ct model.CopyTrade) error {
	// The unique index on (master_trade_id, follower_id) is the hard
	// duplication guard.
	_, err := s.pool.Exec(ctx, `
		insert into copy_trades (id, master_trade_id, follower_id, account_id, trade_id, master_account_id,
			symbol, side, mode, master_lot, lot, open_price, close_price, pnl, status, fail_reason,
			commission_applied, opened_at, closed_at)
		values (coalesce(nullif($1,'')::uuid, gen_random_uuid()), $2, $3, $4, nullif($5,''), $6,
			$7, $8, $9, $10, $11, $12, $13, $14, $15, nullif($16,''), $17, $18, $19)`,
		ct.ID, ct.MasterTradeID, ct.FollowerID, ct.AccountID, ct.TradeID, ct.MasterAccount,
		ct.Symbol, ct.Side, ct.Mode, ct.MasterLot, ct.Lot, ct.OpenPrice, ct.ClosePrice, ct.PnL,
		ct.Status, ct.FailReason, ct.CommissionApplied, ct.OpenedAt, ct.ClosedAt)
	return err
}

func (s *Postgres) SaveCopyTrade(ctx context.Context, ct model.CopyTrade) error {
	tag, err := s.pool.Exec(ctx, `
		update copy_trades set
			trade_id = nullif($2,''), close_price = $3, pnl = $4, status = $5,
			fail_reason = nullif($6,''), commission_applied = $7, closed_at = $8
		where id = $1`,
		ct.ID, ct.TradeID, ct.ClosePrice, ct.PnL, ct.Status, ct.FailReason, ct.CommissionApplied, ct.ClosedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) OpenCopyTradesByMaster(ctx context.Context, masterTradeID string) ([]model.CopyTrade, error) {
	return s.queryCopyTrades(ctx,
		"select "+copyTradeColumns+" from copy_trades where master_trade_id = $1 and status = 'OPEN'",
		masterTradeID)
}

func (s *Postgres) UnappliedClosedCopyTrades(ctx context.Context, day string) ([]model.CopyTrade, error) {
	return s.queryCopyTrades(ctx, `
		select `+copyTradeColumns+` from copy_trades
		where status = 'CLOSED' and not commission_applied
		and to_char(closed_at at time zone 'UTC', 'YYYY-MM-DD') = $1`, day)
}

func (s *Postgres) MasterProfile(ctx context.Context, accountID string) (model.MasterProfile, error) {
	var m model.MasterProfile
	err := s.pool.QueryRow(ctx,
		"select account_id, commission_pct, master_share_pct, pending_commission from master_profiles where account_id = $1",
		accountID).Scan(&m.AccountID, &m.CommissionPct, &m.MasterSharePct, &m.PendingCommission)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

func (s *Postgres) SaveMasterProfile(ctx context.Context, m model.MasterProfile) error {
	_, err := s.pool.Exec(ctx, `
		insert into master_profiles (account_id, commission_pct, master_share_pct, pending_commission)
		values ($1, $2, $3, $4)
		on conflict (account_id) do update set
			commission_pct = excluded.commission_pct,
			master_share_pct = excluded.master_share_pct,
			pending_commission = excluded.pending_commission`,
		m.AccountID, m.CommissionPct, m.MasterSharePct, m.PendingCommission)
	return err
}

func (s *Postgres) CreateCommission(ctx context.Context, c model.CopyCommission) error {
	_, err := s.pool.Exec(ctx, `
		insert into copy_commissions (id, master_account_id, follower_id, trading_day,
			daily_profit, amount, master_share, admin_share, status, fail_reason)
		values (coalesce(nullif($1,'')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, nullif($10,''))`,
		c.ID, c.MasterAccountID, c.FollowerID, c.TradingDay,
		c.DailyProfit, c.Amount, c.MasterShare, c.AdminShare, c.Status, c.FailReason)
	return err
}

func (s *Postgres) AddAdminCommission(ctx context.Context, amount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		insert into admin_commission_pool (id, total) values (1, $1)
		on conflict (id) do update set total = admin_commission_pool.total + excluded.total`,
		amount)
	return err
}
