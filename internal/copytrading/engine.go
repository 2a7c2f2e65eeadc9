// Package copytrading replicates lead-trader activity onto follower
// accounts and settles the daily profit-share commission.
package copytrading

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"lv-margincore/internal/engine"
	"lv-margincore/internal/events"
	"lv-margincore/internal/ledger"
	"lv-margincore/internal/model"
	"lv-margincore/internal/types"
)

// Store is the copy-trading persistence plus the account access needed for
// sizing and commission deduction.
type Store interface {
	Account(ctx context.Context, id string) (model.TradingAccount, error)
	SaveAccount(ctx context.Context, acc model.TradingAccount) error

	ActiveFollowers(ctx context.Context, masterAccountID string) ([]model.CopyFollower, error)
	Follower(ctx context.Context, id string) (model.CopyFollower, error)
	SaveFollower(ctx context.Context, f model.CopyFollower) error

	CopyTradeExists(ctx context.Context, masterTradeID, followerID string) (bool, error)
	CreateCopyTrade(ctx context.Context, ct model.CopyTrade) error
	SaveCopyTrade(ctx context.Context, ct model.CopyTrade) error
	OpenCopyTradesByMaster(ctx context.Context, masterTradeID string) ([]model.CopyTrade, error)
	UnappliedClosedCopyTrades(ctx context.Context, day string) ([]model.CopyTrade, error)

	MasterProfile(ctx context.Context, accountID string) (model.MasterProfile, error)
	SaveMasterProfile(ctx context.Context, m model.MasterProfile) error
	CreateCommission(ctx context.Context, c model.CopyCommission) error
	AddAdminCommission(ctx context.Context, amount decimal.Decimal) error
}

var minLot = decimal.NewFromFloat(0.01)

type Engine struct {
	store   Store
	trading *engine.Service
	bus     *events.Bus
	locks   *ledger.Locks
	logger  *slog.Logger
	now     func() time.Time
}

func NewEngine(store Store, trading *engine.Service, bus *events.Bus, locks *ledger.Locks, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		trading: trading,
		bus:     bus,
		locks:   locks,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes trade events until ctx is cancelled. Events for accounts
// without active followers are no-ops, so follower trades replayed onto the
// bus do not cascade.
func (e *Engine) Run(ctx context.Context) {
	sub := e.bus.Subscribe()
	defer e.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sub:
			e.handle(ctx, evt)
		}
	}
}

func (e *Engine) handle(ctx context.Context, evt events.TradeEvent) {
	var err error
	switch evt.Type {
	case events.TradeOpened:
		_, err = e.CopyTradeToFollowers(ctx, evt.Trade)
	case events.TradeClosed:
		err = e.CloseFollowerTrades(ctx, evt.Trade)
	case events.TradeModified:
		err = e.MirrorModify(ctx, evt.Trade)
	}
	if err != nil {
		e.logger.Error("copy event handling failed",
			slog.String("event", string(evt.Type)),
			slog.String("master_trade_id", evt.Trade.ID),
			slog.Any("error", err))
	}
}

// FanoutResult reports the outcome of replicating one master trade to one
// follower.
type FanoutResult struct {
	FollowerID string          `json:"follower_id"`
	TradeID    string          `json:"trade_id,omitempty"`
	Lot        decimal.Decimal `json:"lot"`
	Err        error           `json:"-"`
	FailReason string          `json:"fail_reason,omitempty"`
}

// CopyTradeToFollowers replicates a newly opened master trade to every
// active follower. Followers are processed concurrently and failures are
// isolated: one follower's rejection never blocks the others.
func (e *Engine) CopyTradeToFollowers(ctx context.Context, master model.Trade) ([]FanoutResult, error) {
	followers, err := e.store.ActiveFollowers(ctx, master.AccountID)
	if err != nil {
		return nil, err
	}
	if len(followers) == 0 {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		results []FanoutResult
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range followers {
		f := f
		g.Go(func() error {
			res := e.copyOne(gctx, master, f)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Engine) copyOne(ctx context.Context, master model.Trade, follower model.CopyFollower) FanoutResult {
	res := FanoutResult{FollowerID: follower.ID}

	exists, err := e.store.CopyTradeExists(ctx, master.ID, follower.ID)
	if err != nil {
		res.Err = err
		return res
	}
	if exists {
		res.FailReason = "already copied"
		return res
	}

	lot, err := e.sizeLot(ctx, master, follower)
	if err != nil {
		res.Err = err
		return res
	}
	res.Lot = lot

	record := model.CopyTrade{
		MasterTradeID: master.ID,
		FollowerID:    follower.ID,
		AccountID:     follower.AccountID,
		MasterAccount: master.AccountID,
		Symbol:        master.Symbol,
		Side:          master.Side,
		Mode:          follower.Mode,
		MasterLot:     master.Qty,
		Lot:           lot,
		OpenPrice:     master.OpenPrice,
		OpenedAt:      e.now(),
	}

	// Only reachable for explicitly configured lots; sized modes are floored
	// at the minimum.
	if lot.LessThan(minLot) {
		record.Status = types.CopyTradeStatusFailed
		record.FailReason = "computed lot below minimum"
		res.FailReason = record.FailReason
		if err := e.store.CreateCopyTrade(ctx, record); err != nil {
			res.Err = err
		}
		return res
	}

	// The follower fills at the master's execution price regardless of the
	// prevailing quote.
	trade, err := e.trading.OpenTrade(ctx, engine.OpenRequest{
		AccountID:  follower.AccountID,
		Symbol:     master.Symbol,
		Segment:    master.Segment,
		Side:       master.Side,
		OrderType:  types.OrderTypeMarket,
		Qty:        lot,
		Bid:        master.OpenPrice,
		Ask:        master.OpenPrice,
		StopLoss:   master.StopLoss,
		TakeProfit: master.TakeProfit,
	})
	if err != nil {
		record.Status = types.CopyTradeStatusFailed
		record.FailReason = err.Error()
		res.FailReason = record.FailReason
		if createErr := e.store.CreateCopyTrade(ctx, record); createErr != nil {
			res.Err = createErr
			return res
		}
		e.logger.Warn("copy open rejected",
			slog.String("follower_id", follower.ID),
			slog.String("master_trade_id", master.ID),
			slog.String("reason", record.FailReason))
		return res
	}

	record.TradeID = trade.ID
	record.Status = types.CopyTradeStatusOpen
	if err := e.store.CreateCopyTrade(ctx, record); err != nil {
		res.Err = err
		return res
	}
	res.TradeID = trade.ID

	follower.ActiveTrades++
	follower.CopiedTrades++
	if err := e.store.SaveFollower(ctx, follower); err != nil {
		e.logger.Error("follower stats update failed", slog.String("follower_id", follower.ID), slog.Any("error", err))
	}

	e.logger.Info("trade copied",
		slog.String("master_trade_id", master.ID),
		slog.String("follower_id", follower.ID),
		slog.String("lot", lot.String()))
	return res
}

// sizeLot computes the follower's lot for the configured mode. The result
// is rounded to two decimals; proportional and multiplied lots are floored
// at the minimum lot, then everything is capped at the follower's max lot
// size. A small follower therefore still copies at 0.01 rather than being
// sized out.
func (e *Engine) sizeLot(ctx context.Context, master model.Trade, follower model.CopyFollower) (decimal.Decimal, error) {
	var lot decimal.Decimal
	floored := false
	switch follower.Mode {
	case types.CopyModeFixedLot:
		lot = follower.CopyValue
	case types.CopyModeBalanceBased:
		masterAcc, err := e.store.Account(ctx, master.AccountID)
		if err != nil {
			return decimal.Zero, err
		}
		followerAcc, err := e.store.Account(ctx, follower.AccountID)
		if err != nil {
			return decimal.Zero, err
		}
		lot = proportional(master.Qty, followerAcc.Balance, masterAcc.Balance)
		floored = true
	case types.CopyModeEquityBased, types.CopyModeAuto:
		masterMetrics, err := e.trading.AccountMetrics(ctx, master.AccountID)
		if err != nil {
			return decimal.Zero, err
		}
		followerMetrics, err := e.trading.AccountMetrics(ctx, follower.AccountID)
		if err != nil {
			return decimal.Zero, err
		}
		lot = proportional(master.Qty, followerMetrics.Equity, masterMetrics.Equity)
		floored = true
	case types.CopyModeMultiplier, types.CopyModeLotMultiplier:
		lot = master.Qty.Mul(follower.Multiplier)
		floored = true
	default:
		lot = master.Qty
	}
	lot = lot.Round(2)
	if floored && lot.LessThan(minLot) {
		lot = minLot
	}
	if follower.MaxLotSize.GreaterThan(decimal.Zero) && lot.GreaterThan(follower.MaxLotSize) {
		lot = follower.MaxLotSize
	}
	return lot, nil
}

// proportional scales the master lot by the follower/master funding ratio.
// An unfunded master falls back to mirroring the lot one to one.
func proportional(masterLot, followerFunds, masterFunds decimal.Decimal) decimal.Decimal {
	if masterFunds.LessThanOrEqual(decimal.Zero) {
		return masterLot
	}
	return masterLot.Mul(followerFunds).Div(masterFunds)
}

// CloseFollowerTrades closes every open copy of a closed master trade at
// the master's close price. Copies close concurrently; each follower's own
// account lock serializes the ledger write.
func (e *Engine) CloseFollowerTrades(ctx context.Context, master model.Trade) error {
	if master.ClosePrice == nil {
		return nil
	}
	copies, err := e.store.OpenCopyTradesByMaster(ctx, master.ID)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, ct := range copies {
		ct := ct
		g.Go(func() error {
			e.closeOne(gctx, master, ct)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) closeOne(ctx context.Context, master model.Trade, ct model.CopyTrade) {
	result, err := e.trading.CloseTrade(ctx, ct.TradeID, *master.ClosePrice, *master.ClosePrice, master.ClosedBy)
	if err != nil {
		e.logger.Error("copy close failed",
			slog.String("copy_trade_id", ct.ID),
			slog.String("trade_id", ct.TradeID),
			slog.Any("error", err))
		return
	}
	now := e.now()
	ct.Status = types.CopyTradeStatusClosed
	ct.ClosePrice = master.ClosePrice
	ct.PnL = result.RealizedPnL
	ct.ClosedAt = &now
	if err := e.store.SaveCopyTrade(ctx, ct); err != nil {
		e.logger.Error("copy trade persist failed", slog.String("copy_trade_id", ct.ID), slog.Any("error", err))
		return
	}
	e.updateFollowerStats(ctx, ct.FollowerID, result.RealizedPnL)
}

func (e *Engine) updateFollowerStats(ctx context.Context, followerID string, pnl decimal.Decimal) {
	f, err := e.store.Follower(ctx, followerID)
	if err != nil {
		e.logger.Error("follower load failed", slog.String("follower_id", followerID), slog.Any("error", err))
		return
	}
	if f.ActiveTrades > 0 {
		f.ActiveTrades--
	}
	if pnl.GreaterThan(decimal.Zero) {
		f.TotalProfit = f.TotalProfit.Add(pnl)
	} else {
		f.TotalLoss = f.TotalLoss.Add(pnl.Abs())
	}
	if err := e.store.SaveFollower(ctx, f); err != nil {
		e.logger.Error("follower stats update failed", slog.String("follower_id", followerID), slog.Any("error", err))
	}
}

// MirrorModify propagates SL/TP changes on a master trade to its open
// copies, each copy independently.
func (e *Engine) MirrorModify(ctx context.Context, master model.Trade) error {
	copies, err := e.store.OpenCopyTradesByMaster(ctx, master.ID)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, ct := range copies {
		ct := ct
		g.Go(func() error {
			if _, err := e.trading.ModifyTrade(gctx, ct.TradeID, master.StopLoss, master.TakeProfit); err != nil {
				e.logger.Error("copy modify failed",
					slog.String("copy_trade_id", ct.ID),
					slog.String("trade_id", ct.TradeID),
					slog.Any("error", err))
			}
			return nil
		})
	}
	return g.Wait()
}
