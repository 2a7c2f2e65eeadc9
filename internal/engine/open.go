package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lv-margincore/internal/events"
	"lv-margincore/internal/ledger"
	"lv-margincore/internal/model"
	"lv-margincore/internal/risk"
	"lv-margincore/internal/types"
)

type OpenRequest struct {
	AccountID string
	Symbol    string
	Segment   string
	Side      types.Side
	OrderType types.OrderType
	Qty       decimal.Decimal
	// Bid/Ask may be supplied by the caller; when zero the latest cached
	// quote is used.
	Bid decimal.Decimal
	Ask decimal.Decimal
	// TriggerPrice arms limit/stop orders. Ignored for market orders.
	TriggerPrice *decimal.Decimal
	StopLoss     *decimal.Decimal
	TakeProfit   *decimal.Decimal
	// Leverage overrides the account leverage when positive.
	Leverage int
}

// OpenTrade validates and executes an open request. Market orders open
// immediately at the spread-adjusted price; limit/stop orders are armed as
// PENDING and fill from the pending-order sweep.
func (s *Service) OpenTrade(ctx context.Context, req OpenRequest) (model.Trade, error) {
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return model.Trade{}, ErrInvalidSide
	}
	switch req.OrderType {
	case types.OrderTypeMarket, types.OrderTypeBuyLimit, types.OrderTypeBuyStop,
		types.OrderTypeSellLimit, types.OrderTypeSellStop:
	default:
		return model.Trade{}, ErrInvalidOrderType
	}
	if req.Qty.LessThanOrEqual(decimal.Zero) {
		return model.Trade{}, ErrInvalidQty
	}
	if !risk.IsMarketOpen(req.Symbol, s.now()) {
		return model.Trade{}, ErrMarketClosed
	}

	bid, ask, err := s.quoteFor(req.Symbol, req.Bid, req.Ask)
	if err != nil {
		return model.Trade{}, err
	}

	acc, err := s.store.Account(ctx, req.AccountID)
	if err != nil {
		return model.Trade{}, fmt.Errorf("load account: %w", err)
	}
	if acc.Status != types.AccountStatusActive {
		return model.Trade{}, ErrAccountNotActive
	}
	if acc.Balance.IsZero() && acc.Credit.IsZero() {
		return model.Trade{}, ErrNoFunds
	}

	settings, err := s.store.TradeSettings(ctx)
	if err != nil {
		return model.Trade{}, fmt.Errorf("load trade settings: %w", err)
	}
	open, err := s.store.OpenTradesByAccount(ctx, req.AccountID)
	if err != nil {
		return model.Trade{}, fmt.Errorf("load open trades: %w", err)
	}
	if settings.MaxOpenTradesPerUser > 0 && len(open) >= settings.MaxOpenTradesPerUser {
		return model.Trade{}, ErrMaxTradesExceeded
	}
	openLots := decimal.Zero
	for _, t := range open {
		openLots = openLots.Add(t.Qty)
	}
	if settings.MaxOpenLotsPerUser.GreaterThan(decimal.Zero) && openLots.Add(req.Qty).GreaterThan(settings.MaxOpenLotsPerUser) {
		return model.Trade{}, ErrMaxLotsExceeded
	}

	leverage := req.Leverage
	if leverage <= 0 {
		leverage = acc.Leverage
	}
	if leverage <= 0 {
		leverage = 100
	}

	charge, err := s.charges.Resolve(ctx, acc.UserID, req.Symbol, req.Segment, acc.TierID)
	if err != nil {
		return model.Trade{}, err
	}

	contractSize := risk.ContractSize(req.Symbol)
	trade := model.Trade{
		ID:           uuid.NewString(),
		AccountID:    req.AccountID,
		Symbol:       req.Symbol,
		Segment:      req.Segment,
		Side:         req.Side,
		OrderType:    req.OrderType,
		Qty:          req.Qty,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Leverage:     leverage,
		ContractSize: contractSize,
		Spread:       risk.SpreadAmount(req.Symbol, bid, ask, charge.SpreadValue, charge.SpreadType),
		CreatedAt:    s.now(),
	}

	if req.OrderType != types.OrderTypeMarket {
		if req.TriggerPrice == nil || req.TriggerPrice.LessThanOrEqual(decimal.Zero) {
			return model.Trade{}, ErrTriggerRequired
		}
		trade.Status = types.TradeStatusPending
		trade.TriggerPrice = req.TriggerPrice
		if err := s.store.CreateTrade(ctx, trade); err != nil {
			return model.Trade{}, fmt.Errorf("persist pending order: %w", err)
		}
		s.logger.Info("pending order armed",
			slog.String("trade_id", trade.ID),
			slog.String("account_id", trade.AccountID),
			slog.String("symbol", trade.Symbol),
			slog.String("type", string(trade.OrderType)))
		return trade, nil
	}

	execPrice := risk.ExecutionPrice(req.Side, req.Symbol, bid, ask, charge.SpreadValue, charge.SpreadType)
	margin := risk.Margin(req.Qty, execPrice, leverage, contractSize)
	metrics := s.metricsFor(acc, open, map[string]model.Quote{
		req.Symbol: {Symbol: req.Symbol, Bid: bid, Ask: ask},
	})
	if margin.GreaterThan(metrics.FreeMargin) || margin.GreaterThan(metrics.Equity) {
		return model.Trade{}, ErrInsufficientMargin
	}

	commission := decimal.Zero
	if charge.CommissionCharged(req.Side) {
		commission = risk.Commission(req.Qty, execPrice, charge.CommissionType, charge.CommissionValue, contractSize)
	}

	trade.Status = types.TradeStatusOpen
	trade.OpenPrice = execPrice
	trade.MarginUsed = margin
	trade.Commission = commission
	trade.OpenedAt = s.now()

	err = s.locks.WithAccount(req.AccountID, func() error {
		if commission.GreaterThan(decimal.Zero) {
			fresh, err := s.store.Account(ctx, req.AccountID)
			if err != nil {
				return fmt.Errorf("load account: %w", err)
			}
			ledger.Deduct(&fresh, commission)
			if err := s.store.SaveAccount(ctx, fresh); err != nil {
				return fmt.Errorf("charge commission: %w", err)
			}
		}
		if err := s.store.CreateTrade(ctx, trade); err != nil {
			return fmt.Errorf("persist trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Trade{}, err
	}

	s.logger.Info("trade opened",
		slog.String("trade_id", trade.ID),
		slog.String("account_id", trade.AccountID),
		slog.String("symbol", trade.Symbol),
		slog.String("side", string(trade.Side)),
		slog.String("qty", trade.Qty.String()),
		slog.String("price", execPrice.String()))
	s.publish(events.TradeOpened, trade)
	return trade, nil
}

// ModifyTrade updates stop-loss and take-profit on an open or pending trade.
func (s *Service) ModifyTrade(ctx context.Context, tradeID string, stopLoss, takeProfit *decimal.Decimal) (model.Trade, error) {
	trade, err := s.store.Trade(ctx, tradeID)
	if err != nil {
		return model.Trade{}, fmt.Errorf("load trade: %w", err)
	}
	if !trade.IsOpen() && !trade.IsPending() {
		return model.Trade{}, ErrTradeNotOpen
	}
	if stopLoss != nil {
		trade.StopLoss = stopLoss
	}
	if takeProfit != nil {
		trade.TakeProfit = takeProfit
	}
	if err := s.store.SaveTrade(ctx, trade); err != nil {
		return model.Trade{}, fmt.Errorf("persist trade: %w", err)
	}
	if trade.IsOpen() {
		s.publish(events.TradeModified, trade)
	}
	return trade, nil
}

// CancelPending cancels an order that has not triggered yet. No ledger
// effect: pending orders reserve nothing.
func (s *Service) CancelPending(ctx context.Context, tradeID string) (model.Trade, error) {
	trade, err := s.store.Trade(ctx, tradeID)
	if err != nil {
		return model.Trade{}, fmt.Errorf("load trade: %w", err)
	}
	if !trade.IsPending() {
		return model.Trade{}, ErrTradeNotPending
	}
	trade.Status = types.TradeStatusCancelled
	if err := s.store.SaveTrade(ctx, trade); err != nil {
		return model.Trade{}, fmt.Errorf("persist trade: %w", err)
	}
	return trade, nil
}
