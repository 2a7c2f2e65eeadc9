package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"lv-margincore/internal/charges"
	"lv-margincore/internal/events"
	"lv-margincore/internal/ledger"
	"lv-margincore/internal/model"
	"lv-margincore/internal/risk"
	"lv-margincore/internal/types"
)

// Store is the account/trade persistence the engine needs. Implementations
// must make SaveAccount/SaveTrade atomic per record; cross-record
// serialization is the engine's job via ledger.Locks.
type Store interface {
	Account(ctx context.Context, id string) (model.TradingAccount, error)
	SaveAccount(ctx context.Context, acc model.TradingAccount) error
	CreateTrade(ctx context.Context, t model.Trade) error
	Trade(ctx context.Context, id string) (model.Trade, error)
	SaveTrade(ctx context.Context, t model.Trade) error
	OpenTradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error)
	OpenTrades(ctx context.Context) ([]model.Trade, error)
	PendingTrades(ctx context.Context) ([]model.Trade, error)
	TradeSettings(ctx context.Context) (model.TradeSettings, error)
}

// QuoteSource is the read side of the price feed cache.
type QuoteSource interface {
	GetLatest(symbol string) (model.Quote, bool)
}

type Service struct {
	store            Store
	charges          *charges.Resolver
	quotes           QuoteSource
	bus              *events.Bus
	locks            *ledger.Locks
	logger           *slog.Logger
	demoStartBalance decimal.Decimal
	now              func() time.Time
}

func NewService(store Store, resolver *charges.Resolver, quotes QuoteSource, bus *events.Bus, locks *ledger.Locks, logger *slog.Logger) *Service {
	return &Service{
		store:            store,
		charges:          resolver,
		quotes:           quotes,
		bus:              bus,
		locks:            locks,
		logger:           logger,
		demoStartBalance: decimal.NewFromInt(10000),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// quoteFor returns the working bid/ask: explicit values win, otherwise the
// latest cached quote. Never blocks waiting for fresh data.
func (s *Service) quoteFor(symbol string, bid, ask decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if bid.GreaterThan(decimal.Zero) && ask.GreaterThan(decimal.Zero) {
		return bid, ask, nil
	}
	q, ok := s.quotes.GetLatest(symbol)
	if !ok || !q.Valid() {
		return decimal.Zero, decimal.Zero, ErrNoQuote
	}
	return q.Bid, q.Ask, nil
}

// AccountMetrics computes equity, free margin and margin level for the
// account at the latest cached quotes. Open trades without a quote
// contribute margin but no floating P&L.
func (s *Service) AccountMetrics(ctx context.Context, accountID string) (risk.AccountMetrics, error) {
	acc, err := s.store.Account(ctx, accountID)
	if err != nil {
		return risk.AccountMetrics{}, fmt.Errorf("load account: %w", err)
	}
	open, err := s.store.OpenTradesByAccount(ctx, accountID)
	if err != nil {
		return risk.AccountMetrics{}, fmt.Errorf("load open trades: %w", err)
	}
	return s.metricsFor(acc, open, nil), nil
}

// metricsFor computes metrics from a snapshot. prices overrides the cache
// when the caller already has a consistent batch (risk sweeps).
func (s *Service) metricsFor(acc model.TradingAccount, open []model.Trade, prices map[string]model.Quote) risk.AccountMetrics {
	var floating, usedMargin decimal.Decimal
	for _, t := range open {
		usedMargin = usedMargin.Add(t.MarginUsed)
		mark, ok := s.markPrice(t, prices)
		if !ok {
			continue
		}
		floating = floating.Add(risk.PnL(t.Side, t.OpenPrice, mark, t.Qty, t.ContractSize))
	}
	return risk.ComputeMetrics(acc.Balance, acc.Credit, floating, usedMargin)
}

// markPrice is the closing side of the book: bid for longs, ask for shorts.
func (s *Service) markPrice(t model.Trade, prices map[string]model.Quote) (decimal.Decimal, bool) {
	q, ok := prices[t.Symbol]
	if !ok {
		q, ok = s.quotes.GetLatest(t.Symbol)
	}
	if !ok || !q.Valid() {
		return decimal.Zero, false
	}
	if t.Side == types.SideSell {
		return q.Ask, true
	}
	return q.Bid, true
}

func (s *Service) floatingPnL(t model.Trade, prices map[string]model.Quote) (decimal.Decimal, bool) {
	mark, ok := s.markPrice(t, prices)
	if !ok {
		return decimal.Zero, false
	}
	return risk.PnL(t.Side, t.OpenPrice, mark, t.Qty, t.ContractSize), true
}

func (s *Service) publish(evtType events.EventType, t model.Trade) {
	if s.bus != nil {
		s.bus.Publish(events.TradeEvent{Type: evtType, Trade: t})
	}
}
