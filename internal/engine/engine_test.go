package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lv-margincore/internal/charges"
	"lv-margincore/internal/events"
	"lv-margincore/internal/ledger"
	"lv-margincore/internal/model"
	"lv-margincore/internal/store/memstore"
	"lv-margincore/internal/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type testRig struct {
	store   *memstore.Store
	feed    *fakeFeed
	bus     *events.Bus
	service *Service
}

type fakeFeed struct {
	quotes map[string]model.Quote
}

func (f *fakeFeed) GetLatest(symbol string) (model.Quote, bool) {
	q, ok := f.quotes[symbol]
	return q, ok
}

func (f *fakeFeed) set(symbol string, bid, ask string) {
	f.quotes[symbol] = model.Quote{Symbol: symbol, Bid: dec(bid), Ask: dec(ask), Timestamp: time.Now().UTC()}
}

// tuesdayNoon keeps the forex market-hours gate open in tests.
var tuesdayNoon = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func newRig(t *testing.T) *testRig {
	t.Helper()
	store := memstore.New()
	f := &fakeFeed{quotes: make(map[string]model.Quote)}
	bus := events.NewBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, charges.NewResolver(store), f, bus, ledger.NewLocks(), logger)
	svc.now = func() time.Time { return tuesdayNoon }
	return &testRig{store: store, feed: f, bus: bus, service: svc}
}

func (r *testRig) addAccount(t *testing.T, id, balance, credit string) {
	t.Helper()
	require.NoError(t, r.store.SaveAccount(context.Background(), model.TradingAccount{
		ID:       id,
		UserID:   "user-" + id,
		Balance:  dec(balance),
		Credit:   dec(credit),
		Leverage: 100,
		Status:   types.AccountStatusActive,
	}))
}

func (r *testRig) openMarket(t *testing.T, accountID, symbol, qty string, side types.Side) model.Trade {
	t.Helper()
	trade, err := r.service.OpenTrade(context.Background(), OpenRequest{
		AccountID: accountID,
		Symbol:    symbol,
		Segment:   "forex",
		Side:      side,
		OrderType: types.OrderTypeMarket,
		Qty:       dec(qty),
	})
	require.NoError(t, err)
	return trade
}

func TestOpenMarketTrade(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "5000", "0")
	rig.feed.set("EURUSD", "1.08500", "1.08520")

	trade := rig.openMarket(t, "a1", "EURUSD", "0.1", types.SideBuy)

	assert.Equal(t, types.TradeStatusOpen, trade.Status)
	assert.True(t, trade.OpenPrice.Equal(dec("1.08520")), "price=%s", trade.OpenPrice)
	// 0.1 * 100000 * 1.0852 / 100 = 108.52
	assert.True(t, trade.MarginUsed.Equal(dec("108.52")), "margin=%s", trade.MarginUsed)
	assert.True(t, trade.ContractSize.Equal(dec("100000")))
}

func TestOpenDeductsEntryCommission(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "5000", "0")
	rig.feed.set("EURUSD", "1.08500", "1.08520")
	require.NoError(t, rig.store.SaveChargeRule(context.Background(), model.ChargeRule{
		Level:           types.ChargeLevelGlobal,
		CommissionType:  types.CommissionTypePerLot,
		CommissionValue: dec("7"),
		CommissionOnBuy: true, CommissionOnSell: true,
		IsActive: true,
	}))

	trade := rig.openMarket(t, "a1", "EURUSD", "2", types.SideBuy)
	assert.True(t, trade.Commission.Equal(dec("14")))

	acc, err := rig.store.Account(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("4986")), "balance=%s", acc.Balance)
}

func TestOpenValidationFailures(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "1000", "0")
	rig.feed.set("EURUSD", "1.08500", "1.08520")
	ctx := context.Background()

	base := OpenRequest{AccountID: "a1", Symbol: "EURUSD", Segment: "forex", Side: types.SideBuy, OrderType: types.OrderTypeMarket, Qty: dec("0.1")}

	t.Run("InvalidSide", func(t *testing.T) {
		req := base
		req.Side = "LONG"
		_, err := rig.service.OpenTrade(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidSide)
	})

	t.Run("InvalidQty", func(t *testing.T) {
		req := base
		req.Qty = decimal.Zero
		_, err := rig.service.OpenTrade(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidQty)
	})

	t.Run("MarketClosedWeekend", func(t *testing.T) {
		rig.service.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }
		defer func() { rig.service.now = func() time.Time { return tuesdayNoon } }()
		_, err := rig.service.OpenTrade(ctx, base)
		assert.ErrorIs(t, err, ErrMarketClosed)
	})

	t.Run("NoQuote", func(t *testing.T) {
		req := base
		req.Symbol = "GBPUSD"
		_, err := rig.service.OpenTrade(ctx, req)
		assert.ErrorIs(t, err, ErrNoQuote)
	})

	t.Run("AccountNotActive", func(t *testing.T) {
		require.NoError(t, rig.store.SaveAccount(ctx, model.TradingAccount{ID: "frozen", Balance: dec("1000"), Status: types.AccountStatusFrozen, Leverage: 100}))
		req := base
		req.AccountID = "frozen"
		_, err := rig.service.OpenTrade(ctx, req)
		assert.ErrorIs(t, err, ErrAccountNotActive)
	})

	t.Run("NoFunds", func(t *testing.T) {
		require.NoError(t, rig.store.SaveAccount(ctx, model.TradingAccount{ID: "broke", Balance: decimal.Zero, Status: types.AccountStatusActive, Leverage: 100}))
		req := base
		req.AccountID = "broke"
		_, err := rig.service.OpenTrade(ctx, req)
		assert.ErrorIs(t, err, ErrNoFunds)
	})

	t.Run("InsufficientMargin", func(t *testing.T) {
		req := base
		req.Qty = dec("10") // 10 lots needs ~10852 margin against 1000 balance
		_, err := rig.service.OpenTrade(ctx, req)
		assert.ErrorIs(t, err, ErrInsufficientMargin)
	})
}

func TestOpenRespectsCaps(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "100000", "0")
	rig.feed.set("EURUSD", "1.08500", "1.08520")
	ctx := context.Background()

	settings := model.DefaultTradeSettings()
	settings.MaxOpenTradesPerUser = 1
	require.NoError(t, rig.store.SaveTradeSettings(ctx, settings))

	rig.openMarket(t, "a1", "EURUSD", "0.1", types.SideBuy)
	_, err := rig.service.OpenTrade(ctx, OpenRequest{AccountID: "a1", Symbol: "EURUSD", Segment: "forex", Side: types.SideBuy, OrderType: types.OrderTypeMarket, Qty: dec("0.1")})
	assert.ErrorIs(t, err, ErrMaxTradesExceeded)

	settings.MaxOpenTradesPerUser = 100
	settings.MaxOpenLotsPerUser = dec("0.5")
	require.NoError(t, rig.store.SaveTradeSettings(ctx, settings))
	_, err = rig.service.OpenTrade(ctx, OpenRequest{AccountID: "a1", Symbol: "EURUSD", Segment: "forex", Side: types.SideBuy, OrderType: types.OrderTypeMarket, Qty: dec("0.41")})
	assert.ErrorIs(t, err, ErrMaxLotsExceeded)
}

func TestCloseAppliesLedgerDiscipline(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "100", "50")
	rig.feed.set("EURUSD", "1.10000", "1.10002")
	ctx := context.Background()

	trade := model.Trade{
		ID: "t1", AccountID: "a1", Symbol: "EURUSD", Segment: "forex",
		Side: types.SideBuy, OrderType: types.OrderTypeMarket, Status: types.TradeStatusOpen,
		Qty: dec("0.1"), OpenPrice: dec("1.10000"), Leverage: 100, ContractSize: dec("100000"),
	}
	require.NoError(t, rig.store.CreateTrade(ctx, trade))

	// Close 13 pips down: 0.1 * 100000 * -0.0013 = -130.
	res, err := rig.service.CloseTrade(ctx, "t1", dec("1.09870"), dec("1.09872"), types.ClosedByUser)
	require.NoError(t, err)
	assert.True(t, res.RealizedPnL.Equal(dec("-130")), "pnl=%s", res.RealizedPnL)

	acc, err := rig.store.Account(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero(), "balance=%s", acc.Balance)
	assert.True(t, acc.Credit.Equal(dec("20")), "credit=%s", acc.Credit)
}

func TestCloseSubtractsSwapAndCloseCommission(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "1000", "0")
	ctx := context.Background()
	require.NoError(t, rig.store.SaveChargeRule(ctx, model.ChargeRule{
		Level:           types.ChargeLevelGlobal,
		CommissionType:  types.CommissionTypePerLot,
		CommissionValue: dec("5"),
		CommissionOnBuy: true, CommissionOnSell: true, CommissionOnClose: true,
		IsActive: true,
	}))

	trade := model.Trade{
		ID: "t1", AccountID: "a1", Symbol: "EURUSD", Segment: "forex",
		Side: types.SideBuy, OrderType: types.OrderTypeMarket, Status: types.TradeStatusOpen,
		Qty: dec("1"), OpenPrice: dec("1.10000"), Leverage: 100, ContractSize: dec("100000"),
		Swap: dec("3"),
	}
	require.NoError(t, rig.store.CreateTrade(ctx, trade))

	// +500 raw, minus 3 swap, minus 5 close commission.
	res, err := rig.service.CloseTrade(ctx, "t1", dec("1.10500"), dec("1.10502"), types.ClosedByUser)
	require.NoError(t, err)
	assert.True(t, res.RealizedPnL.Equal(dec("492")), "pnl=%s", res.RealizedPnL)
}

func TestTradeNeverReopened(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "1000", "0")
	rig.feed.set("EURUSD", "1.10000", "1.10002")
	ctx := context.Background()

	trade := rig.openMarket(t, "a1", "EURUSD", "0.1", types.SideBuy)
	_, err := rig.service.CloseTrade(ctx, trade.ID, dec("1.10000"), dec("1.10002"), types.ClosedByUser)
	require.NoError(t, err)

	_, err = rig.service.CloseTrade(ctx, trade.ID, dec("1.10000"), dec("1.10002"), types.ClosedByUser)
	assert.ErrorIs(t, err, ErrTradeNotOpen)

	_, err = rig.service.CancelPending(ctx, trade.ID)
	assert.ErrorIs(t, err, ErrTradeNotPending)
}

func TestPendingOrderLifecycle(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "5000", "0")
	rig.feed.set("EURUSD", "1.08500", "1.08520")
	ctx := context.Background()

	trade, err := rig.service.OpenTrade(ctx, OpenRequest{
		AccountID: "a1", Symbol: "EURUSD", Segment: "forex",
		Side: types.SideBuy, OrderType: types.OrderTypeBuyLimit,
		Qty: dec("0.1"), TriggerPrice: decPtr("1.08000"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusPending, trade.Status)

	// Ask still above the limit: nothing fires.
	executed, err := rig.service.CheckPendingOrders(ctx, map[string]model.Quote{
		"EURUSD": {Symbol: "EURUSD", Bid: dec("1.08480"), Ask: dec("1.08500")},
	})
	require.NoError(t, err)
	assert.Empty(t, executed)

	// Ask crosses: fills at the triggering ask, not the armed price.
	executed, err = rig.service.CheckPendingOrders(ctx, map[string]model.Quote{
		"EURUSD": {Symbol: "EURUSD", Bid: dec("1.07950"), Ask: dec("1.07970")},
	})
	require.NoError(t, err)
	require.Len(t, executed, 1)
	assert.Equal(t, types.TradeStatusOpen, executed[0].Status)
	assert.True(t, executed[0].OpenPrice.Equal(dec("1.07970")), "price=%s", executed[0].OpenPrice)
	assert.True(t, executed[0].MarginUsed.GreaterThan(decimal.Zero))
}

func TestPendingTriggerDirections(t *testing.T) {
	cases := []struct {
		orderType types.OrderType
		trigger   string
		bid, ask  string
		fires     bool
		fillPrice string
	}{
		{types.OrderTypeBuyLimit, "1.0800", "1.0790", "1.0795", true, "1.0795"},
		{types.OrderTypeBuyLimit, "1.0800", "1.0800", "1.0805", false, ""},
		{types.OrderTypeBuyStop, "1.0900", "1.0898", "1.0902", true, "1.0902"},
		{types.OrderTypeBuyStop, "1.0900", "1.0890", "1.0895", false, ""},
		{types.OrderTypeSellLimit, "1.0900", "1.0902", "1.0905", true, "1.0902"},
		{types.OrderTypeSellLimit, "1.0900", "1.0890", "1.0895", false, ""},
		{types.OrderTypeSellStop, "1.0800", "1.0795", "1.0798", true, "1.0795"},
		{types.OrderTypeSellStop, "1.0800", "1.0805", "1.0808", false, ""},
	}
	for _, tc := range cases {
		price, fired := pendingTrigger(tc.orderType, dec(tc.trigger), dec(tc.bid), dec(tc.ask))
		assert.Equal(t, tc.fires, fired, "%s trigger=%s bid=%s ask=%s", tc.orderType, tc.trigger, tc.bid, tc.ask)
		if tc.fires {
			assert.True(t, price.Equal(dec(tc.fillPrice)), "%s fill=%s", tc.orderType, price)
		}
	}
}

func TestPendingFillRechecksAdmission(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	rig.feed.set("EURUSD", "1.08500", "1.08520")
	trigger := map[string]model.Quote{
		"EURUSD": {Symbol: "EURUSD", Bid: dec("1.07950"), Ask: dec("1.07970")},
	}

	t.Run("InsufficientMargin", func(t *testing.T) {
		rig.addAccount(t, "thin", "100", "0")

		// Arming is cheap; the admission decision belongs to trigger time.
		trade, err := rig.service.OpenTrade(ctx, OpenRequest{
			AccountID: "thin", Symbol: "EURUSD", Segment: "forex",
			Side: types.SideBuy, OrderType: types.OrderTypeBuyLimit,
			Qty: dec("50"), TriggerPrice: decPtr("1.08000"),
		})
		require.NoError(t, err)

		executed, err := rig.service.CheckPendingOrders(ctx, trigger)
		require.NoError(t, err)
		assert.Empty(t, executed)

		stored, err := rig.store.Trade(ctx, trade.ID)
		require.NoError(t, err)
		assert.Equal(t, types.TradeStatusCancelled, stored.Status)
		assert.True(t, stored.MarginUsed.IsZero())

		acc, err := rig.store.Account(ctx, "thin")
		require.NoError(t, err)
		assert.True(t, acc.Balance.Equal(dec("100")))
	})

	t.Run("AccountNoLongerActive", func(t *testing.T) {
		rig.addAccount(t, "chilled", "5000", "0")

		trade, err := rig.service.OpenTrade(ctx, OpenRequest{
			AccountID: "chilled", Symbol: "EURUSD", Segment: "forex",
			Side: types.SideBuy, OrderType: types.OrderTypeBuyLimit,
			Qty: dec("0.1"), TriggerPrice: decPtr("1.08000"),
		})
		require.NoError(t, err)

		acc, err := rig.store.Account(ctx, "chilled")
		require.NoError(t, err)
		acc.Status = types.AccountStatusFrozen
		require.NoError(t, rig.store.SaveAccount(ctx, acc))

		executed, err := rig.service.CheckPendingOrders(ctx, trigger)
		require.NoError(t, err)
		assert.Empty(t, executed)

		stored, err := rig.store.Trade(ctx, trade.ID)
		require.NoError(t, err)
		assert.Equal(t, types.TradeStatusCancelled, stored.Status)
	})
}

func TestCancelPending(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "5000", "0")
	rig.feed.set("EURUSD", "1.08500", "1.08520")
	ctx := context.Background()

	trade, err := rig.service.OpenTrade(ctx, OpenRequest{
		AccountID: "a1", Symbol: "EURUSD", Segment: "forex",
		Side: types.SideSell, OrderType: types.OrderTypeSellStop,
		Qty: dec("0.1"), TriggerPrice: decPtr("1.08000"),
	})
	require.NoError(t, err)

	cancelled, err := rig.service.CancelPending(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusCancelled, cancelled.Status)

	// Cancelling left the balance untouched.
	acc, err := rig.store.Account(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("5000")))
}

func TestSlTpClosesAtExactPrice(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "5000", "0")
	ctx := context.Background()

	trade := model.Trade{
		ID: "t1", AccountID: "a1", Symbol: "EURUSD", Segment: "forex",
		Side: types.SideBuy, OrderType: types.OrderTypeMarket, Status: types.TradeStatusOpen,
		Qty: dec("0.1"), OpenPrice: dec("1.09000"), StopLoss: decPtr("1.0800"),
		Leverage: 100, ContractSize: dec("100000"),
	}
	require.NoError(t, rig.store.CreateTrade(ctx, trade))

	// Bid gaps through the stop to 1.0795; fill is still exactly 1.0800.
	triggered, err := rig.service.CheckSLTPAll(ctx, map[string]model.Quote{
		"EURUSD": {Symbol: "EURUSD", Bid: dec("1.0795"), Ask: dec("1.0797")},
	})
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, types.ClosedBySL, triggered[0].ClosedBy)
	require.NotNil(t, triggered[0].ClosePrice)
	assert.True(t, triggered[0].ClosePrice.Equal(dec("1.0800")), "close=%s", triggered[0].ClosePrice)
}

func TestSlTpDirections(t *testing.T) {
	buy := model.Trade{Side: types.SideBuy, StopLoss: decPtr("1.08"), TakeProfit: decPtr("1.10")}
	sell := model.Trade{Side: types.SideSell, StopLoss: decPtr("1.10"), TakeProfit: decPtr("1.08")}

	_, by, hit := slTpTrigger(buy, dec("1.079"), dec("1.0792"))
	assert.True(t, hit)
	assert.Equal(t, types.ClosedBySL, by)

	_, by, hit = slTpTrigger(buy, dec("1.101"), dec("1.1012"))
	assert.True(t, hit)
	assert.Equal(t, types.ClosedByTP, by)

	_, _, hit = slTpTrigger(buy, dec("1.09"), dec("1.0902"))
	assert.False(t, hit)

	_, by, hit = slTpTrigger(sell, dec("1.1008"), dec("1.101"))
	assert.True(t, hit)
	assert.Equal(t, types.ClosedBySL, by)

	_, by, hit = slTpTrigger(sell, dec("1.0788"), dec("1.079"))
	assert.True(t, hit)
	assert.Equal(t, types.ClosedByTP, by)
}

func TestStopOutLiquidatesEverything(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "100", "0")
	ctx := context.Background()

	// Two longs deep underwater; equity goes to zero.
	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, rig.store.CreateTrade(ctx, model.Trade{
			ID: id, AccountID: "a1", Symbol: "EURUSD", Segment: "forex",
			Side: types.SideBuy, OrderType: types.OrderTypeMarket, Status: types.TradeStatusOpen,
			Qty: dec("0.1"), OpenPrice: dec("1.10000"), MarginUsed: dec("110"),
			Leverage: 100, ContractSize: dec("100000"),
		}))
	}

	res, err := rig.service.CheckStopOut(ctx, "a1", map[string]model.Quote{
		"EURUSD": {Symbol: "EURUSD", Bid: dec("1.09000"), Ask: dec("1.09002")},
	})
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Len(t, res.ClosedTrades, 2)
	for _, closed := range res.ClosedTrades {
		assert.Equal(t, types.ClosedByStopOut, closed.ClosedBy)
	}

	acc, err := rig.store.Account(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero(), "balance=%s", acc.Balance)

	open, err := rig.store.OpenTradesByAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestStopOutNotTriggeredWhenHealthy(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "10000", "0")
	ctx := context.Background()

	require.NoError(t, rig.store.CreateTrade(ctx, model.Trade{
		ID: "t1", AccountID: "a1", Symbol: "EURUSD", Segment: "forex",
		Side: types.SideBuy, OrderType: types.OrderTypeMarket, Status: types.TradeStatusOpen,
		Qty: dec("0.1"), OpenPrice: dec("1.10000"), MarginUsed: dec("110"),
		Leverage: 100, ContractSize: dec("100000"),
	}))

	res, err := rig.service.CheckStopOut(ctx, "a1", map[string]model.Quote{
		"EURUSD": {Symbol: "EURUSD", Bid: dec("1.09950"), Ask: dec("1.09952")},
	})
	require.NoError(t, err)
	assert.False(t, res.Triggered)
}

func TestApplySwapAccrues(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "1000", "0")
	ctx := context.Background()
	require.NoError(t, rig.store.SaveChargeRule(ctx, model.ChargeRule{
		Level:    types.ChargeLevelGlobal,
		SwapType: types.SwapTypePoints,
		SwapLong: dec("-2"), SwapShort: dec("1"),
		IsActive: true,
	}))

	require.NoError(t, rig.store.CreateTrade(ctx, model.Trade{
		ID: "long", AccountID: "a1", Symbol: "EURUSD", Segment: "forex",
		Side: types.SideBuy, OrderType: types.OrderTypeMarket, Status: types.TradeStatusOpen,
		Qty: dec("0.5"), OpenPrice: dec("1.10000"), Leverage: 100, ContractSize: dec("100000"),
	}))
	require.NoError(t, rig.store.CreateTrade(ctx, model.Trade{
		ID: "short", AccountID: "a1", Symbol: "EURUSD", Segment: "forex",
		Side: types.SideSell, OrderType: types.OrderTypeMarket, Status: types.TradeStatusOpen,
		Qty: dec("0.5"), OpenPrice: dec("1.10000"), Leverage: 100, ContractSize: dec("100000"),
	}))

	require.NoError(t, rig.service.ApplySwap(ctx))
	require.NoError(t, rig.service.ApplySwap(ctx))

	long, err := rig.store.Trade(ctx, "long")
	require.NoError(t, err)
	assert.True(t, long.Swap.Equal(dec("-2")), "swap=%s", long.Swap)

	short, err := rig.store.Trade(ctx, "short")
	require.NoError(t, err)
	assert.True(t, short.Swap.Equal(dec("1")), "swap=%s", short.Swap)
}

func TestApplySwapPercentage(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "1000", "0")
	ctx := context.Background()
	require.NoError(t, rig.store.SaveChargeRule(ctx, model.ChargeRule{
		Level:    types.ChargeLevelGlobal,
		SwapType: types.SwapTypePercentage,
		SwapLong: dec("-0.01"), SwapShort: dec("-0.01"),
		IsActive: true,
	}))

	require.NoError(t, rig.store.CreateTrade(ctx, model.Trade{
		ID: "t1", AccountID: "a1", Symbol: "EURUSD", Segment: "forex",
		Side: types.SideBuy, OrderType: types.OrderTypeMarket, Status: types.TradeStatusOpen,
		Qty: dec("1"), OpenPrice: dec("1.20000"), Leverage: 100, ContractSize: dec("100000"),
	}))

	require.NoError(t, rig.service.ApplySwap(ctx))
	trade, err := rig.store.Trade(ctx, "t1")
	require.NoError(t, err)
	// 1 * 100000 * 1.2 * -0.01% = -12
	assert.True(t, trade.Swap.Equal(dec("-12")), "swap=%s", trade.Swap)
}

func TestModifyTrade(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "5000", "0")
	rig.feed.set("EURUSD", "1.08500", "1.08520")
	ctx := context.Background()

	trade := rig.openMarket(t, "a1", "EURUSD", "0.1", types.SideBuy)
	modified, err := rig.service.ModifyTrade(ctx, trade.ID, decPtr("1.0800"), decPtr("1.1000"))
	require.NoError(t, err)
	require.NotNil(t, modified.StopLoss)
	assert.True(t, modified.StopLoss.Equal(dec("1.0800")))
	require.NotNil(t, modified.TakeProfit)
	assert.True(t, modified.TakeProfit.Equal(dec("1.1000")))
}

func TestResetDemoAccount(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	require.NoError(t, rig.store.SaveAccount(ctx, model.TradingAccount{
		ID: "demo", UserID: "u", Balance: dec("50"), Credit: dec("10"),
		Leverage: 100, Status: types.AccountStatusActive, IsDemo: true,
	}))
	rig.feed.set("EURUSD", "1.08500", "1.08520")

	require.NoError(t, rig.store.CreateTrade(ctx, model.Trade{
		ID: "t1", AccountID: "demo", Symbol: "EURUSD", Segment: "forex",
		Side: types.SideBuy, OrderType: types.OrderTypeMarket, Status: types.TradeStatusOpen,
		Qty: dec("0.1"), OpenPrice: dec("1.09000"), Leverage: 100, ContractSize: dec("100000"),
	}))

	require.NoError(t, rig.service.ResetDemoAccount(ctx, "demo"))

	acc, err := rig.store.Account(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("10000")))
	assert.True(t, acc.Credit.IsZero())

	closed, err := rig.store.Trade(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusClosed, closed.Status)
	assert.Equal(t, types.ClosedByDemoReset, closed.ClosedBy)

	err = rig.service.ResetDemoAccount(ctx, "demo")
	require.NoError(t, err)

	rig.addAccount(t, "real", "100", "0")
	assert.ErrorIs(t, rig.service.ResetDemoAccount(ctx, "real"), ErrNotDemoAccount)
}

func TestOpenPublishesEvent(t *testing.T) {
	rig := newRig(t)
	rig.addAccount(t, "a1", "5000", "0")
	rig.feed.set("EURUSD", "1.08500", "1.08520")

	sub := rig.bus.Subscribe()
	defer rig.bus.Unsubscribe(sub)

	trade := rig.openMarket(t, "a1", "EURUSD", "0.1", types.SideBuy)

	select {
	case evt := <-sub:
		assert.Equal(t, events.TradeOpened, evt.Type)
		assert.Equal(t, trade.ID, evt.Trade.ID)
	default:
		t.Fatal("expected opened event")
	}
}
