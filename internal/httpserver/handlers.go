package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"lv-margincore/internal/audit"
	"lv-margincore/internal/engine"
	"lv-margincore/internal/feed"
	"lv-margincore/internal/httputil"
	"lv-margincore/internal/model"
	"lv-margincore/internal/types"
)

// Store is the persistence the HTTP layer reads and writes directly,
// outside the trading engine's own operations.
type Store interface {
	Account(ctx context.Context, id string) (model.TradingAccount, error)
	SaveAccount(ctx context.Context, acc model.TradingAccount) error
	Trade(ctx context.Context, id string) (model.Trade, error)
	OpenTradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error)
	TradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error)
	ActiveChargeRules(ctx context.Context) ([]model.ChargeRule, error)
	SaveChargeRule(ctx context.Context, rule model.ChargeRule) error
	TradeSettings(ctx context.Context) (model.TradeSettings, error)
	SaveTradeSettings(ctx context.Context, settings model.TradeSettings) error
	Follower(ctx context.Context, id string) (model.CopyFollower, error)
	SaveFollower(ctx context.Context, f model.CopyFollower) error
	MasterProfile(ctx context.Context, accountID string) (model.MasterProfile, error)
	SaveMasterProfile(ctx context.Context, m model.MasterProfile) error
}

type Handler struct {
	store   Store
	trading *engine.Service
	quotes  feed.Cache
	audit   audit.Sink
	logger  *slog.Logger
}

func NewHandler(store Store, trading *engine.Service, quotes feed.Cache, sink audit.Sink, logger *slog.Logger) *Handler {
	return &Handler{store: store, trading: trading, quotes: quotes, audit: sink, logger: logger}
}

var engineErrors = []error{
	engine.ErrMarketClosed, engine.ErrNoQuote, engine.ErrAccountNotActive,
	engine.ErrNoFunds, engine.ErrInvalidSide, engine.ErrInvalidOrderType,
	engine.ErrInvalidQty, engine.ErrTriggerRequired, engine.ErrMaxTradesExceeded,
	engine.ErrMaxLotsExceeded, engine.ErrInsufficientMargin, engine.ErrTradeNotOpen,
	engine.ErrTradeNotPending, engine.ErrNotDemoAccount,
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	for _, known := range engineErrors {
		if errors.Is(err, known) {
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{Error: known.Error()})
			return
		}
	}
	h.logger.Error("request failed", slog.Any("error", err))
	httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "internal error"})
}

// ownAccount verifies the account exists and belongs to userID.
func (h *Handler) ownAccount(ctx context.Context, accountID, userID string) (model.TradingAccount, bool) {
	acc, err := h.store.Account(ctx, accountID)
	if err != nil || acc.UserID != userID {
		return model.TradingAccount{}, false
	}
	return acc, true
}

type openTradeRequest struct {
	AccountID    string           `json:"account_id"`
	Symbol       string           `json:"symbol"`
	Segment      string           `json:"segment"`
	Side         string           `json:"side"`
	OrderType    string           `json:"order_type"`
	Qty          decimal.Decimal  `json:"qty"`
	TriggerPrice *decimal.Decimal `json:"trigger_price,omitempty"`
	StopLoss     *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal `json:"take_profit,omitempty"`
	Leverage     int              `json:"leverage,omitempty"`
}

func (h *Handler) OpenTrade(w http.ResponseWriter, r *http.Request, userID string) {
	var req openTradeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if _, ok := h.ownAccount(r.Context(), req.AccountID, userID); !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "account not found"})
		return
	}
	orderType := strings.ToUpper(strings.TrimSpace(req.OrderType))
	if orderType == "" {
		orderType = string(types.OrderTypeMarket)
	}
	trade, err := h.trading.OpenTrade(r.Context(), engine.OpenRequest{
		AccountID:    req.AccountID,
		Symbol:       strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Segment:      strings.ToLower(strings.TrimSpace(req.Segment)),
		Side:         types.Side(strings.ToUpper(req.Side)),
		OrderType:    types.OrderType(orderType),
		Qty:          req.Qty,
		TriggerPrice: req.TriggerPrice,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Leverage:     req.Leverage,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, trade)
}

// ownTrade loads a trade and verifies its account belongs to userID.
func (h *Handler) ownTrade(ctx context.Context, tradeID, userID string) (model.Trade, bool) {
	trade, err := h.store.Trade(ctx, tradeID)
	if err != nil {
		return model.Trade{}, false
	}
	if _, ok := h.ownAccount(ctx, trade.AccountID, userID); !ok {
		return model.Trade{}, false
	}
	return trade, true
}

func (h *Handler) CloseTrade(w http.ResponseWriter, r *http.Request, userID, tradeID string) {
	if _, ok := h.ownTrade(r.Context(), tradeID, userID); !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "trade not found"})
		return
	}
	result, err := h.trading.CloseTrade(r.Context(), tradeID, decimal.Zero, decimal.Zero, types.ClosedByUser)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type modifyTradeRequest struct {
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
}

func (h *Handler) ModifyTrade(w http.ResponseWriter, r *http.Request, userID, tradeID string) {
	var req modifyTradeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if _, ok := h.ownTrade(r.Context(), tradeID, userID); !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "trade not found"})
		return
	}
	trade, err := h.trading.ModifyTrade(r.Context(), tradeID, req.StopLoss, req.TakeProfit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trade)
}

func (h *Handler) CancelTrade(w http.ResponseWriter, r *http.Request, userID, tradeID string) {
	if _, ok := h.ownTrade(r.Context(), tradeID, userID); !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "trade not found"})
		return
	}
	trade, err := h.trading.CancelPending(r.Context(), tradeID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trade)
}

func (h *Handler) Trades(w http.ResponseWriter, r *http.Request, userID, accountID string) {
	if _, ok := h.ownAccount(r.Context(), accountID, userID); !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "account not found"})
		return
	}
	var (
		trades []model.Trade
		err    error
	)
	if r.URL.Query().Get("all") == "true" {
		trades, err = h.store.TradesByAccount(r.Context(), accountID)
	} else {
		trades, err = h.store.OpenTradesByAccount(r.Context(), accountID)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	httputil.WriteJSON(w, http.StatusOK, trades)
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request, userID, accountID string) {
	if _, ok := h.ownAccount(r.Context(), accountID, userID); !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "account not found"})
		return
	}
	metrics, err := h.trading.AccountMetrics(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, metrics)
}

func (h *Handler) ResetDemo(w http.ResponseWriter, r *http.Request, userID, accountID string) {
	if _, ok := h.ownAccount(r.Context(), accountID, userID); !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "account not found"})
		return
	}
	if err := h.trading.ResetDemoAccount(r.Context(), accountID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Quotes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.quotes.Snapshot())
}

// --- copy trading ---

type followRequest struct {
	MasterAccountID string          `json:"master_account_id"`
	AccountID       string          `json:"account_id"`
	Mode            string          `json:"mode"`
	CopyValue       decimal.Decimal `json:"copy_value"`
	Multiplier      decimal.Decimal `json:"multiplier"`
	MaxLotSize      decimal.Decimal `json:"max_lot_size"`
}

func (h *Handler) Follow(w http.ResponseWriter, r *http.Request, userID string) {
	var req followRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if _, ok := h.ownAccount(r.Context(), req.AccountID, userID); !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "account not found"})
		return
	}
	if req.MasterAccountID == req.AccountID {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "cannot follow own account"})
		return
	}
	if _, err := h.store.Account(r.Context(), req.MasterAccountID); err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "lead account not found"})
		return
	}
	follower := model.CopyFollower{
		MasterAccountID: req.MasterAccountID,
		AccountID:       req.AccountID,
		Mode:            types.CopyMode(strings.ToUpper(req.Mode)),
		CopyValue:       req.CopyValue,
		Multiplier:      req.Multiplier,
		MaxLotSize:      req.MaxLotSize,
		Status:          types.CopyStatusActive,
	}
	if err := h.store.SaveFollower(r.Context(), follower); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, follower)
}

type followerStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetFollowerStatus(w http.ResponseWriter, r *http.Request, userID, followerID string) {
	var req followerStatusRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	status := types.CopyStatus(strings.ToUpper(req.Status))
	switch status {
	case types.CopyStatusActive, types.CopyStatusPaused, types.CopyStatusStopped:
	default:
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid status"})
		return
	}
	follower, err := h.store.Follower(r.Context(), followerID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "follower not found"})
		return
	}
	if _, ok := h.ownAccount(r.Context(), follower.AccountID, userID); !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "follower not found"})
		return
	}
	follower.Status = status
	if err := h.store.SaveFollower(r.Context(), follower); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, follower)
}

// --- admin ---

func (h *Handler) recordAudit(ctx context.Context, action, targetType, targetID string, prev, next any, reason string) {
	entry := audit.Entry{
		Actor:      "admin",
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Reason:     reason,
	}
	if prev != nil {
		if b, err := json.Marshal(prev); err == nil {
			entry.PrevValue = string(b)
		}
	}
	if next != nil {
		if b, err := json.Marshal(next); err == nil {
			entry.NewValue = string(b)
		}
	}
	if err := h.audit.Record(ctx, entry); err != nil {
		h.logger.Error("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (h *Handler) ListChargeRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ActiveChargeRules(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rules)
}

func (h *Handler) SaveChargeRule(w http.ResponseWriter, r *http.Request) {
	var rule model.ChargeRule
	if err := httputil.ReadJSON(r, &rule); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	switch rule.Level {
	case types.ChargeLevelUser, types.ChargeLevelInstrument, types.ChargeLevelAccountType,
		types.ChargeLevelSegment, types.ChargeLevelGlobal:
	default:
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid level"})
		return
	}
	if err := h.store.SaveChargeRule(r.Context(), rule); err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r.Context(), "charge_rule.save", "charge_rule", rule.ID, nil, rule, "")
	httputil.WriteJSON(w, http.StatusOK, rule)
}

func (h *Handler) GetTradeSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.TradeSettings(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, settings)
}

func (h *Handler) SaveTradeSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.TradeSettings
	if err := httputil.ReadJSON(r, &settings); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	prev, err := h.store.TradeSettings(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.SaveTradeSettings(r.Context(), settings); err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r.Context(), "trade_settings.save", "trade_settings", "global", prev, settings, "")
	httputil.WriteJSON(w, http.StatusOK, settings)
}

type accountStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *Handler) SetAccountStatus(w http.ResponseWriter, r *http.Request, accountID string) {
	var req accountStatusRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	status := types.AccountStatus(strings.ToUpper(req.Status))
	switch status {
	case types.AccountStatusActive, types.AccountStatusSuspended, types.AccountStatusFrozen,
		types.AccountStatusArchived, types.AccountStatusClosed:
	default:
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid status"})
		return
	}
	acc, err := h.store.Account(r.Context(), accountID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "account not found"})
		return
	}
	prev := acc.Status
	acc.Status = status
	if err := h.store.SaveAccount(r.Context(), acc); err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r.Context(), "account.status", "account", accountID, prev, status, req.Reason)
	httputil.WriteJSON(w, http.StatusOK, acc)
}

type forceCloseRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) AdminCloseTrade(w http.ResponseWriter, r *http.Request, tradeID string) {
	var req forceCloseRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	prev, err := h.store.Trade(r.Context(), tradeID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "trade not found"})
		return
	}
	result, err := h.trading.CloseTrade(r.Context(), tradeID, decimal.Zero, decimal.Zero, types.ClosedByAdmin)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r.Context(), "trade.force_close", "trade", tradeID, prev.Status, types.TradeStatusClosed, req.Reason)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) AdminResetDemo(w http.ResponseWriter, r *http.Request, accountID string) {
	if _, err := h.store.Account(r.Context(), accountID); err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "account not found"})
		return
	}
	if err := h.trading.ResetDemoAccount(r.Context(), accountID); err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r.Context(), "account.demo_reset", "account", accountID, nil, nil, "")
	w.WriteHeader(http.StatusNoContent)
}

type masterProfileRequest struct {
	AccountID      string          `json:"account_id"`
	CommissionPct  decimal.Decimal `json:"commission_pct"`
	MasterSharePct decimal.Decimal `json:"master_share_pct"`
}

func (h *Handler) SaveMasterProfile(w http.ResponseWriter, r *http.Request) {
	var req masterProfileRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if _, err := h.store.Account(r.Context(), req.AccountID); err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "account not found"})
		return
	}
	profile, err := h.store.MasterProfile(r.Context(), req.AccountID)
	if err != nil {
		profile = model.MasterProfile{AccountID: req.AccountID}
	}
	prev := profile
	profile.CommissionPct = req.CommissionPct
	profile.MasterSharePct = req.MasterSharePct
	if err := h.store.SaveMasterProfile(r.Context(), profile); err != nil {
		h.writeError(w, err)
		return
	}
	h.recordAudit(r.Context(), "master_profile.save", "master_profile", req.AccountID, prev, profile, "")
	httputil.WriteJSON(w, http.StatusOK, profile)
}
