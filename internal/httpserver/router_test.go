package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lv-margincore/internal/auth"
	"lv-margincore/internal/charges"
	"lv-margincore/internal/engine"
	"lv-margincore/internal/events"
	"lv-margincore/internal/feed"
	"lv-margincore/internal/ledger"
	"lv-margincore/internal/model"
	"lv-margincore/internal/store/memstore"
	"lv-margincore/internal/types"
)

const adminPassword = "LvTrade@2026"

type apiRig struct {
	store  *memstore.Store
	cache  feed.Cache
	server *httptest.Server
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	store := memstore.New()
	hash, err := auth.HashPassword(adminPassword)
	require.NoError(t, err)
	store.SeedAdmin(context.Background(), "admin@local", hash)
	cache := feed.NewCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trading := engine.NewService(store, charges.NewResolver(store), cache, events.NewBus(), ledger.NewLocks(), logger)
	authSvc := auth.NewService(store, "margincore-test", []byte("secret"), time.Hour)
	adminSvc := auth.NewAdminService(store, "margincore-test", []byte("secret"), time.Hour)
	router := NewRouter(RouterDeps{
		AuthHandler:  auth.NewHandler(authSvc, adminSvc),
		AuthService:  authSvc,
		AdminService: adminSvc,
		Handler:      NewHandler(store, trading, cache, store, logger),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &apiRig{store: store, cache: cache, server: srv}
}

func (r *apiRig) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, r.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

// adminLogin exchanges the seeded credentials for an admin token.
func (r *apiRig) adminLogin(t *testing.T) string {
	t.Helper()
	resp, raw := r.do(t, http.MethodPost, "/v1/admin/login", "", map[string]string{
		"email": "admin@local", "password": adminPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var login map[string]string
	require.NoError(t, json.Unmarshal(raw, &login))
	return login["token"]
}

func (r *apiRig) doAdmin(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return r.do(t, method, path, r.adminLogin(t), body)
}

// registerUser creates a user plus a funded account and returns the token
// and account id.
func (r *apiRig) registerUser(t *testing.T, email string, balance string) (string, string) {
	t.Helper()
	resp, raw := r.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": email, "password": "hunter22"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var reg map[string]string
	require.NoError(t, json.Unmarshal(raw, &reg))

	accountID := "acc-" + email
	require.NoError(t, r.store.SaveAccount(context.Background(), model.TradingAccount{
		ID: accountID, UserID: reg["user_id"], Balance: mustDec(balance),
		Leverage: 100, Status: types.AccountStatusActive,
	}))

	resp, raw = r.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": "hunter22"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var login map[string]string
	require.NoError(t, json.Unmarshal(raw, &login))
	return login["token"], accountID
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestTradeLifecycleOverHTTP(t *testing.T) {
	rig := newAPIRig(t)
	token, accountID := rig.registerUser(t, "trader@example.com", "5000")
	rig.cache.SetLatest(model.Quote{Symbol: "BTCUSD", Bid: mustDec("50000"), Ask: mustDec("50010")})

	resp, raw := rig.do(t, http.MethodPost, "/v1/trades", token, map[string]any{
		"account_id": accountID, "symbol": "BTCUSD", "segment": "crypto",
		"side": "BUY", "order_type": "MARKET", "qty": "0.05",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var trade model.Trade
	require.NoError(t, json.Unmarshal(raw, &trade))
	assert.Equal(t, types.TradeStatusOpen, trade.Status)

	resp, raw = rig.do(t, http.MethodGet, "/v1/accounts/"+accountID+"/metrics", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = rig.do(t, http.MethodPost, "/v1/trades/"+trade.ID+"/modify", token, map[string]any{
		"stop_loss": "48000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = rig.do(t, http.MethodPost, "/v1/trades/"+trade.ID+"/close", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	// Closed trades cannot close twice.
	resp, _ = rig.do(t, http.MethodPost, "/v1/trades/"+trade.ID+"/close", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestOwnershipEnforced(t *testing.T) {
	rig := newAPIRig(t)
	_, victimAccount := rig.registerUser(t, "victim@example.com", "5000")
	attackerToken, _ := rig.registerUser(t, "attacker@example.com", "5000")

	resp, _ := rig.do(t, http.MethodGet, "/v1/accounts/"+victimAccount+"/metrics", attackerToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = rig.do(t, http.MethodPost, "/v1/trades", attackerToken, map[string]any{
		"account_id": victimAccount, "symbol": "BTCUSD", "side": "BUY", "qty": "0.1",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	rig := newAPIRig(t)
	resp, _ := rig.do(t, http.MethodPost, "/v1/trades", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = rig.do(t, http.MethodPost, "/v1/trades", "not-a-token", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminChargeRulesWithAudit(t *testing.T) {
	rig := newAPIRig(t)

	resp, _ := rig.do(t, http.MethodPost, "/v1/admin/charges", "", map[string]any{"level": "GLOBAL"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A user token lacks the admin audience and must not pass.
	userToken, _ := rig.registerUser(t, "plain@example.com", "100")
	resp, _ = rig.do(t, http.MethodPost, "/v1/admin/charges", userToken, map[string]any{"level": "GLOBAL"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, raw := rig.doAdmin(t, http.MethodPost, "/v1/admin/charges", map[string]any{
		"level": "GLOBAL", "spread_type": "FIXED", "spread_value": "1.5",
		"commission_type": "PER_LOT", "commission_value": "7",
		"commission_on_buy": true, "commission_on_sell": true, "is_active": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = rig.doAdmin(t, http.MethodGet, "/v1/admin/charges", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rules []model.ChargeRule
	require.NoError(t, json.Unmarshal(raw, &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, types.ChargeLevelGlobal, rules[0].Level)

	log := rig.store.AuditLog()
	require.Len(t, log, 1)
	assert.Equal(t, "charge_rule.save", log[0].Action)
}

func TestAdminAccountStatus(t *testing.T) {
	rig := newAPIRig(t)
	_, accountID := rig.registerUser(t, "user@example.com", "100")

	resp, raw := rig.doAdmin(t, http.MethodPost, "/v1/admin/accounts/"+accountID+"/status", map[string]any{
		"status": "SUSPENDED", "reason": "compliance review",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	acc, err := rig.store.Account(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, types.AccountStatusSuspended, acc.Status)

	log := rig.store.AuditLog()
	require.Len(t, log, 1)
	assert.Equal(t, "compliance review", log[0].Reason)
}

func TestAdminLoginRejectsBadPassword(t *testing.T) {
	rig := newAPIRig(t)
	resp, _ := rig.do(t, http.MethodPost, "/v1/admin/login", "", map[string]string{
		"email": "admin@local", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminForceCloseTrade(t *testing.T) {
	rig := newAPIRig(t)
	token, accountID := rig.registerUser(t, "forced@example.com", "5000")
	rig.cache.SetLatest(model.Quote{Symbol: "BTCUSD", Bid: mustDec("50000"), Ask: mustDec("50010")})

	resp, raw := rig.do(t, http.MethodPost, "/v1/trades", token, map[string]any{
		"account_id": accountID, "symbol": "BTCUSD", "segment": "crypto",
		"side": "BUY", "order_type": "MARKET", "qty": "0.05",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var trade model.Trade
	require.NoError(t, json.Unmarshal(raw, &trade))

	resp, raw = rig.doAdmin(t, http.MethodPost, "/v1/admin/trades/"+trade.ID+"/close", map[string]any{
		"reason": "risk desk intervention",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	closed, err := rig.store.Trade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusClosed, closed.Status)
	assert.Equal(t, types.ClosedByAdmin, closed.ClosedBy)

	log := rig.store.AuditLog()
	require.Len(t, log, 1)
	assert.Equal(t, "trade.force_close", log[0].Action)
	assert.Equal(t, "risk desk intervention", log[0].Reason)
}

func TestAdminResetDemo(t *testing.T) {
	rig := newAPIRig(t)
	_, accountID := rig.registerUser(t, "demo@example.com", "12")
	acc, err := rig.store.Account(context.Background(), accountID)
	require.NoError(t, err)
	acc.IsDemo = true
	require.NoError(t, rig.store.SaveAccount(context.Background(), acc))

	resp, _ := rig.doAdmin(t, http.MethodPost, "/v1/admin/accounts/"+accountID+"/reset", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	acc, err = rig.store.Account(context.Background(), accountID)
	require.NoError(t, err)
	assert.True(t, acc.Balance.GreaterThan(mustDec("12")))
}

func TestQuotesEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	rig.cache.SetLatest(model.Quote{Symbol: "EURUSD", Bid: mustDec("1.085"), Ask: mustDec("1.0852")})

	resp, raw := rig.do(t, http.MethodGet, "/v1/quotes", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quotes map[string]model.Quote
	require.NoError(t, json.Unmarshal(raw, &quotes))
	assert.Contains(t, quotes, "EURUSD")
}

func TestFollowEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	_, masterAccount := rig.registerUser(t, "lead@example.com", "10000")
	followerToken, followerAccount := rig.registerUser(t, "copier@example.com", "2000")

	resp, raw := rig.do(t, http.MethodPost, "/v1/copy/follow", followerToken, map[string]any{
		"master_account_id": masterAccount, "account_id": followerAccount,
		"mode": "BALANCE_BASED", "max_lot_size": "1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var follower model.CopyFollower
	require.NoError(t, json.Unmarshal(raw, &follower))
	assert.Equal(t, types.CopyStatusActive, follower.Status)

	// Self-follow is rejected.
	resp, _ = rig.do(t, http.MethodPost, "/v1/copy/follow", followerToken, map[string]any{
		"master_account_id": followerAccount, "account_id": followerAccount, "mode": "FIXED_LOT",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = rig.do(t, http.MethodPost, "/v1/copy/followers/"+follower.ID+"/status", followerToken, map[string]any{
		"status": "PAUSED",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	active, err := rig.store.ActiveFollowers(context.Background(), masterAccount)
	require.NoError(t, err)
	assert.Empty(t, active)
}
