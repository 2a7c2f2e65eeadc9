// Package memstore is an in-memory implementation of the engine, charges,
// copy-trading and audit store interfaces. It backs the test suites and the
// demo mode of cmd/api; production runs on the Postgres store.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lv-margincore/internal/audit"
	"lv-margincore/internal/model"
	"lv-margincore/internal/types"
)

var ErrNotFound = model.ErrNotFound

type Store struct {
	mu              sync.RWMutex
	users           map[string]user
	admins          map[string]user
	accounts        map[string]model.TradingAccount
	trades          map[string]model.Trade
	rules           []model.ChargeRule
	settings        model.TradeSettings
	followers       map[string]model.CopyFollower
	copyTrades      map[string]model.CopyTrade
	commissions     map[string]model.CopyCommission
	masters         map[string]model.MasterProfile
	adminCommission decimal.Decimal
	auditLog        []audit.Entry
}

func New() *Store {
	return &Store{
		users:       make(map[string]user),
		admins:      make(map[string]user),
		accounts:    make(map[string]model.TradingAccount),
		trades:      make(map[string]model.Trade),
		settings:    model.DefaultTradeSettings(),
		followers:   make(map[string]model.CopyFollower),
		copyTrades:  make(map[string]model.CopyTrade),
		commissions: make(map[string]model.CopyCommission),
		masters:     make(map[string]model.MasterProfile),
	}
}

// --- users ---

type user struct {
	id           string
	passwordHash string
}

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; ok {
		return "", errors.New("email already registered")
	}
	u := user{id: uuid.NewString(), passwordHash: passwordHash}
	s.users[email] = u
	return u.id, nil
}

func (s *Store) UserCredentials(ctx context.Context, email string) (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return "", "", ErrNotFound
	}
	return u.id, u.passwordHash, nil
}

// SeedAdmin registers a back-office login. Demo mode seeds one at startup
// from ADMIN_PASSWORD.
func (s *Store) SeedAdmin(ctx context.Context, email, passwordHash string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user{id: uuid.NewString(), passwordHash: passwordHash}
	s.admins[email] = u
	return u.id
}

func (s *Store) AdminCredentials(ctx context.Context, email string) (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.admins[email]
	if !ok {
		return "", "", ErrNotFound
	}
	return u.id, u.passwordHash, nil
}

// --- accounts and trades ---

func (s *Store) Account(ctx context.Context, id string) (model.TradingAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return model.TradingAccount{}, ErrNotFound
	}
	return acc, nil
}

func (s *Store) SaveAccount(ctx context.Context, acc model.TradingAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc.UpdatedAt = time.Now().UTC()
	s.accounts[acc.ID] = acc
	return nil
}

func (s *Store) CreateTrade(ctx context.Context, t model.Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[t.ID] = t
	return nil
}

func (s *Store) Trade(ctx context.Context, id string) (model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return model.Trade{}, ErrNotFound
	}
	return t, nil
}

func (s *Store) SaveTrade(ctx context.Context, t model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; !ok {
		return ErrNotFound
	}
	s.trades[t.ID] = t
	return nil
}

func (s *Store) tradesWhere(match func(model.Trade) bool) []model.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for _, t := range s.trades {
		if match(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) OpenTradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error) {
	return s.tradesWhere(func(t model.Trade) bool {
		return t.AccountID == accountID && t.Status == types.TradeStatusOpen
	}), nil
}

func (s *Store) TradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error) {
	return s.tradesWhere(func(t model.Trade) bool { return t.AccountID == accountID }), nil
}

func (s *Store) OpenTrades(ctx context.Context) ([]model.Trade, error) {
	return s.tradesWhere(func(t model.Trade) bool { return t.Status == types.TradeStatusOpen }), nil
}

func (s *Store) PendingTrades(ctx context.Context) ([]model.Trade, error) {
	return s.tradesWhere(func(t model.Trade) bool { return t.Status == types.TradeStatusPending }), nil
}

func (s *Store) TradeSettings(ctx context.Context) (model.TradeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) SaveTradeSettings(ctx context.Context, settings model.TradeSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

// --- charge rules ---

func (s *Store) ActiveChargeRules(ctx context.Context) ([]model.ChargeRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ChargeRule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) SaveChargeRule(ctx context.Context, rule model.ChargeRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	for i, r := range s.rules {
		if r.ID == rule.ID {
			s.rules[i] = rule
			return nil
		}
	}
	s.rules = append(s.rules, rule)
	return nil
}

// --- copy trading ---

func (s *Store) ActiveFollowers(ctx context.Context, masterAccountID string) ([]model.CopyFollower, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CopyFollower
	for _, f := range s.followers {
		if f.MasterAccountID == masterAccountID && f.Status == types.CopyStatusActive {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) Follower(ctx context.Context, id string) (model.CopyFollower, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.followers[id]
	if !ok {
		return model.CopyFollower{}, ErrNotFound
	}
	return f, nil
}

func (s *Store) SaveFollower(ctx context.Context, f model.CopyFollower) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followers[f.ID] = f
	return nil
}

func (s *Store) CopyTradeExists(ctx context.Context, masterTradeID, followerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ct := range s.copyTrades {
		if ct.MasterTradeID == masterTradeID && ct.FollowerID == followerID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateCopyTrade(ctx context.Context, ct model.CopyTrade) error {
	if ct.ID == "" {
		ct.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Uniqueness on (master trade, follower) is the duplication guard.
	for _, existing := range s.copyTrades {
		if existing.MasterTradeID == ct.MasterTradeID && existing.FollowerID == ct.FollowerID {
			return errors.New("copy trade already exists")
		}
	}
	s.copyTrades[ct.ID] = ct
	return nil
}

func (s *Store) SaveCopyTrade(ctx context.Context, ct model.CopyTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.copyTrades[ct.ID]; !ok {
		return ErrNotFound
	}
	s.copyTrades[ct.ID] = ct
	return nil
}

func (s *Store) OpenCopyTradesByMaster(ctx context.Context, masterTradeID string) ([]model.CopyTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CopyTrade
	for _, ct := range s.copyTrades {
		if ct.MasterTradeID == masterTradeID && ct.Status == types.CopyTradeStatusOpen {
			out = append(out, ct)
		}
	}
	return out, nil
}

func (s *Store) UnappliedClosedCopyTrades(ctx context.Context, day string) ([]model.CopyTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CopyTrade
	for _, ct := range s.copyTrades {
		if ct.Status == types.CopyTradeStatusClosed && !ct.CommissionApplied && ct.TradingDay() == day {
			out = append(out, ct)
		}
	}
	return out, nil
}

func (s *Store) MasterProfile(ctx context.Context, accountID string) (model.MasterProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.masters[accountID]
	if !ok {
		return model.MasterProfile{}, ErrNotFound
	}
	return m, nil
}

func (s *Store) SaveMasterProfile(ctx context.Context, m model.MasterProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masters[m.AccountID] = m
	return nil
}

func (s *Store) CreateCommission(ctx context.Context, c model.CopyCommission) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commissions[c.ID] = c
	return nil
}

func (s *Store) CommissionsByDay(ctx context.Context, day string) ([]model.CopyCommission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CopyCommission
	for _, c := range s.commissions {
		if c.TradingDay == day {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) AddAdminCommission(ctx context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminCommission = s.adminCommission.Add(amount)
	return nil
}

// AdminCommission is exposed for tests and the admin API.
func (s *Store) AdminCommission() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adminCommission
}

// --- audit ---

func (s *Store) Record(ctx context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.auditLog = append(s.auditLog, e)
	return nil
}

func (s *Store) AuditLog() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Entry, len(s.auditLog))
	copy(out, s.auditLog)
	return out
}
