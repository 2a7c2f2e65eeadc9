package ledger

import "sync"

// Locks serializes balance read-modify-write sequences per account. Two
// concurrent close or liquidation paths for the same account must not
// interleave; operations on different accounts run in parallel.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

func (l *Locks) forAccount(accountID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	return m
}

// WithAccount runs fn while holding the account's lock.
func (l *Locks) WithAccount(accountID string, fn func() error) error {
	m := l.forAccount(accountID)
	m.Lock()
	defer m.Unlock()
	return fn()
}
