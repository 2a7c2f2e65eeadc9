package feed

import (
	"sync"
	"time"

	"lv-margincore/internal/model"
)

// Cache holds the latest quote per symbol behind a lock so that timers and
// request handlers can share it safely.
type Cache interface {
	GetLatest(symbol string) (model.Quote, bool)
	SetLatest(q model.Quote)
	Snapshot() map[string]model.Quote
}

type memoryCache struct {
	mu     sync.RWMutex
	quotes map[string]model.Quote
}

func NewCache() Cache {
	return &memoryCache{quotes: make(map[string]model.Quote)}
}

func (c *memoryCache) GetLatest(symbol string) (model.Quote, bool) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	return q, ok
}

func (c *memoryCache) SetLatest(q model.Quote) {
	if !q.Valid() {
		return
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	c.quotes[q.Symbol] = q
	c.mu.Unlock()
}

func (c *memoryCache) Snapshot() map[string]model.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.Quote, len(c.quotes))
	for sym, q := range c.quotes {
		out[sym] = q
	}
	return out
}
