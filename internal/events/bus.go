package events

import (
	"sync"

	"lv-margincore/internal/model"
)

type EventType string

const (
	TradeOpened   EventType = "opened"
	TradeClosed   EventType = "closed"
	TradeModified EventType = "modified"
)

// TradeEvent is emitted by the trade engine after a lifecycle transition has
// been persisted. Subscribers (the copy engine) react to it; the engine never
// calls back into them.
type TradeEvent struct {
	Type  EventType
	Trade model.Trade
}

type Bus struct {
	mu   sync.RWMutex
	subs map[chan TradeEvent]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan TradeEvent]struct{})}
}

func (b *Bus) Subscribe() chan TradeEvent {
	ch := make(chan TradeEvent, 100)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan TradeEvent) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (b *Bus) Publish(evt TradeEvent) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}
