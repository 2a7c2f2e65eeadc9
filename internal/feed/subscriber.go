package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"lv-margincore/internal/model"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = time.Minute
	// After this many consecutive failures the subscriber stops dialing and
	// leaves the poller as the only live source until the next cycle.
	reconnectMaxAttempts = 10
	readTimeout          = 30 * time.Second
)

type wireQuote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	TS     int64   `json:"ts"`
}

// Subscriber consumes the upstream websocket quote stream into the cache.
// Trade evaluation never waits on it: a dead stream only means stale cache
// entries and, eventually, the polling fallback.
type Subscriber struct {
	url     string
	symbols []string
	cache   Cache
	logger  *slog.Logger
}

func NewSubscriber(url string, symbols []string, cache Cache, logger *slog.Logger) *Subscriber {
	return &Subscriber{url: url, symbols: symbols, cache: cache, logger: logger}
}

// Run dials and reads until ctx is done, reconnecting with exponential
// backoff. A successful read resets the backoff.
func (s *Subscriber) Run(ctx context.Context) {
	delay := reconnectBaseDelay
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if attempts >= reconnectMaxAttempts {
			s.logger.Error("feed: giving up on websocket, polling fallback only", slog.String("url", s.url))
			return
		}
		if err := s.consume(ctx); err != nil && ctx.Err() == nil {
			attempts++
			s.logger.Warn("feed: stream disconnected",
				slog.Any("error", err),
				slog.Duration("retry_in", delay),
				slog.Int("attempt", attempts))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}
		delay = reconnectBaseDelay
		attempts = 0
	}
}

func (s *Subscriber) consume(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "symbols": s.symbols}); err != nil {
		return err
	}
	s.logger.Info("feed: stream connected", slog.String("url", s.url), slog.Int("symbols", len(s.symbols)))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		var wq wireQuote
		if err := conn.ReadJSON(&wq); err != nil {
			return err
		}
		s.cache.SetLatest(model.Quote{
			Symbol:    wq.Symbol,
			Bid:       decimal.NewFromFloat(wq.Bid),
			Ask:       decimal.NewFromFloat(wq.Ask),
			Timestamp: time.UnixMilli(wq.TS).UTC(),
		})
	}
}

// Poller is the HTTP fallback: it batch-fetches quotes on an interval so the
// cache keeps moving while the stream is down.
type Poller struct {
	url     string
	symbols []string
	cache   Cache
	client  *http.Client
	logger  *slog.Logger
}

func NewPoller(url string, symbols []string, cache Cache, logger *slog.Logger) *Poller {
	return &Poller{
		url:     url,
		symbols: symbols,
		cache:   cache,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				p.logger.Warn("feed: poll failed", slog.Any("error", err))
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var quotes []wireQuote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return err
	}
	for _, wq := range quotes {
		p.cache.SetLatest(model.Quote{
			Symbol:    wq.Symbol,
			Bid:       decimal.NewFromFloat(wq.Bid),
			Ask:       decimal.NewFromFloat(wq.Ask),
			Timestamp: time.UnixMilli(wq.TS).UTC(),
		})
	}
	return nil
}
