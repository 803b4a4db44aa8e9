package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_trade_core/internal/domain"
	"go.uber.org/zap"
)

const (
	tickerTopicPrefix = "tickers."
	wsPingInterval    = 20 * time.Second
	wsReconnectDelay  = 5 * time.Second
)

// TickerStream keeps the latest public ticker per symbol from the linear
// websocket. Bybit sends a snapshot first and then deltas with only the
// changed fields, so updates are merged into the cached ticker.
type TickerStream struct {
	wsURL  string
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	tickers map[string]*domain.Ticker
}

func NewTickerStream(wsURL string, maxAge time.Duration, logger *zap.Logger) *TickerStream {
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	return &TickerStream{
		wsURL:   wsURL,
		maxAge:  maxAge,
		logger:  logger,
		now:     time.Now,
		tickers: make(map[string]*domain.Ticker),
	}
}

// Latest returns a copy of the cached ticker if it is younger than maxAge.
func (s *TickerStream) Latest(symbol string) (*domain.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickers[symbol]
	if !ok || s.now().Sub(t.UpdatedAt) > s.maxAge {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// Run connects, subscribes and reads until ctx is done, reconnecting after failures.
func (s *TickerStream) Run(ctx context.Context, symbols []string) {
	for {
		err := s.session(ctx, symbols)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Ticker stream dropped, reconnecting",
			zap.Error(err),
			zap.Duration("delay", wsReconnectDelay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wsReconnectDelay):
		}
	}
}

func (s *TickerStream) session(ctx context.Context, symbols []string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	if err := subscribeTickers(conn, symbols); err != nil {
		return err
	}
	s.logger.Info("Ticker stream subscribed", zap.Strings("symbols", symbols))

	// Writes other than the initial subscribe happen only here.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := s.handleMessage(message); err != nil {
			s.logger.Debug("Ticker stream message skipped", zap.Error(err))
		}
	}
}

func subscribeTickers(conn *websocket.Conn, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]string, len(symbols))
	for i, s := range symbols {
		args[i] = tickerTopicPrefix + s
	}
	return conn.WriteJSON(map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	})
}

type tickerEvent struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  struct {
		Symbol       string `json:"symbol"`
		LastPrice    string `json:"lastPrice"`
		MarkPrice    string `json:"markPrice"`
		Bid1Price    string `json:"bid1Price"`
		Ask1Price    string `json:"ask1Price"`
		Price24hPcnt string `json:"price24hPcnt"`
		HighPrice24h string `json:"highPrice24h"`
		LowPrice24h  string `json:"lowPrice24h"`
		Turnover24h  string `json:"turnover24h"`
		FundingRate  string `json:"fundingRate"`
	} `json:"data"`
}

func (s *TickerStream) handleMessage(message []byte) error {
	var event tickerEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return err
	}
	if !strings.HasPrefix(event.Topic, tickerTopicPrefix) {
		// pong and subscribe acks
		return nil
	}
	symbol := strings.TrimPrefix(event.Topic, tickerTopicPrefix)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Deltas apply to a copy; the cache only sees a fully parsed update.
	next := domain.Ticker{Symbol: symbol}
	if cur, ok := s.tickers[symbol]; ok && event.Type != "snapshot" {
		next = *cur
	}
	t := &next
	d := event.Data
	updates := []struct {
		field string
		raw   string
		dst   *float64
	}{
		{"lastPrice", d.LastPrice, &t.LastPrice},
		{"markPrice", d.MarkPrice, &t.MarkPrice},
		{"bid1Price", d.Bid1Price, &t.Bid1Price},
		{"ask1Price", d.Ask1Price, &t.Ask1Price},
		{"price24hPcnt", d.Price24hPcnt, &t.Price24hPcnt},
		{"highPrice24h", d.HighPrice24h, &t.High24h},
		{"lowPrice24h", d.LowPrice24h, &t.Low24h},
		{"turnover24h", d.Turnover24h, &t.Turnover24h},
		{"fundingRate", d.FundingRate, &t.FundingRate},
	}
	for _, u := range updates {
		if u.raw == "" {
			continue
		}
		v, err := parseNum(u.field, u.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", symbol, err)
		}
		*u.dst = v
	}
	t.UpdatedAt = s.now()
	s.tickers[symbol] = t
	return nil
}
