// Package ws maintains a live kline subscription over websocket and serves
// the rolling window it accumulates as a marketdata.Source.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/domain"
)

const (
	defaultWindow    = 500
	writeTimeout     = 10 * time.Second
	reconnectBackoff = 5 * time.Second
	pingInterval     = 30 * time.Second
)

// Config controls the feed connection.
type Config struct {
	URL        string `yaml:"url"`
	WindowSize int    `yaml:"window_size"`
}

// DefaultConfig returns the feed defaults with no endpoint set.
func DefaultConfig() Config {
	return Config{WindowSize: defaultWindow}
}

type subscription struct {
	Symbol   string
	Interval string
}

// Feed holds one websocket connection and the bar windows it fills.
type Feed struct {
	cfg  Config
	dial func(ctx context.Context, url string) (*websocket.Conn, error)

	mu          sync.RWMutex
	conn        *websocket.Conn
	subs        map[subscription]bool
	windows     map[subscription][]domain.Bar
	reconnectCh chan struct{}
	done        chan struct{}
}

// NewFeed builds a disconnected feed. Call Run to connect.
func NewFeed(cfg Config) *Feed {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaultWindow
	}
	return &Feed{
		cfg: cfg,
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
		subs:        make(map[subscription]bool),
		windows:     make(map[subscription][]domain.Bar),
		reconnectCh: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a kline stream. Takes effect on the live connection
// immediately and is replayed after every reconnect.
func (f *Feed) Subscribe(symbol, interval string) error {
	sub := subscription{Symbol: symbol, Interval: interval}
	f.mu.Lock()
	f.subs[sub] = true
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return nil
	}
	return f.sendSubscribe(conn, sub)
}

func (f *Feed) sendSubscribe(conn *websocket.Conn, sub subscription) error {
	msg := map[string]any{
		"event":    "subscribe",
		"channel":  "kline",
		"symbol":   sub.Symbol,
		"interval": sub.Interval,
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe %s/%s: %w", sub.Symbol, sub.Interval, err)
	}
	return nil
}

// Run connects and processes messages until ctx ends, reconnecting with a
// fixed backoff on failure.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.done)
	for {
		if err := f.connect(ctx); err != nil {
			log.Warn().Err(err).Str("url", f.cfg.URL).Msg("market feed connect failed")
		} else {
			f.readLoop(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

func (f *Feed) connect(ctx context.Context) error {
	conn, err := f.dial(ctx, f.cfg.URL)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.conn = conn
	subs := make([]subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		if err := f.sendSubscribe(conn, sub); err != nil {
			conn.Close()
			return err
		}
	}
	log.Info().Str("url", f.cfg.URL).Int("subscriptions", len(subs)).Msg("market feed connected")
	return nil
}

type klineMessage struct {
	Channel  string  `json:"channel"`
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	TS       int64   `json:"ts"`
	Open     float64 `json:"open,string"`
	High     float64 `json:"high,string"`
	Low      float64 `json:"low,string"`
	Close    float64 `json:"close,string"`
	Volume   float64 `json:"volume,string"`
	Closed   bool    `json:"closed"`
}

func (f *Feed) readLoop(ctx context.Context) {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	defer conn.Close()

	go f.pingLoop(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("market feed read failed, reconnecting")
			return
		}
		var msg klineMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Channel != "kline" {
			continue
		}
		// Only closed candles enter the window; the open candle mutates.
		if !msg.Closed {
			continue
		}
		f.ingest(msg)
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) ingest(msg klineMessage) {
	sub := subscription{Symbol: msg.Symbol, Interval: msg.Interval}
	bar := domain.Bar{
		Symbol:   msg.Symbol,
		Interval: msg.Interval,
		TS:       msg.TS,
		Open:     msg.Open,
		High:     msg.High,
		Low:      msg.Low,
		Close:    msg.Close,
		Volume:   msg.Volume,
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	window := f.windows[sub]
	if n := len(window); n > 0 && window[n-1].TS >= bar.TS {
		return
	}
	window = append(window, bar)
	if len(window) > f.cfg.WindowSize {
		window = window[len(window)-f.cfg.WindowSize:]
	}
	f.windows[sub] = window
}

// GetBars serves the accumulated window. Returns domain.ErrDataNotFound
// when fewer than limit bars have arrived.
func (f *Feed) GetBars(_ context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	window := f.windows[subscription{Symbol: symbol, Interval: interval}]
	if len(window) < limit {
		return nil, fmt.Errorf("%w: %s/%s has %d of %d bars",
			domain.ErrDataNotFound, symbol, interval, len(window), limit)
	}
	out := make([]domain.Bar, limit)
	copy(out, window[len(window)-limit:])
	return out, nil
}
