package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// Quote is one streamed price update.
type Quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Ts     int64   `json:"ts"`
}

// QuoteFeed is a reconnecting websocket client for the streaming quote
// endpoint. Received quotes are cached and exposed to the data collection
// service; the feed never blocks producers.
type QuoteFeed struct {
	url     string
	symbols []string

	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	log zerolog.Logger

	connected bool
	stopChan  chan struct{}
	stopped   bool

	// Latest quote per symbol (thread-safe)
	quotes     map[string]Quote
	lastUpdate time.Time
	cacheMu    sync.RWMutex
}

// NewQuoteFeed creates a new quote feed client.
func NewQuoteFeed(url string, symbols []string, log zerolog.Logger) *QuoteFeed {
	return &QuoteFeed{
		url:      url,
		symbols:  symbols,
		log:      log.With().Str("component", "quote_feed").Logger(),
		quotes:   make(map[string]Quote),
		stopChan: make(chan struct{}),
	}
}

// Start initializes the websocket connection and starts the read loop.
func (f *QuoteFeed) Start() error {
	f.log.Info().Msg("Starting quote feed client")

	if err := f.connect(); err != nil {
		f.log.Warn().Err(err).Msg("Initial quote feed connection failed, will retry in background")
		go f.reconnectLoop()
		return err
	}

	f.mu.RLock()
	ctx := f.connCtx
	f.mu.RUnlock()
	go f.readMessages(ctx)

	return nil
}

// Stop gracefully shuts down the websocket connection.
func (f *QuoteFeed) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	f.mu.Unlock()

	close(f.stopChan)
	return f.disconnect()
}

// LatestQuote returns the most recent quote for a symbol, if any.
func (f *QuoteFeed) LatestQuote(symbol string) (Quote, bool) {
	f.cacheMu.RLock()
	defer f.cacheMu.RUnlock()
	q, ok := f.quotes[symbol]
	return q, ok
}

// Connected reports whether the feed currently has a live connection.
func (f *QuoteFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *QuoteFeed) connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, f.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	f.conn = conn
	f.connCtx = connCtx
	f.cancelFunc = connCancel
	f.connected = true

	if err := f.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		f.conn = nil
		f.connCtx = nil
		f.cancelFunc = nil
		f.connected = false
		return fmt.Errorf("failed to subscribe to quotes: %w", err)
	}

	f.log.Info().Int("symbols", len(f.symbols)).Msg("Connected to quote feed")
	return nil
}

func (f *QuoteFeed) disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return nil
	}

	if f.cancelFunc != nil {
		f.cancelFunc()
		f.cancelFunc = nil
	}

	err := f.conn.Close(websocket.StatusNormalClosure, "")
	f.conn = nil
	f.connCtx = nil
	f.connected = false

	if err != nil {
		return fmt.Errorf("error closing websocket: %w", err)
	}
	return nil
}

func (f *QuoteFeed) subscribe(ctx context.Context) error {
	msg := map[string]any{"op": "subscribe", "symbols": f.symbols}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := f.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription message: %w", err)
	}
	return nil
}

func (f *QuoteFeed) readMessages(ctx context.Context) {
	defer func() {
		f.mu.RLock()
		stopped := f.stopped
		f.mu.RUnlock()
		if !stopped {
			go f.reconnectLoop()
		}
	}()

	for {
		select {
		case <-f.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			f.log.Warn().Err(err).Msg("Quote feed read failed")
			f.mu.Lock()
			f.connected = false
			f.mu.Unlock()
			return
		}

		var quote Quote
		if err := json.Unmarshal(data, &quote); err != nil {
			f.log.Debug().Err(err).Msg("Ignoring unparseable feed message")
			continue
		}

		f.cacheMu.Lock()
		f.quotes[quote.Symbol] = quote
		f.lastUpdate = time.Now()
		f.cacheMu.Unlock()
	}
}

// reconnectLoop attempts reconnection with exponential backoff.
func (f *QuoteFeed) reconnectLoop() {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := time.Duration(float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}

		f.log.Info().
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Scheduling quote feed reconnect")

		select {
		case <-f.stopChan:
			return
		case <-time.After(delay):
		}

		if err := f.connect(); err != nil {
			f.log.Warn().Err(err).Int("attempt", attempt).Msg("Quote feed reconnect failed")
			continue
		}

		f.mu.RLock()
		ctx := f.connCtx
		f.mu.RUnlock()
		go f.readMessages(ctx)
		return
	}

	f.log.Error().
		Int("attempts", maxReconnectAttempts).
		Msg("Quote feed reconnection abandoned after max attempts")
}
