// Package stream consumes the exchange kline WebSocket feed and turns it into
// a channel of closed candles.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trend_trader/internal/core"
	"trend_trader/pkg/telemetry"
)

// DefaultBaseURL is the production USD-M futures stream endpoint.
const DefaultBaseURL = "wss://fstream.binance.com/ws"

const (
	reconnectWait = 5 * time.Second
	// pongWait bounds peer silence. The heartbeat pings every pingInterval,
	// well inside this deadline, so a healthy but quiet peer keeps extending
	// it via pong responses and the read never times out.
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	// candleBuffer absorbs short consumer stalls without dropping the
	// connection.
	candleBuffer = 16
)

// klineEvent is the wire shape of a kline stream message.
type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Kline     struct {
		StartTime int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Quote     string `json:"q"`
		Trades    int64  `json:"n"`
		TakerBase string `json:"V"`
		TakerQuot string `json:"Q"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

// Consumer subscribes to one symbol/interval kline stream. Intra-candle ticks
// are discarded; only closed candles reach the channel. A heartbeat goroutine
// pings the peer so quiet intervals between candles do not trip the read
// deadline. The connection is re-established every reconnectWait until Stop
// or context cancellation, with no attempt cap: the consumer outlives any
// exchange outage.
type Consumer struct {
	symbol   string
	interval string
	url      string
	logger   core.Logger

	pingInterval time.Duration
	pongWait     time.Duration

	out chan core.Candle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
}

// NewConsumer builds a consumer for the given symbol and interval against the
// production endpoint.
func NewConsumer(symbol, interval string, logger core.Logger) *Consumer {
	return NewConsumerWithURL(DefaultBaseURL, symbol, interval, logger)
}

// NewConsumerWithURL builds a consumer against a custom endpoint, used for
// the testnet and in tests.
func NewConsumerWithURL(baseURL, symbol, interval string, logger core.Logger) *Consumer {
	streamURL := fmt.Sprintf("%s/%s@kline_%s",
		strings.TrimRight(baseURL, "/"), strings.ToLower(symbol), interval)

	return &Consumer{
		symbol:   symbol,
		interval: interval,
		url:      streamURL,
		logger: logger.WithFields(map[string]interface{}{
			"component": "candle_stream",
			"symbol":    symbol,
			"interval":  interval,
		}),
		pingInterval: pingInterval,
		pongWait:     pongWait,
		out:          make(chan core.Candle, candleBuffer),
	}
}

// Start launches the connection loop. Calling Start twice is an error.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("candle stream already started")
	}
	c.started = true

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.runLoop()
	return nil
}

// Candles returns the closed-candle channel. It is closed once the consumer
// has fully stopped.
func (c *Consumer) Candles() <-chan core.Candle {
	return c.out
}

// Stop requests shutdown and blocks until the connection loop has exited and
// the candle channel is closed. Safe to call more than once.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.closeConn()
	c.wg.Wait()
}

func (c *Consumer) runLoop() {
	defer c.wg.Done()
	defer close(c.out)

	first := true
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn, err := c.connect()
		if err != nil {
			c.logger.Error("Stream connect failed", "url", c.url, "error", err)
			if !c.sleep(reconnectWait) {
				return
			}
			continue
		}

		if first {
			first = false
		} else {
			telemetry.GetGlobalMetrics().ReconnectsTotal.WithLabelValues(c.symbol).Inc()
		}
		c.logger.Info("Stream connected", "url", c.url)

		hbDone := make(chan struct{})
		go c.heartbeat(conn, hbDone)

		c.readLoop(conn)
		close(hbDone)
		c.closeConn()

		if !c.sleep(reconnectWait) {
			return
		}
		c.logger.Warn("Stream disconnected, reconnecting")
	}
}

func (c *Consumer) connect() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *Consumer) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// heartbeat pings the peer every pingInterval. The pong handler extends the
// read deadline, so the deadline only expires when the peer stops answering.
// A failed ping write closes the connection to force the read loop out.
func (c *Consumer) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("Keepalive ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

// readLoop reads until the connection dies or the context is cancelled. Any
// read error, including an expired deadline, is fatal to the connection; the
// outer loop reconnects.
func (c *Consumer) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("Stream read failed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.pongWait))

		c.handleMessage(message)
	}
}

func (c *Consumer) handleMessage(message []byte) {
	var event klineEvent
	if err := json.Unmarshal(message, &event); err != nil {
		c.logger.Warn("Dropping malformed stream message", "error", err)
		return
	}
	if event.EventType != "kline" || !event.Kline.IsClosed {
		return
	}

	candle := core.Candle{
		OpenTime:         time.UnixMilli(event.Kline.StartTime),
		Open:             parseDecimal(event.Kline.Open),
		High:             parseDecimal(event.Kline.High),
		Low:              parseDecimal(event.Kline.Low),
		Close:            parseDecimal(event.Kline.Close),
		Volume:           parseDecimal(event.Kline.Volume),
		CloseTime:        time.UnixMilli(event.Kline.CloseTime),
		QuoteVolume:      parseDecimal(event.Kline.Quote),
		TradeCount:       event.Kline.Trades,
		TakerBuyVolume:   parseDecimal(event.Kline.TakerBase),
		TakerBuyQuoteVol: parseDecimal(event.Kline.TakerQuot),
		Closed:           true,
	}

	select {
	case c.out <- candle:
	case <-c.ctx.Done():
	}
}

// sleep waits d or until cancellation; false means stop.
func (c *Consumer) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
