package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend_trader/internal/core"
	"trend_trader/pkg/logging"
)

var upgrader = websocket.Upgrader{}

// wsServer is a scripted kline feed. Each accepted connection gets the
// configured messages, then either holds the connection open or drops it.
type wsServer struct {
	srv *httptest.Server

	mu          sync.Mutex
	conns       int
	messages    []string
	dropAfter   bool
	activeConns []*websocket.Conn
}

func newWSServer(t *testing.T, messages []string, dropAfter bool) *wsServer {
	t.Helper()
	ws := &wsServer{messages: messages, dropAfter: dropAfter}

	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.conns++
		msgs := ws.messages
		drop := ws.dropAfter
		ws.activeConns = append(ws.activeConns, conn)
		ws.mu.Unlock()

		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if drop {
			conn.Close()
			return
		}
		// Hold open; discard client frames so pings are answered by the
		// library's default handler.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	t.Cleanup(func() {
		ws.mu.Lock()
		for _, c := range ws.activeConns {
			c.Close()
		}
		ws.mu.Unlock()
		ws.srv.Close()
	})
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) connCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.conns
}

// send writes a message on the most recent connection, for scripting traffic
// after the initial batch.
func (ws *wsServer) send(t *testing.T, msg string) {
	t.Helper()
	ws.mu.Lock()
	defer ws.mu.Unlock()
	require.NotEmpty(t, ws.activeConns)
	conn := ws.activeConns[len(ws.activeConns)-1]
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func klineMsg(closePrice string, closed bool) string {
	return fmt.Sprintf(`{"e":"kline","E":1718000000000,"s":"BTCUSDT","k":{`+
		`"t":1718000000000,"T":1718000059999,"s":"BTCUSDT","i":"1m",`+
		`"o":"100.0","c":"%s","h":"101.0","l":"99.0","v":"10.5","n":120,`+
		`"x":%t,"q":"1050.0","V":"5.0","Q":"500.0"}}`, closePrice, closed)
}

func collect(t *testing.T, ch <-chan core.Candle, n int, timeout time.Duration) []core.Candle {
	t.Helper()
	var out []core.Candle
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-deadline:
			t.Fatalf("timed out after %d of %d candles", len(out), n)
		}
	}
	return out
}

func TestConsumer_ForwardsOnlyClosedCandles(t *testing.T) {
	ws := newWSServer(t, []string{
		klineMsg("100.5", false),
		klineMsg("100.7", false),
		klineMsg("101.0", true),
		klineMsg("101.5", false),
		klineMsg("102.0", true),
	}, false)

	c := NewConsumerWithURL(ws.url(), "BTCUSDT", "1m", logging.NewNop())
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	candles := collect(t, c.Candles(), 2, 3*time.Second)
	assert.Equal(t, "101", candles[0].Close.String())
	assert.Equal(t, "102", candles[1].Close.String())
	assert.True(t, candles[0].Closed)
}

func TestConsumer_IgnoresMalformedMessages(t *testing.T) {
	ws := newWSServer(t, []string{
		`{not json`,
		`{"e":"aggTrade"}`,
		klineMsg("105.0", true),
	}, false)

	c := NewConsumerWithURL(ws.url(), "BTCUSDT", "1m", logging.NewNop())
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	candles := collect(t, c.Candles(), 1, 3*time.Second)
	assert.Equal(t, "105", candles[0].Close.String())
}

func TestConsumer_StopClosesChannel(t *testing.T) {
	ws := newWSServer(t, []string{klineMsg("100.0", true)}, false)

	c := NewConsumerWithURL(ws.url(), "BTCUSDT", "1m", logging.NewNop())
	require.NoError(t, c.Start(context.Background()))

	collect(t, c.Candles(), 1, 3*time.Second)
	c.Stop()

	_, open := <-c.Candles()
	assert.False(t, open)

	// Stop twice is safe.
	c.Stop()
}

func TestConsumer_ReconnectsAfterDrop(t *testing.T) {
	if testing.Short() {
		t.Skip("reconnect delay makes this test slow")
	}

	ws := newWSServer(t, []string{klineMsg("100.0", true)}, true)

	c := NewConsumerWithURL(ws.url(), "BTCUSDT", "1m", logging.NewNop())
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	// One candle per connection; a second candle proves the reconnect.
	candles := collect(t, c.Candles(), 2, 10*time.Second)
	assert.Len(t, candles, 2)
	assert.GreaterOrEqual(t, ws.connCount(), 2)
}

func TestConsumer_QuietStreamStaysConnected(t *testing.T) {
	ws := newWSServer(t, nil, false)

	c := NewConsumerWithURL(ws.url(), "BTCUSDT", "1m", logging.NewNop())
	c.pingInterval = 50 * time.Millisecond
	c.pongWait = 200 * time.Millisecond
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	// Several pong deadlines worth of silence; the heartbeat must keep the
	// single connection alive.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 1, ws.connCount())

	// The same connection still delivers data.
	ws.send(t, klineMsg("103.0", true))
	candles := collect(t, c.Candles(), 1, 3*time.Second)
	assert.Equal(t, "103", candles[0].Close.String())
	assert.Equal(t, 1, ws.connCount())
}

func TestConsumer_StartTwiceFails(t *testing.T) {
	ws := newWSServer(t, nil, false)

	c := NewConsumerWithURL(ws.url(), "BTCUSDT", "1m", logging.NewNop())
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Error(t, c.Start(context.Background()))
}

func TestConsumer_StreamURLFormat(t *testing.T) {
	c := NewConsumerWithURL("wss://example.test/ws/", "ETHUSDT", "5m", logging.NewNop())
	assert.Equal(t, "wss://example.test/ws/ethusdt@kline_5m", c.url)
}

func TestConsumer_ContextCancelStopsLoop(t *testing.T) {
	ws := newWSServer(t, []string{klineMsg("100.0", true)}, false)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumerWithURL(ws.url(), "BTCUSDT", "1m", logging.NewNop())
	require.NoError(t, c.Start(ctx))

	collect(t, c.Candles(), 1, 3*time.Second)
	cancel()
	c.Stop()

	_, open := <-c.Candles()
	assert.False(t, open)
}
