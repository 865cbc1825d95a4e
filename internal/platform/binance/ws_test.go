package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsTestServer accepts websocket connections and counts them. With
// dropFirst set, connection number one is closed immediately to force the
// client to reconnect; every other connection is held open.
type wsTestServer struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns int
}

func newWSTestServer(t *testing.T, dropFirst bool) *wsTestServer {
	t.Helper()
	ts := &wsTestServer{}
	upgrader := websocket.Upgrader{}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns++
		n := ts.conns
		ts.mu.Unlock()

		if dropFirst && n == 1 {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *wsTestServer) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.conns
}

func TestReconnectedConnectionStaysUp(t *testing.T) {
	ts := newWSTestServer(t, true)

	w := NewWSClient(ts.url())
	require.NoError(t, w.Connect(context.Background()))
	defer w.Close()

	// The server drops connection #1; the client must come back exactly once.
	require.Eventually(t, func() bool {
		return ts.connCount() >= 2
	}, 5*time.Second, 50*time.Millisecond, "client never reconnected")

	// The replacement connection must survive: the loops of the dropped
	// connection may not tear it down and trigger further reconnects.
	time.Sleep(2*reconnectDelay + 500*time.Millisecond)
	assert.Equal(t, 2, ts.connCount(), "reconnected connection was torn down")
}

func TestSubscribeDeduplicatesSymbols(t *testing.T) {
	ts := newWSTestServer(t, false)

	w := NewWSClient(ts.url())
	require.NoError(t, w.Connect(context.Background()))
	defer w.Close()

	require.NoError(t, w.Subscribe(context.Background(), []string{"BTC-USD", "ETH-USD"}))
	require.NoError(t, w.Subscribe(context.Background(), []string{"BTC-USD", "SOL-USD"}))

	w.mu.RLock()
	defer w.mu.RUnlock()
	assert.Equal(t, []string{"BTC-USD", "ETH-USD", "SOL-USD"}, w.symbols)
}
