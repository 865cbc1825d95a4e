// Package binance streams diff-depth and trade events over WebSocket and
// fetches REST depth snapshots for gap recovery.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/venuelabs/microroute/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// DeltaHandler is called for every diff-depth event.
type DeltaHandler func(domain.BookDelta)

// TradeHandler is called for every trade print.
type TradeHandler func(domain.Trade)

// WSClient streams the combined market data endpoint. It manages the
// connection lifecycle, restores subscriptions on reconnect, and dispatches
// parsed events to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Engine symbols subscribed, restored on reconnect. Maps the exchange
	// spelling back to the engine spelling for outbound events.
	symbols   []string
	symbolMap map[string]string

	// lastFinal tracks the last forwarded final update ID per symbol so
	// replayed or overlapping diffs are dropped before they reach the store.
	lastFinal map[string]uint64

	cmdID atomic.Int64

	deltaHandlers []DeltaHandler
	tradeHandlers []TradeHandler
	handlerMu     sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a client for the given combined-stream endpoint, e.g.
// "wss://stream.binance.com:9443/stream".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL:     wsURL,
		symbolMap: make(map[string]string),
		lastFinal: make(map[string]uint64),
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Previously subscribed symbols are re-subscribed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("binance/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}

	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Each connection gets its own read and ping loops. A loop left over
	// from a previous connection notices it no longer owns w.conn and
	// exits instead of touching the replacement.
	go w.readLoop(conn)
	go w.pingLoop(conn)

	// Restore any previous subscriptions after reconnect.
	if len(w.symbols) > 0 {
		if err := w.sendCommand(w.subscribeFrame(w.symbols)); err != nil {
			return fmt.Errorf("binance/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to depth and trade streams for the given engine
// symbols (e.g. "BTC-USD").
func (w *WSClient) Subscribe(ctx context.Context, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("binance/ws: not connected")
	}

	if err := w.sendCommand(w.subscribeFrame(symbols)); err != nil {
		return fmt.Errorf("binance/ws: subscribe: %w", err)
	}

	for _, sym := range symbols {
		if _, known := w.symbolMap[exchangeSymbol(sym)]; known {
			continue
		}
		w.symbolMap[exchangeSymbol(sym)] = sym
		w.symbols = append(w.symbols, sym)
	}
	return nil
}

// Unsubscribe removes depth and trade streams for the given symbols.
func (w *WSClient) Unsubscribe(ctx context.Context, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("binance/ws: not connected")
	}

	cmd := w.subscribeFrame(symbols)
	cmd.Method = "UNSUBSCRIBE"
	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("binance/ws: unsubscribe: %w", err)
	}

	drop := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		drop[sym] = struct{}{}
		delete(w.symbolMap, exchangeSymbol(sym))
		delete(w.lastFinal, sym)
	}
	kept := w.symbols[:0]
	for _, sym := range w.symbols {
		if _, gone := drop[sym]; !gone {
			kept = append(kept, sym)
		}
	}
	w.symbols = kept
	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnDelta registers a handler for diff-depth events.
func (w *WSClient) OnDelta(handler DeltaHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.deltaHandlers = append(w.deltaHandlers, handler)
}

// OnTrade registers a handler for trade prints.
func (w *WSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// ResetSequence clears the replay filter for a symbol. The book store calls
// this indirectly through resync: after a fresh snapshot, older buffered
// diffs must be judged against the snapshot sequence again.
func (w *WSClient) ResetSequence(symbol string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.lastFinal, symbol)
}

// subscribeFrame builds the SUBSCRIBE command for depth+trade streams.
// Caller must hold w.mu.
func (w *WSClient) subscribeFrame(symbols []string) subscribeCommand {
	params := make([]string, 0, len(symbols)*2)
	for _, sym := range symbols {
		stream := streamSymbol(sym)
		params = append(params, stream+"@depth@100ms", stream+"@trade")
	}
	return subscribeCommand{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     w.cmdID.Add(1),
	}
}

// sendCommand sends a JSON command frame. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd subscribeCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages from one connection and dispatches them to
// handlers. On disconnect, the loop that still owns the current connection
// triggers a reconnect; loops belonging to an already replaced connection
// just exit.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			if w.owns(conn) {
				w.reconnect()
			}
			return // the replacement connection runs its own readLoop
		}

		w.handleMessage(message)
	}
}

// pingLoop keeps one connection alive with periodic pings and exits once
// that connection has been replaced or fails to accept a write.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if !w.owns(conn) {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// owns reports whether conn is still the client's current connection.
func (w *WSClient) owns(conn *websocket.Conn) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn == conn
}

// handleMessage parses a combined-stream message and routes it by stream
// suffix. Unparseable frames and command acks are silently dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope streamEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Stream == "" {
		return
	}

	switch {
	case strings.Contains(envelope.Stream, "@depth"):
		var msg depthUpdateMessage
		if err := json.Unmarshal(envelope.Data, &msg); err != nil {
			return
		}
		symbol := w.engineSymbol(msg.Symbol)
		if symbol == "" || w.isReplay(symbol, msg.FinalUpdateID) {
			return
		}
		delta := depthToDelta(&msg, symbol)

		w.handlerMu.RLock()
		handlers := w.deltaHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(delta)
		}

	case strings.Contains(envelope.Stream, "@trade"):
		var msg tradeMessage
		if err := json.Unmarshal(envelope.Data, &msg); err != nil {
			return
		}
		symbol := w.engineSymbol(msg.Symbol)
		if symbol == "" {
			return
		}
		trade := tradeToDomain(&msg, symbol)

		w.handlerMu.RLock()
		handlers := w.tradeHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(trade)
		}
	}
}

func (w *WSClient) engineSymbol(exchange string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.symbolMap[exchange]
}

// isReplay drops diffs whose final ID does not advance past what was already
// forwarded. The venue replays overlapping ranges after its own reconnects.
func (w *WSClient) isReplay(symbol string, finalID uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.lastFinal[symbol]; ok && finalID <= last {
		return true
	}
	w.lastFinal[symbol] = finalID
	return false
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
