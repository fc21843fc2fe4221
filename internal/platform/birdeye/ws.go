package birdeye

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// PriceUpdateHandler is called for each live price tick.
type PriceUpdateHandler func(mint string, price float64, ts time.Time)

// WSClient is a WebSocket client for the Birdeye live price feed. It manages
// the connection lifecycle, per-mint subscriptions, and dispatches price
// ticks to the registered handler.
type WSClient struct {
	wsURL  string
	apiKey string
	conn   *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscribed mints, restored on reconnect.
	mints map[string]struct{}

	handlerMu sync.RWMutex
	onPrice   PriceUpdateHandler

	done chan struct{}
}

// NewWSClient creates a WebSocket client for the given Birdeye socket host.
func NewWSClient(wsURL, apiKey string) *WSClient {
	return &WSClient{
		wsURL:  wsURL,
		apiKey: apiKey,
		mints:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// OnPriceUpdate registers the handler invoked for every price tick.
func (w *WSClient) OnPriceUpdate(h PriceUpdateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.onPrice = h
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Previously subscribed mints are re-subscribed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("birdeye/ws: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, w.wsURL+"?x-api-key="+w.apiKey, nil)
	if err != nil {
		return fmt.Errorf("birdeye/ws: connect: %w", err)
	}
	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	for mint := range w.mints {
		if err := w.sendSubscribe(conn, mint); err != nil {
			return fmt.Errorf("birdeye/ws: restore subscription %s: %w", mint, err)
		}
	}
	return nil
}

type wsCommand struct {
	Type string `json:"type"`
	Data struct {
		QueryType string `json:"queryType"`
		ChartType string `json:"chartType"`
		Address   string `json:"address"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// Subscribe starts streaming price ticks for the given mint.
func (w *WSClient) Subscribe(mint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.mints[mint] = struct{}{}
	if w.conn == nil {
		return nil
	}
	return w.sendSubscribe(w.conn, mint)
}

// Unsubscribe stops streaming price ticks for the given mint.
func (w *WSClient) Unsubscribe(mint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.mints, mint)
	if w.conn == nil {
		return nil
	}

	cmd := wsCommand{Type: "UNSUBSCRIBE_PRICE"}
	cmd.Data.Address = mint
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("birdeye/ws: unsubscribe %s: %w", mint, err)
	}
	return nil
}

func (w *WSClient) sendSubscribe(conn *websocket.Conn, mint string) error {
	cmd := wsCommand{Type: "SUBSCRIBE_PRICE"}
	cmd.Data.QueryType = "simple"
	cmd.Data.ChartType = "1m"
	cmd.Data.Address = mint
	cmd.Data.Currency = "usd"

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

type wsMessage struct {
	Type string `json:"type"`
	Data struct {
		Address  string  `json:"address"`
		Close    float64 `json:"c"`
		UnixTime int64   `json:"unixTime"`
	} `json:"data"`
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type != "PRICE_DATA" || msg.Data.Close <= 0 {
			continue
		}

		w.handlerMu.RLock()
		handler := w.onPrice
		w.handlerMu.RUnlock()
		if handler != nil {
			handler(msg.Data.Address, msg.Data.Close, time.Unix(msg.Data.UnixTime, 0).UTC())
		}
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close shuts down the client and its connection.
func (w *WSClient) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	close(w.done)
	if w.conn != nil {
		_ = w.conn.Close()
	}
}
