package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polymon/internal/domain"
)

const (
	wsHandshakeTimeout = 15 * time.Second
	wsWriteWait        = 10 * time.Second
	// wsPongWait bounds the silence we tolerate before treating the
	// connection as dead. Pings go out at a fraction of it.
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// BookHandler consumes full orderbook snapshots from the market channel.
type BookHandler func(domain.OrderbookSnapshot)

// WSClient is a single-session client for the CLOB market data WebSocket.
// One client covers one Connect/Subscribe session; when the connection
// drops, Done is closed and the owner starts a fresh client. The liquidity
// watcher does exactly that, rebuilding its subscription set each session.
type WSClient struct {
	url    string
	onBook BookHandler

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewWSClient creates a client for the given market data endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		url:  wsURL,
		done: make(chan struct{}),
	}
}

// OnBookUpdate sets the handler for "book" messages. Must be called before
// Connect.
func (w *WSClient) OnBookUpdate(h BookHandler) {
	w.onBook = h
}

// Done is closed when the session ends, whether by Close or by a read
// failure on the connection.
func (w *WSClient) Done() <-chan struct{} {
	return w.done
}

// Connect dials the endpoint and starts the read and keep-alive loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}
	if w.conn != nil {
		return fmt.Errorf("polymarket/ws: already connected")
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	w.conn = conn

	go w.readLoop(conn)
	go w.pingLoop(conn)

	return nil
}

// Subscribe asks for updates on one channel for the given asset IDs. The
// market feed understands "book" and "price_change".
func (w *WSClient) Subscribe(ctx context.Context, channel string, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	cmd := WSCommand{
		Type:    "subscribe",
		Channel: channel,
		Assets:  assetIDs,
	}
	if err := w.writeJSON(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe %s: %w", channel, err)
	}
	return nil
}

// Close ends the session. Safe to call more than once.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.finish()

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// finish closes the done channel exactly once.
func (w *WSClient) finish() {
	w.doneOnce.Do(func() { close(w.done) })
}

// writeJSON sends one JSON frame. Caller must hold w.mu.
func (w *WSClient) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames until the connection fails, then signals Done so
// the owner can start a new session.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer w.finish()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		w.dispatch(message)
	}
}

// pingLoop keeps the connection alive until the session ends.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one raw frame. The feed sends "book" frames both as
// single objects and as arrays, so both shapes are handled. Frames we do
// not understand are dropped.
func (w *WSClient) dispatch(raw []byte) {
	if w.onBook == nil {
		return
	}

	if len(raw) > 0 && raw[0] == '[' {
		var books []BookMessage
		if err := json.Unmarshal(raw, &books); err != nil {
			return
		}
		for i := range books {
			if books[i].AssetID != "" {
				w.onBook(BookToDomainSnapshot(&books[i]))
			}
		}
		return
	}

	var envelope struct {
		Event string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	if envelope.Event != "book" {
		return
	}

	var book BookMessage
	if err := json.Unmarshal(raw, &book); err != nil {
		return
	}
	w.onBook(BookToDomainSnapshot(&book))
}
