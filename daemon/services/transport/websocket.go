package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/logger"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadDeadline = 60 * time.Second
	wsSendBuffer   = 64
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// WebSocketAdapter wraps a single upgraded connection. Unlike the
// teacher's WSHub (one hub fanning broadcast events out to every client),
// each MCP WebSocket connection is its own session, so there is one
// adapter per connection rather than a shared registry — the ping/pong
// keepalive and buffered send channel are grounded directly on
// daemon/services/api/websocket.go's writePump/readPump pair.
type WebSocketAdapter struct {
	handlers

	conn *websocket.Conn
	send chan []byte

	closeMu sync.Mutex
	closed  bool
}

// UpgradeWebSocket upgrades an incoming HTTP request to a WebSocket
// connection and returns a ready-to-start adapter.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request) (*WebSocketAdapter, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade websocket: %w", err)
	}
	return &WebSocketAdapter{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}, nil
}

// Start launches the read and write pumps in their own goroutines.
func (a *WebSocketAdapter) Start(ctx context.Context) {
	go a.writePump(ctx)
	go a.readPump(ctx)
}

func (a *WebSocketAdapter) writePump(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = a.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = a.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload, ok := <-a.send:
			if !ok {
				_ = a.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := a.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := a.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (a *WebSocketAdapter) readPump(ctx context.Context) {
	defer func() {
		_ = a.conn.Close()
		a.dispatchClose()
	}()

	if err := a.conn.SetReadDeadline(time.Now().Add(wsReadDeadline)); err != nil {
		logger.Warning("websocket adapter: error setting initial read deadline: %v", err)
		return
	}
	a.conn.SetPongHandler(func(string) error {
		return a.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	for {
		_, raw, err := a.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.dispatchError(fmt.Errorf("websocket read error: %w", err))
			}
			return
		}

		msg, err := domain.Classify(raw)
		if err != nil {
			logger.Info("websocket adapter: discarding unparseable frame: %v", err)
			continue
		}
		a.dispatchMessage(ctx, msg)
	}
}

// Send enqueues msg for the write pump. Non-blocking: a full send buffer
// reports an error rather than blocking the caller, matching the
// backpressure behavior of the other adapters in this package.
func (a *WebSocketAdapter) Send(_ context.Context, msg *domain.JSONRPCMessage) error {
	a.closeMu.Lock()
	closed := a.closed
	a.closeMu.Unlock()
	if closed {
		return fmt.Errorf("websocket adapter is closed")
	}

	raw, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	select {
	case a.send <- raw:
		return nil
	default:
		return fmt.Errorf("websocket send buffer full")
	}
}

// Close closes the send channel, which signals the write pump to send a
// close frame and tear the connection down. Idempotent.
func (a *WebSocketAdapter) Close() error {
	a.closeMu.Lock()
	already := a.closed
	a.closed = true
	a.closeMu.Unlock()
	if already {
		return nil
	}
	close(a.send)
	return nil
}
