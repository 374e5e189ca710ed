package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
)

func newWebSocketTestServer(t *testing.T, onAdapter func(*WebSocketAdapter)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adapter, err := UpgradeWebSocket(w, r)
		if err != nil {
			t.Errorf("UpgradeWebSocket() error = %v", err)
			return
		}
		onAdapter(adapter)
		adapter.Start(r.Context())
	}))
}

func TestWebSocketAdapterRoundTrip(t *testing.T) {
	var serverAdapter *WebSocketAdapter
	ts := newWebSocketTestServer(t, func(a *WebSocketAdapter) {
		serverAdapter = a
		a.OnMessage(func(ctx context.Context, msg *domain.JSONRPCMessage) {
			_ = a.Send(ctx, domain.NewResult(msg.ID, []byte(`{"ok":true}`)))
		})
	})
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !strings.Contains(string(raw), `"ok":true`) {
		t.Errorf("reply = %s, want it to carry the result payload", raw)
	}
	if serverAdapter == nil {
		t.Fatal("server never captured an adapter")
	}
}

func TestWebSocketAdapterCloseIsIdempotent(t *testing.T) {
	ts := newWebSocketTestServer(t, func(*WebSocketAdapter) {})
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close() }()

	adapter := &WebSocketAdapter{conn: conn, send: make(chan []byte, wsSendBuffer)}
	if err := adapter.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
