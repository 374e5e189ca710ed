package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
)

func TestSSEClientAdapterReceivesFrames(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"notify\"}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	adapter := NewSSEClientAdapter(ts.URL, nil)
	received := make(chan *domain.JSONRPCMessage, 1)
	adapter.OnMessage(func(_ context.Context, msg *domain.JSONRPCMessage) {
		received <- msg
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = adapter.Close() }()

	select {
	case msg := <-received:
		if msg.Method != "notify" {
			t.Errorf("Method = %q, want notify", msg.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestSSEClientAdapterAdoptsEndpointEvent(t *testing.T) {
	var gotPostPath string
	postSeen := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			flusher := w.(http.Flusher)
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprintf(w, "event: endpoint\ndata: /custom-message\n\n")
			flusher.Flush()
			<-r.Context().Done()
		case r.Method == http.MethodPost:
			gotPostPath = r.URL.Path
			w.WriteHeader(http.StatusAccepted)
			close(postSeen)
		}
	}))
	defer ts.Close()

	adapter := NewSSEClientAdapter(ts.URL, nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = adapter.Close() }()

	time.Sleep(50 * time.Millisecond)

	if err := adapter.Send(ctx, domain.NewNotification("ping", nil)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case <-postSeen:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for POST")
	}
	if gotPostPath != "/custom-message" {
		t.Errorf("POST path = %q, want /custom-message (resolved from endpoint event)", gotPostPath)
	}
}
