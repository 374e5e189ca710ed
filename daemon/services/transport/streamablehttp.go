package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/logger"
)

// supportedProtocolVersions lists the MCP protocol versions this gateway
// accepts on the MCP-Protocol-Version header (spec.md §4.1).
var supportedProtocolVersions = map[string]bool{
	"2025-06-18": true,
	"2025-03-26": true,
}

type streamableSSEClient struct {
	id       string
	messages chan []byte
	done     chan struct{}
}

// StreamableHTTPAdapter implements the MCP Streamable HTTP transport: a
// single endpoint accepting POST for requests/notifications, GET for an
// optional SSE push stream, and DELETE for session termination.
//
// Grounded on the now-retired daemon/services/mcp/streamable_http.go:
// the responseMap request/reply correlation and SSE client registry carry
// over unchanged in spirit, rewired onto domain.JSONRPCMessage/Classify
// instead of the official SDK's transport.BaseJsonRpcMessage.
type StreamableHTTPAdapter struct {
	handlers

	mu          sync.RWMutex
	responseMap map[string]chan *domain.JSONRPCMessage
	sessionID   string
	initialized bool
	sseClients  map[string]*streamableSSEClient

	closeOnce        sync.Once
	closedCh         chan struct{}
	closeHandlerOnce sync.Once
}

// NewStreamableHTTPAdapter constructs a StreamableHTTPAdapter. Session
// state is established on the first "initialize" request it observes.
func NewStreamableHTTPAdapter() *StreamableHTTPAdapter {
	return &StreamableHTTPAdapter{
		responseMap: make(map[string]chan *domain.JSONRPCMessage),
		sseClients:  make(map[string]*streamableSSEClient),
		closedCh:    make(chan struct{}),
	}
}

// forceSessionID pre-assigns the session id a caller (StreamableHTTPRegistry)
// has already minted for this adapter, so the registry's lookup key and the
// adapter's own notion of its session agree from the very first request
// instead of only after the "initialize" reply mints one internally.
func (a *StreamableHTTPAdapter) forceSessionID(id string) {
	a.mu.Lock()
	a.sessionID = id
	a.mu.Unlock()
}

// closed returns a channel closed once this adapter's session ends, either
// by explicit DELETE or by Close, so a registry can drop its map entry.
func (a *StreamableHTTPAdapter) closed() <-chan struct{} {
	return a.closedCh
}

func (a *StreamableHTTPAdapter) signalClosed() {
	a.closeOnce.Do(func() { close(a.closedCh) })
}

// Send routes a response/error back to the POST handler awaiting it by
// id, or — for requests/notifications originated on the server side —
// broadcasts to any connected SSE pushers.
func (a *StreamableHTTPAdapter) Send(_ context.Context, msg *domain.JSONRPCMessage) error {
	if msg.Kind == domain.KindResponse || msg.Kind == domain.KindError {
		key := domain.IDKey(msg.ID)
		a.mu.RLock()
		ch := a.responseMap[key]
		a.mu.RUnlock()
		if ch != nil {
			ch <- msg
			return nil
		}
	}

	raw, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, client := range a.sseClients {
		select {
		case client.messages <- raw:
		default:
			logger.Info("streamable http adapter: sse client %s buffer full, dropping message", client.id)
		}
	}
	return nil
}

// Close tears down any open SSE pushers and invokes the close handler.
// Idempotent in effect: closing an already-closed adapter is a no-op
// beyond re-clearing an already-empty client map; the close handler runs
// only on the first call.
func (a *StreamableHTTPAdapter) Close() error {
	a.mu.Lock()
	for _, client := range a.sseClients {
		close(client.done)
	}
	a.sseClients = make(map[string]*streamableSSEClient)
	a.mu.Unlock()
	a.signalClosed()
	a.closeHandlerOnce.Do(a.dispatchClose)
	return nil
}

func setStreamableCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, MCP-Protocol-Version, Last-Event-ID")
	w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
}

// Handler returns the single http.HandlerFunc serving POST, GET, DELETE,
// and OPTIONS on the configured http_path.
func (a *StreamableHTTPAdapter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setStreamableCORSHeaders(w)

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			a.handlePost(w, r)
		case http.MethodGet:
			a.handleGet(w, r)
		case http.MethodDelete:
			a.handleDelete(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (a *StreamableHTTPAdapter) validateProtocolVersion(w http.ResponseWriter, r *http.Request) bool {
	version := r.Header.Get("MCP-Protocol-Version")
	if version == "" {
		// Spec 2025-06-18: absent header implies the prior 2025-03-26 version.
		return true
	}
	if !supportedProtocolVersions[version] {
		http.Error(w, "unsupported MCP protocol version", http.StatusBadRequest)
		return false
	}
	return true
}

func (a *StreamableHTTPAdapter) validateSessionID(w http.ResponseWriter, r *http.Request) bool {
	a.mu.RLock()
	initialized, sessionID := a.initialized, a.sessionID
	a.mu.RUnlock()
	if !initialized {
		return true
	}
	clientSessionID := r.Header.Get("Mcp-Session-Id")
	if clientSessionID == "" {
		return true
	}
	if clientSessionID != sessionID {
		http.Error(w, "invalid or terminated session", http.StatusNotFound)
		return false
	}
	return true
}

func (a *StreamableHTTPAdapter) handlePost(w http.ResponseWriter, r *http.Request) {
	if !a.validateProtocolVersion(w, r) {
		return
	}
	if !a.validateSessionID(w, r) {
		return
	}

	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := domain.Classify(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON-RPC message: %v", err), http.StatusBadRequest)
		return
	}

	switch msg.Kind {
	case domain.KindNotification:
		a.dispatchMessage(r.Context(), msg)
		w.WriteHeader(http.StatusAccepted)

	case domain.KindResponse, domain.KindError:
		a.dispatchMessage(r.Context(), msg)
		w.WriteHeader(http.StatusAccepted)

	case domain.KindRequest:
		a.handleRequest(w, r, msg)

	default:
		http.Error(w, "unable to classify JSON-RPC message", http.StatusBadRequest)
	}
}

func (a *StreamableHTTPAdapter) handleRequest(w http.ResponseWriter, r *http.Request, msg *domain.JSONRPCMessage) {
	key := domain.IDKey(msg.ID)

	a.mu.Lock()
	respCh := make(chan *domain.JSONRPCMessage, 1)
	a.responseMap[key] = respCh
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.responseMap, key)
		a.mu.Unlock()
	}()

	isInitialize := msg.Method == "initialize"

	a.dispatchMessage(r.Context(), msg)

	select {
	case response := <-respCh:
		raw, err := response.Marshal()
		if err != nil {
			http.Error(w, "failed to marshal response", http.StatusInternalServerError)
			return
		}

		if isInitialize {
			a.mu.Lock()
			if a.sessionID == "" {
				a.sessionID = uuid.New().String()
			}
			a.initialized = true
			sessionID := a.sessionID
			a.mu.Unlock()
			w.Header().Set("Mcp-Session-Id", sessionID)
			logger.Info("streamable http session initialized: %s", sessionID)
		} else {
			a.mu.RLock()
			sessionID := a.sessionID
			a.mu.RUnlock()
			if sessionID != "" {
				w.Header().Set("Mcp-Session-Id", sessionID)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)

	case <-r.Context().Done():
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
	}
}

func (a *StreamableHTTPAdapter) handleGet(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, "text/event-stream") {
		http.Error(w, "Accept header must include text/event-stream", http.StatusNotAcceptable)
		return
	}
	if !a.validateProtocolVersion(w, r) {
		return
	}
	if !a.validateSessionID(w, r) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	a.mu.RLock()
	sessionID := a.sessionID
	a.mu.RUnlock()
	if sessionID != "" {
		w.Header().Set("Mcp-Session-Id", sessionID)
	}
	w.WriteHeader(http.StatusOK)

	client := &streamableSSEClient{
		id:       uuid.New().String(),
		messages: make(chan []byte, 100),
		done:     make(chan struct{}),
	}
	a.mu.Lock()
	a.sseClients[client.id] = client
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.sseClients, client.id)
		a.mu.Unlock()
	}()

	_, _ = fmt.Fprintf(w, ": keepalive\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case msg := <-client.messages:
			_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-time.After(30 * time.Second):
			_, _ = fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func (a *StreamableHTTPAdapter) handleDelete(w http.ResponseWriter, r *http.Request) {
	clientSessionID := r.Header.Get("Mcp-Session-Id")
	if clientSessionID == "" {
		http.Error(w, "missing Mcp-Session-Id header", http.StatusBadRequest)
		return
	}

	a.mu.Lock()
	if clientSessionID != a.sessionID {
		a.mu.Unlock()
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	a.initialized = false
	a.sessionID = ""
	for _, client := range a.sseClients {
		close(client.done)
	}
	a.sseClients = make(map[string]*streamableSSEClient)
	a.mu.Unlock()
	a.signalClosed()

	logger.Info("streamable http session terminated: %s", clientSessionID)
	w.WriteHeader(http.StatusOK)
}
