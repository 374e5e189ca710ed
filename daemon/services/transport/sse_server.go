package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/logger"
)

// SessionIDHeaders are the two header keys the gateway emits and accepts
// for session identification across SSE and Streamable HTTP (spec.md §6).
var SessionIDHeaders = []string{"mcp-session-id", "x-session-id"}

// resolveSessionID implements the selection order from spec.md §4.2:
// explicit query parameter, mcp-session-id header, x-session-id header,
// else empty (caller generates one).
func resolveSessionID(r *http.Request) string {
	if id := r.URL.Query().Get("sessionId"); id != "" {
		return id
	}
	if id := r.Header.Get("Mcp-Session-Id"); id != "" {
		return id
	}
	if id := r.Header.Get("X-Session-Id"); id != "" {
		return id
	}
	return ""
}

func snapshotHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

type sseClient struct {
	sessionID string
	messages  chan []byte
	done      chan struct{}
	adapter   *sseSessionAdapter
}

// SSEServer is the SSE server adapter (spec.md §4.1): a GET route opening
// a long-lived event stream per session and a POST route accepting
// inbound JSON-RPC messages. Grounded on
// daemon/services/mcp/transport.go's SSETransport, adapted from a single
// shared client set into an explicitly session-keyed one, with POST
// forwarding messages into the router instead of blocking for a reply —
// replies travel back over the GET stream's data: frames, matching the
// scenario in spec.md §8 ("SSE event carries ... back").
type SSEServer struct {
	mu      sync.RWMutex
	clients map[string]*sseClient

	ssePath                    string
	messagePath                string
	allowSingleSessionFallback bool

	// OnConnect is invoked once per new GET connection, after the session
	// id has been resolved, handing the caller (session manager + router
	// wiring) a ready-to-use Adapter to register.
	OnConnect func(sessionID string, clientHeaders map[string]string, adapter Adapter)
}

// NewSSEServer constructs an SSEServer. allowSingleSessionFallback
// resolves spec.md §9 Open Question (b): whether a POST lacking a
// session id may be routed to the sole active session.
func NewSSEServer(ssePath, messagePath string, allowSingleSessionFallback bool) *SSEServer {
	return &SSEServer{
		clients:                    make(map[string]*sseClient),
		ssePath:                    ssePath,
		messagePath:                messagePath,
		allowSingleSessionFallback: allowSingleSessionFallback,
	}
}

// SSEPath returns the configured GET event-stream route.
func (s *SSEServer) SSEPath() string { return s.ssePath }

// MessagePath returns the configured POST back-channel route.
func (s *SSEServer) MessagePath() string { return s.messagePath }

// ActiveSessionCount returns the number of currently connected clients.
func (s *SSEServer) ActiveSessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// sseSessionAdapter is the per-session Adapter handed to the router for
// each live GET connection.
type sseSessionAdapter struct {
	handlers
	server    *SSEServer
	sessionID string
}

func (a *sseSessionAdapter) Send(_ context.Context, msg *domain.JSONRPCMessage) error {
	raw, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	a.server.mu.RLock()
	client, ok := a.server.clients[a.sessionID]
	a.server.mu.RUnlock()
	if !ok {
		return fmt.Errorf("sse session %s is no longer connected", a.sessionID)
	}
	select {
	case client.messages <- raw:
	default:
		return fmt.Errorf("sse session %s send queue full", a.sessionID)
	}
	return nil
}

func (a *sseSessionAdapter) Close() error {
	a.server.mu.Lock()
	client, ok := a.server.clients[a.sessionID]
	if ok {
		delete(a.server.clients, a.sessionID)
	}
	a.server.mu.Unlock()
	if ok {
		close(client.done)
	}
	a.dispatchClose()
	return nil
}

// SSEHandler returns the GET handler for the configured sse_path.
func (s *SSEServer) SSEHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "SSE not supported", http.StatusInternalServerError)
			return
		}

		sessionID := resolveSessionID(r)
		if sessionID == "" {
			sessionID = uuid.New().String()
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Mcp-Session-Id", sessionID)
		w.Header().Set("X-Session-Id", sessionID)
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id, X-Session-Id")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		adapter := &sseSessionAdapter{server: s, sessionID: sessionID}
		client := &sseClient{
			sessionID: sessionID,
			messages:  make(chan []byte, 256),
			done:      make(chan struct{}),
			adapter:   adapter,
		}

		s.mu.Lock()
		s.clients[sessionID] = client
		s.mu.Unlock()

		logger.Info("sse session connected: %s", sessionID)

		if s.OnConnect != nil {
			s.OnConnect(sessionID, snapshotHeaders(r), adapter)
		}

		defer func() {
			s.mu.Lock()
			delete(s.clients, sessionID)
			s.mu.Unlock()
			logger.Info("sse session disconnected: %s", sessionID)
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-client.done:
				return
			case payload := <-client.messages:
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// PostHandler returns the POST handler for the configured message_path.
// It resolves the target session, forwards the parsed message into that
// session's adapter, and responds 202 Accepted — the JSON-RPC reply
// itself arrives asynchronously over the GET stream.
func (s *SSEServer) PostHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Mcp-Session-Id, X-Session-Id")
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "only POST is supported", http.StatusMethodNotAllowed)
			return
		}

		body, err := readBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		sessionID := resolveSessionID(r)

		s.mu.RLock()
		client, ok := s.clients[sessionID]
		if !ok && s.allowSingleSessionFallback && len(s.clients) == 1 {
			for id, c := range s.clients {
				sessionID, client, ok = id, c, true
			}
		}
		s.mu.RUnlock()

		if !ok {
			http.Error(w, "unknown or missing session", http.StatusNotFound)
			return
		}

		msg, err := domain.Classify(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid JSON-RPC message: %v", err), http.StatusBadRequest)
			return
		}

		// Dispatch through the same adapter instance handed to OnConnect,
		// so the handler registered by the router on that instance fires.
		client.adapter.dispatchMessage(r.Context(), msg)

		w.Header().Set("Mcp-Session-Id", client.sessionID)
		w.Header().Set("X-Session-Id", client.sessionID)
		w.WriteHeader(http.StatusAccepted)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(r.Body)
}
