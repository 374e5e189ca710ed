package transport

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// StreamableHTTPRegistry demultiplexes the single configured http_path
// across many concurrent sessions (spec.md §8 scenario 5: "two concurrent
// Streamable-HTTP clients share one child ... no cross-talk"). A bare
// StreamableHTTPAdapter only tracks one session's worth of state; this
// registry keeps one such adapter per session id, resolved from the
// mcp-session-id header, else x-session-id, else a freshly generated id
// for what must be an "initialize" call. Unlike SSEServer, it does not
// read a sessionId query parameter.
type StreamableHTTPRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*StreamableHTTPAdapter

	// OnNewSession is invoked once per newly observed session id, handing
	// the caller (the gateway's session manager + router wiring) a
	// ready-to-register Adapter.
	OnNewSession func(sessionID string, clientHeaders map[string]string, adapter Adapter)
}

// NewStreamableHTTPRegistry constructs an empty registry.
func NewStreamableHTTPRegistry() *StreamableHTTPRegistry {
	return &StreamableHTTPRegistry{sessions: make(map[string]*StreamableHTTPAdapter)}
}

// ActiveSessionCount returns the number of currently tracked sessions.
func (reg *StreamableHTTPRegistry) ActiveSessionCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.sessions)
}

// Handler returns the single http.HandlerFunc serving the configured
// http_path for every session.
func (reg *StreamableHTTPRegistry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			setStreamableCORSHeaders(w)
			w.WriteHeader(http.StatusOK)
			return
		}

		sessionID := r.Header.Get("Mcp-Session-Id")
		if sessionID == "" {
			sessionID = r.Header.Get("X-Session-Id")
		}

		if sessionID != "" {
			reg.mu.RLock()
			adapter, ok := reg.sessions[sessionID]
			reg.mu.RUnlock()
			if !ok {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			adapter.Handler()(w, r)
			return
		}

		// No session id: this must be the opening "initialize" request.
		// Mint a session up front so the adapter's own sessionID field and
		// this registry's key agree once the initialize response assigns
		// one internally.
		sessionID = uuid.New().String()
		adapter := NewStreamableHTTPAdapter()

		reg.mu.Lock()
		reg.sessions[sessionID] = adapter
		reg.mu.Unlock()

		if reg.OnNewSession != nil {
			reg.OnNewSession(sessionID, snapshotHeaders(r), adapter)
		}

		adapter.forceSessionID(sessionID)
		adapter.Handler()(w, r)

		go func() {
			<-adapter.closed()
			reg.mu.Lock()
			delete(reg.sessions, sessionID)
			reg.mu.Unlock()
		}()
	}
}
