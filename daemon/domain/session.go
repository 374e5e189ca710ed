package domain

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// PendingEntry records an outbound request awaiting a downstream response.
// Generation ties the entry to the downstream's ready-transition count at
// the moment it was registered, so a reconnect can identify and fail every
// entry that predates it (spec.md §4.3 item 3).
type PendingEntry struct {
	OriginalID json.RawMessage
	Method     string
	EnqueuedAt time.Time
	Generation uint64
}

// Session represents one client conversation. Sessions are owned
// exclusively by the Session Manager (arena-style ownership per spec.md
// §9) — transports and the router hold the session id, never a pointer
// they themselves retire.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time

	// Upstream is an opaque handle back to the session's output transport.
	// The router type-asserts it to the concrete adapter it expects; the
	// domain package itself has no transport dependency.
	Upstream any

	ClientHeaders map[string]string
	AuthHeaders   map[string]string

	mu      sync.Mutex
	pending map[string]*PendingEntry
}

// NewSession constructs a session with its pending table initialized and
// its auth-header subset derived from the full client header snapshot.
func NewSession(id string, upstream any, clientHeaders map[string]string) *Session {
	now := time.Now()
	return &Session{
		ID:            id,
		CreatedAt:     now,
		LastActivity:  now,
		Upstream:      upstream,
		ClientHeaders: clientHeaders,
		AuthHeaders:   deriveAuthHeaders(clientHeaders),
		pending:       make(map[string]*PendingEntry),
	}
}

// deriveAuthHeaders keeps headers whose key contains "token", "auth", or
// "key" (case-insensitively), per spec.md §3's Session.auth_headers.
func deriveAuthHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range headers {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "token") || strings.Contains(lk, "auth") || strings.Contains(lk, "key") {
			out[k] = v
		}
	}
	return out
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// RegisterPending records an outbound request id. It is an error for the
// caller to reuse an id that is still outstanding; the caller (the router)
// is responsible for minting ids that cannot collide.
func (s *Session) RegisterPending(id json.RawMessage, method string, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[IDKey(id)] = &PendingEntry{
		OriginalID: id,
		Method:     method,
		EnqueuedAt: time.Now(),
		Generation: generation,
	}
}

// TakePending removes and returns the pending entry for id, if any.
func (s *Session) TakePending(id json.RawMessage) (*PendingEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := IDKey(id)
	entry, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	return entry, ok
}

// PendingCount reports the number of outstanding requests.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// DrainStalePending removes and returns every pending entry whose
// Generation predates currentGeneration — used when the downstream
// reconnects and invalidates in-flight requests (spec.md §4.3 item 3).
func (s *Session) DrainStalePending(currentGeneration uint64) map[string]*PendingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := make(map[string]*PendingEntry)
	for key, entry := range s.pending {
		if entry.Generation < currentGeneration {
			stale[key] = entry
			delete(s.pending, key)
		}
	}
	return stale
}

// ClearPending drains and returns every pending entry, used on retirement
// (spec.md §3: "deletion of a session discards its pending table").
func (s *Session) ClearPending() map[string]*PendingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := s.pending
	s.pending = make(map[string]*PendingEntry)
	return cleared
}
