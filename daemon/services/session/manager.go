// Package session implements the gateway's session registry: a
// concurrent map of session id to domain.Session, with the creation and
// retirement bookkeeping the router and transports need to correlate
// reconnects.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/logger"
)

// Manager owns every live session. Grounded on
// daemon/services/alerting/store.go's single-mutex-guarded slice/map
// pattern, generalized from a persisted rule store to an in-memory
// session registry — sessions never survive a restart, so there is no
// save/load pair here.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewManager constructs an empty session registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*domain.Session)}
}

// GetOrCreate returns the existing session for id, or creates one bound
// to upstream if none exists. An empty id generates a new UUIDv4 (spec.md
// §3's session-id selection order ends in "else generate").
func (m *Manager) GetOrCreate(id string, upstream any, clientHeaders map[string]string) *domain.Session {
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.Touch()
		return s
	}

	s := domain.NewSession(id, upstream, clientHeaders)
	m.sessions[id] = s
	logger.Info("session created: %s (active: %d)", id, len(m.sessions))
	return s
}

// Get returns the session for id, or (nil, false) if none is registered.
func (m *Manager) Get(id string) (*domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Retire removes a session from the registry and returns its drained
// pending table so the caller (router) can synthesize -32001 errors for
// any requests still awaiting a reply (spec.md §3).
func (m *Manager) Retire(id string) map[string]*domain.PendingEntry {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	logger.Info("session retired: %s (active: %d)", id, count)
	return s.ClearPending()
}

// List returns the ids of every currently registered session.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of currently registered sessions, exposed as
// a gauge on the /metrics endpoint.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SoleSession returns the single registered session when exactly one is
// active, for the single-session POST fallback (spec.md §9 Open Question
// (b)); ok is false when zero or more than one session is active.
func (m *Manager) SoleSession() (s *domain.Session, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.sessions) != 1 {
		return nil, false
	}
	for _, s := range m.sessions {
		return s, true
	}
	return nil, false
}
