package session

import (
	"encoding/json"
	"testing"
)

func TestGetOrCreateGeneratesID(t *testing.T) {
	m := NewManager()
	s := m.GetOrCreate("", nil, nil)
	if s.ID == "" {
		t.Fatal("GetOrCreate(\"\") produced a session with an empty ID")
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestGetOrCreateReusesExisting(t *testing.T) {
	m := NewManager()
	first := m.GetOrCreate("sess-1", nil, nil)
	second := m.GetOrCreate("sess-1", nil, nil)

	if first != second {
		t.Error("GetOrCreate() with the same id should return the same *Session")
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestRetireDrainsPending(t *testing.T) {
	m := NewManager()
	s := m.GetOrCreate("sess-1", nil, nil)
	s.RegisterPending(json.RawMessage(`1`), "tools/call", 1)

	drained := m.Retire("sess-1")
	if len(drained) != 1 {
		t.Fatalf("Retire() drained %d entries, want 1", len(drained))
	}
	if _, ok := m.Get("sess-1"); ok {
		t.Error("session should no longer be registered after Retire")
	}
	if m.Count() != 0 {
		t.Errorf("Count() after retire = %d, want 0", m.Count())
	}
}

func TestRetireUnknownSessionIsNoop(t *testing.T) {
	m := NewManager()
	if drained := m.Retire("nope"); drained != nil {
		t.Errorf("Retire() on unknown session = %v, want nil", drained)
	}
}

func TestSoleSession(t *testing.T) {
	m := NewManager()
	if _, ok := m.SoleSession(); ok {
		t.Error("SoleSession() with zero sessions should report false")
	}

	m.GetOrCreate("sess-1", nil, nil)
	sole, ok := m.SoleSession()
	if !ok || sole.ID != "sess-1" {
		t.Errorf("SoleSession() = (%v, %v), want (sess-1, true)", sole, ok)
	}

	m.GetOrCreate("sess-2", nil, nil)
	if _, ok := m.SoleSession(); ok {
		t.Error("SoleSession() with two sessions should report false")
	}
}

func TestListReturnsAllIDs(t *testing.T) {
	m := NewManager()
	m.GetOrCreate("a", nil, nil)
	m.GetOrCreate("b", nil, nil)

	ids := m.List()
	if len(ids) != 2 {
		t.Fatalf("List() len = %d, want 2", len(ids))
	}
}
