package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/session"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/transport"
)

// fakeAdapter is a minimal transport.Adapter double recording every message
// sent to it, with an optional failure hook for exercising send-error paths.
type fakeAdapter struct {
	mu    sync.Mutex
	sent  []*domain.JSONRPCMessage
	fail  bool
	onMsg transport.MessageHandler
}

func (f *fakeAdapter) Send(_ context.Context, msg *domain.JSONRPCMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errSendFailed
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeAdapter) OnMessage(handler transport.MessageHandler) { f.onMsg = handler }
func (f *fakeAdapter) OnError(func(error))                        {}
func (f *fakeAdapter) OnClose(func())                             {}
func (f *fakeAdapter) Close() error                               { return nil }

func (f *fakeAdapter) messages() []*domain.JSONRPCMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.JSONRPCMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

type sendError struct{ s string }

func (e *sendError) Error() string { return e.s }

var errSendFailed = &sendError{"send failed"}

func newTestRouter() (*Router, *session.Manager) {
	sessions := session.NewManager()
	bus := domain.NewEventBus(16)
	return New(sessions, bus), sessions
}

func TestHandleUpstreamForwardsRequestWithRemappedID(t *testing.T) {
	r, sessions := newTestRouter()
	client := &fakeAdapter{}
	s := sessions.GetOrCreate("sess-1", client, nil)

	downstream := &fakeAdapter{}
	r.SetDownstream(context.Background(), 1, downstream)

	msg := domain.NewRequest(json.RawMessage(`7`), "tools/list", nil)
	r.HandleUpstream(context.Background(), s.ID, msg)

	forwarded := downstream.messages()
	if len(forwarded) != 1 {
		t.Fatalf("downstream received %d messages, want 1", len(forwarded))
	}
	if string(forwarded[0].ID) == "7" {
		t.Error("forwarded request kept the client's original id, want a remapped internal id")
	}
	if forwarded[0].Method != "tools/list" {
		t.Errorf("forwarded method = %q, want tools/list", forwarded[0].Method)
	}
}

func TestRoundTripRestoresOriginalClientID(t *testing.T) {
	r, sessions := newTestRouter()
	client := &fakeAdapter{}
	s := sessions.GetOrCreate("sess-1", client, nil)

	downstream := &fakeAdapter{}
	r.SetDownstream(context.Background(), 1, downstream)

	msg := domain.NewRequest(json.RawMessage(`"abc"`), "tools/list", nil)
	r.HandleUpstream(context.Background(), s.ID, msg)

	forwarded := downstream.messages()[0]
	reply := domain.NewResult(forwarded.ID, json.RawMessage(`{"tools":[]}`))
	r.HandleDownstream(context.Background(), reply)

	got := client.messages()
	if len(got) != 1 {
		t.Fatalf("client received %d messages, want 1", len(got))
	}
	if string(got[0].ID) != `"abc"` {
		t.Errorf("client reply id = %s, want \"abc\"", got[0].ID)
	}
}

func TestHandleUpstreamNonRequestForwardsUnchanged(t *testing.T) {
	r, sessions := newTestRouter()
	client := &fakeAdapter{}
	s := sessions.GetOrCreate("sess-1", client, nil)

	downstream := &fakeAdapter{}
	r.SetDownstream(context.Background(), 1, downstream)

	msg := domain.NewNotification("notifications/initialized", nil)
	r.HandleUpstream(context.Background(), s.ID, msg)

	forwarded := downstream.messages()
	if len(forwarded) != 1 || forwarded[0].Method != "notifications/initialized" {
		t.Fatalf("notification was not forwarded unchanged: %v", forwarded)
	}
}

func TestHandleDownstreamNotificationFansOutToAllSessions(t *testing.T) {
	r, sessions := newTestRouter()
	c1 := &fakeAdapter{}
	c2 := &fakeAdapter{}
	sessions.GetOrCreate("sess-1", c1, nil)
	sessions.GetOrCreate("sess-2", c2, nil)

	r.HandleDownstream(context.Background(), domain.NewNotification("notifications/progress", nil))

	if len(c1.messages()) != 1 {
		t.Errorf("sess-1 received %d notifications, want 1", len(c1.messages()))
	}
	if len(c2.messages()) != 1 {
		t.Errorf("sess-2 received %d notifications, want 1", len(c2.messages()))
	}
}

func TestCorrelateReplyDropsStaleResponseWithNoRoute(t *testing.T) {
	r, _ := newTestRouter()
	// No request was ever forwarded, so this reply has no matching route.
	r.HandleDownstream(context.Background(), domain.NewResult(json.RawMessage(`99`), nil))
	// No panic and nothing sent anywhere is success; nothing else to assert.
}

func TestSetDownstreamReconnectDrainsStalePendingAndNotifies(t *testing.T) {
	r, sessions := newTestRouter()
	client := &fakeAdapter{}
	s := sessions.GetOrCreate("sess-1", client, nil)

	firstDownstream := &fakeAdapter{}
	r.SetDownstream(context.Background(), 1, firstDownstream)

	msg := domain.NewRequest(json.RawMessage(`42`), "tools/call", nil)
	r.HandleUpstream(context.Background(), s.ID, msg)

	if s.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1 before reconnect", s.PendingCount())
	}

	secondDownstream := &fakeAdapter{}
	r.SetDownstream(context.Background(), 2, secondDownstream)

	if s.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0 after reconnect drains stale entries", s.PendingCount())
	}

	got := client.messages()
	if len(got) != 2 {
		t.Fatalf("client received %d messages, want 2 (stale error + reconnected notice), got %v", len(got), got)
	}

	foundError := false
	foundReconnected := false
	for _, m := range got {
		switch {
		case m.Kind == domain.KindError && string(m.ID) == "42":
			foundError = true
			if m.Error.Code != domain.CodeDownstreamGone {
				t.Errorf("stale error code = %d, want %d", m.Error.Code, domain.CodeDownstreamGone)
			}
		case m.Kind == domain.KindNotification && m.Method == methodReconnected:
			foundReconnected = true
		}
	}
	if !foundError {
		t.Error("client never received the synthetic stale-pending error restoring id 42")
	}
	if !foundReconnected {
		t.Error("client never received a notifications/reconnected notice")
	}
}

func TestSetDownstreamFirstConnectDoesNotNotify(t *testing.T) {
	r, sessions := newTestRouter()
	client := &fakeAdapter{}
	sessions.GetOrCreate("sess-1", client, nil)

	r.SetDownstream(context.Background(), 1, &fakeAdapter{})

	if len(client.messages()) != 0 {
		t.Errorf("first connect should not notify existing sessions, got %v", client.messages())
	}
}

func TestBroadcastTerminalErrorNotifiesEverySession(t *testing.T) {
	r, sessions := newTestRouter()
	client := &fakeAdapter{}
	sessions.GetOrCreate("sess-1", client, nil)

	r.BroadcastTerminalError(context.Background(), 10)

	got := client.messages()
	if len(got) != 1 {
		t.Fatalf("client received %d messages, want 1", len(got))
	}
	if got[0].Method != methodError {
		t.Errorf("method = %q, want %q", got[0].Method, methodError)
	}
}

func TestBroadcastStderrErrorNotifiesEverySession(t *testing.T) {
	r, sessions := newTestRouter()
	client := &fakeAdapter{}
	sessions.GetOrCreate("sess-1", client, nil)

	r.BroadcastStderrError(context.Background(), `{"error":"boom"}`)

	got := client.messages()
	if len(got) != 1 || got[0].Method != methodError {
		t.Fatalf("client did not receive the stderr error notification: %v", got)
	}
}

func TestHandleUpstreamDropsMessageForUnknownSession(t *testing.T) {
	r, _ := newTestRouter()
	downstream := &fakeAdapter{}
	r.SetDownstream(context.Background(), 1, downstream)

	r.HandleUpstream(context.Background(), "ghost", domain.NewRequest(json.RawMessage(`1`), "tools/list", nil))

	if len(downstream.messages()) != 0 {
		t.Error("message for an unknown session should never reach downstream")
	}
}

func TestHandleUpstreamSendFailureRollsBackAndErrorsUpstream(t *testing.T) {
	r, sessions := newTestRouter()
	client := &fakeAdapter{}
	s := sessions.GetOrCreate("sess-1", client, nil)

	downstream := &fakeAdapter{fail: true}
	r.SetDownstream(context.Background(), 1, downstream)

	r.HandleUpstream(context.Background(), s.ID, domain.NewRequest(json.RawMessage(`5`), "tools/call", nil))

	if s.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0 after rollback", s.PendingCount())
	}

	got := client.messages()
	if len(got) != 1 || got[0].Kind != domain.KindError || string(got[0].ID) != "5" {
		t.Fatalf("client did not receive a send-failure error restoring id 5: %v", got)
	}
}
