// Package router couples the client-facing transports to a single shared
// downstream (a stdio child or a remote SSE connection), forwarding
// requests, correlating responses, and fanning notifications out to every
// active session.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/logger"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/session"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/transport"
)

const (
	methodReconnected = "notifications/reconnected"
	methodError       = "notifications/error"

	// topicNotification and topicError are the domain.EventBus topics the
	// router publishes every fan-out message to before delivering it to
	// sessions, so the publish/subscribe hop is actually on the wire
	// instead of being a plain function call dressed up as one.
	topicNotification = "router.downstream.notification"
	topicError        = "router.downstream.error"
)

// routeEntry records which session a request forwarded downstream under
// an internally-minted id belongs to, and the client's original id, so a
// reply can be routed back and re-keyed even though the shared downstream
// serves many sessions and ids are only unique per session (spec.md §3).
type routeEntry struct {
	sessionID  string
	originalID json.RawMessage
}

// Router implements spec.md §4.3. Grounded on the teacher's
// StreamableHTTPTransport.handleRequest id-remapping trick (
// now-retired daemon/services/mcp/streamable_http.go), generalized from
// one transport's internal responseMap into the shared-downstream
// correlation every transport needs when multiple sessions share one
// child process (spec.md §8 scenario 5).
type Router struct {
	sessions *session.Manager
	bus      *domain.EventBus

	// fanOutMu serializes a publish-then-receive round trip through bus so
	// concurrent fan-outs (a downstream notification racing a supervisor's
	// terminal/stderr broadcast) can't read back someone else's message
	// off the shared per-topic subscriber channel.
	fanOutMu sync.Mutex
	notifyCh chan any
	errorCh  chan any

	nextID atomic.Uint64

	mu         sync.Mutex
	downstream transport.Adapter
	generation uint64

	routeMu sync.Mutex
	routes  map[string]routeEntry
}

// New constructs a Router bound to a session manager and the shared
// notification bus. It subscribes to its own fan-out topics immediately so
// every notification and synthetic error the router broadcasts makes an
// actual Pub/Sub round trip through bus (spec.md §4.3 items 2 and §4.4).
func New(sessions *session.Manager, bus *domain.EventBus) *Router {
	return &Router{
		sessions: sessions,
		bus:      bus,
		notifyCh: bus.Sub(topicNotification),
		errorCh:  bus.Sub(topicError),
		routes:   make(map[string]routeEntry),
	}
}

// SetDownstream installs the current downstream adapter for the given
// supervisor generation. Called once on the first successful spawn and
// again on every successful reconnect. On reconnect (prevGeneration != 0)
// every session's stale pending entries (registered before this
// generation) are failed with a synthetic -32001 and every active session
// is notified via notifications/reconnected (spec.md §4.4).
func (r *Router) SetDownstream(ctx context.Context, generation uint64, adapter transport.Adapter) {
	r.mu.Lock()
	r.downstream = adapter
	prevGeneration := r.generation
	r.generation = generation
	r.mu.Unlock()

	if prevGeneration == 0 {
		return
	}

	for _, id := range r.sessions.List() {
		s, ok := r.sessions.Get(id)
		if !ok {
			continue
		}

		stale := s.DrainStalePending(generation)
		for key, entry := range stale {
			r.routeMu.Lock()
			route, hasRoute := r.routes[key]
			delete(r.routes, key)
			r.routeMu.Unlock()

			originalID := entry.OriginalID
			if hasRoute {
				originalID = route.originalID
			}
			r.sendUpstream(ctx, s, domain.NewError(originalID, domain.CodeDownstreamGone,
				"downstream restarted before response", nil))
		}

		r.sendUpstream(ctx, s, domain.NewNotification(methodReconnected, nil))
	}
}

// BroadcastTerminalError sends a -32001 notification to every active
// session when the child supervisor exhausts its reconnect budget
// (spec.md §4.4).
func (r *Router) BroadcastTerminalError(ctx context.Context, attempts int) {
	r.publishAndDeliver(ctx, terminalErrorNotification(attempts), topicError, r.errorCh)
}

func terminalErrorNotification(attempts int) *domain.JSONRPCMessage {
	params, _ := json.Marshal(map[string]any{
		"code":    domain.CodeDownstreamGone,
		"message": fmt.Sprintf("Child process failed after %d reconnect attempts", attempts),
	})
	return domain.NewNotification(methodError, params)
}

// BroadcastStderrError sends a -32099 notification to every active
// session for a child stderr line that parsed as a JSON-RPC error object
// (spec.md §4.4).
func (r *Router) BroadcastStderrError(ctx context.Context, line string) {
	params, _ := json.Marshal(map[string]any{
		"code":    domain.CodeDownstreamStderr,
		"message": fmt.Sprintf("Child process error: %s", line),
	})
	msg := domain.NewNotification(methodError, params)
	r.publishAndDeliver(ctx, msg, topicError, r.errorCh)
}

// HandleUpstream processes a message that arrived from a session's
// client-facing adapter. Requests are recorded as pending (under a
// process-wide unique internal id) and forwarded downstream; everything
// else forwards unchanged.
func (r *Router) HandleUpstream(ctx context.Context, sessionID string, msg *domain.JSONRPCMessage) {
	s, ok := r.sessions.Get(sessionID)
	if !ok {
		logger.Info("router: message for unknown session %s dropped", sessionID)
		return
	}
	s.Touch()

	r.mu.Lock()
	downstream := r.downstream
	generation := r.generation
	r.mu.Unlock()

	if downstream == nil {
		logger.Info("router: no downstream connected yet, dropping message from session %s", sessionID)
		return
	}

	if msg.Kind != domain.KindRequest {
		if err := downstream.Send(ctx, msg); err != nil {
			logger.Warning("router: failed forwarding %s downstream: %v", msg.Kind, err)
		}
		return
	}

	internalID := r.mintID()
	key := domain.IDKey(internalID)

	s.RegisterPending(internalID, msg.Method, generation)
	r.routeMu.Lock()
	r.routes[key] = routeEntry{sessionID: sessionID, originalID: msg.ID}
	r.routeMu.Unlock()

	forwarded := domain.NewRequest(internalID, msg.Method, msg.Params)
	ctx = domain.WithAuthHeaders(ctx, s.AuthHeaders)
	if err := downstream.Send(ctx, forwarded); err != nil {
		logger.Warning("router: failed forwarding request downstream: %v", err)
		r.routeMu.Lock()
		delete(r.routes, key)
		r.routeMu.Unlock()
		s.TakePending(internalID)
		r.sendUpstream(ctx, s, domain.NewError(msg.ID, domain.CodeServerError, "downstream send failed", nil))
	}
}

// HandleDownstream processes a message that arrived from the shared
// downstream. Notifications fan out to every active session; Responses
// and Errors are routed back to the single session that registered the
// matching internal id, with the client's original id restored.
func (r *Router) HandleDownstream(ctx context.Context, msg *domain.JSONRPCMessage) {
	switch msg.Kind {
	case domain.KindNotification:
		r.fanOutNotification(ctx, msg)
	case domain.KindResponse, domain.KindError:
		r.correlateReply(ctx, msg)
	default:
		logger.Info("router: unclassifiable message from downstream dropped")
	}
}

func (r *Router) fanOutNotification(ctx context.Context, msg *domain.JSONRPCMessage) {
	r.publishAndDeliver(ctx, msg, topicNotification, r.notifyCh)
}

// publishAndDeliver publishes msg to topic and reads it back off the
// router's own subscriber channel for that topic before delivering it to
// every active session, so the bus genuinely mediates the fan-out instead
// of sitting next to it unused. fanOutMu keeps the publish/receive pair
// atomic against a concurrent fan-out racing it on the same channel.
func (r *Router) publishAndDeliver(ctx context.Context, msg *domain.JSONRPCMessage, topic string, ch chan any) {
	r.fanOutMu.Lock()
	r.bus.Pub(msg, topic)
	published := (<-ch).(*domain.JSONRPCMessage)
	r.fanOutMu.Unlock()

	for _, id := range r.sessions.List() {
		s, ok := r.sessions.Get(id)
		if !ok {
			continue
		}
		r.sendUpstream(ctx, s, published)
	}
}

func (r *Router) correlateReply(ctx context.Context, msg *domain.JSONRPCMessage) {
	key := domain.IDKey(msg.ID)

	r.routeMu.Lock()
	entry, ok := r.routes[key]
	if ok {
		delete(r.routes, key)
	}
	r.routeMu.Unlock()

	if !ok {
		logger.Info("router: stale response for id %s dropped (no route)", key)
		return
	}

	s, ok := r.sessions.Get(entry.sessionID)
	if !ok {
		logger.Info("router: stale response for id %s dropped (session retired)", key)
		return
	}

	if _, ok := s.TakePending(msg.ID); !ok {
		logger.Info("router: stale response for id %s dropped (no pending entry)", key)
		return
	}

	restored := *msg
	restored.ID = entry.originalID
	r.sendUpstream(ctx, s, &restored)
}

// sendUpstream sends msg to a session's upstream adapter, retiring the
// session on send failure (spec.md §4.3 item 2: "send failures retire the
// failing session but do not block other recipients").
func (r *Router) sendUpstream(ctx context.Context, s *domain.Session, msg *domain.JSONRPCMessage) {
	adapter, ok := s.Upstream.(transport.Adapter)
	if !ok || adapter == nil {
		return
	}
	if err := adapter.Send(ctx, msg); err != nil {
		logger.Warning("router: send to session %s failed, retiring: %v", s.ID, err)
		r.sessions.Retire(s.ID)
	}
}

func (r *Router) mintID() json.RawMessage {
	n := r.nextID.Add(1)
	return json.RawMessage(strconv.FormatUint(n, 10))
}
