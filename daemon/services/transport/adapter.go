// Package transport implements the four MCP wire transports — stdio, SSE,
// WebSocket, and Streamable HTTP — behind one shared Adapter contract so
// the router never needs to know which carried a given message.
package transport

import (
	"context"
	"sync"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
)

// MessageHandler receives a single parsed message off an adapter.
type MessageHandler func(ctx context.Context, msg *domain.JSONRPCMessage)

// Adapter is the uniform framed-message I/O interface every transport
// implements (spec.md §4.1). Adapters are responsible for framing only;
// semantic validation is the router's job. Close is idempotent.
type Adapter interface {
	Send(ctx context.Context, msg *domain.JSONRPCMessage) error
	OnMessage(handler MessageHandler)
	OnError(handler func(error))
	OnClose(handler func())
	Close() error
}

// handlers is embedded by every concrete adapter to give it the same
// handler-registration bookkeeping without repeating the locking pattern
// the teacher applies per-transport in daemon/services/mcp/transport.go.
type handlers struct {
	mu             sync.RWMutex
	messageHandler MessageHandler
	errorHandler   func(error)
	closeHandler   func()
}

func (h *handlers) OnMessage(handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messageHandler = handler
}

func (h *handlers) OnError(handler func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorHandler = handler
}

func (h *handlers) OnClose(handler func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeHandler = handler
}

func (h *handlers) dispatchMessage(ctx context.Context, msg *domain.JSONRPCMessage) {
	h.mu.RLock()
	handler := h.messageHandler
	h.mu.RUnlock()
	if handler != nil {
		handler(ctx, msg)
	}
}

func (h *handlers) dispatchError(err error) {
	h.mu.RLock()
	handler := h.errorHandler
	h.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

func (h *handlers) dispatchClose() {
	h.mu.RLock()
	handler := h.closeHandler
	h.mu.RUnlock()
	if handler != nil {
		handler()
	}
}
