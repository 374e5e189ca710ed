package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/logger"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/transport"
)

// protocolVersion is the MCP protocol version the bridge advertises on
// initialize.
const protocolVersion = "2025-06-18"

// Bridge is a synthetic MCP server answering from an OpenAPI-derived tool
// catalog instead of a real child process or remote server. It implements
// transport.Adapter so the router can install it as the shared downstream
// exactly the way it would a stdio child or SSE client (spec.md §4.5
// "substitutes the outgoing half of the router with the local Bridge").
type Bridge struct {
	mu      sync.RWMutex
	tools   []domain.ToolDescriptor
	byName  map[string]domain.ToolDescriptor
	invoker *Invoker

	handlerMu sync.RWMutex
	onMessage transport.MessageHandler
	onError   func(error)
	onClose   func()
}

// NewBridge constructs a Bridge serving tools against apiHost with the
// given per-call timeout.
func NewBridge(tools []domain.ToolDescriptor, apiHost string, timeout time.Duration) *Bridge {
	byName := make(map[string]domain.ToolDescriptor, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	return &Bridge{
		tools:   tools,
		byName:  byName,
		invoker: NewInvoker(apiHost, timeout),
	}
}

// Tools returns the bridge's resolved tool catalog, used to serve
// /mcp-config.
func (b *Bridge) Tools() []domain.ToolDescriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tools
}

// Send delivers a message the router forwarded downstream. The bridge
// answers every reserved method locally and in-process: there is no real
// downstream connection to write bytes to.
func (b *Bridge) Send(ctx context.Context, msg *domain.JSONRPCMessage) error {
	switch msg.Kind {
	case domain.KindNotification:
		// The gateway has nothing to react to for client notifications
		// (e.g. notifications/initialized); the bridge has no session
		// state of its own to update.
		return nil
	case domain.KindRequest:
		go b.handleRequest(ctx, msg)
		return nil
	default:
		logger.Debug("openapi bridge: ignoring message of kind %s", msg.Kind)
		return nil
	}
}

func (b *Bridge) handleRequest(ctx context.Context, msg *domain.JSONRPCMessage) {
	switch msg.Method {
	case "initialize":
		b.reply(ctx, b.initializeResult(msg.ID))
	case "tools/list":
		b.reply(ctx, b.toolsListResult(msg.ID))
	case "tools/call":
		b.reply(ctx, b.toolsCallResult(ctx, msg.ID, msg.Params, domain.AuthHeadersFromContext(ctx)))
	case "shutdown":
		b.reply(ctx, domain.NewResult(msg.ID, json.RawMessage(`{}`)))
	default:
		b.reply(ctx, domain.NewError(msg.ID, domain.CodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method), nil))
	}
}

func (b *Bridge) reply(ctx context.Context, msg *domain.JSONRPCMessage) {
	b.handlerMu.RLock()
	handler := b.onMessage
	b.handlerMu.RUnlock()
	if handler != nil {
		handler(ctx, msg)
	}
}

func (b *Bridge) initializeResult(id json.RawMessage) *domain.JSONRPCMessage {
	result, _ := json.Marshal(map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": "mcp-gateway-openapi-bridge", "version": "1.0.0"},
	})
	return domain.NewResult(id, result)
}

func (b *Bridge) toolsListResult(id json.RawMessage) *domain.JSONRPCMessage {
	b.mu.RLock()
	tools := b.tools
	b.mu.RUnlock()

	listed := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		listed = append(listed, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": inputSchemaFor(t),
		})
	}
	result, _ := json.Marshal(map[string]any{"tools": listed})
	return domain.NewResult(id, result)
}

// inputSchemaFor renders a tool's args as a minimal JSON Schema object, the
// shape MCP clients expect for inputSchema.
func inputSchemaFor(t domain.ToolDescriptor) map[string]any {
	properties := make(map[string]any, len(t.Args))
	var required []string
	for _, a := range t.Args {
		properties[a.Name] = map[string]any{
			"type":        jsonSchemaType(a.Type),
			"description": a.Description,
		}
		if a.Required {
			required = append(required, a.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonSchemaType(t domain.ArgType) string {
	switch t {
	case domain.TypeInteger, domain.TypeNumber:
		return "number"
	default:
		return string(t)
	}
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (b *Bridge) toolsCallResult(ctx context.Context, id json.RawMessage, params json.RawMessage, sessionHeaders map[string]string) *domain.JSONRPCMessage {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return domain.NewError(id, domain.CodeInvalidParams, "invalid tools/call params: "+err.Error(), nil)
	}

	b.mu.RLock()
	tool, ok := b.byName[p.Name]
	b.mu.RUnlock()
	if !ok {
		return domain.NewError(id, domain.CodeInvalidParams, fmt.Sprintf("unknown tool %q", p.Name), nil)
	}

	if err := validateArguments(tool, p.Arguments); err != nil {
		return domain.NewError(id, domain.CodeInvalidParams, err.Error(), nil)
	}

	result, err := b.invoker.Invoke(ctx, tool, p.Arguments, sessionHeaders)
	if err != nil {
		if rpcErr, ok := err.(*domain.RPCError); ok {
			return domain.NewError(id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		}
		return domain.NewError(id, domain.CodeInternalError, err.Error(), nil)
	}

	encoded, _ := json.Marshal(result)
	return domain.NewResult(id, encoded)
}

func (b *Bridge) OnMessage(handler transport.MessageHandler) {
	b.handlerMu.Lock()
	b.onMessage = handler
	b.handlerMu.Unlock()
}

func (b *Bridge) OnError(handler func(error)) {
	b.handlerMu.Lock()
	b.onError = handler
	b.handlerMu.Unlock()
}

func (b *Bridge) OnClose(handler func()) {
	b.handlerMu.Lock()
	b.onClose = handler
	b.handlerMu.Unlock()
}

// Close is a no-op beyond firing the close handler: the bridge holds no
// connection of its own to tear down.
func (b *Bridge) Close() error {
	b.handlerMu.RLock()
	handler := b.onClose
	b.handlerMu.RUnlock()
	if handler != nil {
		handler()
	}
	return nil
}
