package domain

import "time"

// InputMode selects where the gateway's downstream messages originate.
type InputMode string

const (
	InputStdio InputMode = "stdio"
	InputSSE   InputMode = "sse"
	InputAPI   InputMode = "api"
)

// OutputTransport selects how the gateway exposes the conversation to the
// client (spec.md §6).
type OutputTransport string

const (
	OutputStdio          OutputTransport = "stdio"
	OutputSSE            OutputTransport = "sse"
	OutputWebSocket      OutputTransport = "ws"
	OutputStreamableHTTP OutputTransport = "streamable-http"
)

// Config is the fully-resolved configuration the core reads, assembled by
// main.go from CLI flags and an optional YAML file
// (spec.md §6's external interface; ambient config-layering carried over
// from the teacher's main.go/applyFileConfig precedence).
type Config struct {
	Version string

	InputMode InputMode
	// StdioCommand is the argv-split command to spawn when InputMode is
	// InputStdio.
	StdioCommand string
	// SSEURL is the remote SSE endpoint to connect to when InputMode is
	// InputSSE.
	SSEURL string
	// APIPath is the OpenAPI/MCP-template document path when InputMode is
	// InputAPI.
	APIPath string
	// APIHost is the base URL prepended to relative tool URLs (spec.md §8
	// invariant 4).
	APIHost string

	OutputTransport OutputTransport
	Port            int
	BaseURL         string
	SSEPath         string
	MessagePath     string
	HTTPPath        string

	// Headers are static "K: V" pairs applied to every response to the
	// client, unchanged (spec.md §4.6).
	Headers map[string]string
	// OAuth2Bearer, if set, is rendered as an Authorization header.
	OAuth2Bearer string

	// CORSOrigins holds the normalized allow-list; nil means "*" (allow
	// all), matching the four shapes spec.md §4.6 names.
	CORSOrigins []string

	HealthEndpoints []string

	ToolTimeout time.Duration

	// AllowSingleSessionFallback resolves Open Question (b): whether a POST
	// lacking a session id may be routed to the sole active session.
	AllowSingleSessionFallback bool
}

// Context carries the wiring every long-running component of the gateway
// needs: the resolved configuration and the shared notification bus used
// for fan-out (spec.md §4.3 item 2), mirroring the teacher's
// domain.Context/domain.EventBus pairing in main.go.
type Context struct {
	Config Config
	Bus    *EventBus
}

// Shared notification names. The router's EventBus fan-out subscribes
// under its own topic names, not these; TopicShutdown is the method of the
// notification the child supervisor sends to the child on shutdown.
const (
	TopicBroadcast = "broadcast" // downstream notifications, fanned out to every session
	TopicShutdown  = "shutdown"  // gateway-wide shutdown signal
)
