// Package domain holds the core data model shared by every gateway
// component: the JSON-RPC envelope, sessions, child-process state, and
// OpenAPI-derived tool descriptors.
package domain

import "encoding/json"

// ProtocolVersion is the JSON-RPC version string every envelope must carry.
const ProtocolVersion = "2.0"

// MessageKind discriminates the tagged JSONRPCMessage variant.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindRequest
	KindNotification
	KindResponse
	KindError
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// RPCError is the JSON-RPC error object embedded in error responses. It
// also implements error so the bridge's validation/invocation code can
// return it directly as a Go error and have the caller translate it into
// an Error-kind JSONRPCMessage.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// Standard JSON-RPC and gateway-specific error codes (spec.md §7).
const (
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeServerError      = -32000
	CodeDownstreamGone   = -32001
	CodeDownstreamStderr = -32099
)

// JSONRPCMessage is the tagged envelope shared by every transport adapter.
// Exactly one of Method+ID (Request), Method alone (Notification),
// Result (Response), or Error (Error) is populated; Kind records which.
// Every field except jsonrpc is `omitempty`, so marshaling a decoded
// message re-emits only the fields that were actually present on the wire,
// plus the jsonrpc field, which is always written.
type JSONRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`

	Kind MessageKind `json:"-"`
}

// wireShape mirrors JSONRPCMessage but uses pointer fields so presence can
// be told apart from a zero value — the same structural peek the teacher's
// streamable_http.go classifyMessage uses, generalized into one shared
// entry point instead of being duplicated per transport.
type wireShape struct {
	JSONRPC *string          `json:"jsonrpc,omitempty"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  *string          `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *RPCError        `json:"error,omitempty"`
}

// Classify parses raw bytes into a JSONRPCMessage and tags it with its
// MessageKind without requiring the caller to know the shape in advance.
// An id of literal JSON null is treated as absent, matching encoding/json's
// own omitempty semantics for pointer fields.
func Classify(raw []byte) (*JSONRPCMessage, error) {
	var w wireShape
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}

	hasID := w.ID != nil && string(*w.ID) != "null"
	hasMethod := w.Method != nil && *w.Method != ""

	msg := &JSONRPCMessage{JSONRPC: ProtocolVersion, Params: w.Params}
	if w.JSONRPC != nil {
		msg.JSONRPC = *w.JSONRPC
	}
	if hasID {
		msg.ID = *w.ID
	}
	if hasMethod {
		msg.Method = *w.Method
	}
	if w.Result != nil {
		msg.Result = *w.Result
	}
	msg.Error = w.Error

	switch {
	case hasMethod && hasID:
		msg.Kind = KindRequest
	case hasMethod:
		msg.Kind = KindNotification
	case w.Error != nil:
		msg.Kind = KindError
	case w.Result != nil:
		msg.Kind = KindResponse
	default:
		msg.Kind = KindUnknown
	}
	return msg, nil
}

// NewRequest builds a Request-kind message.
func NewRequest(id json.RawMessage, method string, params json.RawMessage) *JSONRPCMessage {
	return &JSONRPCMessage{JSONRPC: ProtocolVersion, ID: id, Method: method, Params: params, Kind: KindRequest}
}

// NewNotification builds a Notification-kind message.
func NewNotification(method string, params json.RawMessage) *JSONRPCMessage {
	return &JSONRPCMessage{JSONRPC: ProtocolVersion, Method: method, Params: params, Kind: KindNotification}
}

// NewResult builds a Response-kind message carrying a successful result.
func NewResult(id json.RawMessage, result json.RawMessage) *JSONRPCMessage {
	return &JSONRPCMessage{JSONRPC: ProtocolVersion, ID: id, Result: result, Kind: KindResponse}
}

// NewError builds an Error-kind message.
func NewError(id json.RawMessage, code int, message string, data any) *JSONRPCMessage {
	return &JSONRPCMessage{JSONRPC: ProtocolVersion, ID: id, Error: &RPCError{Code: code, Message: message, Data: data}, Kind: KindError}
}

// IDKey renders a JSON-RPC id (which may be a string or a number on the
// wire) as a comparable string for use as a map key. Two ids that marshal
// to the same bytes compare equal.
func IDKey(id json.RawMessage) string {
	return string(id)
}

// Marshal serializes the message, omitting fields that were never set.
func (m *JSONRPCMessage) Marshal() ([]byte, error) {
	out := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id,omitempty"`
		Method  string          `json:"method,omitempty"`
		Params  json.RawMessage `json:"params,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *RPCError       `json:"error,omitempty"`
	}{
		JSONRPC: m.JSONRPC,
		ID:      m.ID,
		Method:  m.Method,
		Params:  m.Params,
		Result:  m.Result,
		Error:   m.Error,
	}
	if out.JSONRPC == "" {
		out.JSONRPC = ProtocolVersion
	}
	return json.Marshal(out)
}
