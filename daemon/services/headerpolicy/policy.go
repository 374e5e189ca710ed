// Package headerpolicy normalizes CORS origin configuration and the
// static/custom response headers every transport adapter applies, so the
// four wire transports don't each reimplement the same preflight and
// header-propagation rules (spec.md §4.6). Grounded on the teacher's
// api/middleware.go corsMiddleware, generalized from a single allowed
// origin string to the spec's four origin shapes.
package headerpolicy

import (
	"net/http"
	"strings"
)

// sessionIDHeaders are always exposed to browser clients so they can read
// the session id the gateway assigns or echoes (spec.md §4.2, §4.6).
var sessionIDHeaders = []string{"Mcp-Session-Id", "X-Session-Id"}

// hopByHopHeaders are stripped before a client header snapshot is merged
// into an outbound HTTP call (spec.md §4.3 item 5).
var hopByHopHeaders = map[string]bool{
	"host":            true,
	"connection":      true,
	"content-length":  true,
	"accept-encoding": true,
}

// Policy holds the resolved CORS origin allow-list and the custom headers
// applied to every response the gateway sends to a client.
type Policy struct {
	// Origins is nil for "allow all" (CORS shape `*` or unset), or the
	// normalized allow-list for the string/comma-list/list shapes.
	Origins []string
	// CustomHeaders are set on every response (health endpoints, SSE/WS/
	// Streamable HTTP responses) unchanged (spec.md §6).
	CustomHeaders map[string]string
}

// NewPolicy normalizes the CORS flag's four accepted shapes: "" or "*"
// (allow all), a single origin, or a comma-separated list (spec.md §4.6).
// Passing the flag's raw string form covers all three non-list shapes;
// NewPolicyFromList covers the list shape directly (e.g. from a config
// file where the value is already a YAML/JSON array).
func NewPolicy(corsFlag string, customHeaders map[string]string) *Policy {
	trimmed := strings.TrimSpace(corsFlag)
	if trimmed == "" || trimmed == "*" {
		return &Policy{CustomHeaders: customHeaders}
	}
	return NewPolicyFromList(strings.Split(trimmed, ","), customHeaders)
}

// NewPolicyFromList builds a Policy from an explicit origin list, trimming
// whitespace around each entry and collapsing a literal "*" entry to
// "allow all".
func NewPolicyFromList(origins []string, customHeaders map[string]string) *Policy {
	normalized := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			return &Policy{CustomHeaders: customHeaders}
		}
		normalized = append(normalized, o)
	}
	return &Policy{Origins: normalized, CustomHeaders: customHeaders}
}

// allowedOrigin returns the Access-Control-Allow-Origin value for a given
// request Origin header: "*" when the policy allows all, the echoed
// origin when it matches the allow-list, or "" when it does not.
func (p *Policy) allowedOrigin(requestOrigin string) string {
	if p.Origins == nil {
		return "*"
	}
	for _, o := range p.Origins {
		if strings.EqualFold(o, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

// ApplyCORS sets the CORS headers for r on w and, for an OPTIONS preflight,
// writes a 200 and reports handled=true so the caller can return without
// invoking its normal handler (spec.md §4.6 "preflights OPTIONS for all
// configured paths").
func (p *Policy) ApplyCORS(w http.ResponseWriter, r *http.Request) (handled bool) {
	origin := r.Header.Get("Origin")
	if allowed := p.allowedOrigin(origin); allowed != "" {
		w.Header().Set("Access-Control-Allow-Origin", allowed)
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id, X-Session-Id, MCP-Protocol-Version")
	w.Header().Set("Access-Control-Expose-Headers", strings.Join(sessionIDHeaders, ", "))

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}

// ApplyCustomHeaders sets every operator-configured custom header on w
// (spec.md §6: "Custom headers supplied to the gateway are set on every
// outgoing response to the client, unchanged").
func (p *Policy) ApplyCustomHeaders(w http.ResponseWriter) {
	for k, v := range p.CustomHeaders {
		w.Header().Set(k, v)
	}
}

// MergeOutboundHeaders builds the final header set for an outbound HTTP
// call made on behalf of a client, merging in precedence (lowest to
// highest): gatewayDefaults, bridgeHeaders, then the client's own headers
// (lower-cased), stripping hop-by-hop headers (spec.md §4.3 item 5).
func MergeOutboundHeaders(gatewayDefaults, bridgeHeaders, clientHeaders map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range []map[string]string{gatewayDefaults, bridgeHeaders, clientHeaders} {
		for k, v := range layer {
			lk := strings.ToLower(k)
			if hopByHopHeaders[lk] {
				continue
			}
			merged[lk] = v
		}
	}
	return merged
}

// SessionIDHeaders returns the header names a transport must set/echo for
// session id propagation (spec.md §4.2's "mcp-session-id both inbound and
// outbound; x-session-id accepted for compatibility").
func SessionIDHeaders() []string {
	out := make([]string, len(sessionIDHeaders))
	copy(out, sessionIDHeaders)
	return out
}
