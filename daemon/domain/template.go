package domain

// MCPTemplate is the document shape the OpenAPI bridge serves from
// /mcp-config and accepts directly as input when a document already
// carries `server`+`tools` (spec.md §4.5 document detection).
type MCPTemplate struct {
	Server ServerBlock      `json:"server"`
	Tools  []ToolDescriptor `json:"tools"`
}

// ServerBlock carries the bridge's outbound HTTP defaults.
type ServerBlock struct {
	APIHost string `json:"api_host,omitempty"`
}
