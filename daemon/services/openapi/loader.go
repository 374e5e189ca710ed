// Package openapi implements the secondary gateway mode: loading an
// OpenAPI 3 document or a ready MCP template, synthesizing tool
// descriptors, and invoking them as outbound HTTP calls (spec.md §4.5).
package openapi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"go.yaml.in/yaml/v3"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
)

// DocumentKind classifies what a loaded bridge document turned out to be.
type DocumentKind int

const (
	KindUnknownDocument DocumentKind = iota
	KindOpenAPI
	KindMCPTemplate
)

// LoadResult is what Load hands the bridge: a resolved template (server
// block + tool descriptors) plus any non-fatal warnings surfaced during
// detection or conversion.
type LoadResult struct {
	Kind     DocumentKind
	Template domain.MCPTemplate
	Warnings []string
}

// Load reads path (JSON or YAML, told apart by extension is not required —
// YAML is a superset of JSON, so one decoder handles both), classifies the
// document, and converts it into a resolved MCPTemplate (spec.md §4.5
// "Document detection").
func Load(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path, not user input
	if err != nil {
		return nil, fmt.Errorf("reading openapi document %s: %w", path, err)
	}

	var probe map[string]any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing %s as JSON/YAML: %w", path, err)
	}

	_, hasOpenAPI := probe["openapi"]
	_, hasPaths := probe["paths"]
	_, hasServer := probe["server"]
	_, hasTools := probe["tools"]

	switch {
	case hasOpenAPI && hasPaths:
		return loadOpenAPI(data)
	case hasServer && hasTools:
		return loadTemplate(data, nil)
	default:
		warnings := []string{fmt.Sprintf(
			"%s matched neither an OpenAPI document (openapi+paths) nor an MCP template (server+tools); "+
				"loading it conservatively as a template", filepath.Base(path))}
		return loadTemplate(data, warnings)
	}
}

func loadOpenAPI(data []byte) (*LoadResult, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("parsing OpenAPI document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}

	tools, warnings := ConvertDocument(doc)

	tmpl := domain.MCPTemplate{Tools: tools}
	if len(doc.Servers) > 0 {
		tmpl.Server.APIHost = strings.TrimRight(doc.Servers[0].URL, "/")
	}

	return &LoadResult{Kind: KindOpenAPI, Template: tmpl, Warnings: warnings}, nil
}

func loadTemplate(data []byte, warnings []string) (*LoadResult, error) {
	// yaml.Unmarshal into a generic value first, then round-trip through
	// encoding/json: MCPTemplate's struct tags are `json`, and YAML is a
	// structural superset of JSON, so this is the one decode path that
	// honors those tags whether the source file was JSON or YAML.
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parsing MCP template: %w", err)
	}
	normalized, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("normalizing MCP template: %w", err)
	}

	var tmpl domain.MCPTemplate
	if err := json.Unmarshal(normalized, &tmpl); err != nil {
		return nil, fmt.Errorf("decoding MCP template: %w", err)
	}
	return &LoadResult{Kind: KindMCPTemplate, Template: tmpl, Warnings: warnings}, nil
}
