package openapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
)

// httpMethodsInOrder fixes iteration order over PathItem.Operations() so
// conversion output (and therefore tool naming and ordering) is
// deterministic across runs — PathItem.Operations returns a plain map.
var httpMethodsInOrder = []string{"GET", "PUT", "POST", "DELETE", "OPTIONS", "HEAD", "PATCH", "TRACE"}

// ConvertDocument converts every (path, method) operation in doc into a
// ToolDescriptor. This is the single conversion path referenced by
// spec.md §9 Open Question (c) — the source's two overlapping converters
// are consolidated here.
func ConvertDocument(doc *openapi3.T) ([]domain.ToolDescriptor, []string) {
	var tools []domain.ToolDescriptor
	var warnings []string

	paths := doc.Paths
	if paths == nil {
		return tools, warnings
	}

	items := paths.Map()
	keys := make([]string, 0, len(items))
	for p := range items {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	for _, path := range keys {
		item := items[path]
		ops := item.Operations()
		for _, method := range httpMethodsInOrder {
			op, ok := ops[method]
			if !ok {
				continue
			}
			tool, warn := convertOperation(path, method, op)
			tools = append(tools, tool)
			warnings = append(warnings, warn...)
		}
	}
	return tools, warnings
}

// convertOperation converts one (path, method, operation) triple into a
// ToolDescriptor (spec.md §4.5 "Conversion").
func convertOperation(path, method string, op *openapi3.Operation) (domain.ToolDescriptor, []string) {
	var warnings []string

	name := op.OperationID
	if name == "" {
		name = synthesizeName(method, path)
	}

	description := op.Description
	if description == "" {
		description = op.Summary
	}
	if description == "" {
		description = fmt.Sprintf("%s %s", method, path)
	}

	var args []domain.ToolArg
	for _, p := range op.Parameters {
		if p.Value == nil {
			continue
		}
		args = append(args, domain.ToolArg{
			Name:        p.Value.Name,
			Description: p.Value.Description,
			Type:        schemaArgType(p.Value.Schema),
			Required:    p.Value.Required,
			Position:    domain.ArgPosition(p.Value.In),
		})
	}

	var staticHeaders []domain.StaticHeader
	bodyArgCount := 0
	if op.RequestBody != nil && op.RequestBody.Value != nil {
		media := op.RequestBody.Value.Content.Get("application/json")
		if media != nil && media.Schema != nil && media.Schema.Value != nil {
			schema := media.Schema.Value
			required := make(map[string]bool, len(schema.Required))
			for _, r := range schema.Required {
				required[r] = true
			}

			propNames := make([]string, 0, len(schema.Properties))
			for propName := range schema.Properties {
				propNames = append(propNames, propName)
			}
			sort.Strings(propNames)

			for _, propName := range propNames {
				propSchema := schema.Properties[propName]
				args = append(args, domain.ToolArg{
					Name:        propName,
					Description: propDescription(propSchema),
					Type:        schemaArgType(propSchema),
					Required:    required[propName],
					Position:    domain.PositionBody,
				})
				bodyArgCount++
			}
		} else if op.RequestBody.Value.Content != nil {
			warnings = append(warnings, fmt.Sprintf("%s %s: request body has no application/json schema, skipped", method, path))
		}
	}

	if bodyArgCount > 0 && isBodyMethod(method) {
		staticHeaders = append(staticHeaders, domain.StaticHeader{Name: "Content-Type", Value: "application/json"})
	}

	tool := domain.ToolDescriptor{
		Name:        name,
		Description: description,
		Args:        args,
		RequestTemplate: domain.RequestTemplate{
			URL:           path,
			Method:        method,
			StaticHeaders: staticHeaders,
		},
		ResponseTemplate: domain.ResponseTemplate{PrependBody: responseSummary(op)},
	}
	return tool, warnings
}

// synthesizeName builds "<method><PathWithSeparatorsUnderscored>" for
// operations without an operationId, e.g. "GET /items/{id}" -> "get_items_id".
func synthesizeName(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, r := range path {
		switch r {
		case '/', '{', '}', '-', '.':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	name := b.String()
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return strings.Trim(name, "_")
}

func isBodyMethod(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	default:
		return false
	}
}

// schemaArgType maps an OpenAPI schema's declared type to the gateway's
// ArgType vocabulary (spec.md §4.5 "Types map").
func schemaArgType(ref *openapi3.SchemaRef) domain.ArgType {
	if ref == nil || ref.Value == nil || ref.Value.Type == nil {
		return domain.TypeString
	}
	switch {
	case ref.Value.Type.Is("integer"), ref.Value.Type.Is("number"):
		return domain.TypeInteger
	case ref.Value.Type.Is("boolean"):
		return domain.TypeBoolean
	case ref.Value.Type.Is("array"):
		return domain.TypeArray
	case ref.Value.Type.Is("object"):
		return domain.TypeObject
	default:
		return domain.TypeString
	}
}

func propDescription(ref *openapi3.SchemaRef) string {
	if ref == nil || ref.Value == nil {
		return ""
	}
	return ref.Value.Description
}

// responseSummary builds a short documentation string summarizing each
// declared response, used as response_template.prepend_body (spec.md
// §4.5).
func responseSummary(op *openapi3.Operation) string {
	if op.Responses == nil {
		return ""
	}
	codes := make([]string, 0, op.Responses.Len())
	for code := range op.Responses.Map() {
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return ""
	}
	sort.Strings(codes)

	var parts []string
	for _, code := range codes {
		ref := op.Responses.Value(code)
		if ref == nil || ref.Value == nil {
			continue
		}
		desc := ""
		if ref.Value.Description != nil {
			desc = *ref.Value.Description
		}
		if desc == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", code, desc))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ")
}
