package openapi

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
)

// validateArguments checks a tools/call arguments object against the
// tool's synthesized inputSchema before any coercion or HTTP call is
// attempted, giving a single early -32602 rejection point ahead of the
// per-arg coercion resolveArgs already performs (spec.md §4.5's "validates
// and coerces" step gets both a structural and a per-field check).
func validateArguments(tool domain.ToolDescriptor, arguments map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(inputSchemaFor(tool))
	docLoader := gojsonschema.NewGoLoader(arguments)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("validating arguments: %w", err)
	}
	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		messages = append(messages, e.String())
	}
	return fmt.Errorf("invalid arguments: %s", strings.Join(messages, "; "))
}
