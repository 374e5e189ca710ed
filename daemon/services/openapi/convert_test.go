package openapi

import (
	"testing"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
)

func TestConvertDocumentDerivesToolsFromOperations(t *testing.T) {
	path := writeTemp(t, "spec.yaml", sampleOpenAPI)
	result, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	byName := make(map[string]domain.ToolDescriptor, len(result.Template.Tools))
	for _, tool := range result.Template.Tools {
		byName[tool.Name] = tool
	}

	getItem, ok := byName["getItem"]
	if !ok {
		t.Fatal("operationId getItem was not used as the tool name")
	}
	if getItem.Description != "Fetch one item by id" {
		t.Errorf("description = %q", getItem.Description)
	}
	if len(getItem.Args) != 1 || getItem.Args[0].Position != domain.PositionPath || !getItem.Args[0].Required {
		t.Errorf("getItem args = %+v", getItem.Args)
	}

	synthesized, ok := byName["post_items"]
	if !ok {
		t.Fatalf("expected a synthesized name post_items, got %v", keysOf(byName))
	}

	var nameArg, quantityArg *domain.ToolArg
	for i := range synthesized.Args {
		switch synthesized.Args[i].Name {
		case "name":
			nameArg = &synthesized.Args[i]
		case "quantity":
			quantityArg = &synthesized.Args[i]
		}
	}
	if nameArg == nil || !nameArg.Required || nameArg.Position != domain.PositionBody {
		t.Errorf("name arg = %+v", nameArg)
	}
	if quantityArg == nil || quantityArg.Required || quantityArg.Type != domain.TypeInteger {
		t.Errorf("quantity arg = %+v", quantityArg)
	}

	foundContentType := false
	for _, h := range synthesized.RequestTemplate.StaticHeaders {
		if h.Name == "Content-Type" && h.Value == "application/json" {
			foundContentType = true
		}
	}
	if !foundContentType {
		t.Error("POST with a JSON body should carry a static Content-Type header")
	}
}

func keysOf(m map[string]domain.ToolDescriptor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func TestSynthesizeNameCollapsesSeparators(t *testing.T) {
	got := synthesizeName("GET", "/items/{id}/reviews")
	want := "get_items_id_reviews"
	if got != want {
		t.Errorf("synthesizeName = %q, want %q", got, want)
	}
}
