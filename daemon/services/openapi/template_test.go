package openapi

import (
	"testing"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
)

func TestMergeArrayPatchReplaces(t *testing.T) {
	base := []domain.ToolDescriptor{{Name: "a"}, {Name: "b"}}
	patch := MergePatch{PatchIsArray: true, Tools: []domain.ToolDescriptor{{Name: "only"}}}

	got := Merge(base, patch)
	if len(got) != 1 || got[0].Name != "only" {
		t.Errorf("Merge (array) = %+v", got)
	}
}

func TestMergeObjectPatchAppliesToEveryTool(t *testing.T) {
	base := []domain.ToolDescriptor{
		{Name: "a", RequestTemplate: domain.RequestTemplate{StaticHeaders: []domain.StaticHeader{{Name: "X-A", Value: "1"}}}},
		{Name: "b"},
	}
	patch := MergePatch{Override: domain.ToolDescriptor{
		RequestTemplate: domain.RequestTemplate{StaticHeaders: []domain.StaticHeader{{Name: "X-Shared", Value: "v"}}},
	}}

	got := Merge(base, patch)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, tool := range got {
		found := false
		for _, h := range tool.RequestTemplate.StaticHeaders {
			if h.Name == "X-Shared" {
				found = true
			}
		}
		if !found {
			t.Errorf("tool %q missing the merged X-Shared header: %+v", tool.Name, tool.RequestTemplate.StaticHeaders)
		}
	}
	if len(got[0].RequestTemplate.StaticHeaders) != 2 {
		t.Errorf("tool a headers = %+v, want its original header concatenated with the override", got[0].RequestTemplate.StaticHeaders)
	}
}

func TestMergeNoPatchReturnsBaseUnchanged(t *testing.T) {
	base := []domain.ToolDescriptor{{Name: "a"}}
	got := Merge(base, MergePatch{})
	if len(got) != 1 || got[0].Name != "a" {
		t.Errorf("Merge (no patch) = %+v", got)
	}
}

func TestMergeArgsByName(t *testing.T) {
	base := []domain.ToolArg{{Name: "id", Type: domain.TypeString}}
	overrides := []domain.ToolArg{{Name: "id", Type: domain.TypeInteger}, {Name: "extra", Type: domain.TypeBoolean}}

	got := mergeArgs(base, overrides)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Type != domain.TypeInteger {
		t.Errorf("id arg type = %v, want overridden to integer", got[0].Type)
	}
}
