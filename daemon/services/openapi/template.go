package openapi

import "github.com/ruaan-deysel/mcp-gateway/daemon/domain"

// MergePatch applies an optional template patch on top of a base template
// converted from an OpenAPI document (spec.md §4.5 "Template patching").
// A patch whose Tools is a full tool list (PatchIsArray) replaces the base
// tools outright; otherwise Override is applied to every base tool.
type MergePatch struct {
	// PatchIsArray selects replace semantics; when false, Override is
	// applied to every tool in the base template.
	PatchIsArray bool
	Tools        []domain.ToolDescriptor
	Override     domain.ToolDescriptor
}

// Merge applies patch to base, returning the resolved template.
func Merge(base []domain.ToolDescriptor, patch MergePatch) []domain.ToolDescriptor {
	if patch.PatchIsArray {
		return patch.Tools
	}
	if isZeroTool(patch.Override) {
		return base
	}

	merged := make([]domain.ToolDescriptor, len(base))
	for i, tool := range base {
		merged[i] = applyOverride(tool, patch.Override)
	}
	return merged
}

// applyOverride merges override into tool: args are merged by name,
// request_template.static_headers are concatenated, and every other field
// is last-write-wins (override's non-zero value replaces the base's). The
// tool's Name is never taken from override.
func applyOverride(tool, override domain.ToolDescriptor) domain.ToolDescriptor {
	if override.Description != "" {
		tool.Description = override.Description
	}
	if override.RequestTemplate.Method != "" {
		tool.RequestTemplate.Method = override.RequestTemplate.Method
	}
	if override.RequestTemplate.URL != "" {
		tool.RequestTemplate.URL = override.RequestTemplate.URL
	}
	tool.RequestTemplate.StaticHeaders = append(
		append([]domain.StaticHeader(nil), tool.RequestTemplate.StaticHeaders...),
		override.RequestTemplate.StaticHeaders...)
	if override.ResponseTemplate.PrependBody != "" {
		tool.ResponseTemplate.PrependBody = override.ResponseTemplate.PrependBody
	}

	tool.Args = mergeArgs(tool.Args, override.Args)
	return tool
}

func mergeArgs(base, overrides []domain.ToolArg) []domain.ToolArg {
	if len(overrides) == 0 {
		return base
	}
	byName := make(map[string]int, len(base))
	merged := append([]domain.ToolArg(nil), base...)
	for i, a := range merged {
		byName[a.Name] = i
	}
	for _, o := range overrides {
		if i, ok := byName[o.Name]; ok {
			merged[i] = o
			continue
		}
		merged = append(merged, o)
	}
	return merged
}

func isZeroTool(t domain.ToolDescriptor) bool {
	return t.Name == "" && t.Description == "" && len(t.Args) == 0 &&
		t.RequestTemplate.URL == "" && t.RequestTemplate.Method == "" &&
		len(t.RequestTemplate.StaticHeaders) == 0 && t.ResponseTemplate.PrependBody == ""
}
