package headerpolicy

import (
	"net/http/httptest"
	"testing"
)

func TestNewPolicyWildcardAllowsAll(t *testing.T) {
	p := NewPolicy("*", nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Origin", "https://anything.example")

	p.ApplyCORS(w, r)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestNewPolicyCommaListAllowsMatchingOrigin(t *testing.T) {
	p := NewPolicy("https://a.example, https://b.example", nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Origin", "https://b.example")
	p.ApplyCORS(w, r)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://b.example" {
		t.Errorf("Allow-Origin = %q, want https://b.example", got)
	}

	w2 := httptest.NewRecorder()
	r2 := httptest.NewRequest("GET", "/", nil)
	r2.Header.Set("Origin", "https://evil.example")
	p.ApplyCORS(w2, r2)
	if got := w2.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty for a non-matching origin", got)
	}
}

func TestApplyCORSHandlesPreflight(t *testing.T) {
	p := NewPolicy("*", nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("OPTIONS", "/mcp", nil)

	if handled := p.ApplyCORS(w, r); !handled {
		t.Fatal("ApplyCORS should report handled=true for OPTIONS")
	}
	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestApplyCustomHeadersSetsEveryConfiguredHeader(t *testing.T) {
	p := NewPolicy("*", map[string]string{"X-Gateway": "mcp"})
	w := httptest.NewRecorder()
	p.ApplyCustomHeaders(w)
	if got := w.Header().Get("X-Gateway"); got != "mcp" {
		t.Errorf("X-Gateway = %q, want mcp", got)
	}
}

func TestMergeOutboundHeadersPrecedenceAndHopByHopStripping(t *testing.T) {
	merged := MergeOutboundHeaders(
		map[string]string{"X-Default": "gateway", "Authorization": "gateway-token"},
		map[string]string{"X-Bridge": "bridge"},
		map[string]string{"Authorization": "client-token", "Host": "should-be-stripped", "Connection": "keep-alive"},
	)

	if merged["authorization"] != "client-token" {
		t.Errorf("authorization = %q, want client-token (highest precedence)", merged["authorization"])
	}
	if merged["x-default"] != "gateway" || merged["x-bridge"] != "bridge" {
		t.Errorf("merged = %+v, missing lower-precedence layers", merged)
	}
	if _, ok := merged["host"]; ok {
		t.Error("hop-by-hop header host should have been stripped")
	}
	if _, ok := merged["connection"]; ok {
		t.Error("hop-by-hop header connection should have been stripped")
	}
}

func TestNewPolicyFromListCollapsesWildcardEntry(t *testing.T) {
	p := NewPolicyFromList([]string{"https://a.example", "*"}, nil)
	if p.Origins != nil {
		t.Errorf("Origins = %v, want nil (wildcard collapses to allow-all)", p.Origins)
	}
}
