package domain

import (
	"encoding/json"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want MessageKind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, KindNotification},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`, KindResponse},
		{"error", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`, KindError},
		{"string id request", `{"jsonrpc":"2.0","id":"abc","method":"tools/list"}`, KindRequest},
		{"null id is absent", `{"jsonrpc":"2.0","id":null,"method":"ping"}`, KindNotification},
		{"garbage", `{"foo":"bar"}`, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Classify([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if msg.Kind != tt.want {
				t.Errorf("Classify().Kind = %v, want %v", msg.Kind, tt.want)
			}
		})
	}
}

func TestClassifyInvalidJSON(t *testing.T) {
	if _, err := Classify([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	id := json.RawMessage(`7`)
	msg := NewRequest(id, "ping", nil)
	raw, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	reclassified, err := Classify(raw)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if reclassified.Kind != KindRequest {
		t.Errorf("round-tripped Kind = %v, want KindRequest", reclassified.Kind)
	}
	if reclassified.Method != "ping" {
		t.Errorf("round-tripped Method = %q, want %q", reclassified.Method, "ping")
	}
	if IDKey(reclassified.ID) != IDKey(id) {
		t.Errorf("round-tripped ID = %s, want %s", reclassified.ID, id)
	}
}

func TestNewErrorShape(t *testing.T) {
	id := json.RawMessage(`1`)
	msg := NewError(id, CodeDownstreamGone, "downstream restarted before response", nil)
	raw, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	reclassified, err := Classify(raw)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if reclassified.Kind != KindError {
		t.Errorf("Kind = %v, want KindError", reclassified.Kind)
	}
	if reclassified.Error.Code != CodeDownstreamGone {
		t.Errorf("Error.Code = %d, want %d", reclassified.Error.Code, CodeDownstreamGone)
	}
}

func TestIDKeyEquality(t *testing.T) {
	a := json.RawMessage(`42`)
	b := json.RawMessage(`42`)
	if IDKey(a) != IDKey(b) {
		t.Error("equal ids should produce equal keys")
	}

	c := json.RawMessage(`"42"`)
	if IDKey(a) == IDKey(c) {
		t.Error("numeric id 42 and string id \"42\" must not collide")
	}
}
