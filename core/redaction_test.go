package core

import "testing"

func TestRedactSensitiveMapKeepsTraceableIDs(t *testing.T) {
	redacted := RedactSensitiveMap(map[string]any{
		"event_id":        "evt_1",
		"remote_id":       "ct_1",
		"api_key":         "key_live_1",
		"authorization":   "Bearer key_live_1",
		"nested":          map[string]any{"webhook_secret": "whsec_1", "local_id": "cl_1"},
		"hooks":           []any{map[string]any{"signature": "abc"}, map[string]any{"source_id": "ct_2"}},
		"idempotency_key": "push-1",
	})

	if redacted["event_id"] != "evt_1" || redacted["remote_id"] != "ct_1" || redacted["idempotency_key"] != "push-1" {
		t.Fatalf("expected ids visible, got %+v", redacted)
	}
	if redacted["api_key"] != RedactedValue || redacted["authorization"] != RedactedValue {
		t.Fatalf("expected credentials redacted, got %+v", redacted)
	}
	nested := redacted["nested"].(map[string]any)
	if nested["webhook_secret"] != RedactedValue || nested["local_id"] != "cl_1" {
		t.Fatalf("unexpected nested map %+v", nested)
	}
	hooks := redacted["hooks"].([]any)
	if hooks[0].(map[string]any)["signature"] != RedactedValue || hooks[1].(map[string]any)["source_id"] != "ct_2" {
		t.Fatalf("unexpected list redaction %+v", hooks)
	}
}

func TestRedactSensitiveMapEmpty(t *testing.T) {
	if out := RedactSensitiveMap(nil); out == nil || len(out) != 0 {
		t.Fatalf("expected empty map, got %#v", out)
	}
}
