package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/api/v1/timers", "http://localhost:8080/api/v1/timers", 200)

	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, "http.method", "GET")
	verifyAttribute(t, attrs, "http.route", "/api/v1/timers")
	verifyAttribute(t, attrs, "http.url", "http://localhost:8080/api/v1/timers")
	verifyIntAttribute(t, attrs, "http.status_code", 200)
}

func TestHTTPAttributesZeroStatusOmitted(t *testing.T) {
	attrs := HTTPAttributes("POST", "/api/v1/timers", "http://localhost:8080/api/v1/timers", 0)

	if len(attrs) != 3 {
		t.Fatalf("expected 3 attributes before a status is known, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if string(attr.Key) == "http.status_code" {
			t.Error("status code must be omitted while zero")
		}
	}
}

func TestTimerAttributes(t *testing.T) {
	tests := []struct {
		name    string
		timerID string
		ownerID string
		wantLen int
	}{
		{"all fields", "timer-1", "user-1", 2},
		{"only timer", "timer-1", "", 1},
		{"empty", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := TimerAttributes(tt.timerID, tt.ownerID)

			if len(attrs) != tt.wantLen {
				t.Errorf("expected %d attributes, got %d", tt.wantLen, len(attrs))
			}
			if tt.timerID != "" {
				verifyAttribute(t, attrs, TimerIDKey, tt.timerID)
			}
			if tt.ownerID != "" {
				verifyAttribute(t, attrs, TimerOwnerKey, tt.ownerID)
			}
		})
	}
}

func TestEventAttributes(t *testing.T) {
	attrs := EventAttributes("TIMER_COMPLETED", "evt-1", "timer-events")

	if len(attrs) != 3 {
		t.Fatalf("expected 3 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, EventTypeKey, "TIMER_COMPLETED")
	verifyAttribute(t, attrs, EventIDKey, "evt-1")
	verifyAttribute(t, attrs, TopicKey, "timer-events")
}

func TestCompletionAttributes(t *testing.T) {
	attrs := CompletionAttributes("timer-1", "srv-a", true, 125)

	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, TimerIDKey, "timer-1")
	verifyAttribute(t, attrs, ServerIDKey, "srv-a")
	verifyBoolAttribute(t, attrs, LockAcquiredKey, true)
	verifyInt64Attribute(t, attrs, ProcessingDelayKey, 125)
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes("store_unavailable")

	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}

	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "store_unavailable")
}

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != want {
				t.Errorf("expected %s=%s, got %s", key, want, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, want int) {
	t.Helper()
	verifyInt64Attribute(t, attrs, key, int64(want))
}

func verifyInt64Attribute(t *testing.T, attrs []attribute.KeyValue, key string, want int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != want {
				t.Errorf("expected %s=%d, got %d", key, want, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, want bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != want {
				t.Errorf("expected %s=%t, got %t", key, want, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}
