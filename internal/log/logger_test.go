package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestConfigureWritesServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "echotimer-test", Version: "v0.0.1"})

	logger := WithComponent("probe")
	logger.Info().Str(FieldEvent, "probe.hello").Msg("hello")

	line := buf.String()
	if !strings.Contains(line, `"service":"echotimer-test"`) {
		t.Errorf("missing service field: %s", line)
	}
	if !strings.Contains(line, `"version":"v0.0.1"`) {
		t.Errorf("missing version field: %s", line)
	}
	if !strings.Contains(line, `"component":"probe"`) {
		t.Errorf("missing component field: %s", line)
	}
}

func TestConfigureIsRepeatable(t *testing.T) {
	var first, second bytes.Buffer

	Configure(Config{Level: "info", Output: &first, Service: "one"})
	firstLogger := Base()
	firstLogger.Info().Msg("to-first")

	Configure(Config{Level: "info", Output: &second, Service: "two"})
	secondLogger := Base()
	secondLogger.Info().Msg("to-second")

	if !strings.Contains(first.String(), "to-first") {
		t.Error("first configuration did not receive its log line")
	}
	if !strings.Contains(second.String(), "to-second") {
		t.Error("reconfiguration did not take effect")
	}
	if strings.Contains(second.String(), "to-first") {
		t.Error("second writer received logs from before reconfiguration")
	}
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "ctx-test"})

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSessionID(ctx, "sess-1")
	ctx = ContextWithTimerID(ctx, "timer-1")

	enriched := WithContext(ctx, Base())
	enriched.Info().Msg("enriched")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	for key, want := range map[string]string{
		FieldRequestID: "req-1",
		FieldSessionID: "sess-1",
		FieldTimerID:   "timer-1",
	} {
		if entry[key] != want {
			t.Errorf("field %s = %v, want %s", key, entry[key], want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "abc")
	if got := SessionIDFromContext(ctx); got != "abc" {
		t.Errorf("SessionIDFromContext = %q, want abc", got)
	}
	if got := SessionIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context should yield empty id, got %q", got)
	}
}
