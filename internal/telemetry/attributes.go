package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Timer attributes
	TimerIDKey    = "timer.id"
	TimerOwnerKey = "timer.owner_id"
	TimerRoleKey  = "timer.role"

	// Event attributes
	EventTypeKey = "event.type"
	EventIDKey   = "event.id"
	TopicKey     = "messaging.topic"

	// Instance attributes
	ServerIDKey  = "server.id"
	SessionIDKey = "session.id"
	UserIDKey    = "user.id"

	// Scheduler attributes
	LockAcquiredKey    = "scheduler.lock_acquired"
	ProcessingDelayKey = "scheduler.processing_delay_ms"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates HTTP span attributes following semantic conventions.
func HTTPAttributes(method, path, url string, statusCode int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.String("http.url", url),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}
	return attrs
}

// TimerAttributes creates timer-related span attributes.
func TimerAttributes(timerID, ownerID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if timerID != "" {
		attrs = append(attrs, attribute.String(TimerIDKey, timerID))
	}
	if ownerID != "" {
		attrs = append(attrs, attribute.String(TimerOwnerKey, ownerID))
	}
	return attrs
}

// EventAttributes creates event-related span attributes.
func EventAttributes(eventType, eventID, topic string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EventTypeKey, eventType),
		attribute.String(EventIDKey, eventID),
		attribute.String(TopicKey, topic),
	}
}

// CompletionAttributes creates completion-protocol span attributes.
func CompletionAttributes(timerID, serverID string, lockAcquired bool, delayMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TimerIDKey, timerID),
		attribute.String(ServerIDKey, serverID),
		attribute.Bool(LockAcquiredKey, lockAcquired),
		attribute.Int64(ProcessingDelayKey, delayMS),
	}
}

// ErrorAttributes creates error-related span attributes. The error itself
// belongs on the span via RecordError; this only classifies it.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
