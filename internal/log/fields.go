package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldTimerID   = "timer_id"
	FieldUserID    = "user_id"
	FieldServerID  = "server_id"
	FieldEventID   = "event_id"

	// Trace correlation fields
	FieldTraceID = "trace_id"
	FieldSpanID  = "span_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldTopic     = "topic"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
