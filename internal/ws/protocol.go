// Package ws carries the session transport: one websocket per client,
// subscribe/send frames inbound, event envelopes outbound.
package ws

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Frame types a client may send.
const (
	FrameSubscribe = "subscribe"
	FrameSend      = "send"
)

// Send actions addressed below a timer destination.
const (
	ActionSave         = "save"
	ActionChangeTarget = "change-target"
	ActionComplete     = "complete"
)

// Frame is one inbound client message.
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Destination is a parsed frame destination: `timer/{id}` to subscribe,
// `timer/{id}/{action}` to act.
type Destination struct {
	TimerID string
	Action  string
}

// ParseDestination splits a destination path. A bare `timer/{id}` has an
// empty action.
func ParseDestination(s string) (Destination, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] != "timer" || parts[1] == "" {
		return Destination{}, fmt.Errorf("malformed destination %q", s)
	}
	d := Destination{TimerID: parts[1]}
	if len(parts) == 3 {
		switch parts[2] {
		case ActionSave, ActionChangeTarget, ActionComplete:
			d.Action = parts[2]
		default:
			return Destination{}, fmt.Errorf("unknown action %q in destination %q", parts[2], s)
		}
	}
	return d, nil
}

// savePayload is the body of a `timer/{id}/save` frame.
type savePayload struct {
	TargetTime time.Time         `json:"targetTime"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// changeTargetPayload is the body of a `timer/{id}/change-target` frame.
type changeTargetPayload struct {
	NewTargetTime time.Time `json:"newTargetTime"`
}
