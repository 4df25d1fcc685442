// Package event defines the fleet event model: a flat JSON envelope carrying
// one of a closed set of typed payloads. Events published here fan out to
// every server instance through the bus; each instance filters on presence
// before pushing to its local websocket sessions.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// Type identifies an event class on the wire.
type Type string

const (
	TypeTargetTimeChanged      Type = "TARGET_TIME_CHANGED"
	TypeTimerCompleted         Type = "TIMER_COMPLETED"
	TypeSharedTimerAccessed    Type = "SHARED_TIMER_ACCESSED"
	TypeUserJoined             Type = "USER_JOINED"
	TypeUserLeft               Type = "USER_LEFT"
	TypeTimestampSaved         Type = "TIMESTAMP_SAVED"
	TypeOnlineUserCountUpdated Type = "ONLINE_USER_COUNT_UPDATED"
)

// Priority is advisory metadata for consumers; it does not change routing.
type Priority string

const (
	PriorityCritical  Priority = "CRITICAL"
	PriorityImportant Priority = "IMPORTANT"
	PriorityNormal    Priority = "NORMAL"
)

// Bus topics. ONLINE_USER_COUNT_UPDATED never leaves the process and has no
// topic.
const (
	TopicTimerEvents = "timer-events"
	TopicUserActions = "user-actions"
)

// Topic returns the bus topic for the type, or "" for local-only types.
func (t Type) Topic() string {
	switch t {
	case TypeTargetTimeChanged, TypeTimerCompleted, TypeSharedTimerAccessed:
		return TopicTimerEvents
	case TypeUserJoined, TypeUserLeft, TypeTimestampSaved:
		return TopicUserActions
	}
	return ""
}

// Priority returns the advisory priority for the type.
func (t Type) Priority() Priority {
	switch t {
	case TypeTargetTimeChanged, TypeTimerCompleted:
		return PriorityCritical
	case TypeSharedTimerAccessed, TypeUserJoined, TypeUserLeft:
		return PriorityImportant
	}
	return PriorityNormal
}

// AlwaysProcess reports whether consumers must handle the event even when the
// presence index says no local session cares. State-changing and
// owner-alerting events bypass the filter so a stale index cannot hide them.
func (t Type) AlwaysProcess() bool {
	switch t {
	case TypeTargetTimeChanged, TypeTimerCompleted, TypeSharedTimerAccessed:
		return true
	}
	return false
}

// Payload is one of the typed event bodies. The set is closed; decoding
// dispatches on the envelope type.
type Payload interface {
	eventType() Type
}

// Envelope is a single fleet event. On the wire it is one flat JSON object:
// the five envelope fields plus the payload's fields, no nesting.
type Envelope struct {
	Type           Type
	ID             string
	TimerID        string
	Timestamp      time.Time
	OriginServerID string
	Payload        Payload
}

// TargetTimeChanged announces a new countdown target.
type TargetTimeChanged struct {
	OldTargetTime time.Time
	NewTargetTime time.Time
	ChangedBy     string
	ServerTime    time.Time
}

func (TargetTimeChanged) eventType() Type { return TypeTargetTimeChanged }

// TimerCompleted announces that a timer reached its target and the completion
// transaction committed.
type TimerCompleted struct {
	CompletedTargetTime time.Time
	CompletedAt         time.Time
	OwnerID             string
	OnlineUserCount     int64
}

func (TimerCompleted) eventType() Type { return TypeTimerCompleted }

// SharedTimerAccessed alerts the owner that someone opened their timer
// through a share link.
type SharedTimerAccessed struct {
	AccessedUserID string
	OwnerID        string
}

func (SharedTimerAccessed) eventType() Type { return TypeSharedTimerAccessed }

// UserJoined announces a new viewer on a timer.
type UserJoined struct {
	UserID          string
	ServerID        string
	OnlineUserCount int64
}

func (UserJoined) eventType() Type { return TypeUserJoined }

// UserLeft announces a viewer leaving a timer.
type UserLeft struct {
	UserID          string
	ServerID        string
	OnlineUserCount int64
}

func (UserLeft) eventType() Type { return TypeUserLeft }

// TimestampSaved carries a persisted timestamp mark.
type TimestampSaved struct {
	UserID string
	Mark   timer.TimestampMark
}

func (TimestampSaved) eventType() Type { return TypeTimestampSaved }

// OnlineUserCountUpdated is the local-only control event pushed to sessions
// whenever the online count of a timer changes.
type OnlineUserCountUpdated struct {
	OnlineUserCount int64
}

func (OnlineUserCountUpdated) eventType() Type { return TypeOnlineUserCountUpdated }

func newEnvelope(timerID, originServerID string, p Payload) *Envelope {
	return &Envelope{
		Type:           p.eventType(),
		ID:             uuid.NewString(),
		TimerID:        timerID,
		Timestamp:      time.Now().UTC(),
		OriginServerID: originServerID,
		Payload:        p,
	}
}

// NewTargetTimeChanged builds a TARGET_TIME_CHANGED envelope.
func NewTargetTimeChanged(timerID, serverID string, oldTarget, newTarget time.Time, changedBy string) *Envelope {
	return newEnvelope(timerID, serverID, TargetTimeChanged{
		OldTargetTime: oldTarget,
		NewTargetTime: newTarget,
		ChangedBy:     changedBy,
		ServerTime:    time.Now().UTC(),
	})
}

// NewTimerCompleted builds a TIMER_COMPLETED envelope.
func NewTimerCompleted(timerID, serverID string, target, completedAt time.Time, ownerID string, online int64) *Envelope {
	return newEnvelope(timerID, serverID, TimerCompleted{
		CompletedTargetTime: target,
		CompletedAt:         completedAt,
		OwnerID:             ownerID,
		OnlineUserCount:     online,
	})
}

// NewSharedTimerAccessed builds a SHARED_TIMER_ACCESSED envelope.
func NewSharedTimerAccessed(timerID, serverID, accessedUserID, ownerID string) *Envelope {
	return newEnvelope(timerID, serverID, SharedTimerAccessed{
		AccessedUserID: accessedUserID,
		OwnerID:        ownerID,
	})
}

// NewUserJoined builds a USER_JOINED envelope.
func NewUserJoined(timerID, serverID, userID string, online int64) *Envelope {
	return newEnvelope(timerID, serverID, UserJoined{
		UserID:          userID,
		ServerID:        serverID,
		OnlineUserCount: online,
	})
}

// NewUserLeft builds a USER_LEFT envelope.
func NewUserLeft(timerID, serverID, userID string, online int64) *Envelope {
	return newEnvelope(timerID, serverID, UserLeft{
		UserID:          userID,
		ServerID:        serverID,
		OnlineUserCount: online,
	})
}

// NewTimestampSaved builds a TIMESTAMP_SAVED envelope.
func NewTimestampSaved(serverID string, mark timer.TimestampMark) *Envelope {
	return newEnvelope(mark.TimerID, serverID, TimestampSaved{
		UserID: mark.UserID,
		Mark:   mark,
	})
}

// NewOnlineUserCountUpdated builds the local-only count control event.
func NewOnlineUserCountUpdated(timerID, serverID string, online int64) *Envelope {
	return newEnvelope(timerID, serverID, OnlineUserCountUpdated{OnlineUserCount: online})
}
