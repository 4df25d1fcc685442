package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// ErrUnknownType marks an envelope whose eventType this build does not know.
// Consumers skip such events instead of failing the poll loop.
var ErrUnknownType = errors.New("unknown event type")

// wire is the flat on-the-wire shape. Optional fields are pointers so a zero
// count or zero time survives the round trip.
type wire struct {
	EventType      Type      `json:"eventType"`
	EventID        string    `json:"eventId"`
	TimerID        string    `json:"timerId"`
	Timestamp      time.Time `json:"timestamp"`
	OriginServerID string    `json:"originServerId"`

	OldTargetTime *time.Time `json:"oldTargetTime,omitempty"`
	NewTargetTime *time.Time `json:"newTargetTime,omitempty"`
	ChangedBy     string     `json:"changedBy,omitempty"`
	ServerTime    *time.Time `json:"serverTime,omitempty"`

	CompletedTargetTime *time.Time `json:"completedTargetTime,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	OwnerID             string     `json:"ownerId,omitempty"`
	OnlineUserCount     *int64     `json:"onlineUserCount,omitempty"`

	AccessedUserID string `json:"accessedUserId,omitempty"`

	UserID   string `json:"userId,omitempty"`
	ServerID string `json:"serverId,omitempty"`

	Mark *timer.TimestampMark `json:"mark,omitempty"`
}

// MarshalJSON flattens the envelope and its payload into one JSON object.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %s: nil payload", e.Type)
	}
	w := wire{
		EventType:      e.Payload.eventType(),
		EventID:        e.ID,
		TimerID:        e.TimerID,
		Timestamp:      e.Timestamp,
		OriginServerID: e.OriginServerID,
	}
	switch p := e.Payload.(type) {
	case TargetTimeChanged:
		w.OldTargetTime = &p.OldTargetTime
		w.NewTargetTime = &p.NewTargetTime
		w.ChangedBy = p.ChangedBy
		w.ServerTime = &p.ServerTime
	case TimerCompleted:
		w.CompletedTargetTime = &p.CompletedTargetTime
		w.CompletedAt = &p.CompletedAt
		w.OwnerID = p.OwnerID
		w.OnlineUserCount = &p.OnlineUserCount
	case SharedTimerAccessed:
		w.AccessedUserID = p.AccessedUserID
		w.OwnerID = p.OwnerID
	case UserJoined:
		w.UserID = p.UserID
		w.ServerID = p.ServerID
		w.OnlineUserCount = &p.OnlineUserCount
	case UserLeft:
		w.UserID = p.UserID
		w.ServerID = p.ServerID
		w.OnlineUserCount = &p.OnlineUserCount
	case TimestampSaved:
		w.UserID = p.UserID
		mark := p.Mark
		w.Mark = &mark
	case OnlineUserCountUpdated:
		w.OnlineUserCount = &p.OnlineUserCount
	default:
		return nil, fmt.Errorf("event %s: %w", e.Type, ErrUnknownType)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the flat object and rebuilds the typed payload.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	e.Type = w.EventType
	e.ID = w.EventID
	e.TimerID = w.TimerID
	e.Timestamp = w.Timestamp
	e.OriginServerID = w.OriginServerID

	switch w.EventType {
	case TypeTargetTimeChanged:
		p := TargetTimeChanged{ChangedBy: w.ChangedBy}
		if w.OldTargetTime != nil {
			p.OldTargetTime = *w.OldTargetTime
		}
		if w.NewTargetTime != nil {
			p.NewTargetTime = *w.NewTargetTime
		}
		if w.ServerTime != nil {
			p.ServerTime = *w.ServerTime
		}
		e.Payload = p
	case TypeTimerCompleted:
		p := TimerCompleted{OwnerID: w.OwnerID}
		if w.CompletedTargetTime != nil {
			p.CompletedTargetTime = *w.CompletedTargetTime
		}
		if w.CompletedAt != nil {
			p.CompletedAt = *w.CompletedAt
		}
		if w.OnlineUserCount != nil {
			p.OnlineUserCount = *w.OnlineUserCount
		}
		e.Payload = p
	case TypeSharedTimerAccessed:
		e.Payload = SharedTimerAccessed{
			AccessedUserID: w.AccessedUserID,
			OwnerID:        w.OwnerID,
		}
	case TypeUserJoined:
		p := UserJoined{UserID: w.UserID, ServerID: w.ServerID}
		if w.OnlineUserCount != nil {
			p.OnlineUserCount = *w.OnlineUserCount
		}
		e.Payload = p
	case TypeUserLeft:
		p := UserLeft{UserID: w.UserID, ServerID: w.ServerID}
		if w.OnlineUserCount != nil {
			p.OnlineUserCount = *w.OnlineUserCount
		}
		e.Payload = p
	case TypeTimestampSaved:
		p := TimestampSaved{UserID: w.UserID}
		if w.Mark != nil {
			p.Mark = *w.Mark
		}
		e.Payload = p
	case TypeOnlineUserCountUpdated:
		p := OnlineUserCountUpdated{}
		if w.OnlineUserCount != nil {
			p.OnlineUserCount = *w.OnlineUserCount
		}
		e.Payload = p
	default:
		return fmt.Errorf("event %q: %w", w.EventType, ErrUnknownType)
	}
	return nil
}
