// Package timer holds the domain types shared by the countdown service:
// the timer record itself, timestamp marks, completion logs, presence
// sessions and the client-facing view snapshot.
package timer

import "time"

// Role describes the relationship of a user to a timer.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleViewer Role = "VIEWER"
)

// Timer is the persistent countdown record. It is created by the HTTP layer
// and mutated only by the core service (target change, completion).
type Timer struct {
	ID          string     `bson:"_id" json:"timerId"`
	OwnerID     string     `bson:"ownerId" json:"ownerId"`
	TargetTime  time.Time  `bson:"targetTime" json:"targetTime"`
	Completed   bool       `bson:"completed" json:"completed"`
	CompletedAt *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	ShareToken  string     `bson:"shareToken" json:"shareToken"`
	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// TimestampMark is an append-only record of a user saving the countdown
// state at a moment in time.
type TimestampMark struct {
	ID              string            `bson:"_id,omitempty" json:"id,omitempty"`
	TimerID         string            `bson:"timerId" json:"timerId"`
	UserID          string            `bson:"userId" json:"userId"`
	SavedAt         time.Time         `bson:"savedAt" json:"savedAt"`
	RemainingMillis int64             `bson:"remainingTimeMillis" json:"remainingTimeMillis"`
	TargetAtSave    time.Time         `bson:"targetTime" json:"targetTime"`
	Metadata        map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt       time.Time         `bson:"createdAt" json:"createdAt"`
}

// CompletionLog records one completion attempt by one server for one expiry
// notification. Zero rows for an expired timer means the notification was
// lost; more than one means a multi-server race with a single winner.
type CompletionLog struct {
	ID                     string     `bson:"_id,omitempty" json:"id,omitempty"`
	TimerID                string     `bson:"timerId" json:"timerId"`
	ServerID               string     `bson:"serverId" json:"serverId"`
	NotificationReceivedAt time.Time  `bson:"notificationReceivedAt" json:"notificationReceivedAt"`
	ProcessingStartedAt    *time.Time `bson:"processingStartedAt,omitempty" json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt  *time.Time `bson:"processingCompletedAt,omitempty" json:"processingCompletedAt,omitempty"`
	LockAcquired           bool       `bson:"lockAcquired" json:"lockAcquired"`
	Success                bool       `bson:"success" json:"success"`
	ErrorMessage           string     `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	OriginalTargetTime     time.Time  `bson:"originalTargetTime" json:"originalTargetTime"`
	ProcessingDelayMillis  int64      `bson:"processingDelayMs" json:"processingDelayMs"`
	CreatedAt              time.Time  `bson:"createdAt" json:"createdAt"`
}

// Session describes one live websocket subscription. It is held only in the
// shared store (as the session:{id} value) and never persisted to Mongo.
type Session struct {
	ID            string    `json:"sessionId"`
	TimerID       string    `json:"timerId"`
	UserID        string    `json:"userId"`
	ServerID      string    `json:"serverId"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// View is the client-facing snapshot of a timer, including the server clock
// so clients can compensate for their own clock skew.
type View struct {
	TimerID         string     `json:"timerId"`
	TargetTime      time.Time  `json:"targetTime"`
	ServerTime      time.Time  `json:"serverTime"`
	RemainingMillis int64      `json:"remainingTimeMillis"`
	Completed       bool       `json:"completed"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	OwnerID         string     `json:"ownerId"`
	Role            Role       `json:"userRole"`
	OnlineUsers     int64      `json:"onlineUserCount"`
	ShareURL        string     `json:"shareUrl"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// NewView builds the snapshot for one user at one instant. Remaining time is
// clamped at zero and a timer whose target has passed reads as completed even
// if the completion transaction has not committed yet.
func NewView(t *Timer, userID string, online int64, now time.Time) View {
	remaining := t.TargetTime.Sub(now).Milliseconds()
	if remaining < 0 {
		remaining = 0
	}
	role := RoleViewer
	if userID != "" && userID == t.OwnerID {
		role = RoleOwner
	}
	return View{
		TimerID:         t.ID,
		TargetTime:      t.TargetTime,
		ServerTime:      now,
		RemainingMillis: remaining,
		Completed:       t.Completed || remaining == 0,
		CompletedAt:     t.CompletedAt,
		OwnerID:         t.OwnerID,
		Role:            role,
		OnlineUsers:     online,
		ShareURL:        "/timer/" + t.ShareToken,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}
