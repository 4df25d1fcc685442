// Package core implements the local dispatcher: it owns every timer
// mutation, produces fleet events for other servers, and fans incoming bus
// events out to the sessions subscribed on this server.
package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/SeongJinSong/kb-echotimer/internal/bus"
	"github.com/SeongJinSong/kb-echotimer/internal/event"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// TimerStore is the persistence surface the service needs for timer records.
type TimerStore interface {
	Insert(ctx context.Context, t *timer.Timer) error
	FindByID(ctx context.Context, id string) (*timer.Timer, error)
	FindByShareToken(ctx context.Context, token string) (*timer.Timer, error)
	UpdateTarget(ctx context.Context, id string, target, now time.Time) error
	MarkCompleted(ctx context.Context, id string, completedAt time.Time) (committed bool, err error)
}

// MarkStore persists timestamp marks.
type MarkStore interface {
	Insert(ctx context.Context, m *timer.TimestampMark) error
	FindByTimer(ctx context.Context, timerID string) ([]timer.TimestampMark, error)
	FindByTimerAndUser(ctx context.Context, timerID, userID string) ([]timer.TimestampMark, error)
}

// EventLog is the append-only audit sink for bus events.
type EventLog interface {
	Append(ctx context.Context, env *event.Envelope) error
}

// PresenceIndex is the read surface of the shared presence store.
type PresenceIndex interface {
	OnlineCount(ctx context.Context, timerID string) (int64, error)
	IsServerRelevant(ctx context.Context, timerID, serverID string) (bool, error)
}

// Broadcaster pushes an event to every local session subscribed to a timer.
type Broadcaster interface {
	Broadcast(timerID string, env *event.Envelope)
}

// clock abstracts time for deterministic tests.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service is the local dispatcher. One instance per server process.
type Service struct {
	serverID string

	timers   TimerStore
	marks    MarkStore
	events   EventLog
	presence PresenceIndex

	fleet       bus.Publisher
	schedule    *bus.ScheduleBus
	completions *bus.CompletionBus
	hub         Broadcaster

	clock  clock
	logger zerolog.Logger
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithClock sets a custom time source for testing.
func WithClock(c clock) Option {
	return func(s *Service) { s.clock = c }
}

// NewService wires the dispatcher. The hub may be nil until the websocket
// layer is started; SetBroadcaster attaches it later.
func NewService(
	serverID string,
	timers TimerStore,
	marks MarkStore,
	events EventLog,
	presence PresenceIndex,
	fleet bus.Publisher,
	schedule *bus.ScheduleBus,
	completions *bus.CompletionBus,
	opts ...Option,
) *Service {
	s := &Service{
		serverID:    serverID,
		timers:      timers,
		marks:       marks,
		events:      events,
		presence:    presence,
		fleet:       fleet,
		schedule:    schedule,
		completions: completions,
		clock:       realClock{},
		logger:      log.WithComponent("core"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBroadcaster attaches the local session hub. The hub needs the service
// for subscribe side effects, so it is wired after construction.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.hub = b
}

// ServerID returns the identity this dispatcher stamps on outgoing events.
func (s *Service) ServerID() string {
	return s.serverID
}

// onlineCount reads the fleet-wide viewer count. Presence reads fail open:
// a store outage degrades the count to zero instead of failing the caller.
func (s *Service) onlineCount(ctx context.Context, timerID string) int64 {
	n, err := s.presence.OnlineCount(ctx, timerID)
	if err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldTimerID, timerID).
			Str(log.FieldEvent, "core.online_count_failed").
			Msg("presence read failed; reporting zero viewers")
		return 0
	}
	return n
}

// publish sends an envelope to the fleet bus. Failures are logged and
// swallowed: the local state change has already committed and consumers
// tolerate missing events by re-fetching.
func (s *Service) publish(ctx context.Context, env *event.Envelope) {
	if err := s.fleet.Publish(ctx, env); err != nil {
		s.logger.Error().Err(err).
			Str(log.FieldEventType, string(env.Type)).
			Str(log.FieldTimerID, env.TimerID).
			Str(log.FieldEvent, "core.publish_failed").
			Msg("fleet publish failed")
	}
}

// broadcast pushes an envelope to local sessions if a hub is attached.
func (s *Service) broadcast(timerID string, env *event.Envelope) {
	if s.hub != nil {
		s.hub.Broadcast(timerID, env)
	}
}
