package core

import (
	"context"

	"github.com/SeongJinSong/kb-echotimer/internal/event"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
)

// HandleBusEvent is the per-event handler the fleet consumer calls for
// every record, including this server's own publishes: local fan-out of
// fleet events happens here, not at publish time.
//
// Events outside the always-process set are dropped when this server has no
// viewers for the timer. The relevance check fails open: with the presence
// store down, dispatching to an empty room is cheaper than going silent.
func (s *Service) HandleBusEvent(ctx context.Context, env *event.Envelope) error {
	if !env.Type.AlwaysProcess() {
		relevant, err := s.presence.IsServerRelevant(ctx, env.TimerID, s.serverID)
		if err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldTimerID, env.TimerID).
				Str(log.FieldEvent, "core.relevance_check_failed").
				Msg("presence check failed; processing event anyway")
		} else if !relevant {
			metrics.BusConsumeSkippedTotal.WithLabelValues("not_relevant").Inc()
			return nil
		}
	}

	// Append before fan-out so the audit log never misses an event a
	// client saw. A log failure must not stop the fan-out.
	appendErr := s.events.Append(ctx, env)

	s.broadcast(env.TimerID, env)
	return appendErr
}

// NotifyJoined announces a new subscription: USER_JOINED to the fleet and
// the refreshed online count straight to local sessions. The count frame
// skips the bus because the presence index already holds the fleet-wide
// number.
func (s *Service) NotifyJoined(ctx context.Context, timerID, userID string) {
	online := s.onlineCount(ctx, timerID)
	s.publish(ctx, event.NewUserJoined(timerID, s.serverID, userID, online))
	s.broadcast(timerID, event.NewOnlineUserCountUpdated(timerID, s.serverID, online))
}

// NotifyLeft announces a closed subscription, mirroring NotifyJoined.
func (s *Service) NotifyLeft(ctx context.Context, timerID, userID string) {
	online := s.onlineCount(ctx, timerID)
	s.publish(ctx, event.NewUserLeft(timerID, s.serverID, userID, online))
	s.broadcast(timerID, event.NewOnlineUserCountUpdated(timerID, s.serverID, online))
}

// OnSharedAccess tells the owner a viewer opened their timer. Emitted once
// per non-owner subscription.
func (s *Service) OnSharedAccess(ctx context.Context, timerID, accessedUserID, ownerID string) {
	s.publish(ctx, event.NewSharedTimerAccessed(timerID, s.serverID, accessedUserID, ownerID))
}
