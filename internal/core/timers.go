package core

import (
	"context"
	"fmt"
	"time"

	"github.com/SeongJinSong/kb-echotimer/internal/bus"
	"github.com/SeongJinSong/kb-echotimer/internal/event"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// Create persists a new timer targeting now+targetSeconds and asks the
// scheduler to register its expiry key.
func (s *Service) Create(ctx context.Context, targetSeconds int64, ownerID string) (timer.View, error) {
	if targetSeconds < 1 {
		return timer.View{}, fmt.Errorf("target must be at least one second: %w", timer.ErrInvalidRequest)
	}
	if ownerID == "" {
		return timer.View{}, fmt.Errorf("owner id is required: %w", timer.ErrInvalidRequest)
	}

	now := s.clock.Now().UTC()
	t := &timer.Timer{
		OwnerID:    ownerID,
		TargetTime: now.Add(time.Duration(targetSeconds) * time.Second),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.timers.Insert(ctx, t); err != nil {
		metrics.IncTimerOp("create", err)
		return timer.View{}, err
	}
	metrics.IncTimerOp("create", nil)

	if err := s.schedule.Publish(ctx, bus.ScheduleRequest{Op: bus.OpSchedule, TimerID: t.ID, Timer: t}); err != nil {
		// The timer exists but has no expiry key; the monitor will flag
		// it if it never completes.
		s.logger.Error().Err(err).
			Str(log.FieldTimerID, t.ID).
			Str(log.FieldEvent, "core.schedule_request_dropped").
			Msg("schedule request not accepted")
	}

	s.logger.Info().
		Str(log.FieldTimerID, t.ID).
		Str(log.FieldUserID, ownerID).
		Time("target_time", t.TargetTime).
		Str(log.FieldEvent, "core.timer_created").
		Msg("timer created")

	return timer.NewView(t, ownerID, s.onlineCount(ctx, t.ID), now), nil
}

// Get returns the snapshot of a timer for one user.
func (s *Service) Get(ctx context.Context, timerID, userID string) (timer.View, error) {
	t, err := s.timers.FindByID(ctx, timerID)
	metrics.IncTimerOp("get", err)
	if err != nil {
		return timer.View{}, err
	}
	return timer.NewView(t, userID, s.onlineCount(ctx, t.ID), s.clock.Now().UTC()), nil
}

// GetByShareToken resolves a timer through its share token. Read-only: the
// owner notification fires when the viewer actually subscribes, not here.
func (s *Service) GetByShareToken(ctx context.Context, token, userID string) (timer.View, error) {
	t, err := s.timers.FindByShareToken(ctx, token)
	metrics.IncTimerOp("resolve_token", err)
	if err != nil {
		return timer.View{}, err
	}
	return timer.NewView(t, userID, s.onlineCount(ctx, t.ID), s.clock.Now().UTC()), nil
}

// ChangeTarget moves a pending timer's target instant. Owner only.
// Concurrent changes resolve last-writer-wins.
func (s *Service) ChangeTarget(ctx context.Context, timerID string, newTarget time.Time, requesterID string) (timer.View, error) {
	t, err := s.timers.FindByID(ctx, timerID)
	if err != nil {
		metrics.IncTimerOp("change_target", err)
		return timer.View{}, err
	}
	now := s.clock.Now().UTC()

	switch {
	case requesterID != t.OwnerID:
		err = fmt.Errorf("only the owner may change the target: %w", timer.ErrNotOwner)
	case t.Completed:
		err = fmt.Errorf("timer %s already completed: %w", timerID, timer.ErrTimerCompleted)
	case !newTarget.After(now):
		err = fmt.Errorf("target %s is not in the future: %w", newTarget.Format(time.RFC3339), timer.ErrInvalidTarget)
	}
	if err != nil {
		metrics.IncTimerOp("change_target", err)
		return timer.View{}, err
	}

	oldTarget := t.TargetTime
	if err := s.timers.UpdateTarget(ctx, timerID, newTarget, now); err != nil {
		metrics.IncTimerOp("change_target", err)
		return timer.View{}, err
	}
	metrics.IncTimerOp("change_target", nil)
	t.TargetTime = newTarget
	t.UpdatedAt = now

	if err := s.schedule.Publish(ctx, bus.ScheduleRequest{Op: bus.OpUpdate, TimerID: t.ID, Timer: t}); err != nil {
		s.logger.Error().Err(err).
			Str(log.FieldTimerID, t.ID).
			Str(log.FieldEvent, "core.schedule_request_dropped").
			Msg("schedule update not accepted")
	}
	s.publish(ctx, event.NewTargetTimeChanged(timerID, s.serverID, oldTarget, newTarget, requesterID))

	s.logger.Info().
		Str(log.FieldTimerID, timerID).
		Str(log.FieldUserID, requesterID).
		Time("old_target", oldTarget).
		Time("new_target", newTarget).
		Str(log.FieldEvent, "core.target_changed").
		Msg("target time changed")

	return timer.NewView(t, requesterID, s.onlineCount(ctx, t.ID), now), nil
}

// SaveTimestamp appends a mark unconditionally and tells the fleet.
func (s *Service) SaveTimestamp(ctx context.Context, timerID, userID string, target time.Time, meta map[string]string) (timer.TimestampMark, error) {
	now := s.clock.Now().UTC()
	remaining := target.Sub(now).Milliseconds()
	if remaining < 0 {
		remaining = 0
	}
	mark := timer.TimestampMark{
		TimerID:         timerID,
		UserID:          userID,
		SavedAt:         now,
		RemainingMillis: remaining,
		TargetAtSave:    target,
		Metadata:        meta,
		CreatedAt:       now,
	}
	if err := s.marks.Insert(ctx, &mark); err != nil {
		metrics.IncTimerOp("save_timestamp", err)
		return timer.TimestampMark{}, err
	}
	metrics.IncTimerOp("save_timestamp", nil)

	s.publish(ctx, event.NewTimestampSaved(s.serverID, mark))
	return mark, nil
}

// ForceComplete completes a timer ahead of its target. Owner only;
// completing an already-completed timer is a no-op.
func (s *Service) ForceComplete(ctx context.Context, timerID, requesterID string) (timer.View, error) {
	t, err := s.timers.FindByID(ctx, timerID)
	if err != nil {
		metrics.IncTimerOp("force_complete", err)
		return timer.View{}, err
	}
	if requesterID != t.OwnerID {
		err = fmt.Errorf("only the owner may complete the timer: %w", timer.ErrNotOwner)
		metrics.IncTimerOp("force_complete", err)
		return timer.View{}, err
	}
	now := s.clock.Now().UTC()
	if !t.Completed {
		if err := s.complete(ctx, t, now); err != nil {
			metrics.IncTimerOp("force_complete", err)
			return timer.View{}, err
		}
		if err := s.schedule.Publish(ctx, bus.ScheduleRequest{Op: bus.OpCancel, TimerID: timerID}); err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldTimerID, timerID).
				Str(log.FieldEvent, "core.schedule_cancel_dropped").
				Msg("schedule cancel not accepted; key will expire on its own")
		}
	}
	metrics.IncTimerOp("force_complete", nil)
	return timer.NewView(t, requesterID, s.onlineCount(ctx, timerID), now), nil
}

// History returns every mark saved against a timer, newest first.
func (s *Service) History(ctx context.Context, timerID string) ([]timer.TimestampMark, error) {
	if _, err := s.timers.FindByID(ctx, timerID); err != nil {
		return nil, err
	}
	return s.marks.FindByTimer(ctx, timerID)
}

// UserHistory returns one user's marks on a timer, newest first.
func (s *Service) UserHistory(ctx context.Context, timerID, userID string) ([]timer.TimestampMark, error) {
	if _, err := s.timers.FindByID(ctx, timerID); err != nil {
		return nil, err
	}
	return s.marks.FindByTimerAndUser(ctx, timerID, userID)
}
