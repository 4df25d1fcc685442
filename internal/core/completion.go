package core

import (
	"context"
	"time"

	"github.com/SeongJinSong/kb-echotimer/internal/event"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// Run consumes completion signals from the scheduler until the context is
// canceled. The reply channel is buffered, so answering a scheduler that
// already gave up never blocks.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-s.completions.C():
			err := s.OnCompletionSignal(ctx, sig.TimerID)
			if err != nil {
				s.logger.Error().Err(err).
					Str(log.FieldTimerID, sig.TimerID).
					Str(log.FieldEvent, "core.completion_failed").
					Msg("completion signal processing failed")
			}
			sig.Result <- err
		}
	}
}

// OnCompletionSignal commits the completion transition for an expired
// timer. Idempotent: a timer that is already completed is a no-op, so a
// duplicate expiry notification or a monitor-triggered retry is harmless.
func (s *Service) OnCompletionSignal(ctx context.Context, timerID string) error {
	t, err := s.timers.FindByID(ctx, timerID)
	if err != nil {
		metrics.CompletionsTotal.WithLabelValues("error").Inc()
		return err
	}
	if t.Completed {
		metrics.CompletionsTotal.WithLabelValues("already_completed").Inc()
		return nil
	}
	return s.complete(ctx, t, s.clock.Now().UTC())
}

// complete performs the conditional completion write and, when this server
// won the commit, announces it to the fleet. The caller holds a loaded,
// not-yet-completed record; t is updated in place to reflect the outcome.
func (s *Service) complete(ctx context.Context, t *timer.Timer, now time.Time) error {
	committed, err := s.timers.MarkCompleted(ctx, t.ID, now)
	if err != nil {
		metrics.CompletionsTotal.WithLabelValues("error").Inc()
		return err
	}
	if !committed {
		// Another server committed between our read and write. Their
		// COMPLETED event is already on the bus.
		metrics.CompletionsTotal.WithLabelValues("already_completed").Inc()
		if fresh, ferr := s.timers.FindByID(ctx, t.ID); ferr == nil {
			*t = *fresh
		}
		return nil
	}
	metrics.CompletionsTotal.WithLabelValues("ok").Inc()

	t.Completed = true
	t.CompletedAt = &now
	t.UpdatedAt = now

	online := s.onlineCount(ctx, t.ID)
	s.publish(ctx, event.NewTimerCompleted(t.ID, s.serverID, t.TargetTime, now, t.OwnerID, online))

	s.logger.Info().
		Str(log.FieldTimerID, t.ID).
		Str(log.FieldUserID, t.OwnerID).
		Int64("online_users", online).
		Str(log.FieldEvent, "core.timer_completed").
		Msg("timer completed")
	return nil
}
