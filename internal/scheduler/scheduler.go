// Package scheduler owns the TTL-based completion machinery: it maintains
// one volatile schedule key per pending timer and reacts to the store's
// expiry notifications with a fleet-wide, mutex-guarded completion protocol.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/SeongJinSong/kb-echotimer/internal/bus"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
	"github.com/SeongJinSong/kb-echotimer/internal/store"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

const (
	// storeTimeout bounds every persistence round-trip made while handling
	// an expiry, so a stalled backend cannot pin goroutines.
	storeTimeout = 5 * time.Second

	// defaultResultWait bounds how long the expiry winner waits for the
	// dispatcher to finish the completion transaction.
	defaultResultWait = 30 * time.Second
)

// TimerLoader loads timer records during expiry handling.
type TimerLoader interface {
	FindByID(ctx context.Context, id string) (*timer.Timer, error)
}

// CompletionLogStore records completion attempts.
type CompletionLogStore interface {
	Insert(ctx context.Context, l *timer.CompletionLog) error
	Update(ctx context.Context, l *timer.CompletionLog) error
}

// clock abstracts time for deterministic tests.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Scheduler runs two loops: one consuming schedule requests from the
// in-process bus, one consuming key-expiry notifications from the store.
type Scheduler struct {
	client      *redis.Client
	serverID    string
	timers      TimerLoader
	logs        CompletionLogStore
	requests    *bus.ScheduleBus
	completions *bus.CompletionBus

	resultWait time.Duration
	clock      clock
	logger     zerolog.Logger

	// tracks in-flight expiry handlers so Run drains them on shutdown
	handlers sync.WaitGroup
}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

// WithClock sets a custom time source for testing.
func WithClock(c clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithResultWait overrides the bounded wait for the dispatcher's reply.
func WithResultWait(d time.Duration) Option {
	return func(s *Scheduler) { s.resultWait = d }
}

// New wires a scheduler. It does not touch the store until Run.
func New(
	client *redis.Client,
	serverID string,
	timers TimerLoader,
	logs CompletionLogStore,
	requests *bus.ScheduleBus,
	completions *bus.CompletionBus,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		client:      client,
		serverID:    serverID,
		timers:      timers,
		logs:        logs,
		requests:    requests,
		completions: completions,
		resultWait:  defaultResultWait,
		clock:       realClock{},
		logger:      log.WithComponent("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until the context is canceled, driving both loops. In-flight
// expiry handlers are drained before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.requestLoop(ctx) })
	g.Go(func() error { return s.expiryLoop(ctx) })
	err := g.Wait()
	s.handlers.Wait()
	return err
}

func (s *Scheduler) requestLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.requests.C():
			s.apply(ctx, req)
		}
	}
}

func (s *Scheduler) apply(ctx context.Context, req bus.ScheduleRequest) {
	switch req.Op {
	case bus.OpSchedule:
		s.scheduleTimer(ctx, "schedule", req.Timer)
	case bus.OpUpdate:
		// Delete-then-set replace. An expiry notification racing between
		// the two operations finds a completed or rescheduled timer and
		// no-ops downstream.
		if err := s.deleteKey(ctx, req.TimerID); err != nil {
			metrics.ScheduleOpsTotal.WithLabelValues("update", "error").Inc()
			s.logger.Error().Err(err).
				Str(log.FieldTimerID, req.TimerID).
				Str(log.FieldEvent, "scheduler.update_failed").
				Msg("schedule key delete failed")
			return
		}
		s.scheduleTimer(ctx, "update", req.Timer)
	case bus.OpCancel:
		if err := s.deleteKey(ctx, req.TimerID); err != nil {
			metrics.ScheduleOpsTotal.WithLabelValues("cancel", "error").Inc()
			s.logger.Error().Err(err).
				Str(log.FieldTimerID, req.TimerID).
				Str(log.FieldEvent, "scheduler.cancel_failed").
				Msg("schedule key delete failed")
			return
		}
		metrics.ScheduleOpsTotal.WithLabelValues("cancel", "ok").Inc()
	default:
		s.logger.Error().
			Str(log.FieldTimerID, req.TimerID).
			Str("op", string(req.Op)).
			Str(log.FieldEvent, "scheduler.unknown_op").
			Msg("unknown schedule request op")
	}
}

// scheduleTimer sets the volatile schedule key. Completed timers and past
// targets are skipped; the store would reject a non-positive TTL anyway.
func (s *Scheduler) scheduleTimer(ctx context.Context, op string, t *timer.Timer) {
	if t == nil {
		metrics.ScheduleOpsTotal.WithLabelValues(op, "error").Inc()
		s.logger.Error().
			Str(log.FieldEvent, "scheduler.nil_timer").
			Msgf("%s request without a timer", op)
		return
	}
	now := s.clock.Now()
	ttl := t.TargetTime.Sub(now)
	if t.Completed || ttl <= 0 {
		metrics.ScheduleOpsTotal.WithLabelValues(op, "skipped").Inc()
		s.logger.Debug().
			Str(log.FieldTimerID, t.ID).
			Bool("completed", t.Completed).
			Dur("ttl", ttl).
			Str(log.FieldEvent, "scheduler.schedule_skipped").
			Msg("not scheduling a completed or overdue timer")
		return
	}

	if err := s.client.Set(ctx, store.KeySchedule(t.ID), s.serverID, ttl).Err(); err != nil {
		metrics.ScheduleOpsTotal.WithLabelValues(op, "error").Inc()
		s.logger.Error().Err(err).
			Str(log.FieldTimerID, t.ID).
			Str(log.FieldEvent, "scheduler.schedule_failed").
			Msg("schedule key set failed")
		return
	}
	metrics.ScheduleOpsTotal.WithLabelValues(op, "ok").Inc()
	s.logger.Debug().
		Str(log.FieldTimerID, t.ID).
		Time("target_time", t.TargetTime).
		Dur("ttl", ttl).
		Str(log.FieldEvent, "scheduler.scheduled").
		Msg("schedule key set")
}

func (s *Scheduler) deleteKey(ctx context.Context, timerID string) error {
	return s.client.Del(ctx, store.KeySchedule(timerID)).Err()
}
