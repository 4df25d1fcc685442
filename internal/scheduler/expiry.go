package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/SeongJinSong/kb-echotimer/internal/bus"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
	"github.com/SeongJinSong/kb-echotimer/internal/store"
	"github.com/SeongJinSong/kb-echotimer/internal/telemetry"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// expiryPattern matches key-expiry notifications from any logical database.
const expiryPattern = "__keyevent@*__:expired"

// releaseScript deletes the processing mutex only while we still hold it.
// After the 5-minute TTL another server may own the key; deleting theirs
// would open a second completion window.
var releaseScript = redis.NewScript(
	`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`,
)

// expiryLoop subscribes to the expiry channel and spawns one handler per
// schedule-key notification. Handlers run concurrently: a single slow
// completion must not delay other timers firing in the same second.
func (s *Scheduler) expiryLoop(ctx context.Context) error {
	pubsub := s.client.PSubscribe(ctx, expiryPattern)
	defer func() { _ = pubsub.Close() }()

	// Force the subscription onto the wire before Run is considered live.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to expiry notifications: %w: %w", timer.ErrStoreUnavailable, err)
	}
	s.logger.Info().
		Str("pattern", expiryPattern).
		Str(log.FieldEvent, "scheduler.expiry_subscribed").
		Msg("listening for schedule key expiry")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("expiry subscription closed: %w", timer.ErrStoreUnavailable)
			}
			timerID, ok := store.TimerIDFromScheduleKey(msg.Payload)
			if !ok {
				continue
			}
			metrics.ExpiryNotificationsTotal.Inc()
			s.handlers.Add(1)
			go func() {
				defer s.handlers.Done()
				s.handleExpiry(ctx, timerID, s.clock.Now().UTC())
			}()
		}
	}
}

// handleExpiry runs the completion protocol for one expired schedule key.
// Every server subscribed to the expiry channel runs this concurrently for
// the same timer; the processing mutex picks the single winner.
func (s *Scheduler) handleExpiry(ctx context.Context, timerID string, notifiedAt time.Time) {
	tracer := telemetry.Tracer("echotimer.scheduler")
	ctx, span := tracer.Start(ctx, "echotimer.completion.attempt")
	defer span.End()

	logger := s.logger.With().
		Str(log.FieldTimerID, timerID).
		Str(log.FieldServerID, s.serverID).
		Logger()

	t, err := s.loadTimer(ctx, timerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		attempt := &timer.CompletionLog{
			TimerID:                timerID,
			ServerID:               s.serverID,
			NotificationReceivedAt: notifiedAt,
			Success:                false,
			ErrorMessage:           errorMessage(err),
			CreatedAt:              s.clock.Now().UTC(),
		}
		s.insertLog(ctx, logger, attempt)
		logger.Error().Err(err).
			Str(log.FieldEvent, "scheduler.expiry_load_failed").
			Msg("expired timer could not be loaded")
		return
	}

	attempt := &timer.CompletionLog{
		TimerID:                timerID,
		ServerID:               s.serverID,
		NotificationReceivedAt: notifiedAt,
		OriginalTargetTime:     t.TargetTime,
		CreatedAt:              s.clock.Now().UTC(),
	}
	logOK := s.insertLog(ctx, logger, attempt)

	acquired, err := s.acquireLock(ctx, timerID)
	if err != nil {
		metrics.CompletionLockTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.finishLog(ctx, logger, logOK, attempt, false, "lock acquisition failed: "+errorMessage(err))
		logger.Error().Err(err).
			Str(log.FieldEvent, "scheduler.lock_failed").
			Msg("processing mutex acquisition errored")
		return
	}

	started := s.clock.Now().UTC()
	attempt.LockAcquired = acquired
	attempt.ProcessingStartedAt = &started
	attempt.ProcessingDelayMillis = started.Sub(t.TargetTime).Milliseconds()
	span.SetAttributes(telemetry.CompletionAttributes(timerID, s.serverID, acquired, attempt.ProcessingDelayMillis)...)
	if logOK {
		s.updateLog(ctx, logger, attempt)
	}

	if !acquired {
		metrics.CompletionLockTotal.WithLabelValues("lost").Inc()
		s.finishLog(ctx, logger, logOK, attempt, false, "lock not acquired")
		logger.Info().
			Str(log.FieldEvent, "scheduler.lock_lost").
			Msg("another server is completing this timer")
		return
	}

	metrics.CompletionLockTotal.WithLabelValues("won").Inc()
	metrics.CompletionDelaySeconds.Observe(float64(attempt.ProcessingDelayMillis) / 1000)
	defer s.releaseLock(ctx, logger, timerID)

	logger.Info().
		Int64("delay_ms", attempt.ProcessingDelayMillis).
		Str(log.FieldEvent, "scheduler.lock_won").
		Msg("completing timer")

	if err := s.signalCompletion(ctx, timerID, notifiedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.finishLog(ctx, logger, logOK, attempt, false, errorMessage(err))
		logger.Error().Err(err).
			Str(log.FieldEvent, "scheduler.completion_failed").
			Msg("completion did not commit")
		return
	}

	s.finishLog(ctx, logger, logOK, attempt, true, "")
	logger.Info().
		Str(log.FieldEvent, "scheduler.completion_committed").
		Msg("completion committed")
}

// signalCompletion hands the timer to the dispatcher and waits, bounded,
// for its verdict.
func (s *Scheduler) signalCompletion(ctx context.Context, timerID string, notifiedAt time.Time) error {
	sig := bus.NewCompletionSignal(timerID, notifiedAt)
	if err := s.completions.Publish(ctx, sig); err != nil {
		return fmt.Errorf("completion signal: %w", err)
	}
	select {
	case err := <-sig.Result:
		return err
	case <-time.After(s.resultWait):
		return fmt.Errorf("no completion result within %s", s.resultWait)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loadTimer(ctx context.Context, timerID string) (*timer.Timer, error) {
	opCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return s.timers.FindByID(opCtx, timerID)
}

func (s *Scheduler) acquireLock(ctx context.Context, timerID string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return s.client.SetNX(opCtx, store.KeyProcessing(timerID), s.serverID, store.TTLProcessing).Result()
}

// releaseLock drops the processing mutex if this server still holds it. It
// must succeed even when the surrounding context is already canceled, so it
// runs on a detached context.
func (s *Scheduler) releaseLock(ctx context.Context, logger zerolog.Logger, timerID string) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := releaseScript.Run(opCtx, s.client, []string{store.KeyProcessing(timerID)}, s.serverID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		logger.Error().Err(err).
			Str(log.FieldEvent, "scheduler.release_failed").
			Msg("processing mutex release failed; TTL will reap it")
	}
}

func (s *Scheduler) insertLog(ctx context.Context, logger zerolog.Logger, l *timer.CompletionLog) bool {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := s.logs.Insert(opCtx, l); err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "scheduler.log_write_failed").
			Msg("completion log insert failed; continuing without audit row")
		return false
	}
	return true
}

func (s *Scheduler) updateLog(ctx context.Context, logger zerolog.Logger, l *timer.CompletionLog) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := s.logs.Update(opCtx, l); err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "scheduler.log_write_failed").
			Msg("completion log update failed")
	}
}

// finishLog stamps the terminal fields on the attempt row.
func (s *Scheduler) finishLog(ctx context.Context, logger zerolog.Logger, logOK bool, l *timer.CompletionLog, success bool, errMsg string) {
	if !logOK {
		return
	}
	done := s.clock.Now().UTC()
	l.Success = success
	l.ErrorMessage = errMsg
	l.ProcessingCompletedAt = &done
	s.updateLog(ctx, logger, l)
}

func errorMessage(err error) string {
	if errors.Is(err, timer.ErrTimerNotFound) {
		return "timer not found"
	}
	return err.Error()
}
