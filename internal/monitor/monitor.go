// Package monitor is the reconciliation net under the TTL completion
// machinery: it periodically scans for timers whose target passed without
// the document ever flipping to completed, and explains each miss from the
// per-attempt completion log.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

const (
	// DefaultInterval is the sweep cadence.
	DefaultInterval = time.Minute

	// DefaultWindow bounds how far behind now a sweep looks. Anything
	// older was already reported by earlier sweeps.
	DefaultWindow = 5 * time.Minute

	// statsWindow is the trailing range Stats reports over.
	statsWindow = time.Hour

	// sweepTimeout bounds one full detection pass.
	sweepTimeout = 10 * time.Second
)

// Missed-completion classifications, most to least upstream in the
// completion protocol.
const (
	// ClassNotificationLost: no server recorded an attempt, so the key
	// expiry notification itself never arrived.
	ClassNotificationLost = "NOTIFICATION_LOST"

	// ClassLockContentionLost: attempts exist but none acquired the
	// completion mutex, and whichever server held it never finished.
	ClassLockContentionLost = "LOCK_CONTENTION_LOST"

	// ClassProcessingFailed: the mutex holder started processing and
	// recorded a failure.
	ClassProcessingFailed = "PROCESSING_FAILED"

	// ClassCommitDivergence: an attempt logged success yet the timer
	// document is still uncompleted.
	ClassCommitDivergence = "COMMIT_DIVERGENCE"
)

// TimerScanner finds uncompleted timers whose target fell inside a range.
type TimerScanner interface {
	FindOverdue(ctx context.Context, from, to time.Time) ([]timer.Timer, error)
}

// AttemptLog reads the completion attempt records the scheduler writes.
type AttemptLog interface {
	FindByTimer(ctx context.Context, timerID string) ([]timer.CompletionLog, error)
	StatsSince(ctx context.Context, since time.Time) (total, successes int64, err error)
}

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Missed describes one overdue timer together with the best explanation
// the attempt log supports.
type Missed struct {
	TimerID        string    `json:"timerId"`
	OwnerID        string    `json:"ownerId"`
	TargetTime     time.Time `json:"targetTime"`
	DelayMillis    int64     `json:"delayMillis"`
	Classification string    `json:"classification"`
	Detail         string    `json:"detail,omitempty"`
}

// Stats summarizes completion attempts over the trailing hour.
type Stats struct {
	TotalAttempts         int64   `json:"totalAttempts"`
	SuccessfulCompletions int64   `json:"successfulCompletions"`
	FailedAttempts        int64   `json:"failedAttempts"`
	SuccessRate           float64 `json:"successRate"`
}

// Monitor runs the periodic sweep. It only reports; re-driving a missed
// completion is an operator decision, not an automatic retry.
type Monitor struct {
	timers   TimerScanner
	logs     AttemptLog
	interval time.Duration
	window   time.Duration
	clock    clock
	logger   zerolog.Logger
}

// Option configures optional Monitor dependencies.
type Option func(*Monitor)

// WithClock sets a custom time source for testing.
func WithClock(c clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// New wires a monitor. Non-positive interval or window fall back to the
// defaults.
func New(timers TimerScanner, logs AttemptLog, interval, window time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		timers:   timers,
		logs:     logs,
		interval: interval,
		window:   window,
		clock:    realClock{},
		logger:   log.WithComponent("monitor"),
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.window <= 0 {
		m.window = DefaultWindow
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run sweeps on the configured cadence until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info().
		Dur("interval", m.interval).
		Dur("window", m.window).
		Str(log.FieldEvent, "monitor.started").
		Msg("reconciliation monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			if _, err := m.DetectOnce(sweepCtx); err != nil {
				m.logger.Error().Err(err).
					Str(log.FieldEvent, "monitor.sweep_failed").
					Msg("missed-completion sweep failed")
			}
			cancel()
		}
	}
}

// DetectOnce scans for uncompleted timers whose target fell inside the
// window ending now, classifies each from its attempt log, and returns
// what it found. Results are also logged and counted so the scheduled
// sweeps leave a trail without a caller.
func (m *Monitor) DetectOnce(ctx context.Context) ([]Missed, error) {
	now := m.clock.Now().UTC()

	overdue, err := m.timers.FindOverdue(ctx, now.Add(-m.window), now)
	if err != nil {
		metrics.MonitorRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("scan overdue timers: %w", err)
	}
	if len(overdue) == 0 {
		metrics.MonitorRunsTotal.WithLabelValues("ok").Inc()
		m.logger.Debug().Msg("no overdue timers in window")
		return nil, nil
	}

	missed := make([]Missed, 0, len(overdue))
	for _, t := range overdue {
		entry, err := m.classify(ctx, t, now)
		if err != nil {
			metrics.MonitorRunsTotal.WithLabelValues("error").Inc()
			return missed, err
		}
		missed = append(missed, entry)
	}
	metrics.MonitorRunsTotal.WithLabelValues("ok").Inc()

	m.logger.Error().
		Int("count", len(missed)).
		Str(log.FieldEvent, "monitor.missed_completions").
		Msg("overdue timers without a committed completion")

	for _, e := range missed {
		metrics.MissedCompletionsTotal.WithLabelValues(e.Classification).Inc()
		m.logger.Error().
			Str(log.FieldTimerID, e.TimerID).
			Str("classification", e.Classification).
			Time("target_time", e.TargetTime).
			Int64("delay_ms", e.DelayMillis).
			Str("owner_id", e.OwnerID).
			Str("detail", e.Detail).
			Str(log.FieldEvent, "monitor.missed_timer").
			Msg("missed timer completion")
	}
	return missed, nil
}

// classify explains one overdue timer from its attempt records. The log
// repo returns attempts newest first.
func (m *Monitor) classify(ctx context.Context, t timer.Timer, now time.Time) (Missed, error) {
	logs, err := m.logs.FindByTimer(ctx, t.ID)
	if err != nil {
		return Missed{}, fmt.Errorf("read attempt log for %s: %w", t.ID, err)
	}

	entry := Missed{
		TimerID:     t.ID,
		OwnerID:     t.OwnerID,
		TargetTime:  t.TargetTime,
		DelayMillis: now.Sub(t.TargetTime).Milliseconds(),
	}
	switch {
	case len(logs) == 0:
		entry.Classification = ClassNotificationLost
		entry.Detail = "no attempt recorded; expiry notification never delivered"
	case anySuccess(logs):
		entry.Classification = ClassCommitDivergence
		entry.Detail = "attempt logged success but the timer document is still uncompleted"
	case logs[0].LockAcquired:
		entry.Classification = ClassProcessingFailed
		entry.Detail = logs[0].ErrorMessage
	default:
		entry.Classification = ClassLockContentionLost
		entry.Detail = "no attempt acquired the completion mutex and finished"
	}
	return entry, nil
}

func anySuccess(logs []timer.CompletionLog) bool {
	for _, l := range logs {
		if l.Success {
			return true
		}
	}
	return false
}

// Stats reports completion attempts over the trailing hour. SuccessRate
// is a percentage, zero when there were no attempts.
func (m *Monitor) Stats(ctx context.Context) (Stats, error) {
	since := m.clock.Now().UTC().Add(-statsWindow)
	total, successes, err := m.logs.StatsSince(ctx, since)
	if err != nil {
		return Stats{}, fmt.Errorf("completion stats: %w", err)
	}
	st := Stats{
		TotalAttempts:         total,
		SuccessfulCompletions: successes,
		FailedAttempts:        total - successes,
	}
	if total > 0 {
		st.SuccessRate = float64(successes) / float64(total) * 100
	}
	return st, nil
}
