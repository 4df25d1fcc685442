package bus

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// ScheduleOp selects the scheduler action for a request.
type ScheduleOp string

const (
	OpSchedule ScheduleOp = "SCHEDULE"
	OpUpdate   ScheduleOp = "UPDATE"
	OpCancel   ScheduleOp = "CANCEL"
)

// ScheduleRequest asks the scheduler to (re)arm or cancel a timer's expiry
// key. Timer is nil for OpCancel.
type ScheduleRequest struct {
	Op      ScheduleOp
	TimerID string
	Timer   *timer.Timer
}

const defaultBusBuffer = 256

const dropLogEvery = 100

// ScheduleBus is the bounded in-process channel carrying schedule requests
// from the core to the scheduler. Publish never blocks: when the consumer
// falls behind, requests are dropped and counted; the reconciliation monitor
// catches any timer that consequently never fires.
type ScheduleBus struct {
	ch        chan ScheduleRequest
	dropCount atomic.Uint64
}

// NewScheduleBus creates a schedule bus. size <= 0 selects the default.
func NewScheduleBus(size int) *ScheduleBus {
	if size <= 0 {
		size = defaultBusBuffer
	}
	return &ScheduleBus{ch: make(chan ScheduleRequest, size)}
}

// Publish enqueues a request without blocking.
func (b *ScheduleBus) Publish(ctx context.Context, req ScheduleRequest) error {
	select {
	case b.ch <- req:
		metrics.LocalBusPublishedTotal.WithLabelValues("schedule").Inc()
		return nil
	case <-ctx.Done():
		b.drop("canceled")
		return fmt.Errorf("publish schedule request: %w", ctx.Err())
	default:
		b.drop("full")
		return fmt.Errorf("publish schedule request: %w", timer.ErrBusUnavailable)
	}
}

// C returns the consumer side of the bus.
func (b *ScheduleBus) C() <-chan ScheduleRequest {
	return b.ch
}

func (b *ScheduleBus) drop(reason string) {
	metrics.IncLocalBusDrop("schedule")
	count := b.dropCount.Add(1)
	if count%dropLogEvery == 1 {
		logger := log.WithComponent("bus")
		logger.Warn().
			Str("bus", "schedule").
			Str("reason", reason).
			Uint64("dropped", count).
			Msg("schedule bus dropped a request")
	}
}
