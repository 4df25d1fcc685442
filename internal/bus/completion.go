package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// CompletionSignal tells the core that a timer's expiry fired and this
// server won the completion mutex. The core reports the transaction outcome
// on Result so the scheduler can finish its completion log without holding a
// reference to the core.
type CompletionSignal struct {
	TimerID    string
	NotifiedAt time.Time
	// Result receives exactly one error (nil on success). Buffered so the
	// core never blocks on a scheduler that stopped waiting.
	Result chan error
}

// NewCompletionSignal builds a signal with a ready reply channel.
func NewCompletionSignal(timerID string, notifiedAt time.Time) CompletionSignal {
	return CompletionSignal{
		TimerID:    timerID,
		NotifiedAt: notifiedAt,
		Result:     make(chan error, 1),
	}
}

// CompletionBus carries completion signals from the scheduler to the core.
type CompletionBus struct {
	ch        chan CompletionSignal
	dropCount atomic.Uint64
}

// NewCompletionBus creates a completion bus. size <= 0 selects the default.
func NewCompletionBus(size int) *CompletionBus {
	if size <= 0 {
		size = defaultBusBuffer
	}
	return &CompletionBus{ch: make(chan CompletionSignal, size)}
}

// Publish enqueues a signal without blocking.
func (b *CompletionBus) Publish(ctx context.Context, sig CompletionSignal) error {
	select {
	case b.ch <- sig:
		metrics.LocalBusPublishedTotal.WithLabelValues("completion").Inc()
		return nil
	case <-ctx.Done():
		b.drop("canceled")
		return fmt.Errorf("publish completion signal: %w", ctx.Err())
	default:
		b.drop("full")
		return fmt.Errorf("publish completion signal: %w", timer.ErrBusUnavailable)
	}
}

// C returns the consumer side of the bus.
func (b *CompletionBus) C() <-chan CompletionSignal {
	return b.ch
}

func (b *CompletionBus) drop(reason string) {
	metrics.IncLocalBusDrop("completion")
	count := b.dropCount.Add(1)
	if count%dropLogEvery == 1 {
		logger := log.WithComponent("bus")
		logger.Warn().
			Str("bus", "completion").
			Str("reason", reason).
			Uint64("dropped", count).
			Msg("completion bus dropped a signal")
	}
}
