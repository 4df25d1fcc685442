// Package bus defines the fleet publisher interface and the two in-process
// buses breaking the core/scheduler cycle: the core requests (re)scheduling
// over the schedule bus, the scheduler signals completions back over the
// completion bus. Neither side holds a reference to the other.
package bus

import (
	"context"

	"github.com/SeongJinSong/kb-echotimer/internal/event"
)

// Publisher publishes an event to the fleet. Implementations route on the
// envelope's type.
type Publisher interface {
	Publish(ctx context.Context, env *event.Envelope) error
}
