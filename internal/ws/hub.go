package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/SeongJinSong/kb-echotimer/internal/event"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
)

// Hub tracks which local sessions are subscribed to which timer and fans
// events out to them. It is the Broadcaster the dispatcher writes into.
type Hub struct {
	mu      sync.RWMutex
	byTimer map[string]map[*Session]struct{}
	logger  zerolog.Logger
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		byTimer: make(map[string]map[*Session]struct{}),
		logger:  log.WithComponent("ws"),
	}
}

func (h *Hub) add(timerID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.byTimer[timerID]
	if !ok {
		sessions = make(map[*Session]struct{})
		h.byTimer[timerID] = sessions
	}
	sessions[s] = struct{}{}
}

func (h *Hub) remove(timerID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.byTimer[timerID]
	if !ok {
		return
	}
	delete(sessions, s)
	if len(sessions) == 0 {
		delete(h.byTimer, timerID)
	}
}

// Count returns how many local sessions are subscribed to a timer.
func (h *Hub) Count(timerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTimer[timerID])
}

// Broadcast pushes one envelope to every local session subscribed to the
// timer. The frame is marshaled once; sessions that cannot keep up are
// dropped by their own send path.
func (h *Hub) Broadcast(timerID string, env *event.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).
			Str(log.FieldEventType, string(env.Type)).
			Str(log.FieldTimerID, timerID).
			Str(log.FieldEvent, "ws.marshal_failed").
			Msg("event frame marshal failed")
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.byTimer[timerID]))
	for s := range h.byTimer[timerID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if s.push(data) {
			metrics.WSPushedTotal.WithLabelValues(string(env.Type)).Inc()
		}
	}
}

// closeAll tears down every session, for shutdown.
func (h *Hub) closeAll() {
	h.mu.RLock()
	all := make([]*Session, 0)
	for _, sessions := range h.byTimer {
		for s := range sessions {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range all {
		s.close()
	}
}
