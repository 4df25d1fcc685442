package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
)

const (
	// writeWait bounds one frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before the read
	// deadline kills it; pings go out at 90% of it.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames; subscribe/send bodies are tiny.
	maxMessageSize = 4 << 10

	// sendBufferSize is the per-session outbound queue. A full queue marks
	// the client as too slow and the session is dropped.
	sendBufferSize = 64
)

// Session is one live websocket connection with at most one timer
// subscription.
type Session struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	h      *Handler
	logger zerolog.Logger

	mu      sync.Mutex
	timerID string

	closeOnce sync.Once
	done      chan struct{}
}

func (s *Session) subscription() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerID
}

func (s *Session) setSubscription(timerID string) {
	s.mu.Lock()
	s.timerID = timerID
	s.mu.Unlock()
}

// push queues one outbound frame. A session that cannot drain its buffer is
// closed rather than allowed to stall the broadcast path.
func (s *Session) push(data []byte) bool {
	select {
	case <-s.done:
		return false
	case s.send <- data:
		return true
	default:
		metrics.WSDroppedTotal.WithLabelValues("slow_client").Inc()
		s.logger.Warn().
			Str(log.FieldEvent, "ws.slow_client_dropped").
			Msg("send buffer full; dropping session")
		s.close()
		return false
	}
}

// close shuts the connection down exactly once. Closing the conn unblocks
// the read pump, which runs the disconnect side effects.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// readPump owns all reads. Any inbound traffic, pongs included, refreshes
// both the read deadline and the presence heartbeat.
func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.h.disconnect(s)
		s.close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.h.heartbeat(ctx, s)
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug().Err(err).
					Str(log.FieldEvent, "ws.read_ended").
					Msg("session read ended")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.h.heartbeat(ctx, s)
		s.h.handleFrame(ctx, s, data)
	}
}

// writePump owns all writes: queued event frames and keepalive pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
