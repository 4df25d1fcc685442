package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
	"github.com/SeongJinSong/kb-echotimer/internal/ratelimit"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// opTimeout bounds the store and bus work triggered by one inbound frame.
const opTimeout = 10 * time.Second

// Core is the dispatcher surface the session transport drives.
type Core interface {
	Get(ctx context.Context, timerID, userID string) (timer.View, error)
	ChangeTarget(ctx context.Context, timerID string, newTarget time.Time, requesterID string) (timer.View, error)
	SaveTimestamp(ctx context.Context, timerID, userID string, target time.Time, meta map[string]string) (timer.TimestampMark, error)
	ForceComplete(ctx context.Context, timerID, requesterID string) (timer.View, error)
	NotifyJoined(ctx context.Context, timerID, userID string)
	NotifyLeft(ctx context.Context, timerID, userID string)
	OnSharedAccess(ctx context.Context, timerID, accessedUserID, ownerID string)
}

// Presence is the connection-lifecycle surface of the presence index.
type Presence interface {
	RecordConnection(ctx context.Context, timerID, userID, serverID, sessionID string) error
	RemoveConnection(ctx context.Context, sessionID string) error
	Heartbeat(ctx context.Context, sessionID string) error
}

// Handler upgrades /ws requests and runs the frame protocol.
type Handler struct {
	serverID string
	core     Core
	presence Presence
	hub      *Hub
	limiter  *ratelimit.SessionLimiter
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler wires the session transport.
func NewHandler(serverID string, core Core, presence Presence, hub *Hub, limiter *ratelimit.SessionLimiter) *Handler {
	return &Handler{
		serverID: serverID,
		core:     core,
		presence: presence,
		hub:      hub,
		limiter:  limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Timers are shared by link; cross-origin pages are the
			// normal case, not an attack.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.WithComponent("ws"),
	}
}

// Shutdown closes every live session.
func (h *Handler) Shutdown() {
	h.hub.closeAll()
}

// ServeHTTP upgrades the connection and starts the pumps. The session's
// user identity comes from the X-User-Id header, or is derived from the
// session id for anonymous clients.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn().Err(err).
			Str("client_ip", ratelimit.GetClientIP(r)).
			Str(log.FieldEvent, "ws.upgrade_failed").
			Msg("websocket upgrade failed")
		return
	}

	sessionID := timer.NewID()
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		userID = timer.DeriveUserID(sessionID)
	}

	s := &Session{
		id:     sessionID,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		h:      h,
		logger: h.logger.With().
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldUserID, userID).
			Logger(),
	}

	metrics.WSSessions.Inc()
	s.logger.Info().
		Str("client_ip", ratelimit.GetClientIP(r)).
		Str(log.FieldEvent, "ws.session_opened").
		Msg("session opened")

	go s.writePump()
	go s.readPump(context.Background())
}

func (h *Handler) handleFrame(ctx context.Context, s *Session, data []byte) {
	if !h.limiter.Allow(s.id) {
		metrics.WSDroppedTotal.WithLabelValues("rate_limited").Inc()
		s.logger.Warn().
			Str(log.FieldEvent, "ws.rate_limited").
			Msg("inbound frame rate limited")
		return
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		metrics.WSDroppedTotal.WithLabelValues("bad_frame").Inc()
		s.logger.Warn().Err(err).
			Str(log.FieldEvent, "ws.bad_frame").
			Msg("undecodable frame")
		return
	}
	dest, err := ParseDestination(frame.Destination)
	if err != nil {
		metrics.WSDroppedTotal.WithLabelValues("bad_frame").Inc()
		s.logger.Warn().Err(err).
			Str(log.FieldEvent, "ws.bad_frame").
			Msg("bad destination")
		return
	}

	switch frame.Type {
	case FrameSubscribe:
		metrics.WSInboundTotal.WithLabelValues("subscribe").Inc()
		h.handleSubscribe(ctx, s, dest.TimerID)
	case FrameSend:
		metrics.WSInboundTotal.WithLabelValues("send").Inc()
		h.handleSend(ctx, s, dest, frame.Payload)
	default:
		metrics.WSInboundTotal.WithLabelValues("unknown").Inc()
		s.logger.Warn().
			Str("frame_type", frame.Type).
			Str(log.FieldEvent, "ws.unknown_frame").
			Msg("unknown frame type")
	}
}

// handleSubscribe binds the session to a timer. Subscribing again to the
// same timer is a no-op so USER_JOINED fires exactly once per subscription;
// subscribing to a different timer replaces the old binding.
func (h *Handler) handleSubscribe(ctx context.Context, s *Session, timerID string) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	view, err := h.core.Get(opCtx, timerID, s.userID)
	if err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldTimerID, timerID).
			Str(log.FieldEvent, "ws.subscribe_rejected").
			Msg("subscribe rejected")
		return
	}

	if prev := s.subscription(); prev == timerID {
		return
	} else if prev != "" {
		h.unsubscribe(opCtx, s, prev)
	}

	if err := h.presence.RecordConnection(opCtx, timerID, s.userID, h.serverID, s.id); err != nil {
		// The local subscription still works; only cross-server
		// relevance filtering degrades until the next heartbeat.
		s.logger.Error().Err(err).
			Str(log.FieldTimerID, timerID).
			Str(log.FieldEvent, "ws.presence_record_failed").
			Msg("presence record failed")
	}
	s.setSubscription(timerID)
	h.hub.add(timerID, s)

	h.core.NotifyJoined(opCtx, timerID, s.userID)
	if view.Role == timer.RoleViewer {
		h.core.OnSharedAccess(opCtx, timerID, s.userID, view.OwnerID)
	}

	s.logger.Info().
		Str(log.FieldTimerID, timerID).
		Str("role", string(view.Role)).
		Str(log.FieldEvent, "ws.subscribed").
		Msg("session subscribed")
}

func (h *Handler) unsubscribe(ctx context.Context, s *Session, timerID string) {
	h.hub.remove(timerID, s)
	if err := h.presence.RemoveConnection(ctx, s.id); err != nil {
		s.logger.Error().Err(err).
			Str(log.FieldTimerID, timerID).
			Str(log.FieldEvent, "ws.presence_remove_failed").
			Msg("presence remove failed; TTL decay will catch up")
	}
	h.core.NotifyLeft(ctx, timerID, s.userID)
	s.setSubscription("")
}

// handleSend executes an action frame. Failures are logged, not answered:
// the protocol has no reply channel and clients observe outcomes through
// the events they are subscribed to.
func (h *Handler) handleSend(ctx context.Context, s *Session, dest Destination, payload json.RawMessage) {
	if dest.Action == "" {
		metrics.WSDroppedTotal.WithLabelValues("bad_frame").Inc()
		s.logger.Warn().
			Str(log.FieldTimerID, dest.TimerID).
			Str(log.FieldEvent, "ws.bad_frame").
			Msg("send frame without action")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var err error
	switch dest.Action {
	case ActionSave:
		var p savePayload
		if err = json.Unmarshal(payload, &p); err == nil {
			_, err = h.core.SaveTimestamp(opCtx, dest.TimerID, s.userID, p.TargetTime, p.Metadata)
		}
	case ActionChangeTarget:
		var p changeTargetPayload
		if err = json.Unmarshal(payload, &p); err == nil {
			_, err = h.core.ChangeTarget(opCtx, dest.TimerID, p.NewTargetTime, s.userID)
		}
	case ActionComplete:
		_, err = h.core.ForceComplete(opCtx, dest.TimerID, s.userID)
	}
	if err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldTimerID, dest.TimerID).
			Str("action", dest.Action).
			Str(log.FieldEvent, "ws.action_failed").
			Msg("session action failed")
	}
}

// heartbeat refreshes the layered presence TTLs for a live session.
func (h *Handler) heartbeat(ctx context.Context, s *Session) {
	if s.subscription() == "" {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := h.presence.Heartbeat(opCtx, s.id); err != nil {
		s.logger.Debug().Err(err).
			Str(log.FieldEvent, "ws.heartbeat_failed").
			Msg("presence heartbeat failed")
	}
}

// disconnect runs the teardown side effects exactly once per session, from
// the read pump's exit path.
func (h *Handler) disconnect(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if timerID := s.subscription(); timerID != "" {
		h.unsubscribe(ctx, s, timerID)
	}
	h.limiter.Remove(s.id)
	metrics.WSSessions.Dec()
	s.logger.Info().
		Str(log.FieldEvent, "ws.session_closed").
		Msg("session closed")
}
