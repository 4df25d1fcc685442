// Package api provides the HTTP surface of the timer service: the REST
// resources, the monitoring and debug endpoints, the probe routes, and the
// websocket mount.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/SeongJinSong/kb-echotimer/internal/api/middleware"
	"github.com/SeongJinSong/kb-echotimer/internal/config"
	"github.com/SeongJinSong/kb-echotimer/internal/health"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/monitor"
	"github.com/SeongJinSong/kb-echotimer/internal/persistence"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// TimerService is the slice of the core the REST handlers call.
type TimerService interface {
	Create(ctx context.Context, targetSeconds int64, ownerID string) (timer.View, error)
	Get(ctx context.Context, timerID, userID string) (timer.View, error)
	GetByShareToken(ctx context.Context, token, userID string) (timer.View, error)
	ChangeTarget(ctx context.Context, timerID string, newTarget time.Time, requesterID string) (timer.View, error)
	SaveTimestamp(ctx context.Context, timerID, userID string, target time.Time, meta map[string]string) (timer.TimestampMark, error)
	ForceComplete(ctx context.Context, timerID, requesterID string) (timer.View, error)
	History(ctx context.Context, timerID string) ([]timer.TimestampMark, error)
	UserHistory(ctx context.Context, timerID, userID string) ([]timer.TimestampMark, error)
}

// Monitoring exposes the reconciliation monitor to the HTTP layer.
type Monitoring interface {
	DetectOnce(ctx context.Context) ([]monitor.Missed, error)
	Stats(ctx context.Context) (monitor.Stats, error)
}

// PresenceDebug is the slice of the presence index the debug endpoints use.
type PresenceDebug interface {
	OnlineCount(ctx context.Context, timerID string) (int64, error)
	Members(ctx context.Context, timerID string) ([]string, error)
	RemoveUser(ctx context.Context, timerID, userID string) error
	CleanupZombies(ctx context.Context) (int, error)
}

// EventLog reads back broadcast events for the debug surface.
type EventLog interface {
	FindByTimer(ctx context.Context, timerID string, limit int64) ([]persistence.EventRecord, error)
}

// Server owns the HTTP routing. It holds no request state; everything
// lives in the services it fronts.
type Server struct {
	cfg      config.AppConfig
	timers   TimerService
	monitor  Monitoring
	presence PresenceDebug
	events   EventLog
	rdb      *redis.Client
	health   *health.Manager
	ws       http.Handler
	logger   zerolog.Logger
}

// NewServer wires the HTTP layer. ws may be nil in tests that only
// exercise the REST surface.
func NewServer(
	cfg config.AppConfig,
	timers TimerService,
	mon Monitoring,
	presence PresenceDebug,
	events EventLog,
	rdb *redis.Client,
	healthMgr *health.Manager,
	ws http.Handler,
) *Server {
	return &Server{
		cfg:      cfg,
		timers:   timers,
		monitor:  mon,
		presence: presence,
		events:   events,
		rdb:      rdb,
		health:   healthMgr,
		ws:       ws,
		logger:   log.WithComponent("api"),
	}
}

// Router builds the chi router with the canonical middleware stack and
// every route the service serves.
func (s *Server) Router() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		AllowedOrigins:     s.cfg.HTTP.AllowedOrigins,
		TracingService:     "echotimer-api",
		RateLimitPerMinute: s.cfg.HTTP.RateLimitPerMinute,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)

	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/timers", func(r chi.Router) {
			r.Post("/", s.handleCreateTimer)
			r.Get("/shared/{shareToken}", s.handleGetSharedTimer)
			r.Route("/{timerID}", func(r chi.Router) {
				r.Get("/", s.handleGetTimer)
				r.Put("/target-time", s.handleChangeTarget)
				r.Post("/timestamps", s.handleSaveTimestamp)
				r.Get("/history", s.handleHistory)
				r.Get("/users/{userID}/history", s.handleUserHistory)
				r.Post("/complete", s.handleCompleteTimer)
			})
		})

		r.Route("/monitoring", func(r chi.Router) {
			r.Get("/completion-stats", s.handleCompletionStats)
			r.Post("/detect-missed-timers", s.handleDetectMissedTimers)
		})

		r.Route("/debug", func(r chi.Router) {
			r.Get("/redis/keys", s.handleRedisKeys)
			r.Get("/redis/timers/{timerID}/users", s.handleTimerUsers)
			r.Delete("/redis/timers/{timerID}/users/{userID}", s.handleRemoveTimerUser)
			r.Post("/redis/cleanup-zombies", s.handleCleanupZombies)
			r.Get("/timers/{timerID}/events", s.handleTimerEvents)
		})
	})

	return r
}
