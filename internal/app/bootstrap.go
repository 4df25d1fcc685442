package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/SeongJinSong/kb-echotimer/internal/api"
	"github.com/SeongJinSong/kb-echotimer/internal/bus"
	"github.com/SeongJinSong/kb-echotimer/internal/bus/kafka"
	"github.com/SeongJinSong/kb-echotimer/internal/config"
	"github.com/SeongJinSong/kb-echotimer/internal/core"
	"github.com/SeongJinSong/kb-echotimer/internal/health"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/monitor"
	"github.com/SeongJinSong/kb-echotimer/internal/persistence"
	"github.com/SeongJinSong/kb-echotimer/internal/presence"
	"github.com/SeongJinSong/kb-echotimer/internal/ratelimit"
	"github.com/SeongJinSong/kb-echotimer/internal/scheduler"
	"github.com/SeongJinSong/kb-echotimer/internal/store"
	"github.com/SeongJinSong/kb-echotimer/internal/telemetry"
	"github.com/SeongJinSong/kb-echotimer/internal/ws"
)

// Container holds every long-lived component of a running instance, wired
// and ready for App.Run.
type Container struct {
	Config config.AppConfig

	Redis *redis.Client
	Mongo *mongo.Database

	Core      *core.Service
	Scheduler *scheduler.Scheduler
	Consumer  *kafka.Consumer
	Monitor   *monitor.Monitor
	Sessions  *ws.Handler
	Health    *health.Manager
	Manager   *Manager

	holder *config.ConfigHolder
}

// Build connects the backing stores and wires every component in
// dependency order. It fails fast: on error the caller is expected to
// exit, and per-resource constructors already clean up after themselves.
// holder may be nil when the service runs without a config file.
func Build(ctx context.Context, cfg config.AppConfig, holder *config.ConfigHolder) (*Container, error) {
	logger := log.WithComponent("app")

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "echotimer",
		ServiceVersion: cfg.Version,
		ServerID:       cfg.ServerID,
		ExporterType:   cfg.OTel.Exporter,
		Endpoint:       cfg.OTel.Endpoint,
		SamplingRate:   cfg.OTel.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	rdb, err := store.New(store.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log.WithComponent("store"))
	if err != nil {
		return nil, err
	}
	store.EnableKeyExpiryNotifications(ctx, rdb, log.WithComponent("store"))

	db, err := persistence.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return nil, err
	}
	if err := persistence.EnsureIndexes(ctx, db); err != nil {
		return nil, fmt.Errorf("index bootstrap: %w", err)
	}

	timers := persistence.NewTimerRepo(db)
	marks := persistence.NewMarkRepo(db)
	completionLogs := persistence.NewCompletionLogRepo(db)
	eventLogs := persistence.NewEventLogRepo(db)

	idx := presence.NewIndex(rdb)

	producer, err := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.ServerID)
	if err != nil {
		return nil, err
	}

	scheduleBus := bus.NewScheduleBus(0)
	completionBus := bus.NewCompletionBus(0)

	svc := core.NewService(cfg.ServerID, timers, marks, eventLogs, idx, producer, scheduleBus, completionBus)

	hub := ws.NewHub()
	svc.SetBroadcaster(hub)
	limiter := ratelimit.NewSessionLimiter(cfg.WS.MessageRate, cfg.WS.MessageBurst)
	sessions := ws.NewHandler(cfg.ServerID, svc, idx, hub, limiter)

	sched := scheduler.New(rdb, cfg.ServerID, timers, completionLogs, scheduleBus, completionBus)

	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.ServerID, svc.HandleBusEvent)
	if err != nil {
		return nil, err
	}

	mon := monitor.New(timers, completionLogs, cfg.Monitor.Interval, cfg.Monitor.Window)

	healthMgr := health.NewManager(cfg.Version, cfg.ServerID)
	healthMgr.RegisterChecker(health.NewPingChecker("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	healthMgr.RegisterChecker(health.NewPingChecker("mongodb", func(ctx context.Context) error {
		return db.Client().Ping(ctx, nil)
	}))
	healthMgr.RegisterChecker(health.NewPingChecker("kafka", producer.Ping))

	srv := api.NewServer(cfg, svc, mon, idx, eventLogs, rdb, healthMgr, sessions)

	mgr, err := NewManager(cfg.Listen, cfg.MetricsListen, srv.Router(), promhttp.Handler())
	if err != nil {
		return nil, err
	}

	// Registration order is teardown order reversed: sessions drain first,
	// the stores close last.
	mgr.RegisterShutdownHook("telemetry", provider.Shutdown)
	mgr.RegisterShutdownHook("redis", func(context.Context) error {
		return rdb.Close()
	})
	mgr.RegisterShutdownHook("mongodb", func(ctx context.Context) error {
		return persistence.Disconnect(ctx, db)
	})
	mgr.RegisterShutdownHook("kafka-producer", func(context.Context) error {
		producer.Close()
		return nil
	})
	mgr.RegisterShutdownHook("kafka-consumer", func(context.Context) error {
		consumer.Close()
		return nil
	})
	mgr.RegisterShutdownHook("sessions", func(ctx context.Context) error {
		sessions.Shutdown()
		return idx.CleanupServer(ctx, cfg.ServerID)
	})

	healthMgr.SetReady()

	logger.Info().
		Str(log.FieldServerID, cfg.ServerID).
		Str(log.FieldEvent, "app.wired").
		Msg("all components wired")

	return &Container{
		Config:    cfg,
		Redis:     rdb,
		Mongo:     db,
		Core:      svc,
		Scheduler: sched,
		Consumer:  consumer,
		Monitor:   mon,
		Sessions:  sessions,
		Health:    healthMgr,
		Manager:   mgr,
		holder:    holder,
	}, nil
}
