package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/SeongJinSong/kb-echotimer/internal/config"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
)

// App drives the long-lived loops around the Manager's listeners: the TTL
// scheduler, the completion dispatcher, the fleet consumer, the
// reconciliation monitor and the config watcher.
type App struct {
	c            *Container
	logger       zerolog.Logger
	reloadSignal os.Signal
}

// NewApp wraps a built container for running.
func NewApp(c *Container) *App {
	return &App{
		c:            c,
		logger:       log.WithComponent("app"),
		reloadSignal: syscall.SIGHUP,
	}
}

// Run blocks until the context is canceled or any subsystem fails. A
// cancel-driven stop is the normal exit and reports no error.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.c.holder != nil {
		// Best effort: the service runs fine without hot reload.
		if err := a.c.holder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).
				Str(log.FieldEvent, "config.watcher_start_failed").
				Msg("config watcher not started")
		}
		a.watchReloads(ctx, g)
	}

	g.Go(func() error { return a.c.Scheduler.Run(ctx) })
	g.Go(func() error { return a.c.Core.Run(ctx) })
	g.Go(func() error { return a.c.Consumer.Run(ctx) })
	g.Go(func() error { return a.c.Monitor.Run(ctx) })
	g.Go(func() error { return a.c.Manager.Start(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchReloads applies successful config swaps to the logger and wires the
// SIGHUP trigger for manual reloads. Component-level settings stay pinned
// until restart; only the log level takes effect live.
func (a *App) watchReloads(ctx context.Context, g *errgroup.Group) {
	applyCh := make(chan config.AppConfig, 1)
	a.c.holder.RegisterListener(applyCh)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case newCfg := <-applyCh:
				log.Configure(log.Config{Level: newCfg.LogLevel, Version: newCfg.Version})
				a.logger.Info().
					Str("level", newCfg.LogLevel).
					Str(log.FieldEvent, "config.applied").
					Msg("configuration reloaded")
			}
		}
	})

	if a.reloadSignal == nil {
		return
	}
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, a.reloadSignal)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-hup:
				a.logger.Info().
					Str("signal", a.reloadSignal.String()).
					Str(log.FieldEvent, "config.reload_signal").
					Msg("reloading configuration")
				if err := a.c.holder.Reload(ctx); err != nil {
					a.logger.Warn().Err(err).
						Str(log.FieldEvent, "config.reload_failed").
						Msg("config reload failed; keeping previous configuration")
				}
			}
		}
	})
}
