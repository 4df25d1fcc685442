// Package app is the composition root: it connects the backing stores,
// wires every component in dependency order and manages the process
// lifecycle from first listen to last connection close.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
)

// ErrNotStarted is returned by Shutdown when Start was never called.
var ErrNotStarted = errors.New("manager not started")

const (
	defaultShutdownTimeout = 30 * time.Second

	// The API server carries websocket sessions, so it gets no global
	// read/write deadlines; hijacked connections manage their own and
	// per-request bounds live in the handlers.
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	maxHeaderBytes    = 1 << 20
)

// ShutdownHook performs one cleanup step during graceful shutdown. Hooks
// run in reverse registration order, after both listeners have drained.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager owns the two HTTP listeners and the ordered teardown of
// everything Build connected.
type Manager struct {
	listen         string
	metricsListen  string
	apiHandler     http.Handler
	metricsHandler http.Handler

	apiServer     *http.Server
	metricsServer *http.Server

	shutdownTimeout time.Duration

	mu       sync.Mutex
	started  bool
	stopping bool
	hooks    []namedHook

	logger zerolog.Logger
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithShutdownTimeout overrides the bound on the whole shutdown sequence.
func WithShutdownTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.shutdownTimeout = d }
}

// NewManager wires the listeners. metricsListen may be empty to disable
// the metrics endpoint.
func NewManager(listen, metricsListen string, apiHandler, metricsHandler http.Handler, opts ...ManagerOption) (*Manager, error) {
	if apiHandler == nil {
		return nil, fmt.Errorf("api handler is required")
	}
	m := &Manager{
		listen:          listen,
		metricsListen:   metricsListen,
		apiHandler:      apiHandler,
		metricsHandler:  metricsHandler,
		shutdownTimeout: defaultShutdownTimeout,
		logger:          log.WithComponent("manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RegisterShutdownHook adds a cleanup step. Hooks run in reverse
// registration order, so register in dependency order: a resource built
// on another must be registered after it.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}

// Start brings up both listeners and blocks until the context is canceled
// or a listener fails, then runs the full shutdown sequence.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	errChan := make(chan error, 2)
	m.startMetricsServer(errChan)
	m.startAPIServer(errChan)

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).
			Str(log.FieldEvent, "app.listener_failed").
			Msg("listener failed, shutting down")
		if shutdownErr := m.Shutdown(ctx); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().
			Str(log.FieldEvent, "app.stopping").
			Msg("shutdown signal received")
		return m.Shutdown(ctx)
	}
}

func (m *Manager) startAPIServer(errChan chan<- error) {
	m.apiServer = &http.Server{
		Addr:              m.listen,
		Handler:           m.apiHandler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
	go func() {
		m.logger.Info().
			Str("addr", m.listen).
			Str(log.FieldEvent, "app.api_listening").
			Msg("api server listening")
		if err := m.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()
}

func (m *Manager) startMetricsServer(errChan chan<- error) {
	if m.metricsListen == "" || m.metricsHandler == nil {
		return
	}
	m.metricsServer = &http.Server{
		Addr:              m.metricsListen,
		Handler:           m.metricsHandler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		m.logger.Info().
			Str("addr", m.metricsListen).
			Str(log.FieldEvent, "app.metrics_listening").
			Msg("metrics server listening")
		if err := m.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()
}

// Shutdown drains the listeners and runs the hooks, newest first. It is
// bounded and detached from the caller's cancellation: teardown must
// complete even when the triggering context is already dead.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.stopping = true
	hooks := m.hooks
	m.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout)
	defer cancel()

	var errs []error
	if m.apiServer != nil {
		if err := m.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api server shutdown: %w", err))
		}
	}
	if m.metricsServer != nil {
		if err := m.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(shutdownCtx); err != nil {
			m.logger.Error().Err(err).
				Str("hook", h.name).
				Dur("duration", time.Since(start)).
				Str(log.FieldEvent, "app.hook_failed").
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", h.name).
			Dur("duration", time.Since(start)).
			Str(log.FieldEvent, "app.hook_done").
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().
		Str(log.FieldEvent, "app.stopped").
		Msg("stopped cleanly")
	return nil
}
