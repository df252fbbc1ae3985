package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/samber/do/v2"
	"go.uber.org/zap"

	"mindlink/internal/analytics"
	"mindlink/internal/api"
	"mindlink/internal/config"
	"mindlink/internal/database"
	"mindlink/internal/hub"
	"mindlink/internal/router"
	"mindlink/internal/websocket"
)

// Application owns the component graph and its lifecycle.
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	injector   do.Injector
	store      database.Backend
	cache      analytics.Cache
	limiter    *router.RateLimiter
	hub        *hub.Hub
	sockets    *websocket.Handler
	httpServer *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
}

// NewApplication builds every component: store, cache, sessions, router,
// hub, transport, API.
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	injector := setupDI(cfg, logger)
	store, err := do.Invoke[database.Backend](injector)
	if err != nil {
		return nil, err
	}
	cache, err := do.Invoke[analytics.Cache](injector)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	server, err := do.Invoke[*api.Server](injector)
	if err != nil {
		_ = cache.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to build API server: %w", err)
	}

	return &Application{
		config:   cfg,
		logger:   logger,
		injector: injector,
		store:    store,
		cache:    cache,
		limiter:  do.MustInvoke[*router.RateLimiter](injector),
		hub:      do.MustInvoke[*hub.Hub](injector),
		sockets:  do.MustInvoke[*websocket.Handler](injector),
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      server,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

// Store exposes the backend so callers can seed platform-owned rows.
func (app *Application) Store() database.Backend {
	return app.store
}

// Start launches background workers, then accepts connections.
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	runCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		_ = listener.Close()
		return fmt.Errorf("failed to start hub: %w", err)
	}
	app.limiter.Start(runCtx, app.config.RateLimit.SweepInterval)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		cancel()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("mindlink started", zap.String("addr", app.GetAddr()))
		return nil
	case <-ctx.Done():
		_ = app.hub.Stop()
		cancel()
		return ctx.Err()
	}
}

// Stop shuts down in reverse order: HTTP, sockets, hub, cache, store.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down mindlink")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	if err := app.sockets.Shutdown(ctx); err != nil {
		app.logger.Warn("websocket shutdown error", zap.Error(err))
	}
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Warn("hub shutdown error", zap.Error(err))
	}
	if app.cancel != nil {
		app.cancel()
	}
	if err := app.cache.Close(); err != nil {
		app.logger.Warn("cache shutdown error", zap.Error(err))
	}
	if err := app.store.Close(); err != nil {
		app.logger.Warn("store shutdown error", zap.Error(err))
	}

	app.logger.Info("mindlink shutdown complete")
	return nil
}

// GetAddr returns the bound address once started, else the configured one.
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
