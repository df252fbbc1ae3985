package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
	"go.uber.org/zap"

	"mindlink/internal/analytics"
	"mindlink/internal/api"
	"mindlink/internal/auth"
	"mindlink/internal/config"
	"mindlink/internal/database"
	"mindlink/internal/hub"
	"mindlink/internal/instrument"
	"mindlink/internal/room"
	"mindlink/internal/router"
	"mindlink/internal/session"
	"mindlink/internal/websocket"
)

const storeInitTimeout = 15 * time.Second

// setupDI registers every component. Providers are lazy; nothing is built
// until the first invoke.
func setupDI(cfg *config.Config, logger *zap.Logger) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)
	do.ProvideValue(injector, instrument.New())
	do.ProvideValue(injector, room.NewRegistry())

	do.Provide(injector, func(i do.Injector) (database.Backend, error) {
		ctx, cancel := context.WithTimeout(context.Background(), storeInitTimeout)
		defer cancel()
		store, err := database.Open(ctx, cfg.StoreConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return store, nil
	})

	do.Provide(injector, func(i do.Injector) (analytics.Cache, error) {
		if cfg.Redis.Addr == "" {
			return analytics.NoopCache{}, nil
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info("metrics cache enabled", zap.String("redis_addr", cfg.Redis.Addr))
		return analytics.NewRedisCache(client, cfg.Analytics.CacheTTL), nil
	})

	do.Provide(injector, func(i do.Injector) (*session.Manager, error) {
		store := do.MustInvoke[database.Backend](i)
		return session.NewManager(store, logger), nil
	})

	do.Provide(injector, func(i do.Injector) (*auth.Authenticator, error) {
		return auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, logger), nil
	})

	do.Provide(injector, func(i do.Injector) (*router.RateLimiter, error) {
		return router.NewRateLimiter(), nil
	})

	do.Provide(injector, func(i do.Injector) (*router.Router, error) {
		limiter := do.MustInvoke[*router.RateLimiter](i)
		metrics := do.MustInvoke[*instrument.Metrics](i)
		return router.NewRouter(limiter, router.DefaultPolicy(), logger, metrics), nil
	})

	do.Provide(injector, func(i do.Injector) (*hub.Hub, error) {
		h := hub.NewHub(
			do.MustInvoke[*room.Registry](i),
			do.MustInvoke[*session.Manager](i),
			do.MustInvoke[database.Backend](i),
			hub.Config{
				PersistWorkers: cfg.Hub.PersistWorkers,
				QueueSize:      cfg.Hub.QueueSize,
				PersistTimeout: cfg.Hub.PersistTimeout,
			},
			logger,
			do.MustInvoke[*instrument.Metrics](i),
		)
		h.Register(do.MustInvoke[*router.Router](i))
		return h, nil
	})

	do.Provide(injector, func(i do.Injector) (*analytics.Aggregator, error) {
		return analytics.NewAggregator(
			do.MustInvoke[database.Backend](i),
			do.MustInvoke[analytics.Cache](i),
			analytics.Config{Timeout: cfg.Analytics.Timeout, BucketSize: cfg.Analytics.BucketSize},
			logger,
			do.MustInvoke[*instrument.Metrics](i),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*websocket.Handler, error) {
		// The hub registers its handlers on the router; resolve it first.
		do.MustInvoke[*hub.Hub](i)
		return websocket.NewHandler(
			do.MustInvoke[*auth.Authenticator](i),
			do.MustInvoke[*router.Router](i),
			websocket.Config{
				PingInterval:   cfg.WebSocket.PingInterval,
				ReadTimeout:    cfg.WebSocket.ReadTimeout,
				WriteTimeout:   cfg.WebSocket.WriteTimeout,
				BufferSize:     cfg.WebSocket.BufferSize,
				AllowedOrigins: cfg.WebSocket.AllowedOrigins,
			},
			logger,
			do.MustInvoke[*instrument.Metrics](i),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*api.Server, error) {
		return api.NewServer(
			do.MustInvoke[database.Backend](i),
			do.MustInvoke[*room.Registry](i),
			do.MustInvoke[*session.Manager](i),
			do.MustInvoke[*analytics.Aggregator](i),
			do.MustInvoke[*auth.Authenticator](i),
			do.MustInvoke[*websocket.Handler](i),
			do.MustInvoke[*instrument.Metrics](i),
			logger,
		), nil
	})

	return injector
}
