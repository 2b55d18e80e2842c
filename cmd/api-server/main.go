package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/dialysis-scheduling/internal/api"
	"github.com/hackgods/dialysis-scheduling/internal/appointment"
	"github.com/hackgods/dialysis-scheduling/internal/config"
	"github.com/hackgods/dialysis-scheduling/internal/observability"
	redisclient "github.com/hackgods/dialysis-scheduling/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := observability.InitLogger("api-server", "prod", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := observability.InitLogger("api-server", cfg.Env, cfg.LogLevel)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := appointment.OpenRepository(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("store connection error")
	}
	defer closeRepo()
	logger.Info().Str("store", cfg.StoreDriver).Msg("connected to store")

	routerCfg := api.RouterConfig{
		Service: appointment.NewService(repo, nil, cfg, appointment.WithLogger(logger)),
		Store:   repo,
		Env:     cfg.Env,
		Version: version,
		Logger:  logger,
	}

	// Redis is only reported on by the readiness probe
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, readiness will not report it")
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		routerCfg.Redis = api.RedisPinger{Client: rdb}
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
