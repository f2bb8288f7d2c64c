package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/office-hours-scheduling/internal/api"
	"github.com/hackgods/office-hours-scheduling/internal/appointment"
	"github.com/hackgods/office-hours-scheduling/internal/availability"
	"github.com/hackgods/office-hours-scheduling/internal/config"
	"github.com/hackgods/office-hours-scheduling/internal/db"
	"github.com/hackgods/office-hours-scheduling/internal/logging"
	"github.com/hackgods/office-hours-scheduling/internal/metrics"
	"github.com/hackgods/office-hours-scheduling/internal/notify"
	redisclient "github.com/hackgods/office-hours-scheduling/internal/redis"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api-server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "api-server"})
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("campus_tz", cfg.CampusLocation.String()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns, AppName: "api-server"})
	cancelPg()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	migrateCtx, cancelMigrate := context.WithTimeout(rootCtx, 30*time.Second)
	err = db.Migrate(migrateCtx, pgPool)
	cancelMigrate()
	if err != nil {
		return err
	}

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	avail := availability.NewCachedStore(
		availability.NewPgStore(pgPool),
		rdb,
		cfg.AvailabilityCacheTTL,
		logging.Component(logger, "availability_cache"),
	)

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		avail,
		redisclient.NewRedisScheduleLocker(rdb, cfg.LockTTL, cfg.LockWait),
		notify.NewOutboxNotifier(pgPool),
		appointment.Options{
			Location: cfg.CampusLocation,
			Metrics:  m,
			Logger:   logger,
		},
	)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Health:   api.NewHealthHandler(api.PostgresPing(pgPool), api.RedisPing(rdb), cfg.Env, version),
		Gatherer: reg,
		Logger:   logging.Component(logger, "http"),
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var listenErr error
	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case listenErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("api-server stopped")
	if listenErr != nil {
		return fmt.Errorf("http server: %w", listenErr)
	}
	return nil
}
