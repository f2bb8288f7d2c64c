package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/office-hours-scheduling/internal/config"
	"github.com/hackgods/office-hours-scheduling/internal/db"
	"github.com/hackgods/office-hours-scheduling/internal/logging"
	"github.com/hackgods/office-hours-scheduling/internal/metrics"
	"github.com/hackgods/office-hours-scheduling/internal/notify"
	redisclient "github.com/hackgods/office-hours-scheduling/internal/redis"
)

func main() {
	tail := flag.String("tail", "", "print live notifications for this user id instead of relaying")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "notify-relay"})
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.RelayInterval).
		Int("batch_size", cfg.RelayBatchSize).
		Msg("notify-relay starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns, AppName: "notify-relay"})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	if *tail != "" {
		userID, err := uuid.Parse(*tail)
		if err != nil {
			logger.Fatal().Err(err).Str("tail", *tail).Msg("invalid user id")
		}
		if err := tailNotifications(rootCtx, rdb, userID, logger); err != nil {
			logger.Fatal().Err(err).Msg("tail failed")
		}
		return
	}

	relay := notify.NewRelay(
		notify.NewPgOutbox(pgPool),
		notify.NewRedisPublisher(rdb),
		cfg.RelayBatchSize,
		metrics.New(prometheus.DefaultRegisterer),
		logger,
	)

	if cfg.RelayMetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: net.JoinHostPort("", cfg.RelayMetricsPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	relay.Run(rootCtx, cfg.RelayInterval)
}

// tailNotifications is a debugging aid: it logs what a push gateway
// subscribed to userID's channel would receive.
func tailNotifications(ctx context.Context, rdb *redis.Client, userID uuid.UUID, logger zerolog.Logger) error {
	logger.Info().Str("channel", notify.Channel(userID)).Msg("tailing notifications")
	return notify.Tail(ctx, rdb, userID, func(n notify.Notification) error {
		logger.Info().
			Str("type", string(n.Type)).
			Str("appointment_id", n.AppointmentID.String()).
			Time("created_at", n.CreatedAt).
			Msg(n.Message)
		return nil
	}, func(payload string, err error) {
		logger.Warn().Err(err).Str("payload", payload).Msg("undecodable notification")
	})
}
