package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/dialysis-scheduling/internal/appointment"
	"github.com/hackgods/dialysis-scheduling/internal/config"
	"github.com/hackgods/dialysis-scheduling/internal/events"
	"github.com/hackgods/dialysis-scheduling/internal/notify"
	"github.com/hackgods/dialysis-scheduling/internal/observability"
	redisclient "github.com/hackgods/dialysis-scheduling/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := observability.InitLogger("reconcile-worker", "prod", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := observability.InitLogger("reconcile-worker", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("store", cfg.StoreDriver).
		Dur("interval", cfg.WorkerInterval).
		Str("in_progress_policy", cfg.InProgressPolicy).
		Msg("reconcile-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := appointment.OpenRepository(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("store connection error")
	}
	defer closeRepo()
	logger.Info().Str("store", cfg.StoreDriver).Msg("connected to store")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	opts := []appointment.Option{appointment.WithLogger(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("kafka publisher error")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing kafka publisher")
			}
		}()
		opts = append(opts, appointment.WithPublisher(publisher))
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaEventsTopic).Msg("publishing events to Kafka")
	}

	notifier, err := newNotifier(cfg, repo, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier setup error")
	}

	svc := appointment.NewService(repo, notifier, cfg, opts...)
	locker := redisclient.NewRedisLocker(rdb, cfg.PassLockTTL)

	// Run once at startup
	runOnce(rootCtx, cfg, svc, locker, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, cfg, svc, locker, logger)
		}
	}
}

func newNotifier(cfg config.Config, tokens notify.TokenSource, logger zerolog.Logger) (appointment.Notifier, error) {
	if cfg.PushEndpoint == "" {
		logger.Warn().Msg("PUSH_ENDPOINT not set, notifications are only logged")
		return notify.NewLogSender(logger), nil
	}
	return notify.NewPushSender(cfg.PushEndpoint, cfg.PushServerKey, tokens, logger)
}

func runOnce(ctx context.Context, cfg config.Config, svc *appointment.Service, locker redisclient.Locker, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, cfg.PassTimeout)
	defer cancel()

	err := locker.WithLock(runCtx, redisclient.PassLockKey, func(lockCtx context.Context) error {
		report, err := svc.ReconcileAppointments(lockCtx)
		if err != nil {
			return err
		}
		for _, res := range report.Results {
			if res.Err != nil {
				logger.Warn().
					Err(res.Err).
					Str("appointment_id", res.AppointmentID.String()).
					Str("outcome", string(res.Outcome)).
					Msg("appointment not reconciled, will retry next pass")
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		logger.Info().Msg("another worker holds the pass lock, skipping this pass")
	case err != nil:
		logger.Error().Err(err).Msg("reconcile pass error")
	}
}
