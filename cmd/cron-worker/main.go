package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mostafizurRahaman/donation-app-server/internal/app"
	"github.com/mostafizurRahaman/donation-app-server/internal/cron"
	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/metrics"
)

const (
	serviceKind          = "cron-worker"
	outboxRetentionEvery = 24 * time.Hour
)

func main() {
	cfg, logg, err := app.LoadConfig(serviceKind)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	rt, err := app.Start(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer rt.Close()

	redisClient, err := rt.ConnectRedis(ctx)
	if err != nil {
		return err
	}

	services, err := app.Build(ctx, app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         rt.DB,
		Redis:      redisClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	jobs, err := buildRegistry(cfg, logg, services)
	if err != nil {
		return err
	}
	worker, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Scheduler.Interval,
	})
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"jobs":        jobs.Names(),
	})
	logg.Info(ctx, "starting cron worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildRegistry lists every sweep in run order. All but outbox retention
// fire on each scheduler tick.
func buildRegistry(cfg *config.Config, logg *logger.Logger, services *app.Services) (*cron.Registry, error) {
	scheduledJob, err := cron.NewScheduledDonationsJob(logg, services.Executor)
	if err != nil {
		return nil, err
	}
	roundUpJob, err := cron.NewRoundUpBatchesJob(logg, services.RoundUps)
	if err != nil {
		return nil, err
	}
	recoveryJob, err := cron.NewLockRecoveryJob(logg, services.Recovery)
	if err != nil {
		return nil, err
	}
	batchRecoveryJob, err := cron.NewRoundUpRecoveryJob(logg, services.RoundUpRecovery)
	if err != nil {
		return nil, err
	}
	reentryJob, err := cron.NewPipelineReentryJob(cron.PipelineReentryJobParams{
		Logger:    logg,
		Donations: services.Donations,
		Pipeline:  services.Pipeline,
		Grace:     cfg.Scheduler.PipelineGrace,
		BatchSize: cfg.Scheduler.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:    logg,
		Events:    services.OutboxRepo,
		Retention: cfg.Outbox.Retention,
		BatchSize: cfg.Outbox.PruneBatchSize,
	})
	if err != nil {
		return nil, err
	}

	jobs := cron.NewRegistry(scheduledJob, roundUpJob, recoveryJob, batchRecoveryJob, reentryJob)
	jobs.Register(retentionJob, outboxRetentionEvery)
	return jobs, nil
}
