package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pactsign-backend/internal/app"
	"github.com/angelmondragon/pactsign-backend/internal/cron"
	"github.com/angelmondragon/pactsign-backend/pkg/metrics"
)

func main() {
	rt := app.MustBoot("cron-worker")
	cfg, logg := rt.Config, rt.Logger
	boot := context.Background()

	contractsService, err := rt.Contracts()
	if err != nil {
		rt.Fatal(boot, "failed to create contracts service", err)
	}
	jobs, err := buildJobs(cfg.Cron, logg, contractsService, rt.OutboxRepository())
	if err != nil {
		rt.Fatal(boot, "failed to build cron jobs", err)
	}
	lock, err := cron.NewRedisLock(rt.Redis, rt.Redis.LockKey, cfg.Cron.LockTTL)
	if err != nil {
		rt.Fatal(boot, "failed to create cron lock", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Schedule: cron.NewSchedule(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.TickInterval,
	})
	if err != nil {
		rt.Fatal(boot, "failed to create cron scheduler", err)
	}

	ctx, stop := rt.SignalContext(map[string]any{"jobs": len(jobs)})
	defer stop()
	defer rt.Shutdown(context.Background())

	go func() {
		if err := metrics.Serve(ctx, ":"+cfg.App.MetricsPort, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics endpoint stopped", err)
		}
	}()

	logg.Info(ctx, "cron scheduler running")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		rt.Fatal(ctx, "cron scheduler exited", err)
	}
	logg.Info(ctx, "cron scheduler stopped")
}
