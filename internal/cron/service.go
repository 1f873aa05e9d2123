package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	"github.com/angelmondragon/pactsign-backend/pkg/metrics"
)

const defaultInterval = time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Schedule *Schedule
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	Now      func() time.Time
}

// Service wakes every Interval and runs each due job under its lock, so a
// job runs on at most one instance at a time.
type Service struct {
	logg     *logger.Logger
	schedule *Schedule
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	s := &Service{
		logg:     params.Logger,
		schedule: params.Schedule,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
		now:      params.Now,
	}
	if s.schedule == nil {
		s.schedule = NewSchedule()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run ticks once immediately, then every interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"jobs":        s.schedule.Len(),
		"interval_ms": s.interval.Milliseconds(),
	}), "cron service started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.tick(ctx); err != nil {
			s.logg.Error(ctx, "cron tick had failures", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick returns only lock errors. Job failures are logged and counted.
func (s *Service) tick(ctx context.Context) error {
	var errs error
	for _, job := range s.schedule.Claim(s.now()) {
		errs = multierr.Append(errs, s.runExclusive(ctx, job))
	}
	return errs
}

func (s *Service) runExclusive(ctx context.Context, job Job) error {
	name := job.Name()
	ctx = s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})

	lease, acquired, err := s.lock.Acquire(ctx, name)
	if err != nil {
		s.schedule.Release(name)
		return fmt.Errorf("lock %s: %w", name, err)
	}
	if !acquired {
		s.logg.Info(ctx, "job held by another instance; skipping")
		s.metrics.IncSkipped(name)
		return nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "release cron lock", err)
		}
	}()

	s.logg.Info(ctx, "job start")
	start := time.Now()
	runErr := job.Run(ctx)
	elapsed := time.Since(start)
	s.metrics.ObserveDuration(name, elapsed)

	ctx = s.logg.WithField(ctx, "duration_ms", elapsed.Milliseconds())
	if runErr != nil {
		s.metrics.IncFailure(name)
		s.logg.Error(ctx, "job failed", runErr)
		return nil
	}
	s.metrics.IncSuccess(name)
	s.logg.Info(ctx, "job completed")
	return nil
}
