package cron

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/metrics"
)

const defaultInterval = time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	Now      func() time.Time
}

// Service wakes every Interval and runs each job whose spacing has elapsed,
// one after another. Jobs claim rows with conditional updates, so several
// workers may run side by side without a distributed lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
	lastRun  map[string]time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	s := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		metrics:  params.Metrics,
		interval: params.Interval,
		now:      params.Now,
		lastRun:  make(map[string]time.Time),
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run ticks immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.runCycle(ctx)
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle runs every due job once. A failing or panicking job does not stop
// the jobs after it.
func (s *Service) runCycle(ctx context.Context) {
	for _, sl := range s.registry.slots {
		if ctx.Err() != nil {
			return
		}
		name := sl.job.Name()
		now := s.now()
		if last, ran := s.lastRun[name]; ran && now.Sub(last) < sl.every {
			continue
		}
		s.lastRun[name] = now
		s.runJob(s.logg.WithField(ctx, "job", name), sl.job)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	start := time.Now()
	err := runGuarded(ctx, job)
	elapsed := time.Since(start)
	s.metrics.ObserveRun(job.Name(), elapsed, err)

	ctx = s.logg.WithField(ctx, "duration_ms", elapsed.Milliseconds())
	switch dump := pkgerrors.Dump(err); {
	case err == nil:
		s.logg.Debug(ctx, "cron job completed")
	case dump.Transient():
		s.logg.Warn(s.logg.WithFields(ctx, dump.Fields()), "cron job hit a transient database error, retrying next tick")
	default:
		s.logg.Error(ctx, "cron job failed", err)
	}
}

// runGuarded turns a panic inside job into an error.
func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cron job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
