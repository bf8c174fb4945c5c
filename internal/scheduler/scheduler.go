// Package scheduler runs named jobs on cron schedules. A job that is still
// running when its next tick fires is skipped for that tick.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/portfolio-valuation/internal/logging"
)

// Job is a unit of scheduled work
type Job func(ctx context.Context) error

// Scheduler wraps a seconds-resolution cron in UTC
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	baseCtx context.Context
}

// New creates a scheduler whose jobs run with baseCtx
func New(baseCtx context.Context, logger *logging.Logger) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add registers job under name on a six-field cron schedule
func (s *Scheduler) Add(name, schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		logger := s.logger.WithField("job", name)
		ctx := logging.WithLogger(s.baseCtx, logger)
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		logger.Info("Scheduled job started")
		if err := job(ctx); err != nil {
			logger.WithError(err).WithField("duration", time.Since(start).String()).Error("Scheduled job failed")
			return
		}
		logger.WithField("duration", time.Since(start).String()).Info("Scheduled job finished")
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}
	return nil
}

// Start begins firing jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.WithField("next", e.Next.Format(time.RFC3339)).Info("Scheduled job registered")
	}
}

// Stop prevents new runs and waits for running jobs until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(pairs(keysAndValues)).Error("cron: " + msg)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
