/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/quicklifts/prize-service/internal/config"
	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance. Schedules are evaluated in UTC.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if !s.config.RetryJobEnabled {
		s.logger.Info("prize distribution retry job disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.RetryJobSchedule, s.jobs.RetryPrizeDistributions); err != nil {
		s.logger.Error("failed to schedule prize distribution retry job", "schedule", s.config.RetryJobSchedule, "error", err)
		return err
	}
	s.logger.Info("scheduled prize distribution retry job", "schedule", s.config.RetryJobSchedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
