// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const purgeTimeout = 10 * time.Minute

// StalePurger removes uploads that never got past PENDING.
type StalePurger interface {
	PurgeStaleUploads(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	purger   StalePurger
	schedule string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler that purges uploads older than ttl on schedule
// (standard 5-field cron format).
func NewScheduler(purger StalePurger, schedule string, ttl time.Duration, logger *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:     c,
		purger:   purger,
		schedule: schedule,
		ttl:      ttl,
		logger:   logger,
	}
}

// Start registers the jobs and begins running them.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.purgeStaleUploads); err != nil {
		return fmt.Errorf("failed to schedule stale upload purge %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("purge_schedule", s.schedule),
		slog.Duration("stale_upload_ttl", s.ttl),
	)
	return nil
}

// Stop stops the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers the purge outside its schedule.
func (s *Scheduler) RunNow() {
	go s.purgeStaleUploads()
}

func (s *Scheduler) purgeStaleUploads() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	s.logger.Info("starting stale upload purge")

	purged, err := s.purger.PurgeStaleUploads(ctx, s.ttl)
	if err != nil {
		s.logger.Error("stale upload purge failed",
			slog.Int("purged", purged),
			slog.Any("error", err),
		)
		return
	}

	s.logger.Info("stale upload purge completed", slog.Int("purged", purged))
}
