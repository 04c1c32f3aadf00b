package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the reclaim sweep once a minute.
const DefaultSchedule = "@every 1m"

// Reclaimer closes pending generations whose codes have expired.
type Reclaimer interface {
	ReclaimExpired(ctx context.Context) (int, error)
}

// Scheduler runs the reclaim sweep on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	reclaimer Reclaimer
	schedule  string
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a scheduler. Panics inside a run are recovered and logged, and
// a run is skipped while the previous one is still going.
func New(reclaimer Reclaimer, schedule string, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	return &Scheduler{cron: c, reclaimer: reclaimer, schedule: schedule, timeout: timeout, logger: logger}
}

// Start registers the sweep and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Run); err != nil {
		return fmt.Errorf("schedule reclaim sweep %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled reclaim sweep", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop stops the scheduler. The returned context is done once a running
// sweep has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Run performs one sweep.
func (s *Scheduler) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	n, err := s.reclaimer.ReclaimExpired(ctx)
	if err != nil {
		s.logger.Error("reclaim sweep failed", "reclaimed", n, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("reclaim sweep finished", "reclaimed", n, "duration", time.Since(started))
	}
}
