package services

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"go.uber.org/atomic"
)

// Scheduler drives CheckInService.Sweep on a fixed interval. A tick that
// arrives while a sweep is still running is skipped.
type Scheduler struct {
	checkins *CheckInService
	clock    clock.Clock
	interval time.Duration
	logger   logging.Logger
	running  atomic.Bool
	runs     atomic.Int64
}

func NewScheduler(checkins *CheckInService, clk clock.Clock, interval time.Duration, logger logging.Logger) *Scheduler {
	return &Scheduler{
		checkins: checkins,
		clock:    clk,
		interval: interval,
		logger:   logger.With("module", "scheduler"),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.Tick(ctx)

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs a single sweep unless one is already in progress. It reports
// whether a sweep ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn(ctx, "previous sweep still running, skipping tick")
		return false
	}
	defer s.running.Store(false)

	start := s.clock.Now()
	report, err := s.checkins.Sweep(ctx)
	s.runs.Inc()
	if err != nil {
		s.logger.Error(ctx, "sweep failed", "error", err)
		return true
	}
	s.logger.Info(ctx, "sweep finished",
		"owners", report.Owners,
		"failed", report.Failed,
		"expired", report.Expired,
		"took", s.clock.Since(start).String())
	return true
}

// Runs returns how many sweeps have completed.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}
