package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper defines the interface for cleanup operations.
type Sweeper interface {
	SweepSessions(ctx context.Context) (int, error)
	SweepCache(ctx context.Context) (int, error)
}

// Scheduler drives periodic sweeps from in-process tickers, sessions and
// cache on independent intervals.
type Scheduler struct {
	sweeper         Sweeper
	sessionInterval time.Duration
	cacheInterval   time.Duration
	logger          *slog.Logger
}

func NewScheduler(sweeper Sweeper, sessionInterval, cacheInterval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sweeper:         sweeper,
		sessionInterval: sessionInterval,
		cacheInterval:   cacheInterval,
		logger:          logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("sweep scheduler started",
		"session_interval", s.sessionInterval,
		"cache_interval", s.cacheInterval,
	)

	s.runSessionSweep(ctx)
	s.runCacheSweep(ctx)

	sessionTicker := time.NewTicker(s.sessionInterval)
	defer sessionTicker.Stop()
	cacheTicker := time.NewTicker(s.cacheInterval)
	defer cacheTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep scheduler stopped")
			return ctx.Err()
		case <-sessionTicker.C:
			s.runSessionSweep(ctx)
		case <-cacheTicker.C:
			s.runCacheSweep(ctx)
		}
	}
}

func (s *Scheduler) runSessionSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := s.sweeper.SweepSessions(sweepCtx); err != nil {
		s.logger.Error("session sweep failed", "error", err)
	}
}

func (s *Scheduler) runCacheSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := s.sweeper.SweepCache(sweepCtx); err != nil {
		s.logger.Error("cache sweep failed", "error", err)
	}
}
