// Package scheduler runs the background expiry reaper. The ledger's own
// atomicity rules make expiry safe to attempt blindly: a hold that was
// renewed or already freed in the meantime is skipped as a no-op.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Reaper frees holds whose lease has ended.
type Reaper interface {
	ReapExpired(ctx context.Context, now time.Time) (int, error)
}

// ExpiryScheduler guarantees that a stale hold is freed within one tick of
// its lease ending, whether or not the owning client ever calls release.
type ExpiryScheduler struct {
	reaper   Reaper
	interval time.Duration
	logger   *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewExpiryScheduler(reaper Reaper, interval time.Duration, logger *slog.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		reaper:   reaper,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the reap loop until Stop is called or the context ends. It is
// meant to run on its own goroutine.
func (s *ExpiryScheduler) Start(ctx context.Context) {
	s.logger.Info("starting expiry scheduler", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping expiry scheduler", "reason", "context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("stopping expiry scheduler", "reason", "shutdown")
			return
		case <-ticker.C:
			s.reap(ctx)
		}
	}
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (s *ExpiryScheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *ExpiryScheduler) reap(ctx context.Context) {
	freed, err := s.reaper.ReapExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("expiry reap failed", "error", err)
		return
	}

	if freed > 0 {
		s.logger.Info("freed expired seat holds", "count", freed)
	}
}
