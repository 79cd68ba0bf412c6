// Package scheduler runs the ingestion pipeline for a set of users on a
// fixed interval.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clusterx/voicesync/internal/model"
)

// RunFunc executes one ingestion run for a user.
type RunFunc func(ctx context.Context, userID string) (*model.SyncResult, error)

// Scheduler triggers ingestion runs for every configured user at a
// fixed cadence. Users run concurrently up to MaxConcurrent; a failed
// run is logged and never stops the loop or the other users.
type Scheduler struct {
	run           RunFunc
	users         []string
	interval      time.Duration
	maxConcurrent int
}

// New creates a scheduler. interval must be positive; maxConcurrent
// values below 1 fall back to 1.
func New(run RunFunc, users []string, interval time.Duration, maxConcurrent int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		run:           run,
		users:         users,
		interval:      interval,
		maxConcurrent: maxConcurrent,
	}
}

// Start runs one sweep immediately, then one per interval until ctx is
// cancelled. Always returns ctx.Err().
func (s *Scheduler) Start(ctx context.Context) error {
	zap.L().Info("scheduler started",
		zap.Int("users", len(s.users)),
		zap.Duration("interval", s.interval),
		zap.Int("max_concurrent", s.maxConcurrent))

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs every user once and waits for all of them to finish.
func (s *Scheduler) Sweep(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	for _, userID := range s.users {
		userID := userID
		g.Go(func() error {
			start := time.Now()
			res, err := s.run(gctx, userID)
			if err != nil {
				zap.L().Error("scheduled run failed",
					zap.String("user_id", userID),
					zap.Error(err))
				// Per-user isolation: never cancel sibling runs.
				return nil
			}
			zap.L().Info("scheduled run finished",
				zap.String("user_id", userID),
				zap.Int("total", res.Total),
				zap.Int("processed", res.Processed),
				zap.Int("failed", res.Failed),
				zap.Duration("took", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()
}
