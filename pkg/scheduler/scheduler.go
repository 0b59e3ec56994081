// Package scheduler triggers sync cycles at a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tablemirror/tablemirror/pkg/config"
	"github.com/tablemirror/tablemirror/pkg/errors"
	"github.com/tablemirror/tablemirror/pkg/logger"
)

// Runner executes one sync cycle over the configured pairs. The replication
// engine is the production implementation.
type Runner interface {
	SyncAll(ctx context.Context, pairs []config.SyncPair) error
}

// Scheduler runs cycles on a ticker. The first cycle starts immediately on
// Start; overlap is impossible because the runner rejects concurrent cycles
// and the scheduler simply skips that tick.
type Scheduler struct {
	runner   Runner
	pairs    []config.SyncPair
	interval time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	cycles   atomic.Int64
}

// New creates a Scheduler. interval must be positive.
func New(runner Runner, pairs []config.SyncPair, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		pairs:    pairs,
		interval: interval,
		logger:   logger.Get().With(zap.String("component", "scheduler")),
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic cycles until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runCycle(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop halts the ticker and waits for any in-flight cycle to return. Safe to
// call once.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Cycles returns how many cycles the scheduler has started.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.cycles.Add(1)
	started := time.Now()
	if err := s.runner.SyncAll(ctx, s.pairs); err != nil {
		if errors.IsType(err, errors.ErrorTypeConflict) {
			s.logger.Warn("previous sync cycle still running, skipping this tick")
			return
		}
		s.logger.Error("sync cycle failed", zap.Error(err))
		return
	}
	s.logger.Debug("scheduled cycle complete", zap.Duration("elapsed", time.Since(started)))
}
