// Package scheduler triggers repricing cycles on a fixed interval.
// At most one cycle is in flight at any time: a tick that lands while
// a cycle is still running is skipped, never queued.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner is the cycle entry point the scheduler invokes.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Scheduler owns the recurring trigger and the single-flight guard.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	log      *zap.Logger

	cron     *cron.Cron
	inFlight atomic.Bool
}

// New creates a scheduler that triggers runner every interval.
func New(runner Runner, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		log:      log,
	}
}

// Start registers the recurring trigger and begins ticking. It does
// not run a cycle immediately; the first tick fires after one
// interval.
func (s *Scheduler) Start() error {
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.tick(context.Background()) }); err != nil {
		return fmt.Errorf("registering cycle trigger: %w", err)
	}
	s.cron.Start()
	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop prevents future ticks. An in-flight cycle runs to completion;
// Stop returns a context that is done once it has finished.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		done, cancel := context.WithCancel(context.Background())
		cancel()
		return done
	}
	s.log.Info("scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers a cycle immediately, subject to the same
// single-flight guard as scheduled ticks. Returns false when a cycle
// was already in flight and the request was skipped.
func (s *Scheduler) RunNow(ctx context.Context) bool {
	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Warn("cycle still in flight, skipping trigger")
		return false
	}
	defer s.inFlight.Store(false)

	if err := s.runner.Run(ctx); err != nil {
		s.log.Error("cycle run failed", zap.Error(err))
	}
	return true
}
