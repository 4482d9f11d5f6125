// Package scheduler fires the per-user Brain cycle on a cron spec.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/brain/internal/config"
	brainErrors "github.com/harunnryd/brain/internal/errors"

	"github.com/robfig/cron/v3"
)

// Runner is what the scheduler calls on every tick.
type Runner interface {
	RunDue(ctx context.Context, now time.Time) (Summary, error)
}

type Scheduler struct {
	runner Runner
	spec   string

	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	cron     *cron.Cron
	entry    cron.EntryID
	running  bool
	lastTick time.Time
	lastSum  Summary
	lastErr  error

	shutdownTimeout time.Duration
	now             func() time.Time
}

func NewScheduler(runner Runner, cfg config.SchedulerConfig) (*Scheduler, error) {
	spec := cfg.Spec
	if spec == "" {
		spec = config.DefaultSchedulerSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, brainErrors.InvalidInput(fmt.Sprintf("invalid scheduler spec %q: %v", spec, err))
	}

	shutdownTimeout, err := config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultSchedulerShutdownTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler shutdown timeout: %w", err)
	}

	return &Scheduler{
		runner:          runner,
		spec:            spec,
		shutdownTimeout: shutdownTimeout,
		now:             time.Now,
	}, nil
}

func (s *Scheduler) Name() string { return "scheduler" }

func (s *Scheduler) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	cronLog := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))

	id, err := s.cron.AddFunc(s.spec, s.tick)
	if err != nil {
		return fmt.Errorf("register cycle job: %w", err)
	}
	s.entry = id

	slog.Info("Scheduler initialized", "spec", s.spec)
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return brainErrors.Internal("scheduler not initialized")
	}
	if s.running {
		return nil
	}
	s.running = true
	s.cron.Start()

	slog.Info("Scheduler started", "next", s.cron.Entry(s.entry).Next)
	return nil
}

// Stop halts the ticker and waits for a running cycle, up to the shutdown
// timeout. The cycle's context is cancelled once the timeout passes.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopped := s.cron.Stop()
	s.mu.Unlock()

	defer s.cancel()

	select {
	case <-stopped.Done():
		slog.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Warn("Scheduler shutdown timeout, cancelling running cycle")
		return brainErrors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ctx == nil {
		return brainErrors.Internal("scheduler not initialized")
	}
	if !s.running {
		return brainErrors.Internal("scheduler not running")
	}
	if s.lastErr != nil {
		return fmt.Errorf("last cycle pass: %w", brainErrors.ErrTransient)
	}
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastRun returns the time and summary of the most recent pass.
func (s *Scheduler) LastRun() (time.Time, Summary) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick, s.lastSum
}

// RunOnce runs a pass outside the cron schedule.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	return s.run(ctx)
}

func (s *Scheduler) tick() {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := s.run(ctx); err != nil {
		slog.Error("Scheduled pass failed", "error", err)
	}
}

func (s *Scheduler) run(ctx context.Context) (Summary, error) {
	now := s.now()
	sum, err := s.runner.RunDue(ctx, now)

	s.mu.Lock()
	s.lastTick = now
	s.lastSum = sum
	s.lastErr = err
	s.mu.Unlock()

	if err == nil && len(sum.Runs) > 0 {
		slog.Info("Scheduled pass finished", "checked", sum.Checked, "ran", len(sum.Runs), "failed", sum.Failed())
	}
	return sum, err
}
