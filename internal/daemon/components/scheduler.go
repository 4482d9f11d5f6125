package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/daemon"
	"github.com/harunnryd/brain/internal/scheduler"
)

type SchedulerComponent struct {
	sched  *scheduler.Scheduler
	runner scheduler.Runner
	cfg    config.SchedulerConfig
	name   string
	deps   []string
}

func NewSchedulerComponent(runner scheduler.Runner, cfg config.SchedulerConfig) *SchedulerComponent {
	return &SchedulerComponent{runner: runner, cfg: cfg, name: "Scheduler", deps: []string{"Store"}}
}

// WithName registers a second scheduled job, such as the digest, under its
// own component name and dependencies.
func (s *SchedulerComponent) WithName(name string, deps ...string) *SchedulerComponent {
	s.name = name
	if len(deps) > 0 {
		s.deps = deps
	}
	return s
}

func (s *SchedulerComponent) Name() string {
	return s.name
}

func (s *SchedulerComponent) Dependencies() []string {
	return s.deps
}

func (s *SchedulerComponent) Init(ctx context.Context) error {
	if s.runner == nil {
		return fmt.Errorf("%s runner not provided", s.name)
	}

	sched, err := scheduler.NewScheduler(s.runner, s.cfg)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	s.sched = sched

	slog.Info("Scheduler initialized", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Start(ctx context.Context) error {
	if s.sched == nil {
		return fmt.Errorf("scheduler not initialized")
	}
	if err := s.sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	slog.Info("Scheduler started", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Stop(ctx context.Context) error {
	if s.sched == nil {
		slog.Info("Scheduler not initialized, skipping stop", "component", s.Name())
		return nil
	}
	if err := s.sched.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	slog.Info("Scheduler stopped", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if s.sched == nil {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if err := s.sched.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: s.Name(), Healthy: true}, nil
}

func (s *SchedulerComponent) GetScheduler() *scheduler.Scheduler {
	return s.sched
}
