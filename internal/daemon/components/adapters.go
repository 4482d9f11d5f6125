package components

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/harunnryd/brain/internal/daemon"
)

// Service is a chat adapter with its own lifecycle, such as the Telegram
// poller or the Slack events server.
type Service interface {
	Name() string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) error
}

type AdapterComponent struct {
	svc          Service
	dependencies []string
	initialized  bool
	started      bool
}

// NewAdapterComponent depends on the Store unless other dependencies are
// given.
func NewAdapterComponent(svc Service, dependencies ...string) *AdapterComponent {
	if len(dependencies) == 0 {
		dependencies = []string{"Store"}
	}
	return &AdapterComponent{svc: svc, dependencies: slices.Clone(dependencies)}
}

func (a *AdapterComponent) Name() string {
	return "Adapter:" + a.svc.Name()
}

func (a *AdapterComponent) Dependencies() []string {
	return slices.Clone(a.dependencies)
}

func (a *AdapterComponent) Init(ctx context.Context) error {
	if err := a.svc.Init(ctx); err != nil {
		return fmt.Errorf("init %s adapter: %w", a.svc.Name(), err)
	}
	a.initialized = true
	return nil
}

func (a *AdapterComponent) Start(ctx context.Context) error {
	if !a.initialized {
		return fmt.Errorf("%s adapter not initialized", a.svc.Name())
	}
	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("start %s adapter: %w", a.svc.Name(), err)
	}
	a.started = true
	slog.Info("Adapter started", "component", a.Name())
	return nil
}

func (a *AdapterComponent) Stop(ctx context.Context) error {
	if !a.started {
		return nil
	}
	err := a.svc.Stop(ctx)
	a.started = false
	if err != nil {
		return err
	}
	slog.Info("Adapter stopped", "component", a.Name())
	return nil
}

func (a *AdapterComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if !a.initialized {
		return &daemon.ComponentHealth{Name: a.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if !a.started {
		return &daemon.ComponentHealth{Name: a.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}
	if err := a.svc.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: a.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: a.Name(), Healthy: true}, nil
}
