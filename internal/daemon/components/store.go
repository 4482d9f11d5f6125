package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/brain/internal/daemon"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/store"
)

// StoreComponent owns the repositories for the daemon's lifetime. The
// repositories are opened by the caller, since every service is built on
// them before the daemon starts.
type StoreComponent struct {
	repos       *repository.Repositories
	initialized bool
	mu          sync.RWMutex
}

func NewStoreComponent(repos *repository.Repositories) *StoreComponent {
	return &StoreComponent{repos: repos}
}

func (s *StoreComponent) Name() string {
	return "Store"
}

func (s *StoreComponent) Dependencies() []string {
	return []string{}
}

func (s *StoreComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repos == nil {
		return fmt.Errorf("repositories not provided")
	}
	users, err := s.repos.CronUsers(ctx)
	if err != nil {
		return fmt.Errorf("store not readable: %w", err)
	}

	s.initialized = true
	slog.Info("Store initialized", "component", s.Name(), "backend", fmt.Sprintf("%T", s.repos.Backend()), "cron_users", len(users))
	return nil
}

func (s *StoreComponent) Start(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return fmt.Errorf("Store not initialized")
	}
	return nil
}

func (s *StoreComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		slog.Info("Store not initialized, skipping stop", "component", s.Name())
		return nil
	}
	s.initialized = false
	if err := s.repos.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	slog.Info("Store closed", "component", s.Name())
	return nil
}

func (s *StoreComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	if fb, ok := s.repos.Backend().(*store.FileBackend); ok {
		if !fb.IsLockHeld() {
			return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("lock not held")}, nil
		}
		if !fb.IsRunning() {
			return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("loop not running")}, nil
		}
	}

	if _, err := s.repos.CronUsers(ctx); err != nil {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: s.Name(), Healthy: true}, nil
}

func (s *StoreComponent) Repositories() *repository.Repositories {
	return s.repos
}
