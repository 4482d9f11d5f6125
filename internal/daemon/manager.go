package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/harunnryd/brain/internal/config"

	"golang.org/x/sync/errgroup"
)

type Daemon struct {
	cfg             *config.Config
	components      []Component
	initOrder       []string
	started         []string
	health          HealthStatus
	uptimeStart     time.Time
	mu              sync.RWMutex
	healthCheckDone chan struct{}
}

func NewDaemon(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return &Daemon{
		cfg:             cfg,
		components:      make([]Component, 0),
		health:          StatusStarting,
		uptimeStart:     time.Now(),
		healthCheckDone: make(chan struct{}),
	}, nil
}

func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, comp)
	slog.Info("Component registered", "component", comp.Name(), "total_components", len(d.components))
}

// Start brings every component up in dependency order and blocks until ctx
// is cancelled or the process gets SIGINT/SIGTERM, then shuts down.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("Brain daemon starting...")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTimeout, healthInterval, err := d.validateConfig()
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := d.initializeComponents(ctx); err != nil {
		d.rollback(context.WithoutCancel(ctx), shutdownTimeout)
		return fmt.Errorf("component initialization failed: %w", err)
	}

	if err := d.startComponents(ctx); err != nil {
		d.rollback(context.WithoutCancel(ctx), shutdownTimeout)
		return fmt.Errorf("component startup failed: %w", err)
	}

	d.setHealth(StatusRunning)
	slog.Info("Brain daemon is running", "components", len(d.components))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.startHealthMonitor(gctx, healthInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Context cancelled, initiating graceful shutdown", "reason", ctx.Err())
		d.setHealth(StatusStopping)
		close(d.healthCheckDone)
		return d.gracefulShutdown(context.WithoutCancel(gctx), shutdownTimeout)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	return nil
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

// Uptime is the time since the daemon was created.
func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.uptimeStart)
}

func (d *Daemon) ComponentHealth() map[string]*ComponentHealth {
	d.mu.RLock()
	components := make([]Component, len(d.components))
	copy(components, d.components)
	d.mu.RUnlock()

	result := make(map[string]*ComponentHealth)
	for _, comp := range components {
		health, err := comp.Health(context.Background())
		if health == nil {
			health = &ComponentHealth{Name: comp.Name()}
		}
		if err != nil {
			health.Healthy = false
			health.Error = err
		}
		result[comp.Name()] = health
	}
	return result
}

func (d *Daemon) setHealth(status HealthStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = status
}

func (d *Daemon) validateConfig() (time.Duration, time.Duration, error) {
	slog.Info("Validating configuration...")

	shutdownTimeout, err := config.DurationOrDefault(d.cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("parse daemon shutdown timeout: %w", err)
	}
	healthInterval, err := config.DurationOrDefault(d.cfg.Daemon.HealthCheckInterval, config.DefaultDaemonHealthCheckInterval)
	if err != nil {
		return 0, 0, fmt.Errorf("parse daemon health check interval: %w", err)
	}
	if healthInterval <= 0 {
		return 0, 0, fmt.Errorf("daemon health check interval must be positive")
	}
	return shutdownTimeout, healthInterval, nil
}

func (d *Daemon) initializeComponents(ctx context.Context) error {
	slog.Info("Initializing components...")

	if err := d.validateDependencies(); err != nil {
		return fmt.Errorf("dependency validation failed: %w", err)
	}

	initOrder, err := d.resolveInitOrder()
	if err != nil {
		return fmt.Errorf("failed to resolve init order: %w", err)
	}
	d.initOrder = initOrder

	for _, compName := range initOrder {
		comp := d.getComponentByName(compName)
		slog.Info("Initializing component...", "component", comp.Name())
		if err := comp.Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", comp.Name(), "error", err)
			return fmt.Errorf("component %s init failed: %w", comp.Name(), err)
		}
		d.started = append(d.started, compName)
	}

	slog.Info("All components initialized", "count", len(d.components))
	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	slog.Info("Starting components...")

	for _, name := range d.initOrder {
		comp := d.getComponentByName(name)
		if err := comp.Start(ctx); err != nil {
			slog.Error("Component startup failed", "component", name, "error", err)
			return fmt.Errorf("component %s startup failed: %w", name, err)
		}
		slog.Info("Component started", "component", name)
	}

	slog.Info("All components started", "count", len(d.components))
	return nil
}

func (d *Daemon) gracefulShutdown(ctx context.Context, timeout time.Duration) error {
	slog.Info("Graceful shutdown initiated", "timeout", timeout)

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.shutdownComponents(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("Shutdown completed with error", "error", err)
		} else {
			slog.Info("Graceful shutdown completed")
		}
		return err
	case <-shutdownCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("shutdown cancelled: %w", ctx.Err())
		}
		slog.Error("Shutdown timeout exceeded", "timeout", timeout)
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// shutdownComponents stops dependents before their dependencies. Components
// at the same dependency depth stop concurrently.
func (d *Daemon) shutdownComponents(ctx context.Context) error {
	layers := d.shutdownLayers(d.started)
	var errs []error
	for _, layer := range layers {
		g, gctx := errgroup.WithContext(ctx)
		layerErrs := make([]error, len(layer))
		for i, name := range layer {
			comp := d.getComponentByName(name)
			g.Go(func() error {
				slog.Info("Stopping component...", "component", name)
				if err := comp.Stop(gctx); err != nil {
					slog.Error("Component stop failed", "component", name, "error", err)
					layerErrs[i] = fmt.Errorf("stop %s: %w", name, err)
					return nil
				}
				slog.Info("Component stopped", "component", name)
				return nil
			})
		}
		_ = g.Wait()
		errs = append(errs, layerErrs...)
	}

	d.mu.Lock()
	d.started = nil
	d.mu.Unlock()
	d.setHealth(StatusStopped)
	return errors.Join(errs...)
}

// shutdownLayers groups names by dependency depth, deepest first.
func (d *Daemon) shutdownLayers(names []string) [][]string {
	depth := make(map[string]int, len(names))
	var depthOf func(name string) int
	depthOf = func(name string) int {
		if v, ok := depth[name]; ok {
			return v
		}
		comp := d.getComponentByName(name)
		level := 0
		if comp != nil {
			for _, dep := range comp.Dependencies() {
				level = max(level, depthOf(dep)+1)
			}
		}
		depth[name] = level
		return level
	}

	maxDepth := -1
	for _, name := range names {
		maxDepth = max(maxDepth, depthOf(name))
	}
	layers := make([][]string, 0, maxDepth+1)
	for level := maxDepth; level >= 0; level-- {
		var layer []string
		for _, name := range names {
			if depth[name] == level {
				layer = append(layer, name)
			}
		}
		if len(layer) > 0 {
			layers = append(layers, layer)
		}
	}
	return layers
}

// rollback stops whatever was initialized before a failure.
func (d *Daemon) rollback(ctx context.Context, timeout time.Duration) {
	slog.Warn("Rolling back initialized components...", "count", len(d.started))
	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.shutdownComponents(stopCtx); err != nil {
		slog.Error("Rollback failed", "error", err)
	}
}

func (d *Daemon) getComponentByName(name string) Component {
	for _, comp := range d.components {
		if comp.Name() == name {
			return comp
		}
	}
	return nil
}

func (d *Daemon) Component(name string) Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getComponentByName(name)
}

func (d *Daemon) startHealthMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.healthCheckDone:
			return
		case <-ticker.C:
			d.checkComponentHealth(ctx)
		}
	}
}

func (d *Daemon) checkComponentHealth(ctx context.Context) {
	healths := d.ComponentHealth()
	if ctx.Err() != nil {
		return
	}

	unhealthy := 0
	for name, health := range healths {
		if !health.Healthy {
			unhealthy++
			slog.Warn("Component unhealthy", "component", name, "error", health.Error)
		}
	}
	if unhealthy > 0 {
		slog.Warn("Daemon has unhealthy components", "count", unhealthy, "total", len(healths))
	} else {
		slog.Debug("All components healthy", "count", len(healths))
	}
}

func (d *Daemon) validateDependencies() error {
	names := make([]string, 0, len(d.components))
	for _, comp := range d.components {
		if slices.Contains(names, comp.Name()) {
			return fmt.Errorf("component %s registered twice", comp.Name())
		}
		names = append(names, comp.Name())
	}
	for _, comp := range d.components {
		for _, depName := range comp.Dependencies() {
			if !slices.Contains(names, depName) {
				return fmt.Errorf("component %s depends on %s which is not registered", comp.Name(), depName)
			}
		}
	}
	return nil
}

func (d *Daemon) resolveInitOrder() ([]string, error) {
	visited := make(map[string]bool)
	tempVisited := make(map[string]bool)
	order := []string{}

	var visit func(name string) error
	visit = func(name string) error {
		if tempVisited[name] {
			return fmt.Errorf("circular dependency detected involving %s", name)
		}
		if visited[name] {
			return nil
		}

		comp := d.getComponentByName(name)
		if comp == nil {
			return fmt.Errorf("component %s not found", name)
		}

		tempVisited[name] = true
		for _, depName := range comp.Dependencies() {
			if err := visit(depName); err != nil {
				return err
			}
		}
		tempVisited[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, comp := range d.components {
		if err := visit(comp.Name()); err != nil {
			return nil, err
		}
	}

	slog.Info("Initialization order resolved", "order", order)
	return order, nil
}
