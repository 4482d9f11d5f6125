// Package daemon runs Brain's long-lived components (store, scheduler,
// chat adapters, health endpoint) in dependency order.
package daemon

import (
	"context"
)

type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

// ComponentHealth is the result of one component health check.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
}

// Component is a unit the daemon initializes, starts and stops. Dependencies
// name components that must be initialized first and stopped last.
// Stop must be safe to call on a component whose Start never ran, since
// rollback stops everything that was initialized.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
