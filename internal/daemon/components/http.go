package components

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/harunnryd/brain/internal/daemon"
)

// HealthSource reports daemon and per-component health.
type HealthSource interface {
	Health() daemon.HealthStatus
	Uptime() time.Duration
	ComponentHealth() map[string]*daemon.ComponentHealth
}

// HealthServerComponent exposes GET /health for process supervisors.
type HealthServerComponent struct {
	source       HealthSource
	addr         string
	dependencies []string
	server       *http.Server
	listener     net.Listener
	initialized  bool
	started      bool
	mu           sync.RWMutex
}

func NewHealthServerComponent(source HealthSource, addr string, dependencies ...string) *HealthServerComponent {
	return &HealthServerComponent{
		source:       source,
		addr:         addr,
		dependencies: slices.Clone(dependencies),
	}
}

func (h *HealthServerComponent) Name() string {
	return "HealthServer"
}

func (h *HealthServerComponent) Dependencies() []string {
	return slices.Clone(h.dependencies)
}

func (h *HealthServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.source == nil {
		return fmt.Errorf("health source not provided")
	}
	if h.addr == "" {
		return fmt.Errorf("server.health_addr is required")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	h.initialized = true
	slog.Info("HealthServer initialized", "component", h.Name(), "addr", h.addr)
	return nil
}

// Start binds the listener synchronously so a taken port fails startup.
func (h *HealthServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HealthServer not initialized")
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.addr, err)
	}
	h.listener = ln

	srv := h.server
	go func() {
		slog.Info("Health server listening", "component", h.Name(), "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("Health server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	return nil
}

func (h *HealthServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		slog.Info("HealthServer not started, skipping stop", "component", h.Name())
		return nil
	}
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Error("HealthServer shutdown error", "component", h.Name(), "error", err)
		return err
	}
	h.started = false
	slog.Info("HealthServer stopped", "component", h.Name())
	return nil
}

func (h *HealthServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.initialized {
		return &daemon.ComponentHealth{Name: h.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if !h.started {
		return &daemon.ComponentHealth{Name: h.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}
	return &daemon.ComponentHealth{Name: h.Name(), Healthy: true}, nil
}

// Addr is the bound address once started.
func (h *HealthServerComponent) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

type componentStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Daemon     daemon.HealthStatus        `json:"daemon"`
	Uptime     string                     `json:"uptime"`
	Components map[string]componentStatus `json:"components"`
}

func (h *HealthServerComponent) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{
		Status:     "ok",
		Daemon:     h.source.Health(),
		Uptime:     h.source.Uptime().Round(time.Second).String(),
		Components: make(map[string]componentStatus),
	}
	for name, ch := range h.source.ComponentHealth() {
		status := componentStatus{Healthy: ch.Healthy}
		if ch.Error != nil {
			status.Error = ch.Error.Error()
		}
		if name == h.Name() {
			// this handler answering is proof enough
			status = componentStatus{Healthy: true}
		}
		if !status.Healthy {
			resp.Status = "degraded"
		}
		resp.Components[name] = status
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("Failed to write health response", "error", err)
	}
}
