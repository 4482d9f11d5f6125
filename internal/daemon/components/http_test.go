package components

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harunnryd/brain/internal/daemon"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealthSource struct {
	components map[string]*daemon.ComponentHealth
}

func (f fakeHealthSource) Health() daemon.HealthStatus { return daemon.StatusRunning }
func (f fakeHealthSource) Uptime() time.Duration       { return 90 * time.Second }
func (f fakeHealthSource) ComponentHealth() map[string]*daemon.ComponentHealth {
	return f.components
}

func getHealth(t *testing.T, h *HealthServerComponent) (*httptest.ResponseRecorder, healthResponse) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return rr, resp
}

func TestHealthServerReportsComponents(t *testing.T) {
	h := NewHealthServerComponent(fakeHealthSource{components: map[string]*daemon.ComponentHealth{
		"Store":        {Name: "Store", Healthy: true},
		"HealthServer": {Name: "HealthServer", Healthy: false, Error: fmt.Errorf("not started")},
	}}, "127.0.0.1:0")

	rr, resp := getHealth(t, h)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, daemon.StatusRunning, resp.Daemon)
	assert.Equal(t, "1m30s", resp.Uptime)
	assert.True(t, resp.Components["HealthServer"].Healthy)
}

func TestHealthServerDegraded(t *testing.T) {
	h := NewHealthServerComponent(fakeHealthSource{components: map[string]*daemon.ComponentHealth{
		"Store":            {Name: "Store", Healthy: true},
		"Adapter:telegram": {Name: "Adapter:telegram", Healthy: false, Error: fmt.Errorf("bot unreachable")},
	}}, "127.0.0.1:0")

	rr, resp := getHealth(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "bot unreachable", resp.Components["Adapter:telegram"].Error)

	rr = httptest.NewRecorder()
	h.handleHealth(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHealthServerLifecycle(t *testing.T) {
	ctx := context.Background()
	h := NewHealthServerComponent(fakeHealthSource{components: map[string]*daemon.ComponentHealth{}}, "127.0.0.1:0", "Store")
	assert.Equal(t, []string{"Store"}, h.Dependencies())

	require.NoError(t, h.Init(ctx))
	require.NoError(t, h.Start(ctx))

	res, err := http.Get("http://" + h.Addr() + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	health, err := h.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)

	require.NoError(t, h.Stop(ctx))
	health, _ = h.Health(ctx)
	assert.False(t, health.Healthy)
}

func TestHealthServerRequiresAddr(t *testing.T) {
	h := NewHealthServerComponent(fakeHealthSource{}, "")
	if err := h.Init(context.Background()); err == nil {
		t.Fatal("Init without an address should fail")
	}
}
