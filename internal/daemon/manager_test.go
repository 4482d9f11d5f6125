package daemon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/brain/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type mockComponent struct {
	name         string
	dependencies []string
	log          *eventLog
	initError    error
	startError   error
	stopError    error
	healthError  error
	healthResult *ComponentHealth
}

func newMockComponent(log *eventLog, name string, dependencies ...string) *mockComponent {
	return &mockComponent{
		name:         name,
		dependencies: dependencies,
		log:          log,
		healthResult: &ComponentHealth{Name: name, Healthy: true},
	}
}

func (m *mockComponent) Name() string           { return m.name }
func (m *mockComponent) Dependencies() []string { return m.dependencies }

func (m *mockComponent) Init(ctx context.Context) error {
	m.log.add("init " + m.name)
	return m.initError
}

func (m *mockComponent) Start(ctx context.Context) error {
	m.log.add("start " + m.name)
	return m.startError
}

func (m *mockComponent) Stop(ctx context.Context) error {
	m.log.add("stop " + m.name)
	return m.stopError
}

func (m *mockComponent) Health(ctx context.Context) (*ComponentHealth, error) {
	return m.healthResult, m.healthError
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	d, err := NewDaemon(&config.Config{Daemon: config.DaemonConfig{ShutdownTimeout: "2s", HealthCheckInterval: "10ms"}})
	require.NoError(t, err)
	return d
}

func indexOf(events []string, e string) int {
	for i, v := range events {
		if v == e {
			return i
		}
	}
	return -1
}

func TestNewDaemonRequiresConfig(t *testing.T) {
	if _, err := NewDaemon(nil); err == nil {
		t.Fatal("NewDaemon(nil) should fail")
	}
}

func TestInitializeComponentsFollowsDependencies(t *testing.T) {
	log := &eventLog{}
	d := newTestDaemon(t)
	d.AddComponent(newMockComponent(log, "Telegram", "Store", "Scheduler"))
	d.AddComponent(newMockComponent(log, "Scheduler", "Store"))
	d.AddComponent(newMockComponent(log, "Store"))

	require.NoError(t, d.initializeComponents(context.Background()))
	assert.Equal(t, []string{"init Store", "init Scheduler", "init Telegram"}, log.all())
}

func TestInitializeComponentsRejectsBadGraphs(t *testing.T) {
	cases := map[string][][]string{
		"circular": {{"A", "B"}, {"B", "A"}},
		"missing":  {{"A", "Ghost"}},
		"twice":    {{"A"}, {"A"}},
	}
	for name, comps := range cases {
		t.Run(name, func(t *testing.T) {
			d := newTestDaemon(t)
			for _, c := range comps {
				d.AddComponent(newMockComponent(&eventLog{}, c[0], c[1:]...))
			}
			if err := d.initializeComponents(context.Background()); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestShutdownStopsDependentsFirst(t *testing.T) {
	log := &eventLog{}
	d := newTestDaemon(t)
	d.AddComponent(newMockComponent(log, "Store"))
	d.AddComponent(newMockComponent(log, "Scheduler", "Store"))
	d.AddComponent(newMockComponent(log, "Telegram", "Store"))
	d.AddComponent(newMockComponent(log, "Slack", "Store"))

	require.NoError(t, d.initializeComponents(context.Background()))
	require.NoError(t, d.shutdownComponents(context.Background()))

	events := log.all()
	storeStop := indexOf(events, "stop Store")
	require.NotEqual(t, -1, storeStop)
	for _, name := range []string{"Scheduler", "Telegram", "Slack"} {
		i := indexOf(events, "stop "+name)
		require.NotEqual(t, -1, i, name)
		assert.Less(t, i, storeStop, "%s must stop before Store", name)
	}
	assert.Equal(t, StatusStopped, d.Health())
}

func TestShutdownJoinsStopErrors(t *testing.T) {
	log := &eventLog{}
	d := newTestDaemon(t)
	broken := newMockComponent(log, "Slack")
	broken.stopError = fmt.Errorf("socket stuck")
	d.AddComponent(broken)
	d.AddComponent(newMockComponent(log, "Telegram"))

	require.NoError(t, d.initializeComponents(context.Background()))
	err := d.shutdownComponents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop Slack: socket stuck")
	assert.Contains(t, log.all(), "stop Telegram")
}

func TestStartRollsBackOnStartFailure(t *testing.T) {
	log := &eventLog{}
	d := newTestDaemon(t)
	d.AddComponent(newMockComponent(log, "Store"))
	failing := newMockComponent(log, "Scheduler", "Store")
	failing.startError = fmt.Errorf("bad spec")
	d.AddComponent(failing)

	err := d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad spec")
	assert.Contains(t, log.all(), "stop Store")
	assert.Contains(t, log.all(), "stop Scheduler")
	assert.Equal(t, StatusStopped, d.Health())
}

func TestStartRollsBackOnInitFailure(t *testing.T) {
	log := &eventLog{}
	d := newTestDaemon(t)
	d.AddComponent(newMockComponent(log, "Store"))
	failing := newMockComponent(log, "Slack", "Store")
	failing.initError = fmt.Errorf("no token")
	d.AddComponent(failing)

	require.Error(t, d.Start(context.Background()))
	events := log.all()
	assert.Contains(t, events, "stop Store")
	assert.NotContains(t, events, "stop Slack")
	assert.NotContains(t, events, "start Store")
}

func TestComponentHealth(t *testing.T) {
	d := newTestDaemon(t)
	healthy := newMockComponent(&eventLog{}, "Store")
	sick := newMockComponent(&eventLog{}, "Telegram")
	sick.healthResult = nil
	sick.healthError = fmt.Errorf("bot unreachable")
	d.AddComponent(healthy)
	d.AddComponent(sick)

	healths := d.ComponentHealth()
	require.Len(t, healths, 2)
	assert.True(t, healths["Store"].Healthy)
	assert.False(t, healths["Telegram"].Healthy)
	assert.EqualError(t, healths["Telegram"].Error, "bot unreachable")
}

func TestDaemonFullLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("os/signal.signal_recv"), goleak.IgnoreTopFunction("os/signal.loop"))

	log := &eventLog{}
	d := newTestDaemon(t)
	d.AddComponent(newMockComponent(log, "Store"))
	d.AddComponent(newMockComponent(log, "Scheduler", "Store"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return d.Health() == StatusRunning }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop")
	}

	assert.Equal(t, StatusStopped, d.Health())
	assert.Equal(t, []string{"init Store", "init Scheduler", "start Store", "start Scheduler", "stop Scheduler", "stop Store"}, log.all())
}

func TestValidateConfigRejectsBadDurations(t *testing.T) {
	d, err := NewDaemon(&config.Config{Daemon: config.DaemonConfig{ShutdownTimeout: "forever"}})
	require.NoError(t, err)
	_, _, err = d.validateConfig()
	require.Error(t, err)
}
