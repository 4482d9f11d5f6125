package components

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/scheduler"
	"github.com/harunnryd/brain/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// leakOptions skips the opencensus view worker that the genai client starts
// from its package init.
var leakOptions = []goleak.Option{
	goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
}

func TestStoreComponentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStoreComponent(repository.New(store.NewMemoryBackend()))

	health, err := s.Health(ctx)
	require.NoError(t, err)
	assert.False(t, health.Healthy)
	require.Error(t, s.Start(ctx))

	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Start(ctx))
	health, err = s.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	health, _ = s.Health(ctx)
	assert.False(t, health.Healthy)
}

func TestStoreComponentFileBackend(t *testing.T) {
	ctx := context.Background()
	repos, err := repository.Open(config.StoreConfig{Backend: "file", DataDir: t.TempDir()})
	require.NoError(t, err)
	s := NewStoreComponent(repos)

	require.NoError(t, s.Init(ctx))
	health, err := s.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy, "error: %v", health.Error)
	require.NoError(t, s.Stop(ctx))
}

func TestStoreComponentRequiresRepositories(t *testing.T) {
	if err := NewStoreComponent(nil).Init(context.Background()); err == nil {
		t.Fatal("Init without repositories should fail")
	}
}

type countingRunner struct{ calls atomic.Int32 }

func (r *countingRunner) RunDue(ctx context.Context, now time.Time) (scheduler.Summary, error) {
	r.calls.Add(1)
	return scheduler.Summary{StartedAt: now}, nil
}

func TestSchedulerComponentLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, leakOptions...)
	ctx := context.Background()

	s := NewSchedulerComponent(&countingRunner{}, config.SchedulerConfig{Spec: "@every 1h"})
	assert.Equal(t, []string{"Store"}, s.Dependencies())

	health, err := s.Health(ctx)
	require.NoError(t, err)
	assert.False(t, health.Healthy)

	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Start(ctx))
	health, _ = s.Health(ctx)
	assert.True(t, health.Healthy)
	assert.True(t, s.GetScheduler().IsRunning())

	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.GetScheduler().IsRunning())
}

func TestSchedulerComponentWithName(t *testing.T) {
	s := NewSchedulerComponent(&countingRunner{}, config.SchedulerConfig{Spec: "0 9 * * 1"}).WithName("Digest", "Store", "Adapter:telegram")
	assert.Equal(t, "Digest", s.Name())
	assert.Equal(t, []string{"Store", "Adapter:telegram"}, s.Dependencies())

	err := NewSchedulerComponent(nil, config.SchedulerConfig{}).WithName("Digest").Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Digest runner not provided")
}

func TestSchedulerComponentRejectsBadSpec(t *testing.T) {
	s := NewSchedulerComponent(&countingRunner{}, config.SchedulerConfig{Spec: "whenever"})
	require.Error(t, s.Init(context.Background()))
	require.Error(t, NewSchedulerComponent(nil, config.SchedulerConfig{}).Init(context.Background()))
}

type fakeService struct {
	name      string
	started   bool
	healthErr error
}

func (f *fakeService) Name() string                   { return f.name }
func (f *fakeService) Init(ctx context.Context) error { return nil }

func (f *fakeService) Start(ctx context.Context) error {
	f.started = true
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	f.started = false
	return nil
}

func (f *fakeService) Health(ctx context.Context) error { return f.healthErr }

func TestAdapterComponent(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{name: "telegram"}
	a := NewAdapterComponent(svc)

	assert.Equal(t, "Adapter:telegram", a.Name())
	assert.Equal(t, []string{"Store"}, a.Dependencies())
	require.Error(t, a.Start(ctx))

	require.NoError(t, a.Init(ctx))
	require.NoError(t, a.Start(ctx))
	assert.True(t, svc.started)

	svc.healthErr = errors.New("bot unreachable")
	health, err := a.Health(ctx)
	require.NoError(t, err)
	assert.False(t, health.Healthy)
	assert.EqualError(t, health.Error, "bot unreachable")

	require.NoError(t, a.Stop(ctx))
	assert.False(t, svc.started)

	custom := NewAdapterComponent(&fakeService{name: "slack"}, "Store", "Scheduler")
	assert.Equal(t, []string{"Store", "Scheduler"}, custom.Dependencies())
}
