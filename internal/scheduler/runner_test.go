package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/calendar"
	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/goal"
	"github.com/harunnryd/brain/internal/orchestrator"
	"github.com/harunnryd/brain/internal/performance"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeUsers struct {
	settings []*domain.BrainSettings
	err      error
}

func (f *fakeUsers) CronUsers(ctx context.Context) ([]*domain.BrainSettings, error) {
	return f.settings, f.err
}

type fakeCycles struct {
	mu    sync.Mutex
	ran   []string
	fail  map[string]error
	tasks int
}

func (f *fakeCycles) Account(ctx context.Context, userID string) (agent.Account, error) {
	return agent.Account{
		User:     &domain.User{ID: userID},
		Settings: domain.DefaultSettings(userID),
	}, nil
}

func (f *fakeCycles) RunCycle(ctx context.Context, userID string) (*orchestrator.CycleReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, userID)
	if err := f.fail[userID]; err != nil {
		return nil, err
	}
	rep := &orchestrator.CycleReport{UserID: userID}
	for i := 0; i < f.tasks; i++ {
		rep.Tasks = append(rep.Tasks, orchestrator.TaskOutcome{Task: domain.Task{Title: "Clean list", Agent: "list"}, Executed: true})
	}
	return rep, nil
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) NotifyUser(ctx context.Context, settings *domain.BrainSettings, text string) error {
	f.sent = append(f.sent, settings.UserID+": "+text)
	return f.err
}

type fakeReviewer struct{ users []string }

func (f *fakeReviewer) ReviewCompleted(ctx context.Context, acct agent.Account) (performance.ReviewResult, error) {
	f.users = append(f.users, acct.ID())
	return performance.ReviewResult{Reviewed: 1}, nil
}

type fakeAdvancer struct {
	users []string
	msg   string
}

func (f *fakeAdvancer) AdvanceActiveGoals(ctx context.Context, acct agent.Account) ([]goal.Advance, error) {
	f.users = append(f.users, acct.ID())
	if f.msg == "" {
		return nil, nil
	}
	return []goal.Advance{{GoalTitle: "Grow list", Message: f.msg}}, nil
}

func cronSettings(userID string, last *time.Time) *domain.BrainSettings {
	s := domain.DefaultSettings(userID)
	s.CronEnabled = true
	s.CronIntervalMinutes = 60
	s.LastCronRunAt = last
	return s
}

func TestRunDueRunsOnlyDueUsers(t *testing.T) {
	recent := testNow.Add(-10 * time.Minute)
	stale := testNow.Add(-2 * time.Hour)
	users := &fakeUsers{settings: []*domain.BrainSettings{
		cronSettings("fresh", nil),
		cronSettings("recent", &recent),
		cronSettings("stale", &stale),
	}}
	cycles := &fakeCycles{tasks: 1}
	reviewer := &fakeReviewer{}
	advancer := &fakeAdvancer{}

	r := NewCycleRunner(users, cycles, nil, reviewer, advancer)
	sum, err := r.RunDue(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Checked)
	if diff := cmp.Diff([]string{"fresh", "stale"}, cycles.ran); diff != "" {
		t.Fatalf("cycled users mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"fresh", "stale"}, reviewer.users)
	assert.Equal(t, []string{"fresh", "stale"}, advancer.users)
	assert.Equal(t, 0, sum.Failed())
	assert.Equal(t, 1, sum.Runs[0].Reviewed)
}

func TestRunDueContinuesAfterUserFailure(t *testing.T) {
	users := &fakeUsers{settings: []*domain.BrainSettings{
		cronSettings("broken", nil),
		cronSettings("healthy", nil),
	}}
	cycles := &fakeCycles{fail: map[string]error{"broken": errors.New("analysis exploded")}}
	notifier := &fakeNotifier{}
	reviewer := &fakeReviewer{}

	r := NewCycleRunner(users, cycles, notifier, reviewer, nil)
	sum, err := r.RunDue(context.Background(), testNow)
	require.NoError(t, err)

	require.Len(t, sum.Runs, 2)
	assert.Equal(t, 1, sum.Failed())
	assert.EqualError(t, sum.Runs[0].Err, "analysis exploded")
	assert.NoError(t, sum.Runs[1].Err)
	assert.Equal(t, []string{"healthy"}, reviewer.users)
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "healthy: 🤖 **Brain cycle finished**")
}

func TestRunDueSwallowsNotifierFailure(t *testing.T) {
	users := &fakeUsers{settings: []*domain.BrainSettings{cronSettings("u1", nil)}}
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	advancer := &fakeAdvancer{msg: "Planned step 2."}

	r := NewCycleRunner(users, &fakeCycles{tasks: 2}, notifier, &fakeReviewer{}, advancer)
	sum, err := r.RunDue(context.Background(), testNow)
	require.NoError(t, err)
	require.Len(t, sum.Runs, 1)
	assert.NoError(t, sum.Runs[0].Err)
	assert.Len(t, sum.Runs[0].Advanced, 1)

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, "u1: 🎯 Grow list\nPlanned step 2.", notifier.sent[1])
}

func TestRunDueListFailure(t *testing.T) {
	r := NewCycleRunner(&fakeUsers{err: errors.New("disk gone")}, &fakeCycles{}, nil, nil, nil)
	_, err := r.RunDue(context.Background(), testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list cron users")
}

func TestRunDueStopsOnCancelledContext(t *testing.T) {
	users := &fakeUsers{settings: []*domain.BrainSettings{cronSettings("u1", nil)}}
	cycles := &fakeCycles{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCycleRunner(users, cycles, nil, nil, nil).RunDue(ctx, testNow)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, cycles.ran)
}

type fakePlanner struct {
	users []string
	err   error
}

func (f *fakePlanner) GenerateWeeklyPlan(ctx context.Context, acct agent.Account) (calendar.WeekPlan, error) {
	f.users = append(f.users, acct.ID())
	if f.err != nil {
		return calendar.WeekPlan{}, f.err
	}
	return calendar.WeekPlan{WeekStart: calendar.NextWeek(testNow), Generated: true, Entries: 3}, nil
}

func TestRunUserPlansCampaignCalendar(t *testing.T) {
	planner := &fakePlanner{}
	r := NewCycleRunner(&fakeUsers{}, &fakeCycles{}, nil, nil, nil).WithCalendar(planner)

	run := r.RunUser(context.Background(), cronSettings("u1", nil))
	require.NoError(t, run.Err)
	assert.Equal(t, 3, run.Planned)
	assert.Equal(t, []string{"u1"}, planner.users)

	planner.err = errors.New("store locked")
	run = r.RunUser(context.Background(), cronSettings("u2", nil))
	if run.Err != nil {
		t.Fatalf("calendar failure must not fail the cycle, got %v", run.Err)
	}
	assert.Zero(t, run.Planned)
}
