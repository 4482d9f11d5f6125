package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/model/modeltest"
	"github.com/harunnryd/brain/internal/situation"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cycleReport = `{
  "summary": "Bounced addresses are hurting deliverability.",
  "priorities": [
    {"title": "Clean bounced subscribers", "agent": "list", "action": "Remove bounced subscribers from the newsletter", "priority": "urgent", "reasoning": "Bounce rate is up"},
    {"title": "Polish the footer", "agent": "message", "action": "Rewrite the footer copy", "priority": "low"}
  ]
}`

func cycleProvider() *modeltest.Provider {
	return modeltest.New().
		On("CRM advisor", cycleReport).
		On("contact list management", listPlan).
		Default("not a plan")
}

func cleanTask() domain.Task {
	return domain.Task{
		ID:       "t1",
		Title:    "Clean bounced subscribers",
		Agent:    "list",
		Action:   "Remove bounced subscribers from the newsletter",
		Category: "list_hygiene",
		Priority: domain.PriorityHigh,
	}
}

func (h *harness) account(t *testing.T) agent.Account {
	t.Helper()
	a, err := h.orch.Account(context.Background(), "u1")
	require.NoError(t, err)
	return a
}

func TestExecuteCronTaskAutonomous(t *testing.T) {
	h := newHarness(t, cycleProvider(), domain.ModeAutonomous)
	ctx := context.Background()

	out, err := h.orch.ExecuteCronTask(ctx, h.account(t), cleanTask())
	require.NoError(t, err)
	assert.True(t, out.Executed)
	assert.Empty(t, out.ApprovalID)
	assert.Contains(t, out.Message, "List health")

	p, err := h.repos.Plans.Get(ctx, out.PlanID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanCompleted, p.Status)
	assert.Equal(t, domain.TriggerCron, p.Trigger)
	assert.Equal(t, "list_hygiene", p.Category)
	assert.Equal(t, "Clean bounced subscribers", p.TaskTitle)

	prompt := h.promptContaining(t, "contact list management")
	assert.Contains(t, prompt, "AUTOMATIC EXECUTION CONTEXT")
	assert.Contains(t, prompt, "- Newsletter (ID: l1, 1 subscribers)")
	assert.Contains(t, prompt, "--- AUTO-CONTEXT (from CRM/lists) ---")
	assert.Contains(t, prompt, `"has_user_details":true`)
	assert.NotContains(t, prompt, `"cron_task"`)

	require.Len(t, h.events(t, EventCronTaskDispatch), 1)
	done := h.events(t, EventCronTaskComplete)
	require.Len(t, done, 1)
	assert.Equal(t, out.PlanID, done[0].Payload["plan_id"])
}

func TestExecuteCronTaskSemiAutoRequestsApproval(t *testing.T) {
	h := newHarness(t, cycleProvider(), domain.ModeSemiAuto)

	out, err := h.orch.ExecuteCronTask(context.Background(), h.account(t), cleanTask())
	require.NoError(t, err)
	assert.False(t, out.Executed)
	require.NotEmpty(t, out.ApprovalID)

	approval, err := h.repos.Approvals.Get(context.Background(), out.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelCron, approval.Channel)
}

func TestExecuteCronTaskFailures(t *testing.T) {
	h := newHarness(t, cycleProvider(), domain.ModeAutonomous)
	acct := h.account(t)

	task := cleanTask()
	task.Agent = "billing"
	_, err := h.orch.ExecuteCronTask(context.Background(), acct, task)
	require.ErrorIs(t, err, brainErrors.ErrUnknownAgent)

	task = cleanTask()
	task.Agent = "message"
	_, err = h.orch.ExecuteCronTask(context.Background(), acct, task)
	require.Error(t, err)
	errs := h.events(t, EventCronTaskError)
	require.Len(t, errs, 1)
	assert.Equal(t, task.Title, errs[0].Payload["title"])
}

func TestRunCycleSemiAuto(t *testing.T) {
	h := newHarness(t, cycleProvider(), domain.ModeSemiAuto)
	ctx := context.Background()

	rep, err := h.orch.RunCycle(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, situation.SourceAI, rep.Analysis.Source)
	if diff := cmp.Diff([]string{"Clean bounced subscribers"}, rep.GoalsProposed); diff != "" {
		t.Fatalf("proposed goals mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, rep.GoalsCreated)

	require.NotEmpty(t, rep.Tasks)
	assert.LessOrEqual(t, len(rep.Tasks), 3)
	top := rep.Tasks[0]
	assert.Equal(t, "Clean bounced subscribers", top.Task.Title)
	assert.Equal(t, situation.CategoryAIAnalysis, top.Task.Category)
	assert.NotEmpty(t, top.ApprovalID)
	assert.False(t, top.Executed)
	for _, task := range rep.Tasks {
		assert.NotEqual(t, "Polish the footer", task.Task.Title)
	}

	settings, err := h.repos.Settings.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, settings.LastCronRunAt)
	assert.True(t, settings.LastCronRunAt.Equal(testNow))

	insights, err := h.orch.Knowledge.Entries(ctx, "u1", domain.CategoryInsights)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "Situation analysis 2026-03-02", insights[0].Title)
	assert.Equal(t, domain.SourceSituationAnalysis, insights[0].Source)

	cycles := h.events(t, EventCronCycle)
	require.Len(t, cycles, 1)
	assert.Equal(t, situation.SourceAI, cycles[0].Payload["source"])
}

func TestRunCycleAutonomousCreatesGoalsOnce(t *testing.T) {
	h := newHarness(t, cycleProvider(), domain.ModeAutonomous)
	ctx := context.Background()

	rep, err := h.orch.RunCycle(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Clean bounced subscribers"}, rep.GoalsCreated)
	require.NotEmpty(t, rep.Tasks)
	assert.True(t, rep.Tasks[0].Executed)

	again, err := h.orch.RunCycle(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, again.GoalsCreated)
}

func TestRunCycleManualOnlySuggests(t *testing.T) {
	h := newHarness(t, cycleProvider(), domain.ModeManual)
	ctx := context.Background()

	rep, err := h.orch.RunCycle(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rep.ExecutionSkips)
	assert.Empty(t, rep.GoalsProposed)
	for _, task := range rep.Tasks {
		assert.False(t, task.Executed)
		assert.Empty(t, task.PlanID)
	}

	plans, err := h.repos.Plans.Query(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestScoreTasksHasNoSideEffects(t *testing.T) {
	h := newHarness(t, cycleProvider(), domain.ModeAutonomous)
	ctx := context.Background()

	tasks, err := h.orch.ScoreTasks(ctx, "u1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)
	assert.Equal(t, "Clean bounced subscribers", tasks[0].Title)
	for i := 1; i < len(tasks); i++ {
		assert.GreaterOrEqual(t, tasks[i-1].Score, tasks[i].Score)
	}

	settings, err := h.repos.Settings.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, settings.LastCronRunAt)
	plans, err := h.repos.Plans.Query(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, plans)
	assert.Empty(t, h.events(t, EventCronCycle))
}

func TestFilterPriority(t *testing.T) {
	tasks := []domain.Task{
		{Title: "u", Priority: domain.PriorityUrgent},
		{Title: "h", Priority: domain.PriorityHigh},
		{Title: "m", Priority: domain.PriorityMedium},
		{Title: "l", Priority: domain.PriorityLow},
	}
	titles := func(ts []domain.Task) string {
		var out []string
		for _, t := range ts {
			out = append(out, t.Title)
		}
		return strings.Join(out, ",")
	}

	cases := map[domain.Priority]string{
		domain.PriorityHigh:   "u,h",
		domain.PriorityMedium: "u,h,m",
		domain.PriorityLow:    "u,h,m,l",
	}
	for min, want := range cases {
		if got := titles(filterPriority(tasks, min)); got != want {
			t.Fatalf("filterPriority(%s) = %s, want %s", min, got, want)
		}
	}
}

func TestFormatCycle(t *testing.T) {
	got := FormatCycle(&CycleReport{
		Analysis:      &situation.Report{Summary: "All good."},
		GoalsProposed: []string{"Grow list"},
		Tasks: []TaskOutcome{
			{Task: domain.Task{Title: "Clean", Agent: "list"}, Executed: true},
			{Task: domain.Task{Title: "Promo", Agent: "campaign"}, ApprovalID: "a1"},
		},
		Duration: time.Second,
	})
	assert.True(t, strings.HasPrefix(got, "🤖 **Brain cycle finished**\n\nAll good.\n"), got)
	assert.Contains(t, got, "🎯 Proposed goal (needs approval): Grow list")
	assert.Contains(t, got, "✅ 1.")
	assert.Contains(t, got, "⏳ 2.")
	assert.Contains(t, got, "(approve a1)")

	assert.Contains(t, FormatCycle(&CycleReport{}), "Nothing needed doing")
	assert.Empty(t, FormatCycle(nil))
}
