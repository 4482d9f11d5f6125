package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/conversation"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/goal"
	"github.com/harunnryd/brain/internal/intent"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/mode"
	"github.com/harunnryd/brain/internal/model/modeltest"
	"github.com/harunnryd/brain/internal/performance"
	"github.com/harunnryd/brain/internal/plan"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/scorer"
	"github.com/harunnryd/brain/internal/situation"
	"github.com/harunnryd/brain/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
users:
  u1:
    lists:
      - {id: l1, name: Newsletter}
    contacts:
      - {id: c1, email: ann@example.com, list_ids: [l1]}
      - {id: c2, email: bob@example.com, list_ids: [l1], subscriber_status: bounced}
`

const (
	notGoal      = `{"is_goal": false, "confidence": 0.9}`
	classifyChat = `{"requires_agent": false, "agent": null, "intent": "greeting", "task_type": "conversation", "confidence": 0.9}`
	classifyList = `{"requires_agent": true, "agent": "list", "intent": "show list stats", "task_type": "orchestration", "confidence": 0.9, "parameters": {"list_id": "l1"}}`
	classifyBare = `{"requires_agent": true, "agent": "list", "intent": "tidy my lists", "task_type": "orchestration", "confidence": 0.9, "parameters": {}}`
	listPlan     = `{"title": "List health", "description": "Check the newsletter", "steps": [{"action_type": "show_stats", "title": "Stats", "config": {}}]}`
	chatReply    = "Hello Ann, how can I help?"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type harness struct {
	provider *modeltest.Provider
	repos    *repository.Repositories
	orch     *Orchestrator
}

// scripted answers every prompt the message flow sends, with classify as the
// classifier reply.
func scripted(classify string) *modeltest.Provider {
	return modeltest.New().
		On("HIGH-LEVEL GOAL", notGoal).
		On("Classify the user's intent", classify).
		On("Create a detailed plan", listPlan).
		On("Generate a SHORT title", "List Health Check").
		On("needs advice", "Open the lists page and click stats.").
		Default(chatReply)
}

func newHarness(t *testing.T, provider *modeltest.Provider, wm domain.WorkMode) *harness {
	t.Helper()
	clock := func() time.Time { return testNow }
	pf := platform.NewMemory().WithClock(clock)
	require.NoError(t, pf.LoadFixture(strings.NewReader(fixture)))

	repos := repository.New(store.NewMemoryBackend())
	completer := modeltest.Completer(provider).WithClock(clock)
	kb := knowledge.NewService(repos, completer, nil, config.KnowledgeConfig{})
	reg, err := agent.NewDefaultRegistry(agent.Deps{
		Generator: completer,
		Knowledge: kb,
		Platform:  pf,
		Engine:    plan.NewEngine(plan.Options{}).WithClock(clock),
		Repos:     repos,
		Now:       clock,
	})
	require.NoError(t, err)

	modes := mode.NewController(repos, reg, mode.Options{}).WithClock(clock)
	planner := goal.NewPlanner(completer, repos, kb, pf, nil, goal.Options{}).WithClock(clock)
	tracker := performance.NewTracker(repos, completer, kb, pf, performance.Options{}).WithClock(clock)

	settings := domain.DefaultSettings("u1")
	settings.WorkMode = wm
	settings.CronEnabled = true
	require.NoError(t, repos.Settings.Update(context.Background(), settings))

	orch := New(Deps{
		Completer:     completer,
		Repos:         repos,
		Conversations: conversation.NewManager(repos, reg, 20).WithClock(clock),
		Classifier:    intent.NewClassifier(completer, reg, nil),
		Registry:      reg,
		Modes:         modes,
		Goals:         planner,
		Advancer:      goal.NewAdvancer(planner, reg, modes, 0),
		Knowledge:     kb,
		Situation:     situation.NewAnalyzer(completer, repos, pf, planner, tracker, kb, nil).WithClock(clock),
		Scorer:        scorer.New(repos, pf).WithClock(clock),
		Platform:      pf,
	}, Options{}).WithClock(clock)

	return &harness{provider: provider, repos: repos, orch: orch}
}

func (h *harness) send(t *testing.T, text, convID string) *Response {
	t.Helper()
	resp, err := h.orch.ProcessMessage(context.Background(), Request{
		Text:           text,
		UserID:         "u1",
		Channel:        domain.ChannelWeb,
		ConversationID: convID,
	})
	require.NoError(t, err)
	return resp
}

func (h *harness) conversation(t *testing.T, id string) *domain.Conversation {
	t.Helper()
	conv, err := h.repos.Conversations.Get(context.Background(), id)
	require.NoError(t, err)
	return conv
}

func (h *harness) events(t *testing.T, event string) []*domain.ActivityLog {
	t.Helper()
	logs, err := h.repos.Activity.Query(context.Background(), "u1", func(l *domain.ActivityLog) bool {
		return l.Event == event
	})
	require.NoError(t, err)
	return logs
}

func (h *harness) promptContaining(t *testing.T, marker string) string {
	t.Helper()
	for _, call := range h.provider.Calls() {
		last := call.Messages[len(call.Messages)-1].Content
		if strings.Contains(last, marker) {
			return last
		}
	}
	t.Fatalf("no prompt contains %q", marker)
	return ""
}

func TestProcessMessageConversation(t *testing.T) {
	h := newHarness(t, scripted(classifyChat), domain.ModeSemiAuto)

	resp := h.send(t, "Hi there", "")
	assert.Equal(t, TypeConversation, resp.Type)
	assert.Equal(t, chatReply, resp.Message)
	assert.Equal(t, "greeting", resp.Intent)
	assert.Equal(t, modeltest.ModelName, resp.Model)
	assert.Equal(t, "List Health Check", resp.Title)
	require.NotEmpty(t, resp.ConversationID)

	conv := h.conversation(t, resp.ConversationID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, domain.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, chatReply, conv.Messages[1].Content)
	assert.Equal(t, "greeting", conv.Messages[1].Metadata["intent"])
	assert.Equal(t, "List Health Check", conv.Title)

	settings, err := h.repos.Settings.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 15, settings.TokensUsedToday)

	assert.Len(t, h.events(t, EventBrainStart), 1)
	stops := h.events(t, EventBrainStop)
	require.Len(t, stops, 1)
	assert.Equal(t, "completed", stops[0].Status)
}

func TestProcessMessageReusesConversation(t *testing.T) {
	h := newHarness(t, scripted(classifyChat), domain.ModeSemiAuto)

	first := h.send(t, "Hi there", "")
	second := h.send(t, "How are you?", first.ConversationID)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Len(t, h.conversation(t, first.ConversationID).Messages, 4)

	fresh := h.send(t, "Hello again", "missing")
	assert.NotEqual(t, "missing", fresh.ConversationID)
	assert.NotEqual(t, first.ConversationID, fresh.ConversationID)
}

func TestProcessMessageRequestsApprovalInSemiAuto(t *testing.T) {
	h := newHarness(t, scripted(classifyList), domain.ModeSemiAuto)
	ctx := context.Background()

	resp := h.send(t, "Show my list stats", "")
	require.Equal(t, TypeApprovalRequired, resp.Type, resp.Message)
	assert.Equal(t, "list", resp.Agent)
	require.NotEmpty(t, resp.ApprovalID)
	assert.Contains(t, resp.Message, "approve "+resp.ApprovalID)
	assert.Contains(t, resp.Message, "📋 List health")

	p, err := h.repos.Plans.Get(ctx, resp.PlanID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPendingApproval, p.Status)
	assert.Equal(t, resp.ConversationID, p.ConversationID)

	done, err := h.orch.HandleApproval(ctx, "u1", resp.ApprovalID, true, "")
	require.NoError(t, err)
	assert.Equal(t, TypePlanExecuted, done.Type)
	assert.Contains(t, done.Message, "List health")

	p, err = h.repos.Plans.Get(ctx, resp.PlanID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanCompleted, p.Status)
}

func TestHandleApprovalReject(t *testing.T) {
	h := newHarness(t, scripted(classifyList), domain.ModeSemiAuto)
	resp := h.send(t, "Show my list stats", "")

	out, err := h.orch.HandleApproval(context.Background(), "u1", resp.ApprovalID, false, "not now")
	require.NoError(t, err)
	assert.Equal(t, TypeConversation, out.Type)
	assert.Contains(t, out.Message, "rejected")

	_, err = h.orch.HandleApproval(context.Background(), "u2", resp.ApprovalID, true, "")
	require.ErrorIs(t, err, brainErrors.ErrNotFound)
}

func TestProcessMessageExecutesInAutonomous(t *testing.T) {
	h := newHarness(t, scripted(classifyList), domain.ModeAutonomous)

	resp := h.send(t, "Show my list stats", "")
	require.Equal(t, TypePlanExecuted, resp.Type, resp.Message)
	assert.Contains(t, resp.Message, "List health")

	p, err := h.repos.Plans.Get(context.Background(), resp.PlanID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanCompleted, p.Status)

	dispatch := h.events(t, EventAgentDispatch)
	require.Len(t, dispatch, 1)
	assert.Equal(t, "list", dispatch[0].Payload["agent"])
	assert.Len(t, h.events(t, EventAgentComplete), 1)
}

func TestProcessMessageLinksActiveGoal(t *testing.T) {
	h := newHarness(t, scripted(classifyList), domain.ModeAutonomous)
	ctx := context.Background()
	g := &domain.Goal{UserID: "u1", Title: "Healthy list", Priority: domain.PriorityHigh, Status: domain.GoalActive}
	require.NoError(t, h.repos.Goals.Create(ctx, g))

	resp := h.send(t, "Show my list stats", "")
	assert.Equal(t, g.ID, resp.GoalID)

	stored, err := h.repos.Goals.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.PlanIDs, resp.PlanID)
	assert.Equal(t, 1, stored.CompletedPlans)
}

func TestProcessMessageAsksForDetailsThenResumes(t *testing.T) {
	h := newHarness(t, scripted(classifyBare), domain.ModeSemiAuto)

	first := h.send(t, "Tidy my lists", "")
	require.Equal(t, TypeInfoRequest, first.Type)
	assert.Equal(t, "brain", first.Model)
	assert.Contains(t, first.Message, "What exactly do you want to achieve?")

	conv := h.conversation(t, first.ConversationID)
	name, _, ok := conv.Pending()
	require.True(t, ok)
	assert.Equal(t, "list", name)

	second := h.send(t, "Only the newsletter list", first.ConversationID)
	require.Equal(t, TypeApprovalRequired, second.Type, second.Message)
	assert.Contains(t, h.promptContaining(t, "Create a detailed plan"), `"user_details":"Only the newsletter list"`)

	_, _, ok = h.conversation(t, first.ConversationID).Pending()
	assert.False(t, ok)
}

func TestProcessMessageManualModeAdvises(t *testing.T) {
	h := newHarness(t, scripted(classifyList), domain.ModeManual)

	resp := h.send(t, "Show my list stats", "")
	assert.Equal(t, TypeAdvice, resp.Type)
	assert.Equal(t, "Open the lists page and click stats.", resp.Message)

	plans, err := h.repos.Plans.Query(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestProcessMessageDisabledAgent(t *testing.T) {
	h := newHarness(t, scripted(classifyList), domain.ModeAutonomous)
	ctx := context.Background()
	settings, err := h.repos.Settings.Get(ctx, "u1")
	require.NoError(t, err)
	settings.AgentPermissions = map[string]bool{"list": false}
	require.NoError(t, h.repos.Settings.Update(ctx, settings))

	resp := h.send(t, "Show my list stats", "")
	assert.Equal(t, TypeConversation, resp.Type)
	assert.Contains(t, resp.Message, "disabled")
}

func TestProcessMessageTokenLimit(t *testing.T) {
	h := newHarness(t, scripted(classifyChat), domain.ModeSemiAuto)
	ctx := context.Background()
	settings, err := h.repos.Settings.Get(ctx, "u1")
	require.NoError(t, err)
	settings.DailyTokenLimit = 10
	settings.TokensUsedToday = 10
	settings.TokensResetAt = testNow
	require.NoError(t, h.repos.Settings.Update(ctx, settings))

	resp := h.send(t, "Hi there", "")
	assert.Equal(t, TypeError, resp.Type)
	assert.Equal(t, tokenLimitReply, resp.Message)

	conv := h.conversation(t, resp.ConversationID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, tokenLimitReply, conv.Messages[1].Content)
	assert.Empty(t, h.provider.Calls())
}

func TestProcessMessageCreatesGoal(t *testing.T) {
	const goalReply = `{"is_goal": true, "title": "Healthy list", "description": "Keep the newsletter clean", "priority": "high", "confidence": 0.9}`
	const decomposition = `{"plans": [
  {"order": 1, "agent": "list", "intent": "clean bounced subscribers", "title": "Clean the list", "description": "Remove bounces"},
  {"order": 2, "agent": "list", "intent": "review list stats", "title": "Check list health", "depends_on": 1}
]}`
	provider := func() *modeltest.Provider {
		return modeltest.New().
			On("HIGH-LEVEL GOAL", goalReply).
			On("Decompose this goal", decomposition).
			On("Create a detailed plan", listPlan).
			Default(chatReply)
	}

	t.Run("semi auto waits", func(t *testing.T) {
		h := newHarness(t, provider(), domain.ModeSemiAuto)
		resp := h.send(t, "Keep my newsletter healthy", "")
		require.Equal(t, TypeGoalCreated, resp.Type, resp.Message)
		require.NotEmpty(t, resp.GoalID)
		assert.True(t, strings.HasPrefix(resp.Message, "🎯 **Goal created: Healthy list**"), resp.Message)
		assert.Contains(t, resp.Message, "📋 **Plan overview** (high priority)")
		assert.Contains(t, resp.Message, "  1. "+agent.Emoji("list")+" Clean the list\n     ↳ Remove bounces")
		assert.Contains(t, resp.Message, "ask for your approval")
		assert.Empty(t, resp.PlanID)
		assert.Len(t, h.events(t, EventGoalCreated), 1)
	})

	t.Run("autonomous starts", func(t *testing.T) {
		h := newHarness(t, provider(), domain.ModeAutonomous)
		resp := h.send(t, "Keep my newsletter healthy", "")
		require.Equal(t, TypeGoalCreated, resp.Type, resp.Message)
		require.NotEmpty(t, resp.PlanID)

		p, err := h.repos.Plans.Get(context.Background(), resp.PlanID)
		require.NoError(t, err)
		assert.Equal(t, resp.GoalID, p.GoalID)
		assert.Equal(t, domain.PlanCompleted, p.Status)
		assert.Contains(t, resp.Message, "List health")
	})
}

func TestProcessMessageSituation(t *testing.T) {
	const classifySituation = `{"requires_agent": false, "intent": "account review", "task_type": "situation_analysis", "confidence": 0.9}`
	const report = `{"summary": "Bounces are piling up.", "priorities": [{"title": "Clean bounces", "agent": "list", "action": "Remove bounced subscribers", "priority": "high"}]}`
	h := newHarness(t, modeltest.New().
		On("HIGH-LEVEL GOAL", notGoal).
		On("Classify the user's intent", classifySituation).
		On("CRM advisor", report).
		Default(chatReply), domain.ModeSemiAuto)

	resp := h.send(t, "How is my account doing?", "")
	assert.Equal(t, TypeSituationAnalysis, resp.Type)
	assert.True(t, strings.HasPrefix(resp.Message, "🧠 **Situation analysis**"), resp.Message)
	assert.Contains(t, resp.Message, "Bounces are piling up.")
	assert.NotContains(t, resp.Message, "Executed")
}

func TestProcessMessageRejectsBadInput(t *testing.T) {
	h := newHarness(t, scripted(classifyChat), domain.ModeSemiAuto)
	_, err := h.orch.ProcessMessage(context.Background(), Request{Text: "  ", UserID: "u1"})
	require.ErrorIs(t, err, brainErrors.ErrInvalidInput)
	_, err = h.orch.ProcessMessage(context.Background(), Request{Text: "hi"})
	require.ErrorIs(t, err, brainErrors.ErrInvalidInput)
}

func TestProcessMessageInvalidPlanFallsBackToConversation(t *testing.T) {
	provider := modeltest.New().
		On("HIGH-LEVEL GOAL", notGoal).
		On("Classify the user's intent", classifyList).
		On("Create a detailed plan", `{"title": "New list", "steps": [{"action_type": "create_list", "config": {}}]}`).
		Default(chatReply)
	h := newHarness(t, provider, domain.ModeAutonomous)

	resp := h.send(t, "Make me a new list", "")
	require.Equal(t, TypeConversation, resp.Type, resp.Message)
	assert.Equal(t, chatReply, resp.Message)
	assert.Equal(t, "list", resp.Agent)

	planPrompts := 0
	for _, call := range h.provider.Calls() {
		if strings.Contains(call.Messages[len(call.Messages)-1].Content, "Create a detailed plan") {
			planPrompts++
		}
	}
	assert.Equal(t, 2, planPrompts)

	plans, err := h.repos.Plans.Query(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestProcessMessageCriticalActionNeedsApprovalInAutonomous(t *testing.T) {
	provider := modeltest.New().
		On("HIGH-LEVEL GOAL", notGoal).
		On("Classify the user's intent", classifyList).
		On("Create a detailed plan", `{"title": "Drop newsletter", "steps": [{"action_type": "delete_list", "title": "Delete", "config": {"list_id": "l1"}}]}`).
		Default(chatReply)
	h := newHarness(t, provider, domain.ModeAutonomous)

	resp := h.send(t, "Delete the newsletter list", "")
	require.Equal(t, TypeApprovalRequired, resp.Type, resp.Message)
	require.NotEmpty(t, resp.ApprovalID)
	assert.Empty(t, h.events(t, EventAgentDispatch))
}

func TestHandleApprovalReportsPreferredModel(t *testing.T) {
	h := newHarness(t, scripted(classifyList), domain.ModeSemiAuto)
	ctx := context.Background()
	resp := h.send(t, "Show my list stats", "")
	require.Equal(t, TypeApprovalRequired, resp.Type, resp.Message)

	settings, err := h.repos.Settings.Get(ctx, "u1")
	require.NoError(t, err)
	settings.PreferredModel = "house-model"
	require.NoError(t, h.repos.Settings.Update(ctx, settings))

	done, err := h.orch.HandleApproval(ctx, "u1", resp.ApprovalID, true, "")
	require.NoError(t, err)
	assert.Equal(t, TypePlanExecuted, done.Type)
	assert.Equal(t, "house-model", done.Model)
}
