package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeStepSpecs() []StepSpec {
	return []StepSpec{
		{ActionType: "select_audience", Title: "Pick audience", Config: json.RawMessage(`{"list_ids":["l1"]}`)},
		{ActionType: "generate_content", Title: "Write copy", Config: json.RawMessage(`{"topic":"spring sale"}`)},
		{ActionType: "schedule_send", Title: "Send", Config: json.RawMessage(`{"send_at":"now"}`)},
	}
}

func TestNewPlanAssignsContiguousStepOrder(t *testing.T) {
	now := time.Now()
	plan, err := NewPlan("u1", "campaign", "send_campaign", "Spring sale", "", ModeSemiAuto, threeStepSpecs(), nil, now)
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, 3, plan.TotalSteps)
	assert.Equal(t, PlanDraft, plan.Status)
	for i, step := range plan.Steps {
		assert.Equal(t, i+1, step.Order)
		assert.Equal(t, StepPending, step.Status)
	}

	audience, ok := plan.Steps[0].Config.(*SelectAudienceConfig)
	require.True(t, ok, "expected typed config, got %T", plan.Steps[0].Config)
	assert.Equal(t, []string{"l1"}, audience.ListIDs)
}

func TestNewPlanRejectsUnknownAction(t *testing.T) {
	specs := append(threeStepSpecs(), StepSpec{ActionType: "launch_rocket"})
	_, err := NewPlan("u1", "campaign", "x", "x", "", ModeSemiAuto, specs, nil, time.Now())
	if !errors.Is(err, brainErrors.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestNewPlanRejectsActionOutsideAgentCapabilities(t *testing.T) {
	allowed := map[string]bool{"select_audience": true, "generate_content": true}
	_, err := NewPlan("u1", "campaign", "x", "x", "", ModeSemiAuto, threeStepSpecs(), allowed, time.Now())
	if !errors.Is(err, brainErrors.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestNewPlanRejectsEmptySteps(t *testing.T) {
	_, err := NewPlan("u1", "campaign", "x", "x", "", ModeSemiAuto, nil, nil, time.Now())
	if brainErrors.KindOf(err) != brainErrors.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPlanTransitionsAreMonotonic(t *testing.T) {
	now := time.Now()
	plan, err := NewPlan("u1", "list", "x", "x", "", ModeAutonomous, []StepSpec{{ActionType: "show_stats"}}, nil, now)
	require.NoError(t, err)

	require.NoError(t, plan.Transition(PlanPendingApproval, now))
	require.NoError(t, plan.Transition(PlanExecuting, now))
	require.NotNil(t, plan.StartedAt)
	require.NoError(t, plan.Transition(PlanCompleted, now))
	require.NotNil(t, plan.CompletedAt)

	for _, to := range []PlanStatus{PlanDraft, PlanExecuting, PlanPendingApproval, PlanFailed} {
		err := plan.Transition(to, now)
		if !errors.Is(err, brainErrors.ErrInvalidTransition) {
			t.Fatalf("completed -> %s: expected ErrInvalidTransition, got %v", to, err)
		}
	}
}

func TestStepTransitions(t *testing.T) {
	step := ActionPlanStep{Order: 1, Status: StepPending}
	now := time.Now()

	if err := step.Transition(StepCompleted, now); !errors.Is(err, brainErrors.ErrInvalidTransition) {
		t.Fatalf("pending -> completed should fail, got %v", err)
	}
	require.NoError(t, step.Transition(StepExecuting, now))
	require.NoError(t, step.Transition(StepFailed, now))
	if err := step.Transition(StepExecuting, now); err == nil {
		t.Fatal("failed step must not restart")
	}
}

func TestStepJSONKeepsTypedConfig(t *testing.T) {
	plan, err := NewPlan("u1", "campaign", "x", "x", "", ModeSemiAuto, threeStepSpecs(), nil, time.Now())
	require.NoError(t, err)

	raw, err := json.Marshal(plan)
	require.NoError(t, err)

	var decoded ActionPlan
	require.NoError(t, json.Unmarshal(raw, &decoded))
	content, ok := decoded.Steps[1].Config.(*GenerateContentConfig)
	require.True(t, ok, "got %T", decoded.Steps[1].Config)
	assert.Equal(t, "spring sale", content.Topic)
	assert.Equal(t, 2, decoded.Steps[1].Order)
}

func TestScheduleSendToAllEscalates(t *testing.T) {
	cfg, err := DecodeStepConfig("schedule_send", json.RawMessage(`{"send_to_all":true}`))
	require.NoError(t, err)
	step := ActionPlanStep{ActionType: "schedule_send", Config: cfg}
	assert.Equal(t, ActionSendToAll, step.EffectiveAction())

	cfg, err = DecodeStepConfig("schedule_send", nil)
	require.NoError(t, err)
	step.Config = cfg
	assert.Equal(t, "schedule_send", step.EffectiveAction())
}

func TestDecodeStepConfigValidates(t *testing.T) {
	if _, err := DecodeStepConfig("create_list", json.RawMessage(`{}`)); !errors.Is(err, brainErrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := DecodeStepConfig("save_to_knowledge", json.RawMessage(`{"category":"gossip"}`)); err == nil {
		t.Fatal("expected category validation error")
	}
	if _, err := DecodeStepConfig("create_deal", json.RawMessage(`{"value":"lots"}`)); !errors.Is(err, brainErrors.ErrInvalidModelOutput) {
		t.Fatalf("expected invalid model output, got %v", err)
	}
}

func TestRecountSteps(t *testing.T) {
	plan := &ActionPlan{Steps: []ActionPlanStep{
		{Status: StepCompleted}, {Status: StepFailed}, {Status: StepCompleted}, {Status: StepPending},
	}}
	plan.RecountSteps()
	assert.Equal(t, 2, plan.CompletedSteps)
	assert.Equal(t, 1, plan.FailedSteps)
}

func TestCriticalActionsDecode(t *testing.T) {
	for _, action := range []string{ActionDeleteList, ActionDeleteAllSubscribers} {
		_, err := DecodeStepConfig(action, json.RawMessage(`{}`))
		require.ErrorIs(t, err, brainErrors.ErrInvalidInput, action)

		cfg, err := DecodeStepConfig(action, json.RawMessage(`{"list_id": "l1"}`))
		require.NoError(t, err)
		assert.Equal(t, action, cfg.ActionType())
	}

	_, err := DecodeStepConfig(ActionChangeDomainSettings, json.RawMessage(`{}`))
	require.ErrorIs(t, err, brainErrors.ErrInvalidInput)
	_, err = DecodeStepConfig(ActionChangeDomainSettings, json.RawMessage(`{"reply_to": "nobody"}`))
	require.ErrorIs(t, err, brainErrors.ErrInvalidInput)

	for _, action := range CriticalActions {
		// send_to_all is an escalated schedule_send
		if action != ActionSendToAll && !KnownAction(action) {
			t.Fatalf("critical action %s has no config variant", action)
		}
	}
}
