package domain

import (
	"encoding/json"
	"fmt"
	"time"

	brainErrors "github.com/harunnryd/brain/internal/errors"
)

type PlanStatus string

const (
	PlanDraft           PlanStatus = "draft"
	PlanPendingApproval PlanStatus = "pending_approval"
	PlanExecuting       PlanStatus = "executing"
	PlanCompleted       PlanStatus = "completed"
	PlanFailed          PlanStatus = "failed"
)

var planTransitions = map[PlanStatus][]PlanStatus{
	PlanDraft:           {PlanPendingApproval, PlanExecuting, PlanFailed},
	PlanPendingApproval: {PlanExecuting, PlanFailed},
	PlanExecuting:       {PlanCompleted, PlanFailed},
}

// Terminal reports whether no further transitions are possible.
func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanFailed
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

var stepTransitions = map[StepStatus][]StepStatus{
	StepPending:   {StepExecuting},
	StepExecuting: {StepCompleted, StepFailed},
}

// Plan triggers.
const (
	TriggerChat = "chat"
	TriggerCron = "cron_task"
	TriggerGoal = "goal"
)

type ActionPlan struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	AgentType      string           `json:"agent_type"`
	Intent         string           `json:"intent"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Steps          []ActionPlanStep `json:"steps"`
	WorkMode       WorkMode         `json:"work_mode"`
	Status         PlanStatus       `json:"status"`
	TotalSteps     int              `json:"total_steps"`
	CompletedSteps int              `json:"completed_steps"`
	FailedSteps    int              `json:"failed_steps"`
	GoalID         string           `json:"goal_id,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Trigger        string           `json:"trigger,omitempty"`
	Category       string           `json:"category,omitempty"`
	TaskTitle      string           `json:"task_title,omitempty"`
	Summary        string           `json:"summary,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

type ActionPlanStep struct {
	Order       int            `json:"step_order"`
	ActionType  string         `json:"action_type"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Config      StepConfig     `json:"config"`
	Status      StepStatus     `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StepSpec is the pre-validation shape of a step as produced by an agent.
type StepSpec struct {
	ActionType  string          `json:"action_type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Config      json.RawMessage `json:"config"`
}

// NewPlan materializes a draft plan. Step configs are decoded against their
// action type and unknown actions are rejected here rather than at execution.
// allowed restricts action types to an agent's capability set; nil allows any
// known action.
func NewPlan(userID, agentType, intent, title, description string, mode WorkMode, specs []StepSpec, allowed map[string]bool, now time.Time) (*ActionPlan, error) {
	if len(specs) == 0 {
		return nil, brainErrors.InvalidModelOutput("plan has no steps")
	}

	steps := make([]ActionPlanStep, 0, len(specs))
	for i, spec := range specs {
		if allowed != nil && !allowed[spec.ActionType] {
			return nil, fmt.Errorf("agent %s step %d %q: %w", agentType, i+1, spec.ActionType, brainErrors.ErrUnknownAction)
		}
		cfg, err := DecodeStepConfig(spec.ActionType, spec.Config)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		title := spec.Title
		if title == "" {
			title = spec.ActionType
		}
		steps = append(steps, ActionPlanStep{
			Order:       i + 1,
			ActionType:  spec.ActionType,
			Title:       title,
			Description: spec.Description,
			Config:      cfg,
			Status:      StepPending,
		})
	}

	return &ActionPlan{
		UserID:      userID,
		AgentType:   agentType,
		Intent:      intent,
		Title:       title,
		Description: description,
		Steps:       steps,
		WorkMode:    mode,
		Status:      PlanDraft,
		TotalSteps:  len(steps),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Transition moves the plan to the next status, enforcing the state graph.
func (p *ActionPlan) Transition(to PlanStatus, now time.Time) error {
	for _, next := range planTransitions[p.Status] {
		if next != to {
			continue
		}
		p.Status = to
		p.UpdatedAt = now
		switch to {
		case PlanExecuting:
			p.StartedAt = &now
		case PlanCompleted, PlanFailed:
			p.CompletedAt = &now
		}
		return nil
	}
	return fmt.Errorf("plan %s: %s -> %s: %w", p.ID, p.Status, to, brainErrors.ErrInvalidTransition)
}

// RecountSteps derives the completed/failed counters from step outcomes.
func (p *ActionPlan) RecountSteps() {
	p.CompletedSteps, p.FailedSteps = 0, 0
	for _, s := range p.Steps {
		switch s.Status {
		case StepCompleted:
			p.CompletedSteps++
		case StepFailed:
			p.FailedSteps++
		}
	}
}

// Transition moves a step to the next status, enforcing the state graph.
func (s *ActionPlanStep) Transition(to StepStatus, now time.Time) error {
	for _, next := range stepTransitions[s.Status] {
		if next != to {
			continue
		}
		s.Status = to
		switch to {
		case StepExecuting:
			s.StartedAt = &now
		case StepCompleted, StepFailed:
			s.CompletedAt = &now
		}
		return nil
	}
	return fmt.Errorf("step %d: %s -> %s: %w", s.Order, s.Status, to, brainErrors.ErrInvalidTransition)
}

// EffectiveAction returns the action checked against the critical-action
// list. A config may escalate its action, e.g. a send to every subscriber.
func (s *ActionPlanStep) EffectiveAction() string {
	if esc, ok := s.Config.(interface{ EffectiveAction() string }); ok {
		if action := esc.EffectiveAction(); action != "" {
			return action
		}
	}
	return s.ActionType
}

// ResultString returns a result field as a string.
func (s *ActionPlanStep) ResultString(key string) string {
	if v, ok := s.Result[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func (s ActionPlanStep) MarshalJSON() ([]byte, error) {
	type alias ActionPlanStep
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Config json.RawMessage `json:"config"`
	}{alias: alias(s), Config: cfg})
}

func (s *ActionPlanStep) UnmarshalJSON(data []byte) error {
	type alias ActionPlanStep
	aux := struct {
		*alias
		Config json.RawMessage `json:"config"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	cfg, err := DecodeStepConfig(s.ActionType, aux.Config)
	if err != nil {
		return err
	}
	s.Config = cfg
	return nil
}
