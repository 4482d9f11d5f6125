package goal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/logger"
)

// Action is what the caller should do after a plan of a goal finished.
type Action string

const (
	ActionNone     Action = "none"
	ActionAbort    Action = "abort"
	ActionRetry    Action = "retry"
	ActionPause    Action = "pause_goal"
	ActionComplete Action = "goal_completed"
)

type Decision struct {
	Action  Action
	Message string
	Goal    *domain.Goal
}

// OnPlanFinished folds a terminal plan into its goal: counters are
// recomputed, a fully done goal is completed and a failure goes through
// HandlePlanFailure.
func (p *Planner) OnPlanFinished(ctx context.Context, plan *domain.ActionPlan) (Decision, error) {
	if plan.GoalID == "" || !plan.Status.Terminal() {
		return Decision{Action: ActionNone}, nil
	}
	goal, err := p.loadGoal(ctx, plan)
	if err != nil || goal == nil {
		return Decision{Action: ActionNone}, err
	}

	goal.LinkPlan(plan.ID)
	if err := p.recount(ctx, goal); err != nil {
		return Decision{}, err
	}

	if plan.Status == domain.PlanFailed {
		return p.handleFailure(ctx, goal, plan, failureReason(plan))
	}

	decision := Decision{Action: ActionNone, Goal: goal}
	if goal.Status == domain.GoalActive && goal.TotalPlans > 0 && goal.CompletedPlans >= goal.TotalPlans {
		now := p.now()
		goal.Status = domain.GoalCompleted
		goal.CompletedAt = &now
		decision = Decision{Action: ActionComplete, Goal: goal, Message: fmt.Sprintf("✅ Goal %q is complete.", goal.Title)}
		logger.FromContext(ctx).Info("Goal completed", "goal_id", goal.ID)
	}
	if err := p.repos.Goals.Update(ctx, goal); err != nil {
		return Decision{}, fmt.Errorf("save goal %s: %w", goal.ID, err)
	}
	return decision, nil
}

// HandlePlanFailure decides how a failed plan affects its goal: abort when
// it has none, pause the goal once the failure budget is spent, otherwise
// record the failure and retry.
func (p *Planner) HandlePlanFailure(ctx context.Context, plan *domain.ActionPlan, reason string) (Decision, error) {
	if plan.GoalID == "" {
		return Decision{Action: ActionAbort, Message: reason}, nil
	}
	goal, err := p.loadGoal(ctx, plan)
	if err != nil {
		return Decision{}, err
	}
	if goal == nil {
		return Decision{Action: ActionAbort, Message: reason}, nil
	}
	goal.LinkPlan(plan.ID)
	if err := p.recount(ctx, goal); err != nil {
		return Decision{}, err
	}
	return p.handleFailure(ctx, goal, plan, reason)
}

func (p *Planner) handleFailure(ctx context.Context, goal *domain.Goal, plan *domain.ActionPlan, reason string) (Decision, error) {
	var decision Decision
	if goal.FailedPlans >= p.opts.MaxFailedPlans {
		goal.Status = domain.GoalPaused
		goal.SetContext(domain.GoalContextPausedReason, fmt.Sprintf("%d plans failed", goal.FailedPlans))
		decision = Decision{
			Action:  ActionPause,
			Goal:    goal,
			Message: fmt.Sprintf("⏸️ Goal %q was paused after %d failed plans. Review it before resuming.", goal.Title, goal.FailedPlans),
		}
		logger.FromContext(ctx).Warn("Goal paused after repeated failures", "goal_id", goal.ID, "failed_plans", goal.FailedPlans)
	} else {
		goal.SetContext(domain.GoalContextFailurePrefix+plan.ID, map[string]any{
			"plan_title": plan.Title,
			"reason":     reason,
			"failed_at":  p.now().Format(time.RFC3339),
		})
		decision = Decision{
			Action:  ActionRetry,
			Goal:    goal,
			Message: fmt.Sprintf("Plan %q failed; retrying goal %q with an adjusted approach.", plan.Title, goal.Title),
		}
	}
	if err := p.repos.Goals.Update(ctx, goal); err != nil {
		return Decision{}, fmt.Errorf("save goal %s: %w", goal.ID, err)
	}
	return decision, nil
}

func (p *Planner) loadGoal(ctx context.Context, plan *domain.ActionPlan) (*domain.Goal, error) {
	goal, err := p.repos.Goals.GetOwned(ctx, plan.GoalID, plan.UserID)
	if errors.Is(err, brainErrors.ErrNotFound) {
		return nil, nil
	}
	return goal, err
}

// recount derives the goal's plan counters from its linked plans.
func (p *Planner) recount(ctx context.Context, goal *domain.Goal) error {
	plans, err := p.goalPlans(ctx, goal)
	if err != nil {
		return err
	}
	goal.CompletedPlans, goal.FailedPlans = 0, 0
	for _, pl := range plans {
		goal.LinkPlan(pl.ID)
		switch pl.Status {
		case domain.PlanCompleted:
			goal.CompletedPlans++
		case domain.PlanFailed:
			goal.FailedPlans++
		}
	}
	goal.TotalPlans = max(goal.TotalPlans, len(goal.Decomposition), len(goal.PlanIDs)-goal.FailedPlans)
	return nil
}

func failureReason(plan *domain.ActionPlan) string {
	for _, s := range plan.Steps {
		if s.Status == domain.StepFailed && s.Error != "" {
			return s.Error
		}
	}
	if plan.Summary != "" {
		return plan.Summary
	}
	return "plan failed"
}
