package goal

import (
	"context"
	"errors"
	"fmt"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/intent"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/mode"
)

const DefaultMaxGoalsPerCycle = 3

// Advance reports what a scheduled cycle did for one goal.
type Advance struct {
	GoalID     string
	GoalTitle  string
	Entry      int
	PlanID     string
	ApprovalID string
	Executed   bool
	Decision   Action
	Message    string
}

// Advancer moves active goals forward from the scheduled cycle.
type Advancer struct {
	planner  *Planner
	registry *agent.Registry
	modes    *mode.Controller
	maxGoals int
}

func NewAdvancer(planner *Planner, registry *agent.Registry, modes *mode.Controller, maxGoals int) *Advancer {
	if maxGoals <= 0 {
		maxGoals = DefaultMaxGoalsPerCycle
	}
	return &Advancer{planner: planner, registry: registry, modes: modes, maxGoals: maxGoals}
}

// AdvanceActiveGoals plans the next runnable entry of each active goal and
// either executes it or parks it for approval, following the user's mode.
// Goals with a plan still in flight are left alone. One goal's failure does
// not stop the others.
func (a *Advancer) AdvanceActiveGoals(ctx context.Context, acct agent.Account) ([]Advance, error) {
	if acct.Settings != nil && acct.Settings.WorkMode == domain.ModeManual {
		return nil, nil
	}
	goals, err := a.planner.ActiveGoals(ctx, acct.ID())
	if err != nil {
		return nil, err
	}
	if len(goals) > a.maxGoals {
		goals = goals[:a.maxGoals]
	}

	var (
		out  []Advance
		errs []error
	)
	for _, g := range goals {
		adv, err := a.advance(ctx, acct, g)
		if err != nil {
			logger.FromContext(ctx).Warn("Goal advance failed", "goal_id", g.ID, "error", err)
			errs = append(errs, fmt.Errorf("goal %s: %w", g.ID, err))
			continue
		}
		if adv != nil {
			out = append(out, *adv)
		}
	}
	return out, errors.Join(errs...)
}

// AdvanceGoal moves one goal forward right away, as the autonomous mode does
// after a goal is created from chat. It returns nil when nothing is runnable.
func (a *Advancer) AdvanceGoal(ctx context.Context, acct agent.Account, g *domain.Goal) (*Advance, error) {
	if g == nil || g.Status != domain.GoalActive {
		return nil, nil
	}
	return a.advance(ctx, acct, g)
}

func (a *Advancer) advance(ctx context.Context, acct agent.Account, g *domain.Goal) (*Advance, error) {
	plans, err := a.planner.goalPlans(ctx, g)
	if err != nil {
		return nil, err
	}
	for _, pl := range plans {
		if !pl.Status.Terminal() {
			return nil, nil
		}
	}

	if len(g.Decomposition) == 0 {
		if _, err := a.planner.Decompose(ctx, g, acct); err != nil {
			return nil, err
		}
	}
	next, err := a.planner.NextAction(ctx, g)
	if err != nil || next == nil {
		return nil, err
	}

	ag, err := a.registry.Get(next.Agent)
	if err != nil {
		return nil, err
	}
	in := domain.Intent{
		RequiresAgent: true,
		Agent:         next.Agent,
		Intent:        next.Intent,
		TaskType:      intent.TaskFor(next.Agent),
		Confidence:    1,
		Parameters: map[string]any{
			"has_user_details": true,
			"goal":             g.Title,
			"details":          next.Description,
		},
	}
	pctx := agent.PlanContext{
		Channel: domain.ChannelCron,
		Trigger: domain.TriggerGoal,
		GoalID:  g.ID,
	}
	if a.planner.knowledge != nil {
		kb, err := a.planner.knowledge.GetContext(ctx, acct.ID(), knowledge.ProfileFor(next.Agent))
		if err != nil {
			return nil, err
		}
		pctx.Knowledge = kb
	}

	adv := &Advance{GoalID: g.ID, GoalTitle: g.Title, Entry: next.Order}
	p, err := ag.Plan(ctx, in, acct, pctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		adv.Message = fmt.Sprintf("No usable plan for step %d of %q.", next.Order, g.Title)
		return adv, nil
	}
	if err := a.planner.LinkPlan(ctx, g, next, p); err != nil {
		return nil, err
	}
	adv.PlanID = p.ID

	if mode.PlanRequiresApproval(p, acct.Settings) {
		approval, err := a.modes.RequestApproval(ctx, p, domain.ChannelCron)
		if err != nil {
			return nil, err
		}
		adv.ApprovalID = approval.ID
		adv.Message = fmt.Sprintf("🎯 %s: plan %q awaits approval.", g.Title, p.Title)
		return adv, nil
	}

	res, err := ag.Execute(ctx, p, acct)
	if err != nil {
		return nil, err
	}
	adv.Executed = true
	adv.Message = res.Message
	decision, err := a.planner.OnPlanFinished(ctx, p)
	if err != nil {
		return nil, err
	}
	adv.Decision = decision.Action
	return adv, nil
}
