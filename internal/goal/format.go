package goal

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/skill"
)

// ActiveGoalsContext renders the user's active goals for agent prompts. It
// returns "" when there are none.
func (p *Planner) ActiveGoalsContext(ctx context.Context, userID string) (string, error) {
	goals, err := p.ActiveGoals(ctx, userID)
	if err != nil || len(goals) == 0 {
		return "", err
	}
	var b strings.Builder
	b.WriteString("USER'S ACTIVE GOALS:\n")
	for _, g := range goals {
		fmt.Fprintf(&b, "- [%s] %s (%d%% complete)\n", g.Priority, g.Title, g.Progress())
		if g.Description != "" {
			fmt.Fprintf(&b, "  Description: %s\n", g.Description)
		}
	}
	return b.String(), nil
}

func statusEmoji(s domain.GoalStatus) string {
	switch s {
	case domain.GoalActive:
		return "🎯"
	case domain.GoalPaused:
		return "⏸️"
	case domain.GoalCompleted:
		return "✅"
	case domain.GoalFailed:
		return "❌"
	case domain.GoalCancelled:
		return "🚫"
	}
	return "📋"
}

func planEmoji(s domain.PlanStatus) string {
	switch s {
	case domain.PlanCompleted:
		return "✅"
	case domain.PlanExecuting, domain.PlanPendingApproval:
		return "⏳"
	case domain.PlanFailed:
		return "❌"
	}
	return "⬜"
}

// FormatGoalStatus renders a goal with its progress, decomposition and
// linked plans for chat.
func (p *Planner) FormatGoalStatus(ctx context.Context, goal *domain.Goal) (string, error) {
	plans, err := p.goalPlans(ctx, goal)
	if err != nil {
		return "", err
	}
	return FormatGoalStatus(goal, plans), nil
}

// FormatGoalStatus renders goal with the given plans.
func FormatGoalStatus(goal *domain.Goal, plans []*domain.ActionPlan) string {
	byID := make(map[string]*domain.ActionPlan, len(plans))
	for _, pl := range plans {
		byID[pl.ID] = pl
	}
	t := newTracker(goal, plans)

	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s**\n", statusEmoji(goal.Status), goal.Title)
	fmt.Fprintf(&b, "Progress: %d%% (%d/%d plans)\n", goal.Progress(), goal.CompletedPlans, goal.TotalPlans)
	if goal.Description != "" {
		b.WriteString(goal.Description + "\n")
	}
	if reason, ok := goal.Context[domain.GoalContextPausedReason]; ok && goal.Status == domain.GoalPaused {
		fmt.Fprintf(&b, "Paused: %v\n", reason)
	}

	if len(goal.Decomposition) > 0 {
		b.WriteString("\n📋 Plan:\n")
		for _, e := range goal.Decomposition {
			emoji := "⬜"
			if pl, ok := byID[e.PlanID]; ok {
				emoji = planEmoji(pl.Status)
			} else if t.done(e) {
				emoji = "✅"
			}
			fmt.Fprintf(&b, "  %s %d. %s\n", emoji, e.Order, e.Title)
		}
	}

	var extra []*domain.ActionPlan
	linked := make(map[string]bool, len(goal.Decomposition))
	for _, e := range goal.Decomposition {
		linked[e.PlanID] = true
	}
	for _, pl := range plans {
		if !linked[pl.ID] {
			extra = append(extra, pl)
		}
	}
	if len(extra) > 0 {
		b.WriteString("\nLinked plans:\n")
		for _, pl := range extra {
			fmt.Fprintf(&b, "  %s %s\n", planEmoji(pl.Status), pl.Title)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// SuggestGoals proposes goals from the account's stats and history.
func (p *Planner) SuggestGoals(ctx context.Context, userID string) ([]skill.GoalSuggestion, error) {
	stats, err := p.platform.Stats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load platform stats: %w", err)
	}
	hist, err := skill.LoadHistory(ctx, p.repos, userID, p.now())
	if err != nil {
		return nil, err
	}
	return p.skill.SuggestGoals(stats, hist, p.now()), nil
}
