// Package mode gates plans by the user's work mode and owns the approval
// lifecycle for plans and proposed goals.
package mode

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/repository"
)

const (
	DefaultApprovalTTL     = 24 * time.Hour
	DefaultGoalApprovalTTL = 48 * time.Hour
)

// Activity events written by the controller.
const (
	EventApprovalRequested = "approval_requested"
	EventApprovalResolved  = "approval_resolved"
)

const awaitingApproval = "awaiting approval"

// RequiresApproval reports whether an action may not run without a human
// decision. Critical actions always need one.
func RequiresApproval(actionType string, settings *domain.BrainSettings) bool {
	if slices.Contains(domain.CriticalActions, actionType) {
		return true
	}
	if settings == nil {
		return true
	}
	return settings.WorkMode != domain.ModeAutonomous
}

// PlanRequiresApproval reports whether any step of p requires approval.
func PlanRequiresApproval(p *domain.ActionPlan, settings *domain.BrainSettings) bool {
	for i := range p.Steps {
		if RequiresApproval(p.Steps[i].EffectiveAction(), settings) {
			return true
		}
	}
	return false
}

type Options struct {
	ApprovalTTL     time.Duration
	GoalApprovalTTL time.Duration
}

func OptionsFromConfig(cfg config.BrainConfig) (Options, error) {
	ttl, err := config.DurationOrDefault(cfg.ApprovalTTL, config.DefaultBrainApprovalTTL)
	if err != nil {
		return Options{}, fmt.Errorf("brain.approval_ttl: %w", err)
	}
	goalTTL, err := config.DurationOrDefault(cfg.GoalApprovalTTL, config.DefaultBrainGoalApprovalTTL)
	if err != nil {
		return Options{}, fmt.Errorf("brain.goal_approval_ttl: %w", err)
	}
	return Options{ApprovalTTL: ttl, GoalApprovalTTL: goalTTL}, nil
}

// Controller persists approvals and executes approved plans through their
// agent.
type Controller struct {
	repos    *repository.Repositories
	registry *agent.Registry
	opts     Options
	now      func() time.Time
}

func NewController(repos *repository.Repositories, registry *agent.Registry, opts Options) *Controller {
	if opts.ApprovalTTL <= 0 {
		opts.ApprovalTTL = DefaultApprovalTTL
	}
	if opts.GoalApprovalTTL <= 0 {
		opts.GoalApprovalTTL = DefaultGoalApprovalTTL
	}
	return &Controller{repos: repos, registry: registry, opts: opts, now: time.Now}
}

func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Mode returns the user's current work mode.
func (c *Controller) Mode(ctx context.Context, userID string) (domain.WorkMode, error) {
	settings, err := c.repos.SettingsFor(ctx, userID)
	if err != nil {
		return "", err
	}
	return settings.WorkMode, nil
}

// SetMode validates and persists a new work mode.
func (c *Controller) SetMode(ctx context.Context, userID, value string) (*domain.BrainSettings, error) {
	mode, err := domain.ParseWorkMode(value)
	if err != nil {
		return nil, err
	}
	settings, err := c.repos.SettingsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	previous := settings.WorkMode
	settings.WorkMode = mode
	if err := c.repos.Settings.Update(ctx, settings); err != nil {
		return nil, fmt.Errorf("save work mode: %w", err)
	}
	logger.FromContext(ctx).Info("Work mode changed", "user_id", userID, "from", previous, "to", mode)
	return settings, nil
}

// RequestApproval parks the plan in pending_approval and records the
// decision the user has to make.
func (c *Controller) RequestApproval(ctx context.Context, p *domain.ActionPlan, channel string) (*domain.PendingApproval, error) {
	now := c.now()
	if err := p.Transition(domain.PlanPendingApproval, now); err != nil {
		return nil, err
	}
	if err := c.repos.Plans.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("save plan %s: %w", p.ID, err)
	}

	approval := &domain.PendingApproval{
		UserID:    p.UserID,
		Kind:      domain.ApprovalKindPlan,
		PlanID:    p.ID,
		GoalID:    p.GoalID,
		Channel:   channel,
		Status:    domain.ApprovalPending,
		Summary:   PlanSummary(p),
		CreatedAt: now,
		ExpiresAt: now.Add(c.opts.ApprovalTTL),
	}
	approval.ID = repository.NewID(now)
	if err := c.repos.Approvals.Create(ctx, approval); err != nil {
		return nil, fmt.Errorf("save approval: %w", err)
	}

	c.logActivity(ctx, p.UserID, EventApprovalRequested, "pending", map[string]any{
		"approval_id": approval.ID,
		"plan_id":     p.ID,
		"channel":     channel,
	})
	logger.FromContext(ctx).Info("Approval requested", "approval_id", approval.ID, "plan_id", p.ID, "expires_at", approval.ExpiresAt)
	return approval, nil
}

// PlanSummary renders a plan for an approval prompt.
func PlanSummary(p *domain.ActionPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s\n", p.Title)
	if p.Description != "" {
		b.WriteString(p.Description + "\n")
	}
	b.WriteString("\nSteps:\n")
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "%d. %s", s.Order, s.Title)
		if s.Description != "" {
			fmt.Fprintf(&b, " - %s", s.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Outcome is the result of resolving an approval.
type Outcome struct {
	Approval *domain.PendingApproval
	Plan     *domain.ActionPlan
	Goal     *domain.Goal
	Result   agent.Result
	Executed bool
}

// ProcessApproval approves or rejects a pending approval owned by userID.
// Approving a plan executes it; rejecting leaves the plan in
// pending_approval. Expiry is detected here and persisted before the error
// is returned.
func (c *Controller) ProcessApproval(ctx context.Context, approvalID, userID string, approved bool, reason string) (Outcome, error) {
	approval, err := c.repos.Approvals.GetOwned(ctx, approvalID, userID)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Approval: approval}
	if err := approval.Resolve(approved, reason, c.now()); err != nil {
		if errors.Is(err, brainErrors.ErrApprovalExpired) {
			if saveErr := c.repos.Approvals.Update(ctx, approval); saveErr != nil {
				return out, errors.Join(err, saveErr)
			}
		}
		return out, err
	}
	if err := c.repos.Approvals.Update(ctx, approval); err != nil {
		return out, fmt.Errorf("save approval: %w", err)
	}

	status := string(approval.Status)
	c.logActivity(ctx, userID, EventApprovalResolved, status, map[string]any{
		"approval_id": approval.ID,
		"kind":        approval.Kind,
		"reason":      reason,
	})
	logger.FromContext(ctx).Info("Approval resolved", "approval_id", approval.ID, "kind", approval.Kind, "status", status)

	switch approval.Kind {
	case domain.ApprovalKindGoal:
		goal, err := c.resolveGoal(ctx, approval, approved)
		out.Goal = goal
		return out, err
	default:
		p, err := c.repos.Plans.GetOwned(ctx, approval.PlanID, userID)
		if err != nil {
			return out, err
		}
		out.Plan = p
		if !approved {
			return out, nil
		}
		res, err := c.execute(ctx, p)
		if err != nil {
			return out, err
		}
		out.Result = res
		out.Executed = true
		return out, nil
	}
}

func (c *Controller) execute(ctx context.Context, p *domain.ActionPlan) (agent.Result, error) {
	a, err := c.registry.Get(p.AgentType)
	if err != nil {
		return agent.Result{}, err
	}
	acct, err := c.account(ctx, p.UserID)
	if err != nil {
		return agent.Result{}, err
	}
	return a.Execute(ctx, p, acct)
}

func (c *Controller) account(ctx context.Context, userID string) (agent.Account, error) {
	user, err := c.repos.User(ctx, userID)
	if err != nil {
		return agent.Account{}, err
	}
	settings, err := c.repos.SettingsFor(ctx, userID)
	if err != nil {
		return agent.Account{}, err
	}
	return agent.Account{User: user, Settings: settings}, nil
}

func (c *Controller) resolveGoal(ctx context.Context, approval *domain.PendingApproval, approved bool) (*domain.Goal, error) {
	goal, err := c.repos.Goals.GetOwned(ctx, approval.GoalID, approval.UserID)
	if err != nil {
		return nil, err
	}
	if goal.Status != domain.GoalPaused {
		return goal, nil
	}
	if approved {
		goal.Status = domain.GoalActive
		delete(goal.Context, domain.GoalContextPausedReason)
	} else {
		goal.Status = domain.GoalCancelled
	}
	if err := c.repos.Goals.Update(ctx, goal); err != nil {
		return nil, fmt.Errorf("save goal %s: %w", goal.ID, err)
	}
	return goal, nil
}

// ListPending returns the user's open approvals, newest first. Approvals
// whose window has passed are marked expired and left out.
func (c *Controller) ListPending(ctx context.Context, userID string) ([]*domain.PendingApproval, error) {
	all, err := c.repos.Approvals.Query(ctx, userID, func(a *domain.PendingApproval) bool {
		return a.Status == domain.ApprovalPending
	})
	if err != nil {
		return nil, err
	}

	now := c.now()
	out := make([]*domain.PendingApproval, 0, len(all))
	for _, a := range all {
		if a.Expire(now) {
			if err := c.repos.Approvals.Update(ctx, a); err != nil {
				return nil, fmt.Errorf("expire approval %s: %w", a.ID, err)
			}
			continue
		}
		out = append(out, a)
	}
	slices.SortStableFunc(out, func(a, b *domain.PendingApproval) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// ProposeGoals stores goals as paused proposals and opens a goal approval
// for each. Approval activates a goal and rejection cancels it.
func (c *Controller) ProposeGoals(ctx context.Context, userID, channel string, goals []*domain.Goal) ([]*domain.PendingApproval, error) {
	now := c.now()
	out := make([]*domain.PendingApproval, 0, len(goals))
	for _, goal := range goals {
		goal.UserID = userID
		goal.Status = domain.GoalPaused
		goal.SetContext(domain.GoalContextPausedReason, awaitingApproval)
		if goal.ID == "" {
			goal.CreatedAt = now
			if err := c.repos.Goals.Create(ctx, goal); err != nil {
				return out, fmt.Errorf("save proposed goal: %w", err)
			}
		} else if err := c.repos.Goals.Update(ctx, goal); err != nil {
			return out, fmt.Errorf("save proposed goal: %w", err)
		}

		summary := fmt.Sprintf("🎯 Proposed goal: %s", goal.Title)
		if goal.Description != "" {
			summary += "\n" + goal.Description
		}
		approval := &domain.PendingApproval{
			ID:        repository.NewID(now),
			UserID:    userID,
			Kind:      domain.ApprovalKindGoal,
			GoalID:    goal.ID,
			Channel:   channel,
			Status:    domain.ApprovalPending,
			Summary:   summary,
			CreatedAt: now,
			ExpiresAt: now.Add(c.opts.GoalApprovalTTL),
		}
		if err := c.repos.Approvals.Create(ctx, approval); err != nil {
			return out, fmt.Errorf("save goal approval: %w", err)
		}
		out = append(out, approval)
	}
	if len(out) > 0 {
		logger.FromContext(ctx).Info("Goals proposed for approval", "user_id", userID, "count", len(out))
	}
	return out, nil
}

func (c *Controller) logActivity(ctx context.Context, userID, event, status string, payload map[string]any) {
	if err := c.repos.LogActivity(ctx, userID, event, status, payload); err != nil {
		logger.FromContext(ctx).Warn("Failed to write activity log", "event", event, "error", err)
	}
}
