// Package goal turns multi-step objectives into ordered sub-plans and tracks
// their progress across sessions.
package goal

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/conversation"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/skill"
	"github.com/harunnryd/brain/internal/structured"
)

const (
	DefaultMaxFailedPlans  = 3
	DefaultConfidenceFloor = 0.6

	minEntries = 2
	maxEntries = 6
)

// Agents a decomposition may use, with the hint shown to the model.
var agentHints = []struct{ name, hint string }{
	{"campaign", "email/SMS campaigns, drip series, sends"},
	{"list", "subscriber lists, cleanup, tagging"},
	{"message", "content creation, subject lines, A/B variants"},
	{"crm", "contacts, deals, pipelines, tasks"},
	{"analytics", "reports, trends, comparisons"},
	{"segmentation", "tags, segments, scoring, automations"},
	{"research", "web research, competitor analysis"},
}

type Options struct {
	MaxFailedPlans  int
	ConfidenceFloor float64
}

func OptionsFromConfig(cfg config.BrainConfig) Options {
	return Options{MaxFailedPlans: cfg.GoalMaxFailedPlans, ConfidenceFloor: cfg.GoalConfidenceFloor}
}

// Planner owns goal creation, decomposition and progress.
type Planner struct {
	gen       model.Generator
	repos     *repository.Repositories
	knowledge *knowledge.Service
	platform  platform.Platform
	skill     *skill.Skill
	opts      Options
	now       func() time.Time
}

func NewPlanner(gen model.Generator, repos *repository.Repositories, kb *knowledge.Service, pf platform.Platform, sk *skill.Skill, opts Options) *Planner {
	if opts.MaxFailedPlans <= 0 {
		opts.MaxFailedPlans = DefaultMaxFailedPlans
	}
	if opts.ConfidenceFloor <= 0 {
		opts.ConfidenceFloor = DefaultConfidenceFloor
	}
	if sk == nil {
		sk = skill.Marketing()
	}
	return &Planner{gen: gen, repos: repos, knowledge: kb, platform: pf, skill: sk, opts: opts, now: time.Now}
}

func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

// Definition describes a goal before it is persisted.
type Definition struct {
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Priority        domain.Priority `json:"priority"`
	SuccessCriteria []string        `json:"success_criteria"`
	EstimatedPlans  int             `json:"estimated_plans"`
	Confidence      float64         `json:"confidence"`
	Source          string          `json:"-"`
}

// IsGoalRequest asks the model whether message is a multi-step objective.
// It returns nil when it is not, when the model is unsure, or when the call
// fails.
func (p *Planner) IsGoalRequest(ctx context.Context, message string, acct agent.Account) *Definition {
	prompt := fmt.Sprintf(`Analyze this user message and determine if it's a HIGH-LEVEL GOAL or a SIMPLE ACTION.

A GOAL is a multi-step objective that requires planning, multiple actions over time,
and has clear success criteria. Examples:
- "Re-engage inactive subscribers from the last 6 months"
- "Build an automated welcome series for new subscribers"
- "Increase open rates by 20%% in the next month"

A SIMPLE ACTION is a single, immediate task. Examples:
- "Create a new subscriber list"
- "Send me subscriber statistics"
- "Write an email about a product launch"

USER MESSAGE: %s

Respond in VALID JSON ONLY:
{
  "is_goal": true/false,
  "title": "short goal title (max 8 words)",
  "description": "1-2 sentence description of the goal",
  "priority": "low|medium|high|urgent",
  "success_criteria": ["criterion 1", "criterion 2"],
  "estimated_plans": 2-8,
  "confidence": 0.0-1.0
}

%s`, message, languageLine(acct))

	resp, err := p.gen.Generate(ctx, acct.Settings, domain.TaskOrchestration, prompt, model.Options{MaxTokens: 500, Temperature: 0.2})
	if err != nil {
		logger.FromContext(ctx).Warn("Goal detection failed", "error", err)
		return nil
	}

	var reply struct {
		Definition
		IsGoal   bool   `json:"is_goal"`
		Priority string `json:"priority"`
	}
	if _, err := structured.DecodeObject(resp.Content, &reply); err != nil {
		return nil
	}
	if !reply.IsGoal || reply.Confidence < p.opts.ConfidenceFloor || strings.TrimSpace(reply.Title) == "" {
		return nil
	}
	def := reply.Definition
	def.Priority = domain.ParsePriority(reply.Priority)
	def.Confidence = structured.Clamp01(def.Confidence)
	return &def
}

// CreateGoal persists an active goal and decomposes it right away. A failed
// decomposition leaves the goal without sub-plans rather than failing.
func (p *Planner) CreateGoal(ctx context.Context, acct agent.Account, def Definition) (*domain.Goal, error) {
	title := strings.TrimSpace(def.Title)
	if title == "" {
		return nil, brainErrors.InvalidInput("goal title is required")
	}
	source := def.Source
	if source == "" {
		source = domain.SourceUser
	}
	priority := def.Priority
	if priority.Rank() == 0 {
		priority = domain.PriorityMedium
	}

	now := p.now()
	goal := &domain.Goal{
		UserID:          acct.ID(),
		Title:           title,
		Description:     strings.TrimSpace(def.Description),
		Priority:        priority,
		SuccessCriteria: def.SuccessCriteria,
		Status:          domain.GoalActive,
		Source:          source,
		CreatedAt:       now,
	}
	if err := p.repos.Goals.Create(ctx, goal); err != nil {
		return nil, fmt.Errorf("save goal: %w", err)
	}
	logger.FromContext(ctx).Info("Goal created", "goal_id", goal.ID, "title", goal.Title, "source", source)

	if _, err := p.Decompose(ctx, goal, acct); err != nil {
		logger.FromContext(ctx).Warn("Goal decomposition failed", "goal_id", goal.ID, "error", err)
	}
	return goal, nil
}

// Decompose asks the model for the sub-plans still needed to reach the goal
// and stores them on it.
func (p *Planner) Decompose(ctx context.Context, goal *domain.Goal, acct agent.Account) ([]domain.DecompositionEntry, error) {
	plans, err := p.goalPlans(ctx, goal)
	if err != nil {
		return nil, err
	}
	completed := 0
	var done strings.Builder
	for _, pl := range plans {
		if pl.Status != domain.PlanCompleted {
			continue
		}
		completed++
		summary := pl.Summary
		if summary == "" {
			summary = "completed"
		}
		fmt.Fprintf(&done, "- %s (%s): %s\n", pl.Title, pl.Intent, truncate(summary, 200))
	}

	var prompt strings.Builder
	prompt.WriteString("You are an expert marketing strategist. Decompose this goal into sequential plans.\n\n")
	fmt.Fprintf(&prompt, "GOAL: %s\nDESCRIPTION: %s\n", goal.Title, goal.Description)
	if len(goal.SuccessCriteria) > 0 {
		prompt.WriteString("SUCCESS CRITERIA:\n")
		for _, c := range goal.SuccessCriteria {
			prompt.WriteString("- " + c + "\n")
		}
	}
	if done.Len() > 0 {
		prompt.WriteString("\nALREADY COMPLETED PLANS (already done, do not repeat):\n" + done.String())
	}
	if p.knowledge != nil {
		if kb, err := p.knowledge.GetContext(ctx, goal.UserID, knowledge.ProfileGeneral); err == nil && kb != "" {
			prompt.WriteString("\n" + kb + "\n")
		}
	}
	fmt.Fprintf(&prompt, "\nCreate %d-%d sequential plans. Each plan must be executable by one of these agents:\n", minEntries, maxEntries)
	for _, a := range agentHints {
		fmt.Fprintf(&prompt, "- %s: %s\n", a.name, a.hint)
	}
	prompt.WriteString(`
Respond in VALID JSON ONLY:
{
  "plans": [
    {"order": 1, "agent": "agent_name", "intent": "what this plan should achieve", "title": "short plan title", "depends_on": null, "description": "what to do"}
  ]
}

IMPORTANT: Only include plans NOT yet completed. ` + languageLine(acct))

	resp, err := p.gen.Generate(ctx, acct.Settings, domain.TaskOrchestration, prompt.String(), model.Options{MaxTokens: 2000, Temperature: 0.3})
	if err != nil {
		return nil, err
	}
	var reply struct {
		Plans []domain.DecompositionEntry `json:"plans"`
	}
	if _, err := structured.DecodeObject(resp.Content, &reply); err != nil {
		return nil, brainErrors.InvalidModelOutput(fmt.Sprintf("goal decomposition: %v", err))
	}

	entries := make([]domain.DecompositionEntry, 0, len(reply.Plans))
	for _, e := range reply.Plans {
		e.Agent = strings.ToLower(strings.TrimSpace(e.Agent))
		if !knownAgent(e.Agent) || strings.TrimSpace(e.Intent) == "" {
			continue
		}
		if e.Title == "" {
			e.Title = e.Intent
		}
		e.PlanID = ""
		entries = append(entries, e)
		if len(entries) == maxEntries {
			break
		}
	}
	if len(entries) == 0 {
		return nil, brainErrors.InvalidModelOutput("goal decomposition has no usable plans")
	}
	for i := range entries {
		if entries[i].Order <= 0 {
			entries[i].Order = i + 1
		}
	}

	goal.Decomposition = entries
	goal.SetContext(domain.GoalContextDecomposition, entries)
	goal.CompletedPlans = completed
	goal.TotalPlans = completed + len(entries)
	if err := p.repos.Goals.Update(ctx, goal); err != nil {
		return nil, fmt.Errorf("save goal decomposition: %w", err)
	}
	logger.FromContext(ctx).Info("Goal decomposed", "goal_id", goal.ID, "entries", len(entries))
	return entries, nil
}

func knownAgent(name string) bool {
	for _, a := range agentHints {
		if a.name == name {
			return true
		}
	}
	return false
}

// NextAction returns the first entry that is not done and whose dependency
// is satisfied, or nil when nothing is runnable.
func (p *Planner) NextAction(ctx context.Context, goal *domain.Goal) (*domain.DecompositionEntry, error) {
	if len(goal.Decomposition) == 0 {
		return nil, nil
	}
	plans, err := p.goalPlans(ctx, goal)
	if err != nil {
		return nil, err
	}
	t := newTracker(goal, plans)
	for i := range goal.Decomposition {
		e := goal.Decomposition[i]
		if t.done(e) || t.inFlight(e) {
			continue
		}
		if e.DependsOn != "" && !t.dependencyMet(e.DependsOn) {
			continue
		}
		return &e, nil
	}
	return nil, nil
}

// tracker decides which decomposition entries are done.
type tracker struct {
	goal      *domain.Goal
	status    map[string]domain.PlanStatus
	completed []string
}

func newTracker(goal *domain.Goal, plans []*domain.ActionPlan) *tracker {
	t := &tracker{goal: goal, status: make(map[string]domain.PlanStatus, len(plans))}
	for _, pl := range plans {
		t.status[pl.ID] = pl.Status
		if pl.Status == domain.PlanCompleted && strings.TrimSpace(pl.Intent) != "" {
			t.completed = append(t.completed, strings.ToLower(pl.Intent))
		}
	}
	return t
}

// done prefers the explicit plan link and falls back to a fuzzy match of
// the entry intent against completed plan intents.
func (t *tracker) done(e domain.DecompositionEntry) bool {
	if e.PlanID != "" {
		if status, ok := t.status[e.PlanID]; ok {
			return status == domain.PlanCompleted
		}
	}
	return t.fuzzyDone(e.Intent)
}

// inFlight reports whether the entry's linked plan is still running or
// awaiting approval.
func (t *tracker) inFlight(e domain.DecompositionEntry) bool {
	status, ok := t.status[e.PlanID]
	return ok && e.PlanID != "" && !status.Terminal()
}

func (t *tracker) fuzzyDone(intent string) bool {
	intent = strings.ToLower(strings.TrimSpace(intent))
	if intent == "" {
		return false
	}
	for _, ci := range t.completed {
		if strings.Contains(ci, intent) || strings.Contains(intent, ci) {
			return true
		}
	}
	return false
}

func (t *tracker) dependencyMet(dep string) bool {
	if order, err := strconv.Atoi(dep); err == nil {
		for _, e := range t.goal.Decomposition {
			if e.Order == order {
				return t.done(e)
			}
		}
		// A dependency on an entry that no longer exists was completed in an
		// earlier decomposition.
		return true
	}
	for _, e := range t.goal.Decomposition {
		if strings.EqualFold(e.Intent, dep) || strings.EqualFold(e.Title, dep) {
			return t.done(e)
		}
	}
	return t.fuzzyDone(dep)
}

// LinkPlan ties a plan to its goal and decomposition entry and persists both.
func (p *Planner) LinkPlan(ctx context.Context, goal *domain.Goal, entry *domain.DecompositionEntry, plan *domain.ActionPlan) error {
	plan.GoalID = goal.ID
	if entry == nil || !goal.AttachPlan(entry.Order, plan.ID) {
		goal.LinkPlan(plan.ID)
	}
	if len(goal.PlanIDs) > goal.TotalPlans {
		goal.TotalPlans = len(goal.PlanIDs)
	}
	if err := p.repos.Plans.Update(ctx, plan); err != nil {
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}
	if err := p.repos.Goals.Update(ctx, goal); err != nil {
		return fmt.Errorf("save goal %s: %w", goal.ID, err)
	}
	return nil
}

// ActiveGoal returns the user's most recently created active goal, or nil.
func (p *Planner) ActiveGoal(ctx context.Context, userID string) (*domain.Goal, error) {
	return p.repos.Goals.Last(ctx, userID, func(g *domain.Goal) bool {
		return g.Status == domain.GoalActive
	})
}

// ActiveGoals returns the user's active goals, highest priority first.
func (p *Planner) ActiveGoals(ctx context.Context, userID string) ([]*domain.Goal, error) {
	goals, err := p.repos.Goals.Query(ctx, userID, func(g *domain.Goal) bool {
		return g.Status == domain.GoalActive
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(goals, func(a, b *domain.Goal) int {
		return b.Priority.Rank() - a.Priority.Rank()
	})
	return goals, nil
}

func (p *Planner) goalPlans(ctx context.Context, goal *domain.Goal) ([]*domain.ActionPlan, error) {
	plans, err := p.repos.Plans.Query(ctx, goal.UserID, func(pl *domain.ActionPlan) bool {
		return pl.GoalID == goal.ID || goal.HasPlan(pl.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("load goal plans: %w", err)
	}
	return plans, nil
}

func languageLine(acct agent.Account) string {
	return fmt.Sprintf("IMPORTANT: Respond in %s.", conversation.ResolveLanguage(acct.User, acct.Settings))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
