package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/goal"
	"github.com/harunnryd/brain/internal/intent"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/mode"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/situation"
	"github.com/harunnryd/brain/internal/skill"
)

const (
	recentCampaignDays  = 14
	businessContextSize = 500
	topAutomations      = 5
)

// TaskOutcome is what happened to one task of a cycle.
type TaskOutcome struct {
	Task       domain.Task
	PlanID     string
	ApprovalID string
	Executed   bool
	Message    string
	Err        error
}

// CycleReport summarizes one autonomous cycle for a user.
type CycleReport struct {
	UserID         string
	Mode           domain.WorkMode
	Analysis       *situation.Report
	GoalsCreated   []string
	GoalsProposed  []string
	Candidates     int
	Tasks          []TaskOutcome
	StartedAt      time.Time
	Duration       time.Duration
	ExecutionSkips bool
}

// ExecuteCronTask plans a scheduled task with auto-gathered account context
// and either runs it or parks it for approval.
func (o *Orchestrator) ExecuteCronTask(ctx context.Context, acct agent.Account, task domain.Task) (TaskOutcome, error) {
	out := TaskOutcome{Task: task}
	ag, err := o.Registry.Get(task.Agent)
	if err != nil {
		return out, err
	}
	started := o.now()
	userID := acct.ID()
	o.logActivity(ctx, userID, EventCronTaskDispatch, "started", map[string]any{
		"task_id": task.ID,
		"title":   task.Title,
		"agent":   ag.Name(),
	})

	auto := o.gatherAutoContext(ctx, userID, ag.Name())
	params := make(map[string]any, len(task.Parameters)+3)
	for k, v := range task.Parameters {
		params[k] = v
	}
	params["auto_context"] = auto
	params["cron_task"] = task.Title
	params["has_user_details"] = true

	action := task.Action
	if action == "" {
		action = task.Title
	}
	in := domain.Intent{
		RequiresAgent: true,
		Agent:         ag.Name(),
		Intent:        action,
		TaskType:      intent.TaskFor(ag.Name()),
		Confidence:    1,
		Parameters:    params,
	}

	kb, err := o.Knowledge.GetContext(ctx, userID, knowledge.ProfileFor(ag.Name()))
	if err != nil {
		return out, err
	}
	if auto != "" {
		kb = strings.TrimSpace(kb + "\n\n--- AUTO-CONTEXT (from CRM/lists) ---\n" + auto)
	}
	pctx := agent.PlanContext{
		Knowledge: kb,
		Channel:   domain.ChannelCron,
		Trigger:   domain.TriggerCron,
		Category:  task.Category,
		TaskTitle: task.Title,
	}

	p, err := ag.Plan(ctx, in, acct, pctx)
	if err == nil && p == nil {
		err = fmt.Errorf("failed to create plan for cron task: %s: %w", task.Title, brainErrors.ErrInvalidModelOutput)
	}
	if err != nil {
		o.logActivity(ctx, userID, EventCronTaskError, "failed", map[string]any{
			"task_id": task.ID,
			"title":   task.Title,
			"error":   err.Error(),
		})
		return out, err
	}
	out.PlanID = p.ID

	if mode.PlanRequiresApproval(p, acct.Settings) {
		approval, err := o.Modes.RequestApproval(ctx, p, domain.ChannelCron)
		if err != nil {
			return out, err
		}
		out.ApprovalID = approval.ID
		out.Message = fmt.Sprintf("⏳ %s awaits approval.", p.Title)
	} else {
		msg, err := o.executePlan(ctx, ag, p, acct)
		if err != nil {
			o.logActivity(ctx, userID, EventCronTaskError, "failed", map[string]any{
				"task_id": task.ID,
				"plan_id": p.ID,
				"error":   err.Error(),
			})
			return out, err
		}
		out.Executed = true
		out.Message = msg
	}

	o.logActivity(ctx, userID, EventCronTaskComplete, "completed", map[string]any{
		"task_id":     task.ID,
		"plan_id":     p.ID,
		"executed":    out.Executed,
		"duration_ms": o.now().Sub(started).Milliseconds(),
	})
	return out, nil
}

// gatherAutoContext collects the account data an agent would otherwise ask
// the user for. Every source is best effort.
func (o *Orchestrator) gatherAutoContext(ctx context.Context, userID, agentName string) string {
	log := logger.FromContext(ctx)
	var b strings.Builder

	if lists, err := o.Platform.Lists(ctx, userID); err != nil {
		log.Warn("Auto-context: lists unavailable", "error", err)
	} else if len(lists) > 0 {
		b.WriteString("Available lists:\n")
		for _, l := range lists {
			n, err := o.Platform.SubscriberCount(ctx, userID, []string{l.ID})
			if err != nil {
				n = 0
			}
			fmt.Fprintf(&b, "- %s (ID: %s, %d subscribers)\n", l.Name, l.ID, n)
		}
	}

	since := o.now().AddDate(0, 0, -recentCampaignDays)
	recent, err := o.Repos.Plans.Query(ctx, userID, func(p *domain.ActionPlan) bool {
		return p.AgentType == "campaign" && !p.CreatedAt.Before(since)
	})
	if err == nil && len(recent) > 0 {
		b.WriteString("Recent campaigns (avoid repeating them):\n")
		for _, p := range recent {
			fmt.Fprintf(&b, "- %s (%s)\n", p.Title, p.CreatedAt.Format(time.DateOnly))
		}
	}

	if kb, err := o.Knowledge.GetContext(ctx, userID, knowledge.ProfileGeneral); err == nil && kb != "" {
		if len(kb) > businessContextSize {
			kb = kb[:businessContextSize]
		}
		b.WriteString("Business context:\n" + kb + "\n")
	}

	if slices.Contains([]string{"crm", "segmentation", "analytics"}, agentName) {
		if stats, err := o.Platform.Stats(ctx, userID); err == nil {
			fmt.Fprintf(&b, "CRM: %d hot leads, %d open deals, %d contacts\n", stats.HotLeads, stats.OpenDeals, stats.Contacts)
		}
	}
	if slices.Contains([]string{"segmentation", "campaign", "analytics"}, agentName) {
		if autos, err := o.Platform.Automations(ctx, userID); err == nil && len(autos) > 0 {
			b.WriteString(automationSummary(autos))
		}
	}
	if slices.Contains([]string{"campaign", "message", "analytics"}, agentName) {
		running, _ := o.Platform.ABTests(ctx, userID, "running")
		completed, _ := o.Platform.ABTests(ctx, userID, "completed")
		if len(running)+len(completed) > 0 {
			fmt.Fprintf(&b, "A/B tests: %d running, %d completed\n", len(running), len(completed))
		}
	}
	return strings.TrimSpace(b.String())
}

func automationSummary(autos []*platform.Automation) string {
	active := 0
	for _, a := range autos {
		if a.Active {
			active++
		}
	}
	top := slices.Clone(autos)
	slices.SortStableFunc(top, func(a, b *platform.Automation) int { return b.Runs - a.Runs })
	if len(top) > topAutomations {
		top = top[:topAutomations]
	}
	names := make([]string, 0, len(top))
	for _, a := range top {
		names = append(names, fmt.Sprintf("%s (%d runs)", a.Name, a.Runs))
	}
	return fmt.Sprintf("Automations: %d total, %d active. Top: %s\n", len(autos), active, strings.Join(names, ", "))
}

// RunCycle is the autonomous loop for one user: analyze the situation, seed
// goals when there are none, pick the best tasks and work on them.
func (o *Orchestrator) RunCycle(ctx context.Context, userID string) (*CycleReport, error) {
	ctx = logger.WithUserID(ctx, userID)
	log := logger.FromContext(ctx)
	acct, err := o.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	rep := &CycleReport{UserID: userID, Mode: acct.Settings.WorkMode, StartedAt: o.now()}

	analysis, err := o.Situation.Analyze(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("situation analysis: %w", err)
	}
	rep.Analysis = analysis

	if err := o.seedGoals(ctx, acct, analysis, rep); err != nil {
		log.Warn("Goal seeding failed", "error", err)
	}
	if analysis.Summary != "" {
		title := "Situation analysis " + rep.StartedAt.Format(time.DateOnly)
		if _, err := o.Knowledge.AddEntry(ctx, userID, domain.CategoryInsights, title, analysis.Summary, domain.SourceSituationAnalysis,
			knowledge.WithReference("cron:"+rep.StartedAt.Format(time.DateOnly))); err != nil {
			log.Warn("Failed to store situation insight", "error", err)
		}
	}

	candidates, err := o.cycleCandidates(ctx, userID, analysis)
	if err != nil {
		return nil, err
	}
	candidates = filterPriority(candidates, o.minPriority(acct.Settings))
	rep.Candidates = len(candidates)

	tasks, err := o.Scorer.Score(ctx, candidates, userID, o.opts.MaxTasksPerCycle)
	if err != nil {
		return nil, fmt.Errorf("score tasks: %w", err)
	}

	if acct.Settings.WorkMode == domain.ModeManual {
		rep.ExecutionSkips = true
		for _, t := range tasks {
			rep.Tasks = append(rep.Tasks, TaskOutcome{Task: t, Message: "Suggested only (manual mode)."})
		}
	} else {
		for _, t := range tasks {
			out, err := o.ExecuteCronTask(ctx, acct, t)
			if err != nil {
				log.Warn("Cron task failed", "task", t.Title, "error", err)
				out.Err = err
			}
			rep.Tasks = append(rep.Tasks, out)
		}
	}

	if err := o.markCycleRun(ctx, userID); err != nil {
		log.Warn("Failed to record cycle run", "error", err)
	}
	rep.Duration = o.now().Sub(rep.StartedAt)

	executed := 0
	for _, t := range rep.Tasks {
		if t.Executed {
			executed++
		}
	}
	o.logActivity(ctx, userID, EventCronCycle, "completed", map[string]any{
		"source":      analysis.Source,
		"candidates":  rep.Candidates,
		"tasks":       len(rep.Tasks),
		"executed":    executed,
		"goals":       len(rep.GoalsCreated) + len(rep.GoalsProposed),
		"duration_ms": rep.Duration.Milliseconds(),
	})
	return rep, nil
}

// ScoreTasks returns the tasks a cycle would pick right now without acting
// on them. A limit of 0 returns every candidate.
func (o *Orchestrator) ScoreTasks(ctx context.Context, userID string, limit int) ([]domain.Task, error) {
	ctx = logger.WithUserID(ctx, userID)
	acct, err := o.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	analysis, err := o.Situation.Analyze(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("situation analysis: %w", err)
	}
	candidates, err := o.cycleCandidates(ctx, userID, analysis)
	if err != nil {
		return nil, err
	}
	candidates = filterPriority(candidates, o.minPriority(acct.Settings))
	tasks, err := o.Scorer.Score(ctx, candidates, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("score tasks: %w", err)
	}
	return tasks, nil
}

func (o *Orchestrator) minPriority(settings *domain.BrainSettings) domain.Priority {
	if settings.CronMinPriority.Rank() > 0 {
		return settings.CronMinPriority
	}
	return o.opts.MinPriority
}

// seedGoals turns the top priorities of the analysis into goals when the
// user has none. Semi-auto users get them as proposals.
func (o *Orchestrator) seedGoals(ctx context.Context, acct agent.Account, analysis *situation.Report, rep *CycleReport) error {
	if acct.Settings.WorkMode == domain.ModeManual {
		return nil
	}
	active, err := o.Goals.ActiveGoals(ctx, acct.ID())
	if err != nil || len(active) > 0 {
		return err
	}

	var defs []goal.Definition
	for _, p := range analysis.Priorities {
		if p.Priority.Rank() < domain.PriorityHigh.Rank() {
			continue
		}
		defs = append(defs, goal.Definition{
			Title:       p.Title,
			Description: p.Action,
			Priority:    p.Priority,
			Source:      domain.SourceSituationAnalysis,
		})
		if len(defs) == o.opts.MaxGoalsPerCycle {
			break
		}
	}
	if len(defs) == 0 {
		return nil
	}

	if acct.Settings.WorkMode == domain.ModeAutonomous {
		var errs []error
		for _, def := range defs {
			g, err := o.Goals.CreateGoal(ctx, acct, def)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rep.GoalsCreated = append(rep.GoalsCreated, g.Title)
		}
		return errors.Join(errs...)
	}

	now := o.now()
	goals := make([]*domain.Goal, 0, len(defs))
	for _, def := range defs {
		goals = append(goals, &domain.Goal{
			UserID:      acct.ID(),
			Title:       def.Title,
			Description: def.Description,
			Priority:    def.Priority,
			Source:      def.Source,
			CreatedAt:   now,
		})
	}
	if _, err := o.Modes.ProposeGoals(ctx, acct.ID(), domain.ChannelCron, goals); err != nil {
		return err
	}
	for _, g := range goals {
		rep.GoalsProposed = append(rep.GoalsProposed, g.Title)
	}
	return nil
}

// cycleCandidates merges analysis tasks with rule-based suggestions. The
// analysis wins on duplicate titles.
func (o *Orchestrator) cycleCandidates(ctx context.Context, userID string, analysis *situation.Report) ([]domain.Task, error) {
	tasks := analysis.Tasks()
	stats, err := o.Platform.Stats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	hist, err := skill.LoadHistory(ctx, o.Repos, userID, o.now())
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		seen[strings.ToLower(t.Title)] = true
	}
	for _, t := range o.Skill.SuggestedTasks(stats, hist, o.now()) {
		key := strings.ToLower(t.Title)
		if seen[key] {
			continue
		}
		seen[key] = true
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// filterPriority keeps tasks the user's minimum accepts. Urgent tasks always
// pass.
func filterPriority(tasks []domain.Task, min domain.Priority) []domain.Task {
	accepted := domain.AcceptedPriorities(min)
	out := tasks[:0:0]
	for _, t := range tasks {
		if t.Priority == domain.PriorityUrgent || slices.Contains(accepted, t.Priority) {
			out = append(out, t)
		}
	}
	return out
}

func (o *Orchestrator) markCycleRun(ctx context.Context, userID string) error {
	return o.Locker.WithLock(userID, func() error {
		settings, err := o.Repos.SettingsFor(ctx, userID)
		if err != nil {
			return err
		}
		now := o.now()
		settings.LastCronRunAt = &now
		return o.Repos.Settings.Update(ctx, settings)
	})
}

// FormatCycle renders a cycle report for a chat notification.
func FormatCycle(rep *CycleReport) string {
	if rep == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("🤖 **Brain cycle finished**\n")
	if rep.Analysis != nil && rep.Analysis.Summary != "" {
		b.WriteString("\n" + rep.Analysis.Summary + "\n")
	}
	for _, title := range rep.GoalsCreated {
		fmt.Fprintf(&b, "\n🎯 New goal: %s", title)
	}
	for _, title := range rep.GoalsProposed {
		fmt.Fprintf(&b, "\n🎯 Proposed goal (needs approval): %s", title)
	}
	if len(rep.Tasks) == 0 {
		b.WriteString("\n\nNothing needed doing this time.")
		return b.String()
	}
	b.WriteString("\n\n📋 **Tasks**")
	for i, t := range rep.Tasks {
		status := "✅"
		switch {
		case t.Err != nil:
			status = "❌"
		case t.ApprovalID != "":
			status = "⏳"
		case !t.Executed:
			status = "💡"
		}
		fmt.Fprintf(&b, "\n%s %d. %s %s", status, i+1, agent.Emoji(t.Task.Agent), t.Task.Title)
		if t.ApprovalID != "" {
			fmt.Fprintf(&b, " (approve %s)", t.ApprovalID)
		}
	}
	return b.String()
}
