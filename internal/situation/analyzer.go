// Package situation produces the periodic strategic review of an account:
// a short summary plus the few actions worth doing next.
package situation

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/conversation"
	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/goal"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/performance"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/skill"
	"github.com/harunnryd/brain/internal/structured"
)

const (
	EventSituationAnalysis = "situation_analysis"

	CategoryAIAnalysis = "ai_analysis"
	TaskSource         = "situation_analysis"

	SourceAI    = "ai"
	SourceRules = "rules"

	analysisMaxTokens = 8000
	analysisTemp      = 0.3
	maxRulePriorities = 3
	summaryLogLength  = 500
	activityWindow    = 7 * 24 * time.Hour
)

// Priority is one recommended next action.
type Priority struct {
	Title           string          `json:"title"`
	Agent           string          `json:"agent"`
	Action          string          `json:"action"`
	Priority        domain.Priority `json:"priority"`
	Reasoning       string          `json:"reasoning,omitempty"`
	EstimatedImpact string          `json:"estimated_impact,omitempty"`
	TargetListIDs   []string        `json:"target_list_ids,omitempty"`
	ExcludeSegments []string        `json:"exclude_segments,omitempty"`
}

type Report struct {
	Summary    string     `json:"summary"`
	Priorities []Priority `json:"priorities"`
	Source     string     `json:"source"`
}

// CalendarSource renders the campaigns already planned for the coming days.
type CalendarSource interface {
	UpcomingContext(ctx context.Context, userID string) (string, error)
}

// Analyzer builds a Report from everything the brain knows about a user.
type Analyzer struct {
	gen         model.Generator
	repos       *repository.Repositories
	platform    platform.Platform
	goals       *goal.Planner
	performance *performance.Tracker
	knowledge   *knowledge.Service
	skill       *skill.Skill
	calendar    CalendarSource
	now         func() time.Time
}

func NewAnalyzer(gen model.Generator, repos *repository.Repositories, pf platform.Platform, goals *goal.Planner, perf *performance.Tracker, kb *knowledge.Service, sk *skill.Skill) *Analyzer {
	if sk == nil {
		sk = skill.Marketing()
	}
	return &Analyzer{gen: gen, repos: repos, platform: pf, goals: goals, performance: perf, knowledge: kb, skill: sk, now: time.Now}
}

func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// WithCalendar adds the upcoming campaign calendar to the analysis prompt.
func (a *Analyzer) WithCalendar(src CalendarSource) *Analyzer {
	a.calendar = src
	return a
}

// Analyze asks the model for a situation report. When the model is
// unavailable or its reply is unusable the report is derived from the
// rule-based task suggestions instead.
func (a *Analyzer) Analyze(ctx context.Context, acct agent.Account) (*Report, error) {
	log := logger.FromContext(ctx).With("user_id", acct.ID())

	sc, err := a.gather(ctx, acct)
	if err != nil {
		return nil, err
	}

	report, aiErr := a.ask(ctx, acct, sc)
	if aiErr != nil {
		log.Warn("Situation analysis fell back to rules", "error", aiErr)
		if err := a.repos.LogActivity(ctx, acct.ID(), EventSituationAnalysis, "error", map[string]any{"error": aiErr.Error()}); err != nil {
			log.Warn("Failed to log situation analysis", "error", err)
		}
		report = a.fallback(sc)
	}

	priorities := make([]map[string]any, 0, len(report.Priorities))
	for _, p := range report.Priorities {
		priorities = append(priorities, map[string]any{"title": p.Title, "agent": p.Agent, "priority": string(p.Priority)})
	}
	if err := a.repos.LogActivity(ctx, acct.ID(), EventSituationAnalysis, "completed", map[string]any{
		"summary":          truncate(report.Summary, summaryLogLength),
		"priorities_count": len(report.Priorities),
		"priorities":       priorities,
		"source":           report.Source,
	}); err != nil {
		log.Warn("Failed to log situation analysis", "error", err)
	}
	log.Info("Situation analyzed", "source", report.Source, "priorities", len(report.Priorities))
	return report, nil
}

// snapshot is the account state the analysis is based on.
type snapshot struct {
	Stats          platform.Stats `json:"stats"`
	WorkMode       string         `json:"work_mode"`
	Executions     int            `json:"recent_executions"`
	Successes      int            `json:"recent_successes"`
	Failures       int            `json:"recent_failures"`
	AgentsUsed     []string       `json:"agents_used"`
	PendingPlans   int            `json:"pending_plans"`
	FailedPlans    int            `json:"failed_plans_recent"`
	CompletedPlans int            `json:"completed_plans_recent"`
	KnowledgeCount int            `json:"knowledge_entries"`

	history        skill.History
	goals          string
	performance    string
	knowledgeCtx   string
	calendar       string
	lastSummary    string
	lastAnalyzedAt time.Time
}

func (a *Analyzer) gather(ctx context.Context, acct agent.Account) (*snapshot, error) {
	userID := acct.ID()
	now := a.now()
	since := now.Add(-activityWindow)
	sc := &snapshot{}
	if acct.Settings != nil {
		sc.WorkMode = string(acct.Settings.WorkMode)
	}

	stats, err := a.platform.Stats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load platform stats: %w", err)
	}
	sc.Stats = stats

	if sc.history, err = skill.LoadHistory(ctx, a.repos, userID, now); err != nil {
		return nil, err
	}

	logs, err := a.repos.Executions.Query(ctx, userID, func(l *domain.ExecutionLog) bool {
		return !l.CreatedAt.Before(since)
	})
	if err != nil {
		return nil, fmt.Errorf("load execution logs: %w", err)
	}
	seen := map[string]bool{}
	for _, l := range logs {
		sc.Executions++
		switch l.Status {
		case domain.ExecutionSuccess:
			sc.Successes++
		case domain.ExecutionFailed:
			sc.Failures++
		}
		if !seen[l.Agent] {
			seen[l.Agent] = true
			sc.AgentsUsed = append(sc.AgentsUsed, l.Agent)
		}
	}

	plans, err := a.repos.Plans.Query(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	for _, p := range plans {
		recent := !p.CreatedAt.Before(since)
		switch {
		case p.Status == domain.PlanDraft || p.Status == domain.PlanPendingApproval:
			sc.PendingPlans++
		case p.Status == domain.PlanFailed && recent:
			sc.FailedPlans++
		case p.Status == domain.PlanCompleted && recent:
			sc.CompletedPlans++
		}
	}

	entries, err := a.repos.Knowledge.Query(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("load knowledge: %w", err)
	}
	sc.KnowledgeCount = len(entries)

	last, err := a.repos.Activity.Last(ctx, userID, func(l *domain.ActivityLog) bool {
		return l.Event == EventSituationAnalysis && l.Status == "completed"
	})
	if err != nil {
		return nil, fmt.Errorf("load last analysis: %w", err)
	}
	if last != nil {
		sc.lastSummary, _ = last.Payload["summary"].(string)
		sc.lastAnalyzedAt = last.CreatedAt
	}

	if a.goals != nil {
		if sc.goals, err = a.goals.ActiveGoalsContext(ctx, userID); err != nil {
			return nil, err
		}
	}
	if a.performance != nil {
		pc, err := a.performance.PerformanceContext(ctx, userID)
		if err != nil {
			return nil, err
		}
		sc.performance = pc.String()
	}
	if a.knowledge != nil {
		if sc.knowledgeCtx, err = a.knowledge.GetContext(ctx, userID, knowledge.ProfileAnalysis); err != nil {
			return nil, err
		}
	}
	if a.calendar != nil {
		if sc.calendar, err = a.calendar.UpcomingContext(ctx, userID); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

type priorityReply struct {
	Title           string   `json:"title"`
	Agent           string   `json:"agent"`
	Action          string   `json:"action"`
	Priority        string   `json:"priority"`
	Reasoning       string   `json:"reasoning"`
	EstimatedImpact string   `json:"estimated_impact"`
	TargetListIDs   []any    `json:"target_list_ids"`
	ExcludeSegments []string `json:"exclude_segments"`
}

func (a *Analyzer) ask(ctx context.Context, acct agent.Account, sc *snapshot) (*Report, error) {
	if a.gen == nil {
		return nil, fmt.Errorf("no model configured")
	}
	resp, err := a.gen.Generate(ctx, acct.Settings, domain.TaskSituation, a.prompt(acct, sc), model.Options{MaxTokens: analysisMaxTokens, Temperature: analysisTemp})
	if err != nil {
		return nil, err
	}
	var reply struct {
		Summary    string          `json:"summary"`
		Priorities []priorityReply `json:"priorities"`
	}
	if _, err := structured.DecodeObject(resp.Content, &reply); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply.Summary) == "" {
		return nil, fmt.Errorf("situation reply has no summary")
	}

	report := &Report{Summary: strings.TrimSpace(reply.Summary), Source: SourceAI}
	for _, p := range reply.Priorities {
		p.Agent = strings.ToLower(strings.TrimSpace(p.Agent))
		if strings.TrimSpace(p.Action) == "" || p.Agent == "" {
			continue
		}
		title := strings.TrimSpace(p.Title)
		if title == "" {
			title = truncate(p.Action, 60)
		}
		var lists []string
		for _, id := range p.TargetListIDs {
			if id != nil {
				lists = append(lists, fmt.Sprint(id))
			}
		}
		report.Priorities = append(report.Priorities, Priority{
			Title:           title,
			Agent:           p.Agent,
			Action:          strings.TrimSpace(p.Action),
			Priority:        domain.ParsePriority(p.Priority),
			Reasoning:       p.Reasoning,
			EstimatedImpact: p.EstimatedImpact,
			TargetListIDs:   lists,
			ExcludeSegments: p.ExcludeSegments,
		})
	}
	return report, nil
}

func (a *Analyzer) prompt(acct agent.Account, sc *snapshot) string {
	state, _ := json.MarshalIndent(sc, "", "  ")
	var b strings.Builder
	b.WriteString("You are an expert marketing strategist and CRM advisor for an email marketing and CRM platform.\n\n")
	b.WriteString("Analyze the user's current situation and decide what the most impactful next actions should be. ")
	b.WriteString("Generate ACTIONABLE tasks that agents can execute autonomously WITHOUT asking the user for more details.\n\n")
	b.WriteString("CURRENT CONTEXT:\n" + string(state) + "\n")
	if sc.goals != "" {
		b.WriteString("\n" + sc.goals)
	}
	if sc.performance != "" {
		b.WriteString("\n" + sc.performance)
	}
	if sc.knowledgeCtx != "" {
		b.WriteString("\n" + sc.knowledgeCtx)
	}
	if sc.calendar != "" {
		b.WriteString("\n" + sc.calendar)
		b.WriteString("Build on the planned campaigns instead of proposing duplicates.\n")
	}
	if sc.lastSummary != "" {
		fmt.Fprintf(&b, "\nPREVIOUS ANALYSIS (%s, avoid repeating the same recommendations if nothing changed):\n%s\n",
			sc.lastAnalyzedAt.Format(time.RFC3339), sc.lastSummary)
	}
	if extra := a.skill.SituationPrompt(); extra != "" {
		b.WriteString("\n" + extra + "\n")
	}
	b.WriteString(`
AVAILABLE AGENTS:
- campaign: email/SMS campaigns, drip series, automation
- list: subscriber lists, cleanup, hygiene
- message: content creation, email copy, A/B testing
- crm: contacts, deals, pipelines, tasks, follow-ups
- analytics: reports, trends, performance reviews
- segmentation: tags, segments, scoring, audience targeting
- research: web research, competitor analysis, market trends

Summarize the situation in 2-3 sentences, then give 1-3 highest-impact priorities. Each action must be self-contained
(topic, audience, tone, goal) so the agent can execute it without asking. Prefer actions that advance active goals and
use lessons from past campaign performance. Skip actions completed recently.

Respond in VALID JSON ONLY:
{
  "summary": "2-3 sentence situational summary",
  "priorities": [
    {"title": "max 10 words", "agent": "campaign|list|message|crm|analytics|segmentation|research",
     "action": "detailed self-contained action", "priority": "high|medium|low", "reasoning": "one sentence",
     "estimated_impact": "high|medium|low", "target_list_ids": [], "exclude_segments": []}
  ]
}
`)
	fmt.Fprintf(&b, "\nIMPORTANT: Respond in %s. All text fields must be in %s.", conversation.ResolveLanguage(acct.User, acct.Settings), conversation.ResolveLanguage(acct.User, acct.Settings))
	return b.String()
}

// fallback builds a report from the rule-based suggestions.
func (a *Analyzer) fallback(sc *snapshot) *Report {
	tasks := a.skill.SuggestedTasks(sc.Stats, sc.history, a.now())
	s := sc.Stats
	summary := fmt.Sprintf("You have %d subscribers across %d lists, %d contacts with %d hot leads and %d open deals.",
		s.Subscribers, s.Lists, s.Contacts, s.HotLeads, s.OpenDeals)
	if sc.Failures > 0 {
		summary += fmt.Sprintf(" %d executions failed in the last 7 days.", sc.Failures)
	}
	if len(tasks) == 0 {
		summary += " Nothing needs attention right now."
	} else {
		summary += fmt.Sprintf(" %d actions are suggested.", len(tasks))
	}

	report := &Report{Summary: summary, Source: SourceRules}
	for _, t := range tasks {
		if len(report.Priorities) == maxRulePriorities {
			break
		}
		report.Priorities = append(report.Priorities, Priority{
			Title:     t.Title,
			Agent:     t.Agent,
			Action:    t.Action,
			Priority:  t.Priority,
			Reasoning: t.Description,
		})
	}
	return report
}

// Tasks turns the report priorities into scorer candidates.
func (r *Report) Tasks() []domain.Task {
	if r == nil {
		return nil
	}
	out := make([]domain.Task, 0, len(r.Priorities))
	for _, p := range r.Priorities {
		params := map[string]any{}
		if len(p.TargetListIDs) > 0 {
			params["target_list_ids"] = p.TargetListIDs
		}
		if len(p.ExcludeSegments) > 0 {
			params["exclude_segments"] = p.ExcludeSegments
		}
		if p.EstimatedImpact != "" {
			params["estimated_impact"] = p.EstimatedImpact
		}
		out = append(out, domain.Task{
			ID:          TaskID(p),
			Title:       p.Title,
			Description: p.Reasoning,
			Category:    CategoryAIAnalysis,
			Priority:    p.Priority,
			Agent:       p.Agent,
			Action:      p.Action,
			Parameters:  params,
			Reasoning:   p.Reasoning,
			Source:      TaskSource,
		})
	}
	return out
}

// TaskID is stable for the same priority title and action.
func TaskID(p Priority) string {
	sum := sha1.Sum([]byte(p.Agent + "\x00" + p.Title + "\x00" + p.Action))
	return CategoryAIAnalysis + "_" + hex.EncodeToString(sum[:])[:12]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
