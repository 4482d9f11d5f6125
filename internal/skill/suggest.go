package skill

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
)

// MaxGoalSuggestions caps SuggestGoals.
const MaxGoalSuggestions = 5

const recentWindow = 7 * 24 * time.Hour

// History is the plan and execution record the suggestion rules look at.
type History struct {
	RecentCampaignPlans int
	HasDripPlan         bool
	Executions          int
	RecentAnalytics     bool
}

// LoadHistory summarizes a user's plans and execution logs relative to now.
func LoadHistory(ctx context.Context, repos *repository.Repositories, userID string, now time.Time) (History, error) {
	var h History
	since := now.Add(-recentWindow)

	plans, err := repos.Plans.Query(ctx, userID, func(p *domain.ActionPlan) bool {
		return p.AgentType == "campaign"
	})
	if err != nil {
		return h, fmt.Errorf("load plans: %w", err)
	}
	for _, p := range plans {
		if !p.CreatedAt.Before(since) {
			h.RecentCampaignPlans++
		}
		if strings.Contains(strings.ToLower(p.Intent), "drip") {
			h.HasDripPlan = true
		}
	}

	logs, err := repos.Executions.Query(ctx, userID, nil)
	if err != nil {
		return h, fmt.Errorf("load execution logs: %w", err)
	}
	h.Executions = len(logs)
	for _, l := range logs {
		if l.Agent == "analytics" && !l.CreatedAt.Before(since) {
			h.RecentAnalytics = true
			break
		}
	}
	return h, nil
}

// SuggestedTasks derives rule-based tasks from account stats and history,
// ordered high, medium, low.
func (s *Skill) SuggestedTasks(stats platform.Stats, hist History, now time.Time) []domain.Task {
	vars := strings.NewReplacer(
		"{subscribers}", fmt.Sprint(stats.Subscribers),
		"{lists}", fmt.Sprint(stats.Lists),
		"{hot_leads}", fmt.Sprint(stats.HotLeads),
		"{open_deals}", fmt.Sprint(stats.OpenDeals),
	)

	var tasks []domain.Task
	add := func(key string) {
		sug, ok := s.Suggestions[key]
		if !ok {
			return
		}
		tasks = append(tasks, domain.Task{
			ID:          fmt.Sprintf("%s_%d", sug.IDPrefix, now.Unix()),
			Title:       vars.Replace(sug.Title),
			Description: vars.Replace(sug.Description),
			Category:    sug.Category,
			Priority:    sug.Priority,
			Agent:       sug.Agent,
			Action:      vars.Replace(sug.Action),
			Source:      "skill",
		})
	}

	if stats.Subscribers > 0 {
		if hist.RecentCampaignPlans == 0 && stats.Subscribers >= 10 {
			add("promotional_blast")
		}
		if !hist.HasDripPlan && stats.Subscribers >= 50 {
			add("drip_campaign")
		}
	}
	if stats.HotLeads > 0 {
		add("hot_leads")
	}
	if stats.OpenDeals > 3 {
		add("pipeline_review")
	}
	if hist.Executions > 10 && !hist.RecentAnalytics {
		add("weekly_report")
	}
	if stats.Subscribers > 100 {
		add("list_hygiene")
	}
	if stats.Subscribers >= 20 {
		add("segmentation")
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority.Rank() > tasks[j].Priority.Rank()
	})
	return tasks
}

// GoalSuggestion is a proposed goal derived from a suggested task.
type GoalSuggestion struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    domain.Priority `json:"priority"`
	Category    string          `json:"category"`
}

// SuggestGoals turns the suggested tasks into at most MaxGoalSuggestions goals.
func (s *Skill) SuggestGoals(stats platform.Stats, hist History, now time.Time) []GoalSuggestion {
	tasks := s.SuggestedTasks(stats, hist, now)
	if len(tasks) > MaxGoalSuggestions {
		tasks = tasks[:MaxGoalSuggestions]
	}
	out := make([]GoalSuggestion, 0, len(tasks))
	for _, t := range tasks {
		title := t.Title
		if title == "" {
			title = t.Description
		}
		out = append(out, GoalSuggestion{
			Title:       title,
			Description: t.Description,
			Priority:    t.Priority,
			Category:    t.Category,
		})
	}
	return out
}
