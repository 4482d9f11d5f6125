package skill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestMarketingSkillParses(t *testing.T) {
	s := Marketing()
	assert.Equal(t, "marketing_sales", s.Name)
	assert.Len(t, s.Categories, 12)
	assert.Contains(t, s.ClassifierPrompt(), "newsletters")
	assert.Contains(t, s.PlanningPrompt(), "AIDA")
	assert.NotEmpty(t, s.SituationPrompt())

	c, ok := s.Category("list_hygiene")
	require.True(t, ok)
	assert.Equal(t, "list", c.Agent)
	assert.Equal(t, domain.PriorityLow, c.Priority)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	_, err := Parse([]byte("name: x\ncategories:\n  - {id: a}\n  - {id: a}\n"))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "categories[1].id", verr.Field)

	_, err = Parse([]byte("name: x\nsuggestions:\n  s: {agent: crm, title: t, action: a, priority: someday}\n"))
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "suggestions.s.priority", verr.Field)

	_, err = Parse([]byte("name: [unterminated"))
	assert.Error(t, err)
}

func TestSuggestedTasksThresholds(t *testing.T) {
	s := Marketing()

	tests := []struct {
		name  string
		stats platform.Stats
		hist  History
		want  []string
	}{
		{
			name: "empty account",
			want: nil,
		},
		{
			name:  "small list",
			stats: platform.Stats{Subscribers: 15, Lists: 1},
			want:  []string{"promotional_blast"},
		},
		{
			name:  "recent campaign suppresses blast",
			stats: platform.Stats{Subscribers: 25, Lists: 1},
			hist:  History{RecentCampaignPlans: 1},
			want:  []string{"segmentation"},
		},
		{
			name:  "everything",
			stats: platform.Stats{Subscribers: 150, Lists: 2, HotLeads: 3, OpenDeals: 4},
			hist:  History{Executions: 11},
			want: []string{
				"promotional_blast", "drip_campaign", "crm_pipeline",
				"analytics_report", "segmentation",
				"analytics_report", "list_hygiene",
			},
		},
		{
			name:  "drip exists and analytics is fresh",
			stats: platform.Stats{Subscribers: 60, Lists: 1},
			hist:  History{RecentCampaignPlans: 2, HasDripPlan: true, Executions: 20, RecentAnalytics: true},
			want:  []string{"segmentation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := s.SuggestedTasks(tt.stats, tt.hist, now)
			var got []string
			for _, task := range tasks {
				got = append(got, task.Category)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSuggestedTasksRenderPlaceholders(t *testing.T) {
	tasks := Marketing().SuggestedTasks(platform.Stats{Subscribers: 40, Lists: 3, HotLeads: 2}, History{RecentCampaignPlans: 0}, now)
	require.NotEmpty(t, tasks)

	blast := tasks[0]
	assert.Equal(t, "Plan a campaign for 40 subscribers", blast.Title)
	assert.Contains(t, blast.Description, "3 lists")
	assert.Equal(t, "suggest_campaign_1772452800", blast.ID)
	assert.Equal(t, "campaign", blast.Agent)

	assert.Equal(t, "Follow up 2 hot leads", tasks[1].Title)
}

func TestSuggestGoalsCapsAtFive(t *testing.T) {
	goals := Marketing().SuggestGoals(platform.Stats{Subscribers: 150, Lists: 2, HotLeads: 3, OpenDeals: 4}, History{Executions: 11}, now)
	require.Len(t, goals, MaxGoalSuggestions)
	assert.Equal(t, domain.PriorityHigh, goals[0].Priority)
	assert.Equal(t, domain.PriorityMedium, goals[4].Priority)
}

func TestLoadHistory(t *testing.T) {
	ctx := context.Background()
	repos := repository.New(store.NewMemoryBackend())

	require.NoError(t, repos.Plans.Create(ctx, &domain.ActionPlan{UserID: "u1", AgentType: "campaign", Intent: "create_drip_series", CreatedAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, repos.Plans.Create(ctx, &domain.ActionPlan{UserID: "u1", AgentType: "campaign", Intent: "promo", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, repos.Plans.Create(ctx, &domain.ActionPlan{UserID: "u2", AgentType: "campaign", Intent: "promo", CreatedAt: now}))
	require.NoError(t, repos.Executions.Create(ctx, &domain.ExecutionLog{UserID: "u1", Agent: "analytics", CreatedAt: now.Add(-8 * 24 * time.Hour)}))
	require.NoError(t, repos.Executions.Create(ctx, &domain.ExecutionLog{UserID: "u1", Agent: "crm", CreatedAt: now}))

	h, err := LoadHistory(ctx, repos, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, History{RecentCampaignPlans: 1, HasDripPlan: true, Executions: 2}, h)
}
