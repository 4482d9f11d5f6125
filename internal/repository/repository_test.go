package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoCreateAssignsIDAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	repos := New(store.NewMemoryBackend())

	goal := &domain.Goal{UserID: "u1", Title: "Grow list", Priority: domain.PriorityHigh, Status: domain.GoalActive}
	require.NoError(t, repos.Goals.Create(ctx, goal))
	require.NotEmpty(t, goal.ID)
	assert.False(t, goal.CreatedAt.IsZero())

	loaded, err := repos.Goals.Get(ctx, goal.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grow list", loaded.Title)

	loaded.CompletedPlans = 2
	require.NoError(t, repos.Goals.Update(ctx, loaded))
	again, err := repos.Goals.Get(ctx, goal.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.CompletedPlans)
}

func TestRepoQueryFiltersByOwnerAndPredicate(t *testing.T) {
	ctx := context.Background()
	repos := New(store.NewMemoryBackend())

	for _, p := range []*domain.ActionPlan{
		{UserID: "u1", AgentType: "campaign", Status: domain.PlanCompleted},
		{UserID: "u1", AgentType: "crm", Status: domain.PlanCompleted},
		{UserID: "u2", AgentType: "campaign", Status: domain.PlanCompleted},
		{UserID: "u1", AgentType: "campaign", Status: domain.PlanFailed},
	} {
		require.NoError(t, repos.Plans.Create(ctx, p))
	}

	campaigns, err := repos.Plans.Query(ctx, "u1", func(p *domain.ActionPlan) bool {
		return p.AgentType == "campaign"
	})
	require.NoError(t, err)
	assert.Len(t, campaigns, 2)

	first, err := repos.Plans.First(ctx, "u1", func(p *domain.ActionPlan) bool {
		return p.Status == domain.PlanFailed
	})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "campaign", first.AgentType)

	none, err := repos.Plans.First(ctx, "u3", nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	owners, err := repos.Plans.Owners(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, owners)
}

func TestRepoPlanStepConfigSurvivesStorage(t *testing.T) {
	ctx := context.Background()
	repos := New(store.NewMemoryBackend())

	plan, err := domain.NewPlan("u1", "campaign", "send_newsletter", "Newsletter", "", domain.ModeSemiAuto, []domain.StepSpec{
		{ActionType: "select_audience", Config: []byte(`{"list_ids":["l1"]}`)},
		{ActionType: "schedule_send", Config: []byte(`{"message_id":"m1","send_to_all":true}`)},
	}, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, repos.Plans.Create(ctx, plan))

	loaded, err := repos.Plans.Get(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Steps, 2)

	audience, ok := loaded.Steps[0].Config.(*domain.SelectAudienceConfig)
	require.True(t, ok, "config type %T", loaded.Steps[0].Config)
	assert.Equal(t, []string{"l1"}, audience.ListIDs)
	assert.Equal(t, domain.ActionSendToAll, loaded.Steps[1].EffectiveAction())
}

func TestGetOwnedHidesOtherUsers(t *testing.T) {
	ctx := context.Background()
	repos := New(store.NewMemoryBackend())

	conv := &domain.Conversation{UserID: "u1", Channel: domain.ChannelWeb, Status: domain.ConversationActive}
	require.NoError(t, repos.Conversations.Create(ctx, conv))

	_, err := repos.Conversations.GetOwned(ctx, conv.ID, "u2")
	if !errors.Is(err, brainErrors.ErrNotFound) {
		t.Fatalf("GetOwned() error = %v, want ErrNotFound", err)
	}
	got, err := repos.Conversations.GetOwned(ctx, conv.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestSettingsForDefaults(t *testing.T) {
	ctx := context.Background()
	repos := New(store.NewMemoryBackend())

	settings, err := repos.SettingsFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeSemiAuto, settings.WorkMode)

	settings.CronEnabled = true
	require.NoError(t, repos.Settings.Update(ctx, settings))

	users, err := repos.CronUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].UserID)
}

func TestNewIDIsMonotonic(t *testing.T) {
	now := time.Now()
	a := NewID(now)
	b := NewID(now)
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
}

func TestLinkChat(t *testing.T) {
	ctx := context.Background()
	repos := New(store.NewMemoryBackend())

	require.NoError(t, repos.LinkChat(ctx, "u1", domain.ChannelTelegram, "456"))
	require.NoError(t, repos.LinkChat(ctx, "u1", domain.ChannelSlack, "C1"))
	require.NoError(t, repos.LinkChat(ctx, "u1", domain.ChannelWeb, "ignored"))

	settings, err := repos.Settings.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "456", settings.TelegramChatID)
	assert.Equal(t, "C1", settings.SlackChannel)
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()
	for _, kind := range []string{"memory", "sqlite", "file"} {
		t.Run(kind, func(t *testing.T) {
			repos, err := Open(config.StoreConfig{Backend: kind, DataDir: t.TempDir()})
			require.NoError(t, err)
			defer repos.Close()

			require.NoError(t, repos.LinkChat(ctx, "u1", domain.ChannelTelegram, "7"))
			settings, err := repos.Settings.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "7", settings.TelegramChatID)
		})
	}

	_, err := Open(config.StoreConfig{Backend: "postgres"})
	require.ErrorIs(t, err, brainErrors.ErrInvalidInput)
}
