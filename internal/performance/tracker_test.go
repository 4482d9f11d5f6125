package performance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/model/modeltest"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
users:
  u1:
    messages:
      - {id: m1, subject: Spring sale, content: "Spring is here", status: sent, stats: {sent: 1000, opens: 300, clicks: 50, bounces: 2, unsubscribes: 1}}
      - {id: m2, subject: Quiet note, status: sent, stats: {sent: 200, opens: 20, clicks: 2, bounces: 4, unsubscribes: 2}}
      - {id: m3, subject: Draft only, status: draft}
`

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	provider *modeltest.Provider
	repos    *repository.Repositories
	kb       *knowledge.Service
	tracker  *Tracker
	acct     agent.Account
}

func newHarness(t *testing.T, provider *modeltest.Provider) *harness {
	t.Helper()
	clock := func() time.Time { return testNow }
	pf := platform.NewMemory().WithClock(clock)
	require.NoError(t, pf.LoadFixture(strings.NewReader(fixture)))

	repos := repository.New(store.NewMemoryBackend())
	completer := modeltest.Completer(provider).WithClock(clock)
	kb := knowledge.NewService(repos, completer, nil, config.KnowledgeConfig{})
	return &harness{
		provider: provider,
		repos:    repos,
		kb:       kb,
		tracker:  NewTracker(repos, completer, kb, pf, Options{}).WithClock(clock),
		acct: agent.Account{
			User:     &domain.User{ID: "u1", Name: "Ann", Language: "en"},
			Settings: &domain.BrainSettings{UserID: "u1", WorkMode: domain.ModeAutonomous},
		},
	}
}

// campaignPlan stores a completed campaign plan whose first step created
// messageID, completed `age` ago.
func (h *harness) campaignPlan(t *testing.T, title, messageID string, age time.Duration) *domain.ActionPlan {
	t.Helper()
	done := testNow.Add(-age)
	p := &domain.ActionPlan{
		UserID:    "u1",
		AgentType: "campaign",
		Title:     title,
		Status:    domain.PlanCompleted,
		Steps: []domain.ActionPlanStep{{
			Order:      1,
			ActionType: "create_message",
			Status:     domain.StepCompleted,
			Result:     map[string]any{"message_id": messageID},
		}},
		TotalSteps:     1,
		CompletedSteps: 1,
		CompletedAt:    &done,
	}
	require.NoError(t, h.repos.Plans.Create(context.Background(), p))
	return p
}

func TestReviewWithRuleLessonsFeedsCampaignContext(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, modeltest.New().FailWith(errors.New("provider down")))
	p := h.campaignPlan(t, "Spring sale", "m1", 48*time.Hour)

	res, err := h.tracker.ReviewCompleted(ctx, h.acct)
	require.NoError(t, err)
	require.Equal(t, 1, res.Reviewed)
	assert.Equal(t, Lesson{PlanID: p.ID, Title: "Spring sale", OpenRate: 30, ClickRate: 5, AboveAverage: true}, res.Lessons[0])

	snap := res.Snapshots[0]
	assert.Equal(t, "m1", snap.MessageID)
	assert.Equal(t, 0.1, snap.UnsubscribeRate)
	assert.Equal(t, "Campaign performed well overall with 30% open rate and 5% CTR.", snap.LessonsLearned)
	if diff := cmp.Diff([]string{
		"Open rate (30%) was above average — subject line was effective.",
		"Click rate (5%) was above average — CTAs were effective.",
		"Low unsubscribe rate (0.1%) indicates content relevance.",
	}, snap.WhatWorked); diff != "" {
		t.Fatalf("what worked mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"Continue monitoring performance trends."}, snap.WhatToImprove)

	entries, err := h.kb.Entries(ctx, "u1", domain.CategoryInsights)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Campaign Review — Spring sale", entries[0].Title)
	assert.Equal(t, domain.SourcePerformanceTracker, entries[0].Source)

	patterns, err := h.kb.Entries(ctx, "u1", domain.CategoryBestPractices)
	require.NoError(t, err)
	assert.Len(t, patterns, 1)

	campaignCtx, err := h.kb.GetContext(ctx, "u1", knowledge.ProfileCampaign)
	require.NoError(t, err)
	assert.Contains(t, campaignCtx, "Spring sale")

	activity, err := h.repos.Activity.Query(ctx, "u1", func(a *domain.ActivityLog) bool { return a.Event == EventPerformanceReview })
	require.NoError(t, err)
	assert.Len(t, activity, 1)
}

func TestReviewIsIdempotentAndWindowed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, modeltest.New().FailWith(errors.New("down")))
	h.campaignPlan(t, "In window", "m1", 24*time.Hour)
	h.campaignPlan(t, "Too fresh", "m1", 2*time.Hour)
	h.campaignPlan(t, "Too old", "m1", 8*24*time.Hour)
	h.campaignPlan(t, "Never sent", "m3", 48*time.Hour)
	h.campaignPlan(t, "No message", "", 48*time.Hour)

	res, err := h.tracker.ReviewCompleted(ctx, h.acct)
	require.NoError(t, err)
	require.Equal(t, 1, res.Reviewed)
	assert.Equal(t, "In window", res.Lessons[0].Title)

	res, err = h.tracker.ReviewCompleted(ctx, h.acct)
	require.NoError(t, err)
	assert.Zero(t, res.Reviewed)
}

func TestReviewUsesModelLessons(t *testing.T) {
	h := newHarness(t, modeltest.New().Default("```json\n" + `{"summary": "Strong subject line.", "what_worked": ["Short subject"], "what_to_improve": ["Add a second CTA"], "style_notes": "Playful tone"}` + "\n```"))
	h.campaignPlan(t, "Spring sale", "m1", 30*time.Hour)

	res, err := h.tracker.ReviewCompleted(context.Background(), h.acct)
	require.NoError(t, err)
	require.Equal(t, 1, res.Reviewed)
	snap := res.Snapshots[0]
	assert.Equal(t, "Strong subject line.", snap.LessonsLearned)
	assert.Equal(t, []string{"Short subject"}, snap.WhatWorked)
	assert.Equal(t, "Playful tone", snap.StyleNotes)

	calls := h.provider.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0].Messages[len(calls[0].Messages)-1].Content
	assert.Contains(t, prompt, "Title: Spring sale")
	assert.Contains(t, prompt, "open_rate above")
	assert.Contains(t, prompt, "Respond in English")
}

func TestCompare(t *testing.T) {
	b := domain.IndustryBenchmarks
	cases := []struct {
		name string
		snap domain.PerformanceSnapshot
		want map[string]domain.Rating
	}{
		{
			name: "strong",
			snap: domain.PerformanceSnapshot{OpenRate: 30, ClickRate: 5, UnsubscribeRate: 0.1, BounceRate: 0.2},
			want: map[string]domain.Rating{"open_rate": "above", "click_rate": "above", "unsubscribe_rate": "above", "bounce_rate": "above"},
		},
		{
			name: "inside band",
			snap: domain.PerformanceSnapshot{OpenRate: 23, ClickRate: 2.4, UnsubscribeRate: 0.26, BounceRate: 0.75},
			want: map[string]domain.Rating{"open_rate": "average", "click_rate": "average", "unsubscribe_rate": "average", "bounce_rate": "average"},
		},
		{
			name: "weak",
			snap: domain.PerformanceSnapshot{OpenRate: 10, ClickRate: 1, UnsubscribeRate: 1, BounceRate: 2},
			want: map[string]domain.Rating{"open_rate": "below", "click_rate": "below", "unsubscribe_rate": "below", "bounce_rate": "below"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, Compare(&tc.snap, b, 0.1)); diff != "" {
				t.Fatalf("comparison mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFallbackLessonsForWeakCampaign(t *testing.T) {
	snap := &domain.PerformanceSnapshot{OpenRate: 10, ClickRate: 1, UnsubscribeRate: 1, BounceRate: 2}
	snap.Comparison = Compare(snap, domain.IndustryBenchmarks, 0.1)

	l := FallbackLessons(snap)
	assert.Equal(t, "Campaign has room for improvement — 10% open rate, 1% CTR.", l.Summary)
	assert.Equal(t, []string{"Campaign was delivered successfully."}, l.WhatWorked)
	assert.Equal(t, []string{
		"Open rate (10%) was below average — try more compelling subject lines.",
		"Click rate (1%) was below average — improve CTA placement and copy.",
		"Unsubscribe rate (1%) was higher than average — consider segmenting audience better.",
	}, l.WhatToImprove)
}

func TestBenchmarksSwitchToUserHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, modeltest.New())

	b, err := h.tracker.Benchmarks(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.IndustryBenchmarks, b)

	for _, open := range []float64{10, 20, 30} {
		require.NoError(t, h.repos.Snapshots.Create(ctx, &domain.PerformanceSnapshot{UserID: "u1", OpenRate: open, ClickRate: 3, UnsubscribeRate: 0.3, BounceRate: 1}))
	}
	b, err = h.tracker.Benchmarks(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.Benchmarks{OpenRate: 20, ClickRate: 3, UnsubscribeRate: 0.3, BounceRate: 1}, b)
}

func TestPerformanceContext(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, modeltest.New())

	empty, err := h.tracker.PerformanceContext(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, empty.HasData)
	assert.Empty(t, empty.String())

	add := func(title string, open float64, age time.Duration) {
		require.NoError(t, h.repos.Snapshots.Create(ctx, &domain.PerformanceSnapshot{
			UserID: "u1", CampaignTitle: title, OpenRate: open, ClickRate: 2, CapturedAt: testNow.Add(-age),
		}))
	}
	add("ancient", 90, 40*24*time.Hour)
	add("oldest kept", 1, 6*24*time.Hour)
	add("a", 20, 5*24*time.Hour)
	add("b", 30, 4*24*time.Hour)
	add("c", 10, 3*24*time.Hour)
	add("d", 25, 2*24*time.Hour)
	add("e", 15, 24*time.Hour)

	pc, err := h.tracker.PerformanceContext(ctx, "u1")
	require.NoError(t, err)
	require.True(t, pc.HasData)
	require.Len(t, pc.Recent, 5)
	assert.Equal(t, "e", pc.Recent[0].Title)
	assert.Equal(t, "a", pc.Recent[4].Title)
	assert.Equal(t, 20.0, pc.AvgOpenRate)
	assert.Equal(t, "b", pc.Best)
	assert.Equal(t, "c", pc.Worst)
	assert.Contains(t, pc.String(), "avg open 20%")
}

func TestReviewContent(t *testing.T) {
	sent := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	got := ReviewContent(&domain.PerformanceSnapshot{
		CampaignTitle:   "Spring sale",
		CampaignSentAt:  &sent,
		OpenRate:        30,
		ClickRate:       5.25,
		UnsubscribeRate: 0.1,
		SentCount:       1000,
		LessonsLearned:  "Good.",
		WhatWorked:      []string{"Subject"},
		StyleNotes:      "Warm",
	})
	want := "📊 Campaign Performance Review — Spring sale\nDate: 2026-03-08\n\n" +
		"Metrics: OR 30%, CTR 5.25%, Unsub 0.1%, Sent: 1000\n\n" +
		"Assessment: Good.\n\n" +
		"✅ What worked:\n- Subject\n\n" +
		"🎨 Style notes: Warm\n"
	assert.Equal(t, want, got)
}

func TestMessageIDFallsBackToStepConfig(t *testing.T) {
	p := &domain.ActionPlan{Steps: []domain.ActionPlanStep{
		{ActionType: "create_message"},
		{ActionType: "schedule_send", Config: &domain.ScheduleSendConfig{MessageID: "m9", SendAt: "immediate"}},
	}}
	assert.Equal(t, "m9", MessageID(p))

	p.Steps[0].Result = map[string]any{"message_id": "m1"}
	assert.Equal(t, "m1", MessageID(p))
	assert.Empty(t, MessageID(&domain.ActionPlan{}))
}
