package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/model/modeltest"
	"github.com/harunnryd/brain/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignRunsFullFlow(t *testing.T) {
	provider := modeltest.New().
		On("Generate email marketing message content", `{"subject": "Spring is here", "content": "<p>Hi</p>", "cta_text": "Shop"}`)
	h := newHarness(t, provider)

	p, res := h.run(t, "campaign",
		step("select_audience", map[string]any{"list_ids": []string{"l1"}}),
		step("generate_content", map[string]any{"topic": "spring"}),
		step("create_message", nil),
		step("schedule_send", map[string]any{"send_at": "immediate"}),
	)

	assert.Equal(t, domain.PlanCompleted, p.Status)
	assert.Equal(t, ResultExecution, res.Type)
	assert.Equal(t, p.ID, res.PlanID)
	assert.True(t, strings.HasPrefix(res.Message, "✅ **Test plan**"), res.Message)
	assert.Contains(t, res.Message, "(4/4)")
	assert.Contains(t, res.Message, "Selected 1 lists with 2 subscribers (Newsletter)")
	assert.Contains(t, res.Message, `Message "Spring is here" sent to 2 subscribers`)

	msg, err := h.platform.Message(context.Background(), "u1", p.Steps[2].ResultString("message_id"))
	require.NoError(t, err)
	assert.Equal(t, platform.MessageSent, msg.Status)
	assert.Equal(t, "<p>Hi</p>", msg.Content)
	assert.Equal(t, []string{"l1"}, msg.ListIDs)

	stored, err := h.repos.Plans.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Message, stored.Summary)
}

func TestCampaignFailedStepKeepsGoing(t *testing.T) {
	h := newHarness(t, modeltest.New())

	p, res := h.run(t, "campaign",
		step("create_message", map[string]any{"subject": "Hello", "list_ids": []string{"l1"}}),
		step("schedule_send", map[string]any{"send_at": "next tuesday-ish"}),
		step("list_ab_tests", nil),
	)

	assert.Equal(t, domain.PlanCompleted, p.Status)
	assert.Equal(t, 2, p.CompletedSteps)
	assert.Equal(t, 1, p.FailedSteps)
	assert.True(t, strings.HasPrefix(res.Message, "⚠️ **Test plan**"), res.Message)
	assert.Contains(t, res.Message, "2. ❌ **schedule_send**")
	assert.Contains(t, res.Message, "cannot parse send_at")
}

func TestCRMContactDealFlow(t *testing.T) {
	h := newHarness(t, modeltest.New())

	p, res := h.run(t, "crm",
		step("create_contact", map[string]any{"email": "eve@example.com", "first_name": "Eve"}),
		step("create_deal", map[string]any{"title": "Eve deal", "value": 500}),
		step("move_deal_stage", map[string]any{"stage": "won"}),
		step("pipeline_summary", nil),
	)
	require.Equal(t, 4, p.CompletedSteps, res.Message)

	contactID := p.Steps[0].ResultString("contact_id")
	deals, err := h.platform.Deals(context.Background(), "u1")
	require.NoError(t, err)
	var eve *platform.Deal
	for _, d := range deals {
		if d.Title == "Eve deal" {
			eve = d
		}
	}
	require.NotNil(t, eve)
	assert.Equal(t, contactID, eve.ContactID)
	assert.Equal(t, "won", eve.Stage)
	assert.NotNil(t, eve.ClosedAt)

	summary := p.Steps[3].ResultString("message")
	assert.Contains(t, summary, "📌 **proposal**: 2 deals (1200.00)")
	assert.Contains(t, summary, "Open deals: 2, total value 1200.00")
	assert.NotContains(t, summary, "won")
}

func TestCRMScoreAnalysis(t *testing.T) {
	h := newHarness(t, modeltest.New())

	p, _ := h.run(t, "crm", step("score_analysis", map[string]any{"min_score": 50}))
	s := p.Steps[0]
	require.Equal(t, domain.StepCompleted, s.Status, s.Error)

	assert.Equal(t, 4, s.Result["total_contacts"])
	assert.Equal(t, 2, s.Result["hot_leads"])
	assert.Equal(t, 48.8, s.Result["avg_score"])
	msg := s.ResultString("message")
	assert.Less(t, strings.Index(msg, "Ann: score 80"), strings.Index(msg, "dan@example.com: score 55"))
	assert.NotContains(t, msg, "bob@example.com")
}

func TestCRMDuplicateContactFails(t *testing.T) {
	h := newHarness(t, modeltest.New())

	p, res := h.run(t, "crm", step("create_contact", map[string]any{"email": "ann@example.com"}))
	assert.Equal(t, domain.PlanCompleted, p.Status)
	assert.Equal(t, 1, p.FailedSteps)
	assert.Equal(t, domain.StepFailed, p.Steps[0].Status)
	assert.Contains(t, res.Message, "❌")
}

func TestListHygiene(t *testing.T) {
	h := newHarness(t, modeltest.New())

	p, _ := h.run(t, "list",
		step("show_stats", nil),
		step("clean_bounced", map[string]any{"list_id": "l1"}),
		step("tag_subscribers", map[string]any{"list_id": "l2", "tag": "customer"}),
		step("show_stats", map[string]any{"list_id": "l1"}),
	)
	require.Equal(t, 4, p.CompletedSteps)

	assert.Equal(t, "📊 All lists: 2 active, 1 bounced, 0 unsubscribed", p.Steps[0].ResultString("message"))
	assert.Equal(t, 1, p.Steps[1].Result["removed"])
	assert.Equal(t, 1, p.Steps[2].Result["tagged"])
	assert.Equal(t, "📊 List l1: 2 active, 0 bounced, 0 unsubscribed", p.Steps[3].ResultString("message"))

	tagged, err := h.platform.SearchContacts(context.Background(), "u1", platform.ContactQuery{Tag: "customer"})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "c2", tagged[0].ID)
}

func TestListDestructiveActions(t *testing.T) {
	h := newHarness(t, modeltest.New())
	ctx := context.Background()

	p, _ := h.run(t, "list",
		step(domain.ActionDeleteAllSubscribers, map[string]any{"list_id": "l2"}),
		step(domain.ActionDeleteList, map[string]any{"list_id": "l1"}),
		step(domain.ActionChangeDomainSettings, map[string]any{"domain": "shop.example", "sender_name": "Ann", "sender_email": "news@shop.example"}),
	)
	require.Equal(t, 3, p.CompletedSteps, p.Summary)
	assert.Equal(t, 1, p.Steps[0].Result["removed"])
	assert.Equal(t, 3, p.Steps[1].Result["detached"])
	assert.Equal(t, "Sending domain is now shop.example (sender Ann <news@shop.example>)", p.Steps[2].ResultString("message"))

	lists, err := h.platform.Lists(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, "l2", lists[0].ID)

	stats, err := h.platform.ListStats(ctx, "u1", "l2")
	require.NoError(t, err)
	assert.Zero(t, stats.Active)

	ds, err := h.platform.DomainSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "news@shop.example", ds.SenderEmail)
}

func TestListCreateThenTag(t *testing.T) {
	h := newHarness(t, modeltest.New())

	p, _ := h.run(t, "list",
		step("create_list", map[string]any{"name": "VIP"}),
		step("tag_subscribers", map[string]any{"tag": "vip-list"}),
	)
	require.Equal(t, 2, p.CompletedSteps)
	assert.NotEmpty(t, p.Steps[0].ResultString("list_id"))
	assert.Equal(t, 0, p.Steps[1].Result["tagged"])
}

func TestMessageCopyChain(t *testing.T) {
	provider := modeltest.New().
		On("email subject lines", `["Fresh picks", "Spring deals", "Last call"]`).
		On("Write the body", `{"content": "<p>Body</p>", "cta_text": "Go"}`)
	h := newHarness(t, provider)

	p, res := h.run(t, "message",
		step("generate_subject", map[string]any{"topic": "spring", "count": 3}),
		step("generate_body", nil),
		step("create_message", nil),
	)
	require.Equal(t, 3, p.CompletedSteps, res.Message)
	assert.Contains(t, res.Message, "  • Fresh picks")

	msg, err := h.platform.Message(context.Background(), "u1", p.Steps[2].ResultString("message_id"))
	require.NoError(t, err)
	assert.Equal(t, "Fresh picks", msg.Subject)
	assert.Equal(t, "<p>Body</p>", msg.Content)
	assert.Equal(t, platform.MessageDraft, msg.Status)
}

func TestMessageRejectsEmptyModelOutput(t *testing.T) {
	h := newHarness(t, modeltest.New().On("A/B test variants", `[{"subject": "Only one"}]`))

	p, _ := h.run(t, "message", step("generate_ab_variants", map[string]any{"subject": "x", "content": "y"}))
	assert.Equal(t, domain.StepFailed, p.Steps[0].Status)
	assert.Contains(t, p.Steps[0].Error, "two variants")
}

func TestResearchSavesFindings(t *testing.T) {
	provider := modeltest.New().
		On("Summarize the following research findings", "AI personalization lifts clicks.").
		On("Research the topic", "Trend: AI personalization")
	h := newHarness(t, provider)

	p, res := h.run(t, "research",
		step("web_search", map[string]any{"query": "email trends"}),
		step("deep_research", map[string]any{"topic": "email trends"}),
		step("save_to_knowledge", map[string]any{"category": "insights", "title": "Email trends"}),
	)
	require.Equal(t, 3, p.CompletedSteps, res.Message)
	assert.Equal(t, `No web results for "email trends"`, p.Steps[0].ResultString("message"))
	assert.Contains(t, p.Steps[1].ResultString("message"), "Trend: AI personalization")

	entries, err := h.repos.Knowledge.Query(context.Background(), "u1", func(e *domain.KnowledgeEntry) bool { return true })
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.CategoryInsights, entries[0].Category)
	assert.Equal(t, "Email trends", entries[0].Title)
	assert.Equal(t, "AI personalization lifts clicks.", entries[0].Content)
	assert.Equal(t, domain.SourceResearch, entries[0].Source)
	assert.Equal(t, "plan:"+p.ID, entries[0].Reference)
}

func TestResearchNothingToSave(t *testing.T) {
	h := newHarness(t, modeltest.New())

	p, _ := h.run(t, "research", step("save_to_knowledge", nil))
	assert.Equal(t, "Nothing to save yet.", p.Steps[0].ResultString("message"))
	assert.Empty(t, h.provider.Calls())
}

func TestAnalyticsJoinsStepReports(t *testing.T) {
	h := newHarness(t, modeltest.New().On("Generate a professional", "REPORT BODY"))

	p, res := h.run(t, "analytics",
		step("fetch_campaign_stats", map[string]any{"days": 30}),
		step("analyze_trends", map[string]any{"days": 14}),
		step("compare_performance", nil),
		step("generate_report", nil),
	)
	require.Equal(t, 4, p.CompletedSteps, res.Message)

	parts := strings.Split(res.Message, "\n\n---\n\n")
	require.Len(t, parts, 4)
	assert.Contains(t, parts[0], "Campaigns sent: 2")
	assert.Contains(t, parts[0], "Open rate 25.00%, click rate 4.00%")
	assert.Contains(t, parts[1], "📈 open_rate: 30.00% vs 20.00% (+50.0%)")
	assert.Less(t, strings.Index(parts[2], "Spring sale"), strings.Index(parts[2], "Winter recap"))
	assert.Equal(t, "REPORT BODY", parts[3])

	calls := h.provider.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0].Messages[0].Content
	assert.Contains(t, prompt, `"open_rate": 25`)
	assert.Contains(t, prompt, `"change": 50`)
}

func TestAnalyticsUsageReport(t *testing.T) {
	h := newHarness(t, modeltest.New())
	ctx := context.Background()
	require.NoError(t, h.repos.Executions.Create(ctx, &domain.ExecutionLog{
		UserID: "u1", Agent: "campaign", Status: domain.ExecutionSuccess, CreatedAt: testNow,
	}))
	require.NoError(t, h.repos.Executions.Create(ctx, &domain.ExecutionLog{
		UserID: "u1", Agent: "crm", Status: domain.ExecutionFailed, CreatedAt: testNow.AddDate(0, 0, -60),
	}))

	p, _ := h.run(t, "analytics", step("ai_usage_report", map[string]any{"days": 30}))
	msg := p.Steps[0].ResultString("message")
	assert.Contains(t, msg, "Executions: 1 (success 1, partial 0, failed 0)")
	assert.Contains(t, msg, "• campaign: 1x")
	assert.NotContains(t, msg, "crm")
}

func TestSegmentationDistributionsAndTags(t *testing.T) {
	h := newHarness(t, modeltest.New())

	p, res := h.run(t, "segmentation",
		step("analyze_tag_distribution", nil),
		step("analyze_score_distribution", nil),
		step("create_tag", map[string]any{"name": "hot"}),
		step("apply_tag", map[string]any{"min_score": 50}),
	)
	require.Equal(t, 4, p.CompletedSteps, res.Message)

	tags := p.Steps[0].ResultString("message")
	assert.Contains(t, tags, "• vip: 2 (50.0%)")
	assert.Contains(t, tags, "• trial: 1 (25.0%)")
	assert.Contains(t, tags, "• untagged: 2 (50.0%)")
	assert.Less(t, strings.Index(tags, "vip"), strings.Index(tags, "trial"))

	scores := p.Steps[1].ResultString("message")
	for _, line := range []string{"Cold (0-25): 1 (25.0%)", "Warm (26-50): 1 (25.0%)", "Hot (51-75): 1 (25.0%)", "Super hot (76+): 1 (25.0%)"} {
		assert.Contains(t, scores, line)
	}
	assert.Equal(t, 2, p.Steps[3].Result["tagged"])
}

func TestSegmentationAutomations(t *testing.T) {
	h := newHarness(t, modeltest.New())

	p, res := h.run(t, "segmentation",
		step("toggle_automation", map[string]any{"automation_id": "a1", "active": false}),
		step("automation_stats", nil),
		step("delete_automation", map[string]any{"automation_id": "missing"}),
	)
	assert.Equal(t, 2, p.CompletedSteps)
	assert.Equal(t, 1, p.FailedSteps)

	parts := strings.Split(res.Message, "\n\n---\n\n")
	require.Len(t, parts, 3)
	assert.Equal(t, `⚙️ Automation "Welcome" is now inactive`, parts[0])
	assert.Contains(t, parts[1], "Rules: 0 active of 1\nRuns: 12")
	assert.True(t, strings.HasPrefix(parts[2], "⚠️ delete_automation: "), parts[2])
}

func TestScoreBuckets(t *testing.T) {
	got := scoreBuckets([]int{10, 5, 30})
	labels := make([]string, 0, len(got))
	for _, b := range got {
		labels = append(labels, b.label)
	}
	assert.Equal(t, []string{"0-10", "11-30", "31+"}, labels)
}

func TestCampaignAudienceByTag(t *testing.T) {
	h := newHarness(t, modeltest.New())

	p, _ := h.run(t, "campaign", step("select_audience", map[string]any{"tags": []string{"vip"}}))
	s := p.Steps[0]
	require.Equal(t, domain.StepCompleted, s.Status, s.Error)
	assert.Equal(t, "Selected 2 tagged contacts (vip)", s.ResultString("message"))
	assert.Equal(t, []string{"c1", "c2"}, s.Result["contact_ids"])
}
