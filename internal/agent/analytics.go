package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/plan"
	"github.com/harunnryd/brain/internal/platform"
)

const (
	reportMaxTokens   = 6000
	reportTemperature = 0.4
	statsDataKey      = "data"
)

var analyticsProfile = profile{
	name: "analytics",
	role: "You are a marketing analytics expert.",
	task: domain.TaskAnalytics,
	actions: []string{
		"fetch_campaign_stats", "fetch_subscriber_stats", "generate_report",
		"compare_performance", "analyze_trends", "ai_usage_report",
	},
	docs: `- fetch_campaign_stats: campaign statistics (config: {days: 30, message_ids: ["id"]})
- fetch_subscriber_stats: subscriber statistics (config: {list_id: "id", days: 30})
- generate_report: AI report from the gathered data (config: {period: "weekly"|"monthly"|"custom", sections: [""]})
- compare_performance: compare recent campaigns (config: {message_ids: ["id"]})
- analyze_trends: compare the recent period with the previous one (config: {metric: "open_rate"|"click_rate", days: 14})
- ai_usage_report: usage of the assistant itself (config: {days: 30})
The analytics agent is read-only and never modifies data.
`,
}

// Analytics reports on campaigns, subscribers and assistant usage. It never
// writes platform data.
type Analytics struct {
	*Base
}

func NewAnalytics(base *Base) *Analytics {
	return &Analytics{Base: base}
}

func (a *Analytics) Name() string { return analyticsProfile.name }

func (a *Analytics) Description() string {
	return "Analyzes campaign and subscriber statistics, compares campaigns, spots trends and writes reports."
}

func (a *Analytics) Capabilities() []string {
	return []string{"campaign_analytics", "subscriber_analytics", "monthly_report", "compare_campaigns", "engagement_analysis", "ai_usage_stats"}
}

func (a *Analytics) ActionTypes() []string { return analyticsProfile.actions }

// NeedsMoreInfo is always false: every analytics step has usable defaults.
func (a *Analytics) NeedsMoreInfo(domain.Intent, string) bool { return false }

func (a *Analytics) InfoQuestions(_ context.Context, in domain.Intent, _ Account) (string, error) {
	return defaultInfoQuestions(in), nil
}

func (a *Analytics) Plan(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (*domain.ActionPlan, error) {
	prompt := a.planPrompt(analyticsProfile, in, acct, pctx)
	return a.createPlan(ctx, analyticsProfile, in, acct, pctx, prompt)
}

func (a *Analytics) Advise(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (Result, error) {
	stats, err := a.quickStats(ctx, acct.ID())
	if err != nil {
		return Result{}, err
	}
	pctx.Knowledge = strings.TrimSpace("STATISTICS:\n" + stats + "\n\n" + pctx.Knowledge)
	return a.advise(ctx, analyticsProfile, in, acct, pctx)
}

func (a *Analytics) Execute(ctx context.Context, p *domain.ActionPlan, acct Account) (Result, error) {
	return a.executePlan(ctx, a.Name(), p, a.executor(acct), reportJoined)
}

func (a *Analytics) executor(acct Account) plan.StepExecutor {
	userID := acct.ID()
	return plan.StepFunc(func(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) (map[string]any, error) {
		switch cfg := step.Config.(type) {
		case *domain.FetchCampaignStatsConfig:
			return a.campaignStats(ctx, userID, cfg)
		case *domain.FetchSubscriberStatsConfig:
			return a.subscriberStats(ctx, userID, cfg)
		case *domain.GenerateReportConfig:
			return a.report(ctx, acct, p, step, cfg)
		case *domain.ComparePerformanceConfig:
			return a.compare(ctx, userID, cfg)
		case *domain.AnalyzeTrendsConfig:
			return a.trends(ctx, userID, cfg)
		case *domain.AIUsageReportConfig:
			return a.usage(ctx, userID, cfg)
		}
		return nil, unsupported(step)
	})
}

func daysOr(days, def int) int {
	if days <= 0 {
		return def
	}
	return days
}

// sentMessages returns sent messages since the cutoff, newest first.
func (a *Analytics) sentMessages(ctx context.Context, userID string, since time.Time) ([]*platform.Message, error) {
	all, err := a.deps.Platform.Messages(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	var out []*platform.Message
	for _, m := range all {
		if m.Status == platform.MessageSent && m.SentAt != nil && !m.SentAt.Before(since) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(*out[j].SentAt) })
	return out, nil
}

func (a *Analytics) pickMessages(ctx context.Context, userID string, ids []string, since time.Time) ([]*platform.Message, error) {
	if len(ids) == 0 {
		return a.sentMessages(ctx, userID, since)
	}
	out := make([]*platform.Message, 0, len(ids))
	for _, id := range ids {
		m, err := a.deps.Platform.Message(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (a *Analytics) campaignStats(ctx context.Context, userID string, cfg *domain.FetchCampaignStatsConfig) (map[string]any, error) {
	days := daysOr(cfg.Days, 30)
	msgs, err := a.pickMessages(ctx, userID, cfg.MessageIDs, a.deps.Now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	var total platform.MessageStats
	for _, m := range msgs {
		total.Sent += m.Stats.Sent
		total.Opens += m.Stats.Opens
		total.Clicks += m.Stats.Clicks
		total.Bounces += m.Stats.Bounces
		total.Unsubscribes += m.Stats.Unsubscribes
	}
	openRate := percent(total.Opens, total.Sent)
	clickRate := percent(total.Clicks, total.Sent)
	msg := fmt.Sprintf("📧 **Campaigns, last %d days**\nCampaigns sent: %d\nEmails delivered: %d\nOpens: %d, clicks: %d\nOpen rate %.2f%%, click rate %.2f%%",
		days, len(msgs), total.Sent, total.Opens, total.Clicks, openRate, clickRate)
	return done(msg, map[string]any{statsDataKey: map[string]any{
		"campaigns":    len(msgs),
		"sent":         total.Sent,
		"opens":        total.Opens,
		"clicks":       total.Clicks,
		"bounces":      total.Bounces,
		"unsubscribes": total.Unsubscribes,
		"open_rate":    openRate,
		"click_rate":   clickRate,
	}}), nil
}

func (a *Analytics) subscriberStats(ctx context.Context, userID string, cfg *domain.FetchSubscriberStatsConfig) (map[string]any, error) {
	ls, err := a.deps.Platform.ListStats(ctx, userID, cfg.ListID)
	if err != nil {
		return nil, err
	}
	stats, err := a.deps.Platform.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	total := ls.Active + ls.Bounced + ls.Unsubscribed
	scope := "all lists"
	if cfg.ListID != "" {
		scope = "list " + cfg.ListID
	}
	msg := fmt.Sprintf("👥 **Subscribers (%s)**\nTotal: %d, active: %d\nBounced: %d (%.2f%%), unsubscribed: %d (%.2f%%)\nCRM contacts: %d, hot leads: %d",
		scope, total, ls.Active, ls.Bounced, percent(ls.Bounced, total), ls.Unsubscribed, percent(ls.Unsubscribed, total),
		stats.Contacts, stats.HotLeads)
	return done(msg, map[string]any{statsDataKey: map[string]any{
		"total":        total,
		"active":       ls.Active,
		"bounced":      ls.Bounced,
		"unsubscribed": ls.Unsubscribed,
		"contacts":     stats.Contacts,
		"hot_leads":    stats.HotLeads,
	}}), nil
}

func (a *Analytics) report(ctx context.Context, acct Account, p *domain.ActionPlan, current *domain.ActionPlanStep, cfg *domain.GenerateReportConfig) (map[string]any, error) {
	var sections []string
	for _, s := range p.Steps {
		if s.Order == current.Order || s.Status != domain.StepCompleted {
			continue
		}
		data, ok := s.Result[statsDataKey]
		if !ok {
			continue
		}
		raw, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			continue
		}
		sections = append(sections, fmt.Sprintf("**%s**:\n%s", s.Title, raw))
	}
	dataText := strings.Join(sections, "\n\n")
	if dataText == "" {
		quick, err := a.quickStats(ctx, acct.ID())
		if err != nil {
			return nil, err
		}
		dataText = quick
	}
	focus := "1) Summary 2) Analysis 3) Trends 4) Recommendations"
	if len(cfg.Sections) > 0 {
		focus = strings.Join(cfg.Sections, ", ")
	}
	prompt := fmt.Sprintf("Generate a professional %s marketing report based on:\n%s\n\n%s\n\nFormat: %s. Use emoji.",
		orDefault(cfg.Period, "monthly"), dataText, languageInstruction(acct), focus)

	text, err := a.generate(ctx, acct, domain.TaskAnalytics, prompt, reportMaxTokens, reportTemperature)
	if err != nil {
		return nil, err
	}
	return done(strings.TrimSpace(text), nil), nil
}

func (a *Analytics) compare(ctx context.Context, userID string, cfg *domain.ComparePerformanceConfig) (map[string]any, error) {
	msgs, err := a.pickMessages(ctx, userID, cfg.MessageIDs, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(cfg.MessageIDs) == 0 && len(msgs) > 5 {
		msgs = msgs[:5]
	}
	if len(msgs) == 0 {
		return done("No sent campaigns to compare yet.", nil), nil
	}
	var b strings.Builder
	b.WriteString("⚖️ **Campaign comparison**\n\n")
	for _, m := range msgs {
		when := ""
		if m.SentAt != nil {
			when = " (" + m.SentAt.Format("02.01") + ")"
		}
		ctor := 0.0
		if m.Stats.Opens > 0 {
			ctor = math.Round(float64(m.Stats.Clicks)/float64(m.Stats.Opens)*1000) / 10
		}
		fmt.Fprintf(&b, "📧 **%s**%s: 👁️%d 🖱️%d OR:%.2f%% CTOR:%.1f%%\n",
			m.Subject, when, m.Stats.Opens, m.Stats.Clicks, percent(m.Stats.Opens, m.Stats.Sent), ctor)
	}
	return done(strings.TrimRight(b.String(), "\n"), nil), nil
}

func trendIcon(v float64) string {
	switch {
	case v > 0:
		return "📈"
	case v < 0:
		return "📉"
	}
	return "➡️"
}

func (a *Analytics) trends(ctx context.Context, userID string, cfg *domain.AnalyzeTrendsConfig) (map[string]any, error) {
	days := daysOr(cfg.Days, 14)
	now := a.deps.Now()
	start := now.AddDate(0, 0, -days)
	mid := now.Add(-time.Duration(days) * 24 * time.Hour / 2)

	msgs, err := a.sentMessages(ctx, userID, start)
	if err != nil {
		return nil, err
	}
	var recent, previous platform.MessageStats
	var recentCount, previousCount int
	for _, m := range msgs {
		bucket, count := &previous, &previousCount
		if !m.SentAt.Before(mid) {
			bucket, count = &recent, &recentCount
		}
		*count++
		bucket.Sent += m.Stats.Sent
		bucket.Opens += m.Stats.Opens
		bucket.Clicks += m.Stats.Clicks
	}

	metric := orDefault(cfg.Metric, "open_rate")
	rate := func(s platform.MessageStats) float64 {
		if metric == "click_rate" {
			return percent(s.Clicks, s.Sent)
		}
		return percent(s.Opens, s.Sent)
	}
	recentRate, previousRate := rate(recent), rate(previous)
	change := 0.0
	if previousRate > 0 {
		change = math.Round((recentRate-previousRate)/previousRate*1000) / 10
	}
	msg := fmt.Sprintf("📊 **Trends, last %d days**\n%s %s: %.2f%% vs %.2f%% (%+.1f%%)\n📧 Campaigns: %d vs %d",
		days, trendIcon(change), metric, recentRate, previousRate, change, recentCount, previousCount)
	return done(msg, map[string]any{statsDataKey: map[string]any{
		"metric":   metric,
		"recent":   recentRate,
		"previous": previousRate,
		"change":   change,
	}}), nil
}

func (a *Analytics) usage(ctx context.Context, userID string, cfg *domain.AIUsageReportConfig) (map[string]any, error) {
	days := daysOr(cfg.Days, 30)
	since := a.deps.Now().AddDate(0, 0, -days)

	logs, err := a.deps.Repos.Executions.Query(ctx, userID, func(l *domain.ExecutionLog) bool {
		return !l.CreatedAt.Before(since)
	})
	if err != nil {
		return nil, err
	}
	convs, err := a.deps.Repos.Conversations.Query(ctx, userID, func(c *domain.Conversation) bool {
		return !c.LastMessageAt.Before(since)
	})
	if err != nil {
		return nil, err
	}

	byStatus := map[domain.ExecutionStatus]int{}
	byAgent := map[string]int{}
	for _, l := range logs {
		byStatus[l.Status]++
		byAgent[l.Agent]++
	}
	tokens := 0
	for _, c := range convs {
		tokens += c.TotalTokens
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🤖 **Assistant usage, last %d days**\n", days)
	fmt.Fprintf(&b, "Executions: %d (success %d, partial %d, failed %d)\n",
		len(logs), byStatus[domain.ExecutionSuccess], byStatus[domain.ExecutionPartial], byStatus[domain.ExecutionFailed])
	fmt.Fprintf(&b, "Conversations: %d, tokens: %d", len(convs), tokens)
	agents := make([]string, 0, len(byAgent))
	for name := range byAgent {
		agents = append(agents, name)
	}
	sort.Strings(agents)
	for _, name := range agents {
		fmt.Fprintf(&b, "\n  • %s: %dx", name, byAgent[name])
	}
	return done(b.String(), map[string]any{statsDataKey: map[string]any{
		"executions":    len(logs),
		"conversations": len(convs),
		"tokens":        tokens,
	}}), nil
}

func (a *Analytics) quickStats(ctx context.Context, userID string) (string, error) {
	s, err := a.deps.Platform.Stats(ctx, userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Subscribers: %d active in %d lists\nContacts: %d (hot leads %d)\nOpen deals: %d\nCampaigns in the last 30 days: %d (avg open %.2f%%, avg click %.2f%%)",
		s.Subscribers, s.Lists, s.Contacts, s.HotLeads, s.OpenDeals, s.RecentCampaigns, s.AvgOpenRate, s.AvgClickRate), nil
}
