// Package digest compiles the periodic performance digest: campaign,
// subscriber, CRM and automation metrics compared with the period before,
// plus a strategist's report written by the model.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/conversation"
	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/orchestrator"
	"github.com/harunnryd/brain/internal/performance"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/situation"
)

const (
	EventDigest = "weekly_digest"

	PeriodWeek  = "week"
	PeriodMonth = "month"

	SourceAI       = "ai"
	SourceFallback = "fallback"

	topCampaignCount = 3
	recentGoalCount  = 3
	reportMaxTokens  = 4000
	reportTemp       = 0.5
)

type CampaignMetrics struct {
	Sent      int     `json:"sent"`
	Opens     int     `json:"opens"`
	Clicks    int     `json:"clicks"`
	OpenRate  float64 `json:"open_rate"`
	ClickRate float64 `json:"click_rate"`
}

type SubscriberMetrics struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	New          int `json:"new"`
	Unsubscribed int `json:"unsubscribed"`
	Bounced      int `json:"bounced"`
	NetGrowth    int `json:"net_growth"`
}

type CRMMetrics struct {
	NewContacts       int     `json:"new_contacts"`
	TotalContacts     int     `json:"total_contacts"`
	NewDeals          int     `json:"new_deals"`
	WonDeals          int     `json:"won_deals"`
	WonValue          float64 `json:"won_value"`
	OpenPipelineValue float64 `json:"open_pipeline_value"`
}

type UsageMetrics struct {
	Executions     int `json:"executions"`
	Success        int `json:"success"`
	Errors         int `json:"errors"`
	PlansCreated   int `json:"plans_created"`
	PlansCompleted int `json:"plans_completed"`
}

// Metrics covers one period.
type Metrics struct {
	Campaigns   CampaignMetrics   `json:"campaigns"`
	Subscribers SubscriberMetrics `json:"subscribers"`
	CRM         CRMMetrics        `json:"crm"`
	AIUsage     UsageMetrics      `json:"ai_usage"`
}

// Trends are percent changes against the previous period. Rates are
// differences in percentage points.
type Trends struct {
	CampaignsSent    float64 `json:"campaigns_sent"`
	OpenRate         float64 `json:"open_rate"`
	ClickRate        float64 `json:"click_rate"`
	SubscriberGrowth float64 `json:"subscriber_growth"`
	Unsubscribes     float64 `json:"unsubscribes"`
	CRMNewContacts   float64 `json:"crm_new_contacts"`
	CRMDealsWon      float64 `json:"crm_deals_won"`
	AIExecutions     float64 `json:"ai_executions"`
}

type TopCampaign struct {
	Title        string   `json:"title"`
	OpenRate     float64  `json:"open_rate"`
	ClickRate    float64  `json:"click_rate"`
	SentCount    int      `json:"sent_count"`
	AboveAverage bool     `json:"above_average"`
	WhatWorked   []string `json:"what_worked,omitempty"`
}

type GoalProgress struct {
	Total           int      `json:"total"`
	Active          int      `json:"active"`
	Completed       int      `json:"completed"`
	Paused          int      `json:"paused"`
	RecentCompleted []string `json:"recent_completed"`
}

type BrainActivity struct {
	CronCycles         int `json:"cron_cycles"`
	SituationAnalyses  int `json:"situation_analyses"`
	PerformanceReviews int `json:"performance_reviews"`
	TotalEvents        int `json:"total_events"`
}

type Digest struct {
	UserID        string        `json:"-"`
	Period        string        `json:"period"`
	Days          int           `json:"days"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Metrics       Metrics       `json:"current"`
	Previous      Metrics       `json:"previous"`
	Trends        Trends        `json:"trends"`
	TopCampaigns  []TopCampaign `json:"top_campaigns"`
	GoalProgress  GoalProgress  `json:"goal_progress"`
	BrainActivity BrainActivity `json:"brain_activity"`
	Report        string        `json:"-"`
	ReportSource  string        `json:"-"`
}

// Days returns the length of a period; anything but month is a week.
func Days(period string) int {
	if period == PeriodMonth {
		return 30
	}
	return 7
}

// Service builds and delivers digests.
type Service struct {
	gen      model.Generator
	repos    *repository.Repositories
	platform platform.Platform
	now      func() time.Time
}

func NewService(gen model.Generator, repos *repository.Repositories, pf platform.Platform) *Service {
	return &Service{gen: gen, repos: repos, platform: pf, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Generate compiles the digest for the period ending now and records it in
// the activity log.
func (s *Service) Generate(ctx context.Context, acct agent.Account, period string) (*Digest, error) {
	if period != PeriodMonth {
		period = PeriodWeek
	}
	userID := acct.ID()
	now := s.now()
	days := Days(period)
	since := now.AddDate(0, 0, -days)
	d := &Digest{UserID: userID, Period: period, Days: days, GeneratedAt: now}

	var err error
	if d.Metrics, err = s.metrics(ctx, userID, since, now); err != nil {
		return nil, err
	}
	if d.Previous, err = s.metrics(ctx, userID, since.AddDate(0, 0, -days), since); err != nil {
		return nil, err
	}
	d.Trends = trends(d.Metrics, d.Previous)
	if d.TopCampaigns, err = s.topCampaigns(ctx, userID, since); err != nil {
		return nil, err
	}
	if d.GoalProgress, err = s.goalProgress(ctx, userID); err != nil {
		return nil, err
	}
	if d.BrainActivity, err = s.activity(ctx, userID, since); err != nil {
		return nil, err
	}

	d.Report, d.ReportSource = s.report(ctx, acct, d)

	if err := s.repos.Activity.Create(ctx, &domain.ActivityLog{
		UserID: userID,
		Event:  EventDigest,
		Status: "completed",
		Payload: map[string]any{
			"period":    period,
			"metrics":   d.Metrics,
			"trends":    d.Trends,
			"ai_report": d.Report,
		},
		CreatedAt: now,
	}); err != nil {
		logger.FromContext(ctx).Warn("Failed to log digest", "user_id", userID, "error", err)
	}
	return d, nil
}

// ShouldSend reports whether the last digest is old enough for a new one:
// five days for weekly digests, twenty-five for monthly ones.
func (s *Service) ShouldSend(ctx context.Context, userID, period string) (bool, error) {
	last, err := s.lastDigest(ctx, userID)
	if err != nil || last == nil {
		return err == nil, err
	}
	threshold := 5
	if period == PeriodMonth {
		threshold = 25
	}
	return int(s.now().Sub(last.CreatedAt).Hours()/24) >= threshold, nil
}

func (s *Service) lastDigest(ctx context.Context, userID string) (*domain.ActivityLog, error) {
	logs, err := s.repos.Activity.Query(ctx, userID, func(l *domain.ActivityLog) bool {
		return l.Event == EventDigest && l.Status == "completed"
	})
	if err != nil {
		return nil, fmt.Errorf("load digests: %w", err)
	}
	if len(logs) == 0 {
		return nil, nil
	}
	return slices.MaxFunc(logs, func(a, b *domain.ActivityLog) int { return a.CreatedAt.Compare(b.CreatedAt) }), nil
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (s *Service) metrics(ctx context.Context, userID string, from, to time.Time) (Metrics, error) {
	var m Metrics

	msgs, err := s.platform.Messages(ctx, userID, from)
	if err != nil {
		return m, fmt.Errorf("load messages: %w", err)
	}
	for _, msg := range msgs {
		if msg.Status != platform.MessageSent || msg.SentAt == nil || !within(*msg.SentAt, from, to) {
			continue
		}
		m.Campaigns.Sent++
		m.Campaigns.Opens += msg.Stats.Opens
		m.Campaigns.Clicks += msg.Stats.Clicks
		m.Subscribers.Unsubscribed += msg.Stats.Unsubscribes
		m.Subscribers.Bounced += msg.Stats.Bounces
	}

	ls, err := s.platform.ListStats(ctx, userID, "")
	if err != nil {
		return m, fmt.Errorf("load list stats: %w", err)
	}
	m.Subscribers.Active = ls.Active
	m.Subscribers.Total = ls.Active + ls.Bounced + ls.Unsubscribed
	m.Campaigns.OpenRate = ratio(m.Campaigns.Opens, ls.Active)
	m.Campaigns.ClickRate = ratio(m.Campaigns.Clicks, m.Campaigns.Opens)

	contacts, err := s.platform.SearchContacts(ctx, userID, platform.ContactQuery{})
	if err != nil {
		return m, fmt.Errorf("load contacts: %w", err)
	}
	m.CRM.TotalContacts = len(contacts)
	for _, c := range contacts {
		if !within(c.CreatedAt, from, to) {
			continue
		}
		m.CRM.NewContacts++
		if len(c.ListIDs) > 0 {
			m.Subscribers.New++
		}
	}
	m.Subscribers.NetGrowth = m.Subscribers.New - m.Subscribers.Unsubscribed - m.Subscribers.Bounced

	deals, err := s.platform.Deals(ctx, userID)
	if err != nil {
		return m, fmt.Errorf("load deals: %w", err)
	}
	for _, d := range deals {
		if within(d.CreatedAt, from, to) {
			m.CRM.NewDeals++
		}
		switch {
		case d.ClosedAt == nil:
			m.CRM.OpenPipelineValue += d.Value
		case d.Stage == "won" && within(*d.ClosedAt, from, to):
			m.CRM.WonDeals++
			m.CRM.WonValue += d.Value
		}
	}
	m.CRM.WonValue = round(m.CRM.WonValue, 2)
	m.CRM.OpenPipelineValue = round(m.CRM.OpenPipelineValue, 2)

	logs, err := s.repos.Executions.Query(ctx, userID, func(l *domain.ExecutionLog) bool { return within(l.CreatedAt, from, to) })
	if err != nil {
		return m, fmt.Errorf("load execution logs: %w", err)
	}
	for _, l := range logs {
		m.AIUsage.Executions++
		switch l.Status {
		case domain.ExecutionSuccess:
			m.AIUsage.Success++
		case domain.ExecutionFailed:
			m.AIUsage.Errors++
		}
	}

	plans, err := s.repos.Plans.Query(ctx, userID, func(p *domain.ActionPlan) bool { return within(p.CreatedAt, from, to) })
	if err != nil {
		return m, fmt.Errorf("load plans: %w", err)
	}
	for _, p := range plans {
		m.AIUsage.PlansCreated++
		if p.Status == domain.PlanCompleted {
			m.AIUsage.PlansCompleted++
		}
	}
	return m, nil
}

func ratio(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return round(float64(part)/float64(whole)*100, 2)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// change is the percent change from prev to cur; growth from nothing counts
// as 100.
func change(cur, prev int) float64 {
	if prev == 0 {
		if cur > 0 {
			return 100
		}
		return 0
	}
	return round(float64(cur-prev)/float64(prev)*100, 1)
}

func trends(cur, prev Metrics) Trends {
	return Trends{
		CampaignsSent:    change(cur.Campaigns.Sent, prev.Campaigns.Sent),
		OpenRate:         round(cur.Campaigns.OpenRate-prev.Campaigns.OpenRate, 2),
		ClickRate:        round(cur.Campaigns.ClickRate-prev.Campaigns.ClickRate, 2),
		SubscriberGrowth: change(cur.Subscribers.New, prev.Subscribers.New),
		Unsubscribes:     change(cur.Subscribers.Unsubscribed, prev.Subscribers.Unsubscribed),
		CRMNewContacts:   change(cur.CRM.NewContacts, prev.CRM.NewContacts),
		CRMDealsWon:      change(cur.CRM.WonDeals, prev.CRM.WonDeals),
		AIExecutions:     change(cur.AIUsage.Executions, prev.AIUsage.Executions),
	}
}

func (s *Service) topCampaigns(ctx context.Context, userID string, since time.Time) ([]TopCampaign, error) {
	snaps, err := s.repos.Snapshots.Query(ctx, userID, func(sn *domain.PerformanceSnapshot) bool {
		return !sn.CapturedAt.Before(since)
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	slices.SortStableFunc(snaps, func(a, b *domain.PerformanceSnapshot) int {
		switch {
		case a.OpenRate > b.OpenRate:
			return -1
		case a.OpenRate < b.OpenRate:
			return 1
		}
		return 0
	})
	out := make([]TopCampaign, 0, topCampaignCount)
	for _, sn := range snaps[:min(len(snaps), topCampaignCount)] {
		out = append(out, TopCampaign{
			Title:        sn.CampaignTitle,
			OpenRate:     sn.OpenRate,
			ClickRate:    sn.ClickRate,
			SentCount:    sn.SentCount,
			AboveAverage: sn.IsAboveAverage(),
			WhatWorked:   sn.WhatWorked,
		})
	}
	return out, nil
}

func (s *Service) goalProgress(ctx context.Context, userID string) (GoalProgress, error) {
	gp := GoalProgress{RecentCompleted: []string{}}
	goals, err := s.repos.Goals.Query(ctx, userID, nil)
	if err != nil {
		return gp, fmt.Errorf("load goals: %w", err)
	}
	var completed []*domain.Goal
	for _, g := range goals {
		gp.Total++
		switch g.Status {
		case domain.GoalActive:
			gp.Active++
		case domain.GoalPaused:
			gp.Paused++
		case domain.GoalCompleted:
			gp.Completed++
			completed = append(completed, g)
		}
	}
	slices.SortStableFunc(completed, func(a, b *domain.Goal) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	for _, g := range completed[:min(len(completed), recentGoalCount)] {
		gp.RecentCompleted = append(gp.RecentCompleted, g.Title)
	}
	return gp, nil
}

func (s *Service) activity(ctx context.Context, userID string, since time.Time) (BrainActivity, error) {
	var ba BrainActivity
	logs, err := s.repos.Activity.Query(ctx, userID, func(l *domain.ActivityLog) bool { return !l.CreatedAt.Before(since) })
	if err != nil {
		return ba, fmt.Errorf("load activity: %w", err)
	}
	for _, l := range logs {
		ba.TotalEvents++
		switch {
		case l.Event == orchestrator.EventCronCycle:
			ba.CronCycles++
		case l.Event == situation.EventSituationAnalysis && l.Status == "completed":
			ba.SituationAnalyses++
		case l.Event == performance.EventPerformanceReview:
			ba.PerformanceReviews++
		}
	}
	return ba, nil
}

func periodLabel(period string) string {
	if period == PeriodMonth {
		return "monthly"
	}
	return "weekly"
}

// report asks the model for the strategist's write-up and falls back to a
// plain metrics summary when the model fails.
func (s *Service) report(ctx context.Context, acct agent.Account, d *Digest) (string, string) {
	if s.gen != nil {
		resp, err := s.gen.Generate(ctx, acct.Settings, domain.TaskAnalytics, reportPrompt(acct, d), model.Options{MaxTokens: reportMaxTokens, Temperature: reportTemp})
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			return strings.TrimSpace(resp.Content), SourceAI
		}
		if err == nil {
			err = fmt.Errorf("empty report")
		}
		logger.FromContext(ctx).Warn("Digest report generation failed", "user_id", d.UserID, "error", err)
	}
	return FallbackReport(d), SourceFallback
}

func reportPrompt(acct agent.Account, d *Digest) string {
	data, _ := json.MarshalIndent(d, "", "  ")
	label := periodLabel(d.Period)
	var b strings.Builder
	fmt.Fprintf(&b, "You are a senior marketing strategist preparing a %s performance digest.\n\n", label)
	b.WriteString("METRICS DATA:\n" + string(data) + "\n\n")
	fmt.Fprintf(&b, "Generate a concise, actionable %s report containing:\n\n", label)
	b.WriteString("1. **📊 Executive Summary**: 2-3 sentences summarizing overall performance\n")
	fmt.Fprintf(&b, "2. **📈 Key Wins**: what went well this %s (with specific numbers)\n", d.Period)
	b.WriteString("3. **⚠️ Areas of Concern**: declining metrics, high unsubscribes and anything else that needs attention\n")
	b.WriteString("4. **🎯 Strategic Recommendations**: 3-5 specific, actionable next steps based on data\n")
	fmt.Fprintf(&b, "5. **🔮 Focus for Next %s**: priority actions for the coming period\n\n", label)
	b.WriteString(`RULES:
- Use specific numbers from the data, not vague statements
- Compare with previous period trends where meaningful
- If campaign performance data is available, reference specific campaigns
- If goal data exists, comment on goal progress
- Keep it concise; this is a digest, not a full report
- Use emoji for quick scanning
`)
	fmt.Fprintf(&b, "- Respond in %s\n\nFORMAT: Clean markdown text. No JSON wrapper.", conversation.ResolveLanguage(acct.User, acct.Settings))
	return b.String()
}
