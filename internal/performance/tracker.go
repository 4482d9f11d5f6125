// Package performance reviews sent campaigns, rates them against benchmarks
// and writes the lessons back into the knowledge base.
package performance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/conversation"
	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/structured"
)

const (
	EventPerformanceReview = "performance_review"

	// MinHistory is how many snapshots a user needs before their own
	// averages replace the industry benchmarks.
	MinHistory = 3

	reviewedStatus  = "reviewed"
	campaignAgent   = "campaign"
	previewLength   = 300
	lessonMaxTokens = 2000
	lessonTemp      = 0.3
)

type Options struct {
	MinAge      time.Duration
	MaxAge      time.Duration
	Tolerance   float64
	ContextDays int
}

func OptionsFromConfig(cfg config.PerformanceConfig) Options {
	return Options{
		MinAge:      time.Duration(cfg.MinHoursAfterSend) * time.Hour,
		MaxAge:      time.Duration(cfg.MaxHoursAfterSend) * time.Hour,
		Tolerance:   cfg.BenchmarkTolerance,
		ContextDays: cfg.ContextDays,
	}
}

func (o Options) withDefaults() Options {
	if o.MinAge <= 0 {
		o.MinAge = config.DefaultPerformanceMinHours * time.Hour
	}
	if o.MaxAge <= 0 {
		o.MaxAge = config.DefaultPerformanceMaxHours * time.Hour
	}
	if o.Tolerance <= 0 {
		o.Tolerance = config.DefaultPerformanceTolerance
	}
	if o.ContextDays <= 0 {
		o.ContextDays = config.DefaultPerformanceContextDays
	}
	return o
}

// Tracker closes the loop between executed campaigns and future planning.
type Tracker struct {
	repos     *repository.Repositories
	gen       model.Generator
	knowledge *knowledge.Service
	platform  platform.Platform
	opts      Options
	now       func() time.Time
}

func NewTracker(repos *repository.Repositories, gen model.Generator, kb *knowledge.Service, pf platform.Platform, opts Options) *Tracker {
	return &Tracker{repos: repos, gen: gen, knowledge: kb, platform: pf, opts: opts.withDefaults(), now: time.Now}
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Lesson summarizes one reviewed campaign.
type Lesson struct {
	PlanID       string
	Title        string
	OpenRate     float64
	ClickRate    float64
	AboveAverage bool
}

type ReviewResult struct {
	Reviewed  int
	Lessons   []Lesson
	Snapshots []*domain.PerformanceSnapshot
}

// ReviewCompleted snapshots every campaign plan that finished inside the
// review window and has not been reviewed yet. A failing plan is logged and
// skipped.
func (t *Tracker) ReviewCompleted(ctx context.Context, acct agent.Account) (ReviewResult, error) {
	log := logger.FromContext(ctx)
	var res ReviewResult

	plans, err := t.reviewable(ctx, acct.ID())
	if err != nil || len(plans) == 0 {
		return res, err
	}
	bench, err := t.Benchmarks(ctx, acct.ID())
	if err != nil {
		return res, err
	}

	above := 0
	for _, p := range plans {
		snap, err := t.capture(ctx, acct, p, bench)
		if err != nil {
			log.Warn("Performance review failed", "plan_id", p.ID, "error", err)
			continue
		}
		if snap == nil {
			continue
		}
		res.Reviewed++
		res.Snapshots = append(res.Snapshots, snap)
		lesson := Lesson{
			PlanID:       p.ID,
			Title:        snap.CampaignTitle,
			OpenRate:     snap.OpenRate,
			ClickRate:    snap.ClickRate,
			AboveAverage: snap.IsAboveAverage(),
		}
		if lesson.AboveAverage {
			above++
		}
		res.Lessons = append(res.Lessons, lesson)
	}

	if res.Reviewed > 0 {
		if err := t.repos.LogActivity(ctx, acct.ID(), EventPerformanceReview, "completed", map[string]any{
			"reviewed_count":      res.Reviewed,
			"above_average_count": above,
		}); err != nil {
			log.Warn("Failed to log performance review", "error", err)
		}
		log.Info("Campaign performance reviewed", "reviewed", res.Reviewed, "above_average", above)
	}
	return res, nil
}

// reviewable returns completed campaign plans inside the review window that
// have no snapshot yet.
func (t *Tracker) reviewable(ctx context.Context, userID string) ([]*domain.ActionPlan, error) {
	now := t.now()
	oldest, newest := now.Add(-t.opts.MaxAge), now.Add(-t.opts.MinAge)
	plans, err := t.repos.Plans.Query(ctx, userID, func(p *domain.ActionPlan) bool {
		if p.AgentType != campaignAgent || p.Status != domain.PlanCompleted || p.CompletedAt == nil {
			return false
		}
		return !p.CompletedAt.Before(oldest) && !p.CompletedAt.After(newest)
	})
	if err != nil || len(plans) == 0 {
		return nil, err
	}

	reviewed := make(map[string]bool)
	snaps, err := t.repos.Snapshots.Query(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	for _, s := range snaps {
		reviewed[s.PlanID] = true
	}
	return slices.DeleteFunc(plans, func(p *domain.ActionPlan) bool { return reviewed[p.ID] }), nil
}

func (t *Tracker) capture(ctx context.Context, acct agent.Account, p *domain.ActionPlan, bench domain.Benchmarks) (*domain.PerformanceSnapshot, error) {
	messageID := MessageID(p)
	if messageID == "" {
		logger.FromContext(ctx).Info("No message found in campaign plan", "plan_id", p.ID)
		return nil, nil
	}
	msg, err := t.platform.Message(ctx, acct.ID(), messageID)
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", messageID, err)
	}
	if msg.Stats.Sent < 1 {
		return nil, nil
	}

	snap := Measure(msg.Stats)
	snap.UserID = acct.ID()
	snap.PlanID = p.ID
	snap.MessageID = msg.ID
	snap.AgentType = campaignAgent
	snap.CampaignTitle = firstNonEmpty(p.Title, msg.Subject, "Campaign")
	snap.Comparison = Compare(snap, bench, t.opts.Tolerance)
	snap.ReviewStatus = reviewedStatus
	snap.CapturedAt = t.now()
	switch {
	case msg.SentAt != nil:
		sent := *msg.SentAt
		snap.CampaignSentAt = &sent
	case p.CompletedAt != nil:
		done := *p.CompletedAt
		snap.CampaignSentAt = &done
	}

	lessons := t.lessons(ctx, acct, p, msg, snap)
	snap.LessonsLearned = lessons.Summary
	snap.WhatWorked = lessons.WhatWorked
	snap.WhatToImprove = lessons.WhatToImprove
	snap.StyleNotes = lessons.StyleNotes

	if err := t.repos.Snapshots.Create(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	t.saveToKnowledge(ctx, snap)
	return snap, nil
}

// MessageID finds the campaign message of a plan: step results first, then
// step configs.
func MessageID(p *domain.ActionPlan) string {
	for i := range p.Steps {
		if id := p.Steps[i].ResultString("message_id"); id != "" {
			return id
		}
	}
	for _, s := range p.Steps {
		switch c := s.Config.(type) {
		case *domain.ScheduleSendConfig:
			if c.MessageID != "" {
				return c.MessageID
			}
		case *domain.AnalyzeResultsConfig:
			if c.MessageID != "" {
				return c.MessageID
			}
		case *domain.CreateABTestConfig:
			if c.MessageID != "" {
				return c.MessageID
			}
		}
	}
	return ""
}

// Measure turns raw message counters into a snapshot with percent rates
// rounded to two decimals.
func Measure(stats platform.MessageStats) *domain.PerformanceSnapshot {
	sent := max(1, stats.Sent)
	rate := func(n int) float64 { return round2(100 * float64(n) / float64(sent)) }
	return &domain.PerformanceSnapshot{
		SentCount:        sent,
		OpenCount:        stats.Opens,
		ClickCount:       stats.Clicks,
		BounceCount:      stats.Bounces,
		UnsubscribeCount: stats.Unsubscribes,
		OpenRate:         rate(stats.Opens),
		ClickRate:        rate(stats.Clicks),
		BounceRate:       rate(stats.Bounces),
		UnsubscribeRate:  rate(stats.Unsubscribes),
	}
}

// Benchmarks returns the user's own averages once enough snapshots exist,
// otherwise the industry defaults.
func (t *Tracker) Benchmarks(ctx context.Context, userID string) (domain.Benchmarks, error) {
	snaps, err := t.repos.Snapshots.Query(ctx, userID, nil)
	if err != nil {
		return domain.Benchmarks{}, fmt.Errorf("load snapshots: %w", err)
	}
	if len(snaps) < MinHistory {
		return domain.IndustryBenchmarks, nil
	}
	var b domain.Benchmarks
	for _, s := range snaps {
		b.OpenRate += s.OpenRate
		b.ClickRate += s.ClickRate
		b.UnsubscribeRate += s.UnsubscribeRate
		b.BounceRate += s.BounceRate
	}
	n := float64(len(snaps))
	return domain.Benchmarks{
		OpenRate:        round2(b.OpenRate / n),
		ClickRate:       round2(b.ClickRate / n),
		UnsubscribeRate: round2(b.UnsubscribeRate / n),
		BounceRate:      round2(b.BounceRate / n),
	}, nil
}

// Compare rates every metric against its benchmark with a relative tolerance
// band. Unsubscribe and bounce rates are better when lower.
func Compare(s *domain.PerformanceSnapshot, b domain.Benchmarks, tolerance float64) map[string]domain.Rating {
	return map[string]domain.Rating{
		domain.MetricOpenRate:        rate(s.OpenRate, b.OpenRate, tolerance, false),
		domain.MetricClickRate:       rate(s.ClickRate, b.ClickRate, tolerance, false),
		domain.MetricUnsubscribeRate: rate(s.UnsubscribeRate, b.UnsubscribeRate, tolerance, true),
		domain.MetricBounceRate:      rate(s.BounceRate, b.BounceRate, tolerance, true),
	}
}

func rate(value, benchmark, tolerance float64, lowerIsBetter bool) domain.Rating {
	band := benchmark * tolerance
	high, low := value > benchmark+band, value < benchmark-band
	if lowerIsBetter {
		high, low = low, high
	}
	switch {
	case high:
		return domain.RatingAbove
	case low:
		return domain.RatingBelow
	}
	return domain.RatingAverage
}

// Lessons is the structured review of one campaign.
type Lessons struct {
	Summary       string   `json:"summary"`
	WhatWorked    []string `json:"what_worked"`
	WhatToImprove []string `json:"what_to_improve"`
	StyleNotes    string   `json:"style_notes"`
}

func (l Lessons) empty() bool {
	return strings.TrimSpace(l.Summary) == "" && len(l.WhatWorked) == 0 && len(l.WhatToImprove) == 0
}

func (t *Tracker) lessons(ctx context.Context, acct agent.Account, p *domain.ActionPlan, msg *platform.Message, snap *domain.PerformanceSnapshot) Lessons {
	if t.gen == nil {
		return FallbackLessons(snap)
	}
	prompt := fmt.Sprintf(`You are a marketing performance analyst. A campaign was executed by the AI Brain and here are the results.

CAMPAIGN INFO:
Title: %s
Subject: %s
Content preview: %s

METRICS:
sent %d, opens %d (%s%%), clicks %d (%s%%), bounces %d (%s%%), unsubscribes %d (%s%%)

BENCHMARK COMPARISON:
open_rate %s, click_rate %s, unsubscribe_rate %s, bounce_rate %s

IMPORTANT: Respond in %s.

Analyze this campaign's performance and generate actionable lessons. Respond in JSON:
{
  "summary": "1-2 sentence overall assessment",
  "what_worked": ["max 3 items"],
  "what_to_improve": ["max 3 items"],
  "style_notes": "notes about content style or tone worth remembering"
}

Be specific and actionable. Reference actual metrics.`,
		p.Title, msg.Subject, preview(msg.Content),
		snap.SentCount, snap.OpenCount, pct(snap.OpenRate), snap.ClickCount, pct(snap.ClickRate),
		snap.BounceCount, pct(snap.BounceRate), snap.UnsubscribeCount, pct(snap.UnsubscribeRate),
		snap.Comparison[domain.MetricOpenRate], snap.Comparison[domain.MetricClickRate],
		snap.Comparison[domain.MetricUnsubscribeRate], snap.Comparison[domain.MetricBounceRate],
		conversation.ResolveLanguage(acct.User, acct.Settings))

	resp, err := t.gen.Generate(ctx, acct.Settings, domain.TaskAnalytics, prompt, model.Options{MaxTokens: lessonMaxTokens, Temperature: lessonTemp})
	if err != nil {
		logger.FromContext(ctx).Warn("Lesson generation failed, using rules", "plan_id", p.ID, "error", err)
		return FallbackLessons(snap)
	}
	var l Lessons
	if _, err := structured.DecodeObject(resp.Content, &l); err != nil || l.empty() {
		logger.FromContext(ctx).Warn("Lesson reply unusable, using rules", "plan_id", p.ID, "error", err)
		return FallbackLessons(snap)
	}
	return l
}

// FallbackLessons derives lessons from the benchmark comparison alone.
func FallbackLessons(s *domain.PerformanceSnapshot) Lessons {
	var worked, improve []string
	open, click := pct(s.OpenRate), pct(s.ClickRate)

	switch s.Comparison[domain.MetricOpenRate] {
	case domain.RatingAbove:
		worked = append(worked, fmt.Sprintf("Open rate (%s%%) was above average — subject line was effective.", open))
	case domain.RatingBelow:
		improve = append(improve, fmt.Sprintf("Open rate (%s%%) was below average — try more compelling subject lines.", open))
	}
	switch s.Comparison[domain.MetricClickRate] {
	case domain.RatingAbove:
		worked = append(worked, fmt.Sprintf("Click rate (%s%%) was above average — CTAs were effective.", click))
	case domain.RatingBelow:
		improve = append(improve, fmt.Sprintf("Click rate (%s%%) was below average — improve CTA placement and copy.", click))
	}
	if s.Comparison[domain.MetricUnsubscribeRate] == domain.RatingBelow {
		improve = append(improve, fmt.Sprintf("Unsubscribe rate (%s%%) was higher than average — consider segmenting audience better.", pct(s.UnsubscribeRate)))
	} else {
		worked = append(worked, fmt.Sprintf("Low unsubscribe rate (%s%%) indicates content relevance.", pct(s.UnsubscribeRate)))
	}

	good := 0
	for _, r := range s.Comparison {
		if r == domain.RatingAbove || r == domain.RatingAverage {
			good++
		}
	}
	summary := fmt.Sprintf("Campaign has room for improvement — %s%% open rate, %s%% CTR.", open, click)
	if good >= 3 {
		summary = fmt.Sprintf("Campaign performed well overall with %s%% open rate and %s%% CTR.", open, click)
	}

	if len(worked) == 0 {
		worked = []string{"Campaign was delivered successfully."}
	}
	if len(improve) == 0 {
		improve = []string{"Continue monitoring performance trends."}
	}
	return Lessons{Summary: summary, WhatWorked: worked, WhatToImprove: improve}
}

func (t *Tracker) saveToKnowledge(ctx context.Context, s *domain.PerformanceSnapshot) {
	if t.knowledge == nil {
		return
	}
	_, err := t.knowledge.AddEntry(ctx, s.UserID, domain.CategoryInsights, "Campaign Review — "+s.CampaignTitle, ReviewContent(s),
		domain.SourcePerformanceTracker, knowledge.WithReference("snapshot:"+s.ID), knowledge.WithTags("performance", "campaign"))
	if _, perr := t.knowledge.ExtractPerformancePatterns(ctx, s); perr != nil {
		err = errors.Join(err, perr)
	}
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to save performance review to knowledge base", "snapshot_id", s.ID, "error", err)
	}
}

// ReviewContent renders a snapshot as a knowledge base entry.
func ReviewContent(s *domain.PerformanceSnapshot) string {
	date := "N/A"
	if s.CampaignSentAt != nil {
		date = s.CampaignSentAt.Format(time.DateOnly)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Campaign Performance Review — %s\n", s.CampaignTitle)
	fmt.Fprintf(&b, "Date: %s\n\n", date)
	fmt.Fprintf(&b, "Metrics: OR %s%%, CTR %s%%, Unsub %s%%, Sent: %d\n\n", pct(s.OpenRate), pct(s.ClickRate), pct(s.UnsubscribeRate), s.SentCount)
	if s.LessonsLearned != "" {
		fmt.Fprintf(&b, "Assessment: %s\n\n", s.LessonsLearned)
	}
	if len(s.WhatWorked) > 0 {
		b.WriteString("✅ What worked:\n")
		for _, w := range s.WhatWorked {
			b.WriteString("- " + w + "\n")
		}
		b.WriteString("\n")
	}
	if len(s.WhatToImprove) > 0 {
		b.WriteString("📈 To improve:\n")
		for _, w := range s.WhatToImprove {
			b.WriteString("- " + w + "\n")
		}
		b.WriteString("\n")
	}
	if s.StyleNotes != "" {
		fmt.Fprintf(&b, "🎨 Style notes: %s\n", s.StyleNotes)
	}
	return b.String()
}

func preview(content string) string {
	r := []rune(strings.TrimSpace(content))
	if len(r) <= previewLength {
		return string(r)
	}
	return string(r[:previewLength]) + "..."
}

func pct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
