// Package calendar keeps a week-ahead plan of campaigns per user and feeds
// the upcoming part of it into the situation analysis.
package calendar

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/conversation"
	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/structured"
)

const (
	DefaultCampaignType = "newsletter"
	DefaultUpcoming     = 7

	defaultPlannedDay = 2
	topicMaxLength    = 255
	snapshotsInPrompt = 3
	planMaxTokens     = 2000
	planTemp          = 0.5
)

// WeekPlan reports what GenerateWeeklyPlan did.
type WeekPlan struct {
	WeekStart time.Time
	Generated bool
	Entries   int
}

// Service plans campaigns for the coming week. Dates are calendar days kept
// at UTC midnight.
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

// NextWeek returns the Monday after the week containing now.
func NextWeek(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, 7-offset)
}

type plannedCampaign struct {
	PlannedDay     any    `json:"planned_day"`
	CampaignType   string `json:"campaign_type"`
	Topic          string `json:"topic"`
	Description    string `json:"description"`
	TargetAudience string `json:"target_audience"`
}

// GenerateWeeklyPlan asks the model for next week's campaigns unless that
// week already has entries. Model failures are logged and reported as not
// generated; only storage errors are returned.
func (s *Service) GenerateWeeklyPlan(ctx context.Context, acct agent.Account) (WeekPlan, error) {
	userID := acct.ID()
	log := logger.FromContext(ctx).With("user_id", userID)
	now := s.now().In(acct.User.Location())
	week := NextWeek(now)
	res := WeekPlan{WeekStart: week}

	existing, err := s.repos.Calendar.First(ctx, userID, func(e *domain.CalendarEntry) bool {
		return e.WeekStart.Equal(week)
	})
	if err != nil {
		return res, fmt.Errorf("load calendar: %w", err)
	}
	if existing != nil || s.gen == nil {
		return res, nil
	}

	prompt, err := s.prompt(ctx, acct, now, week)
	if err != nil {
		return res, err
	}
	resp, err := s.gen.Generate(ctx, acct.Settings, domain.TaskCampaign, prompt, model.Options{MaxTokens: planMaxTokens, Temperature: planTemp})
	if err != nil {
		log.Warn("Campaign calendar generation failed", "error", err)
		return res, nil
	}
	var planned []plannedCampaign
	if _, err := structured.DecodeArray(resp.Content, &planned); err != nil {
		log.Warn("Campaign calendar reply unusable", "error", err)
		return res, nil
	}
	if len(planned) == 0 {
		return res, nil
	}

	goal, err := s.repos.Goals.Last(ctx, userID, func(g *domain.Goal) bool { return g.Status == domain.GoalActive })
	if err != nil {
		return res, fmt.Errorf("load active goal: %w", err)
	}
	for _, p := range planned {
		entry := &domain.CalendarEntry{
			UserID:         userID,
			WeekStart:      week,
			PlannedDate:    week.AddDate(0, 0, plannedDay(p.PlannedDay)-1),
			CampaignType:   strings.ToLower(strings.TrimSpace(p.CampaignType)),
			TargetAudience: strings.TrimSpace(p.TargetAudience),
			Topic:          truncate(strings.TrimSpace(p.Topic), topicMaxLength),
			Description:    strings.TrimSpace(p.Description),
			Status:         domain.CalendarDraft,
		}
		if entry.CampaignType == "" {
			entry.CampaignType = DefaultCampaignType
		}
		if entry.Topic == "" {
			entry.Topic = "Campaign"
		}
		if goal != nil {
			entry.GoalID = goal.ID
		}
		if err := s.repos.Calendar.Create(ctx, entry); err != nil {
			return res, fmt.Errorf("save calendar entry: %w", err)
		}
		res.Entries++
	}
	res.Generated = true
	log.Info("Campaign calendar generated", "week", week.Format(time.DateOnly), "entries", res.Entries)
	return res, nil
}

// plannedDay clamps the model's day to Monday=1 .. Sunday=7.
func plannedDay(v any) int {
	day := defaultPlannedDay
	switch d := v.(type) {
	case float64:
		day = int(d)
	case string:
		if _, err := fmt.Sscan(d, &day); err != nil {
			day = defaultPlannedDay
		}
	}
	return min(max(day, 1), 7)
}

func (s *Service) prompt(ctx context.Context, acct agent.Account, now, week time.Time) (string, error) {
	userID := acct.ID()
	stats, err := s.platform.Stats(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load platform stats: %w", err)
	}

	goals := "None set"
	active, err := s.repos.Goals.Query(ctx, userID, func(g *domain.Goal) bool { return g.Status == domain.GoalActive })
	if err != nil {
		return "", fmt.Errorf("load goals: %w", err)
	}
	if len(active) > 0 {
		parts := make([]string, 0, len(active))
		for _, g := range active {
			parts = append(parts, fmt.Sprintf("%s (%s)", g.Title, g.Priority))
		}
		goals = strings.Join(parts, ", ")
	}

	performance := "No data"
	snaps, err := s.repos.Snapshots.Query(ctx, userID, nil)
	if err != nil {
		return "", fmt.Errorf("load snapshots: %w", err)
	}
	if len(snaps) > 0 {
		slices.SortFunc(snaps, func(a, b *domain.PerformanceSnapshot) int { return b.CapturedAt.Compare(a.CapturedAt) })
		parts := make([]string, 0, snapshotsInPrompt)
		for _, sn := range snaps[:min(len(snaps), snapshotsInPrompt)] {
			parts = append(parts, fmt.Sprintf("%s: OR %.1f%%, CTR %.1f%%", sn.CampaignTitle, sn.OpenRate, sn.ClickRate))
		}
		performance = strings.Join(parts, "; ")
	}

	var b strings.Builder
	b.WriteString("You are a marketing strategist planning the upcoming week's email campaigns.\n\n")
	b.WriteString("CURRENT CONTEXT:\n")
	fmt.Fprintf(&b, "- Total subscribers: %d\n", stats.Subscribers)
	fmt.Fprintf(&b, "- Active goals: %s\n", goals)
	fmt.Fprintf(&b, "- Recent performance: %s\n", performance)
	fmt.Fprintf(&b, "- Today: %s (%s)\n", now.Format(time.DateOnly), now.Weekday())
	fmt.Fprintf(&b, "- Planning for week: %s to %s\n\n", week.Format(time.DateOnly), week.AddDate(0, 0, 6).Format(time.DateOnly))
	fmt.Fprintf(&b, "IMPORTANT: Respond in %s.\n", conversation.ResolveLanguage(acct.User, acct.Settings))
	b.WriteString(`
Plan 2-4 campaigns for the upcoming week. For each campaign include:
- planned_day: 1-7 (Monday=1, Sunday=7)
- campaign_type: newsletter, promotion, nurturing, win_back, or announcement
- topic: short topic description
- description: 1-2 sentence description of what this campaign should cover
- target_audience: who should receive it

Respond in JSON array format:
[
  {"planned_day": 2, "campaign_type": "newsletter", "topic": "Weekly industry insights",
   "description": "Share latest trends and company updates", "target_audience": "All active subscribers"}
]

Be specific and strategic. Align campaigns with active goals when possible.
`)
	return b.String(), nil
}

// Upcoming returns up to limit entries planned for today or later, soonest
// first.
func (s *Service) Upcoming(ctx context.Context, userID string, limit int) ([]*domain.CalendarEntry, error) {
	if limit <= 0 {
		limit = DefaultUpcoming
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	entries, err := s.repos.Calendar.Query(ctx, userID, func(e *domain.CalendarEntry) bool {
		return !e.PlannedDate.Before(today)
	})
	if err != nil {
		return nil, fmt.Errorf("load calendar: %w", err)
	}
	slices.SortStableFunc(entries, func(a, b *domain.CalendarEntry) int { return a.PlannedDate.Compare(b.PlannedDate) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// UpcomingContext renders the upcoming entries for analysis prompts, or ""
// when nothing is planned.
func (s *Service) UpcomingContext(ctx context.Context, userID string) (string, error) {
	entries, err := s.Upcoming(ctx, userID, DefaultUpcoming)
	if err != nil || len(entries) == 0 {
		return "", err
	}
	var b strings.Builder
	b.WriteString("--- CAMPAIGN CALENDAR ---\n")
	for _, e := range entries {
		b.WriteString(FormatEntry(e) + "\n")
	}
	return b.String(), nil
}

// FormatEntry renders one entry as "[DRAFT] Monday 03/09: topic (type) → audience".
func FormatEntry(e *domain.CalendarEntry) string {
	line := fmt.Sprintf("[%s] %s %s: %s (%s)", strings.ToUpper(e.Status), e.PlannedDate.Weekday(), e.PlannedDate.Format("01/02"), e.Topic, e.CampaignType)
	if e.TargetAudience != "" {
		line += " → " + e.TargetAudience
	}
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
