// Package scorer ranks candidate cycle tasks on impact, urgency, goal
// alignment and freshness, each worth 0-25 points.
package scorer

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
)

const (
	DefaultLimit = 5

	maxSubScore       = 25
	neverRunUrgency   = 20
	neutralAlignment  = 12
	freshnessFloor    = 5
	freshnessUnit     = 5
	duplicateTitleSim = 0.6
	recentWindow      = 7 * 24 * time.Hour
	subscribersPerPt  = 500
	maxListBoost      = 5
	defaultAgent      = "campaign"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "for": true,
	"to": true, "in": true, "on": true, "of": true, "with": true, "is": true,
	"it": true, "this": true, "that": true, "do": true, "i": true,
	"na": true, "w": true, "z": true, "o": true, "dla": true,
}

// Scorer assigns every task a 0-100 score and sorts them.
type Scorer struct {
	repos    *repository.Repositories
	platform platform.Platform
	now      func() time.Time
}

func New(repos *repository.Repositories, pf platform.Platform) *Scorer {
	return &Scorer{repos: repos, platform: pf, now: time.Now}
}

func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

type recentTask struct {
	title    string
	category string
}

// scoringContext is gathered once per batch.
type scoringContext struct {
	lastSuccess map[string]time.Time
	goals       []*domain.Goal
	recent      []recentTask
	subscribers map[string]int
}

// Score fills Score and Breakdown on copies of tasks and returns them
// highest first. Equal scores keep their input order. A limit of 0 returns
// every task.
func (s *Scorer) Score(ctx context.Context, tasks []domain.Task, userID string, limit int) ([]domain.Task, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	sc, err := s.gather(ctx, userID, tasks)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		t.Breakdown = domain.ScoreBreakdown{
			Impact:        impact(t, sc),
			Urgency:       urgency(t, sc, now),
			GoalAlignment: goalAlignment(t, sc),
			Freshness:     freshness(t, sc),
		}
		t.Score = t.Breakdown.Total()
		out[i] = t
	}
	slices.SortStableFunc(out, func(a, b domain.Task) int { return b.Score - a.Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Scorer) gather(ctx context.Context, userID string, tasks []domain.Task) (*scoringContext, error) {
	now := s.now()
	sc := &scoringContext{lastSuccess: map[string]time.Time{}, subscribers: map[string]int{}}

	logs, err := s.repos.Executions.Query(ctx, userID, func(l *domain.ExecutionLog) bool {
		return l.Status == domain.ExecutionSuccess
	})
	if err != nil {
		return nil, fmt.Errorf("load execution logs: %w", err)
	}
	for _, l := range logs {
		if last, ok := sc.lastSuccess[l.Agent]; !ok || l.CreatedAt.After(last) {
			sc.lastSuccess[l.Agent] = l.CreatedAt
		}
		if l.Trigger == domain.TriggerCron && !l.CreatedAt.Before(now.Add(-recentWindow)) {
			sc.recent = append(sc.recent, recentTask{title: l.Title, category: l.Category})
		}
	}

	sc.goals, err = s.repos.Goals.Query(ctx, userID, func(g *domain.Goal) bool {
		return g.Status == domain.GoalActive
	})
	if err != nil {
		return nil, fmt.Errorf("load active goals: %w", err)
	}

	if s.platform == nil {
		return sc, nil
	}
	for _, t := range tasks {
		ids := t.TargetListIDs()
		if len(ids) == 0 {
			continue
		}
		key := listKey(ids)
		if _, ok := sc.subscribers[key]; ok {
			continue
		}
		n, err := s.platform.SubscriberCount(ctx, userID, ids)
		if err != nil {
			logger.FromContext(ctx).Warn("Subscriber count unavailable for scoring", "lists", key, "error", err)
			continue
		}
		sc.subscribers[key] = n
	}
	return sc, nil
}

func listKey(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return strings.Join(sorted, ",")
}

func impact(t domain.Task, sc *scoringContext) int {
	var base int
	switch t.Priority {
	case domain.PriorityUrgent:
		base = 20
	case domain.PriorityHigh:
		base = 15
	case domain.PriorityMedium:
		base = 10
	case domain.PriorityLow:
		base = 5
	default:
		base = 8
	}

	var boost int
	switch t.Category {
	case "send_broadcast", "audience_growth":
		boost = 5
	case "campaign_follow_up", "lead_nurturing", "ai_analysis":
		boost = 4
	case "win_back", "list_hygiene":
		boost = 3
	case "a_b_testing", "crm_pipeline":
		boost = 2
	default:
		boost = 1
	}

	var lists int
	if ids := t.TargetListIDs(); len(ids) > 0 {
		lists = min(maxListBoost, sc.subscribers[listKey(ids)]/subscribersPerPt)
	}
	return min(maxSubScore, base+boost+lists)
}

func urgency(t domain.Task, sc *scoringContext, now time.Time) int {
	agentName := t.Agent
	if agentName == "" {
		agentName = defaultAgent
	}
	last, ok := sc.lastSuccess[agentName]
	if !ok {
		return neverRunUrgency
	}
	days := int(now.Sub(last).Hours() / 24)
	if days < 0 {
		days = -days
	}
	timeScore := min(maxSubScore, 5+int(float64(days)*1.5))

	multiplier := 1.0
	switch t.Category {
	case "list_hygiene":
		multiplier = 0.8
	case "analytics_report":
		multiplier = 0.7
	case "win_back", "lead_nurturing":
		multiplier = 1.2
	}
	return min(maxSubScore, int(float64(timeScore)*multiplier))
}

func goalAlignment(t domain.Task, sc *scoringContext) int {
	if len(sc.goals) == 0 {
		return neutralAlignment
	}
	text := t.Title + " " + t.Description + " " + t.Action
	best := 0.0
	for _, g := range sc.goals {
		best = max(best, Similarity(text, g.Title+" "+g.Description))
	}
	return min(maxSubScore, int(best*maxSubScore))
}

func freshness(t domain.Task, sc *scoringContext) int {
	similar := 0
	for _, r := range sc.recent {
		if r.category == t.Category {
			similar++
		}
		if Similarity(t.Title, r.title) > duplicateTitleSim {
			similar += 2
		}
	}
	return max(freshnessFloor, maxSubScore-similar*freshnessUnit)
}

// Similarity is the Jaccard index of the two texts' word sets, ignoring
// case and stop words. Empty inputs score 0.
func Similarity(a, b string) float64 {
	wa, wb := words(a), words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	shared := 0
	for w := range wa {
		if wb[w] {
			shared++
		}
	}
	union := len(wa) + len(wb) - shared
	return float64(shared) / float64(union)
}

func words(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !stopWords[f] {
			out[f] = true
		}
	}
	return out
}
