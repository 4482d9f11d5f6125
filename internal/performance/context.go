package performance

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/domain"
)

const contextLimit = 5

type CampaignResult struct {
	Title        string
	OpenRate     float64
	ClickRate    float64
	AboveAverage bool
	Date         string
}

// Context is a compact view of recent campaign results for prompts.
type Context struct {
	HasData      bool
	Recent       []CampaignResult
	AvgOpenRate  float64
	AvgClickRate float64
	Best         string
	Worst        string
}

// PerformanceContext summarizes the newest snapshots captured in the
// context window.
func (t *Tracker) PerformanceContext(ctx context.Context, userID string) (Context, error) {
	since := t.now().AddDate(0, 0, -t.opts.ContextDays)
	snaps, err := t.repos.Snapshots.Query(ctx, userID, func(s *domain.PerformanceSnapshot) bool {
		return !s.CapturedAt.Before(since)
	})
	if err != nil {
		return Context{}, fmt.Errorf("load snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return Context{}, nil
	}
	slices.SortStableFunc(snaps, func(a, b *domain.PerformanceSnapshot) int {
		return b.CapturedAt.Compare(a.CapturedAt)
	})
	if len(snaps) > contextLimit {
		snaps = snaps[:contextLimit]
	}

	out := Context{HasData: true}
	best, worst := snaps[0], snaps[0]
	var open, click float64
	for _, s := range snaps {
		date := ""
		if s.CampaignSentAt != nil {
			date = s.CampaignSentAt.Format(time.DateOnly)
		}
		out.Recent = append(out.Recent, CampaignResult{
			Title:        s.CampaignTitle,
			OpenRate:     s.OpenRate,
			ClickRate:    s.ClickRate,
			AboveAverage: s.IsAboveAverage(),
			Date:         date,
		})
		open += s.OpenRate
		click += s.ClickRate
		if s.OpenRate > best.OpenRate {
			best = s
		}
		if s.OpenRate < worst.OpenRate {
			worst = s
		}
	}
	n := float64(len(snaps))
	out.AvgOpenRate = round2(open / n)
	out.AvgClickRate = round2(click / n)
	out.Best = best.CampaignTitle
	out.Worst = worst.CampaignTitle
	return out, nil
}

// String renders the context for a prompt, or "" without data.
func (c Context) String() string {
	if !c.HasData {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "RECENT CAMPAIGN PERFORMANCE (avg open %s%%, avg CTR %s%%):\n", pct(c.AvgOpenRate), pct(c.AvgClickRate))
	for _, r := range c.Recent {
		mark := ""
		if r.AboveAverage {
			mark = " ⭐"
		}
		date := r.Date
		if date == "" {
			date = "n/a"
		}
		fmt.Fprintf(&b, "- %s (%s): open %s%%, CTR %s%%%s\n", r.Title, date, pct(r.OpenRate), pct(r.ClickRate), mark)
	}
	fmt.Fprintf(&b, "Best: %s. Worst: %s.\n", c.Best, c.Worst)
	return b.String()
}
