package domain

import "time"

type Rating string

const (
	RatingAbove   Rating = "above"
	RatingAverage Rating = "average"
	RatingBelow   Rating = "below"
)

const (
	MetricOpenRate        = "open_rate"
	MetricClickRate       = "click_rate"
	MetricUnsubscribeRate = "unsubscribe_rate"
	MetricBounceRate      = "bounce_rate"
)

type PerformanceSnapshot struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	PlanID           string            `json:"plan_id"`
	MessageID        string            `json:"message_id"`
	CampaignTitle    string            `json:"campaign_title"`
	AgentType        string            `json:"agent_type"`
	SentCount        int               `json:"sent_count"`
	OpenCount        int               `json:"open_count"`
	ClickCount       int               `json:"click_count"`
	BounceCount      int               `json:"bounce_count"`
	UnsubscribeCount int               `json:"unsubscribe_count"`
	OpenRate         float64           `json:"open_rate"`
	ClickRate        float64           `json:"click_rate"`
	BounceRate       float64           `json:"bounce_rate"`
	UnsubscribeRate  float64           `json:"unsubscribe_rate"`
	Comparison       map[string]Rating `json:"benchmark_comparison"`
	LessonsLearned   string            `json:"lessons_learned,omitempty"`
	WhatWorked       []string          `json:"what_worked,omitempty"`
	WhatToImprove    []string          `json:"what_to_improve,omitempty"`
	StyleNotes       string            `json:"style_notes,omitempty"`
	ReviewStatus     string            `json:"review_status"`
	CampaignSentAt   *time.Time        `json:"campaign_sent_at,omitempty"`
	CapturedAt       time.Time         `json:"captured_at"`
}

// IsAboveAverage is true when opens or clicks beat the benchmark and neither
// of them fell below it.
func (s *PerformanceSnapshot) IsAboveAverage() bool {
	open, click := s.Comparison[MetricOpenRate], s.Comparison[MetricClickRate]
	if open == RatingBelow || click == RatingBelow {
		return false
	}
	return open == RatingAbove || click == RatingAbove
}

// Benchmarks are reference rates in percent.
type Benchmarks struct {
	OpenRate        float64 `json:"avg_open_rate"`
	ClickRate       float64 `json:"avg_click_rate"`
	UnsubscribeRate float64 `json:"avg_unsubscribe_rate"`
	BounceRate      float64 `json:"avg_bounce_rate"`
}

// IndustryBenchmarks are used until a user has enough history of their own.
var IndustryBenchmarks = Benchmarks{
	OpenRate:        21.0,
	ClickRate:       2.6,
	UnsubscribeRate: 0.26,
	BounceRate:      0.7,
}
