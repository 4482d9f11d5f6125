package domain

import (
	"fmt"
	"time"
)

// Task is a candidate unit of autonomous work considered by a scheduled cycle.
type Task struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category"`
	Priority    Priority       `json:"priority"`
	Agent       string         `json:"agent,omitempty"`
	Action      string         `json:"action,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	Source      string         `json:"source,omitempty"`
	Score       int            `json:"score"`
	Breakdown   ScoreBreakdown `json:"score_breakdown"`
}

// ScoreBreakdown holds the four 0-25 sub-scores of a task.
type ScoreBreakdown struct {
	Impact        int `json:"impact"`
	Urgency       int `json:"urgency"`
	GoalAlignment int `json:"goal_alignment"`
	Freshness     int `json:"freshness"`
}

func (b ScoreBreakdown) Total() int {
	return b.Impact + b.Urgency + b.GoalAlignment + b.Freshness
}

// TargetListIDs returns parameters.target_list_ids as strings.
func (t Task) TargetListIDs() []string {
	raw, ok := t.Parameters["target_list_ids"]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionFailed  ExecutionStatus = "failed"
)

// ExecutionLog records one plan execution. The scorer reads it for urgency
// and freshness.
type ExecutionLog struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	PlanID    string          `json:"plan_id"`
	Agent     string          `json:"agent"`
	Intent    string          `json:"intent,omitempty"`
	Trigger   string          `json:"trigger"`
	Category  string          `json:"category,omitempty"`
	Title     string          `json:"title"`
	Status    ExecutionStatus `json:"status"`
	Steps     int             `json:"steps"`
	CreatedAt time.Time       `json:"created_at"`
}

// ActivityLog is an audit trail entry for cycles and reviews.
type ActivityLog struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Event     string         `json:"event"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
