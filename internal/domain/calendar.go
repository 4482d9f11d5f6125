package domain

import "time"

// Calendar entry states.
const (
	CalendarDraft     = "draft"
	CalendarScheduled = "scheduled"
	CalendarSent      = "sent"
	CalendarSkipped   = "skipped"
)

// CalendarEntry is one campaign planned for a day of a week. WeekStart is
// the Monday of that week at midnight.
type CalendarEntry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	WeekStart      time.Time `json:"week_start"`
	PlannedDate    time.Time `json:"planned_date"`
	CampaignType   string    `json:"campaign_type"`
	TargetAudience string    `json:"target_audience,omitempty"`
	Topic          string    `json:"topic"`
	Description    string    `json:"description,omitempty"`
	Status         string    `json:"status"`
	GoalID         string    `json:"goal_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
