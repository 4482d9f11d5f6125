package domain

import (
	"fmt"
	"strings"
	"time"

	brainErrors "github.com/harunnryd/brain/internal/errors"
)

// WorkMode is the autonomy policy applied to plans produced for a user.
type WorkMode string

const (
	ModeAutonomous WorkMode = "autonomous"
	ModeSemiAuto   WorkMode = "semi_auto"
	ModeManual     WorkMode = "manual"
)

// ParseWorkMode validates a user-supplied mode string.
func ParseWorkMode(value string) (WorkMode, error) {
	switch WorkMode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeAutonomous:
		return ModeAutonomous, nil
	case ModeSemiAuto:
		return ModeSemiAuto, nil
	case ModeManual:
		return ModeManual, nil
	}
	return "", fmt.Errorf("%q: %w", value, brainErrors.ErrInvalidMode)
}

func (m WorkMode) Label() string {
	switch m {
	case ModeAutonomous:
		return "Autonomous"
	case ModeManual:
		return "Manual"
	default:
		return "Semi-automatic"
	}
}

func (m WorkMode) Description() string {
	switch m {
	case ModeAutonomous:
		return "You execute plans immediately without asking for confirmation. Critical actions still need approval."
	case ModeManual:
		return "You only advise. Never execute anything; describe what the user could do."
	default:
		return "You prepare plans and wait for the user's approval before executing them."
	}
}

// Priority orders tasks and goals.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns a sortable weight, higher is more important.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// ParsePriority normalizes a priority, defaulting to medium.
func ParsePriority(value string) Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(value)))
	if p.Rank() == 0 {
		return PriorityMedium
	}
	return p
}

// AcceptedPriorities returns the task priorities executed by a scheduled cycle
// for the configured minimum.
func AcceptedPriorities(min Priority) []Priority {
	switch min {
	case PriorityLow:
		return []Priority{PriorityLow, PriorityMedium, PriorityHigh}
	case PriorityMedium:
		return []Priority{PriorityMedium, PriorityHigh}
	default:
		return []Priority{PriorityHigh}
	}
}

// TaskType selects a per-task model override and a knowledge context profile.
type TaskType string

const (
	TaskOrchestration     TaskType = "orchestration"
	TaskContentGeneration TaskType = "content_generation"
	TaskAnalytics         TaskType = "analytics"
	TaskCampaign          TaskType = "campaign"
	TaskCRM               TaskType = "crm"
	TaskSegmentation      TaskType = "segmentation"
	TaskResearch          TaskType = "research"
	TaskConversation      TaskType = "conversation"
	TaskSituation         TaskType = "situation_analysis"
)

// BrainSettings is the per-user configuration singleton. Its ID is the user ID.
type BrainSettings struct {
	UserID              string              `json:"user_id"`
	WorkMode            WorkMode            `json:"work_mode"`
	TelegramChatID      string              `json:"telegram_chat_id,omitempty"`
	SlackChannel        string              `json:"slack_channel,omitempty"`
	PreferredLanguage   string              `json:"preferred_language"`
	PreferredModel      string              `json:"preferred_model,omitempty"`
	ModelRouting        map[TaskType]string `json:"model_routing,omitempty"`
	DailyTokenLimit     int                 `json:"daily_token_limit"`
	TokensUsedToday     int                 `json:"tokens_used_today"`
	TokensResetAt       time.Time           `json:"tokens_reset_at"`
	CronEnabled         bool                `json:"cron_enabled"`
	CronIntervalMinutes int                 `json:"cron_interval_minutes"`
	LastCronRunAt       *time.Time          `json:"last_cron_run_at,omitempty"`
	CronMinPriority     Priority            `json:"cron_min_priority"`
	AgentPermissions    map[string]bool     `json:"agent_permissions,omitempty"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// DefaultSettings returns settings for a user who never configured the brain.
func DefaultSettings(userID string) *BrainSettings {
	return &BrainSettings{
		UserID:              userID,
		WorkMode:            ModeSemiAuto,
		PreferredLanguage:   "auto",
		DailyTokenLimit:     100000,
		CronIntervalMinutes: 60,
		CronMinPriority:     PriorityHigh,
	}
}

// ModelFor resolves the model for a task type: per-task override, then the
// preferred model. Empty means use the router default.
func (s *BrainSettings) ModelFor(task TaskType) string {
	if s == nil {
		return ""
	}
	if model := strings.TrimSpace(s.ModelRouting[task]); model != "" {
		return model
	}
	return strings.TrimSpace(s.PreferredModel)
}

func (s *BrainSettings) resetIfNewDay(now time.Time) {
	y1, m1, d1 := s.TokensResetAt.Date()
	y2, m2, d2 := now.Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		s.TokensUsedToday = 0
		s.TokensResetAt = now
	}
}

// HasTokensAvailable reports whether the daily budget still has room.
func (s *BrainSettings) HasTokensAvailable(now time.Time) bool {
	s.resetIfNewDay(now)
	return s.DailyTokenLimit <= 0 || s.TokensUsedToday < s.DailyTokenLimit
}

// AddTokens records usage, resetting the counter on a new day.
func (s *BrainSettings) AddTokens(n int, now time.Time) {
	s.resetIfNewDay(now)
	if n > 0 {
		s.TokensUsedToday += n
	}
}

// CronDue reports whether the scheduled cycle should run for this user.
func (s *BrainSettings) CronDue(now time.Time) bool {
	if !s.CronEnabled {
		return false
	}
	if s.LastCronRunAt == nil {
		return true
	}
	interval := time.Duration(s.CronIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	return !now.Before(s.LastCronRunAt.Add(interval))
}

// AgentAllowed reports whether the agent may run for this user. Agents are
// allowed unless explicitly disabled.
func (s *BrainSettings) AgentAllowed(name string) bool {
	if s == nil || s.AgentPermissions == nil {
		return true
	}
	allowed, ok := s.AgentPermissions[name]
	return !ok || allowed
}

// User is a tenant of the platform.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Location returns the user's timezone, UTC when unset or unknown.
func (u *User) Location() *time.Location {
	if u == nil || u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
