package repository

import (
	"context"
	"errors"
	"time"

	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/store"
)

// Repositories bundles the typed repositories over one backend.
type Repositories struct {
	Users         *Repo[domain.User, *domain.User]
	Settings      *Repo[domain.BrainSettings, *domain.BrainSettings]
	Conversations *Repo[domain.Conversation, *domain.Conversation]
	Plans         *Repo[domain.ActionPlan, *domain.ActionPlan]
	Goals         *Repo[domain.Goal, *domain.Goal]
	Approvals     *Repo[domain.PendingApproval, *domain.PendingApproval]
	Snapshots     *Repo[domain.PerformanceSnapshot, *domain.PerformanceSnapshot]
	Knowledge     *Repo[domain.KnowledgeEntry, *domain.KnowledgeEntry]
	Executions    *Repo[domain.ExecutionLog, *domain.ExecutionLog]
	Activity      *Repo[domain.ActivityLog, *domain.ActivityLog]
	Calendar      *Repo[domain.CalendarEntry, *domain.CalendarEntry]

	backend store.Backend
}

func New(backend store.Backend) *Repositories {
	return &Repositories{
		Users:         NewRepo[domain.User](backend, store.CollectionUsers),
		Settings:      NewRepo[domain.BrainSettings](backend, store.CollectionSettings),
		Conversations: NewRepo[domain.Conversation](backend, store.CollectionConversations),
		Plans:         NewRepo[domain.ActionPlan](backend, store.CollectionPlans),
		Goals:         NewRepo[domain.Goal](backend, store.CollectionGoals),
		Approvals:     NewRepo[domain.PendingApproval](backend, store.CollectionApprovals),
		Snapshots:     NewRepo[domain.PerformanceSnapshot](backend, store.CollectionSnapshots),
		Knowledge:     NewRepo[domain.KnowledgeEntry](backend, store.CollectionKnowledge),
		Executions:    NewRepo[domain.ExecutionLog](backend, store.CollectionExecutions),
		Activity:      NewRepo[domain.ActivityLog](backend, store.CollectionActivity),
		Calendar:      NewRepo[domain.CalendarEntry](backend, store.CollectionCalendar),
		backend:       backend,
	}
}

// Backend returns the underlying record store.
func (r *Repositories) Backend() store.Backend {
	return r.backend
}

// User loads a user, creating a bare record on first sight.
func (r *Repositories) User(ctx context.Context, userID string) (*domain.User, error) {
	user, err := r.Users.Get(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, brainErrors.ErrNotFound) {
		return nil, err
	}
	user = &domain.User{ID: userID, Name: userID}
	if err := r.Users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SettingsFor loads a user's settings, falling back to defaults that are not
// persisted until the first update.
func (r *Repositories) SettingsFor(ctx context.Context, userID string) (*domain.BrainSettings, error) {
	settings, err := r.Settings.Get(ctx, userID)
	if err == nil {
		return settings, nil
	}
	if errors.Is(err, brainErrors.ErrNotFound) {
		return domain.DefaultSettings(userID), nil
	}
	return nil, err
}

// CronUsers returns the settings of every user with the scheduled cycle on.
func (r *Repositories) CronUsers(ctx context.Context) ([]*domain.BrainSettings, error) {
	return r.Settings.Query(ctx, "", func(s *domain.BrainSettings) bool {
		return s.CronEnabled
	})
}

// LinkChat remembers where a user talks to Brain so scheduled reports reach
// them there. Only telegram and slack carry a chat id.
func (r *Repositories) LinkChat(ctx context.Context, userID, channel, chatID string) error {
	settings, err := r.SettingsFor(ctx, userID)
	if err != nil {
		return err
	}
	switch channel {
	case domain.ChannelTelegram:
		if settings.TelegramChatID == chatID {
			return nil
		}
		settings.TelegramChatID = chatID
	case domain.ChannelSlack:
		if settings.SlackChannel == chatID {
			return nil
		}
		settings.SlackChannel = chatID
	default:
		return nil
	}
	return r.Settings.Update(ctx, settings)
}

// LogActivity appends an audit entry; failures are returned to the caller.
func (r *Repositories) LogActivity(ctx context.Context, userID, event, status string, payload map[string]any) error {
	return r.Activity.Create(ctx, &domain.ActivityLog{
		UserID:    userID,
		Event:     event,
		Status:    status,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
}

// Close releases the backend.
func (r *Repositories) Close() error {
	return r.backend.Close()
}
