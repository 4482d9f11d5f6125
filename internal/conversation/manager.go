// Package conversation manages per-user chat threads and builds the model
// payload for them.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/model/contract"
	"github.com/harunnryd/brain/internal/repository"
)

const DefaultHistoryLimit = 20

type Manager struct {
	repos        *repository.Repositories
	agents       AgentDescriber
	historyLimit int
	now          func() time.Time
}

func NewManager(repos *repository.Repositories, agents AgentDescriber, historyLimit int) *Manager {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Manager{repos: repos, agents: agents, historyLimit: historyLimit, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// GetOrCreateActive returns the newest active conversation of a user on a
// channel, creating one when none exists.
func (m *Manager) GetOrCreateActive(ctx context.Context, userID, channel string) (*domain.Conversation, error) {
	conv, err := m.repos.Conversations.Last(ctx, userID, func(c *domain.Conversation) bool {
		return c.Status == domain.ConversationActive && c.Channel == channel
	})
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	return m.CreateNew(ctx, userID, channel)
}

// Get loads a conversation owned by the user.
func (m *Manager) Get(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	return m.repos.Conversations.GetOwned(ctx, id, userID)
}

// CreateNew always starts a fresh conversation.
func (m *Manager) CreateNew(ctx context.Context, userID, channel string) (*domain.Conversation, error) {
	if channel == "" {
		channel = domain.ChannelWeb
	}
	conv := &domain.Conversation{
		UserID:        userID,
		Channel:       channel,
		Status:        domain.ConversationActive,
		LastMessageAt: m.now(),
	}
	if err := m.repos.Conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (m *Manager) append(ctx context.Context, conv *domain.Conversation, msg domain.Message) (*domain.Message, error) {
	now := m.now()
	msg.ID = repository.NewID(now)
	msg.CreatedAt = now
	conv.Messages = append(conv.Messages, msg)
	conv.LastMessageAt = now
	if err := m.repos.Conversations.Update(ctx, conv); err != nil {
		return nil, err
	}
	return &conv.Messages[len(conv.Messages)-1], nil
}

func (m *Manager) AddUserMessage(ctx context.Context, conv *domain.Conversation, content string) (*domain.Message, error) {
	return m.append(ctx, conv, domain.Message{Role: domain.RoleUser, Content: content})
}

// AddAssistantMessage records a reply and adds its tokens to the
// conversation total.
func (m *Manager) AddAssistantMessage(ctx context.Context, conv *domain.Conversation, content string, usage contract.Usage, modelName string, metadata map[string]any) (*domain.Message, error) {
	conv.TotalTokens += usage.Total()
	return m.append(ctx, conv, domain.Message{
		Role:         domain.RoleAssistant,
		Content:      content,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Model:        modelName,
		Metadata:     metadata,
	})
}

func (m *Manager) AddSystemMessage(ctx context.Context, conv *domain.Conversation, content string) (*domain.Message, error) {
	return m.append(ctx, conv, domain.Message{Role: domain.RoleSystem, Content: content})
}

// SetPending stores an agent waiting for clarification.
func (m *Manager) SetPending(ctx context.Context, conv *domain.Conversation, agent string, intent domain.Intent) error {
	conv.SetPending(agent, intent)
	return m.repos.Conversations.Update(ctx, conv)
}

func (m *Manager) ClearPending(ctx context.Context, conv *domain.Conversation) error {
	if _, _, ok := conv.Pending(); !ok {
		return nil
	}
	conv.ClearPending()
	return m.repos.Conversations.Update(ctx, conv)
}

// SetContext stores an arbitrary context value.
func (m *Manager) SetContext(ctx context.Context, conv *domain.Conversation, key string, value any) error {
	if conv.Context == nil {
		conv.Context = make(map[string]any)
	}
	conv.Context[key] = value
	return m.repos.Conversations.Update(ctx, conv)
}

func (m *Manager) SetTitle(ctx context.Context, conv *domain.Conversation, title string) error {
	conv.Title = title
	return m.repos.Conversations.Update(ctx, conv)
}

// Recent returns up to limit conversations, most recently active first.
func (m *Manager) Recent(ctx context.Context, userID string, limit int) ([]*domain.Conversation, error) {
	convs, err := m.repos.Conversations.Query(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// ArchiveOld archives active conversations idle for longer than olderThan.
func (m *Manager) ArchiveOld(ctx context.Context, userID string, olderThan time.Duration) (int, error) {
	cutoff := m.now().Add(-olderThan)
	stale, err := m.repos.Conversations.Query(ctx, userID, func(c *domain.Conversation) bool {
		return c.Status == domain.ConversationActive && c.LastMessageAt.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}
	for _, c := range stale {
		c.Status = domain.ConversationArchived
		if err := m.repos.Conversations.Update(ctx, c); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// Payload is a system prompt plus chat history ready for a completion.
type Payload struct {
	System   string
	Messages []contract.Message
}

// BuildPayload assembles the system prompt and the last history-limit
// user and assistant messages.
func (m *Manager) BuildPayload(conv *domain.Conversation, user *domain.User, settings *domain.BrainSettings, knowledgeCtx string) Payload {
	history := conv.History(m.historyLimit)
	msgs := make([]contract.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case domain.RoleUser:
			msgs = append(msgs, contract.Message{Role: contract.RoleUser, Content: msg.Content})
		case domain.RoleAssistant:
			msgs = append(msgs, contract.Message{Role: contract.RoleAssistant, Content: msg.Content})
		}
	}
	return Payload{
		System:   m.BuildSystemPrompt(user, settings, knowledgeCtx),
		Messages: msgs,
	}
}

// RecentTurns renders the last n user and assistant messages for a
// classifier prompt.
func RecentTurns(conv *domain.Conversation, n int) string {
	if conv == nil {
		return ""
	}
	var turns []domain.Message
	for i := len(conv.Messages) - 1; i >= 0 && len(turns) < n; i-- {
		msg := conv.Messages[i]
		if msg.Role == domain.RoleUser || msg.Role == domain.RoleAssistant {
			turns = append(turns, msg)
		}
	}
	var b strings.Builder
	for i := len(turns) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%s: %s\n", turns[i].Role, truncate(turns[i].Content, 500))
	}
	return b.String()
}

// Transcript renders the last n messages for knowledge enrichment.
func Transcript(conv *domain.Conversation, n int) string {
	var b strings.Builder
	for _, msg := range conv.History(n) {
		if msg.Role == domain.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}

// NormalizeTitle strips quotes and trailing dots from a generated title and
// shortens it to max runes with an ellipsis.
func NormalizeTitle(raw string, max int) string {
	title := strings.Trim(strings.Join(strings.Fields(raw), " "), " \n\r\t\"'.")
	r := []rune(title)
	if max > 3 && len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return title
}

// FallbackTitle derives a title from the first user message.
func FallbackTitle(conv *domain.Conversation, max int) (string, error) {
	for _, msg := range conv.Messages {
		if msg.Role != domain.RoleUser {
			continue
		}
		if title := NormalizeTitle(msg.Content, max); title != "" {
			return title, nil
		}
	}
	return "", brainErrors.NotFound("no user message to title")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}
