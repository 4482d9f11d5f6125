package domain

import (
	"encoding/json"
	"time"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

const (
	ChannelWeb      = "web"
	ChannelCLI      = "cli"
	ChannelTelegram = "telegram"
	ChannelSlack    = "slack"
	ChannelCron     = "cron"
)

// Conversation context keys.
const (
	ContextPendingAgent  = "pending_agent"
	ContextPendingIntent = "pending_intent"
)

type Message struct {
	ID           string         `json:"id"`
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	InputTokens  int            `json:"input_tokens,omitempty"`
	OutputTokens int            `json:"output_tokens,omitempty"`
	Model        string         `json:"model,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Conversation struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	Channel       string             `json:"channel"`
	Status        ConversationStatus `json:"status"`
	Title         string             `json:"title,omitempty"`
	Messages      []Message          `json:"messages"`
	Context       map[string]any     `json:"context,omitempty"`
	TotalTokens   int                `json:"total_tokens"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	LastMessageAt time.Time          `json:"last_message_at"`
}

func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// SetPending stashes an agent that is waiting for the user to clarify.
func (c *Conversation) SetPending(agent string, intent Intent) {
	if c.Context == nil {
		c.Context = make(map[string]any)
	}
	c.Context[ContextPendingAgent] = agent
	c.Context[ContextPendingIntent] = intent
}

// Pending returns the stashed agent and intent, if any. Context values may
// come back from storage as generic maps, so the intent is re-decoded.
func (c *Conversation) Pending() (string, Intent, bool) {
	agent, _ := c.Context[ContextPendingAgent].(string)
	if agent == "" {
		return "", Intent{}, false
	}

	var intent Intent
	switch v := c.Context[ContextPendingIntent].(type) {
	case Intent:
		intent = v
	case *Intent:
		if v != nil {
			intent = *v
		}
	case nil:
	default:
		raw, err := json.Marshal(v)
		if err == nil {
			_ = json.Unmarshal(raw, &intent)
		}
	}
	return agent, intent, true
}

func (c *Conversation) ClearPending() {
	delete(c.Context, ContextPendingAgent)
	delete(c.Context, ContextPendingIntent)
}

// History returns the last n messages in chronological order.
func (c *Conversation) History(n int) []Message {
	if n <= 0 || n >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}
