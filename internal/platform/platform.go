// Package platform is the marketing data the agents act on: lists, messages,
// CRM records, tags, automations and A/B tests.
package platform

import (
	"context"
	"time"
)

// Subscriber states.
const (
	SubscriberActive       = "active"
	SubscriberBounced      = "bounced"
	SubscriberUnsubscribed = "unsubscribed"
)

// Message states.
const (
	MessageDraft     = "draft"
	MessageScheduled = "scheduled"
	MessageSent      = "sent"
)

// HotLeadScore is the contact score from which a contact counts as hot.
const HotLeadScore = 50

type List struct {
	ID          string    `json:"id" yaml:"id"`
	UserID      string    `json:"user_id" yaml:"user_id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Contact is both a list subscriber and a CRM record.
type Contact struct {
	ID               string    `json:"id" yaml:"id"`
	UserID           string    `json:"user_id" yaml:"user_id"`
	Email            string    `json:"email" yaml:"email"`
	FirstName        string    `json:"first_name,omitempty" yaml:"first_name"`
	LastName         string    `json:"last_name,omitempty" yaml:"last_name"`
	Company          string    `json:"company,omitempty" yaml:"company"`
	ListIDs          []string  `json:"list_ids,omitempty" yaml:"list_ids"`
	SubscriberStatus string    `json:"subscriber_status" yaml:"subscriber_status"`
	Status           string    `json:"status,omitempty" yaml:"status"`
	Score            int       `json:"score" yaml:"score"`
	Tags             []string  `json:"tags,omitempty" yaml:"tags"`
	CreatedAt        time.Time `json:"created_at" yaml:"created_at"`
}

func (c *Contact) InList(listID string) bool {
	for _, id := range c.ListIDs {
		if id == listID {
			return true
		}
	}
	return false
}

func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type MessageStats struct {
	Sent         int `json:"sent" yaml:"sent"`
	Opens        int `json:"opens" yaml:"opens"`
	Clicks       int `json:"clicks" yaml:"clicks"`
	Bounces      int `json:"bounces" yaml:"bounces"`
	Unsubscribes int `json:"unsubscribes" yaml:"unsubscribes"`
}

type Message struct {
	ID          string       `json:"id" yaml:"id"`
	UserID      string       `json:"user_id" yaml:"user_id"`
	Subject     string       `json:"subject" yaml:"subject"`
	Content     string       `json:"content,omitempty" yaml:"content"`
	Type        string       `json:"type" yaml:"type"`
	ListIDs     []string     `json:"list_ids,omitempty" yaml:"list_ids"`
	Status      string       `json:"status" yaml:"status"`
	ScheduledAt *time.Time   `json:"scheduled_at,omitempty" yaml:"scheduled_at"`
	SentAt      *time.Time   `json:"sent_at,omitempty" yaml:"sent_at"`
	Stats       MessageStats `json:"stats" yaml:"stats"`
	CreatedAt   time.Time    `json:"created_at" yaml:"created_at"`
}

type Deal struct {
	ID        string     `json:"id" yaml:"id"`
	UserID    string     `json:"user_id" yaml:"user_id"`
	Title     string     `json:"title" yaml:"title"`
	ContactID string     `json:"contact_id,omitempty" yaml:"contact_id"`
	Value     float64    `json:"value" yaml:"value"`
	Stage     string     `json:"stage" yaml:"stage"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" yaml:"closed_at"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
}

type Task struct {
	ID        string `json:"id" yaml:"id"`
	UserID    string `json:"user_id" yaml:"user_id"`
	Title     string `json:"title" yaml:"title"`
	ContactID string `json:"contact_id,omitempty" yaml:"contact_id"`
	DealID    string `json:"deal_id,omitempty" yaml:"deal_id"`
	DueAt     string `json:"due_at,omitempty" yaml:"due_at"`
	Priority  string `json:"priority,omitempty" yaml:"priority"`
}

type Company struct {
	ID       string `json:"id" yaml:"id"`
	UserID   string `json:"user_id" yaml:"user_id"`
	Name     string `json:"name" yaml:"name"`
	Domain   string `json:"domain,omitempty" yaml:"domain"`
	Industry string `json:"industry,omitempty" yaml:"industry"`
}

type Tag struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
}

type Automation struct {
	ID      string   `json:"id" yaml:"id"`
	UserID  string   `json:"user_id" yaml:"user_id"`
	Name    string   `json:"name" yaml:"name"`
	Trigger string   `json:"trigger,omitempty" yaml:"trigger"`
	Actions []string `json:"actions,omitempty" yaml:"actions"`
	Active  bool     `json:"active" yaml:"active"`
	Runs    int      `json:"runs" yaml:"runs"`
}

type Variant struct {
	Subject string `json:"subject" yaml:"subject"`
	Content string `json:"content,omitempty" yaml:"content"`
	Sent    int    `json:"sent" yaml:"sent"`
	Opens   int    `json:"opens" yaml:"opens"`
	Clicks  int    `json:"clicks" yaml:"clicks"`
}

type ABTest struct {
	ID           string    `json:"id" yaml:"id"`
	UserID       string    `json:"user_id" yaml:"user_id"`
	MessageID    string    `json:"message_id,omitempty" yaml:"message_id"`
	Variants     []Variant `json:"variants" yaml:"variants"`
	SplitPercent int       `json:"split_percent" yaml:"split_percent"`
	Metric       string    `json:"metric" yaml:"metric"`
	Status       string    `json:"status" yaml:"status"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// DomainSettings is the user's sending domain configuration.
type DomainSettings struct {
	Domain      string `json:"domain" yaml:"domain"`
	SenderName  string `json:"sender_name,omitempty" yaml:"sender_name"`
	SenderEmail string `json:"sender_email,omitempty" yaml:"sender_email"`
	ReplyTo     string `json:"reply_to,omitempty" yaml:"reply_to"`
}

// ListStats summarizes one list, or every list when ListID is empty.
type ListStats struct {
	ListID       string `json:"list_id,omitempty"`
	Active       int    `json:"active"`
	Bounced      int    `json:"bounced"`
	Unsubscribed int    `json:"unsubscribed"`
}

// Stats is the aggregate view used by suggestions and situation analysis.
type Stats struct {
	Subscribers     int     `json:"subscribers"`
	Lists           int     `json:"lists"`
	Contacts        int     `json:"contacts"`
	HotLeads        int     `json:"hot_leads"`
	OpenDeals       int     `json:"open_deals"`
	RecentCampaigns int     `json:"recent_campaigns"`
	AvgOpenRate     float64 `json:"avg_open_rate"`
	AvgClickRate    float64 `json:"avg_click_rate"`
}

// ContactQuery filters contacts. Zero values match everything.
type ContactQuery struct {
	Text     string
	Status   string
	MinScore int
	Tag      string
	Limit    int
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Platform is scoped per user: records of another user read as not found.
type Platform interface {
	Lists(ctx context.Context, userID string) ([]*List, error)
	CreateList(ctx context.Context, userID, name, description string, tags []string) (*List, error)
	CleanBounced(ctx context.Context, userID, listID string) (int, error)
	TagSubscribers(ctx context.Context, userID, listID, tag string) (int, error)
	ListStats(ctx context.Context, userID, listID string) (ListStats, error)
	SubscriberCount(ctx context.Context, userID string, listIDs []string) (int, error)
	DeleteList(ctx context.Context, userID, listID string) (int, error)
	DeleteAllSubscribers(ctx context.Context, userID, listID string) (int, error)

	DomainSettings(ctx context.Context, userID string) (DomainSettings, error)
	UpdateDomainSettings(ctx context.Context, userID string, s DomainSettings) (DomainSettings, error)

	CreateMessage(ctx context.Context, userID string, msg Message) (*Message, error)
	UpdateMessage(ctx context.Context, userID string, msg *Message) error
	ScheduleMessage(ctx context.Context, userID, messageID string, at time.Time, listIDs []string) (*Message, error)
	Message(ctx context.Context, userID, messageID string) (*Message, error)
	Messages(ctx context.Context, userID string, since time.Time) ([]*Message, error)

	SearchContacts(ctx context.Context, userID string, q ContactQuery) ([]*Contact, error)
	CreateContact(ctx context.Context, userID string, c Contact) (*Contact, error)
	UpdateContactStatus(ctx context.Context, userID, contactID, email, status string) (*Contact, error)
	CreateDeal(ctx context.Context, userID string, d Deal) (*Deal, error)
	MoveDealStage(ctx context.Context, userID, dealID, stage string) (*Deal, error)
	Deals(ctx context.Context, userID string) ([]*Deal, error)
	CreateTask(ctx context.Context, userID string, t Task) (*Task, error)
	CreateCompany(ctx context.Context, userID string, c Company) (*Company, error)

	Tags(ctx context.Context, userID string) ([]Tag, error)
	CreateTag(ctx context.Context, userID string, tag Tag) error
	ApplyTag(ctx context.Context, userID, tag string, contactIDs []string, minScore int) (int, error)

	Automations(ctx context.Context, userID string) ([]*Automation, error)
	CreateAutomation(ctx context.Context, userID string, a Automation) (*Automation, error)
	UpdateAutomation(ctx context.Context, userID string, a Automation) (*Automation, error)
	ToggleAutomation(ctx context.Context, userID, id string, active bool) (*Automation, error)
	DeleteAutomation(ctx context.Context, userID, id string) error

	CreateABTest(ctx context.Context, userID string, t ABTest) (*ABTest, error)
	ABTest(ctx context.Context, userID, id string) (*ABTest, error)
	ABTests(ctx context.Context, userID, status string) ([]*ABTest, error)

	Stats(ctx context.Context, userID string) (Stats, error)
	SearchWeb(ctx context.Context, query string, limit int) ([]SearchResult, error)
}
