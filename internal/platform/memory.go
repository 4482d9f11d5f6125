package platform

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/repository"
)

// Memory is an in-process Platform. It backs the CLI and tests.
type Memory struct {
	mu          sync.RWMutex
	lists       map[string]*List
	contacts    map[string]*Contact
	messages    map[string]*Message
	deals       map[string]*Deal
	tasks       map[string]*Task
	companies   map[string]*Company
	tags        map[string]map[string]Tag
	automations map[string]*Automation
	abTests     map[string]*ABTest
	domains     map[string]DomainSettings
	now         func() time.Time
}

var _ Platform = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		lists:       make(map[string]*List),
		contacts:    make(map[string]*Contact),
		messages:    make(map[string]*Message),
		deals:       make(map[string]*Deal),
		tasks:       make(map[string]*Task),
		companies:   make(map[string]*Company),
		tags:        make(map[string]map[string]Tag),
		automations: make(map[string]*Automation),
		abTests:     make(map[string]*ABTest),
		domains:     make(map[string]DomainSettings),
		now:         time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) newID() string {
	return repository.NewID(m.now())
}

func notFound(kind, id string) error {
	return brainErrors.NotFound(fmt.Sprintf("%s %s not found", kind, id))
}

// owned returns the record when it exists and belongs to userID.
func owned[T any](records map[string]*T, id, userID string, owner func(*T) string) (*T, bool) {
	rec, ok := records[id]
	if !ok || owner(rec) != userID {
		return nil, false
	}
	return rec, true
}

func sortedByID[T any](records map[string]*T, keep func(*T) bool, id func(*T) string) []*T {
	var out []*T
	for _, rec := range records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}

func listOwner(l *List) string       { return l.UserID }
func messageOwner(m *Message) string { return m.UserID }
func dealOwner(d *Deal) string       { return d.UserID }
func autoOwner(a *Automation) string { return a.UserID }
func abOwner(t *ABTest) string       { return t.UserID }

func (m *Memory) Lists(_ context.Context, userID string) ([]*List, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedByID(m.lists, func(l *List) bool { return l.UserID == userID }, func(l *List) string { return l.ID }), nil
}

func (m *Memory) CreateList(_ context.Context, userID, name, description string, tags []string) (*List, error) {
	if strings.TrimSpace(name) == "" {
		return nil, brainErrors.InvalidInput("list name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &List{ID: m.newID(), UserID: userID, Name: name, Description: description, Tags: tags, CreatedAt: m.now()}
	m.lists[l.ID] = l
	return l, nil
}

func (m *Memory) checkList(userID, listID string) error {
	if listID == "" {
		return nil
	}
	if _, ok := owned(m.lists, listID, userID, listOwner); !ok {
		return notFound("list", listID)
	}
	return nil
}

// CleanBounced removes bounced contacts from a list, or from every list
// when listID is empty.
func (m *Memory) CleanBounced(_ context.Context, userID, listID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkList(userID, listID); err != nil {
		return 0, err
	}
	removed := 0
	for _, c := range m.contacts {
		if c.UserID != userID || c.SubscriberStatus != SubscriberBounced {
			continue
		}
		if listID == "" {
			if len(c.ListIDs) > 0 {
				removed++
				c.ListIDs = nil
			}
			continue
		}
		if c.InList(listID) {
			removed++
			c.ListIDs = without(c.ListIDs, listID)
		}
	}
	return removed, nil
}

func without(ids []string, drop string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

func (m *Memory) TagSubscribers(_ context.Context, userID, listID, tag string) (int, error) {
	if strings.TrimSpace(tag) == "" {
		return 0, brainErrors.InvalidInput("tag is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkList(userID, listID); err != nil {
		return 0, err
	}
	tagged := 0
	for _, c := range m.contacts {
		if c.UserID != userID || c.SubscriberStatus != SubscriberActive {
			continue
		}
		if listID != "" && !c.InList(listID) {
			continue
		}
		if !c.HasTag(tag) {
			c.Tags = append(c.Tags, tag)
			tagged++
		}
	}
	m.ensureTag(userID, Tag{Name: tag})
	return tagged, nil
}

func (m *Memory) ListStats(_ context.Context, userID, listID string) (ListStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkList(userID, listID); err != nil {
		return ListStats{}, err
	}
	stats := ListStats{ListID: listID}
	for _, c := range m.contacts {
		if c.UserID != userID || len(c.ListIDs) == 0 {
			continue
		}
		if listID != "" && !c.InList(listID) {
			continue
		}
		switch c.SubscriberStatus {
		case SubscriberBounced:
			stats.Bounced++
		case SubscriberUnsubscribed:
			stats.Unsubscribed++
		default:
			stats.Active++
		}
	}
	return stats, nil
}

// SubscriberCount counts active subscribers in any of listIDs. Unknown or
// foreign list ids are ignored.
func (m *Memory) SubscriberCount(_ context.Context, userID string, listIDs []string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.contacts {
		if c.UserID != userID || c.SubscriberStatus != SubscriberActive {
			continue
		}
		for _, id := range listIDs {
			if c.InList(id) {
				n++
				break
			}
		}
	}
	return n, nil
}

// DeleteList removes the list and detaches its subscribers. It returns how
// many contacts were detached.
func (m *Memory) DeleteList(_ context.Context, userID, listID string) (int, error) {
	if strings.TrimSpace(listID) == "" {
		return 0, brainErrors.InvalidInput("list id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkList(userID, listID); err != nil {
		return 0, err
	}
	detached := m.detach(userID, listID)
	delete(m.lists, listID)
	return detached, nil
}

// DeleteAllSubscribers empties the list and keeps the list itself.
func (m *Memory) DeleteAllSubscribers(_ context.Context, userID, listID string) (int, error) {
	if strings.TrimSpace(listID) == "" {
		return 0, brainErrors.InvalidInput("list id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkList(userID, listID); err != nil {
		return 0, err
	}
	return m.detach(userID, listID), nil
}

func (m *Memory) detach(userID, listID string) int {
	n := 0
	for _, c := range m.contacts {
		if c.UserID == userID && c.InList(listID) {
			c.ListIDs = without(c.ListIDs, listID)
			n++
		}
	}
	return n
}

func (m *Memory) DomainSettings(_ context.Context, userID string) (DomainSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.domains[userID], nil
}

// UpdateDomainSettings merges the non-empty fields of s into the stored
// settings. The sender address must belong to the sending domain.
func (m *Memory) UpdateDomainSettings(_ context.Context, userID string, s DomainSettings) (DomainSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.domains[userID]
	if s.Domain != "" {
		cur.Domain = strings.ToLower(strings.TrimSpace(s.Domain))
	}
	if s.SenderName != "" {
		cur.SenderName = s.SenderName
	}
	if s.SenderEmail != "" {
		cur.SenderEmail = s.SenderEmail
	}
	if s.ReplyTo != "" {
		cur.ReplyTo = s.ReplyTo
	}
	if cur.Domain == "" {
		return DomainSettings{}, brainErrors.InvalidInput("sending domain is required")
	}
	if cur.SenderEmail != "" && !strings.HasSuffix(strings.ToLower(cur.SenderEmail), "@"+cur.Domain) {
		return DomainSettings{}, brainErrors.InvalidInput(fmt.Sprintf("sender %s is not on domain %s", cur.SenderEmail, cur.Domain))
	}
	m.domains[userID] = cur
	return cur, nil
}

func (m *Memory) CreateMessage(_ context.Context, userID string, msg Message) (*Message, error) {
	if strings.TrimSpace(msg.Subject) == "" {
		return nil, brainErrors.InvalidInput("message subject is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.newID()
	msg.UserID = userID
	if msg.Type == "" {
		msg.Type = "email"
	}
	if msg.Status == "" {
		msg.Status = MessageDraft
	}
	msg.CreatedAt = m.now()
	stored := msg
	m.messages[msg.ID] = &stored
	return &msg, nil
}

func (m *Memory) UpdateMessage(_ context.Context, userID string, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := owned(m.messages, msg.ID, userID, messageOwner); !ok {
		return notFound("message", msg.ID)
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

// ScheduleMessage marks a message scheduled. A send time in the past sends
// it immediately to the active subscribers of its lists.
func (m *Memory) ScheduleMessage(_ context.Context, userID, messageID string, at time.Time, listIDs []string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := owned(m.messages, messageID, userID, messageOwner)
	if !ok {
		return nil, notFound("message", messageID)
	}
	if msg.Status == MessageSent {
		return nil, brainErrors.InvalidInput(fmt.Sprintf("message %s was already sent", messageID))
	}
	if len(listIDs) > 0 {
		msg.ListIDs = listIDs
	}
	now := m.now()
	if at.IsZero() {
		at = now
	}
	msg.ScheduledAt = &at
	msg.Status = MessageScheduled
	if !at.After(now) {
		msg.Status = MessageSent
		msg.SentAt = &at
		for _, c := range m.contacts {
			if c.UserID != userID || c.SubscriberStatus != SubscriberActive {
				continue
			}
			for _, id := range msg.ListIDs {
				if c.InList(id) {
					msg.Stats.Sent++
					break
				}
			}
		}
	}
	cp := *msg
	return &cp, nil
}

func (m *Memory) Message(_ context.Context, userID, messageID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := owned(m.messages, messageID, userID, messageOwner)
	if !ok {
		return nil, notFound("message", messageID)
	}
	cp := *msg
	return &cp, nil
}

// Messages returns messages created or sent since the given time.
func (m *Memory) Messages(_ context.Context, userID string, since time.Time) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedByID(m.messages, func(msg *Message) bool {
		if msg.UserID != userID {
			return false
		}
		if msg.SentAt != nil && !msg.SentAt.Before(since) {
			return true
		}
		return !msg.CreatedAt.Before(since)
	}, func(msg *Message) string { return msg.ID }), nil
}

// RecordStats sets delivery statistics on a message, simulating tracking.
func (m *Memory) RecordStats(userID, messageID string, stats MessageStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := owned(m.messages, messageID, userID, messageOwner)
	if !ok {
		return notFound("message", messageID)
	}
	msg.Stats = stats
	return nil
}

func (m *Memory) SearchContacts(_ context.Context, userID string, q ContactQuery) ([]*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text := strings.ToLower(strings.TrimSpace(q.Text))
	out := sortedByID(m.contacts, func(c *Contact) bool {
		if c.UserID != userID || c.Score < q.MinScore {
			return false
		}
		if q.Status != "" && !strings.EqualFold(c.Status, q.Status) {
			return false
		}
		if q.Tag != "" && !c.HasTag(q.Tag) {
			return false
		}
		if text == "" {
			return true
		}
		hay := strings.ToLower(strings.Join([]string{c.Email, c.FirstName, c.LastName, c.Company}, " "))
		return strings.Contains(hay, text)
	}, func(c *Contact) string { return c.ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) CreateContact(_ context.Context, userID string, c Contact) (*Contact, error) {
	if strings.TrimSpace(c.Email) == "" {
		return nil, brainErrors.InvalidInput("contact email is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contacts {
		if existing.UserID == userID && strings.EqualFold(existing.Email, c.Email) {
			return nil, brainErrors.InvalidInput(fmt.Sprintf("contact %s already exists", c.Email))
		}
	}
	c.ID = m.newID()
	c.UserID = userID
	if c.SubscriberStatus == "" {
		c.SubscriberStatus = SubscriberActive
	}
	if c.Status == "" {
		c.Status = "lead"
	}
	c.CreatedAt = m.now()
	m.contacts[c.ID] = &c
	return &c, nil
}

func (m *Memory) UpdateContactStatus(_ context.Context, userID, contactID, email, status string) (*Contact, error) {
	if strings.TrimSpace(status) == "" {
		return nil, brainErrors.InvalidInput("status is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.UserID != userID {
			continue
		}
		if (contactID != "" && c.ID == contactID) || (contactID == "" && email != "" && strings.EqualFold(c.Email, email)) {
			c.Status = status
			return c, nil
		}
	}
	return nil, notFound("contact", contactID+email)
}

func (m *Memory) CreateDeal(_ context.Context, userID string, d Deal) (*Deal, error) {
	if strings.TrimSpace(d.Title) == "" {
		return nil, brainErrors.InvalidInput("deal title is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = m.newID()
	d.UserID = userID
	if d.Stage == "" {
		d.Stage = "new"
	}
	d.CreatedAt = m.now()
	m.deals[d.ID] = &d
	return &d, nil
}

// MoveDealStage updates the stage; won and lost close the deal.
func (m *Memory) MoveDealStage(_ context.Context, userID, dealID, stage string) (*Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := owned(m.deals, dealID, userID, dealOwner)
	if !ok {
		return nil, notFound("deal", dealID)
	}
	d.Stage = stage
	if stage == "won" || stage == "lost" {
		now := m.now()
		d.ClosedAt = &now
	}
	return d, nil
}

func (m *Memory) Deals(_ context.Context, userID string) ([]*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedByID(m.deals, func(d *Deal) bool { return d.UserID == userID }, func(d *Deal) string { return d.ID }), nil
}

func (m *Memory) CreateTask(_ context.Context, userID string, t Task) (*Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return nil, brainErrors.InvalidInput("task title is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.newID()
	t.UserID = userID
	m.tasks[t.ID] = &t
	return &t, nil
}

func (m *Memory) CreateCompany(_ context.Context, userID string, c Company) (*Company, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, brainErrors.InvalidInput("company name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.newID()
	c.UserID = userID
	m.companies[c.ID] = &c
	return &c, nil
}

func (m *Memory) ensureTag(userID string, tag Tag) {
	if m.tags[userID] == nil {
		m.tags[userID] = make(map[string]Tag)
	}
	if _, ok := m.tags[userID][tag.Name]; !ok {
		m.tags[userID][tag.Name] = tag
	}
}

func (m *Memory) Tags(_ context.Context, userID string) ([]Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tag, 0, len(m.tags[userID]))
	for _, t := range m.tags[userID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateTag(_ context.Context, userID string, tag Tag) error {
	if strings.TrimSpace(tag.Name) == "" {
		return brainErrors.InvalidInput("tag name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureTag(userID, tag)
	return nil
}

// ApplyTag tags the given contacts, or every contact scoring at least
// minScore when no ids are given.
func (m *Memory) ApplyTag(_ context.Context, userID, tag string, contactIDs []string, minScore int) (int, error) {
	if strings.TrimSpace(tag) == "" {
		return 0, brainErrors.InvalidInput("tag is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]bool, len(contactIDs))
	for _, id := range contactIDs {
		ids[id] = true
	}
	n := 0
	for _, c := range m.contacts {
		if c.UserID != userID {
			continue
		}
		if len(ids) > 0 && !ids[c.ID] {
			continue
		}
		if len(ids) == 0 && c.Score < minScore {
			continue
		}
		if !c.HasTag(tag) {
			c.Tags = append(c.Tags, tag)
			n++
		}
	}
	m.ensureTag(userID, Tag{Name: tag})
	return n, nil
}

func (m *Memory) Automations(_ context.Context, userID string) ([]*Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedByID(m.automations, func(a *Automation) bool { return a.UserID == userID }, func(a *Automation) string { return a.ID }), nil
}

func (m *Memory) CreateAutomation(_ context.Context, userID string, a Automation) (*Automation, error) {
	if strings.TrimSpace(a.Name) == "" {
		return nil, brainErrors.InvalidInput("automation name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.newID()
	a.UserID = userID
	m.automations[a.ID] = &a
	return &a, nil
}

func (m *Memory) UpdateAutomation(_ context.Context, userID string, a Automation) (*Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := owned(m.automations, a.ID, userID, autoOwner)
	if !ok {
		return nil, notFound("automation", a.ID)
	}
	if a.Name != "" {
		cur.Name = a.Name
	}
	if a.Trigger != "" {
		cur.Trigger = a.Trigger
	}
	if len(a.Actions) > 0 {
		cur.Actions = a.Actions
	}
	return cur, nil
}

func (m *Memory) ToggleAutomation(_ context.Context, userID, id string, active bool) (*Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := owned(m.automations, id, userID, autoOwner)
	if !ok {
		return nil, notFound("automation", id)
	}
	cur.Active = active
	return cur, nil
}

func (m *Memory) DeleteAutomation(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := owned(m.automations, id, userID, autoOwner); !ok {
		return notFound("automation", id)
	}
	delete(m.automations, id)
	return nil
}

func (m *Memory) CreateABTest(_ context.Context, userID string, t ABTest) (*ABTest, error) {
	if len(t.Variants) < 2 {
		return nil, brainErrors.InvalidInput("an A/B test needs at least two variants")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.MessageID != "" {
		if _, ok := owned(m.messages, t.MessageID, userID, messageOwner); !ok {
			return nil, notFound("message", t.MessageID)
		}
	}
	t.ID = m.newID()
	t.UserID = userID
	if t.SplitPercent <= 0 || t.SplitPercent >= 100 {
		t.SplitPercent = 50
	}
	if t.Metric == "" {
		t.Metric = "open_rate"
	}
	t.Status = "running"
	t.CreatedAt = m.now()
	m.abTests[t.ID] = &t
	return &t, nil
}

func (m *Memory) ABTest(_ context.Context, userID, id string) (*ABTest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := owned(m.abTests, id, userID, abOwner)
	if !ok {
		return nil, notFound("ab test", id)
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) ABTests(_ context.Context, userID, status string) ([]*ABTest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedByID(m.abTests, func(t *ABTest) bool {
		return t.UserID == userID && (status == "" || t.Status == status)
	}, func(t *ABTest) string { return t.ID }), nil
}

// Stats aggregates the user's data. Recent campaigns are messages sent in
// the last 30 days; average rates are percentages over those.
func (m *Memory) Stats(_ context.Context, userID string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, l := range m.lists {
		if l.UserID == userID {
			s.Lists++
		}
	}
	for _, c := range m.contacts {
		if c.UserID != userID {
			continue
		}
		s.Contacts++
		if c.SubscriberStatus == SubscriberActive && len(c.ListIDs) > 0 {
			s.Subscribers++
		}
		if c.Score >= HotLeadScore {
			s.HotLeads++
		}
	}
	for _, d := range m.deals {
		if d.UserID == userID && d.ClosedAt == nil {
			s.OpenDeals++
		}
	}

	cutoff := m.now().AddDate(0, 0, -30)
	var sent, opens, clicks int
	for _, msg := range m.messages {
		if msg.UserID != userID || msg.SentAt == nil || msg.SentAt.Before(cutoff) {
			continue
		}
		s.RecentCampaigns++
		sent += msg.Stats.Sent
		opens += msg.Stats.Opens
		clicks += msg.Stats.Clicks
	}
	if sent > 0 {
		s.AvgOpenRate = round2(100 * float64(opens) / float64(sent))
		s.AvgClickRate = round2(100 * float64(clicks) / float64(sent))
	}
	return s, nil
}

// SearchWeb has no live research source and returns no results.
func (m *Memory) SearchWeb(_ context.Context, query string, _ int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, brainErrors.InvalidInput("empty search query")
	}
	return nil, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
