package domain

import "time"

// Entity is implemented by every persisted record.
type Entity interface {
	EntityID() string
	SetEntityID(id string)
	EntityOwner() string
	Touch(now time.Time)
}

func (u *User) EntityID() string      { return u.ID }
func (u *User) SetEntityID(id string) { u.ID = id }
func (u *User) EntityOwner() string   { return u.ID }
func (u *User) Touch(now time.Time) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
}

func (s *BrainSettings) EntityID() string      { return s.UserID }
func (s *BrainSettings) SetEntityID(id string) { s.UserID = id }
func (s *BrainSettings) EntityOwner() string   { return s.UserID }
func (s *BrainSettings) Touch(now time.Time)   { s.UpdatedAt = now }

func (c *Conversation) EntityID() string      { return c.ID }
func (c *Conversation) SetEntityID(id string) { c.ID = id }
func (c *Conversation) EntityOwner() string   { return c.UserID }
func (c *Conversation) Touch(now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

func (p *ActionPlan) EntityID() string      { return p.ID }
func (p *ActionPlan) SetEntityID(id string) { p.ID = id }
func (p *ActionPlan) EntityOwner() string   { return p.UserID }
func (p *ActionPlan) Touch(now time.Time) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

func (g *Goal) EntityID() string      { return g.ID }
func (g *Goal) SetEntityID(id string) { g.ID = id }
func (g *Goal) EntityOwner() string   { return g.UserID }
func (g *Goal) Touch(now time.Time) {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
}

func (a *PendingApproval) EntityID() string      { return a.ID }
func (a *PendingApproval) SetEntityID(id string) { a.ID = id }
func (a *PendingApproval) EntityOwner() string   { return a.UserID }
func (a *PendingApproval) Touch(now time.Time) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
}

func (s *PerformanceSnapshot) EntityID() string      { return s.ID }
func (s *PerformanceSnapshot) SetEntityID(id string) { s.ID = id }
func (s *PerformanceSnapshot) EntityOwner() string   { return s.UserID }
func (s *PerformanceSnapshot) Touch(now time.Time) {
	if s.CapturedAt.IsZero() {
		s.CapturedAt = now
	}
}

func (e *KnowledgeEntry) EntityID() string      { return e.ID }
func (e *KnowledgeEntry) SetEntityID(id string) { e.ID = id }
func (e *KnowledgeEntry) EntityOwner() string   { return e.UserID }
func (e *KnowledgeEntry) Touch(now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}

func (l *ExecutionLog) EntityID() string      { return l.ID }
func (l *ExecutionLog) SetEntityID(id string) { l.ID = id }
func (l *ExecutionLog) EntityOwner() string   { return l.UserID }
func (l *ExecutionLog) Touch(now time.Time) {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
}

func (l *ActivityLog) EntityID() string      { return l.ID }
func (l *ActivityLog) SetEntityID(id string) { l.ID = id }
func (l *ActivityLog) EntityOwner() string   { return l.UserID }
func (l *ActivityLog) Touch(now time.Time) {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
}

func (c *CalendarEntry) EntityID() string      { return c.ID }
func (c *CalendarEntry) SetEntityID(id string) { c.ID = id }
func (c *CalendarEntry) EntityOwner() string   { return c.UserID }
func (c *CalendarEntry) Touch(now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}
