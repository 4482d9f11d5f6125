package platform

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture seeds a Memory platform, keyed by user id.
type Fixture struct {
	Users map[string]UserFixture `yaml:"users"`
}

type UserFixture struct {
	Lists       []List          `yaml:"lists"`
	Contacts    []Contact       `yaml:"contacts"`
	Messages    []Message       `yaml:"messages"`
	Deals       []Deal          `yaml:"deals"`
	Companies   []Company       `yaml:"companies"`
	Tags        []Tag           `yaml:"tags"`
	Automations []Automation    `yaml:"automations"`
	Domain      *DomainSettings `yaml:"domain"`
}

// LoadFixtureFile seeds m from a YAML file.
func (m *Memory) LoadFixtureFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open platform fixture: %w", err)
	}
	defer f.Close()
	return m.LoadFixture(f)
}

// LoadFixture seeds m from YAML. Records without an id get a fresh one.
func (m *Memory) LoadFixture(r io.Reader) error {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil && err != io.EOF {
		return fmt.Errorf("decode platform fixture: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := func(cur string) string {
		if cur != "" {
			return cur
		}
		return m.newID()
	}
	now := m.now()

	for userID, u := range fx.Users {
		for _, l := range u.Lists {
			l.ID, l.UserID = id(l.ID), userID
			if l.CreatedAt.IsZero() {
				l.CreatedAt = now
			}
			m.lists[l.ID] = &l
		}
		for _, c := range u.Contacts {
			c.ID, c.UserID = id(c.ID), userID
			if c.SubscriberStatus == "" {
				c.SubscriberStatus = SubscriberActive
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			m.contacts[c.ID] = &c
		}
		for _, msg := range u.Messages {
			msg.ID, msg.UserID = id(msg.ID), userID
			if msg.Type == "" {
				msg.Type = "email"
			}
			if msg.Status == "" {
				msg.Status = MessageDraft
				if msg.SentAt != nil {
					msg.Status = MessageSent
				}
			}
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = now
			}
			m.messages[msg.ID] = &msg
		}
		for _, d := range u.Deals {
			d.ID, d.UserID = id(d.ID), userID
			if d.CreatedAt.IsZero() {
				d.CreatedAt = now
			}
			m.deals[d.ID] = &d
		}
		for _, c := range u.Companies {
			c.ID, c.UserID = id(c.ID), userID
			m.companies[c.ID] = &c
		}
		for _, t := range u.Tags {
			m.ensureTag(userID, t)
		}
		for _, a := range u.Automations {
			a.ID, a.UserID = id(a.ID), userID
			m.automations[a.ID] = &a
		}
		if u.Domain != nil {
			m.domains[userID] = *u.Domain
		}
	}
	return nil
}
