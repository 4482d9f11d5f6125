// Package adapter connects Brain to chat platforms: outbound notifications
// for scheduled reports and inbound messages routed to the orchestrator.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/logger"
)

// Notifier sends text to one chat on one platform.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, chatID, text string) error
}

// Target is a notifier that knows which of its chats belongs to a user.
type Target interface {
	Notifier
	ChatFor(settings *domain.BrainSettings) string
}

// Multi fans a user's notification out to every target with a chat for them.
type Multi struct {
	targets []Target
}

func NewMulti(targets ...Target) *Multi {
	m := &Multi{}
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
	return m
}

func (m *Multi) Len() int { return len(m.targets) }

// NotifyUser delivers text to each target the user is reachable on. Every
// target is tried; failures are joined.
func (m *Multi) NotifyUser(ctx context.Context, settings *domain.BrainSettings, text string) error {
	var errs []error
	delivered := 0
	for _, t := range m.targets {
		chatID := t.ChatFor(settings)
		if chatID == "" {
			continue
		}
		if err := t.Notify(ctx, chatID, text); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		delivered++
	}
	if delivered == 0 && len(errs) == 0 {
		logger.FromContext(ctx).Debug("No chat linked for notification", "user_id", settings.UserID)
	}
	return errors.Join(errs...)
}

// Null discards notifications. It stands in when no platform is enabled.
type Null struct{}

func (Null) Name() string { return "null" }
func (Null) Notify(ctx context.Context, chatID, text string) error { return nil }
func (Null) ChatFor(settings *domain.BrainSettings) string { return "" }
