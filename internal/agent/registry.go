package agent

import (
	"fmt"
	"strings"

	brainErrors "github.com/harunnryd/brain/internal/errors"
)

// Registry is the closed set of agents, built once at startup.
type Registry struct {
	agents map[string]Agent
	order  []string
}

func NewRegistry(agents ...Agent) (*Registry, error) {
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		name := a.Name()
		if _, exists := r.agents[name]; exists {
			return nil, brainErrors.InvalidInput(fmt.Sprintf("agent %q registered twice", name))
		}
		r.agents[name] = a
		r.order = append(r.order, name)
	}
	return r, nil
}

// NewDefaultRegistry registers the seven marketing agents.
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	base := NewBase(deps)
	return NewRegistry(
		NewCampaign(base),
		NewList(base),
		NewMessage(base),
		NewCRM(base),
		NewAnalytics(base),
		NewSegmentation(base),
		NewResearch(base),
	)
}

// Get returns the named agent or ErrUnknownAgent.
func (r *Registry) Get(name string) (Agent, error) {
	a, ok := r.agents[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, brainErrors.ErrUnknownAgent)
	}
	return a, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.agents[name]
	return ok
}

// Names returns agent names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Describe renders one line per agent for prompts.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.order {
		a := r.agents[name]
		fmt.Fprintf(&b, "- %s: %s Capabilities: %s\n", name, a.Description(), strings.Join(a.Capabilities(), ", "))
	}
	return b.String()
}

// Emoji is the chat icon of an agent.
func Emoji(name string) string {
	switch name {
	case "campaign":
		return "📧"
	case "list":
		return "📋"
	case "message":
		return "✉️"
	case "crm":
		return "👥"
	case "analytics":
		return "📊"
	case "segmentation":
		return "🎯"
	case "research":
		return "🔍"
	}
	return "📌"
}
