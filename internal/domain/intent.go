package domain

import (
	"fmt"
	"strings"
)

// Intent is the classifier output for one message.
type Intent struct {
	RequiresAgent bool           `json:"requires_agent"`
	Agent         string         `json:"agent,omitempty"`
	Intent        string         `json:"intent,omitempty"`
	TaskType      TaskType       `json:"task_type,omitempty"`
	Confidence    float64        `json:"confidence"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// ConversationIntent is the neutral "just talk" classification.
func ConversationIntent(confidence float64) Intent {
	return Intent{
		RequiresAgent: false,
		Intent:        "conversation",
		TaskType:      TaskConversation,
		Confidence:    confidence,
	}
}

// Param returns a parameter rendered as a trimmed string.
func (i Intent) Param(key string) string {
	v, ok := i.Parameters[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "true"
		}
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// HasAnyParam reports whether at least one of keys carries a non-empty value.
func (i Intent) HasAnyParam(keys ...string) bool {
	for _, key := range keys {
		if i.Param(key) != "" {
			return true
		}
	}
	return false
}

// WithParam returns a copy of the intent with key set.
func (i Intent) WithParam(key string, value any) Intent {
	params := make(map[string]any, len(i.Parameters)+1)
	for k, v := range i.Parameters {
		params[k] = v
	}
	params[key] = value
	i.Parameters = params
	return i
}
