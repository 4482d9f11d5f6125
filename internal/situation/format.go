package situation

import (
	"fmt"
	"strings"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/domain"
)

func priorityEmoji(p domain.Priority) string {
	switch p {
	case domain.PriorityUrgent, domain.PriorityHigh:
		return "🔴"
	case domain.PriorityMedium:
		return "🟡"
	case domain.PriorityLow:
		return "🟢"
	}
	return "⚪"
}

// Format renders a report for chat.
func Format(r *Report) string {
	var b strings.Builder
	b.WriteString("🧠 **Situation analysis**\n\n")
	b.WriteString(r.Summary + "\n")
	if len(r.Priorities) > 0 {
		b.WriteString("\n📋 **Priorities**\n")
		for i, p := range r.Priorities {
			fmt.Fprintf(&b, "%s %d. %s **%s**\n", priorityEmoji(p.Priority), i+1, agent.Emoji(p.Agent), p.Title)
			if p.Reasoning != "" {
				fmt.Fprintf(&b, "   ↳ %s\n", p.Reasoning)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
