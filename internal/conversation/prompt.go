package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/domain"
)

// AgentDescriber lists the sub-agents the orchestrator may delegate to.
type AgentDescriber interface {
	Describe() string
}

var languageNames = map[string]string{
	"en": "English",
	"pl": "Polish",
	"de": "German",
	"es": "Spanish",
	"fr": "French",
	"it": "Italian",
	"pt": "Portuguese",
	"nl": "Dutch",
	"id": "Indonesian",
	"uk": "Ukrainian",
}

// ResolveLanguage picks the reply language: the configured preference, then
// the user's language, then English.
func ResolveLanguage(user *domain.User, settings *domain.BrainSettings) string {
	code := ""
	if settings != nil {
		code = strings.ToLower(strings.TrimSpace(settings.PreferredLanguage))
	}
	if code == "" || code == "auto" {
		if user != nil {
			code = strings.ToLower(strings.TrimSpace(user.Language))
		}
	}
	if name, ok := languageNames[code]; ok {
		return name
	}
	return "English"
}

const rolePrompt = `You are Brain, a professional AI assistant specializing in email marketing, SMS marketing, CRM and marketing automation.

YOUR ROLE:
You are the user's strategic marketing partner. Help build effective campaigns,
manage customer relationships and optimize marketing efforts like an experienced marketer.

YOUR COMPETENCIES:
• Creating and managing email and SMS campaigns
• Managing contact lists, subscribers and segments
• Generating marketing content (subjects, bodies, CTAs)
• Analyzing campaign results (open rate, click rate, trends)
• Lead scoring and the CRM pipeline
• Marketing automation

LANGUAGE RULES:
1. ALWAYS respond in %s unless the user writes in another language.
2. Use a natural, professional tone.

WORK PRINCIPLES:
1. Be specific and proactive; propose solutions.
2. When the user requests an action, create a plan with concrete steps.
3. Explain what you intend to do before doing it.
4. Rely on data, not guesses.
5. Use the user's knowledge base to personalize answers.
6. Warn about deliverability and compliance risks.`

// BuildSystemPrompt renders the orchestrator persona with the user's date,
// language, work mode, schedule, sub-agents, notification channel and
// knowledge context.
func (m *Manager) BuildSystemPrompt(user *domain.User, settings *domain.BrainSettings, knowledgeCtx string) string {
	if settings == nil {
		settings = domain.DefaultSettings(user.ID)
	}
	loc := user.Location()
	now := m.now().In(loc)

	var b strings.Builder
	fmt.Fprintf(&b, "CURRENT DATE AND TIME: %s (%s) | Timezone: %s\n\n",
		now.Format("Monday, 2 January 2006, 15:04"), now.Format("2006-01-02 15:04:05"), loc.String())
	fmt.Fprintf(&b, rolePrompt, ResolveLanguage(user, settings))

	var sections []string
	sections = append(sections, fmt.Sprintf("YOUR WORK MODE: %s (%s). %s",
		settings.WorkMode, settings.WorkMode.Label(), settings.WorkMode.Description()))

	if settings.CronEnabled && settings.CronIntervalMinutes > 0 {
		lastRun, nextRun := "never", "soon"
		if settings.LastCronRunAt != nil {
			lastRun = settings.LastCronRunAt.In(loc).Format("2006-01-02 15:04")
			interval := time.Duration(settings.CronIntervalMinutes) * time.Minute
			nextRun = settings.LastCronRunAt.Add(interval).In(loc).Format("15:04")
		}
		sections = append(sections, fmt.Sprintf(`
AUTONOMOUS WORK (SCHEDULE ACTIVE):
You work autonomously every %d minutes.
• Last run: %s
• Next run: ~%s
• Each cycle checks suggested tasks and handles the high-priority ones.
Do not say you cannot work in the background. Offer to schedule work for the next cycles.`,
			settings.CronIntervalMinutes, lastRun, nextRun))
	}

	if m.agents != nil {
		if agents := strings.TrimSpace(m.agents.Describe()); agents != "" {
			sections = append(sections, "\nYOUR SUB-AGENTS (you can delegate tasks to them):\n"+agents+
				"\nEach sub-agent reports results back to you.")
		}
	}

	if settings.TelegramChatID != "" {
		sections = append(sections, `
TELEGRAM (CONNECTED ✅):
Results of scheduled tasks are reported to the user via Telegram.`)
	}

	b.WriteString("\n\n")
	b.WriteString(strings.Join(sections, "\n"))

	if knowledgeCtx != "" {
		b.WriteString("\n\nUSER'S KNOWLEDGE BASE:\n")
		b.WriteString(knowledgeCtx)
	}
	return b.String()
}
