// Package intent maps a user message onto an agent and action.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/conversation"
	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/skill"
	"github.com/harunnryd/brain/internal/structured"
)

const (
	recentTurns         = 5
	classifyMaxTokens   = 500
	classifyTemp        = 0.1
	defaultConfidence   = 0.5
	situationConfidence = 0.7
	keywordConfidence   = 0.4
)

const (
	IntentSituation    = "situation_analysis"
	IntentKeywordMatch = "keyword_match"
)

// situationKeywords route holistic "how am I doing" questions to the
// situation analyzer. They are checked before the agent tables.
var situationKeywords = []string{
	"what should i do", "situation", "status of my", "current state", "overview", "audit",
	"what is wrong", "przeanalizuj sytuacj", "przeanalizuj obecn", "podsumuj", "co jest nie tak", "co powinienem",
}

type keywordTable struct {
	agent    string
	keywords []string
}

// agentKeywords is ordered: the first agent with a matching keyword wins.
var agentKeywords = []keywordTable{
	{"campaign", []string{"campaign", "kampani", "newsletter", "wyślij mail", "wysyłk", "email blast", "mailing", "broadcast"}},
	{"list", []string{"list", "subskryb", "subscriber", "kontakt", "grupa"}},
	{"message", []string{"napisz", "treść", "temat", "subject", "szablon", "template", "wiadomoś", "copy", "write"}},
	{"crm", []string{"crm", "deal", "lead", "pipeline", "scoring", "zadani", "firma", "prospekt", "klient", "contact"}},
	{"analytics", []string{"statystyk", "analiz", "raport", "report", "wynik", "open rate", "click", "trend", "stats"}},
	{"segmentation", []string{"segment", "tag", "automat", "reguł", "filtr"}},
	{"research", []string{"research", "szukaj", "wyszukaj", "find out", "look up", "investigate", "competitor", "konkuren", "zbadaj", "sprawdź w internecie", "google", "search online"}},
}

// TaskFor returns the task type an agent's work is routed under.
func TaskFor(agentName string) domain.TaskType {
	switch agentName {
	case "campaign":
		return domain.TaskCampaign
	case "message":
		return domain.TaskContentGeneration
	case "crm":
		return domain.TaskCRM
	case "analytics":
		return domain.TaskAnalytics
	case "segmentation":
		return domain.TaskSegmentation
	case "research":
		return domain.TaskResearch
	case "list":
		return domain.TaskOrchestration
	}
	return domain.TaskConversation
}

// Classifier asks the model for an intent and falls back to keyword tables
// when the model is unavailable or answers with something unusable.
type Classifier struct {
	gen      model.Generator
	registry *agent.Registry
	skill    *skill.Skill
}

func NewClassifier(gen model.Generator, registry *agent.Registry, sk *skill.Skill) *Classifier {
	if sk == nil {
		sk = skill.Marketing()
	}
	return &Classifier{gen: gen, registry: registry, skill: sk}
}

type reply struct {
	RequiresAgent bool           `json:"requires_agent"`
	Agent         *string        `json:"agent"`
	Intent        string         `json:"intent"`
	TaskType      string         `json:"task_type"`
	Confidence    *float64       `json:"confidence"`
	Parameters    map[string]any `json:"parameters"`
}

// Classify never fails: provider and parse errors degrade to Fallback.
func (c *Classifier) Classify(ctx context.Context, message string, acct agent.Account, conv *domain.Conversation) domain.Intent {
	log := logger.FromContext(ctx)

	resp, err := c.gen.Generate(ctx, acct.Settings, domain.TaskOrchestration, c.prompt(message, conv), model.Options{
		MaxTokens:   classifyMaxTokens,
		Temperature: classifyTemp,
	})
	if err != nil {
		log.Warn("Intent classification failed, using keyword fallback", "error", err)
		return Fallback(message)
	}

	var r reply
	mode, err := structured.DecodeObject(resp.Content, &r)
	if err != nil {
		log.Warn("Intent reply is not JSON, using keyword fallback", "error", err)
		return Fallback(message)
	}
	log.Debug("Intent classified", "parse_mode", mode, "intent", r.Intent)
	return c.normalize(r)
}

func (c *Classifier) normalize(r reply) domain.Intent {
	in := domain.Intent{
		RequiresAgent: r.RequiresAgent,
		Intent:        strings.TrimSpace(r.Intent),
		TaskType:      domain.TaskType(strings.TrimSpace(r.TaskType)),
		Confidence:    defaultConfidence,
		Parameters:    r.Parameters,
	}
	if in.Intent == "" {
		in.Intent = "conversation"
	}
	if r.Confidence != nil {
		in.Confidence = structured.Clamp01(*r.Confidence)
	}
	if r.Agent != nil {
		name := strings.ToLower(strings.TrimSpace(*r.Agent))
		if c.registry != nil && c.registry.Has(name) {
			in.Agent = name
		}
	}
	if in.Agent == "" {
		in.RequiresAgent = false
	}
	if in.TaskType == "" {
		in.TaskType = TaskFor(in.Agent)
	}
	if in.TaskType == domain.TaskSituation {
		in.RequiresAgent = false
		in.Agent = ""
	}
	return in
}

func (c *Classifier) prompt(message string, conv *domain.Conversation) string {
	var agents string
	if c.registry != nil {
		agents = c.registry.Describe()
	}
	recent := conversation.RecentTurns(conv, recentTurns)
	if recent == "" {
		recent = "(none)\n"
	}

	return fmt.Sprintf(`%s

---

Classify the user's intent. Respond with VALID JSON ONLY.

AVAILABLE AGENTS:
%s
RECENT CONVERSATION CONTEXT:
%s
NEW USER MESSAGE:
%s

Respond in JSON:
{
  "requires_agent": true/false,
  "agent": "campaign|list|message|crm|analytics|segmentation|research|null",
  "intent": "short description of intent",
  "task_type": "campaign|content_generation|orchestration|crm|analytics|segmentation|research|situation_analysis|conversation",
  "confidence": 0.0-1.0,
  "parameters": {}
}

Set requires_agent=false for general questions, conversations and greetings.
Set requires_agent=true when the user wants to PERFORM a specific action.
Set task_type="situation_analysis" and requires_agent=false when the user asks for an overall review of their marketing situation.`,
		c.skill.ClassifierPrompt(), agents, recent, message)
}

// Fallback classifies by keyword tables alone.
func Fallback(message string) domain.Intent {
	lower := strings.ToLower(message)

	for _, kw := range situationKeywords {
		if strings.Contains(lower, kw) {
			return domain.Intent{
				Intent:     IntentSituation,
				TaskType:   domain.TaskSituation,
				Confidence: situationConfidence,
			}
		}
	}

	for _, table := range agentKeywords {
		for _, kw := range table.keywords {
			if strings.Contains(lower, kw) {
				return domain.Intent{
					RequiresAgent: true,
					Agent:         table.agent,
					Intent:        IntentKeywordMatch,
					TaskType:      TaskFor(table.agent),
					Confidence:    keywordConfidence,
				}
			}
		}
	}

	return domain.ConversationIntent(defaultConfidence)
}
