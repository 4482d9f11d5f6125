package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/plan"
	"github.com/harunnryd/brain/internal/platform"
)

const (
	researchMaxTokens   = 3000
	researchTemperature = 0.4
	researchDataKey     = "research_data"
)

var researchProfile = profile{
	name: "research",
	role: "You are a market research analyst.",
	task: domain.TaskResearch,
	actions: []string{
		"web_search", "deep_research", "company_research", "trend_analysis", "content_research", "save_to_knowledge",
	},
	docs: `- web_search: search the web (config: {query: "", limit: 5})
- deep_research: answer research questions on a topic (config: {topic: "", questions: [""]})
- company_research: research a company (config: {company: "", domain: ""})
- trend_analysis: analyze industry trends (config: {industry: "", period: ""})
- content_research: collect content ideas (config: {topic: "", format: "email"|"newsletter"|"sms"})
- save_to_knowledge: save the findings of earlier steps to the knowledge base (config: {category: "insights"|"competitors"|"audience", title: ""})
`,
}

// Research gathers market knowledge and files it into the knowledge base.
type Research struct {
	*Base
}

func NewResearch(base *Base) *Research {
	return &Research{Base: base}
}

func (a *Research) Name() string { return researchProfile.name }

func (a *Research) Description() string {
	return "Researches markets, competitors, trends and content ideas and saves findings to the knowledge base."
}

func (a *Research) Capabilities() []string {
	return []string{"web_search", "deep_research", "company_research", "trend_analysis", "content_research", "save_to_knowledge"}
}

func (a *Research) ActionTypes() []string { return researchProfile.actions }

func (a *Research) NeedsMoreInfo(in domain.Intent, channel string) bool {
	if isAutonomous(in, channel) || hasUserDetails(in) {
		return false
	}
	return !in.HasAnyParam("query", "topic", "company")
}

func (a *Research) InfoQuestions(_ context.Context, in domain.Intent, _ Account) (string, error) {
	var b strings.Builder
	b.WriteString("🔍 What should I research?\n\n")
	b.WriteString("1. The topic, question or company\n")
	b.WriteString("2. What you will use the findings for\n")
	b.WriteString("3. Whether to save the results to your knowledge base\n")
	if in.Intent != "" {
		fmt.Fprintf(&b, "\nRequest: %s", in.Intent)
	}
	return b.String(), nil
}

func (a *Research) Plan(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (*domain.ActionPlan, error) {
	prompt := a.planPrompt(researchProfile, in, acct, pctx,
		"Finish with a save_to_knowledge step when the findings are worth keeping.")
	return a.createPlan(ctx, researchProfile, in, acct, pctx, prompt)
}

func (a *Research) Advise(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (Result, error) {
	return a.advise(ctx, researchProfile, in, acct, pctx)
}

func (a *Research) Execute(ctx context.Context, p *domain.ActionPlan, acct Account) (Result, error) {
	return a.executePlan(ctx, a.Name(), p, a.executor(acct), reportChecklist)
}

func (a *Research) executor(acct Account) plan.StepExecutor {
	return plan.StepFunc(func(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) (map[string]any, error) {
		switch cfg := step.Config.(type) {
		case *domain.WebSearchConfig:
			return a.webSearch(ctx, cfg)

		case *domain.DeepResearchConfig:
			if strings.TrimSpace(cfg.Topic) == "" {
				return nil, brainErrors.InvalidInput("deep_research needs a topic")
			}
			questions := ""
			if len(cfg.Questions) > 0 {
				questions = "Answer these questions:\n" + bullets(cfg.Questions)
			}
			return a.analyze(ctx, acct, p, "🔬", "Deep research", cfg.Topic,
				fmt.Sprintf("Research the topic %q for a marketing team. Cover facts, statistics and actionable insights.\n%s", cfg.Topic, questions))

		case *domain.CompanyResearchConfig:
			if strings.TrimSpace(cfg.Company) == "" {
				return nil, brainErrors.InvalidInput("company_research needs a company")
			}
			subject := cfg.Company
			if cfg.Domain != "" {
				subject += " (" + cfg.Domain + ")"
			}
			return a.analyze(ctx, acct, p, "🏢", "Company research", subject,
				fmt.Sprintf("Describe the company %s: what it sells, its audience, positioning, marketing channels and how a competitor could differentiate.", subject))

		case *domain.TrendAnalysisConfig:
			industry := orDefault(cfg.Industry, "email marketing")
			period := orDefault(cfg.Period, "the coming quarter")
			return a.analyze(ctx, acct, p, "📈", "Trend analysis", industry,
				fmt.Sprintf("Analyze the trends in %s relevant for %s. List each trend with its impact on email campaigns.", industry, period))

		case *domain.ContentResearchConfig:
			if strings.TrimSpace(cfg.Topic) == "" {
				return nil, brainErrors.InvalidInput("content_research needs a topic")
			}
			format := orDefault(cfg.Format, "email")
			return a.analyze(ctx, acct, p, "✍️", "Content research", cfg.Topic+" ("+format+")",
				fmt.Sprintf("Propose content ideas for a %s about %q: angles, hooks, subject lines and formats that perform well.", format, cfg.Topic))

		case *domain.SaveToKnowledgeConfig:
			return a.saveToKnowledge(ctx, acct, p, cfg)
		}
		return nil, unsupported(step)
	})
}

func (a *Research) webSearch(ctx context.Context, cfg *domain.WebSearchConfig) (map[string]any, error) {
	limit := cfg.Limit
	if limit <= 0 || limit > 10 {
		limit = 5
	}
	results, err := a.deps.Platform.SearchWeb(ctx, cfg.Query, limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return done(fmt.Sprintf("No web results for %q", cfg.Query), nil), nil
	}
	return done(fmt.Sprintf("🔍 **Web search: %q**\n\n%s", cfg.Query, formatSearchResults(results)), map[string]any{
		researchDataKey: formatSearchResults(results),
	}), nil
}

func formatSearchResults(results []platform.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// gathered joins the findings of completed research steps.
func gathered(p *domain.ActionPlan) string {
	var parts []string
	for _, s := range p.Steps {
		if s.Status != domain.StepCompleted {
			continue
		}
		if data := s.ResultString(researchDataKey); data != "" {
			parts = append(parts, data)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (a *Research) analyze(ctx context.Context, acct Account, p *domain.ActionPlan, icon, label, subject, ask string) (map[string]any, error) {
	kb, err := a.deps.Knowledge.GetContext(ctx, acct.ID(), knowledge.ProfileGeneral)
	if err != nil {
		return nil, err
	}
	var prompt strings.Builder
	prompt.WriteString(ask + "\n")
	if prior := gathered(p); prior != "" {
		prompt.WriteString("\nFindings so far:\n" + truncateRunes(prior, 4000) + "\n")
	}
	if kb != "" {
		prompt.WriteString("\n" + kb + "\n")
	}
	prompt.WriteString("\n" + languageInstruction(acct) + "\nWrite a clear, structured answer.")

	text, err := a.generate(ctx, acct, domain.TaskResearch, prompt.String(), researchMaxTokens, researchTemperature)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, brainErrors.InvalidModelOutput("empty research answer")
	}
	return done(fmt.Sprintf("%s **%s: %s**\n\n%s", icon, label, subject, text), map[string]any{
		researchDataKey: text,
	}), nil
}

func (a *Research) saveToKnowledge(ctx context.Context, acct Account, p *domain.ActionPlan, cfg *domain.SaveToKnowledgeConfig) (map[string]any, error) {
	content := strings.TrimSpace(cfg.Content)
	if content == "" {
		findings := gathered(p)
		if findings == "" {
			return done("Nothing to save yet.", nil), nil
		}
		prompt := fmt.Sprintf(`Summarize the following research findings into a concise knowledge base entry (max 500 words).
Keep the most important facts, statistics and actionable insights.

Research data:
%s

%s`, truncateRunes(findings, 8000), languageInstruction(acct))
		summary, err := a.generate(ctx, acct, domain.TaskResearch, prompt, 800, 0.3)
		if err != nil {
			return nil, err
		}
		content = strings.TrimSpace(summary)
	}

	category := domain.KnowledgeCategory(orDefault(cfg.Category, string(domain.CategoryInsights)))
	if !category.Valid() {
		category = domain.CategoryInsights
	}
	title := orDefault(cfg.Title, p.Title)
	entry, err := a.deps.Knowledge.AddEntry(ctx, acct.ID(), category, title, content, domain.SourceResearch,
		knowledge.WithReference("plan:"+p.ID), knowledge.WithTags("research", "auto-generated"))
	if err != nil {
		return nil, err
	}
	return done(fmt.Sprintf("💾 Saved %q to the knowledge base (%s)", title, category), map[string]any{
		"entry_id": entry.ID,
	}), nil
}
