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
	"github.com/harunnryd/brain/internal/structured"
)

const (
	copyMaxTokens   = 3000
	copyTemperature = 0.8
)

var messageProfile = profile{
	name: "message",
	role: "You are an email copywriter.",
	task: domain.TaskContentGeneration,
	actions: []string{
		"generate_subject", "generate_body", "create_message", "generate_ab_variants", "improve_content",
	},
	docs: `- generate_subject: propose subject lines (config: {topic: "", tone: "", count: 5})
- generate_body: write the message body (config: {topic: "", subject: "", tone: "", length: "short"|"medium"|"long"})
- create_message: save the message as a draft (config: {subject: "", content: "", message_type: "email"|"sms", list_ids: ["id"]})
- generate_ab_variants: write variants for an A/B test (config: {subject: "", content: "", count: 2})
- improve_content: rewrite existing copy (config: {content: "", goal: ""})
`,
}

// Message writes copy: subjects, bodies, variants and rewrites.
type Message struct {
	*Base
}

func NewMessage(base *Base) *Message {
	return &Message{Base: base}
}

func (a *Message) Name() string { return messageProfile.name }

func (a *Message) Description() string {
	return "Writes subject lines, message bodies, A/B variants and improves existing copy."
}

func (a *Message) Capabilities() []string {
	return []string{"generate_subject", "generate_body", "create_message", "generate_ab_variants", "improve_content"}
}

func (a *Message) ActionTypes() []string { return messageProfile.actions }

func (a *Message) NeedsMoreInfo(in domain.Intent, channel string) bool {
	if isAutonomous(in, channel) || hasUserDetails(in) {
		return false
	}
	return !in.HasAnyParam("topic", "content", "subject", "product")
}

func (a *Message) InfoQuestions(_ context.Context, in domain.Intent, _ Account) (string, error) {
	var b strings.Builder
	b.WriteString("✍️ Before I write anything:\n\n")
	b.WriteString("1. What is the message about?\n")
	b.WriteString("2. Who will read it?\n")
	b.WriteString("3. Which tone fits your brand?\n")
	if in.Intent != "" {
		fmt.Fprintf(&b, "\nRequest: %s", in.Intent)
	}
	return b.String(), nil
}

func (a *Message) Plan(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (*domain.ActionPlan, error) {
	prompt := a.planPrompt(messageProfile, in, acct, pctx)
	return a.createPlan(ctx, messageProfile, in, acct, pctx, prompt)
}

func (a *Message) Advise(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (Result, error) {
	return a.advise(ctx, messageProfile, in, acct, pctx)
}

func (a *Message) Execute(ctx context.Context, p *domain.ActionPlan, acct Account) (Result, error) {
	return a.executePlan(ctx, a.Name(), p, a.executor(acct), reportChecklist)
}

func (a *Message) executor(acct Account) plan.StepExecutor {
	return plan.StepFunc(func(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) (map[string]any, error) {
		switch cfg := step.Config.(type) {
		case *domain.GenerateSubjectConfig:
			return a.generateSubjects(ctx, acct, p, cfg)
		case *domain.GenerateBodyConfig:
			return a.generateBody(ctx, acct, p, cfg)
		case *domain.CreateMessageConfig:
			return a.createDraft(ctx, acct.ID(), p, cfg)
		case *domain.GenerateABVariantsConfig:
			return a.generateVariants(ctx, acct, p, cfg)
		case *domain.ImproveContentConfig:
			return a.improveContent(ctx, acct, p, cfg)
		}
		return nil, unsupported(step)
	})
}

func (a *Message) copyContext(ctx context.Context, acct Account) (string, error) {
	return a.deps.Knowledge.GetContext(ctx, acct.ID(), knowledge.ProfileMessage)
}

func (a *Message) generateSubjects(ctx context.Context, acct Account, p *domain.ActionPlan, cfg *domain.GenerateSubjectConfig) (map[string]any, error) {
	kb, err := a.copyContext(ctx, acct)
	if err != nil {
		return nil, err
	}
	count := cfg.Count
	if count <= 0 || count > 10 {
		count = 5
	}
	topic := cfg.Topic
	if topic == "" {
		topic = p.Intent
	}
	prompt := fmt.Sprintf(`Write %d email subject lines.
Topic: %s
Tone: %s

%s

%s

Respond with a JSON array of strings.`, count, topic, orDefault(cfg.Tone, "professional"), kb, languageInstruction(acct))

	raw, err := a.generate(ctx, acct, domain.TaskContentGeneration, prompt, copyMaxTokens, copyTemperature)
	if err != nil {
		return nil, err
	}
	var subjects []string
	if _, err := structured.DecodeArray(raw, &subjects); err != nil {
		return nil, err
	}
	subjects = nonEmpty(subjects)
	if len(subjects) == 0 {
		return nil, brainErrors.InvalidModelOutput("no subject lines generated")
	}
	return done("Subject lines:\n"+bullets(subjects), map[string]any{
		"subjects": subjects,
		"subject":  subjects[0],
	}), nil
}

func (a *Message) generateBody(ctx context.Context, acct Account, p *domain.ActionPlan, cfg *domain.GenerateBodyConfig) (map[string]any, error) {
	kb, err := a.copyContext(ctx, acct)
	if err != nil {
		return nil, err
	}
	subject := cfg.Subject
	if subject == "" {
		subject = priorString(p, "generate_subject", "subject")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = p.Intent
	}
	prompt := fmt.Sprintf(`Write the body of a marketing email.
Topic: %s
Subject: %s
Tone: %s
Length: %s

%s

%s

Respond in JSON: {"content": "HTML body", "cta_text": "button text"}`,
		topic, subject, orDefault(cfg.Tone, "professional"), orDefault(cfg.Length, "medium"), kb, languageInstruction(acct))

	raw, err := a.generate(ctx, acct, domain.TaskContentGeneration, prompt, 6000, 0.7)
	if err != nil {
		return nil, err
	}
	var body struct {
		Content string `json:"content"`
		CTAText string `json:"cta_text"`
	}
	if _, err := structured.DecodeObject(raw, &body); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body.Content) == "" {
		return nil, brainErrors.InvalidModelOutput("generated body is empty")
	}
	return done(fmt.Sprintf("Body written (%d characters)", len([]rune(body.Content))), map[string]any{
		"subject":  subject,
		"content":  body.Content,
		"cta_text": body.CTAText,
	}), nil
}

func (a *Message) createDraft(ctx context.Context, userID string, p *domain.ActionPlan, cfg *domain.CreateMessageConfig) (map[string]any, error) {
	subject := firstNonEmpty(cfg.Subject, priorString(p, "generate_body", "subject"), priorString(p, "generate_subject", "subject"), p.Title)
	content := firstNonEmpty(cfg.Content, priorString(p, "improve_content", "content"), priorString(p, "generate_body", "content"))
	msg, err := a.deps.Platform.CreateMessage(ctx, userID, platform.Message{
		Subject: subject,
		Content: content,
		Type:    orDefault(cfg.MessageType, "email"),
		ListIDs: cfg.ListIDs,
	})
	if err != nil {
		return nil, err
	}
	return done(fmt.Sprintf("Message %q saved as draft (ID %s)", subject, msg.ID), map[string]any{"message_id": msg.ID}), nil
}

func (a *Message) generateVariants(ctx context.Context, acct Account, p *domain.ActionPlan, cfg *domain.GenerateABVariantsConfig) (map[string]any, error) {
	count := cfg.Count
	if count < 2 || count > 5 {
		count = 2
	}
	subject := firstNonEmpty(cfg.Subject, priorString(p, "generate_subject", "subject"))
	content := firstNonEmpty(cfg.Content, priorString(p, "generate_body", "content"))
	prompt := fmt.Sprintf(`Write %d A/B test variants of this email. Each variant should test a different angle.
Subject: %s
Content: %s

%s

Respond with a JSON array: [{"subject": "", "content": ""}]`, count, subject, truncateRunes(content, 2000), languageInstruction(acct))

	raw, err := a.generate(ctx, acct, domain.TaskContentGeneration, prompt, copyMaxTokens, copyTemperature)
	if err != nil {
		return nil, err
	}
	var variants []domain.ABVariant
	if _, err := structured.DecodeArray(raw, &variants); err != nil {
		return nil, err
	}
	kept := variants[:0]
	for _, v := range variants {
		if strings.TrimSpace(v.Subject) != "" {
			kept = append(kept, v)
		}
	}
	if len(kept) < 2 {
		return nil, brainErrors.InvalidModelOutput("need at least two variants")
	}
	lines := make([]string, 0, len(kept))
	for i, v := range kept {
		lines = append(lines, fmt.Sprintf("%s: %s", variantLetter(i), v.Subject))
	}
	return done("Variants:\n"+bullets(lines), map[string]any{"variants": kept}), nil
}

func (a *Message) improveContent(ctx context.Context, acct Account, p *domain.ActionPlan, cfg *domain.ImproveContentConfig) (map[string]any, error) {
	content := firstNonEmpty(cfg.Content, priorString(p, "generate_body", "content"))
	if strings.TrimSpace(content) == "" {
		return nil, brainErrors.InvalidInput("improve_content needs content")
	}
	kb, err := a.copyContext(ctx, acct)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(`Improve this marketing copy.
Goal: %s

Content:
%s

%s

%s

Respond in JSON: {"content": "improved copy", "changes": ["what changed"]}`,
		orDefault(cfg.Goal, "higher engagement"), content, kb, languageInstruction(acct))

	raw, err := a.generate(ctx, acct, domain.TaskContentGeneration, prompt, 6000, 0.6)
	if err != nil {
		return nil, err
	}
	var improved struct {
		Content string   `json:"content"`
		Changes []string `json:"changes"`
	}
	if _, err := structured.DecodeObject(raw, &improved); err != nil {
		return nil, err
	}
	if strings.TrimSpace(improved.Content) == "" {
		return nil, brainErrors.InvalidModelOutput("improved content is empty")
	}
	msg := "Content improved"
	if changes := nonEmpty(improved.Changes); len(changes) > 0 {
		msg += ":\n" + bullets(changes)
	}
	return done(msg, map[string]any{"content": improved.Content}), nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func bullets(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  • " + l)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
