package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/conversation"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/plan"
	"github.com/harunnryd/brain/internal/skill"
	"github.com/harunnryd/brain/internal/structured"
)

const (
	planMaxTokens     = 4000
	planTemperature   = 0.3
	adviseMaxTokens   = 4000
	adviseTemperature = 0.5
)

// Base carries the shared machinery every agent is built on.
type Base struct {
	deps Deps
}

func NewBase(deps Deps) *Base {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Skill == nil {
		deps.Skill = skill.Marketing()
	}
	if deps.Engine == nil {
		deps.Engine = plan.NewEngine(plan.Options{})
	}
	return &Base{deps: deps}
}

// profile describes one agent to the shared planning code.
type profile struct {
	name    string
	role    string
	task    domain.TaskType
	actions []string
	docs    string
}

func (p profile) allowed() map[string]bool {
	out := make(map[string]bool, len(p.actions))
	for _, a := range p.actions {
		out[a] = true
	}
	return out
}

func settingsOf(acct Account) *domain.BrainSettings {
	if acct.Settings != nil {
		return acct.Settings
	}
	return domain.DefaultSettings(acct.ID())
}

func (b *Base) generate(ctx context.Context, acct Account, task domain.TaskType, prompt string, maxTokens int, temperature float64) (string, error) {
	resp, err := b.deps.Generator.Generate(ctx, settingsOf(acct), task, prompt, model.Options{
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Location:    acct.User.Location(),
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func languageInstruction(acct Account) string {
	lang := conversation.ResolveLanguage(acct.User, acct.Settings)
	return fmt.Sprintf("IMPORTANT: Respond in %s. All user-facing text, titles, descriptions and step names MUST be in %s.", lang, lang)
}

// defaultNeedsMoreInfo asks for details when the classifier extracted no
// parameters. Scheduled work never blocks on the user.
func defaultNeedsMoreInfo(in domain.Intent, channel string) bool {
	if isAutonomous(in, channel) {
		return false
	}
	return len(in.Parameters) == 0
}

func isAutonomous(in domain.Intent, channel string) bool {
	return channel == domain.ChannelCron || in.Param("cron_task") != ""
}

func hasUserDetails(in domain.Intent) bool {
	return in.HasAnyParam("user_details", "has_user_details")
}

func defaultInfoQuestions(in domain.Intent) string {
	var b strings.Builder
	b.WriteString("To prepare a good plan I need a few more details:\n\n")
	b.WriteString("1. What exactly do you want to achieve?\n")
	b.WriteString("2. Which list, segment or contacts does it concern?\n")
	b.WriteString("3. Are there deadlines or constraints I should respect?\n")
	if in.Intent != "" {
		fmt.Fprintf(&b, "\nRequest: %s", in.Intent)
	}
	return b.String()
}

type planReply struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Steps       []domain.StepSpec `json:"steps"`
}

// planPrompt assembles the shared planning prompt around agent-specific
// context blocks.
func (b *Base) planPrompt(p profile, in domain.Intent, acct Account, pctx PlanContext, blocks ...string) string {
	params := make(map[string]any, len(in.Parameters))
	for k, v := range in.Parameters {
		if k == "auto_context" || k == "cron_task" {
			continue
		}
		params[k] = v
	}
	paramsJSON, _ := json.Marshal(params)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s The user wants to perform the following action:\n", p.role)
	fmt.Fprintf(&sb, "Intent: %s\nParameters: %s\n", in.Intent, paramsJSON)

	if pctx.Retry {
		sb.WriteString("\nYour previous attempt did not produce a usable plan. Return valid JSON with at least one step.\n")
		if pctx.OriginalMessage != "" {
			fmt.Fprintf(&sb, "Original user message: %s\n", pctx.OriginalMessage)
		}
	}
	if isAutonomous(in, pctx.Channel) {
		sb.WriteString("\nAUTOMATIC EXECUTION CONTEXT (scheduled run, no user interaction available):\n")
		if auto := in.Param("auto_context"); auto != "" {
			fmt.Fprintf(&sb, "%s\n", auto)
		}
		sb.WriteString("You MUST choose a concrete topic, audience and tone. Do NOT leave them empty or ask for clarification.\n")
	}

	for _, block := range blocks {
		if strings.TrimSpace(block) != "" {
			sb.WriteString("\n" + block + "\n")
		}
	}
	if pctx.Knowledge != "" {
		sb.WriteString("\n" + pctx.Knowledge + "\n")
	}
	if guide := b.deps.Skill.PlanningPrompt(); guide != "" {
		sb.WriteString("\n" + guide + "\n")
	}
	sb.WriteString("\n" + languageInstruction(acct) + "\n")
	sb.WriteString(`
Create a detailed plan. Respond in JSON:
{
  "title": "short plan title",
  "description": "what the plan will achieve",
  "steps": [
    {"action_type": "action_type", "title": "step title", "description": "step description", "config": {}}
  ]
}

Available action_types:
`)
	sb.WriteString(p.docs)
	return sb.String()
}

// createPlan asks the model for a plan and persists it as a draft. Steps with
// action types outside the agent's set are dropped; a reply without usable
// steps yields nil, nil.
func (b *Base) createPlan(ctx context.Context, p profile, in domain.Intent, acct Account, pctx PlanContext, prompt string) (*domain.ActionPlan, error) {
	log := logger.FromContext(ctx).With("agent", p.name)

	raw, err := b.generate(ctx, acct, p.task, prompt, planMaxTokens, planTemperature)
	if err != nil {
		return nil, err
	}

	var reply planReply
	if _, err := structured.DecodeObject(raw, &reply); err != nil {
		log.Warn("Plan reply not parseable", "error", err)
		return nil, nil
	}

	allowed := p.allowed()
	specs := make([]domain.StepSpec, 0, len(reply.Steps))
	for _, s := range reply.Steps {
		if !allowed[s.ActionType] {
			log.Warn("Dropping step with unsupported action", "action", s.ActionType)
			continue
		}
		specs = append(specs, s)
	}
	if len(specs) == 0 {
		return nil, nil
	}

	intent := in.Intent
	if intent == "" {
		intent = p.name
	}
	title := strings.TrimSpace(reply.Title)
	if title == "" {
		title = intent
	}

	settings := settingsOf(acct)
	ap, err := domain.NewPlan(acct.ID(), p.name, intent, title, reply.Description, settings.WorkMode, specs, allowed, b.deps.Now())
	if err != nil {
		return nil, err
	}
	ap.ConversationID = pctx.ConversationID
	ap.GoalID = pctx.GoalID
	ap.Category = pctx.Category
	ap.TaskTitle = pctx.TaskTitle
	ap.Trigger = pctx.Trigger
	if ap.Trigger == "" {
		ap.Trigger = domain.TriggerChat
	}

	if err := b.deps.Repos.Plans.Create(ctx, ap); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	log.Info("Plan created", "plan_id", ap.ID, "steps", ap.TotalSteps)
	return ap, nil
}

type reportStyle int

const (
	reportChecklist reportStyle = iota
	reportJoined
)

// executePlan runs the plan through the engine and stores the rendered
// report as the plan summary.
func (b *Base) executePlan(ctx context.Context, name string, p *domain.ActionPlan, exec plan.StepExecutor, style reportStyle) (Result, error) {
	if p.AgentType != name {
		return Result{}, brainErrors.InvalidInput(fmt.Sprintf("plan %s belongs to agent %s, not %s", p.ID, p.AgentType, name))
	}
	if err := b.deps.Engine.Execute(ctx, p, exec); err != nil {
		return Result{}, err
	}

	var report string
	switch style {
	case reportJoined:
		report = joinedReport(p)
	default:
		report = checklistReport(p)
	}
	p.Summary = report
	if err := b.deps.Repos.Plans.Update(context.WithoutCancel(ctx), p); err != nil {
		return Result{}, fmt.Errorf("save plan summary: %w", err)
	}
	return Result{Type: ResultExecution, Message: report, PlanID: p.ID}, nil
}

func checklistReport(p *domain.ActionPlan) string {
	icon := "✅"
	if p.FailedSteps > 0 {
		icon = "⚠️"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s**\n", icon, p.Title)
	if p.Description != "" {
		b.WriteString(p.Description + "\n")
	}
	fmt.Fprintf(&b, "\n📋 **Completed steps** (%d/%d):\n", p.CompletedSteps, p.TotalSteps)

	lines := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		switch s.Status {
		case domain.StepCompleted:
			line := fmt.Sprintf("  %d. ✅ **%s**", s.Order, s.Title)
			if detail := s.ResultString("message"); detail != "" {
				line += "\n     ↳ " + detail
			}
			lines = append(lines, line)
		case domain.StepFailed:
			lines = append(lines, fmt.Sprintf("  %d. ❌ **%s**\n     ↳ %s", s.Order, s.Title, s.Error))
		default:
			lines = append(lines, fmt.Sprintf("  %d. ⬜ **%s**", s.Order, s.Title))
		}
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

func joinedReport(p *domain.ActionPlan) string {
	var parts []string
	for _, s := range p.Steps {
		switch s.Status {
		case domain.StepCompleted:
			if msg := s.ResultString("message"); msg != "" {
				parts = append(parts, msg)
			}
		case domain.StepFailed:
			parts = append(parts, fmt.Sprintf("⚠️ %s: %s", s.Title, s.Error))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("✅ %s: analysis done.", p.Title)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func (b *Base) advise(ctx context.Context, p profile, in domain.Intent, acct Account, pctx PlanContext) (Result, error) {
	params, _ := json.Marshal(in.Parameters)
	prompt := fmt.Sprintf(`%s The user is in manual mode and needs advice.
Intent: %s
Parameters: %s

%s

%s

Provide detailed step-by-step instructions on how the user can do this manually in the marketing panel.
Include best practices and optimization tips. Respond in a readable format with emoji.`,
		p.role, in.Intent, params, pctx.Knowledge, languageInstruction(acct))

	text, err := b.generate(ctx, acct, p.task, prompt, adviseMaxTokens, adviseTemperature)
	if err != nil {
		return Result{}, err
	}
	return Result{Type: ResultAdvice, Message: text}, nil
}

// priorResult returns key from the first completed step of actionType.
func priorResult(p *domain.ActionPlan, actionType, key string) (any, bool) {
	for _, s := range p.Steps {
		if s.ActionType != actionType || s.Status != domain.StepCompleted {
			continue
		}
		if v, ok := s.Result[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func priorString(p *domain.ActionPlan, actionType, key string) string {
	v, ok := priorResult(p, actionType, key)
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

func priorStrings(p *domain.ActionPlan, actionType, key string) []string {
	v, ok := priorResult(p, actionType, key)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

func unsupported(step *domain.ActionPlanStep) error {
	return &brainErrors.StepError{
		StepOrder:  step.Order,
		ActionType: step.ActionType,
		Err:        brainErrors.ErrUnknownAction,
	}
}

func done(message string, extra map[string]any) map[string]any {
	out := map[string]any{"status": "completed", "message": message}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
