// Package orchestrator is the entry point of the brain: it turns an inbound
// message or a scheduled trigger into a classified, planned and possibly
// executed piece of work.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/concurrency"
	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/conversation"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/goal"
	"github.com/harunnryd/brain/internal/intent"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/mode"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/model/contract"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/scorer"
	"github.com/harunnryd/brain/internal/situation"
	"github.com/harunnryd/brain/internal/skill"
)

// Response types.
const (
	TypeConversation      = "conversation"
	TypePlanExecuted      = "plan_executed"
	TypeApprovalRequired  = "approval_required"
	TypeInfoRequest       = "info_request"
	TypeAdvice            = "advice"
	TypeGoalCreated       = "goal_created"
	TypeSituationAnalysis = "situation_analysis"
	TypeError             = "error"
)

// Activity events.
const (
	EventBrainStart       = "brain_start"
	EventBrainStop        = "brain_stop"
	EventAgentDispatch    = "agent_dispatch"
	EventAgentComplete    = "agent_complete"
	EventGoalCreated      = "goal_created"
	EventCronTaskDispatch = "cron_task_dispatch"
	EventCronTaskComplete = "cron_task_complete"
	EventCronTaskError    = "cron_task_error"
	EventCronCycle        = "cron_cycle"
)

const (
	chatMaxTokens   = 8000
	chatTemperature = 0.7
	titleMaxTokens  = 30
	titleTemp       = 0.3
	enrichMessages  = 10

	errorReply      = "Sorry, something went wrong while processing your message. Please try again."
	tokenLimitReply = "Your daily AI token limit has been reached. Try again tomorrow or raise the limit in your settings."
)

// Completer is the model surface the orchestrator needs: single prompts for
// titles, full chat payloads and streaming.
type Completer interface {
	model.Generator
	ResolveModel(settings *domain.BrainSettings, task domain.TaskType) string
	Complete(ctx context.Context, settings *domain.BrainSettings, task domain.TaskType, req contract.CompletionRequest, loc *time.Location) (*contract.CompletionResponse, error)
	Stream(ctx context.Context, settings *domain.BrainSettings, task domain.TaskType, req contract.CompletionRequest, loc *time.Location, onChunk contract.ChunkFunc) (*contract.CompletionResponse, error)
}

// Deps are the collaborators wired by the daemon or the CLI.
type Deps struct {
	Completer     Completer
	Repos         *repository.Repositories
	Conversations *conversation.Manager
	Classifier    *intent.Classifier
	Registry      *agent.Registry
	Modes         *mode.Controller
	Goals         *goal.Planner
	Advancer      *goal.Advancer
	Knowledge     *knowledge.Service
	Situation     *situation.Analyzer
	Scorer        *scorer.Scorer
	Platform      platform.Platform
	Skill         *skill.Skill
	Locker        *concurrency.UserLocker
}

type Options struct {
	EnrichEvery        int
	TitleMaxLength     int
	TitleAfterMessages int
	MaxTasksPerCycle   int
	MaxGoalsPerCycle   int
	MinPriority        domain.Priority
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		EnrichEvery:        cfg.Brain.EnrichEvery,
		TitleMaxLength:     cfg.Brain.TitleMaxLength,
		TitleAfterMessages: cfg.Brain.TitleAfterMessages,
		MaxTasksPerCycle:   cfg.Scheduler.MaxTasksPerCycle,
		MaxGoalsPerCycle:   cfg.Scheduler.MaxGoalsPerCycle,
		MinPriority:        domain.ParsePriority(cfg.Scheduler.DefaultMinPriority),
	}
}

func (o Options) withDefaults() Options {
	if o.EnrichEvery <= 0 {
		o.EnrichEvery = config.DefaultBrainEnrichEvery
	}
	if o.TitleMaxLength <= 0 {
		o.TitleMaxLength = config.DefaultBrainTitleMaxLength
	}
	if o.TitleAfterMessages <= 0 {
		o.TitleAfterMessages = config.DefaultBrainTitleAfterMessages
	}
	if o.MaxTasksPerCycle <= 0 {
		o.MaxTasksPerCycle = config.DefaultSchedulerMaxTasksPerCycle
	}
	if o.MaxGoalsPerCycle <= 0 {
		o.MaxGoalsPerCycle = config.DefaultSchedulerMaxGoalsPerCycle
	}
	if o.MinPriority.Rank() == 0 {
		o.MinPriority = domain.PriorityHigh
	}
	return o
}

// Orchestrator routes messages and scheduled work to agents.
type Orchestrator struct {
	Deps
	opts Options
	now  func() time.Time
}

func New(deps Deps, opts Options) *Orchestrator {
	if deps.Locker == nil {
		deps.Locker = concurrency.NewUserLocker()
	}
	if deps.Skill == nil {
		deps.Skill = skill.Marketing()
	}
	return &Orchestrator{Deps: deps, opts: opts.withDefaults(), now: time.Now}
}

// WithClock overrides the clock, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Request is one inbound user message.
type Request struct {
	Text           string
	UserID         string
	Channel        string
	ConversationID string
	ForceNew       bool
}

type Response struct {
	Type           string         `json:"type"`
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Title          string         `json:"title,omitempty"`
	Model          string         `json:"model,omitempty"`
	PlanID         string         `json:"plan_id,omitempty"`
	ApprovalID     string         `json:"approval_id,omitempty"`
	GoalID         string         `json:"goal_id,omitempty"`
	Agent          string         `json:"agent,omitempty"`
	Intent         string         `json:"intent,omitempty"`
	Usage          contract.Usage `json:"usage"`
}

// Account loads the user and their settings.
func (o *Orchestrator) Account(ctx context.Context, userID string) (agent.Account, error) {
	user, err := o.Repos.User(ctx, userID)
	if err != nil {
		return agent.Account{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	settings, err := o.Repos.SettingsFor(ctx, userID)
	if err != nil {
		return agent.Account{}, fmt.Errorf("load settings %s: %w", userID, err)
	}
	return agent.Account{User: user, Settings: settings}, nil
}

// ProcessMessage handles one message end to end. Failures after the user
// message is stored are turned into a persisted assistant error reply and a
// TypeError response; the returned error is reserved for failures before
// that point.
func (o *Orchestrator) ProcessMessage(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, brainErrors.InvalidInput("user id is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, brainErrors.InvalidInput("message is empty")
	}
	if req.Channel == "" {
		req.Channel = domain.ChannelWeb
	}
	started := o.now()
	ctx = logger.WithUserID(ctx, req.UserID)
	if logger.GetTraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, repository.NewID(started))
	}

	acct, err := o.Account(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	o.logActivity(ctx, req.UserID, EventBrainStart, "started", map[string]any{"channel": req.Channel})

	conv, err := o.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithConversationID(ctx, conv.ID)
	if _, err := o.Conversations.AddUserMessage(ctx, conv, req.Text); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	resp, err := o.route(ctx, acct, conv, req)
	if err != nil {
		return o.fail(ctx, conv, err), nil
	}
	o.finish(ctx, acct, conv, req.Text, resp)

	o.logActivity(ctx, req.UserID, EventBrainStop, "completed", map[string]any{
		"agent":       resp.Agent,
		"type":        resp.Type,
		"duration_ms": o.now().Sub(started).Milliseconds(),
	})
	return resp, nil
}

// lookupConversation returns the conversation a request continues, or nil
// when a new one has to be started.
func (o *Orchestrator) lookupConversation(ctx context.Context, req Request) (*domain.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := o.Conversations.Get(ctx, req.ConversationID, req.UserID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, brainErrors.ErrNotFound) {
			return nil, err
		}
		return nil, nil
	}
	if req.ForceNew {
		return nil, nil
	}
	return o.Conversations.GetOrCreateActive(ctx, req.UserID, req.Channel)
}

func (o *Orchestrator) resolveConversation(ctx context.Context, req Request) (*domain.Conversation, error) {
	conv, err := o.lookupConversation(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if conv != nil {
		return conv, nil
	}
	return o.Conversations.CreateNew(ctx, req.UserID, req.Channel)
}

func (o *Orchestrator) route(ctx context.Context, acct agent.Account, conv *domain.Conversation, req Request) (*Response, error) {
	if !acct.Settings.HasTokensAvailable(o.now()) {
		return nil, brainErrors.ErrTokenLimit
	}

	if name, pending, ok := conv.Pending(); ok && o.Registry.Has(name) {
		if err := o.Conversations.ClearPending(ctx, conv); err != nil {
			return nil, err
		}
		in := pending.WithParam("user_details", req.Text).WithParam("has_user_details", true)
		in.RequiresAgent = true
		in.Agent = name
		kb, err := o.Knowledge.GetContext(ctx, acct.ID(), knowledge.ProfileFor(name))
		if err != nil {
			return nil, err
		}
		return o.handleAgent(ctx, acct, conv, req.Channel, in, kb)
	}

	if def := o.Goals.IsGoalRequest(ctx, req.Text, acct); def != nil {
		resp, err := o.handleGoal(ctx, acct, conv, req.Channel, *def)
		if err == nil {
			return resp, nil
		}
		logger.FromContext(ctx).Warn("Goal handling failed, classifying instead", "error", err)
	}

	in := o.Classifier.Classify(ctx, req.Text, acct, conv)
	if in.TaskType == domain.TaskSituation {
		return o.handleSituation(ctx, acct)
	}

	kb, err := o.Knowledge.GetContext(ctx, acct.ID(), knowledge.ProfileFor(string(in.TaskType)))
	if err != nil {
		return nil, err
	}
	goals, err := o.Goals.ActiveGoalsContext(ctx, acct.ID())
	if err != nil {
		return nil, err
	}
	if goals != "" {
		kb = strings.TrimSpace(kb + "\n\n" + goals)
	}

	if in.RequiresAgent && in.Agent != "" {
		return o.handleAgent(ctx, acct, conv, req.Channel, in, kb)
	}
	resp, err := o.handleConversation(ctx, acct, conv, kb)
	if err != nil {
		return nil, err
	}
	resp.Intent = in.Intent
	return resp, nil
}

// finish persists the reply and runs the bookkeeping that follows it.
func (o *Orchestrator) finish(ctx context.Context, acct agent.Account, conv *domain.Conversation, userText string, resp *Response) {
	log := logger.FromContext(ctx)
	if resp.Model == "" {
		if resp.Type == TypeInfoRequest {
			resp.Model = "brain"
		} else {
			resp.Model = o.Completer.ResolveModel(acct.Settings, intent.TaskFor(resp.Agent))
		}
	}

	metadata := map[string]any{
		"intent":    resp.Intent,
		"agent":     resp.Agent,
		"type":      resp.Type,
		"work_mode": string(acct.Settings.WorkMode),
	}
	if _, err := o.Conversations.AddAssistantMessage(ctx, conv, resp.Message, resp.Usage, resp.Model, metadata); err != nil {
		log.Error("Failed to save assistant message", "error", err)
	}
	resp.ConversationID = conv.ID

	if err := o.trackTokens(ctx, acct.ID(), resp.Usage.Total()); err != nil {
		log.Warn("Failed to track token usage", "error", err)
	}
	o.maybeTitle(ctx, acct, conv, userText, resp.Message)
	o.maybeEnrich(ctx, acct, conv)
	resp.Title = conv.Title
}

// fail records an assistant error reply so the conversation never ends on an
// unanswered user message.
func (o *Orchestrator) fail(ctx context.Context, conv *domain.Conversation, cause error) *Response {
	log := logger.FromContext(ctx)
	log.Error("Message processing failed", "error", cause, "kind", brainErrors.KindOf(cause))

	reply := errorReply
	if errors.Is(cause, brainErrors.ErrTokenLimit) {
		reply = tokenLimitReply
	}
	if _, err := o.Conversations.AddAssistantMessage(context.WithoutCancel(ctx), conv, reply, contract.Usage{}, "", map[string]any{
		"error": cause.Error(),
	}); err != nil {
		log.Error("Failed to save error reply", "error", err)
	}
	o.logActivity(ctx, conv.UserID, EventBrainStop, "failed", map[string]any{"error": cause.Error()})
	return &Response{Type: TypeError, Message: reply, ConversationID: conv.ID, Title: conv.Title}
}

// trackTokens adds usage to the daily counter under the user's lock.
func (o *Orchestrator) trackTokens(ctx context.Context, userID string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	return o.Locker.WithLock(userID, func() error {
		settings, err := o.Repos.SettingsFor(ctx, userID)
		if err != nil {
			return err
		}
		settings.AddTokens(tokens, o.now())
		return o.Repos.Settings.Update(ctx, settings)
	})
}

func (o *Orchestrator) maybeTitle(ctx context.Context, acct agent.Account, conv *domain.Conversation, userText, reply string) {
	if conv.Title != "" || conv.MessageCount() > o.opts.TitleAfterMessages {
		return
	}
	log := logger.FromContext(ctx)
	prompt := fmt.Sprintf(`Generate a SHORT title (max 5 words) summarizing this conversation topic. Write the title in %s. Respond with ONLY the title, no quotes, no punctuation at the end.

User message: %s
Response: %s

Title:`, conversation.ResolveLanguage(acct.User, acct.Settings), userText, reply)

	title := ""
	resp, err := o.Completer.Generate(ctx, acct.Settings, domain.TaskConversation, prompt, model.Options{
		MaxTokens:   titleMaxTokens,
		Temperature: titleTemp,
	})
	if err != nil {
		log.Warn("Title generation failed", "error", err)
	} else {
		title = conversation.NormalizeTitle(resp.Content, o.opts.TitleMaxLength)
	}
	if title == "" {
		if title, err = conversation.FallbackTitle(conv, o.opts.TitleMaxLength); err != nil {
			return
		}
	}
	if err := o.Conversations.SetTitle(ctx, conv, title); err != nil {
		log.Warn("Failed to save conversation title", "error", err)
	}
}

func (o *Orchestrator) maybeEnrich(ctx context.Context, acct agent.Account, conv *domain.Conversation) {
	if conv.MessageCount() == 0 || conv.MessageCount()%o.opts.EnrichEvery != 0 {
		return
	}
	concurrency.SafeRun(ctx, "knowledge_enrich", func(ctx context.Context) error {
		_, err := o.Knowledge.AutoEnrich(ctx, acct.ID(), conversation.Transcript(conv, enrichMessages), "conversation:"+conv.ID)
		return err
	})
}

func (o *Orchestrator) logActivity(ctx context.Context, userID, event, status string, payload map[string]any) {
	if err := o.Repos.LogActivity(context.WithoutCancel(ctx), userID, event, status, payload); err != nil {
		logger.FromContext(ctx).Warn("Failed to write activity log", "event", event, "error", err)
	}
}
