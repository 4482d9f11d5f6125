package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/goal"
	"github.com/harunnryd/brain/internal/intent"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/mode"
	"github.com/harunnryd/brain/internal/model/contract"
	"github.com/harunnryd/brain/internal/situation"
)

func (o *Orchestrator) handleAgent(ctx context.Context, acct agent.Account, conv *domain.Conversation, channel string, in domain.Intent, kb string) (*Response, error) {
	log := logger.FromContext(ctx)
	ag, err := o.Registry.Get(in.Agent)
	if err != nil {
		log.Warn("Classifier picked an unknown agent", "agent", in.Agent)
		return o.handleConversation(ctx, acct, conv, kb)
	}
	if !acct.Settings.AgentAllowed(ag.Name()) {
		return &Response{
			Type:    TypeConversation,
			Agent:   ag.Name(),
			Intent:  in.Intent,
			Message: fmt.Sprintf("The %s agent is disabled in your brain settings. Enable it to let me handle this.", ag.Name()),
		}, nil
	}

	pctx := agent.PlanContext{
		Knowledge:      kb,
		ConversationID: conv.ID,
		Channel:        channel,
		Trigger:        domain.TriggerChat,
		Category:       string(in.TaskType),
	}

	if acct.Settings.WorkMode == domain.ModeManual {
		res, err := ag.Advise(ctx, in, acct, pctx)
		if err != nil {
			return nil, err
		}
		return &Response{Type: TypeAdvice, Message: res.Message, Agent: ag.Name(), Intent: in.Intent}, nil
	}

	if in.Param("has_user_details") == "" && ag.NeedsMoreInfo(in, channel) {
		if err := o.Conversations.SetPending(ctx, conv, ag.Name(), in); err != nil {
			return nil, err
		}
		questions, err := ag.InfoQuestions(ctx, in, acct)
		if err != nil {
			return nil, err
		}
		return &Response{Type: TypeInfoRequest, Message: questions, Agent: ag.Name(), Intent: in.Intent}, nil
	}

	p, err := o.plan(ctx, ag, in, acct, pctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		log.Warn("Agent produced no plan, answering conversationally", "agent", ag.Name())
		resp, err := o.handleConversation(ctx, acct, conv, kb)
		if err != nil {
			return nil, err
		}
		resp.Agent = ag.Name()
		resp.Intent = in.Intent
		return resp, nil
	}

	if err := o.linkActiveGoal(ctx, acct.ID(), p); err != nil {
		log.Warn("Failed to link plan to active goal", "plan_id", p.ID, "error", err)
	}

	if mode.PlanRequiresApproval(p, acct.Settings) {
		approval, err := o.Modes.RequestApproval(ctx, p, channel)
		if err != nil {
			return nil, err
		}
		return &Response{
			Type:       TypeApprovalRequired,
			Message:    approvalMessage(p, acct.Settings.WorkMode, approval.ID),
			Agent:      ag.Name(),
			Intent:     in.Intent,
			PlanID:     p.ID,
			ApprovalID: approval.ID,
			GoalID:     p.GoalID,
		}, nil
	}

	msg, err := o.executePlan(ctx, ag, p, acct)
	if err != nil {
		return nil, err
	}
	return &Response{
		Type:    TypePlanExecuted,
		Message: msg,
		Agent:   ag.Name(),
		Intent:  in.Intent,
		PlanID:  p.ID,
		GoalID:  p.GoalID,
	}, nil
}

// plan asks the agent for a plan and retries once with the original message
// spelled out when the first attempt yields nothing usable.
func (o *Orchestrator) plan(ctx context.Context, ag agent.Agent, in domain.Intent, acct agent.Account, pctx agent.PlanContext) (*domain.ActionPlan, error) {
	log := logger.FromContext(ctx)
	p, err := ag.Plan(ctx, in, acct, pctx)
	if err == nil && p != nil {
		return p, nil
	}
	if err != nil {
		// malformed output and invalid step configs get one more try
		if !brainErrors.IsRetryable(err) && brainErrors.KindOf(err) != brainErrors.KindValidation {
			return nil, err
		}
		log.Warn("Plan attempt failed, retrying", "agent", ag.Name(), "error", err)
	}

	original := in.Param("user_details")
	if original == "" {
		original = in.Intent
	}
	retryIn := in.WithParam("retry", true).WithParam("original_message", original)
	pctx.Retry = true
	pctx.OriginalMessage = original
	p, err = ag.Plan(ctx, retryIn, acct, pctx)
	if err != nil {
		log.Warn("Plan retry failed", "agent", ag.Name(), "error", err)
		return nil, nil
	}
	return p, nil
}

func (o *Orchestrator) linkActiveGoal(ctx context.Context, userID string, p *domain.ActionPlan) error {
	if p.GoalID != "" {
		return nil
	}
	g, err := o.Goals.ActiveGoal(ctx, userID)
	if err != nil || g == nil {
		return err
	}
	return o.Goals.LinkPlan(ctx, g, nil, p)
}

// executePlan runs the plan and folds its outcome into the linked goal.
func (o *Orchestrator) executePlan(ctx context.Context, ag agent.Agent, p *domain.ActionPlan, acct agent.Account) (string, error) {
	o.logActivity(ctx, acct.ID(), EventAgentDispatch, "started", map[string]any{
		"agent":   ag.Name(),
		"plan_id": p.ID,
	})
	res, err := ag.Execute(ctx, p, acct)
	if err != nil {
		o.logActivity(ctx, acct.ID(), EventAgentComplete, "failed", map[string]any{
			"agent":   ag.Name(),
			"plan_id": p.ID,
			"error":   err.Error(),
		})
		return "", err
	}
	o.logActivity(ctx, acct.ID(), EventAgentComplete, string(p.Status), map[string]any{
		"agent":   ag.Name(),
		"plan_id": p.ID,
	})

	msg := res.Message
	decision, err := o.Goals.OnPlanFinished(ctx, p)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to update goal progress", "plan_id", p.ID, "error", err)
	} else if decision.Message != "" {
		msg = strings.TrimSpace(msg + "\n\n" + decision.Message)
	}
	return msg, nil
}

func approvalMessage(p *domain.ActionPlan, m domain.WorkMode, approvalID string) string {
	return fmt.Sprintf("%s\n\n⏳ Awaiting your approval (%s mode).\nReply \"approve %s\" to run it or \"reject %s\" to discard it.",
		mode.PlanSummary(p), m.Label(), approvalID, approvalID)
}

func (o *Orchestrator) handleGoal(ctx context.Context, acct agent.Account, conv *domain.Conversation, channel string, def goal.Definition) (*Response, error) {
	g, err := o.Goals.CreateGoal(ctx, acct, def)
	if err != nil {
		return nil, err
	}
	o.logActivity(ctx, acct.ID(), EventGoalCreated, "completed", map[string]any{
		"goal_id": g.ID,
		"title":   g.Title,
		"entries": len(g.Decomposition),
	})

	if len(g.Decomposition) == 0 {
		in := domain.Intent{
			RequiresAgent: true,
			Agent:         "campaign",
			Intent:        g.Title,
			TaskType:      domain.TaskCampaign,
			Confidence:    def.Confidence,
			Parameters:    map[string]any{"goal": g.Title, "details": g.Description},
		}
		kb, err := o.Knowledge.GetContext(ctx, acct.ID(), "campaign")
		if err != nil {
			return nil, err
		}
		resp, err := o.handleAgent(ctx, acct, conv, channel, in, kb)
		if err != nil {
			return nil, err
		}
		resp.GoalID = g.ID
		return resp, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎯 **Goal created: %s**\n", g.Title)
	if g.Description != "" {
		b.WriteString(g.Description + "\n")
	}
	fmt.Fprintf(&b, "\n📋 **Plan overview** (%s priority)\n", g.Priority)
	for _, e := range g.Decomposition {
		fmt.Fprintf(&b, "  %d. %s %s\n", e.Order, agent.Emoji(e.Agent), e.Title)
		if e.Description != "" {
			fmt.Fprintf(&b, "     ↳ %s\n", e.Description)
		}
	}

	resp := &Response{Type: TypeGoalCreated, GoalID: g.ID, Intent: g.Title}
	if acct.Settings.WorkMode == domain.ModeAutonomous {
		adv, err := o.Advancer.AdvanceGoal(ctx, acct, g)
		switch {
		case err != nil:
			logger.FromContext(ctx).Warn("Starting goal failed", "goal_id", g.ID, "error", err)
			b.WriteString("\n⚠️ I could not start the first step yet. I will retry on the next cycle.")
		case adv != nil:
			resp.PlanID = adv.PlanID
			resp.ApprovalID = adv.ApprovalID
			if adv.Message != "" {
				b.WriteString("\n" + adv.Message)
			}
		}
	} else {
		b.WriteString("\nI will plan each step and ask for your approval before anything runs.")
	}
	resp.Message = strings.TrimSpace(b.String())
	return resp, nil
}

func (o *Orchestrator) handleConversation(ctx context.Context, acct agent.Account, conv *domain.Conversation, kb string) (*Response, error) {
	payload := o.Conversations.BuildPayload(conv, acct.User, acct.Settings, kb)
	resp, err := o.Completer.Complete(ctx, acct.Settings, domain.TaskConversation, contract.CompletionRequest{
		System:      payload.System,
		Messages:    payload.Messages,
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
	}, acct.User.Location())
	if err != nil {
		return nil, err
	}
	return &Response{
		Type:    TypeConversation,
		Message: resp.Content,
		Model:   resp.Model,
		Usage:   resp.Usage,
	}, nil
}

// handleSituation answers "what should I do" questions with a fresh
// analysis. Autonomous users also get the urgent items executed.
func (o *Orchestrator) handleSituation(ctx context.Context, acct agent.Account) (*Response, error) {
	report, err := o.Situation.Analyze(ctx, acct)
	if err != nil {
		return nil, err
	}
	msg := situation.Format(report)
	if acct.Settings.WorkMode == domain.ModeAutonomous {
		executed := 0
		for _, task := range report.Tasks() {
			if task.Priority.Rank() < domain.PriorityHigh.Rank() {
				continue
			}
			if _, err := o.ExecuteCronTask(ctx, acct, task); err != nil {
				logger.FromContext(ctx).Warn("Situation task failed", "task", task.Title, "error", err)
				continue
			}
			executed++
		}
		if executed > 0 {
			msg += fmt.Sprintf("\n\n🚀 Executed %d high-priority action(s) automatically.", executed)
		}
	}
	return &Response{
		Type:    TypeSituationAnalysis,
		Message: msg,
		Agent:   "brain",
		Intent:  string(domain.TaskSituation),
	}, nil
}

// HandleApproval resolves a pending approval for userID.
func (o *Orchestrator) HandleApproval(ctx context.Context, userID, approvalID string, approved bool, reason string) (*Response, error) {
	ctx = logger.WithUserID(ctx, userID)
	out, err := o.Modes.ProcessApproval(ctx, approvalID, userID, approved, reason)
	if err != nil {
		return nil, err
	}

	resp := &Response{ApprovalID: approvalID}
	switch {
	case out.Goal != nil:
		resp.Type = TypeGoalCreated
		resp.GoalID = out.Goal.ID
		if approved {
			resp.Message = fmt.Sprintf("🎯 Goal %q is now active. I will work on it in the next cycles.", out.Goal.Title)
		} else {
			resp.Message = fmt.Sprintf("Goal %q dismissed.", out.Goal.Title)
		}
	case out.Plan != nil && out.Executed:
		resp.Type = TypePlanExecuted
		resp.PlanID = out.Plan.ID
		resp.GoalID = out.Plan.GoalID
		resp.Agent = out.Plan.AgentType
		resp.Message = out.Result.Message
		decision, err := o.Goals.OnPlanFinished(ctx, out.Plan)
		if err != nil {
			logger.FromContext(ctx).Warn("Failed to update goal progress", "plan_id", out.Plan.ID, "error", err)
		} else if decision.Message != "" {
			resp.Message = strings.TrimSpace(resp.Message + "\n\n" + decision.Message)
		}
	case out.Plan != nil:
		resp.Type = TypeConversation
		resp.PlanID = out.Plan.ID
		resp.Agent = out.Plan.AgentType
		resp.Message = fmt.Sprintf("❌ Plan %q rejected. Nothing was executed.", out.Plan.Title)
	default:
		resp.Type = TypeConversation
		resp.Message = "Approval resolved."
	}
	settings, err := o.Repos.SettingsFor(ctx, userID)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to load settings for model name", "error", err)
	}
	resp.Model = o.Completer.ResolveModel(settings, intent.TaskFor(resp.Agent))
	return resp, nil
}
