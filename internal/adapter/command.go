package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/orchestrator"

	"github.com/google/shlex"
)

// Command is a parsed slash command such as `/reject 01J.. "too pushy"`.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a slash command with shell quoting rules. Telegram's
// "/cmd@BotName" form is accepted. It returns false for plain chat text.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}
	parts, err := shlex.Split(text)
	if err != nil {
		parts = strings.Fields(text)
	}
	if len(parts) == 0 {
		return Command{}, false
	}
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return Command{}, false
	}
	return Command{Name: name, Args: parts[1:]}, true
}

// Brain is the part of the orchestrator chat adapters talk to.
type Brain interface {
	ProcessMessage(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
	HandleApproval(ctx context.Context, userID, approvalID string, approved bool, reason string) (*orchestrator.Response, error)
}

type Modes interface {
	Mode(ctx context.Context, userID string) (domain.WorkMode, error)
	SetMode(ctx context.Context, userID, value string) (*domain.BrainSettings, error)
	ListPending(ctx context.Context, userID string) ([]*domain.PendingApproval, error)
}

type Goals interface {
	ActiveGoalsContext(ctx context.Context, userID string) (string, error)
}

type Conversations interface {
	CreateNew(ctx context.Context, userID, channel string) (*domain.Conversation, error)
}

type ChatLinker interface {
	LinkChat(ctx context.Context, userID, channel, chatID string) error
}

// Dispatcher turns an inbound chat line into a reply, either by running a
// slash command or by handing the text to the orchestrator.
type Dispatcher struct {
	brain Brain
	modes Modes
	goals Goals
	convs Conversations
	links ChatLinker
}

func NewDispatcher(brain Brain, modes Modes, goals Goals, convs Conversations, links ChatLinker) *Dispatcher {
	return &Dispatcher{brain: brain, modes: modes, goals: goals, convs: convs, links: links}
}

// Inbound is one chat message after the platform details were stripped.
type Inbound struct {
	UserID  string
	Channel string
	ChatID  string
	Text    string
}

const helpText = `Commands:
/approve <id> - run a plan or accept a goal waiting for you
/reject <id> [reason] - discard it
/approvals - list what is waiting for approval
/mode [autonomous|semi_auto|manual] - show or change the work mode
/goals - show active goals
/new - start a fresh conversation
/help - this text`

// Handle returns the reply for msg. Errors that the user caused come back as
// reply text; only infrastructure failures are returned as errors.
func (d *Dispatcher) Handle(ctx context.Context, msg Inbound) (string, error) {
	ctx = logger.WithUserID(ctx, msg.UserID)
	if d.links != nil && msg.ChatID != "" {
		if err := d.links.LinkChat(ctx, msg.UserID, msg.Channel, msg.ChatID); err != nil {
			logger.FromContext(ctx).Warn("Failed to link chat", "channel", msg.Channel, "error", err)
		}
	}

	cmd, ok := ParseCommand(msg.Text)
	if !ok {
		resp, err := d.brain.ProcessMessage(ctx, orchestrator.Request{
			Text:    msg.Text,
			UserID:  msg.UserID,
			Channel: msg.Channel,
		})
		if err != nil {
			return "", err
		}
		return resp.Message, nil
	}

	logger.FromContext(ctx).Info("Executing slash command", "cmd", cmd.Name, "channel", msg.Channel)
	reply, err := d.run(ctx, msg, cmd)
	if err != nil {
		if userFacing(err) {
			return fmt.Sprintf("⚠️ %v", err), nil
		}
		logger.FromContext(ctx).Error("Command execution failed", "cmd", cmd.Name, "error", err)
		return "", err
	}
	return reply, nil
}

func (d *Dispatcher) run(ctx context.Context, msg Inbound, cmd Command) (string, error) {
	switch cmd.Name {
	case "approve", "reject":
		if len(cmd.Args) < 1 {
			return fmt.Sprintf("Usage: /%s <id>", cmd.Name), nil
		}
		approved := cmd.Name == "approve"
		reason := strings.Join(cmd.Args[1:], " ")
		resp, err := d.brain.HandleApproval(ctx, msg.UserID, cmd.Args[0], approved, reason)
		if err != nil {
			return "", err
		}
		return resp.Message, nil
	case "approvals":
		return d.listApprovals(ctx, msg.UserID)
	case "mode":
		if len(cmd.Args) == 0 {
			m, err := d.modes.Mode(ctx, msg.UserID)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Current mode: %s\n%s", m.Label(), m.Description()), nil
		}
		settings, err := d.modes.SetMode(ctx, msg.UserID, cmd.Args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Mode set to %s.\n%s", settings.WorkMode.Label(), settings.WorkMode.Description()), nil
	case "goals":
		text, err := d.goals.ActiveGoalsContext(ctx, msg.UserID)
		if err != nil {
			return "", err
		}
		if text == "" {
			return "No active goals. Tell me what you want to achieve and I will plan it.", nil
		}
		return text, nil
	case "new":
		conv, err := d.convs.CreateNew(ctx, msg.UserID, msg.Channel)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Started a new conversation (%s).", conv.ID), nil
	case "help", "start":
		return helpText, nil
	}
	return fmt.Sprintf("Unknown command: /%s\n\n%s", cmd.Name, helpText), nil
}

func (d *Dispatcher) listApprovals(ctx context.Context, userID string) (string, error) {
	pending, err := d.modes.ListPending(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return "Nothing is waiting for your approval.", nil
	}
	var b strings.Builder
	b.WriteString("⏳ Waiting for approval:\n")
	for _, a := range pending {
		summary, _, _ := strings.Cut(a.Summary, "\n")
		fmt.Fprintf(&b, "- %s [%s] %s\n", a.ID, a.Kind, summary)
	}
	return strings.TrimSpace(b.String()), nil
}

func userFacing(err error) bool {
	return errors.Is(err, brainErrors.ErrNotFound) ||
		errors.Is(err, brainErrors.ErrInvalidInput) ||
		errors.Is(err, brainErrors.ErrInvalidMode) ||
		errors.Is(err, brainErrors.ErrApprovalExpired) ||
		errors.Is(err, brainErrors.ErrApprovalNotPending)
}
