// Package agent holds the capability-scoped marketing agents. Each agent turns
// an intent into an action plan and executes its steps against the platform.
package agent

import (
	"context"
	"time"

	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/plan"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/skill"
)

// Result types.
const (
	ResultExecution = "execution_result"
	ResultAdvice    = "advice"
)

// Account is the user an agent acts for together with their brain settings.
type Account struct {
	User     *domain.User
	Settings *domain.BrainSettings
}

func (a Account) ID() string {
	if a.User == nil {
		return ""
	}
	return a.User.ID
}

// PlanContext carries what the caller knows beyond the intent.
type PlanContext struct {
	Knowledge       string
	ConversationID  string
	Channel         string
	Trigger         string
	Category        string
	GoalID          string
	TaskTitle       string
	Retry           bool
	OriginalMessage string
}

type Result struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	PlanID  string `json:"plan_id,omitempty"`
}

// Agent is one member of the registry.
type Agent interface {
	Name() string
	Description() string
	Capabilities() []string
	ActionTypes() []string

	// Plan returns nil, nil when the model produced no usable steps.
	Plan(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (*domain.ActionPlan, error)
	Execute(ctx context.Context, p *domain.ActionPlan, acct Account) (Result, error)
	Advise(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (Result, error)
	NeedsMoreInfo(in domain.Intent, channel string) bool
	InfoQuestions(ctx context.Context, in domain.Intent, acct Account) (string, error)
}

// Deps are shared by every agent.
type Deps struct {
	Generator model.Generator
	Knowledge *knowledge.Service
	Platform  platform.Platform
	Engine    *plan.Engine
	Repos     *repository.Repositories
	Skill     *skill.Skill
	Now       func() time.Time
}
