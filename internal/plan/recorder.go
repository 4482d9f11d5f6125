package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/repository"
)

// Recorder persists every transition and writes an execution log when the
// plan finishes.
type Recorder struct {
	repos *repository.Repositories
}

func NewRecorder(repos *repository.Repositories) *Recorder {
	return &Recorder{repos: repos}
}

func (r *Recorder) StepStarted(ctx context.Context, p *domain.ActionPlan, _ *domain.ActionPlanStep) error {
	return r.save(ctx, p)
}

func (r *Recorder) StepFinished(ctx context.Context, p *domain.ActionPlan, _ *domain.ActionPlanStep) error {
	return r.save(ctx, p)
}

func (r *Recorder) PlanFinished(ctx context.Context, p *domain.ActionPlan) error {
	if err := r.save(ctx, p); err != nil {
		return err
	}
	log := &domain.ExecutionLog{
		UserID:   p.UserID,
		PlanID:   p.ID,
		Agent:    p.AgentType,
		Intent:   p.Intent,
		Trigger:  p.Trigger,
		Category: p.Category,
		Title:    executionTitle(p),
		Status:   ExecutionStatus(p),
		Steps:    p.TotalSteps,
	}
	if p.CompletedAt != nil {
		log.CreatedAt = *p.CompletedAt
	}
	if err := r.repos.Executions.Create(ctx, log); err != nil {
		return fmt.Errorf("write execution log: %w", err)
	}
	return nil
}

func (r *Recorder) save(ctx context.Context, p *domain.ActionPlan) error {
	if p.ID == "" {
		return r.repos.Plans.Create(ctx, p)
	}
	return r.repos.Plans.Update(ctx, p)
}

// executionTitle prefers the scheduled task title, which the scorer compares
// against new suggestions, over the model-written plan title.
func executionTitle(p *domain.ActionPlan) string {
	if t := strings.TrimSpace(p.TaskTitle); t != "" {
		return t
	}
	return p.Title
}

// ExecutionStatus summarizes a finished plan for the execution log.
func ExecutionStatus(p *domain.ActionPlan) domain.ExecutionStatus {
	switch {
	case p.FailedSteps == 0 && p.CompletedSteps > 0:
		return domain.ExecutionSuccess
	case p.CompletedSteps > 0:
		return domain.ExecutionPartial
	default:
		return domain.ExecutionFailed
	}
}
