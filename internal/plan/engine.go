// Package plan runs action plans step by step and records their progress.
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/logger"
)

// FailurePolicy decides what happens to the remaining steps after a failure.
type FailurePolicy string

const (
	// PolicyContinue runs every step and completes the plan unless cancelled.
	PolicyContinue FailurePolicy = "continue"
	// PolicyAbort stops at the first failed step and fails the plan.
	PolicyAbort FailurePolicy = "abort"
)

func ParseFailurePolicy(value string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyContinue:
		return PolicyContinue, nil
	case PolicyAbort:
		return PolicyAbort, nil
	}
	return "", brainErrors.InvalidInput(fmt.Sprintf("unknown step failure policy %q", value))
}

// StepExecutor performs one step and returns its result payload.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) (map[string]any, error)
}

// StepFunc adapts a function to StepExecutor.
type StepFunc func(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) (map[string]any, error)

func (f StepFunc) ExecuteStep(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) (map[string]any, error) {
	return f(ctx, p, step)
}

// Observer is notified on every status change. Errors are logged and never
// interrupt execution.
type Observer interface {
	StepStarted(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) error
	StepFinished(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) error
	PlanFinished(ctx context.Context, p *domain.ActionPlan) error
}

type Options struct {
	Policy     FailurePolicy
	MaxRetries int
	Backoff    time.Duration
}

// OptionsFromConfig reads the step policy from the brain config.
func OptionsFromConfig(cfg config.BrainConfig) (Options, error) {
	policy, err := ParseFailurePolicy(cfg.StepFailurePolicy)
	if err != nil {
		return Options{}, err
	}
	backoff, err := config.DurationOrDefault(cfg.StepRetryBackoff, config.DefaultBrainStepRetryBackoff)
	if err != nil {
		return Options{}, fmt.Errorf("step retry backoff: %w", err)
	}
	retries := cfg.StepMaxRetries
	if retries < 0 {
		retries = 0
	}
	return Options{Policy: policy, MaxRetries: retries, Backoff: backoff}, nil
}

type Engine struct {
	opts      Options
	observers []Observer
	now       func() time.Time
}

func NewEngine(opts Options, observers ...Observer) *Engine {
	if opts.Policy == "" {
		opts.Policy = PolicyContinue
	}
	return &Engine{opts: opts, observers: observers, now: time.Now}
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Policy() FailurePolicy {
	return e.opts.Policy
}

// Execute runs a draft or approved plan to a terminal status. A plan can be
// executed at most once; any other starting status is ErrInvalidTransition.
// Step failures are recorded on the plan and are not returned.
func (e *Engine) Execute(ctx context.Context, p *domain.ActionPlan, exec StepExecutor) error {
	if p.Status != domain.PlanDraft && p.Status != domain.PlanPendingApproval {
		return fmt.Errorf("execute plan %s in status %s: %w", p.ID, p.Status, brainErrors.ErrInvalidTransition)
	}
	if err := p.Transition(domain.PlanExecuting, e.now()); err != nil {
		return err
	}

	log := logger.FromContext(ctx).With("plan_id", p.ID, "agent", p.AgentType)
	log.Info("Executing plan", "steps", len(p.Steps), "policy", e.opts.Policy)

	sort.SliceStable(p.Steps, func(i, j int) bool { return p.Steps[i].Order < p.Steps[j].Order })

	var ctxErr error
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.Status != domain.StepPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}

		e.runStep(ctx, log, p, step, exec)

		if step.Status == domain.StepFailed && e.opts.Policy == PolicyAbort {
			log.Warn("Aborting plan after failed step", "step", step.Order)
			break
		}
	}

	p.RecountSteps()
	// Under continue a plan whose steps all ran is completed even when every
	// step failed; the execution log carries the failed or partial outcome.
	final := domain.PlanCompleted
	switch {
	case ctxErr != nil:
		final = domain.PlanFailed
	case e.opts.Policy == PolicyAbort && p.FailedSteps > 0:
		final = domain.PlanFailed
	}
	if err := p.Transition(final, e.now()); err != nil {
		return err
	}

	log.Info("Plan finished", "status", p.Status, "completed", p.CompletedSteps, "failed", p.FailedSteps)
	// Cancellation must not prevent the terminal status from being recorded.
	octx := context.WithoutCancel(ctx)
	for _, o := range e.observers {
		if err := o.PlanFinished(octx, p); err != nil {
			log.Warn("Plan observer failed", "error", err)
		}
	}
	return ctxErr
}

func (e *Engine) runStep(ctx context.Context, log *slog.Logger, p *domain.ActionPlan, step *domain.ActionPlanStep, exec StepExecutor) {
	_ = step.Transition(domain.StepExecuting, e.now())
	e.notify(log, func(o Observer) error { return o.StepStarted(ctx, p, step) })

	var (
		result map[string]any
		err    error
	)
	for attempt := 0; ; attempt++ {
		step.Attempts = attempt + 1
		result, err = e.call(ctx, p, step, exec)
		if err == nil || !brainErrors.IsRetryable(err) || attempt >= e.opts.MaxRetries {
			break
		}
		log.Warn("Retrying step", "step", step.Order, "attempt", attempt+1, "error", err)
		if !sleep(ctx, e.opts.Backoff*time.Duration(attempt+1)) {
			err = ctx.Err()
			break
		}
	}

	if err != nil {
		step.Error = err.Error()
		_ = step.Transition(domain.StepFailed, e.now())
		log.Warn("Step failed", "step", step.Order, "action", step.ActionType, "error", err)
	} else {
		step.Result = result
		_ = step.Transition(domain.StepCompleted, e.now())
		log.Debug("Step completed", "step", step.Order, "action", step.ActionType)
	}
	p.RecountSteps()
	octx := context.WithoutCancel(ctx)
	e.notify(log, func(o Observer) error { return o.StepFinished(octx, p, step) })
}

func (e *Engine) call(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep, exec StepExecutor) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &brainErrors.StepError{
				StepOrder:  step.Order,
				ActionType: step.ActionType,
				Err:        fmt.Errorf("panic: %v: %w", r, brainErrors.ErrInternal),
			}
		}
	}()
	return exec.ExecuteStep(ctx, p, step)
}

func (e *Engine) notify(log *slog.Logger, fn func(Observer) error) {
	for _, o := range e.observers {
		if err := fn(o); err != nil {
			log.Warn("Step observer failed", "error", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
