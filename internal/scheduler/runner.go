package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/calendar"
	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/goal"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/orchestrator"
	"github.com/harunnryd/brain/internal/performance"
)

// Cycles runs the per-user scheduled cycle.
type Cycles interface {
	Account(ctx context.Context, userID string) (agent.Account, error)
	RunCycle(ctx context.Context, userID string) (*orchestrator.CycleReport, error)
}

// Notifier delivers a cycle report to wherever the user listens.
type Notifier interface {
	NotifyUser(ctx context.Context, settings *domain.BrainSettings, text string) error
}

type Reviewer interface {
	ReviewCompleted(ctx context.Context, acct agent.Account) (performance.ReviewResult, error)
}

type GoalAdvancer interface {
	AdvanceActiveGoals(ctx context.Context, acct agent.Account) ([]goal.Advance, error)
}

// WeekPlanner fills next week's campaign calendar.
type WeekPlanner interface {
	GenerateWeeklyPlan(ctx context.Context, acct agent.Account) (calendar.WeekPlan, error)
}

// DueUsers lists the settings of users with the cycle switched on.
type DueUsers interface {
	CronUsers(ctx context.Context) ([]*domain.BrainSettings, error)
}

// UserRun is what one RunDue pass did for a single user.
type UserRun struct {
	UserID    string
	Report    *orchestrator.CycleReport
	Reviewed  int
	Advanced  []goal.Advance
	Planned   int
	// Delivered is set when a digest reached the user.
	Delivered bool
	Err       error
}

// Summary reports a whole RunDue pass.
type Summary struct {
	StartedAt time.Time
	Checked   int
	Runs      []UserRun
}

// Failed counts users whose cycle returned an error.
func (s Summary) Failed() int {
	n := 0
	for _, r := range s.Runs {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// CycleRunner walks every user whose cycle interval elapsed and runs the
// cycle, the notification, the performance review and the goal advance for
// each of them in turn.
type CycleRunner struct {
	users    DueUsers
	cycles   Cycles
	notifier Notifier
	reviewer Reviewer
	goals    GoalAdvancer
	calendar WeekPlanner
}

// NewCycleRunner wires the runner. notifier, reviewer and goals may be nil.
func NewCycleRunner(users DueUsers, cycles Cycles, notifier Notifier, reviewer Reviewer, goals GoalAdvancer) *CycleRunner {
	return &CycleRunner{
		users:    users,
		cycles:   cycles,
		notifier: notifier,
		reviewer: reviewer,
		goals:    goals,
	}
}

// WithCalendar keeps each user's campaign calendar a week ahead.
func (r *CycleRunner) WithCalendar(planner WeekPlanner) *CycleRunner {
	r.calendar = planner
	return r
}

// RunDue runs the cycle for every due user. Users are processed one after
// the other; a failing user is recorded and the pass moves on.
func (r *CycleRunner) RunDue(ctx context.Context, now time.Time) (Summary, error) {
	sum := Summary{StartedAt: now}
	users, err := r.users.CronUsers(ctx)
	if err != nil {
		return sum, fmt.Errorf("list cron users: %w", err)
	}
	sum.Checked = len(users)

	for _, settings := range users {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !settings.CronDue(now) {
			continue
		}
		run := r.RunUser(ctx, settings)
		if run.Err != nil {
			logger.FromContext(ctx).Error("Scheduled cycle failed", "user_id", settings.UserID, "error", run.Err)
		}
		sum.Runs = append(sum.Runs, run)
	}
	return sum, nil
}

// RunUser runs one user's cycle regardless of whether it is due.
func (r *CycleRunner) RunUser(ctx context.Context, settings *domain.BrainSettings) UserRun {
	run := UserRun{UserID: settings.UserID}
	ctx = logger.WithUserID(ctx, settings.UserID)
	log := logger.FromContext(ctx)

	rep, err := r.cycles.RunCycle(ctx, settings.UserID)
	if err != nil {
		run.Err = err
		return run
	}
	run.Report = rep

	if r.notifier != nil {
		if text := orchestrator.FormatCycle(rep); text != "" {
			if err := r.notifier.NotifyUser(ctx, settings, text); err != nil {
				log.Warn("Failed to deliver cycle report", "error", err)
			}
		}
	}

	// RunCycle moved last_cron_run_at and may have changed the mode, so
	// review and advance against fresh settings.
	acct, err := r.cycles.Account(ctx, settings.UserID)
	if err != nil {
		run.Err = err
		return run
	}

	if r.reviewer != nil {
		res, err := r.reviewer.ReviewCompleted(ctx, acct)
		if err != nil {
			log.Warn("Performance review failed", "error", err)
		}
		run.Reviewed = res.Reviewed
	}

	if r.goals != nil {
		adv, err := r.goals.AdvanceActiveGoals(ctx, acct)
		if err != nil {
			log.Warn("Goal advance failed", "error", err)
		}
		run.Advanced = adv
		if r.notifier != nil {
			if text := formatAdvances(adv); text != "" {
				if err := r.notifier.NotifyUser(ctx, acct.Settings, text); err != nil {
					log.Warn("Failed to deliver goal progress", "error", err)
				}
			}
		}
	}

	if r.calendar != nil {
		plan, err := r.calendar.GenerateWeeklyPlan(ctx, acct)
		if err != nil {
			log.Warn("Campaign calendar planning failed", "error", err)
		}
		run.Planned = plan.Entries
	}

	log.Info("Scheduled cycle finished", "tasks", len(rep.Tasks), "reviewed", run.Reviewed, "goals_advanced", len(run.Advanced), "planned", run.Planned)
	return run
}

func formatAdvances(adv []goal.Advance) string {
	var b strings.Builder
	for _, a := range adv {
		if a.Message == "" {
			continue
		}
		fmt.Fprintf(&b, "🎯 %s\n%s\n\n", a.GoalTitle, a.Message)
	}
	return strings.TrimSpace(b.String())
}
