package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/brain/internal/adapter"
	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/scheduler"
)

// Accounts loads a user with their settings.
type Accounts interface {
	Account(ctx context.Context, userID string) (agent.Account, error)
}

// Runner sends digests on the scheduler's ticks to every user with the
// scheduled cycle on whose last digest is old enough.
type Runner struct {
	service  *Service
	users    scheduler.DueUsers
	accounts Accounts
	target   adapter.Target
	period   string
}

func NewRunner(service *Service, users scheduler.DueUsers, accounts Accounts, target adapter.Target, period string) *Runner {
	if period != PeriodMonth {
		period = PeriodWeek
	}
	return &Runner{service: service, users: users, accounts: accounts, target: target, period: period}
}

func (r *Runner) RunDue(ctx context.Context, now time.Time) (scheduler.Summary, error) {
	sum := scheduler.Summary{StartedAt: now}
	users, err := r.users.CronUsers(ctx)
	if err != nil {
		return sum, fmt.Errorf("list digest users: %w", err)
	}
	sum.Checked = len(users)

	for _, settings := range users {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if r.target != nil && r.target.ChatFor(settings) == "" {
			continue
		}
		due, err := r.service.ShouldSend(ctx, settings.UserID, r.period)
		if err != nil {
			sum.Runs = append(sum.Runs, scheduler.UserRun{UserID: settings.UserID, Err: err})
			continue
		}
		if !due {
			continue
		}
		run := r.RunUser(ctx, settings.UserID)
		if run.Err != nil {
			logger.FromContext(ctx).Error("Digest failed", "user_id", settings.UserID, "error", run.Err)
		}
		sum.Runs = append(sum.Runs, run)
	}
	return sum, nil
}

// RunUser generates and delivers one user's digest regardless of when the
// last one went out.
func (r *Runner) RunUser(ctx context.Context, userID string) scheduler.UserRun {
	run := scheduler.UserRun{UserID: userID}
	ctx = logger.WithUserID(ctx, userID)

	acct, err := r.accounts.Account(ctx, userID)
	if err != nil {
		run.Err = err
		return run
	}
	d, err := r.service.Generate(ctx, acct, r.period)
	if err != nil {
		run.Err = err
		return run
	}
	run.Delivered, run.Err = Send(ctx, r.target, acct.Settings, d)
	logger.FromContext(ctx).Info("Digest finished", "period", d.Period, "report", d.ReportSource, "delivered", run.Delivered)
	return run
}
