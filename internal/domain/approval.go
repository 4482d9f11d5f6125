package domain

import (
	"fmt"
	"time"

	brainErrors "github.com/harunnryd/brain/internal/errors"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

type ApprovalKind string

const (
	ApprovalKindPlan ApprovalKind = "plan"
	ApprovalKindGoal ApprovalKind = "goal"
)

// PendingApproval is a time-boxed human decision on a plan or proposed goal.
type PendingApproval struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Kind       ApprovalKind   `json:"kind"`
	PlanID     string         `json:"plan_id,omitempty"`
	GoalID     string         `json:"goal_id,omitempty"`
	Channel    string         `json:"channel"`
	Status     ApprovalStatus `json:"status"`
	Summary    string         `json:"summary"`
	Reason     string         `json:"reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Expired reports whether the approval window has elapsed at now.
func (a *PendingApproval) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// Expire marks a pending approval as expired when its window has elapsed. It
// returns true when the status changed.
func (a *PendingApproval) Expire(now time.Time) bool {
	if a.Status != ApprovalPending || !a.Expired(now) {
		return false
	}
	a.Status = ApprovalExpired
	a.ResolvedAt = &now
	return true
}

// Resolve approves or rejects the approval. Expiry is checked before the
// status, so a resolved approval past its window reports expired. The only
// mutation on failure is the lazy pending -> expired transition.
func (a *PendingApproval) Resolve(approved bool, reason string, now time.Time) error {
	if a.Status == ApprovalExpired {
		return fmt.Errorf("approval %s: %w", a.ID, brainErrors.ErrApprovalExpired)
	}
	if a.Expired(now) {
		a.Expire(now)
		return fmt.Errorf("approval %s expired at %s: %w", a.ID, a.ExpiresAt.Format(time.RFC3339), brainErrors.ErrApprovalExpired)
	}
	if a.Status != ApprovalPending {
		return fmt.Errorf("approval %s is already %s: %w", a.ID, a.Status, brainErrors.ErrApprovalNotPending)
	}

	if approved {
		a.Status = ApprovalApproved
	} else {
		a.Status = ApprovalRejected
	}
	a.Reason = reason
	a.ResolvedAt = &now
	return nil
}
