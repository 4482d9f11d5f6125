package domain

import (
	"errors"
	"testing"
	"time"

	brainErrors "github.com/harunnryd/brain/internal/errors"
)

func newApproval(created time.Time) *PendingApproval {
	return &PendingApproval{
		ID:        "ap1",
		Status:    ApprovalPending,
		CreatedAt: created,
		ExpiresAt: created.Add(24 * time.Hour),
	}
}

func TestApprovalResolveBeforeExpiry(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a := newApproval(created)

	if err := a.Resolve(true, "", created.Add(23*time.Hour)); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if a.Status != ApprovalApproved {
		t.Fatalf("status = %s, want approved", a.Status)
	}

	if err := a.Resolve(false, "changed my mind", created.Add(time.Hour)); !errors.Is(err, brainErrors.ErrApprovalNotPending) {
		t.Fatalf("expected ErrApprovalNotPending, got %v", err)
	}
	if a.Status != ApprovalApproved {
		t.Fatalf("approved record must not change, got %s", a.Status)
	}
}

func TestApprovalExpiryRejectsEveryMutation(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a := newApproval(created)
	at := created.Add(24 * time.Hour)

	if err := a.Resolve(true, "", at); !errors.Is(err, brainErrors.ErrApprovalExpired) {
		t.Fatalf("expected ErrApprovalExpired at expiry, got %v", err)
	}
	if a.Status != ApprovalExpired {
		t.Fatalf("status = %s, want expired", a.Status)
	}

	for _, approved := range []bool{true, false} {
		if err := a.Resolve(approved, "", created); !errors.Is(err, brainErrors.ErrApprovalExpired) {
			t.Fatalf("expected ErrApprovalExpired after expiry, got %v", err)
		}
	}
}

func TestApprovalReject(t *testing.T) {
	created := time.Now()
	a := newApproval(created)
	if err := a.Resolve(false, "not now", created.Add(time.Minute)); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if a.Status != ApprovalRejected || a.Reason != "not now" || a.ResolvedAt == nil {
		t.Fatalf("unexpected approval after reject: %+v", a)
	}
}

func TestApprovalResolvedThenExpiredReportsExpired(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a := newApproval(created)
	if err := a.Resolve(true, "", created.Add(time.Hour)); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	err := a.Resolve(false, "too late", created.Add(25*time.Hour))
	if !errors.Is(err, brainErrors.ErrApprovalExpired) {
		t.Fatalf("expected ErrApprovalExpired, got %v", err)
	}
	if a.Status != ApprovalApproved || a.Reason != "" {
		t.Fatalf("resolved approval must not change, got %+v", a)
	}
}
