package errors

import (
	"errors"
	"fmt"
)

// Kind groups errors by how callers are expected to react.
type Kind string

const (
	// KindProvider covers completion failures; callers degrade to a fallback.
	KindProvider Kind = "provider"
	// KindValidation covers malformed model output or missing config; surfaced to the user.
	KindValidation Kind = "validation"
	// KindState covers workflow misuse (expired approval, unknown agent, bad mode).
	KindState Kind = "state"
	// KindStep covers a failed plan step.
	KindStep Kind = "step"
	// KindInternal is everything else.
	KindInternal Kind = "internal"
)

// StepError records the failure of a single plan step.
type StepError struct {
	StepOrder  int
	ActionType string
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.StepOrder, e.ActionType, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var stepErr *StepError
	switch {
	case errors.As(err, &stepErr):
		return KindStep
	case errors.Is(err, ErrApprovalExpired),
		errors.Is(err, ErrApprovalNotPending),
		errors.Is(err, ErrUnknownAgent),
		errors.Is(err, ErrInvalidMode),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrTokenLimit):
		return KindState
	case errors.Is(err, ErrProvider), errors.Is(err, ErrTransient):
		return KindProvider
	case errors.Is(err, ErrInvalidModelOutput),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrUnknownAction):
		return KindValidation
	default:
		return KindInternal
	}
}
