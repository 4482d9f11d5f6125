package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrApprovalRequired - plan is gated by the work mode and waits for a human decision
	ErrApprovalRequired = errors.New("approval required")

	// ErrApprovalExpired - approval window elapsed, no further transitions allowed
	ErrApprovalExpired = errors.New("approval expired")

	// ErrApprovalNotPending - approval already approved, rejected or expired
	ErrApprovalNotPending = errors.New("approval not pending")

	// ErrInvalidInput - invalid input (show validation error in interactive, fail job in background)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrConflict - concurrent modification
	ErrConflict = errors.New("conflict")

	// ErrTransient - transient error (retry with backoff)
	ErrTransient = errors.New("transient error")

	// ErrInvalidModelOutput - model returned malformed structured output
	ErrInvalidModelOutput = errors.New("invalid model output")

	// ErrProvider - completion provider failed or is unavailable
	ErrProvider = errors.New("provider error")

	// ErrUnknownAgent - agent name is not part of the registry
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrUnknownAction - step action type is not supported by the agent
	ErrUnknownAction = errors.New("unknown action type")

	// ErrInvalidMode - work mode value is not autonomous, semi_auto or manual
	ErrInvalidMode = errors.New("invalid work mode")

	// ErrInvalidTransition - plan or step status change violates the state machine
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotStreamable - message routes to an agent and must use the synchronous path
	ErrNotStreamable = errors.New("not streamable")

	// ErrTokenLimit - daily token budget exhausted
	ErrTokenLimit = errors.New("daily token limit reached")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
