package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorMapper maps raw provider and storage errors onto the Brain sentinels.
type ErrorMapper interface {
	MapError(err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// Provider failure categories reported by Category.
const (
	CategoryRateLimit     = "rate_limit"
	CategoryUnavailable   = "unavailable"
	CategoryTimeout       = "timeout"
	CategoryNetwork       = "network"
	CategoryAuth          = "auth"
	CategoryContextLength = "context_length"
	CategoryModelOutput   = "model_output"
	CategoryBadRequest    = "bad_request"
	CategoryNotFound      = "not_found"
	CategoryConflict      = "conflict"
	CategoryCanceled      = "canceled"
	CategoryInternal      = "internal"
)

type mapRule struct {
	category string
	needles  []string
	sentinel error
	reason   string
}

// Order matters: "context length exceeded" must not land in timeout, and
// "429 ... not found" style messages are rate limits first.
var mapRules = []mapRule{
	{CategoryRateLimit, []string{"rate limit", "429", "too many requests", "resource_exhausted"}, ErrTransient, "rate limited"},
	{CategoryContextLength, []string{"context length", "context window", "maximum context", "too many tokens", "prompt is too long"}, ErrProvider, "prompt exceeds model context"},
	{CategoryUnavailable, []string{"503", "502", "temporarily", "overloaded", "unavailable"}, ErrTransient, "provider unavailable"},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}, ErrTransient, "request timeout"},
	{CategoryNetwork, []string{"connection", "network", "unreachable", "eof"}, ErrTransient, "network error"},
	{CategoryAuth, []string{"unauthorized", "invalid api key", "401", "403", "permission denied"}, ErrProvider, "provider rejected credentials"},
	{CategoryModelOutput, []string{"invalid model output", "malformed json", "invalid json"}, ErrInvalidModelOutput, "invalid model output"},
	{CategoryBadRequest, []string{"invalid input", "invalid request", "bad request", "status 400"}, ErrInvalidInput, "invalid request"},
	{CategoryNotFound, []string{"not found", "does not exist", "404"}, ErrNotFound, "resource not found"},
	{CategoryConflict, []string{"conflict", "already exists"}, ErrConflict, "conflict"},
}

// DefaultErrorMapper classifies errors by message content using mapRules.
type DefaultErrorMapper struct{}

func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// MapError wraps err's category sentinel. Errors that already carry a Brain
// sentinel are returned unchanged.
func (m *DefaultErrorMapper) MapError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || hasSentinel(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}
	if rule, ok := matchRule(err); ok {
		return fmt.Errorf("%s: %w", rule.reason, rule.sentinel)
	}
	return fmt.Errorf("internal error: %w", ErrInternal)
}

func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(m.MapError(err))
}

// Category names the failure for logs and metrics. Unmatched errors are
// "internal".
func (m *DefaultErrorMapper) Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return CategoryCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	}
	if rule, ok := matchRule(err); ok {
		return rule.category
	}
	switch {
	case errors.Is(err, ErrTransient):
		return CategoryUnavailable
	case errors.Is(err, ErrInvalidModelOutput):
		return CategoryModelOutput
	case errors.Is(err, ErrInvalidInput):
		return CategoryBadRequest
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrConflict):
		return CategoryConflict
	}
	return CategoryInternal
}

func matchRule(err error) (mapRule, bool) {
	msg := strings.ToLower(err.Error())
	for _, rule := range mapRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return rule, true
			}
		}
	}
	return mapRule{}, false
}

func hasSentinel(err error) bool {
	for _, s := range []error{ErrTransient, ErrProvider, ErrInvalidModelOutput, ErrInvalidInput, ErrNotFound, ErrConflict, ErrInternal} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory files err under category and keeps the cause only in the
// message.
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w (%v)", message, category, err)
}

func IsCategory(err error, category error) bool {
	return err != nil && errors.Is(err, category)
}

func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

func InvalidModelOutput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidModelOutput)
}

// Provider files a completion failure under ErrProvider with the cause kept
// in the chain. Cancellation is the caller's doing and is not filed as a
// provider failure.
func Provider(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", message, err)
	}
	return fmt.Errorf("%s: %w: %w", message, ErrProvider, err)
}

// IsRetryable reports transient and conflict errors. Cancellation never
// retries.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}
