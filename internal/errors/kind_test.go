package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"expired approval", fmt.Errorf("approve: %w", ErrApprovalExpired), KindState},
		{"unknown agent", ErrUnknownAgent, KindState},
		{"invalid mode", ErrInvalidMode, KindState},
		{"provider", Provider(errors.New("boom"), "generate"), KindProvider},
		{"model output", InvalidModelOutput("no json"), KindValidation},
		{"unknown action", ErrUnknownAction, KindValidation},
		{"step", &StepError{StepOrder: 2, ActionType: "create_list", Err: errors.New("x")}, KindStep},
		{"other", errors.New("unexpected"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProviderKeepsRetryability(t *testing.T) {
	mapper := NewDefaultErrorMapper()

	rateLimited := Provider(mapper.MapError(errors.New("429 Too Many Requests")), "generate")
	if !IsRetryable(rateLimited) {
		t.Fatalf("expected rate limit error to be retryable: %v", rateLimited)
	}
	if !errors.Is(rateLimited, ErrProvider) {
		t.Fatalf("expected provider category: %v", rateLimited)
	}

	authFailed := Provider(mapper.MapError(errors.New("401 unauthorized")), "generate")
	if IsRetryable(authFailed) {
		t.Fatalf("auth failure must not be retryable: %v", authFailed)
	}
	cause := errors.New("401 unauthorized")
	if wrapped := Provider(cause, "generate"); !errors.Is(wrapped, cause) {
		t.Fatalf("provider error lost its cause: %v", wrapped)
	}

	canceled := Provider(fmt.Errorf("stream: %w", context.Canceled), "generate")
	if !errors.Is(canceled, context.Canceled) {
		t.Fatalf("cancellation dropped from chain: %v", canceled)
	}
	if errors.Is(canceled, ErrProvider) {
		t.Fatalf("cancellation filed as provider failure: %v", canceled)
	}
}

func TestMapErrorClassifiesTransientMessages(t *testing.T) {
	mapper := NewDefaultErrorMapper()

	for _, msg := range []string{"request timeout", "service temporarily unavailable", "503 overloaded", "connection reset by peer", "rate limit exceeded"} {
		if !mapper.IsRetryable(errors.New(msg)) {
			t.Errorf("expected %q to be retryable", msg)
		}
	}

	if mapper.IsRetryable(context.Canceled) {
		t.Fatalf("context cancellation must not be retryable")
	}
	if got := mapper.Category(mapper.MapError(context.DeadlineExceeded)); got != CategoryTimeout {
		t.Fatalf("Category() = %q, want %q", got, CategoryTimeout)
	}
}

func TestMapErrorCategories(t *testing.T) {
	mapper := NewDefaultErrorMapper()

	cases := []struct {
		msg      string
		category string
		sentinel error
	}{
		{"This model's maximum context length is 8192 tokens", CategoryContextLength, ErrProvider},
		{"Error 429: RESOURCE_EXHAUSTED", CategoryRateLimit, ErrTransient},
		{"invalid api key provided", CategoryAuth, ErrProvider},
		{"model returned malformed JSON", CategoryModelOutput, ErrInvalidModelOutput},
		{"something odd happened", CategoryInternal, ErrInternal},
	}
	for _, tc := range cases {
		err := errors.New(tc.msg)
		if got := mapper.Category(err); got != tc.category {
			t.Errorf("Category(%q) = %q, want %q", tc.msg, got, tc.category)
		}
		if mapped := mapper.MapError(err); !errors.Is(mapped, tc.sentinel) {
			t.Errorf("MapError(%q) = %v, want %v", tc.msg, mapped, tc.sentinel)
		}
	}

	if mapper.IsRetryable(errors.New("maximum context length exceeded")) {
		t.Fatalf("context length errors must not be retried")
	}

	already := NotFound("plan p1")
	if got := mapper.MapError(already); got != already {
		t.Fatalf("MapError rewrapped a classified error: %v", got)
	}
}
