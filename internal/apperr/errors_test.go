package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", NotFound("catalog", "c1"), "not_found"},
		{"wrapped hash mismatch", fmt.Errorf("publish: %w", ErrHashMismatch), "hash_mismatch"},
		{"rate limit", &RateLimitError{RetryAfter: time.Minute}, "rate_limited"},
		{"validation", Validation("kits/a.md", "type", "missing"), "validation"},
		{"plain", errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := Validation(".bluekit/kits/a.md", "type", "front-matter field is required")
	want := ".bluekit/kits/a.md: type: front-matter field is required"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("expected errors.Is(err, ErrValidation)")
	}
}

func TestRetryAfter(t *testing.T) {
	err := fmt.Errorf("get file: %w", &RateLimitError{RetryAfter: 42 * time.Second})

	d, ok := RetryAfter(err)
	if !ok {
		t.Fatal("RetryAfter() ok = false")
	}
	if d != 42*time.Second {
		t.Errorf("RetryAfter() = %v, want 42s", d)
	}
	if !IsRetryable(err) {
		t.Error("rate limit errors should be retryable")
	}
	if IsUserActionRequired(err) {
		t.Error("rate limit errors should not require user action")
	}
}

func TestIsUserActionRequired(t *testing.T) {
	if !IsUserActionRequired(fmt.Errorf("x: %w", ErrConflict)) {
		t.Error("conflict should require user action")
	}
	if IsUserActionRequired(nil) {
		t.Error("nil should not require user action")
	}
}
