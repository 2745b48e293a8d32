// Package apperr defines the error taxonomy shared by the BlueKit backend.
//
// Components wrap one of the sentinels below so callers can classify a
// failure with errors.Is regardless of which layer produced it:
//
//	if errors.Is(err, apperr.ErrHashMismatch) {
//	    // the caller must rescan before publishing
//	}
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a path, resource, catalog, variation,
	// workspace or project does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIO is returned for filesystem failures other than a missing path.
	ErrIO = errors.New("io error")

	// ErrParse is returned when front-matter, a blueprint or a remote
	// listing cannot be decoded.
	ErrParse = errors.New("parse error")

	// ErrHashMismatch is returned when content no longer matches the hash
	// recorded for it (local drift before publish, remote drift before pull).
	ErrHashMismatch = errors.New("content hash mismatch")

	// ErrConflict is returned when a target file exists and overwrite
	// was not requested.
	ErrConflict = errors.New("target already exists")

	// ErrUnauthenticated maps a remote 401.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden maps a remote 403 that is not a rate limit.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited maps a remote 429 (or 403 with zero remaining quota).
	ErrRateLimited = errors.New("rate limited")

	// ErrRemote is returned for any other non-2xx remote response.
	ErrRemote = errors.New("remote error")

	// ErrValidation is returned when input is structurally valid but
	// semantically rejected (missing type, invalid folder name).
	ErrValidation = errors.New("validation failed")

	// ErrTransient marks failures expected to clear on retry.
	ErrTransient = errors.New("transient error")
)

// RateLimitError carries the server-provided retry delay.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ValidationError names the path and field that failed validation.
type ValidationError struct {
	Path   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Path != "" && e.Field != "":
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Field, e.Reason)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validation builds a ValidationError.
func Validation(path, field, reason string) error {
	return &ValidationError{Path: path, Field: field, Reason: reason}
}

// NotFound wraps ErrNotFound with the kind and key of the missing thing.
func NotFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
}

// kinds is ordered most specific first; Kind reports the first match.
var kinds = []struct {
	err  error
	name string
}{
	{ErrHashMismatch, "hash_mismatch"},
	{ErrConflict, "conflict"},
	{ErrUnauthenticated, "unauthenticated"},
	{ErrForbidden, "forbidden"},
	{ErrRateLimited, "rate_limited"},
	{ErrValidation, "validation"},
	{ErrNotFound, "not_found"},
	{ErrParse, "parse"},
	{ErrRemote, "remote"},
	{ErrTransient, "transient"},
	{ErrIO, "io"},
}

// Kind returns the taxonomy name of err, or "internal" when it does not
// wrap any known sentinel.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// IsUserActionRequired returns true if the caller must act (rescan,
// re-authenticate, confirm overwrite) before retrying.
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrHashMismatch) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrValidation)
}

// RetryAfter extracts the retry delay from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
