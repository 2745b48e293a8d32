package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bluekit-app/bluekit/internal/apperr"
)

// APIError represents a non-2xx response from the contents API.
type APIError struct {
	// StatusCode is the HTTP response status code.
	StatusCode int

	// Message is the top-level error description from GitHub, or the raw
	// body when it was not JSON.
	Message string

	// DocumentationURL points to the relevant API documentation.
	DocumentationURL string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("github: HTTP %d: %s", err.StatusCode, err.Message)
}

// Unwrap maps the status onto the shared error taxonomy.
func (err *APIError) Unwrap() error {
	switch err.StatusCode {
	case http.StatusUnauthorized:
		return apperr.ErrUnauthenticated
	case http.StatusForbidden:
		return apperr.ErrForbidden
	case http.StatusNotFound:
		return apperr.ErrNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// Stale sha on write: the file moved on since we read it.
		return apperr.ErrConflict
	}
	return apperr.ErrRemote
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusNotFound
}

// parseAPIError builds an error from a non-2xx response. Rate-limit
// responses become *apperr.RateLimitError carrying the retry delay.
func parseAPIError(statusCode int, header http.Header, body []byte, tracker *rateLimitTracker) error {
	apiError := &APIError{StatusCode: statusCode}

	var wireError struct {
		Message          string `json:"message"`
		DocumentationURL string `json:"documentation_url"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Message != "" {
		apiError.Message = wireError.Message
		apiError.DocumentationURL = wireError.DocumentationURL
	} else {
		apiError.Message = strings.TrimSpace(string(body))
	}

	if isRateLimited(statusCode, header, apiError.Message) {
		return &apperr.RateLimitError{
			RetryAfter: tracker.retryAfter(header),
			Message:    apiError.Error(),
		}
	}
	return apiError
}

// isRateLimited distinguishes quota exhaustion from permission failures.
// GitHub answers 429 for secondary limits and 403 with zero remaining
// quota for the primary limit.
func isRateLimited(statusCode int, header http.Header, message string) bool {
	exhausted := header.Get("X-RateLimit-Remaining") == "0"
	switch statusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		lower := strings.ToLower(message)
		return exhausted || strings.Contains(lower, "rate limit") || strings.Contains(lower, "abuse detection")
	}
	return false
}
