package github

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimit is the last quota state reported by the API.
type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	Known     bool      `json:"known"`
}

// rateLimitTracker records quota headers from every response. It never
// blocks requests; a rate-limited call surfaces its retry delay to the
// caller instead.
type rateLimitTracker struct {
	mu    sync.Mutex
	state RateLimit
	now   func() time.Time
}

func newRateLimitTracker(now func() time.Time) *rateLimitTracker {
	return &rateLimitTracker{now: now}
}

// update records rate limit state from HTTP response headers.
func (tracker *rateLimitTracker) update(header http.Header) {
	remainingStr := header.Get("X-RateLimit-Remaining")
	resetStr := header.Get("X-RateLimit-Reset")
	if remainingStr == "" || resetStr == "" {
		return
	}

	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return
	}
	resetUnix, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return
	}
	limit, _ := strconv.Atoi(header.Get("X-RateLimit-Limit"))

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	tracker.state = RateLimit{
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Unix(resetUnix, 0),
		Known:     true,
	}
}

func (tracker *rateLimitTracker) snapshot() RateLimit {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	return tracker.state
}

// retryAfter computes the backoff from a rate-limited response: the
// Retry-After header (seconds) first, then the X-RateLimit-Reset
// timestamp. Falls back to one minute when neither is usable.
func (tracker *rateLimitTracker) retryAfter(header http.Header) time.Duration {
	if retryStr := header.Get("Retry-After"); retryStr != "" {
		if seconds, err := strconv.Atoi(retryStr); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	if resetStr := header.Get("X-RateLimit-Reset"); resetStr != "" {
		if resetUnix, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			if d := time.Unix(resetUnix, 0).Sub(tracker.now()); d > 0 {
				return d
			}
		}
	}

	return time.Minute
}
