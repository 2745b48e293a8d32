// Package github is a small client for the GitHub contents API used by
// BlueKit library workspaces.
//
// It covers the handful of calls the library engines need: read a file
// with its blob sha, list a directory, create or update a file, delete a
// file, read a recursive tree, and identify the authenticated user. File
// bodies are base64 on the wire and plain bytes to callers.
//
// Non-2xx responses are mapped onto the shared error taxonomy: 401 is
// Unauthenticated, 403 is Forbidden, 404 is NotFound, rate-limit
// responses are *apperr.RateLimitError with the server's retry delay, and
// everything else is Remote. The client does not retry.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bluekit-app/bluekit/internal/apperr"
)

// apiVersion pins the REST API version header.
const apiVersion = "2022-11-28"

// DefaultBaseURL is the base URL for the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 32 << 20

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the root URL for API requests. Defaults to
	// DefaultBaseURL. Must use HTTPS.
	BaseURL string

	// Token is a personal access or OAuth token. It may be empty at
	// construction and supplied later with SetToken.
	Token string

	// Branch is the branch writes target. Empty means the repository's
	// default branch.
	Branch string

	// HTTPClient is used for all requests. Defaults to a client with a
	// 30s timeout.
	HTTPClient *http.Client

	// Logger for request activity (default: stderr logger).
	Logger *log.Logger
}

// Client is a typed contents API client. It is safe for concurrent use;
// the only mutable state is the token and the rate-limit snapshot.
type Client struct {
	baseURL    string
	branch     string
	httpClient *http.Client
	rateLimit  *rateLimitTracker
	logger     *log.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a client from the given configuration.
func NewClient(config Config) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[github] ", log.LstdFlags)
	}

	return &Client{
		baseURL:    baseURL,
		branch:     config.Branch,
		httpClient: httpClient,
		rateLimit:  newRateLimitTracker(time.Now),
		logger:     logger,
		token:      config.Token,
	}, nil
}

// SetToken replaces the token used for subsequent requests.
func (client *Client) SetToken(token string) {
	client.mu.Lock()
	client.token = token
	client.mu.Unlock()
}

// HasToken reports whether a token is configured.
func (client *Client) HasToken() bool {
	client.mu.RLock()
	defer client.mu.RUnlock()
	return client.token != ""
}

// RateLimit returns the last quota state reported by the API.
func (client *Client) RateLimit() RateLimit {
	return client.rateLimit.snapshot()
}

// do executes an authenticated request and returns the response body.
// requestBody is JSON-encoded when non-nil. Non-2xx responses are
// returned as taxonomy errors.
func (client *Client) do(ctx context.Context, method, path string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("github: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}

	client.mu.RLock()
	token := client.token
	client.mu.RUnlock()
	if token == "" {
		return nil, fmt.Errorf("github: no token configured: %w", apperr.ErrUnauthenticated)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", apiVersion)
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github: %s %s: %v: %w", method, path, err, apperr.ErrTransient)
	}
	defer response.Body.Close()

	client.rateLimit.update(response.Header)

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("github: reading response body: %v: %w", err, apperr.ErrTransient)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := parseAPIError(response.StatusCode, response.Header, body, client.rateLimit)
		if !IsNotFound(apiErr) {
			client.logger.Printf("%s %s: %v", method, path, apiErr)
		}
		return nil, apiErr
	}
	return body, nil
}

func (client *Client) get(ctx context.Context, path string, result any) error {
	body, err := client.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("github: decoding %s: %v: %w", path, err, apperr.ErrParse)
	}
	return nil
}

// contentsPath builds /repos/{owner}/{repo}/contents/{path} with each
// path segment escaped.
func contentsPath(owner, repo, filePath string) string {
	return repoPath(owner, repo) + "/contents/" + escapePath(filePath)
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

func escapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
