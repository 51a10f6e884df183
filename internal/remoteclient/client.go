// Package remoteclient implements keep's HTTP client for the optional
// remote task service (spec §4.9, §6 "Wire protocol"): submitting
// delegatable processing tasks (summarize, OCR) to a hosted backend and
// polling for results, used by the background processor when a remote
// backend is configured.
package remoteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	kerrors "github.com/hughpyle/keep/internal/errors"
)

const (
	maxSubmitRetries = 3
	submitBackoffBase = 1 * time.Second
	maxRetryAfter      = 60 * time.Second
	defaultTimeout     = 30 * time.Second
	pollTimeout        = 10 * time.Second
)

// TaskStatus mirrors the remote service's task lifecycle.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusNotFound   TaskStatus = "not_found"
)

// PollResult is the outcome of polling a submitted task.
type PollResult struct {
	Status   TaskStatus
	Result   map[string]any
	Error    string
	TaskType string
}

// Client is a Bearer-authenticated HTTP client for the remote task API.
// HTTPS is required unless the host is a loopback address, since the
// bearer token would otherwise travel in cleartext.
type Client struct {
	baseURL string
	apiKey  string
	project string
	http    *http.Client
	breaker *kerrors.CircuitBreaker

	mu        sync.Mutex
	available *bool // cached after first discover_processors probe
}

// New builds a Client against apiURL, rejecting non-HTTPS URLs unless
// the host is localhost/127.0.0.1/::1. Calls are guarded by a circuit
// breaker (5 consecutive failures opens it for 30s) so a down remote
// service fails fast instead of hanging every processor drain cycle.
func New(apiURL, apiKey, project string) (*Client, error) {
	trimmed := trimTrailingSlash(apiURL)
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, kerrors.Invalid("parsing task API URL", err)
	}
	if u.Scheme != "https" && !isLocalHost(u.Hostname()) {
		return nil, kerrors.Invalid(fmt.Sprintf(
			"task API URL must use HTTPS (got %s); use HTTPS to protect API credentials, or localhost for local development", trimmed), nil)
	}
	return &Client{
		baseURL: trimmed,
		apiKey:  apiKey,
		project: project,
		http:    &http.Client{Timeout: defaultTimeout},
		breaker: kerrors.NewCircuitBreaker("remoteclient",
			kerrors.WithMaxFailures(5),
			kerrors.WithResetTimeout(30*time.Second)),
	}, nil
}

func isLocalHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.project != "" {
		req.Header.Set("X-Project", c.project)
	}
	return req, nil
}

// Processor describes one task type the remote service can handle.
type Processor struct {
	TaskType string `json:"task_type"`
}

// DiscoverProcessors lists the task types the remote service can
// handle (GET /v1/processors). A request failure degrades to an empty
// list with no error, matching the original's best-effort probe.
func (c *Client) DiscoverProcessors(ctx context.Context) []string {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/processors", nil)
	if err != nil {
		return nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil
	}
	var data struct {
		Processors []Processor `json:"processors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil
	}
	types := make([]string, 0, len(data.Processors))
	for _, p := range data.Processors {
		types = append(types, p.TaskType)
	}
	return types
}

// Available reports whether the service is reachable and has at least
// one registered processor. Cached after the first check.
func (c *Client) Available(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.available != nil {
		return *c.available
	}
	ok := len(c.DiscoverProcessors(ctx)) > 0
	c.available = &ok
	return ok
}

// Submit posts a new task (POST /v1/tasks), making at most
// maxSubmitRetries attempts with exponential backoff between them on
// transient errors (5xx, timeouts, connection errors). A 429 response
// waits for Retry-After (capped at maxRetryAfter) and counts as one of
// those attempts. A 4xx (other than 429) is a permanent rejection.
func (c *Client) Submit(ctx context.Context, taskType, content string, metadata map[string]any) (string, error) {
	payload := map[string]any{"task_type": taskType, "content": content}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", kerrors.Invalid("marshaling task payload", err)
	}

	var taskID string
	var rejected *kerrors.KeepError
	attempt := 0
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = submitBackoffBase
	policy := backoff.WithMaxRetries(exp, maxSubmitRetries-1)

	op := func() error {
		attempt++
		req, err := c.newRequest(ctx, http.MethodPost, "/v1/tasks", body)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err // network error: retry
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := retryAfterDelay(resp.Header.Get("Retry-After"))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("rate limited, retrying")
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			text, _ := io.ReadAll(resp.Body)
			rejected = kerrors.RemoteRejected(fmt.Sprintf("task submission rejected: %d %s", resp.StatusCode, text))
			return backoff.Permanent(rejected)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error %d", resp.StatusCode)
		}

		var data struct {
			TaskID string `json:"task_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
			return backoff.Permanent(kerrors.Invalid("decoding task submission response", err))
		}
		taskID = data.TaskID
		return nil
	}

	if !c.breaker.Allow() {
		return "", kerrors.ProviderUnavailable("remote task service circuit open, skipping submission")
	}
	if err := c.breaker.Execute(func() error { return backoff.Retry(op, policy) }); err != nil {
		if rejected != nil {
			return "", rejected
		}
		return "", kerrors.ProviderTransient(fmt.Sprintf("task submission failed after %d attempts", attempt), err)
	}
	return taskID, nil
}

func retryAfterDelay(header string) time.Duration {
	secs, err := strconv.ParseFloat(header, 64)
	if err != nil || secs <= 0 {
		secs = 5
	}
	d := time.Duration(secs * float64(time.Second))
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

// Poll fetches a submitted task's current status (GET /v1/tasks/{id}).
// A 404 is reported as StatusNotFound rather than an error.
func (c *Client) Poll(ctx context.Context, taskID string) (PollResult, error) {
	if !c.breaker.Allow() {
		return PollResult{}, kerrors.ProviderUnavailable("remote task service circuit open, skipping poll")
	}

	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := c.newRequest(pollCtx, http.MethodGet, "/v1/tasks/"+taskID, nil)
	if err != nil {
		return PollResult{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return PollResult{}, kerrors.ProviderTransient("poll failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.breaker.RecordSuccess()
		return PollResult{Status: StatusNotFound, Error: "task not found"}, nil
	}
	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		return PollResult{}, kerrors.ProviderTransient(fmt.Sprintf("poll failed: %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		c.breaker.RecordSuccess()
		return PollResult{}, kerrors.ProviderTransient(fmt.Sprintf("poll failed: %d", resp.StatusCode), nil)
	}
	c.breaker.RecordSuccess()

	var data struct {
		Status   string         `json:"status"`
		Result   map[string]any `json:"result"`
		Error    string         `json:"error"`
		TaskType string         `json:"task_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return PollResult{}, kerrors.Invalid("decoding poll response", err)
	}
	status := data.Status
	if status == "" {
		status = "unknown"
	}
	return PollResult{
		Status:   TaskStatus(status),
		Result:   data.Result,
		Error:    data.Error,
		TaskType: data.TaskType,
	}, nil
}

// Acknowledge deletes a completed task (DELETE /v1/tasks/{id}). A 404
// is treated as success (already cleaned up); other failures are
// non-critical and logged by the caller, not returned as fatal.
func (c *Client) Acknowledge(ctx context.Context, taskID string) error {
	if !c.breaker.Allow() {
		return kerrors.ProviderUnavailable("remote task service circuit open, skipping acknowledge")
	}

	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/tasks/"+taskID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return kerrors.ProviderTransient("acknowledge failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		return kerrors.ProviderTransient(fmt.Sprintf("acknowledge failed: %d", resp.StatusCode), nil)
	}
	c.breaker.RecordSuccess()
	if resp.StatusCode != http.StatusNotFound && resp.StatusCode >= 400 {
		return kerrors.ProviderTransient(fmt.Sprintf("acknowledge failed: %d", resp.StatusCode), nil)
	}
	return nil
}
