// Package client provides a Go client library for the Chrona agent API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// ErrNotFound is returned when the server reports 404 for a task.
var ErrNotFound = errors.New("task not found")

// ErrTaskTerminal is returned when canceling a task that already finished.
var ErrTaskTerminal = errors.New("task is already terminal")

// Client communicates with the Chrona agent API server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Chrona API client pointing at the given base URL
// (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		// No overall timeout: synchronous waits and event streams are
		// long-lived. Callers bound requests via context.
		httpClient: &http.Client{},
	}
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// doRequest builds and executes an HTTP request.
// If body is non-nil it is JSON-encoded and sent as the request body.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// doJSON executes a request, checks for a 2xx status, and JSON-decodes
// the response body into target (when target is non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, target interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusConflict:
			return ErrTaskTerminal
		}
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if target != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Health and discovery
// ---------------------------------------------------------------------------

// Healthz checks whether the API server is healthy.
func (c *Client) Healthz(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("healthz failed (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// AgentCard fetches the agent discovery document.
func (c *Client) AgentCard(ctx context.Context) (*v1alpha1.AgentCard, error) {
	var card v1alpha1.AgentCard
	if err := c.doJSON(ctx, http.MethodGet, "/.well-known/agent.json", nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// SubmitTaskRequest mirrors the server's submission body.
type SubmitTaskRequest struct {
	Text      string            `json:"text"`
	ContextID string            `json:"contextId,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// SubmitTask creates a new task and returns it immediately in the
// submitted state.
func (c *Client) SubmitTask(ctx context.Context, req SubmitTaskRequest) (*v1alpha1.Task, error) {
	var out v1alpha1.Task
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1alpha1/tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ask submits a task with ?wait=true and blocks until it is terminal.
func (c *Client) Ask(ctx context.Context, req SubmitTaskRequest) (*v1alpha1.Task, error) {
	var out v1alpha1.Task
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1alpha1/tasks?wait=true", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTask retrieves a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (*v1alpha1.Task, error) {
	var out v1alpha1.Task
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1alpha1/tasks/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks retrieves tasks, optionally filtered by conversation context
// and state. Empty filters match everything.
func (c *Client) ListTasks(ctx context.Context, contextID string, state v1alpha1.TaskState) ([]*v1alpha1.Task, error) {
	query := url.Values{}
	if contextID != "" {
		query.Set("contextId", contextID)
	}
	if state != "" {
		query.Set("state", string(state))
	}
	path := "/api/v1alpha1/tasks"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out []*v1alpha1.Task
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelTask requests cooperative cancellation of a task.
func (c *Client) CancelTask(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1alpha1/tasks/"+id+"/cancel", nil, nil)
}

// WaitForTask polls until the task reaches a terminal state or the
// context expires.
func (c *Client) WaitForTask(ctx context.Context, id string, interval time.Duration) (*v1alpha1.Task, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.State.Terminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StreamTask subscribes to the task's server-sent event stream and calls
// fn with each snapshot. It returns when the task is terminal, fn returns
// an error, or the context expires.
func (c *Client) StreamTask(ctx context.Context, id string, fn func(*v1alpha1.Task) error) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1alpha1/tasks/"+id+"/events", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("event stream failed (status %d): %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var task v1alpha1.Task
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &task); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(&task); err != nil {
			return err
		}
		if task.Status.State.Terminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}
