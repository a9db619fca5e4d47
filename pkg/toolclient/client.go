// Package toolclient provides a Go client for a Chrona tool provider.
//
// The client owns the transport-level half of the tool error taxonomy:
// any failure to reach the provider or to decode its response surfaces as
// a CallError with code tool_unreachable, while errors reported by the
// provider itself pass through with their original code and message.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// CallError is a failed tool invocation. Code is one of the
// v1alpha1.ToolErr* constants.
type CallError struct {
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tool call failed (%s): %s", e.Code, e.Message)
}

// Unreachable reports whether the error is a transport-level failure:
// the provider was never reached, or its response could not be read.
func Unreachable(err error) bool {
	ce, ok := err.(*CallError)
	return ok && ce.Code == v1alpha1.ToolErrUnreachable
}

// ListToolsResponse is the provider's tool catalog.
type ListToolsResponse struct {
	Tools []v1alpha1.ToolSchema `json:"tools"`
}

// InvokeResponse is the provider's invocation envelope: exactly one of
// Result and Error is set.
type InvokeResponse struct {
	Result json.RawMessage    `json:"result,omitempty"`
	Error  *v1alpha1.ToolError `json:"error,omitempty"`
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetries sets how many times an unreachable invocation is retried
// before the failure is reported. The default is zero: transport errors
// surface immediately.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithRetryBackoff sets the pause between unreachable-retry attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithLogger replaces the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client communicates with a tool provider. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	retries    int
	backoff    time.Duration

	mu    sync.Mutex
	tools []v1alpha1.ToolSchema
}

// New creates a tool provider client pointing at the given base URL
// (e.g. "http://localhost:8090").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
		backoff:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListTools returns the provider's tool catalog. The catalog is fetched
// once and cached for the lifetime of the client; call Invalidate to
// force a refresh.
func (c *Client) ListTools(ctx context.Context) ([]v1alpha1.ToolSchema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tools != nil {
		return c.tools, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tools", nil)
	if err != nil {
		return nil, &CallError{Code: v1alpha1.ToolErrUnreachable, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CallError{Code: v1alpha1.ToolErrUnreachable, Message: fmt.Sprintf("execute request: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Code: v1alpha1.ToolErrUnreachable, Message: fmt.Sprintf("read response body: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &CallError{Code: v1alpha1.ToolErrUnreachable, Message: fmt.Sprintf("list tools failed (status %d): %s", resp.StatusCode, string(body))}
	}

	var out ListToolsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &CallError{Code: v1alpha1.ToolErrUnreachable, Message: fmt.Sprintf("decode response body: %v", err)}
	}

	c.tools = out.Tools
	c.logger.Debug("tool catalog fetched", zap.Int("tools", len(c.tools)))
	return c.tools, nil
}

// Invalidate drops the cached tool catalog so the next ListTools call
// fetches a fresh one.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = nil
}

// Invoke calls the named tool with the given JSON arguments and returns
// the raw result payload. Provider-reported failures come back as a
// CallError carrying the provider's code and message unchanged; transport
// failures come back with code tool_unreachable and are retried up to the
// configured number of times.
func (c *Client) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying unreachable tool call",
				zap.String("tool", name),
				zap.Int("attempt", attempt),
			)
			select {
			case <-ctx.Done():
				return nil, &CallError{Code: v1alpha1.ToolErrUnreachable, Message: ctx.Err().Error()}
			case <-time.After(c.backoff):
			}
		}

		result, err := c.invokeOnce(ctx, name, args)
		if err == nil {
			return result, nil
		}
		if !Unreachable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) invokeOnce(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tools/"+name, bytes.NewReader(args))
	if err != nil {
		return nil, &CallError{Code: v1alpha1.ToolErrUnreachable, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CallError{Code: v1alpha1.ToolErrUnreachable, Message: fmt.Sprintf("execute request: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Code: v1alpha1.ToolErrUnreachable, Message: fmt.Sprintf("read response body: %v", err)}
	}

	var out InvokeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &CallError{Code: v1alpha1.ToolErrUnreachable, Message: fmt.Sprintf("decode response body (status %d): %v", resp.StatusCode, err)}
	}

	if out.Error != nil {
		return nil, &CallError{Code: out.Error.Code, Message: out.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{Code: v1alpha1.ToolErrUnreachable, Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))}
	}
	return out.Result, nil
}
