package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

func TestNewProviderSelection(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"openai", false},
		{"groq", false},
		{"mystery", true},
	}

	for _, tc := range tests {
		t.Run(tc.provider, func(t *testing.T) {
			b, err := New(tc.provider, "key", "", "", zap.NewNop())
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.Name() != tc.provider {
				t.Errorf("expected backend name %s, got %s", tc.provider, b.Name())
			}
		})
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New("openai", "", "", "", zap.NewNop()); err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
}

func TestToChatMessages(t *testing.T) {
	history := []v1alpha1.Message{
		{Role: v1alpha1.RoleUser, Text: "what time is tomorrow noon?"},
		{
			Role: v1alpha1.RoleAgent,
			ToolCalls: []v1alpha1.ToolCall{
				{ID: "call-1", Name: "resolve_datetime", Arguments: `{"start": {"mode": "relative", "day": 1, "hour": 12}}`},
			},
		},
		{
			Role: v1alpha1.RoleTool,
			ToolResult: &v1alpha1.ToolResult{
				CallID:  "call-1",
				Name:    "resolve_datetime",
				Content: `{"parsable": true}`,
			},
		},
		{Role: v1alpha1.RoleAgent, Text: "Tomorrow noon is 2025-07-17T12:00:00."},
	}

	msgs := toChatMessages("you are a datetime agent", history)
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}

	if msgs[0].Role != "system" || msgs[0].Content != "you are a datetime agent" {
		t.Errorf("unexpected system message: %+v", msgs[0])
	}
	if msgs[1].Role != "user" {
		t.Errorf("expected user role, got %s", msgs[1].Role)
	}
	if msgs[2].Role != "assistant" || len(msgs[2].ToolCalls) != 1 {
		t.Errorf("expected assistant message with one tool call, got %+v", msgs[2])
	}
	if msgs[2].ToolCalls[0].Function.Name != "resolve_datetime" {
		t.Errorf("unexpected tool call: %+v", msgs[2].ToolCalls[0])
	}
	if msgs[3].Role != "tool" || msgs[3].ToolCallID != "call-1" {
		t.Errorf("unexpected tool message: %+v", msgs[3])
	}
	if msgs[3].Content != `{"parsable": true}` {
		t.Errorf("unexpected tool content: %s", msgs[3].Content)
	}
	if msgs[4].Role != "assistant" || msgs[4].Content == "" {
		t.Errorf("unexpected final message: %+v", msgs[4])
	}
}

func TestRenderToolResultError(t *testing.T) {
	out := renderToolResult(&v1alpha1.ToolResult{
		CallID: "call-2",
		Name:   "get_weather",
		Error:  &v1alpha1.ToolError{Code: v1alpha1.ToolErrRuntimeError, Message: "unknown location"},
	})

	var decoded struct {
		Error v1alpha1.ToolError `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("rendered error is not valid JSON: %v", err)
	}
	if decoded.Error.Code != v1alpha1.ToolErrRuntimeError {
		t.Errorf("unexpected code: %s", decoded.Error.Code)
	}
	if decoded.Error.Message != "unknown location" {
		t.Errorf("unexpected message: %s", decoded.Error.Message)
	}
}

func TestToChatTools(t *testing.T) {
	tools := toChatTools([]v1alpha1.ToolSchema{
		{Name: "resolve_datetime", Description: "resolves", Parameters: map[string]interface{}{"type": "object"}},
	})
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	if tools[0].Function.Name != "resolve_datetime" {
		t.Errorf("unexpected tool: %+v", tools[0])
	}

	if toChatTools(nil) != nil {
		t.Error("expected nil tools for empty catalog")
	}
}

// fakeCompletionAPI mimics the chat completions endpoint: a request whose
// last user message mentions "weather" gets a tool call back, anything
// else gets a direct answer.
func fakeCompletionAPI(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error": {"message": "invalid api key"}}`)
			return
		}

		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		last := req.Messages[len(req.Messages)-1]
		if last.Role == "user" && last.Content == "is it raining in London?" {
			fmt.Fprint(w, `{
				"choices": [{
					"message": {
						"role": "assistant",
						"tool_calls": [{
							"id": "call-abc",
							"type": "function",
							"function": {"name": "get_weather", "arguments": "{\"location\": \"London\"}"}
						}]
					},
					"finish_reason": "tool_calls"
				}]
			}`)
			return
		}

		fmt.Fprint(w, `{
			"choices": [{
				"message": {"role": "assistant", "content": "Tomorrow is 2025-07-17."},
				"finish_reason": "stop"
			}]
		}`)
	}))
}

func TestCompleteDirectAnswer(t *testing.T) {
	api := fakeCompletionAPI(t)
	defer api.Close()

	b := NewCompatible("openai", "test-key", api.URL, "gpt-4o-mini", zap.NewNop())
	out, err := b.Complete(context.Background(), Request{
		System:  "you are a datetime agent",
		History: []v1alpha1.Message{{Role: v1alpha1.RoleUser, Text: "when is tomorrow?"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.ToolCalls) != 0 {
		t.Errorf("expected direct answer, got tool calls: %+v", out.ToolCalls)
	}
	if out.Text != "Tomorrow is 2025-07-17." {
		t.Errorf("unexpected answer: %q", out.Text)
	}
}

func TestCompleteToolCalls(t *testing.T) {
	api := fakeCompletionAPI(t)
	defer api.Close()

	b := NewCompatible("groq", "test-key", api.URL, "openai/gpt-oss-120b", zap.NewNop())
	out, err := b.Complete(context.Background(), Request{
		History: []v1alpha1.Message{{Role: v1alpha1.RoleUser, Text: "is it raining in London?"}},
		Tools: []v1alpha1.ToolSchema{
			{Name: "get_weather", Parameters: map[string]interface{}{"type": "object"}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(out.ToolCalls))
	}
	tc := out.ToolCalls[0]
	if tc.ID != "call-abc" || tc.Name != "get_weather" {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if tc.Arguments != `{"location": "London"}` {
		t.Errorf("unexpected arguments: %s", tc.Arguments)
	}
}

func TestCompleteBackendError(t *testing.T) {
	api := fakeCompletionAPI(t)
	defer api.Close()

	b := NewCompatible("openai", "wrong-key", api.URL, "gpt-4o-mini", zap.NewNop())
	_, err := b.Complete(context.Background(), Request{
		History: []v1alpha1.Message{{Role: v1alpha1.RoleUser, Text: "hello"}},
	})
	if !IsBackendError(err) {
		t.Fatalf("expected backend error, got %v", err)
	}
}
