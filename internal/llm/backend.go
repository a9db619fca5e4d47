// Package llm abstracts the chat model backends the agent reasons with.
//
// A Backend takes the task's conversation so far plus the tool catalog and
// returns one model turn: either a direct textual answer or a batch of tool
// calls. Provider-specific wiring (OpenAI, Groq) lives behind the Backend
// interface so the orchestrator never sees a vendor SDK type.
package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// Request is one reasoning turn: the system prompt, the conversation so
// far, and the tools the model may call.
type Request struct {
	System  string
	History []v1alpha1.Message
	Tools   []v1alpha1.ToolSchema
}

// Completion is the model's reply to a Request. Exactly one branch is
// meaningful: a non-empty ToolCalls slice means the model wants tools run
// before it answers; otherwise Text is the direct answer.
type Completion struct {
	Text      string
	ToolCalls []v1alpha1.ToolCall
}

// Backend produces completions for the agent's reasoning loop.
type Backend interface {
	// Name identifies the backend in logs and the agent card.
	Name() string
	// Complete runs one model turn.
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// BackendError wraps any failure of the model backend itself: network
// errors, authentication failures, provider 5xx. It marks the task as
// failed rather than being fed back into the reasoning loop.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("model backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsBackendError reports whether err is a model backend failure.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// Providers supported by New.
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
)

// New builds a backend for the named provider. An empty model picks the
// provider's default; a non-empty baseURL overrides the provider endpoint
// (useful against proxies and in tests).
func New(provider, apiKey, baseURL, model string, logger *zap.Logger) (Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s requires an API key", provider)
	}
	switch provider {
	case ProviderOpenAI:
		if model == "" {
			model = DefaultOpenAIModel
		}
		return NewCompatible(ProviderOpenAI, apiKey, baseURL, model, logger), nil
	case ProviderGroq:
		if model == "" {
			model = DefaultGroqModel
		}
		if baseURL == "" {
			baseURL = GroqBaseURL
		}
		return NewCompatible(ProviderGroq, apiKey, baseURL, model, logger), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q (supported: %s, %s)", provider, ProviderOpenAI, ProviderGroq)
	}
}
