package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Default models per provider.
const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGroqModel   = "openai/gpt-oss-120b"
)

// OpenAIBackend talks to any OpenAI-compatible chat completion API.
type OpenAIBackend struct {
	name   string
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAI creates a backend against api.openai.com.
func NewOpenAI(apiKey, model string, logger *zap.Logger) *OpenAIBackend {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return NewCompatible("openai", apiKey, "", model, logger)
}

// NewGroq creates a backend against Groq's OpenAI-compatible API.
func NewGroq(apiKey, model string, logger *zap.Logger) *OpenAIBackend {
	if model == "" {
		model = DefaultGroqModel
	}
	return NewCompatible("groq", apiKey, GroqBaseURL, model, logger)
}

// NewCompatible creates a backend against an arbitrary OpenAI-compatible
// endpoint; an empty baseURL keeps the SDK default.
func NewCompatible(name, apiKey, baseURL, model string, logger *zap.Logger) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

func (b *OpenAIBackend) Name() string { return b.name }

func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (*Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    b.model,
		Messages: toChatMessages(req.System, req.History),
		Tools:    toChatTools(req.Tools),
	}

	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, &BackendError{Backend: b.name, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &BackendError{Backend: b.name, Err: fmt.Errorf("completion returned no choices")}
	}

	msg := resp.Choices[0].Message
	out := &Completion{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, v1alpha1.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	b.logger.Debug("completion received",
		zap.String("backend", b.name),
		zap.String("model", b.model),
		zap.Int("toolCalls", len(out.ToolCalls)),
		zap.String("finishReason", string(resp.Choices[0].FinishReason)),
	)
	return out, nil
}

// toChatMessages flattens the task history into the wire shape: the system
// prompt first, then user/agent turns, with tool results rendered as tool
// role messages keyed by call id.
func toChatMessages(system string, history []v1alpha1.Message) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, m := range history {
		switch m.Role {
		case v1alpha1.RoleUser:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Text,
			})
		case v1alpha1.RoleAgent:
			cm := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Text,
			}
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			msgs = append(msgs, cm)
		case v1alpha1.RoleTool:
			if m.ToolResult == nil {
				continue
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: m.ToolResult.CallID,
				Content:    renderToolResult(m.ToolResult),
			})
		}
	}
	return msgs
}

// renderToolResult produces the content the model sees for a finished tool
// call. Failures are serialized with their code and message so the model
// can recover or apologize instead of hallucinating a value.
func renderToolResult(r *v1alpha1.ToolResult) string {
	if r.Error != nil {
		buf, err := json.Marshal(map[string]interface{}{"error": r.Error})
		if err != nil {
			return fmt.Sprintf(`{"error": {"code": %q}}`, r.Error.Code)
		}
		return string(buf)
	}
	return r.Content
}

func toChatTools(schemas []v1alpha1.ToolSchema) []openai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(schemas))
	for _, s := range schemas {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return tools
}
