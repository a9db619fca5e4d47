// Package agent implements the reasoning loop that turns a submitted task
// into a terminal one: completed with an answer (possibly flagged
// incomplete), failed with a reason, or canceled.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/chronalabs/chrona/internal/llm"
	"github.com/chronalabs/chrona/internal/store"
	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
	"github.com/chronalabs/chrona/pkg/toolclient"
)

// DefaultRoundLimit bounds the reasoning loop: each round is one model
// call, optionally followed by a batch of tool executions.
const DefaultRoundLimit = 6

// DefaultSystemPrompt frames the agent for the model.
const DefaultSystemPrompt = `You are a conversational assistant that resolves dates, times and related questions.
Use the resolve_datetime tool for anything involving calendar arithmetic instead of computing dates yourself.
When a question needs external facts (such as current weather), use the matching tool.
Answer concisely. If a request cannot be resolved, say why instead of guessing.`

// incompleteNotice is the stock answer when the round budget runs out
// before the model produced any text.
const incompleteNotice = "I could not finish reasoning about this request within the allowed number of steps."

// ToolClient is the slice of the tool provider client the loop needs.
// *toolclient.Client satisfies it.
type ToolClient interface {
	ListTools(ctx context.Context) ([]v1alpha1.ToolSchema, error)
	Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// Orchestrator drives one task at a time through the reasoning loop. It is
// stateless across tasks and safe for concurrent use by dispatcher workers.
type Orchestrator struct {
	backend      llm.Backend
	tools        ToolClient
	store        store.Store
	logger       *zap.Logger
	roundLimit   int
	systemPrompt string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRoundLimit overrides the default reasoning round budget.
func WithRoundLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.roundLimit = n
		}
	}
}

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(p string) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.systemPrompt = p
		}
	}
}

// New creates an Orchestrator.
func New(backend llm.Backend, tools ToolClient, s store.Store, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:      backend,
		tools:        tools,
		store:        s,
		logger:       logger,
		roundLimit:   DefaultRoundLimit,
		systemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle runs the task to a terminal state, persisting every history
// append and status transition so watchers observe progress live. The
// context is the task's cancellation scope: cancellation is honored
// cooperatively at round boundaries, never mid-call.
func (o *Orchestrator) Handle(ctx context.Context, task *v1alpha1.Task) error {
	logger := o.logger.With(zap.String("task", task.Metadata.ID))

	task.Status.State = v1alpha1.TaskWorking
	task.Status.StartedAt = time.Now()
	if err := o.persist(task); err != nil {
		return fmt.Errorf("marking task working: %w", err)
	}
	logger.Info("task started", zap.String("backend", o.backend.Name()))

	catalog, err := o.tools.ListTools(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancel(task)
		}
		return o.fail(task, fmt.Sprintf("tool discovery failed: %v", err))
	}

	for round := 1; round <= o.roundLimit; round++ {
		if ctx.Err() != nil {
			return o.cancel(task)
		}
		task.Status.Rounds = round

		completion, err := o.backend.Complete(ctx, llm.Request{
			System:  o.systemPrompt,
			History: task.History,
			Tools:   catalog,
		})
		if err != nil {
			if ctx.Err() != nil {
				return o.cancel(task)
			}
			return o.fail(task, err.Error())
		}

		if len(completion.ToolCalls) == 0 {
			o.appendMessage(task, v1alpha1.Message{
				Role: v1alpha1.RoleAgent,
				Text: completion.Text,
			})
			return o.complete(task, completion.Text, false)
		}

		o.appendMessage(task, v1alpha1.Message{
			Role:      v1alpha1.RoleAgent,
			Text:      completion.Text,
			ToolCalls: completion.ToolCalls,
		})
		if err := o.persist(task); err != nil {
			// The task is already marked working in the store; returning the
			// error would strand it there, since the dispatcher only picks
			// up submitted tasks. Drive it terminal instead.
			logger.Error("persisting tool calls", zap.Error(err))
			return o.fail(task, fmt.Sprintf("persisting task state: %v", err))
		}

		for _, call := range completion.ToolCalls {
			result, fatal := o.executeCall(ctx, catalog, call, logger)
			o.appendMessage(task, v1alpha1.Message{
				Role:       v1alpha1.RoleTool,
				ToolResult: result,
			})
			if fatal {
				if err := o.persist(task); err != nil {
					logger.Warn("persisting failed tool result", zap.Error(err))
				}
				// A cancellation request cancels the task context while the
				// call is in flight; the transport error it causes must not
				// masquerade as a provider outage.
				if ctx.Err() != nil {
					return o.cancel(task)
				}
				return o.fail(task, fmt.Sprintf("tool %s unreachable: %s", call.Name, result.Error.Message))
			}
		}
		if err := o.persist(task); err != nil {
			logger.Error("persisting tool results", zap.Error(err))
			return o.fail(task, fmt.Sprintf("persisting task state: %v", err))
		}

		logger.Debug("round finished",
			zap.Int("round", round),
			zap.Int("toolCalls", len(completion.ToolCalls)),
		)
	}

	// Round budget exhausted: terminal, but flagged so callers know the
	// answer is best-effort.
	answer := lastAgentText(task.History)
	if answer == "" {
		answer = incompleteNotice
		o.appendMessage(task, v1alpha1.Message{Role: v1alpha1.RoleAgent, Text: answer})
	}
	logger.Warn("round limit reached", zap.Int("limit", o.roundLimit))
	return o.complete(task, answer, true)
}

// executeCall validates and dispatches one tool call. It always returns a
// result to append; fatal is true only for transport failures, which fail
// the whole task. Invalid calls and runtime errors come back as error
// results for the model to recover from.
func (o *Orchestrator) executeCall(ctx context.Context, catalog []v1alpha1.ToolSchema, call v1alpha1.ToolCall, logger *zap.Logger) (result *v1alpha1.ToolResult, fatal bool) {
	if !knownTool(catalog, call.Name) {
		logger.Warn("model requested unknown tool", zap.String("tool", call.Name))
		return &v1alpha1.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error: &v1alpha1.ToolError{
				Code:    v1alpha1.ToolErrInvalidCall,
				Message: fmt.Sprintf("unknown tool %q", call.Name),
			},
		}, false
	}
	if !json.Valid([]byte(call.Arguments)) {
		logger.Warn("model produced malformed tool arguments", zap.String("tool", call.Name))
		return &v1alpha1.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error: &v1alpha1.ToolError{
				Code:    v1alpha1.ToolErrInvalidCall,
				Message: "tool arguments are not valid JSON",
			},
		}, false
	}

	out, err := o.tools.Invoke(ctx, call.Name, json.RawMessage(call.Arguments))
	if err != nil {
		ce, ok := err.(*toolclient.CallError)
		if !ok {
			ce = &toolclient.CallError{Code: v1alpha1.ToolErrUnreachable, Message: err.Error()}
		}
		logger.Warn("tool call failed",
			zap.String("tool", call.Name),
			zap.String("code", ce.Code),
			zap.String("message", ce.Message),
		)
		return &v1alpha1.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error:  &v1alpha1.ToolError{Code: ce.Code, Message: ce.Message},
		}, ce.Code == v1alpha1.ToolErrUnreachable
	}

	return &v1alpha1.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: string(out),
	}, false
}

func (o *Orchestrator) complete(task *v1alpha1.Task, answer string, incomplete bool) error {
	task.Status.State = v1alpha1.TaskCompleted
	task.Status.Answer = answer
	task.Status.Incomplete = incomplete
	task.Status.FinishedAt = time.Now()
	if err := o.persist(task); err != nil {
		return fmt.Errorf("marking task completed: %w", err)
	}
	o.logger.Info("task completed",
		zap.String("task", task.Metadata.ID),
		zap.Int("rounds", task.Status.Rounds),
		zap.Bool("incomplete", incomplete),
	)
	return nil
}

func (o *Orchestrator) fail(task *v1alpha1.Task, reason string) error {
	task.Status.State = v1alpha1.TaskFailed
	task.Status.Error = reason
	task.Status.FinishedAt = time.Now()
	if err := o.persist(task); err != nil {
		return fmt.Errorf("marking task failed: %w", err)
	}
	o.logger.Warn("task failed",
		zap.String("task", task.Metadata.ID),
		zap.String("reason", reason),
	)
	return nil
}

func (o *Orchestrator) cancel(task *v1alpha1.Task) error {
	task.Status.State = v1alpha1.TaskCanceled
	task.Status.FinishedAt = time.Now()
	if err := o.persist(task); err != nil {
		return fmt.Errorf("marking task canceled: %w", err)
	}
	o.logger.Info("task canceled", zap.String("task", task.Metadata.ID))
	return nil
}

func (o *Orchestrator) persist(task *v1alpha1.Task) error {
	task.Metadata.UpdatedAt = time.Now()
	return o.store.Update(store.TaskKey(task.Metadata.ID), task)
}

func (o *Orchestrator) appendMessage(task *v1alpha1.Task, msg v1alpha1.Message) {
	msg.ID = gonanoid.Must()
	msg.CreatedAt = time.Now()
	task.History = append(task.History, msg)
}

func knownTool(catalog []v1alpha1.ToolSchema, name string) bool {
	for _, s := range catalog {
		if s.Name == name {
			return true
		}
	}
	return false
}

// lastAgentText returns the text of the most recent agent message that
// carried any, for use as a best-effort answer.
func lastAgentText(history []v1alpha1.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == v1alpha1.RoleAgent && history[i].Text != "" {
			return history[i].Text
		}
	}
	return ""
}
