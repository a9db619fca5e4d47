// Package v1alpha1 defines all Chrona resource types exchanged between the
// agent API server, the dispatcher, and clients.
package v1alpha1

import "time"

const (
	APIVersion = "chrona.dev/v1alpha1"
)

// Resource kinds
const (
	KindTask = "Task"
)

// TypeMeta describes the API version and kind of a resource.
type TypeMeta struct {
	APIVersion string `json:"apiVersion" yaml:"apiVersion"`
	Kind       string `json:"kind" yaml:"kind"`
}

// ObjectMeta holds metadata common to all resources.
type ObjectMeta struct {
	// ID is the unique identifier assigned by the server on creation.
	ID string `json:"id" yaml:"id"`
	// ContextID groups tasks that belong to the same conversation.
	ContextID string            `json:"contextId,omitempty" yaml:"contextId,omitempty"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// -------------------------------------------------------
// Task
// -------------------------------------------------------

// TaskState represents the lifecycle state of a Task.
type TaskState string

const (
	TaskSubmitted TaskState = "submitted"
	TaskWorking   TaskState = "working"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCanceled  TaskState = "canceled"
)

// Terminal reports whether a task in this state will never change again.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// Task is the unit of conversational work tracked by the protocol layer.
// Its message history is append-only: messages are never modified or
// removed once appended, and ordering is conversational order.
type Task struct {
	TypeMeta `json:",inline" yaml:",inline"`
	Metadata ObjectMeta `json:"metadata" yaml:"metadata"`
	History  []Message  `json:"history,omitempty" yaml:"history,omitempty"`
	Status   TaskStatus `json:"status" yaml:"status"`
}

type TaskStatus struct {
	State TaskState `json:"state" yaml:"state"`
	// Answer is the final agent response once the task is completed.
	Answer string `json:"answer,omitempty" yaml:"answer,omitempty"`
	// Incomplete is set when the reasoning loop hit its round limit and the
	// answer is best-effort rather than a finished response.
	Incomplete bool `json:"incomplete,omitempty" yaml:"incomplete,omitempty"`
	// Error carries the human-readable failure reason when State is failed.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	// Rounds counts the model calls spent on this task.
	Rounds     int       `json:"rounds,omitempty" yaml:"rounds,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// -------------------------------------------------------
// Message
// -------------------------------------------------------

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// Message is one turn in a task's conversation. Agent messages may carry
// tool-call requests instead of (or alongside) text; tool messages carry
// exactly one tool result.
type Message struct {
	ID        string     `json:"id" yaml:"id"`
	Role      Role       `json:"role" yaml:"role"`
	Text      string     `json:"text,omitempty" yaml:"text,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty" yaml:"toolCalls,omitempty"`
	// ToolResult is set on tool-role messages only.
	ToolResult *ToolResult `json:"toolResult,omitempty" yaml:"toolResult,omitempty"`
	CreatedAt  time.Time   `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

// ToolCall is a tool invocation requested by the model: a tool name plus
// raw JSON arguments, identified by a call id that the matching ToolResult
// echoes back.
type ToolCall struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Arguments string `json:"arguments" yaml:"arguments"`
}

// ToolResult is the structured outcome of executing a ToolCall.
type ToolResult struct {
	CallID string `json:"callId" yaml:"callId"`
	Name   string `json:"name" yaml:"name"`
	// Content is the JSON-encoded tool output on success.
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
	// Error holds the structured error when the call did not succeed. Failed
	// calls are still fed back to the model so it can respond gracefully
	// instead of hallucinating a value.
	Error *ToolError `json:"error,omitempty" yaml:"error,omitempty"`
}

// ToolError classifies a failed tool call.
type ToolError struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

// Tool error codes shared between the provider's wire envelope and the
// orchestrator's taxonomy.
const (
	ToolErrInvalidCall  = "invalid_tool_call"
	ToolErrUnreachable  = "tool_unreachable"
	ToolErrRuntimeError = "tool_runtime_error"
)

// -------------------------------------------------------
// Tool schemas
// -------------------------------------------------------

// ToolSchema describes one callable operation published by the tool
// provider. Parameters is a JSON Schema object for the tool's arguments.
type ToolSchema struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	Parameters  map[string]interface{} `json:"parameters" yaml:"parameters"`
}

// -------------------------------------------------------
// Agent card
// -------------------------------------------------------

// AgentSkill advertises one capability on the agent card.
type AgentSkill struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// AgentCard is the discovery document served at /.well-known/agent.json.
type AgentCard struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	URL         string       `json:"url" yaml:"url"`
	Version     string       `json:"version" yaml:"version"`
	InputModes  []string     `json:"defaultInputModes" yaml:"defaultInputModes"`
	OutputModes []string     `json:"defaultOutputModes" yaml:"defaultOutputModes"`
	Streaming   bool         `json:"streaming" yaml:"streaming"`
	Skills      []AgentSkill `json:"skills" yaml:"skills"`
}

// -------------------------------------------------------
// Watch types
// -------------------------------------------------------

// EventType represents the type of a watch event.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
)

// WatchEvent is emitted when a resource changes in the store.
type WatchEvent struct {
	Type   EventType
	Kind   string
	Key    string
	Object interface{}
}
