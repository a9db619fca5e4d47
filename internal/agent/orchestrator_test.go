package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chronalabs/chrona/internal/llm"
	"github.com/chronalabs/chrona/internal/store"
	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
	"github.com/chronalabs/chrona/pkg/toolclient"
)

// fakeBackend replays a scripted sequence of completions.
type fakeBackend struct {
	turns []func(req llm.Request) (*llm.Completion, error)
	calls int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, &llm.BackendError{Backend: "fake", Err: err}
	}
	if f.calls >= len(f.turns) {
		return nil, &llm.BackendError{Backend: "fake", Err: errors.New("script exhausted")}
	}
	turn := f.turns[f.calls]
	f.calls++
	return turn(req)
}

func answer(text string) func(llm.Request) (*llm.Completion, error) {
	return func(llm.Request) (*llm.Completion, error) {
		return &llm.Completion{Text: text}, nil
	}
}

func callTool(id, name, args string) func(llm.Request) (*llm.Completion, error) {
	return func(llm.Request) (*llm.Completion, error) {
		return &llm.Completion{ToolCalls: []v1alpha1.ToolCall{{ID: id, Name: name, Arguments: args}}}, nil
	}
}

// fakeTools records invocations and answers from a canned map.
type fakeTools struct {
	catalog    []v1alpha1.ToolSchema
	listErr    error
	responses  map[string]json.RawMessage
	invokeErrs map[string]error
	invoked    []string
	// onInvoke, when set, runs at the start of every Invoke.
	onInvoke func()
}

func (f *fakeTools) ListTools(ctx context.Context) ([]v1alpha1.ToolSchema, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.catalog, nil
}

func (f *fakeTools) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	f.invoked = append(f.invoked, name)
	if f.onInvoke != nil {
		f.onInvoke()
	}
	if err := ctx.Err(); err != nil {
		return nil, &toolclient.CallError{Code: v1alpha1.ToolErrUnreachable, Message: fmt.Sprintf("execute request: %v", err)}
	}
	if err, ok := f.invokeErrs[name]; ok {
		return nil, err
	}
	if resp, ok := f.responses[name]; ok {
		return resp, nil
	}
	return nil, &toolclient.CallError{Code: v1alpha1.ToolErrInvalidCall, Message: fmt.Sprintf("unknown tool %q", name)}
}

func datetimeCatalog() []v1alpha1.ToolSchema {
	return []v1alpha1.ToolSchema{
		{Name: "resolve_datetime", Description: "resolves datetimes", Parameters: map[string]interface{}{"type": "object"}},
		{Name: "get_weather", Description: "fetches weather", Parameters: map[string]interface{}{"type": "object"}},
	}
}

func newTask(t *testing.T, s store.Store, question string) *v1alpha1.Task {
	t.Helper()
	task := &v1alpha1.Task{
		TypeMeta: v1alpha1.TypeMeta{APIVersion: v1alpha1.APIVersion, Kind: v1alpha1.KindTask},
		Metadata: v1alpha1.ObjectMeta{ID: "task-1", CreatedAt: time.Now()},
		History: []v1alpha1.Message{
			{ID: "msg-0", Role: v1alpha1.RoleUser, Text: question, CreatedAt: time.Now()},
		},
		Status: v1alpha1.TaskStatus{State: v1alpha1.TaskSubmitted},
	}
	if err := s.Create(store.TaskKey(task.Metadata.ID), task); err != nil {
		t.Fatalf("seeding task: %v", err)
	}
	return task
}

func TestHandleDirectAnswer(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){
		answer("Hello! I can resolve dates and times for you."),
	}}
	tools := &fakeTools{catalog: datetimeCatalog()}
	task := newTask(t, s, "hi there")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskCompleted {
		t.Fatalf("expected completed, got %s", task.Status.State)
	}
	if task.Status.Incomplete {
		t.Error("did not expect incomplete flag")
	}
	if task.Status.Rounds != 1 {
		t.Errorf("expected 1 round, got %d", task.Status.Rounds)
	}
	if len(tools.invoked) != 0 {
		t.Errorf("greeting must not invoke tools, got %v", tools.invoked)
	}
	if task.Status.Answer == "" {
		t.Error("expected a non-empty answer")
	}
}

func TestHandleToolRound(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){
		callTool("call-1", "resolve_datetime", `{"start": {"mode": "relative", "day": 2}}`),
		func(req llm.Request) (*llm.Completion, error) {
			// The previous round must be visible: tool call plus result.
			last := req.History[len(req.History)-1]
			if last.Role != v1alpha1.RoleTool || last.ToolResult == nil {
				return nil, fmt.Errorf("expected tool result in history, got %+v", last)
			}
			if last.ToolResult.Content != `{"parsable": true, "single": {"datetime": "2025-07-18T10:30:45"}}` {
				return nil, fmt.Errorf("unexpected tool content: %s", last.ToolResult.Content)
			}
			return &llm.Completion{Text: "Next Friday is 2025-07-18."}, nil
		},
	}}
	tools := &fakeTools{
		catalog: datetimeCatalog(),
		responses: map[string]json.RawMessage{
			"resolve_datetime": json.RawMessage(`{"parsable": true, "single": {"datetime": "2025-07-18T10:30:45"}}`),
		},
	}
	task := newTask(t, s, "What is the date for next Friday?")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskCompleted {
		t.Fatalf("expected completed, got %s (error: %s)", task.Status.State, task.Status.Error)
	}
	if task.Status.Answer != "Next Friday is 2025-07-18." {
		t.Errorf("unexpected answer: %q", task.Status.Answer)
	}
	if len(tools.invoked) != 1 || tools.invoked[0] != "resolve_datetime" {
		t.Errorf("expected one resolve_datetime invocation, got %v", tools.invoked)
	}
	if task.Status.Rounds != 2 {
		t.Errorf("expected 2 rounds, got %d", task.Status.Rounds)
	}

	// History order: user, agent tool call, tool result, agent answer.
	roles := make([]v1alpha1.Role, 0, len(task.History))
	for _, m := range task.History {
		roles = append(roles, m.Role)
	}
	want := []v1alpha1.Role{v1alpha1.RoleUser, v1alpha1.RoleAgent, v1alpha1.RoleTool, v1alpha1.RoleAgent}
	if len(roles) != len(want) {
		t.Fatalf("expected %d history entries, got %d (%v)", len(want), len(roles), roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("history[%d]: expected %s, got %s", i, want[i], roles[i])
		}
	}
}

func TestHandleRecoversFromInvalidToolCall(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){
		callTool("call-1", "resolve_dattime", `{}`), // misspelled tool name
		func(req llm.Request) (*llm.Completion, error) {
			last := req.History[len(req.History)-1]
			if last.ToolResult == nil || last.ToolResult.Error == nil {
				return nil, fmt.Errorf("expected error tool result, got %+v", last)
			}
			if last.ToolResult.Error.Code != v1alpha1.ToolErrInvalidCall {
				return nil, fmt.Errorf("expected invalid_tool_call, got %s", last.ToolResult.Error.Code)
			}
			return &llm.Completion{ToolCalls: []v1alpha1.ToolCall{
				{ID: "call-2", Name: "resolve_datetime", Arguments: `{"start": {"mode": "now"}}`},
			}}, nil
		},
		answer("It is currently 2025-07-16T10:30:45."),
	}}
	tools := &fakeTools{
		catalog: datetimeCatalog(),
		responses: map[string]json.RawMessage{
			"resolve_datetime": json.RawMessage(`{"parsable": true}`),
		},
	}
	task := newTask(t, s, "what time is it?")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskCompleted {
		t.Fatalf("expected completed after recovery, got %s", task.Status.State)
	}
	// The misspelled call must never reach the provider.
	if len(tools.invoked) != 1 || tools.invoked[0] != "resolve_datetime" {
		t.Errorf("expected only the corrected call to reach the provider, got %v", tools.invoked)
	}
}

func TestHandleMalformedArgumentsRecovered(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){
		callTool("call-1", "resolve_datetime", `{"start": `), // truncated JSON
		answer("Sorry, I could not work that one out."),
	}}
	tools := &fakeTools{catalog: datetimeCatalog()}
	task := newTask(t, s, "when?")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskCompleted {
		t.Fatalf("expected completed, got %s", task.Status.State)
	}
	if len(tools.invoked) != 0 {
		t.Errorf("malformed arguments must not reach the provider, got %v", tools.invoked)
	}
}

func TestHandleRuntimeErrorFedToModel(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){
		callTool("call-1", "get_weather", `{"location": "Tatooine"}`),
		func(req llm.Request) (*llm.Completion, error) {
			last := req.History[len(req.History)-1]
			if last.ToolResult == nil || last.ToolResult.Error == nil {
				return nil, fmt.Errorf("expected error tool result, got %+v", last)
			}
			if last.ToolResult.Error.Code != v1alpha1.ToolErrRuntimeError {
				return nil, fmt.Errorf("expected tool_runtime_error, got %s", last.ToolResult.Error.Code)
			}
			return &llm.Completion{Text: "I could not find weather data for Tatooine."}, nil
		},
	}}
	tools := &fakeTools{
		catalog: datetimeCatalog(),
		invokeErrs: map[string]error{
			"get_weather": &toolclient.CallError{Code: v1alpha1.ToolErrRuntimeError, Message: `unknown location "Tatooine"`},
		},
	}
	task := newTask(t, s, "Is it raining on Tatooine?")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskCompleted {
		t.Fatalf("expected completed, got %s", task.Status.State)
	}
	// Exactly one provider attempt: runtime errors are never retried.
	if len(tools.invoked) != 1 {
		t.Errorf("expected 1 invocation, got %v", tools.invoked)
	}
}

func TestHandleUnreachableToolFailsTask(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){
		callTool("call-1", "resolve_datetime", `{}`),
	}}
	tools := &fakeTools{
		catalog: datetimeCatalog(),
		invokeErrs: map[string]error{
			"resolve_datetime": &toolclient.CallError{Code: v1alpha1.ToolErrUnreachable, Message: "connection refused"},
		},
	}
	task := newTask(t, s, "when?")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskFailed {
		t.Fatalf("expected failed, got %s", task.Status.State)
	}
	if task.Status.Error == "" {
		t.Error("expected a failure reason")
	}
}

func TestHandleBackendErrorFailsTask(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){
		func(llm.Request) (*llm.Completion, error) {
			return nil, &llm.BackendError{Backend: "fake", Err: errors.New("upstream 500")}
		},
	}}
	tools := &fakeTools{catalog: datetimeCatalog()}
	task := newTask(t, s, "hello")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskFailed {
		t.Fatalf("expected failed, got %s", task.Status.State)
	}
}

func TestHandleDiscoveryFailureFailsTask(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	backend := &fakeBackend{}
	tools := &fakeTools{listErr: &toolclient.CallError{Code: v1alpha1.ToolErrUnreachable, Message: "connection refused"}}
	task := newTask(t, s, "hello")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskFailed {
		t.Fatalf("expected failed, got %s", task.Status.State)
	}
	if backend.calls != 0 {
		t.Errorf("backend must not be called when discovery fails, got %d calls", backend.calls)
	}
}

func TestHandleRoundLimit(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	// A model that keeps asking for tools forever.
	loop := callTool("call-x", "resolve_datetime", `{"start": {"mode": "now"}}`)
	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){loop, loop, loop, loop}}
	tools := &fakeTools{
		catalog: datetimeCatalog(),
		responses: map[string]json.RawMessage{
			"resolve_datetime": json.RawMessage(`{"parsable": true}`),
		},
	}
	task := newTask(t, s, "keep going")

	o := New(backend, tools, s, zap.NewNop(), WithRoundLimit(3))
	if err := o.Handle(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskCompleted {
		t.Fatalf("expected completed, got %s", task.Status.State)
	}
	if !task.Status.Incomplete {
		t.Error("expected incomplete flag after round limit")
	}
	if task.Status.Rounds != 3 {
		t.Errorf("expected 3 rounds, got %d", task.Status.Rounds)
	}
	if task.Status.Answer == "" {
		t.Error("expected a stock answer")
	}
}

func TestHandleCancellationAtRoundBoundary(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	ctx, cancelFn := context.WithCancel(context.Background())

	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){
		func(llm.Request) (*llm.Completion, error) {
			// Cancel while the "model" is thinking; the loop must notice
			// at the next boundary.
			cancelFn()
			return &llm.Completion{ToolCalls: []v1alpha1.ToolCall{
				{ID: "call-1", Name: "resolve_datetime", Arguments: `{"start": {"mode": "now"}}`},
			}}, nil
		},
	}}
	tools := &fakeTools{
		catalog: datetimeCatalog(),
		responses: map[string]json.RawMessage{
			"resolve_datetime": json.RawMessage(`{"parsable": true}`),
		},
	}
	task := newTask(t, s, "slow question")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskCanceled {
		t.Fatalf("expected canceled, got %s", task.Status.State)
	}
	// Exactly one model call: the second round never starts.
	if backend.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", backend.calls)
	}
}

func TestHandleCancellationDuringToolCall(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	ctx, cancelFn := context.WithCancel(context.Background())

	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){
		callTool("call-1", "get_weather", `{"location": "London"}`),
	}}
	// The cancel request arrives while the provider call is in flight: the
	// canceled context surfaces as a transport error from the client.
	tools := &fakeTools{
		catalog:  datetimeCatalog(),
		onInvoke: cancelFn,
	}
	task := newTask(t, s, "Is it raining in London?")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskCanceled {
		t.Fatalf("expected canceled, got %s (error: %s)", task.Status.State, task.Status.Error)
	}
	if task.Status.Error != "" {
		t.Errorf("canceled task must not carry a failure reason, got %q", task.Status.Error)
	}

	stored, err := s.Get(store.TaskKey(task.Metadata.ID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status.State != v1alpha1.TaskCanceled {
		t.Errorf("stored state: expected canceled, got %s", stored.Status.State)
	}
}

// flakyStore fails the nth Update and delegates everything else.
type flakyStore struct {
	store.Store
	failAt  int
	updates int
}

func (f *flakyStore) Update(key string, task *v1alpha1.Task) error {
	f.updates++
	if f.updates == f.failAt {
		return errors.New("disk full")
	}
	return f.Store.Update(key, task)
}

func TestHandlePersistFailureDrivesTaskTerminal(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	// Update #1 marks the task working; #2 persists the tool calls.
	s := &flakyStore{Store: mem, failAt: 2}

	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){
		callTool("call-1", "resolve_datetime", `{"start": {"mode": "now"}}`),
	}}
	tools := &fakeTools{
		catalog: datetimeCatalog(),
		responses: map[string]json.RawMessage{
			"resolve_datetime": json.RawMessage(`{"parsable": true}`),
		},
	}
	task := newTask(t, s, "now?")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status.State != v1alpha1.TaskFailed {
		t.Fatalf("expected failed, got %s", task.Status.State)
	}

	// The caller must find a terminal task, not one stuck working.
	stored, err := s.Get(store.TaskKey(task.Metadata.ID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stored.Status.State.Terminal() {
		t.Errorf("stored state: expected terminal, got %s", stored.Status.State)
	}
}

func TestHandlePersistsProgress(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	backend := &fakeBackend{turns: []func(llm.Request) (*llm.Completion, error){
		callTool("call-1", "resolve_datetime", `{"start": {"mode": "now"}}`),
		answer("done"),
	}}
	tools := &fakeTools{
		catalog: datetimeCatalog(),
		responses: map[string]json.RawMessage{
			"resolve_datetime": json.RawMessage(`{"parsable": true}`),
		},
	}
	task := newTask(t, s, "now?")

	o := New(backend, tools, s, zap.NewNop())
	if err := o.Handle(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := s.Get(store.TaskKey(task.Metadata.ID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status.State != v1alpha1.TaskCompleted {
		t.Errorf("stored task not terminal: %s", stored.Status.State)
	}
	if len(stored.History) != len(task.History) {
		t.Errorf("stored history has %d entries, in-memory has %d", len(stored.History), len(task.History))
	}
	for _, m := range stored.History {
		if m.ID == "" {
			t.Error("expected every message to carry an id")
		}
	}
}
