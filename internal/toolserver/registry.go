// Package toolserver hosts Chrona's tool provider: a fixed registry of
// schema-described operations exposed over HTTP for discovery and
// invocation.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// Handler is one callable tool: a schema plus an invocation function.
// Invoke receives the raw JSON argument object produced by the model and
// returns a JSON-marshalable result.
type Handler interface {
	Schema() v1alpha1.ToolSchema
	Invoke(ctx context.Context, args json.RawMessage) (interface{}, error)
}

// RuntimeError reports that a tool executed but failed in its own domain
// (unknown city, upstream rate limit). It maps to the tool_runtime_error
// code on the wire and is never retried.
type RuntimeError struct {
	Detail string
}

func (e *RuntimeError) Error() string { return e.Detail }

// ArgumentError reports that the supplied arguments did not satisfy the
// tool's schema. It maps to the invalid_tool_call code on the wire.
type ArgumentError struct {
	Detail string
}

func (e *ArgumentError) Error() string { return e.Detail }

// Registry is the fixed set of tools this provider serves. It is populated
// at startup and read-only afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Handler
	order []string // registration order, for stable schema listings
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Handler)}
}

// Register adds a tool. Registering the same name twice is a programming
// error and fails loudly.
func (r *Registry) Register(h Handler) error {
	name := h.Schema().Name
	if name == "" {
		return fmt.Errorf("tool schema has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = h
	r.order = append(r.order, name)
	return nil
}

// Get returns the handler for a tool name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tools[name]
	return h, ok
}

// Schemas returns every registered tool schema in registration order.
func (r *Registry) Schemas() []v1alpha1.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]v1alpha1.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

// reflectSchema derives a JSON Schema parameter object from a tool's
// argument struct.
func reflectSchema(v interface{}) map[string]interface{} {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("reflecting tool schema: %v", err))
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		panic(fmt.Sprintf("decoding tool schema: %v", err))
	}
	// The $schema marker is noise for tool-call parameter objects.
	delete(params, "$schema")
	return params
}
