// Package registry holds the process-lifetime mapping from tool name to
// handler and input schema. It is write-once-before-serve: registration is
// not expected to race with invocation in normal use.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coreflux/toolgateway/internal/schema"
)

// ErrDuplicateTool is returned by Register when the tool name already exists.
// This is a startup-time configuration error, distinct from the caller-facing
// errkind taxonomy.
var ErrDuplicateTool = errors.New("duplicate_tool")

// Handler executes a tool against already-validated, defaults-applied
// arguments. It must honor ctx cancellation and return a JSON-marshalable
// result or a typed *errkind.Error.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named, schema-validated operation exposed by the gateway.
type Tool struct {
	Name        string
	Description string
	InputSchema *schema.Field
	Handler     Handler
}

// Metadata is the discovery-facing shape of a Tool.
type Metadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	JSONSchema  map[string]any `json:"json_schema"`
}

// Registry is the process-lifetime tool table.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool, failing with a duplicate_tool error if the name is
// already registered.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// RegisterMany registers each tool in order, stopping at the first error.
func (r *Registry) RegisterMany(tools []Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// ListNames returns tool names in registration order.
func (r *Registry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Metadata returns discovery metadata for every registered tool, in
// registration order.
func (r *Registry) Metadata() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Metadata{
			Name:        t.Name,
			Description: t.Description,
			JSONSchema:  t.InputSchema.JSONSchema(),
		})
	}
	return out
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}
