// Package tools exposes project operations as model-callable tools.
// Every tool runs on behalf of the conversation stored in the context.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/p-blackswan/project-assistant/internal/config"
	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/llm"
	"github.com/p-blackswan/project-assistant/internal/project"
)

// Tool is the interface all assistant tools implement.
type Tool interface {
	// Schema returns the tool's name, description, and JSON Schema for inputs.
	Schema() llm.ToolSchema

	// Execute runs the tool with the given JSON input and returns a result string.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Scoped is implemented by tools that are only offered to some roles or
// only under templates that track progress.
type Scoped interface {
	Roles() []conversation.Role
	TracksProgressOnly() bool
}

type callerKey struct{}

// WithCaller returns a context carrying the invoking conversation.
func WithCaller(ctx context.Context, c project.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored by WithCaller.
func CallerFrom(ctx context.Context) (project.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(project.Caller)
	return c, ok && c.ConversationID != ""
}

// Registry holds all registered tools and provides lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry. Panics on duplicate name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Schema().Name
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tool already registered: %s", name))
	}
	r.tools[name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns all tool schemas sorted by name.
func (r *Registry) Schemas() []llm.ToolSchema {
	return r.filter(func(Tool) bool { return true })
}

// ForRole returns the schemas offered to a conversation of the given role
// under tpl. The shareable template gets none.
func (r *Registry) ForRole(role conversation.Role, tpl config.Template) []llm.ToolSchema {
	if role == conversation.RoleShareableTemplate {
		return nil
	}
	return r.filter(func(t Tool) bool { return allowed(t, role, tpl) })
}

func (r *Registry) filter(keep func(Tool) bool) []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]llm.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		if keep(t) {
			schemas = append(schemas, t.Schema())
		}
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

func allowed(t Tool, role conversation.Role, tpl config.Template) bool {
	s, ok := t.(Scoped)
	if !ok {
		return true
	}
	if s.TracksProgressOnly() && !tpl.TrackProgress {
		return false
	}
	roles := s.Roles()
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Execute runs a tool by name with JSON input.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", perrors.New(perrors.ErrNotFound, "Unknown tool %q.", name)
	}
	return t.Execute(ctx, input)
}

// MustSchema builds a json.RawMessage from a Go value (panics on error).
func MustSchema(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("MustSchema: %v", err))
	}
	return b
}

// object builds a JSON Schema object with the given properties.
func object(props map[string]any, required ...string) json.RawMessage {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return MustSchema(s)
}

func str(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
func num(desc string) map[string]any { return map[string]any{"type": "integer", "description": desc} }
func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}
func strList(desc string) map[string]any {
	return map[string]any{"type": "array", "description": desc, "items": map[string]string{"type": "string"}}
}
