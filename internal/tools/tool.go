// Package tools holds the tool registry, the executor that runs tool
// requests on behalf of the model, and the built-in tools.
package tools

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/prompt"
)

// Tool is a named capability the model can invoke with a free-text query.
//
// Execute returns an error for provider failures. A result with IsError set
// and a nil error is a soft failure, such as an unreachable web page, that
// the model should see but that says nothing about the provider's health.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, query string) (model.ToolResult, error)
}

// Registry maps tool names to tools.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a registry from tools, rejecting duplicate names.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return eris.New("tools: tool must have a name")
	}
	if _, ok := r.tools[t.Name()]; ok {
		return eris.Errorf("tools: duplicate tool %q", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Specs describes the registered tools for the system prompt.
func (r *Registry) Specs() []prompt.ToolSpec {
	specs := make([]prompt.ToolSpec, 0, len(r.order))
	for _, n := range r.order {
		specs = append(specs, prompt.ToolSpec{Name: n, Description: r.tools[n].Description()})
	}
	return specs
}

// Len returns the number of tools.
func (r *Registry) Len() int { return len(r.tools) }

// SortedNames returns tool names alphabetically.
func (r *Registry) SortedNames() []string {
	out := r.Names()
	sort.Strings(out)
	return out
}
