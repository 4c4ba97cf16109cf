package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Capability is a named operation an agent may invoke through a tool
// directive in its reply.
type Capability interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// Registry maps capability names to implementations, preserving insertion
// order.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Capability
	order []string
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Capability)}
}

// Add registers c, replacing any capability with the same name.
func (r *Registry) Add(c Capability) error {
	if c == nil || c.Name() == "" {
		return ErrMissingCapability
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[c.Name()]; !ok {
		r.order = append(r.order, c.Name())
	}
	r.byKey[c.Name()] = c
	return nil
}

// Register adds c and fails if the name is taken.
func (r *Registry) Register(c Capability) error {
	if c == nil || c.Name() == "" {
		return ErrMissingCapability
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[c.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, c.Name())
	}
	r.byKey[c.Name()] = c
	r.order = append(r.order, c.Name())
	return nil
}

func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byKey[name]
	return c, ok
}

// List returns the capabilities in registration order.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byKey[name])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Describe renders "- name: description" lines.
func (r *Registry) Describe() string {
	var b strings.Builder
	for i, c := range r.List() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", c.Name(), c.Description())
	}
	return b.String()
}

// FuncCapability adapts a function to Capability.
type FuncCapability struct {
	name        string
	description string
	fn          func(ctx context.Context, params map[string]any) (any, error)
}

func NewFuncCapability(name, description string, fn func(ctx context.Context, params map[string]any) (any, error)) *FuncCapability {
	return &FuncCapability{name: name, description: description, fn: fn}
}

func (f *FuncCapability) Name() string        { return f.name }
func (f *FuncCapability) Description() string { return f.description }

func (f *FuncCapability) Execute(ctx context.Context, params map[string]any) (any, error) {
	return f.fn(ctx, params)
}

// SearchCapability is a simulated web search returning one canned result
// per query.
type SearchCapability struct{}

func NewSearchCapability() *SearchCapability {
	return &SearchCapability{}
}

func (SearchCapability) Name() string        { return "google_search" }
func (SearchCapability) Description() string { return "Search the web using Google" }

func (SearchCapability) Execute(ctx context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("%w: query", ErrMissingParam)
	}
	return map[string]any{
		"query": query,
		"results": []map[string]string{{
			"title":   "Result for " + query,
			"url":     "https://example.com",
			"snippet": "Information about " + query,
		}},
	}, nil
}
