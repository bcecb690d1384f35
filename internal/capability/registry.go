package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the named capabilities available to the reasoning loop.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Executor)}
}

// Register adds a capability. Registering the same name twice is a wiring
// bug and fails loudly.
func (r *Registry) Register(exec Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := exec.Definition().Name
	if name == "" {
		return fmt.Errorf("capability has empty name")
	}
	if _, exists := r.caps[name]; exists {
		return fmt.Errorf("capability already registered: %s", name)
	}
	r.caps[name] = exec
	return nil
}

// MustRegister registers and panics on conflict; for static wiring in main.
func (r *Registry) MustRegister(execs ...Executor) {
	for _, exec := range execs {
		if err := r.Register(exec); err != nil {
			panic(err)
		}
	}
}

// Get returns the executor for name.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("capability not found: %s", name)
	}
	return exec, nil
}

// Definitions returns all capability schemas sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.caps))
	for _, exec := range r.caps {
		defs = append(defs, exec.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Provider is the narrow lookup surface the reasoning loop depends on.
type Provider interface {
	Get(name string) (Executor, error)
	Definitions() []Definition
}

// Subset returns a view restricted to the named capabilities. Sub-routines
// run against such views so a delegated goal cannot reach tools outside its
// scope.
func (r *Registry) Subset(names ...string) Provider {
	allowed := make(map[string]bool, len(names))
	for _, name := range names {
		allowed[name] = true
	}
	return &filteredRegistry{parent: r, allow: allowed}
}

// Without returns a view that excludes the named capabilities; used to keep
// the delegate capability out of its own sub-routines.
func (r *Registry) Without(names ...string) Provider {
	excluded := make(map[string]bool, len(names))
	for _, name := range names {
		excluded[name] = true
	}
	return &filteredRegistry{parent: r, exclude: excluded}
}

type filteredRegistry struct {
	parent  *Registry
	allow   map[string]bool // when non-nil, only these pass
	exclude map[string]bool
}

func (f *filteredRegistry) visible(name string) bool {
	if f.exclude[name] {
		return false
	}
	if f.allow != nil && !f.allow[name] {
		return false
	}
	return true
}

func (f *filteredRegistry) Get(name string) (Executor, error) {
	if !f.visible(name) {
		return nil, fmt.Errorf("capability not available: %s", name)
	}
	return f.parent.Get(name)
}

func (f *filteredRegistry) Definitions() []Definition {
	all := f.parent.Definitions()
	defs := make([]Definition, 0, len(all))
	for _, def := range all {
		if f.visible(def.Name) {
			defs = append(defs, def)
		}
	}
	return defs
}

// Func adapts a plain function into an Executor for small capabilities.
type Func struct {
	Def Definition
	Fn  func(ctx context.Context, tenantID string, call Call) (*Result, error)
}

func (f *Func) Definition() Definition {
	return f.Def
}

func (f *Func) Execute(ctx context.Context, tenantID string, call Call) (*Result, error) {
	return f.Fn(ctx, tenantID, call)
}
