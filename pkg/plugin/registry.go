package plugin

import (
	"sort"
	"sync"

	"firestige.xyz/harpoon/pkg/core"
)

// Registry holds registered plugins by name with a per-process cap.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	max     int
	plugins map[string]Plugin
}

// NewRegistry builds a registry capped at max plugins. A non-positive
// max means unbounded.
func NewRegistry(max int) *Registry {
	return &Registry{max: max, plugins: make(map[string]Plugin)}
}

// Register adds a plugin. Names are unique across kinds.
func (r *Registry) Register(p Plugin) error {
	md := p.Metadata()
	if md.Name == "" {
		return core.Errorf(core.CodeInvalidArgument, "plugin has no name")
	}
	switch md.Kind {
	case KindCapturer, KindParser, KindProcessor, KindReporter:
	default:
		return core.Errorf(core.CodeInvalidArgument, "plugin %q has unknown kind %q", md.Name, md.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[md.Name]; ok {
		return core.Errorf(core.CodeInvalidArgument, "plugin %q already registered", md.Name)
	}
	if r.max > 0 && len(r.plugins) >= r.max {
		return core.Errorf(core.CodeResourceUnavailable, "plugin limit %d reached", r.max)
	}
	r.plugins[md.Name] = p
	return nil
}

// Get returns the named plugin.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok {
		return nil, core.Errorf(core.CodeInvalidArgument, "unknown plugin %q", name)
	}
	return p, nil
}

// List returns plugins of one kind, or all for the empty kind, sorted
// by name.
func (r *Registry) List(kind Kind) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Plugin
	for _, p := range r.plugins {
		if kind == "" || p.Metadata().Kind == kind {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata().Name < out[j].Metadata().Name
	})
	return out
}

// Len reports the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry used by package
// level Register calls.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(0)
	})
	return defaultRegistry
}

// Register adds a plugin to the default registry.
func Register(p Plugin) error {
	return DefaultRegistry().Register(p)
}
