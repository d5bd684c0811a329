package parser

import (
	"sort"
	"sync"

	"firestige.xyz/harpoon/pkg/core"
)

// Registry is the process-wide protocol catalogue. Readers run in
// parallel; writers exclude all readers.
type Registry struct {
	mu     sync.RWMutex
	protos map[string]*ProtocolDef
	usage  map[string]uint64
}

var (
	defaultRegistry *Registry
	registryOnce    sync.Once
)

// DefaultRegistry returns the shared registry with built-ins loaded.
func DefaultRegistry() *Registry {
	registryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.LoadBuiltins()
	})
	return defaultRegistry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		protos: make(map[string]*ProtocolDef),
		usage:  make(map[string]uint64),
	}
}

// Register adds a protocol, rejecting duplicate names.
func (r *Registry) Register(p *ProtocolDef) error {
	if p == nil || p.Name == "" {
		return core.Errorf(core.CodeInvalidArgument, "protocol definition requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.protos[p.Name]; exists {
		return core.ErrProtoExists
	}
	r.protos[p.Name] = p
	return nil
}

// Unregister removes a protocol by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.protos[name]; !exists {
		return core.ErrProtoNotFound
	}
	delete(r.protos, name)
	delete(r.usage, name)
	return nil
}

// Get resolves a protocol and bumps its usage count.
func (r *Registry) Get(name string) (*ProtocolDef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.protos[name]
	if !ok {
		return nil, core.ErrProtoNotFound
	}
	r.usage[name]++
	return p, nil
}

// List returns registered protocol names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.protos))
	for name := range r.protos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UsageCount reports how often Get resolved the named protocol.
func (r *Registry) UsageCount(name string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usage[name]
}

// LoadBuiltins registers the standard protocol set. Already-registered
// names are skipped so the call is idempotent.
func (r *Registry) LoadBuiltins() {
	for _, p := range builtinProtocols() {
		r.mu.Lock()
		if _, exists := r.protos[p.Name]; !exists {
			r.protos[p.Name] = p
		}
		r.mu.Unlock()
	}
}
