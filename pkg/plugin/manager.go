package plugin

import (
	"context"

	"firestige.xyz/harpoon/internal/log"
	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/parser"
)

// Manager drives the lifecycle of an enabled subset of a registry.
// Start order is the enabled list's order, or registration-name order
// when the list is empty; Stop runs in reverse.
type Manager struct {
	registry *Registry
	protos   *parser.Registry
	logger   log.Logger

	started []Plugin
}

// NewManager builds a manager over registry. Protocol definitions from
// ProtocolProvider plugins are added to protos on start; a nil protos
// uses the parser's process default.
func NewManager(registry *Registry, protos *parser.Registry) *Manager {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if protos == nil {
		protos = parser.DefaultRegistry()
	}
	return &Manager{
		registry: registry,
		protos:   protos,
		logger:   log.GetLogger().WithField("component", "plugin"),
	}
}

// InitAll initializes the named plugins with their config subtrees.
// An empty enabled list initializes every registered plugin.
func (m *Manager) InitAll(enabled []string, cfgs map[string]map[string]any) error {
	for _, p := range m.resolve(enabled) {
		name := p.Metadata().Name
		if err := p.Init(cfgs[name]); err != nil {
			return core.Wrap(core.CodeInitializationFailed, err, "init plugin "+name)
		}
	}
	return nil
}

// StartAll starts the named plugins and registers the protocol
// definitions of any ProtocolProvider among them. A failure stops the
// already started plugins before returning.
func (m *Manager) StartAll(ctx context.Context, enabled []string) error {
	for _, p := range m.resolve(enabled) {
		name := p.Metadata().Name
		if err := p.Start(ctx); err != nil {
			m.StopAll(ctx)
			return core.Wrap(core.CodeInitializationFailed, err, "start plugin "+name)
		}
		m.started = append(m.started, p)
		m.logger.WithField("plugin", name).Info("plugin started")

		if pp, ok := p.(ProtocolProvider); ok {
			for _, def := range pp.Definitions() {
				if err := m.protos.Register(def); err != nil {
					m.logger.WithField("plugin", name).
						WithField("protocol", def.Name).
						WithError(err).Warn("protocol registration failed")
				}
			}
		}
	}
	return nil
}

// StopAll stops started plugins in reverse order. Errors are logged,
// not returned; every plugin gets its Stop call.
func (m *Manager) StopAll(ctx context.Context) {
	for i := len(m.started) - 1; i >= 0; i-- {
		p := m.started[i]
		if err := p.Stop(ctx); err != nil {
			m.logger.WithField("plugin", p.Metadata().Name).
				WithError(err).Warn("plugin stop failed")
		}
	}
	m.started = nil
}

// Processors returns the started Processor plugins in start order.
func (m *Manager) Processors() []Processor {
	var out []Processor
	for _, p := range m.started {
		if proc, ok := p.(Processor); ok {
			out = append(out, proc)
		}
	}
	return out
}

// Reporters returns the started Reporter plugins in start order.
func (m *Manager) Reporters() []Reporter {
	var out []Reporter
	for _, p := range m.started {
		if rep, ok := p.(Reporter); ok {
			out = append(out, rep)
		}
	}
	return out
}

func (m *Manager) resolve(enabled []string) []Plugin {
	if len(enabled) == 0 {
		return m.registry.List("")
	}
	var out []Plugin
	for _, name := range enabled {
		p, err := m.registry.Get(name)
		if err != nil {
			m.logger.WithField("plugin", name).Warn("enabled plugin not registered")
			continue
		}
		out = append(out, p)
	}
	return out
}
