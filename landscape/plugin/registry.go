package plugin

import (
	"fmt"
	"sync"

	"github.com/landscaperun/landscape/landscape"
)

// Registration pairs a plugin instance with the Meta it declared. The
// registry stores the interface value under its NodeType so the
// orchestrator can ask "give me the Sink named X" without a type switch
// at every call site.
type Registration struct {
	Meta     Meta
	NodeType landscape.NodeType
	Plugin   any
}

// Registry holds every plugin instance a run's graph may reference, keyed
// by name. Registration is validate-then-store: a plugin with an
// undeclared determinism, a missing name, or a batch-aware flag that
// doesn't match its actual Go type is rejected rather than discovered to
// be broken the first time the orchestrator calls it.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Registration
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Registration)}
}

// RegisterSource adds a Source plugin.
func (r *Registry) RegisterSource(p Source) error {
	return r.register(p.Meta(), landscape.NodeTypeSource, p)
}

// RegisterTransform adds a Transform plugin. If meta.IsBatchAware is set,
// p must also implement BatchProcessor.
func (r *Registry) RegisterTransform(p Transform) error {
	meta := p.Meta()
	if meta.IsBatchAware {
		if _, ok := p.(BatchProcessor); !ok {
			return fmt.Errorf("plugin: %q declares is_batch_aware but does not implement BatchProcessor", meta.Name)
		}
	}
	return r.register(meta, landscape.NodeTypeTransform, p)
}

// RegisterGate adds a Gate plugin.
func (r *Registry) RegisterGate(p Gate) error {
	return r.register(p.Meta(), landscape.NodeTypeGate, p)
}

// RegisterSink adds a Sink plugin.
func (r *Registry) RegisterSink(p Sink) error {
	return r.register(p.Meta(), landscape.NodeTypeSink, p)
}

// RegisterAggregation adds an Aggregation plugin. Aggregations are always
// batch-aware by construction (they only operate on batches), so unlike
// RegisterTransform there is no is_batch_aware flag to check.
func (r *Registry) RegisterAggregation(p Aggregation) error {
	return r.register(p.Meta(), landscape.NodeTypeAggregation, p)
}

func (r *Registry) register(meta Meta, nodeType landscape.NodeType, p any) error {
	if meta.Name == "" {
		return fmt.Errorf("plugin: name is required")
	}
	node := landscape.NodeRecord{NodeID: meta.Name, Determinism: meta.Determinism}
	if err := node.Validate(); err != nil {
		return fmt.Errorf("plugin: %q: %w", meta.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byKey == nil {
		r.byKey = make(map[string]Registration)
	}
	if _, dup := r.byKey[meta.Name]; dup {
		return fmt.Errorf("plugin: %q already registered", meta.Name)
	}
	r.byKey[meta.Name] = Registration{Meta: meta, NodeType: nodeType, Plugin: p}
	return nil
}

// Lookup returns the registration for name, or ok=false if nothing by
// that name was ever registered.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byKey[name]
	return reg, ok
}

// Source returns the named plugin as a Source, or ok=false if it isn't
// one (missing, or registered under a different interface).
func (r *Registry) Source(name string) (Source, bool) {
	reg, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	p, ok := reg.Plugin.(Source)
	return p, ok
}

// Transform returns the named plugin as a Transform.
func (r *Registry) Transform(name string) (Transform, bool) {
	reg, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	p, ok := reg.Plugin.(Transform)
	return p, ok
}

// Gate returns the named plugin as a Gate.
func (r *Registry) Gate(name string) (Gate, bool) {
	reg, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	p, ok := reg.Plugin.(Gate)
	return p, ok
}

// Sink returns the named plugin as a Sink.
func (r *Registry) Sink(name string) (Sink, bool) {
	reg, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	p, ok := reg.Plugin.(Sink)
	return p, ok
}

// Aggregation returns the named plugin as an Aggregation.
func (r *Registry) Aggregation(name string) (Aggregation, bool) {
	reg, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	p, ok := reg.Plugin.(Aggregation)
	return p, ok
}

// Names returns every registered plugin name, for graph validation
// (spec §7: "validation failures list every problem").
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byKey))
	for name := range r.byKey {
		names = append(names, name)
	}
	return names
}
