package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kailas-cloud/askdb/internal/config"
)

// Port is a named component input.
type Port struct {
	Name     string
	Optional bool
}

// Values carries component inputs or outputs keyed by port name.
type Values map[string]any

// Component is one stage implementation. Run receives the resolved inputs
// and returns values for a subset of its declared outputs.
type Component interface {
	Inputs() []Port
	Outputs() []string
	Run(ctx context.Context, in Values) (Values, error)
}

// StageSpec is everything a factory needs to build a component.
type StageSpec struct {
	PipelineID    string
	StageID       string
	ComponentType string
	ComponentID   string
	Store         string // effective store name: stage setting, else pipeline store
	Settings      config.Effective
}

// Factory builds a component for one stage of one pipeline.
type Factory func(spec StageSpec) (Component, error)

// AnyID registers a factory for every component id of a type.
const AnyID = "*"

type registryKey struct {
	componentType string
	componentID   string
}

// Registry maps (component type, component id) to factories. It is filled
// at startup and read when pipelines are built.
type Registry struct {
	mu        sync.RWMutex
	factories map[registryKey]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[registryKey]Factory)}
}

// Register adds a factory. componentID may be AnyID.
func (r *Registry) Register(componentType, componentID string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[registryKey{componentType, componentID}] = f
}

// Lookup returns the factory for the exact id, falling back to AnyID.
func (r *Registry) Lookup(componentType, componentID string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.factories[registryKey{componentType, componentID}]; ok {
		return f, true
	}
	f, ok := r.factories[registryKey{componentType, AnyID}]
	return f, ok
}

// Registered lists "type/id" pairs in order.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, fmt.Sprintf("%s/%s", k.componentType, k.componentID))
	}
	sort.Strings(out)
	return out
}
