package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/mohammed-shakir/wmsd/internal/geo"
	"github.com/mohammed-shakir/wmsd/internal/wmserr"
)

// configuration errors; fatal at startup
var (
	ErrDuplicateLayer    = errors.New("layer already registered")
	ErrDuplicateStyle    = errors.New("style already registered")
	ErrUnknownStyle      = errors.New("style not registered")
	ErrInvalidExtent     = errors.New("invalid layer extent")
	ErrInvalidDefinition = errors.New("invalid definition")
	ErrRegistryFrozen    = errors.New("registry is frozen")
)

const defaultPriorityBase = 1000

// Registry maps layer and style names to their definitions. Registration
// happens during startup; once Freeze is called it is read-only.
type Registry struct {
	mu        sync.RWMutex
	layers    map[string]LayerDefinition
	order     []string
	styles    map[string]StyleDefinition
	providers []TreeProvider
	frozen    bool
}

func New() *Registry {
	return &Registry{
		layers: map[string]LayerDefinition{},
		styles: map[string]StyleDefinition{},
	}
}

// RegisterStyle adds a legend generator.
func (r *Registry) RegisterStyle(def StyleDefinition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" || def.Legend == nil {
		return fmt.Errorf("style %q: name and legend are required: %w", def.Name, ErrInvalidDefinition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register style %q: %w", name, ErrRegistryFrozen)
	}
	if _, ok := r.styles[name]; ok {
		return fmt.Errorf("style %q: %w", name, ErrDuplicateStyle)
	}
	def.Name = name
	r.styles[name] = def
	return nil
}

// RegisterLayer validates and stores a layer. Layers registered without a
// priority get 1000 plus the number of layers registered so far.
func (r *Registry) RegisterLayer(l Layer) (LayerDefinition, error) {
	name := strings.TrimSpace(l.Name)
	if name == "" || l.Render == nil {
		return LayerDefinition{}, fmt.Errorf("layer %q: name and renderer are required: %w", l.Name, ErrInvalidDefinition)
	}
	bbox := l.BBox
	if bbox.IsZero() {
		bbox = geo.World
	}
	if !bbox.Valid() {
		return LayerDefinition{}, fmt.Errorf("layer %q extent %v: %w", name, bbox, ErrInvalidExtent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return LayerDefinition{}, fmt.Errorf("register layer %q: %w", name, ErrRegistryFrozen)
	}
	if _, ok := r.layers[name]; ok {
		return LayerDefinition{}, fmt.Errorf("layer %q: %w", name, ErrDuplicateLayer)
	}
	for _, s := range l.Styles {
		if _, ok := r.styles[s]; !ok {
			return LayerDefinition{}, fmt.Errorf("layer %q references style %q: %w", name, s, ErrUnknownStyle)
		}
	}

	prio := defaultPriorityBase + len(r.layers)
	if l.Priority != nil {
		prio = *l.Priority
	}

	def := LayerDefinition{
		Name:     name,
		Title:    orDefault(l.Title, "Title"),
		Abstract: orDefault(l.Abstract, "Abstract"),
		BBox:     bbox,
		Priority: prio,
		Styles:   slices.Clone(l.Styles),
		Render:   l.Render,
	}
	r.layers[name] = def
	r.order = append(r.order, name)
	return def, nil
}

func (r *Registry) RegisterTreeProvider(p TreeProvider) error {
	if p == nil {
		return fmt.Errorf("nil tree provider: %w", ErrInvalidDefinition)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register tree provider: %w", ErrRegistryFrozen)
	}
	r.providers = append(r.providers, p)
	return nil
}

// Freeze ends the startup phase.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Layer returns the named layer or a LayerNotDefined protocol error.
func (r *Registry) Layer(name string) (LayerDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.layers[name]; ok {
		return def, nil
	}
	return LayerDefinition{}, wmserr.LayerNotDefined(name)
}

// Style returns the named style or a StyleNotDefined protocol error.
func (r *Registry) Style(name string) (StyleDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.styles[name]; ok {
		return def, nil
	}
	return StyleDefinition{}, wmserr.StyleNotDefined(name)
}

// AllLayers returns a copy of the layer map.
func (r *Registry) AllLayers() map[string]LayerDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.layers)
}

// LayerNames returns layer names in registration order.
func (r *Registry) LayerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Registry) TreeProviders() []TreeProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.providers)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
