package persona

import (
	"sort"
	"strings"
	"sync"
)

// Registry resolves persona ids. Unknown ids resolve to the default persona.
type Registry struct {
	mu       sync.RWMutex
	personas map[string]Persona
}

// NewRegistry builds a registry from the built-in catalog plus overrides.
// Overrides with an existing id replace the built-in entry.
func NewRegistry(overrides ...Persona) *Registry {
	r := &Registry{personas: make(map[string]Persona)}
	for _, p := range Builtin() {
		r.personas[p.ID] = p.withDefaults()
	}
	for _, p := range overrides {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a persona.
func (r *Registry) Register(p Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personas[p.ID] = p.withDefaults()
}

// Lookup returns the persona for id, falling back to DefaultID. The bool
// reports whether id itself was known.
func (r *Registry) Lookup(id string) (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.personas[strings.TrimSpace(id)]; ok {
		return p, true
	}
	return r.personas[DefaultID], false
}

// List returns every persona ordered by id.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
