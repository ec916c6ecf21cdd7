package guardrail

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps check names to implementations. Each service builds its own
// registry and hands it to the executor; there is no package-level default.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Register adds a check. Registering a name twice is a wiring bug and is
// rejected so it surfaces at startup instead of shadowing a check silently.
func (r *Registry) Register(c Check) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("guardrail: check with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[name]; exists {
		return fmt.Errorf("guardrail: check %q already registered", name)
	}
	r.checks[name] = c
	return nil
}

// MustRegister is Register for static wiring in main, panicking on conflict.
func (r *Registry) MustRegister(c Check) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the check registered under name.
func (r *Registry) Lookup(name string) (Check, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[name]
	return c, ok
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
