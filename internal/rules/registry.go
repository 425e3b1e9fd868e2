package rules

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps title identifiers to their rules capability. One concrete
// capability is selected per game at creation time; the session core looks
// it up by the game's title id.
type Registry struct {
	mu     sync.RWMutex
	titles map[string]Capability
}

func NewRegistry() *Registry {
	return &Registry{titles: make(map[string]Capability)}
}

// Register adds a capability under the given title id. Registering the same
// title twice is a configuration error.
func (r *Registry) Register(titleID string, cap Capability) error {
	if titleID == "" {
		return fmt.Errorf("rules: empty title id")
	}
	if cap == nil {
		return fmt.Errorf("rules: nil capability for title %q", titleID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.titles[titleID]; exists {
		return fmt.Errorf("rules: title %q already registered", titleID)
	}
	r.titles[titleID] = cap
	return nil
}

// Lookup returns the capability registered for the title id.
func (r *Registry) Lookup(titleID string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.titles[titleID]
	return cap, ok
}

// Titles lists all registered title ids in sorted order.
func (r *Registry) Titles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	titles := make([]string, 0, len(r.titles))
	for id := range r.titles {
		titles = append(titles, id)
	}
	sort.Strings(titles)
	return titles
}
