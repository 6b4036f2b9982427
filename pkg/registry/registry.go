// Package registry holds the catalogue of backend providers. The
// catalogue is read on every routing decision and replaced wholesale on
// config reload; individual descriptors are never mutated in place.
package registry

import (
	"sort"
	"sync"

	"github.com/arbiterhq/arbiter/pkg/config"
)

// Role orders providers independently of numeric priority: primary
// backends sort first, unset in the middle, fallbacks last.
type Role string

const (
	RolePrimary  Role = "primary"
	RoleUnset    Role = ""
	RoleFallback Role = "fallback"
)

func (r Role) rank() int {
	switch r {
	case RolePrimary:
		return 0
	case RoleFallback:
		return 2
	default:
		return 1
	}
}

// Descriptor identifies a backend and its routing attributes.
type Descriptor struct {
	ID          string
	DisplayName string
	Adapter     string
	Model       string
	Tier        int
	CostPer1K   float64
	Priority    int
	Role        Role
	Active      bool
}

// Constraints narrow the candidate set for one request.
type Constraints struct {
	// ProviderID, when set, restricts candidates to that provider.
	ProviderID string
	// Model, when set, restricts candidates to providers serving it.
	Model string
}

// Registry is the provider catalogue.
type Registry struct {
	mu        sync.RWMutex
	providers []Descriptor
}

// New creates a registry from a list of descriptors.
func New(providers []Descriptor) *Registry {
	r := &Registry{}
	r.Replace(providers)
	return r
}

// FromConfig builds a registry from the routing configuration.
func FromConfig(cfg *config.RoutingConfig) *Registry {
	providers := make([]Descriptor, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, Descriptor{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Adapter:     p.Adapter,
			Model:       p.Model,
			Tier:        p.Tier,
			CostPer1K:   p.CostPer1K,
			Priority:    p.Priority,
			Role:        Role(p.Role),
			Active:      p.Active,
		})
	}
	return New(providers)
}

// Replace swaps in a new catalogue, used on config reload.
func (r *Registry) Replace(providers []Descriptor) {
	sorted := make([]Descriptor, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Role.rank() != sorted[j].Role.rank() {
			return sorted[i].Role.rank() < sorted[j].Role.rank()
		}
		return sorted[i].Priority > sorted[j].Priority
	})

	r.mu.Lock()
	r.providers = sorted
	r.mu.Unlock()
}

// ListCandidates returns active providers matching the constraints, in
// routing order. An empty result means no provider is available; it is
// the caller's job to surface that, never to silently default.
func (r *Registry) ListCandidates(c Constraints) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for _, p := range r.providers {
		if !p.Active {
			continue
		}
		if c.ProviderID != "" && p.ID != c.ProviderID {
			continue
		}
		if c.Model != "" && p.Model != c.Model {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Get returns the descriptor with the given id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.ID == id {
			return p, true
		}
	}
	return Descriptor{}, false
}

// All returns every descriptor in routing order, including inactive
// ones, for the admin/reporting surface.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.providers))
	copy(out, r.providers)
	return out
}
