// Package router picks backends: the initial provider for a request
// under health/priority constraints, and the next rung of the fixed
// escalation ladder.
package router

import (
	"errors"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/registry"
)

// ErrNoProviderAvailable means no eligible backend exists at all. It is
// surfaced to the caller, never silently defaulted.
var ErrNoProviderAvailable = errors.New("no provider available")

// ErrEscalationExhausted means the ladder has no usable next rung. It
// is a defined terminal outcome, not a failure.
var ErrEscalationExhausted = errors.New("escalation exhausted")

// HealthView is the read side of the health tracker the selector
// consults.
type HealthView interface {
	Eligible(providerID string) bool
	ObservedLatency(providerID string) time.Duration
}

// Selector routes requests using the registry's ordering, the health
// tracker's circuit states, and the configured escalation chain.
type Selector struct {
	registry *registry.Registry
	health   HealthView

	mu    sync.RWMutex
	chain map[string]string
}

// NewSelector creates a selector with the given escalation chain.
func NewSelector(reg *registry.Registry, health HealthView, chain map[string]string) *Selector {
	return &Selector{
		registry: reg,
		health:   health,
		chain:    chain,
	}
}

// UpdateChain swaps the escalation chain on config reload.
func (s *Selector) UpdateChain(chain map[string]string) {
	s.mu.Lock()
	s.chain = chain
	s.mu.Unlock()
}

func (s *Selector) next(providerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	next, ok := s.chain[providerID]
	return next, ok
}

// SelectInitial picks the first backend for a request: the
// highest-ranked eligible candidate, with ties on role and priority
// broken by lowest observed latency. Half-open circuits stay eligible
// since they must still be tested.
func (s *Selector) SelectInitial(c registry.Constraints) (registry.Descriptor, error) {
	candidates := s.registry.ListCandidates(c)

	var best registry.Descriptor
	found := false
	var bestLatency time.Duration

	for _, cand := range candidates {
		if !s.health.Eligible(cand.ID) {
			continue
		}
		if !found {
			best = cand
			bestLatency = s.health.ObservedLatency(cand.ID)
			found = true
			continue
		}
		// Candidates arrive in routing order; once the leading
		// (role, priority) group ends there is nothing better left.
		if cand.Role != best.Role || cand.Priority != best.Priority {
			break
		}
		latency := s.health.ObservedLatency(cand.ID)
		if latency > 0 && (bestLatency == 0 || latency < bestLatency) {
			best = cand
			bestLatency = latency
		}
	}

	if !found {
		return registry.Descriptor{}, ErrNoProviderAvailable
	}
	return best, nil
}

// SelectNext follows the escalation chain one rung up. Escalation is a
// fixed ladder, not a search: an open circuit on the next rung ends the
// sequence rather than skipping ahead.
func (s *Selector) SelectNext(currentProviderID string) (registry.Descriptor, error) {
	next, ok := s.next(currentProviderID)
	if !ok || next == config.NoEscalation {
		return registry.Descriptor{}, ErrEscalationExhausted
	}

	desc, ok := s.registry.Get(next)
	if !ok || !desc.Active {
		return registry.Descriptor{}, ErrEscalationExhausted
	}
	if !s.health.Eligible(desc.ID) {
		return registry.Descriptor{}, ErrEscalationExhausted
	}
	return desc, nil
}
