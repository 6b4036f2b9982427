package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/registry"
)

// stubHealth scripts eligibility and latency per provider.
type stubHealth struct {
	open    map[string]bool
	latency map[string]time.Duration
}

func (s *stubHealth) Eligible(providerID string) bool {
	return !s.open[providerID]
}

func (s *stubHealth) ObservedLatency(providerID string) time.Duration {
	return s.latency[providerID]
}

func ladderProviders() []registry.Descriptor {
	return []registry.Descriptor{
		{ID: "gemma", Adapter: "ollama", Model: "gemma:2b", Tier: 0, Priority: 100, Active: true},
		{ID: "phi3", Adapter: "ollama", Model: "phi3:3.8b", Tier: 1, Priority: 80, Active: true},
		{ID: "qwen", Adapter: "ollama", Model: "qwen2.5:3b", Tier: 2, Priority: 60, Active: true},
		{ID: "mistral", Adapter: "ollama", Model: "mistral:7b", Tier: 3, Priority: 40, Active: true},
	}
}

func ladderChain() map[string]string {
	return map[string]string{
		"gemma":   "phi3",
		"phi3":    "qwen",
		"qwen":    "mistral",
		"mistral": "",
	}
}

func newTestSelector(health *stubHealth, providers []registry.Descriptor) *Selector {
	return NewSelector(registry.New(providers), health, ladderChain())
}

func TestSelectInitialPicksHighestPriority(t *testing.T) {
	sel := newTestSelector(&stubHealth{open: map[string]bool{}}, ladderProviders())

	d, err := sel.SelectInitial(registry.Constraints{})
	require.NoError(t, err)
	assert.Equal(t, "gemma", d.ID)
}

func TestSelectInitialSkipsOpenCircuits(t *testing.T) {
	health := &stubHealth{open: map[string]bool{"gemma": true, "phi3": true}}
	sel := newTestSelector(health, ladderProviders())

	d, err := sel.SelectInitial(registry.Constraints{})
	require.NoError(t, err)
	assert.Equal(t, "qwen", d.ID)
}

func TestSelectInitialAllOpen(t *testing.T) {
	health := &stubHealth{open: map[string]bool{
		"gemma": true, "phi3": true, "qwen": true, "mistral": true,
	}}
	sel := newTestSelector(health, ladderProviders())

	_, err := sel.SelectInitial(registry.Constraints{})
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestSelectInitialLatencyTieBreak(t *testing.T) {
	providers := []registry.Descriptor{
		{ID: "east", Adapter: "ollama", Model: "m", Priority: 100, Active: true},
		{ID: "west", Adapter: "ollama", Model: "m", Priority: 100, Active: true},
		{ID: "slowtier", Adapter: "ollama", Model: "m", Priority: 50, Active: true},
	}
	health := &stubHealth{
		open: map[string]bool{},
		latency: map[string]time.Duration{
			"east":     80 * time.Millisecond,
			"west":     20 * time.Millisecond,
			"slowtier": 1 * time.Millisecond,
		},
	}
	sel := newTestSelector(health, providers)

	// Latency only breaks ties inside the leading priority group; the
	// faster but lower-priority provider never wins.
	d, err := sel.SelectInitial(registry.Constraints{})
	require.NoError(t, err)
	assert.Equal(t, "west", d.ID)
}

func TestSelectInitialHonorsConstraints(t *testing.T) {
	sel := newTestSelector(&stubHealth{open: map[string]bool{}}, ladderProviders())

	d, err := sel.SelectInitial(registry.Constraints{ProviderID: "qwen"})
	require.NoError(t, err)
	assert.Equal(t, "qwen", d.ID)

	_, err = sel.SelectInitial(registry.Constraints{ProviderID: "missing"})
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestSelectNextFollowsLadder(t *testing.T) {
	sel := newTestSelector(&stubHealth{open: map[string]bool{}}, ladderProviders())

	d, err := sel.SelectNext("gemma")
	require.NoError(t, err)
	assert.Equal(t, "phi3", d.ID)

	d, err = sel.SelectNext("phi3")
	require.NoError(t, err)
	assert.Equal(t, "qwen", d.ID)
}

func TestSelectNextTopOfLadder(t *testing.T) {
	sel := newTestSelector(&stubHealth{open: map[string]bool{}}, ladderProviders())

	_, err := sel.SelectNext("mistral")
	assert.ErrorIs(t, err, ErrEscalationExhausted)
}

func TestSelectNextUnknownProvider(t *testing.T) {
	sel := newTestSelector(&stubHealth{open: map[string]bool{}}, ladderProviders())

	_, err := sel.SelectNext("stranger")
	assert.ErrorIs(t, err, ErrEscalationExhausted)
}

func TestSelectNextNeverSkipsRungs(t *testing.T) {
	// phi3 is down; escalation from gemma ends rather than jumping to
	// qwen.
	health := &stubHealth{open: map[string]bool{"phi3": true}}
	sel := newTestSelector(health, ladderProviders())

	_, err := sel.SelectNext("gemma")
	assert.ErrorIs(t, err, ErrEscalationExhausted)
}

func TestSelectNextInactiveRung(t *testing.T) {
	providers := ladderProviders()
	providers[1].Active = false // phi3
	sel := newTestSelector(&stubHealth{open: map[string]bool{}}, providers)

	_, err := sel.SelectNext("gemma")
	assert.ErrorIs(t, err, ErrEscalationExhausted)
}

func TestUpdateChain(t *testing.T) {
	sel := newTestSelector(&stubHealth{open: map[string]bool{}}, ladderProviders())

	sel.UpdateChain(map[string]string{"gemma": "qwen"})

	d, err := sel.SelectNext("gemma")
	require.NoError(t, err)
	assert.Equal(t, "qwen", d.ID)
}
