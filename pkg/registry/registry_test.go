package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/config"
)

func testProviders() []Descriptor {
	return []Descriptor{
		{ID: "mistral", Adapter: "ollama", Model: "mistral:7b", Tier: 3, Priority: 40, Active: true},
		{ID: "gemma", Adapter: "ollama", Model: "gemma:2b", Tier: 0, Priority: 100, Role: RolePrimary, Active: true},
		{ID: "spare", Adapter: "ollama", Model: "gemma:2b", Tier: 0, Priority: 90, Role: RoleFallback, Active: true},
		{ID: "phi3", Adapter: "ollama", Model: "phi3:3.8b", Tier: 1, Priority: 80, Active: true},
		{ID: "qwen", Adapter: "ollama", Model: "qwen2.5:3b", Tier: 2, Priority: 60, Active: true},
		{ID: "retired", Adapter: "ollama", Model: "old:1b", Tier: 0, Priority: 200, Active: false},
	}
}

func TestRoutingOrder(t *testing.T) {
	reg := New(testProviders())

	var ids []string
	for _, d := range reg.All() {
		ids = append(ids, d.ID)
	}

	// Primary first, then unset by priority descending, fallback last.
	// Inactive providers stay in the catalogue but sort by the same
	// rules.
	assert.Equal(t, []string{"gemma", "retired", "phi3", "qwen", "mistral", "spare"}, ids)
}

func TestListCandidatesSkipsInactive(t *testing.T) {
	reg := New(testProviders())

	for _, d := range reg.ListCandidates(Constraints{}) {
		assert.True(t, d.Active)
		assert.NotEqual(t, "retired", d.ID)
	}
}

func TestListCandidatesByProvider(t *testing.T) {
	reg := New(testProviders())

	out := reg.ListCandidates(Constraints{ProviderID: "qwen"})
	require.Len(t, out, 1)
	assert.Equal(t, "qwen", out[0].ID)
}

func TestListCandidatesByModel(t *testing.T) {
	reg := New(testProviders())

	out := reg.ListCandidates(Constraints{Model: "gemma:2b"})
	require.Len(t, out, 2)
	assert.Equal(t, "gemma", out[0].ID)
	assert.Equal(t, "spare", out[1].ID)
}

func TestListCandidatesEmptyWhenNothingMatches(t *testing.T) {
	reg := New(testProviders())

	assert.Empty(t, reg.ListCandidates(Constraints{ProviderID: "nope"}))
	assert.Empty(t, reg.ListCandidates(Constraints{ProviderID: "retired"}))
}

func TestGet(t *testing.T) {
	reg := New(testProviders())

	d, ok := reg.Get("phi3")
	require.True(t, ok)
	assert.Equal(t, "phi3:3.8b", d.Model)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestReplaceSwapsCatalogue(t *testing.T) {
	reg := New(testProviders())

	reg.Replace([]Descriptor{
		{ID: "solo", Adapter: "ollama", Model: "m", Active: true},
	})

	all := reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, "solo", all[0].ID)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.RoutingConfig{
		Providers: []config.ProviderConfig{
			{ID: "b", Adapter: "ollama", Model: "m2", Priority: 10, Active: true},
			{ID: "a", Adapter: "ollama", Model: "m1", Priority: 20, Role: "primary", Active: true},
		},
	}

	reg := FromConfig(cfg)
	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, RolePrimary, all[0].Role)
}
