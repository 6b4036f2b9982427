package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watcherTestYAML = `
providers:
  - id: gemma
    adapter: ollama
    model: gemma:2b
    active: true
escalation_chain:
  gemma: ""
`

func TestWatcherReloadDeliversNewConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherTestYAML), 0644))

	var got *RoutingConfig
	w, err := NewWatcher(path, func(cfg *RoutingConfig) { got = cfg }, nil)
	require.NoError(t, err)
	defer w.Close()

	w.reload()

	require.NotNil(t, got)
	assert.Len(t, got.Providers, 1)
	assert.Equal(t, "gemma", got.Providers[0].ID)
}

func TestWatcherRejectsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: []\n"), 0644))

	called := false
	w, err := NewWatcher(path, func(*RoutingConfig) { called = true }, nil)
	require.NoError(t, err)
	defer w.Close()

	// An invalid file never reaches the callback; the previous config
	// stays in effect.
	w.reload()
	assert.False(t, called)
}
