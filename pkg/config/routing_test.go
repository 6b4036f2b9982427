package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		Providers: []ProviderConfig{
			{ID: "gemma", Adapter: "ollama", Model: "gemma:2b", Priority: 40, Active: true},
			{ID: "phi3", Adapter: "ollama", Model: "phi3:3.8b", Priority: 30, Active: true},
		},
		EscalationChain: map[string]string{
			"gemma": "phi3",
			"phi3":  NoEscalation,
		},
		Verification: VerificationConfig{JudgeProvider: "gemma"},
	}
	applyRoutingDefaults(cfg)
	return cfg
}

func TestValidateOK(t *testing.T) {
	assert.NoError(t, validRoutingConfig().Validate())
}

func TestValidateNoProviders(t *testing.T) {
	cfg := validRoutingConfig()
	cfg.Providers = nil
	assert.Error(t, cfg.Validate())
}

func TestValidateDuplicateProviderID(t *testing.T) {
	cfg := validRoutingConfig()
	cfg.Providers = append(cfg.Providers, ProviderConfig{ID: "gemma", Adapter: "ollama", Model: "x", Active: true})
	assert.ErrorContains(t, cfg.Validate(), "duplicate provider id")
}

func TestValidateChainReferencesKnownProviders(t *testing.T) {
	cfg := validRoutingConfig()
	cfg.EscalationChain["gemma"] = "ghost"
	assert.ErrorContains(t, cfg.Validate(), "unknown provider")

	cfg = validRoutingConfig()
	cfg.EscalationChain["ghost"] = "gemma"
	assert.ErrorContains(t, cfg.Validate(), "unknown provider")
}

func TestValidateRejectsChainCycle(t *testing.T) {
	cfg := validRoutingConfig()
	cfg.EscalationChain["phi3"] = "gemma"
	assert.ErrorContains(t, cfg.Validate(), "cycle")
}

func TestValidateThresholdRanges(t *testing.T) {
	cfg := validRoutingConfig()
	cfg.Verification.SafetyThreshold = 1.5
	assert.ErrorContains(t, cfg.Validate(), "out of range")

	cfg = validRoutingConfig()
	cfg.Verification.ConfidenceCritical = 0.8 // above accept
	assert.ErrorContains(t, cfg.Validate(), "must be below")
}

func TestValidateJudgeProviderExists(t *testing.T) {
	cfg := validRoutingConfig()
	cfg.Verification.JudgeProvider = "ghost"
	assert.ErrorContains(t, cfg.Validate(), "judge_provider")
}

func TestValidateInvalidRole(t *testing.T) {
	cfg := validRoutingConfig()
	cfg.Providers[0].Role = "sidekick"
	assert.ErrorContains(t, cfg.Validate(), "invalid role")
}

func TestDefaultsApplied(t *testing.T) {
	cfg := &RoutingConfig{
		Providers: []ProviderConfig{
			{ID: "solo", Adapter: "ollama", Model: "m", Active: true},
		},
	}
	applyRoutingDefaults(cfg)

	assert.Equal(t, 2, cfg.MaxEscalations)
	assert.Equal(t, 0.7, cfg.Verification.SafetyThreshold)
	assert.Equal(t, 0.65, cfg.Verification.ConfidenceAccept)
	assert.Equal(t, 0.4, cfg.Verification.ConfidenceCritical)
	assert.Equal(t, 30*time.Second, cfg.Probe.Interval())
	assert.Equal(t, 5, cfg.Probe.Window)
	assert.Equal(t, 0.5, cfg.Probe.FailureRate)
	assert.Equal(t, 3, cfg.Probe.ConsecutiveFailures)
	assert.Equal(t, 30*time.Second, cfg.Probe.Cooldown())
	assert.Equal(t, 2.0, cfg.Probe.BackoffMultiplier)
	assert.Equal(t, 5*time.Minute, cfg.Probe.MaxCooldown())
}

func TestDefaultRoutingConfigIsValid(t *testing.T) {
	cfg := DefaultRoutingConfig()
	require.NoError(t, cfg.Validate())

	// The default ladder ends at mistral.
	assert.Equal(t, "phi3", cfg.EscalationChain["gemma"])
	assert.Equal(t, NoEscalation, cfg.EscalationChain["mistral"])
}

func TestLoadRoutingConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.yaml")

	yaml := `
providers:
  - id: gemma
    adapter: ollama
    model: gemma:2b
    priority: 40
    active: true
  - id: phi3
    adapter: ollama
    model: phi3:3.8b
    priority: 30
    active: true
escalation_chain:
  gemma: phi3
  phi3: ""
max_escalations: 1
verification:
  judge_provider: gemma
  safety_threshold: 0.8
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadRoutingConfig(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Providers, 2)
	assert.Equal(t, 1, cfg.MaxEscalations)
	assert.Equal(t, 0.8, cfg.Verification.SafetyThreshold)
	// Untouched fields get defaults.
	assert.Equal(t, 0.65, cfg.Verification.ConfidenceAccept)
}

func TestLoadRoutingConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.yaml")

	yaml := `
providers:
  - id: a
    adapter: ollama
    model: m
    active: true
escalation_chain:
  a: a
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	_, err := LoadRoutingConfig(path)
	assert.Error(t, err)
}

func TestLoadRoutingConfigMissingFile(t *testing.T) {
	_, err := LoadRoutingConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
