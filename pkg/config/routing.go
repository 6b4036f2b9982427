package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NoEscalation is the chain value marking the top of the escalation
// ladder.
const NoEscalation = ""

// RoutingConfig holds the provider catalogue, escalation chain,
// verification thresholds, and probe parameters. The admin layer owns
// the file; this core only ever reads it.
type RoutingConfig struct {
	Providers       []ProviderConfig    `yaml:"providers"`
	EscalationChain map[string]string   `yaml:"escalation_chain"`
	MaxEscalations  int                 `yaml:"max_escalations"`
	RequestTimeout  int                 `yaml:"request_timeout_ms,omitempty"`
	Verification    VerificationConfig  `yaml:"verification"`
	Probe           ProbeConfig         `yaml:"probe"`
	Intents         map[string][]string `yaml:"intents,omitempty"`
	Pricing         PricingConfig       `yaml:"pricing,omitempty"`
}

// ProviderConfig describes one backend in the catalogue.
type ProviderConfig struct {
	ID          string  `yaml:"id"`
	DisplayName string  `yaml:"display_name,omitempty"`
	Adapter     string  `yaml:"adapter"`
	Model       string  `yaml:"model"`
	Tier        int     `yaml:"tier"`
	CostPer1K   float64 `yaml:"cost_per_1k,omitempty"`
	Priority    int     `yaml:"priority"`
	Role        string  `yaml:"role,omitempty"` // "primary", "fallback", or unset
	Active      bool    `yaml:"active"`
}

// VerificationConfig holds judge backends and decision thresholds.
type VerificationConfig struct {
	JudgeProvider      string  `yaml:"judge_provider"`
	SafetyModel        string  `yaml:"safety_model"`
	ScoringModel       string  `yaml:"scoring_model"`
	SafetyThreshold    float64 `yaml:"safety_threshold"`
	ConfidenceAccept   float64 `yaml:"confidence_accept"`
	ConfidenceCritical float64 `yaml:"confidence_critical"`
	JudgeTimeoutMs     int     `yaml:"judge_timeout_ms,omitempty"`
}

// ProbeConfig holds health prober scheduling and circuit parameters.
type ProbeConfig struct {
	IntervalSec         int     `yaml:"interval_sec"`
	TimeoutMs           int     `yaml:"timeout_ms"`
	Window              int     `yaml:"window"`
	FailureRate         float64 `yaml:"failure_rate"`
	ConsecutiveFailures int     `yaml:"consecutive_failures"`
	CooldownSec         int     `yaml:"cooldown_sec"`
	BackoffMultiplier   float64 `yaml:"backoff_multiplier"`
	MaxCooldownSec      int     `yaml:"max_cooldown_sec"`
}

// PricingConfig maps adapter -> model -> pricing.
type PricingConfig map[string]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty"`
}

// Interval returns the probe schedule interval.
func (p ProbeConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSec) * time.Second
}

// Timeout returns the per-probe timeout.
func (p ProbeConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// Cooldown returns the base open-state cool-down.
func (p ProbeConfig) Cooldown() time.Duration {
	return time.Duration(p.CooldownSec) * time.Second
}

// MaxCooldown returns the cap on the backed-off cool-down.
func (p ProbeConfig) MaxCooldown() time.Duration {
	return time.Duration(p.MaxCooldownSec) * time.Second
}

// Timeout returns the per-attempt execution timeout.
func (c *RoutingConfig) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// JudgeTimeout returns the per-judge-call timeout.
func (v VerificationConfig) JudgeTimeout() time.Duration {
	if v.JudgeTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(v.JudgeTimeoutMs) * time.Millisecond
}

// Provider returns the provider config with the given id.
func (c *RoutingConfig) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// LoadRoutingConfig reads routing configuration from a YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyRoutingDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants the rest of the core relies on:
// unique provider ids, a chain that references known providers, cycle
// freedom, and thresholds inside [0,1].
func (c *RoutingConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("routing config has no providers")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Adapter == "" || p.Model == "" {
			return fmt.Errorf("provider %q missing adapter or model", p.ID)
		}
		switch p.Role {
		case "", "primary", "fallback":
		default:
			return fmt.Errorf("provider %q has invalid role %q", p.ID, p.Role)
		}
	}

	for from, to := range c.EscalationChain {
		if !seen[from] {
			return fmt.Errorf("escalation chain references unknown provider %q", from)
		}
		if to != NoEscalation && !seen[to] {
			return fmt.Errorf("escalation chain maps %q to unknown provider %q", from, to)
		}
	}
	if err := checkChainAcyclic(c.EscalationChain); err != nil {
		return err
	}

	v := c.Verification
	for name, score := range map[string]float64{
		"safety_threshold":    v.SafetyThreshold,
		"confidence_accept":   v.ConfidenceAccept,
		"confidence_critical": v.ConfidenceCritical,
	} {
		if score < 0 || score > 1 {
			return fmt.Errorf("%s %v out of range [0,1]", name, score)
		}
	}
	if v.ConfidenceCritical >= v.ConfidenceAccept {
		return fmt.Errorf("confidence_critical %v must be below confidence_accept %v",
			v.ConfidenceCritical, v.ConfidenceAccept)
	}
	if v.JudgeProvider != "" && !seen[v.JudgeProvider] {
		return fmt.Errorf("judge_provider %q is not a configured provider", v.JudgeProvider)
	}

	if c.MaxEscalations < 0 {
		return fmt.Errorf("max_escalations must be >= 0")
	}
	return nil
}

// checkChainAcyclic walks every chain entry to its end, failing on any
// cycle. Chains are small, so the quadratic walk is fine.
func checkChainAcyclic(chain map[string]string) error {
	for start := range chain {
		visited := map[string]bool{start: true}
		current := start
		for {
			next, ok := chain[current]
			if !ok || next == NoEscalation {
				break
			}
			if visited[next] {
				return fmt.Errorf("escalation chain has a cycle through %q", next)
			}
			visited[next] = true
			current = next
		}
	}
	return nil
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg.MaxEscalations == 0 {
		cfg.MaxEscalations = 2
	}
	if cfg.Verification.SafetyThreshold == 0 {
		cfg.Verification.SafetyThreshold = 0.7
	}
	if cfg.Verification.ConfidenceAccept == 0 {
		cfg.Verification.ConfidenceAccept = 0.65
	}
	if cfg.Verification.ConfidenceCritical == 0 {
		cfg.Verification.ConfidenceCritical = 0.4
	}
	if cfg.Probe.IntervalSec == 0 {
		cfg.Probe.IntervalSec = 30
	}
	if cfg.Probe.TimeoutMs == 0 {
		cfg.Probe.TimeoutMs = 10000
	}
	if cfg.Probe.Window == 0 {
		cfg.Probe.Window = 5
	}
	if cfg.Probe.FailureRate == 0 {
		cfg.Probe.FailureRate = 0.5
	}
	if cfg.Probe.ConsecutiveFailures == 0 {
		cfg.Probe.ConsecutiveFailures = 3
	}
	if cfg.Probe.CooldownSec == 0 {
		cfg.Probe.CooldownSec = 30
	}
	if cfg.Probe.BackoffMultiplier == 0 {
		cfg.Probe.BackoffMultiplier = 2.0
	}
	if cfg.Probe.MaxCooldownSec == 0 {
		cfg.Probe.MaxCooldownSec = 300
	}
}

// DefaultRoutingConfig returns the default local-model ladder: four
// Ollama models ordered by capability, with the two smallest doubling
// as judges.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		Providers: []ProviderConfig{
			{
				ID:          "gemma",
				DisplayName: "Gemma 2B",
				Adapter:     "ollama",
				Model:       "gemma:2b",
				Tier:        1,
				Priority:    40,
				Role:        "primary",
				Active:      true,
			},
			{
				ID:          "phi3",
				DisplayName: "Phi-3 3.8B",
				Adapter:     "ollama",
				Model:       "phi3:3.8b",
				Tier:        2,
				Priority:    30,
				Active:      true,
			},
			{
				ID:          "qwen",
				DisplayName: "Qwen 2.5 3B",
				Adapter:     "ollama",
				Model:       "qwen2.5:3b",
				Tier:        3,
				Priority:    20,
				Active:      true,
			},
			{
				ID:          "mistral",
				DisplayName: "Mistral 7B",
				Adapter:     "ollama",
				Model:       "mistral:7b",
				Tier:        4,
				Priority:    10,
				Role:        "fallback",
				Active:      true,
			},
		},
		EscalationChain: map[string]string{
			"gemma":   "phi3",
			"phi3":    "qwen",
			"qwen":    "mistral",
			"mistral": NoEscalation,
		},
		Verification: VerificationConfig{
			JudgeProvider: "gemma",
			SafetyModel:   "gemma:2b",
			ScoringModel:  "phi3:3.8b",
		},
		Intents: map[string][]string{
			"summarize":      {"summarize", "summary", "tldr", "sum up"},
			"explain":        {"explain", "what is", "what does", "how does"},
			"code-gen":       {"code", "function", "class", "implement", "script"},
			"creative":       {"story", "poem", "creative", "imagine"},
			"translation":    {"translate", "translation", "say in"},
			"classification": {"classify", "category", "label"},
			"status":         {"status", "health", "check"},
		},
	}
	applyRoutingDefaults(cfg)
	return cfg
}
