// Package health tracks per-provider circuit state and rolling
// latency/success statistics. Records are independent: each provider
// has its own lock, and readers always observe a fully-formed snapshot.
package health

import "time"

// CircuitState represents the state of a provider's circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state - requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit has tripped - requests fail fast.
	CircuitOpen
	// CircuitHalfOpen allows a single trial probe to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config controls circuit transitions and probe statistics.
type Config struct {
	// Window is the number of recent probes considered for the
	// failure-rate trip condition.
	Window int
	// FailureRate trips the circuit when exceeded over a full window.
	FailureRate float64
	// ConsecutiveFailures trips the circuit regardless of the window.
	ConsecutiveFailures int
	// Cooldown is the initial open-state duration before a trial.
	Cooldown time.Duration
	// BackoffMultiplier grows the cool-down on every repeated trip.
	BackoffMultiplier float64
	// MaxCooldown caps the backed-off cool-down.
	MaxCooldown time.Duration
	// OnStateChange is called outside the record lock on transitions.
	OnStateChange func(providerID string, from, to CircuitState)
}

// DefaultConfig returns the standard circuit parameters.
func DefaultConfig() Config {
	return Config{
		Window:              5,
		FailureRate:         0.5,
		ConsecutiveFailures: 3,
		Cooldown:            30 * time.Second,
		BackoffMultiplier:   2.0,
		MaxCooldown:         5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.FailureRate <= 0 {
		c.FailureRate = def.FailureRate
	}
	if c.ConsecutiveFailures <= 0 {
		c.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = def.MaxCooldown
	}
	return c
}

// Record is an immutable snapshot of one provider's health.
type Record struct {
	ProviderID          string        `json:"provider_id"`
	State               string        `json:"state"`
	SuccessRate         float64       `json:"success_rate"`
	ProbesInWindow      int           `json:"probes_in_window"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ObservedLatency     time.Duration `json:"observed_latency"`
	LastProbe           time.Time     `json:"last_probe"`
	LastTransition      time.Time     `json:"last_transition"`
	Trips               int           `json:"trips"`
	CooldownUntil       time.Time     `json:"cooldown_until,omitempty"`
}
