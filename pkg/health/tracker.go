package health

import (
	"sync"
	"time"
)

// Tracker owns the health records for all registered providers. The
// prober is the only writer of circuit state; attempt outcomes from
// live traffic feed the latency statistics. Providers are independent,
// so each record carries its own lock.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*record
	cfg     Config
	now     func() time.Time
}

type record struct {
	mu sync.RWMutex

	state          CircuitState
	lastTransition time.Time

	// Ring of recent probe outcomes.
	window    []bool
	windowIdx int
	windowLen int

	consecutiveFailures int
	lastProbe           time.Time

	// Exponential-moving latency over probes and live attempts.
	latency time.Duration

	trips         int
	cooldownUntil time.Time

	// Only one trial request may be outstanding in half-open.
	trialInFlight bool
}

// NewTracker creates a tracker with the given circuit configuration.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		records: make(map[string]*record),
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// Register creates a closed-circuit record for a provider. Registering
// an existing provider keeps its current record.
func (t *Tracker) Register(providerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[providerID]; ok {
		return
	}
	t.records[providerID] = &record{
		state:          CircuitClosed,
		lastTransition: t.now(),
		window:         make([]bool, t.cfg.Window),
	}
}

func (t *Tracker) record(providerID string) *record {
	t.mu.RLock()
	r := t.records[providerID]
	t.mu.RUnlock()
	return r
}

// RecordProbe records a probe outcome and advances the circuit state
// machine. Only the prober calls this.
func (t *Tracker) RecordProbe(providerID string, ok bool, latency time.Duration) {
	r := t.record(providerID)
	if r == nil {
		return
	}

	var from, to CircuitState
	transitioned := false

	r.mu.Lock()
	r.lastProbe = t.now()
	r.pushOutcome(ok)
	if latency > 0 {
		r.observeLatency(latency)
	}

	if ok {
		r.consecutiveFailures = 0
	} else {
		r.consecutiveFailures++
	}

	switch r.state {
	case CircuitClosed:
		if r.shouldTrip(t.cfg) {
			from, to = r.transition(CircuitOpen, t.now(), t.cfg)
			transitioned = true
		}
	case CircuitHalfOpen:
		r.trialInFlight = false
		if ok {
			from, to = r.transition(CircuitClosed, t.now(), t.cfg)
		} else {
			from, to = r.transition(CircuitOpen, t.now(), t.cfg)
		}
		transitioned = true
	case CircuitOpen:
		// A probe raced the open transition; its outcome only feeds
		// the stats.
	}
	r.mu.Unlock()

	if transitioned && t.cfg.OnStateChange != nil {
		t.cfg.OnStateChange(providerID, from, to)
	}
}

// RecordAttempt folds a live-traffic outcome into the rolling latency
// statistics. It never moves the circuit: transitions belong to the
// prober.
func (t *Tracker) RecordAttempt(providerID string, ok bool, latency time.Duration) {
	r := t.record(providerID)
	if r == nil {
		return
	}
	r.mu.Lock()
	if latency > 0 {
		r.observeLatency(latency)
	}
	r.mu.Unlock()
}

// Eligible reports whether a provider may serve traffic: closed or
// half-open circuits are eligible, open circuits are not. An open
// circuit whose cool-down has elapsed moves to half-open here, so a
// stalled prober cannot pin a provider out of rotation forever.
func (t *Tracker) Eligible(providerID string) bool {
	return t.State(providerID) != CircuitOpen
}

// State returns the provider's current circuit state, applying the
// open -> half_open transition when the cool-down has elapsed.
func (t *Tracker) State(providerID string) CircuitState {
	r := t.record(providerID)
	if r == nil {
		return CircuitClosed
	}

	r.mu.RLock()
	state := r.state
	cooldownOver := state == CircuitOpen && !t.now().Before(r.cooldownUntil)
	r.mu.RUnlock()

	if !cooldownOver {
		return state
	}

	var from, to CircuitState
	transitioned := false
	r.mu.Lock()
	if r.state == CircuitOpen && !t.now().Before(r.cooldownUntil) {
		from, to = r.transition(CircuitHalfOpen, t.now(), t.cfg)
		transitioned = true
	}
	state = r.state
	r.mu.Unlock()

	if transitioned && t.cfg.OnStateChange != nil {
		t.cfg.OnStateChange(providerID, from, to)
	}
	return state
}

// BeginTrial reserves the single half-open trial slot. It returns false
// when the provider is not half-open or a trial is already in flight.
func (t *Tracker) BeginTrial(providerID string) bool {
	state := t.State(providerID)
	if state != CircuitHalfOpen {
		return false
	}
	r := t.record(providerID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != CircuitHalfOpen || r.trialInFlight {
		return false
	}
	r.trialInFlight = true
	return true
}

// Snapshot returns an immutable copy of one provider's health record.
func (t *Tracker) Snapshot(providerID string) (Record, bool) {
	r := t.record(providerID)
	if r == nil {
		return Record{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(providerID), true
}

// Snapshots returns records for every registered provider.
func (t *Tracker) Snapshots() []Record {
	t.mu.RLock()
	ids := make([]string, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if snap, ok := t.Snapshot(id); ok {
			out = append(out, snap)
		}
	}
	return out
}

// ObservedLatency returns the provider's rolling latency estimate, used
// by the router as a tie-breaker.
func (t *Tracker) ObservedLatency(providerID string) time.Duration {
	r := t.record(providerID)
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latency
}

func (r *record) pushOutcome(ok bool) {
	r.window[r.windowIdx] = ok
	r.windowIdx = (r.windowIdx + 1) % len(r.window)
	if r.windowLen < len(r.window) {
		r.windowLen++
	}
}

func (r *record) failureRate() float64 {
	if r.windowLen == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < r.windowLen; i++ {
		if !r.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(r.windowLen)
}

func (r *record) shouldTrip(cfg Config) bool {
	if r.consecutiveFailures >= cfg.ConsecutiveFailures {
		return true
	}
	return r.windowLen == len(r.window) && r.failureRate() > cfg.FailureRate
}

// observeLatency keeps an exponential moving average with alpha 0.3,
// enough resolution for tie-breaking without storing a distribution.
func (r *record) observeLatency(latency time.Duration) {
	if r.latency == 0 {
		r.latency = latency
		return
	}
	r.latency = time.Duration(0.7*float64(r.latency) + 0.3*float64(latency))
}

// transition must be called with r.mu held. Returns the (from, to)
// pair for the state-change callback.
func (r *record) transition(to CircuitState, now time.Time, cfg Config) (CircuitState, CircuitState) {
	from := r.state
	if from == to {
		return from, to
	}
	r.state = to
	r.lastTransition = now

	switch to {
	case CircuitOpen:
		r.trips++
		r.cooldownUntil = now.Add(cooldownFor(cfg, r.trips))
		r.trialInFlight = false
	case CircuitClosed:
		r.trips = 0
		r.consecutiveFailures = 0
		r.cooldownUntil = time.Time{}
		r.trialInFlight = false
		// Start the window fresh so stale failures cannot re-trip.
		for i := range r.window {
			r.window[i] = false
		}
		r.windowIdx = 0
		r.windowLen = 0
	}
	return from, to
}

func cooldownFor(cfg Config, trips int) time.Duration {
	cooldown := cfg.Cooldown
	for i := 1; i < trips; i++ {
		cooldown = time.Duration(float64(cooldown) * cfg.BackoffMultiplier)
		if cooldown >= cfg.MaxCooldown {
			return cfg.MaxCooldown
		}
	}
	if cooldown > cfg.MaxCooldown {
		return cfg.MaxCooldown
	}
	return cooldown
}

func (r *record) snapshot(providerID string) Record {
	return Record{
		ProviderID:          providerID,
		State:               r.state.String(),
		SuccessRate:         1 - r.failureRate(),
		ProbesInWindow:      r.windowLen,
		ConsecutiveFailures: r.consecutiveFailures,
		ObservedLatency:     r.latency,
		LastProbe:           r.lastProbe,
		LastTransition:      r.lastTransition,
		Trips:               r.trips,
		CooldownUntil:       r.cooldownUntil,
	}
}
