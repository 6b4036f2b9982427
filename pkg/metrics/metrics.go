// Package metrics aggregates per-attempt outcomes for the
// observability surface. The prometheus registry is the in-process
// feed; scraping/transport is out of scope.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arbiterhq/arbiter/pkg/execute"
)

var (
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_attempts_total",
			Help: "Total backend attempts by provider and outcome",
		},
		[]string{"provider", "outcome", "probe"},
	)

	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "arbiter_attempt_latency_seconds",
			Help: "Backend attempt latency in seconds",
		},
		[]string{"provider"},
	)

	AttemptCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_attempt_cost_usd_total",
			Help: "Estimated spend per provider in USD",
		},
		[]string{"provider"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_requests_total",
			Help: "Routed requests by terminal state",
		},
		[]string{"state"},
	)

	EscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arbiter_escalations_total",
			Help: "Total escalations to a more capable backend",
		},
	)

	VerificationScores = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbiter_verification_score",
			Help:    "Judge scores by kind (safety or confidence)",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"kind"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbiter_circuit_state",
			Help: "Circuit state per provider (0=closed 1=open 2=half_open)",
		},
		[]string{"provider"},
	)
)

// Recorder adapts the prometheus collectors to the execution client's
// observer interface.
type Recorder struct{}

// NewRecorder returns a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// ObserveAttempt records one adapter call, probe or live.
func (r *Recorder) ObserveAttempt(ev execute.Event) {
	probe := "false"
	if ev.Probe {
		probe = "true"
	}
	AttemptsTotal.WithLabelValues(ev.Provider, string(ev.Outcome), probe).Inc()
	AttemptLatency.WithLabelValues(ev.Provider).Observe(ev.Latency.Seconds())
	if ev.Cost.Amount > 0 {
		AttemptCost.WithLabelValues(ev.Provider).Add(ev.Cost.Amount)
	}
}

// ObserveCircuit updates the circuit state gauge for a provider.
func ObserveCircuit(providerID string, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half_open":
		v = 2
	}
	CircuitState.WithLabelValues(providerID).Set(v)
}
