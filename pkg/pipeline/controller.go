// Package pipeline drives one routing request end to end: initial
// selection, execution, verification, and bounded escalation up the
// provider ladder to a single terminal state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/pkg/adapter"
	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/execute"
	"github.com/arbiterhq/arbiter/pkg/metrics"
	"github.com/arbiterhq/arbiter/pkg/registry"
	"github.com/arbiterhq/arbiter/pkg/router"
	"github.com/arbiterhq/arbiter/pkg/verify"
)

// TerminalState is the closed set of request outcomes. Every request
// that obtained an initial provider ends in exactly one of these.
type TerminalState string

const (
	// StateAccepted means an answer passed both judges.
	StateAccepted TerminalState = "accepted"
	// StateRejected means an answer was deemed unsafe or critically
	// weak; the answer is withheld.
	StateRejected TerminalState = "rejected"
	// StateExhausted means the escalation budget or ladder ran out
	// before any answer was accepted.
	StateExhausted TerminalState = "exhausted"
)

// Request is one prompt to route.
type Request struct {
	Prompt string
	// Intent overrides detection when set.
	Intent router.Intent
	// Constraints pin the candidate set for initial selection.
	Constraints registry.Constraints
}

// AttemptOutcome pairs one backend call with its judge verdicts.
// Verdicts are nil when the call failed before verification.
type AttemptOutcome struct {
	Attempt      *execute.Attempt
	Verification *verify.VerificationResult
	Confidence   *verify.ConfidenceResult
	Action       verify.Action
}

// Result is the terminal record of one routing request.
type Result struct {
	ID               string
	Intent           router.Intent
	State            TerminalState
	FinalAnswer      string
	FinalProvider    string
	OriginalProvider string
	Escalated        bool
	Escalations      int
	Attempts         []AttemptOutcome
	Verification     *verify.VerificationResult
	Confidence       *verify.ConfidenceResult
	TotalCost        float64
	TotalUsage       adapter.Usage
	Calls            []metrics.CallReport
	Duration         time.Duration
}

// Journal persists terminal request records. Implementations must
// tolerate being called from concurrent requests.
type Journal interface {
	LogRequest(ctx context.Context, res *Result) error
}

// Controller owns the escalation state machine. It is stateless across
// requests; all per-request state lives on the stack of Route.
type Controller struct {
	selector *router.Selector
	client   *execute.Client
	verifier *verify.Pipeline
	intents  *router.IntentRules
	cfg      *config.RoutingConfig
	journal  Journal
	logger   *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithJournal attaches a persistence sink for terminal records.
func WithJournal(j Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// NewController wires the routing pipeline.
func NewController(sel *router.Selector, client *execute.Client, verifier *verify.Pipeline, intents *router.IntentRules, cfg *config.RoutingConfig, opts ...Option) *Controller {
	c := &Controller{
		selector: sel,
		client:   client,
		verifier: verifier,
		intents:  intents,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Route runs one request through the pipeline and returns its terminal
// record. The only non-terminal error is failure to select an initial
// provider; after that every path ends in a TerminalState.
//
// Escalation is bounded: at most MaxEscalations rungs above the
// initial provider, so a request makes at most MaxEscalations+1
// backend calls (judge calls excluded).
func (c *Controller) Route(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	intent := req.Intent
	if intent == "" {
		intent = c.intents.Detect(req.Prompt)
	}
	fullPrompt := router.SystemPrompt(intent) + "\n\n" + req.Prompt

	current, err := c.selector.SelectInitial(req.Constraints)
	if err != nil {
		return nil, fmt.Errorf("select initial provider: %w", err)
	}

	res := &Result{
		ID:               uuid.NewString(),
		Intent:           intent,
		OriginalProvider: current.ID,
	}
	costs := metrics.NewCostTracker(c.cfg.Pricing)

	c.logger.Info("routing request",
		"request_id", res.ID,
		"intent", string(intent),
		"provider", current.ID,
	)

	// Best verified-but-not-accepted answer seen so far, kept for the
	// exhausted terminal state. Ties go to the later attempt.
	var best *AttemptOutcome

	for {
		outcome := c.attempt(ctx, current, fullPrompt, len(res.Attempts)+1, costs)
		res.Attempts = append(res.Attempts, outcome)

		switch outcome.Action {
		case verify.ActionAccept:
			res.Verification = outcome.Verification
			res.Confidence = outcome.Confidence
			return c.finish(ctx, res, StateAccepted, outcome, start, costs), nil

		case verify.ActionReject:
			res.Verification = outcome.Verification
			res.Confidence = outcome.Confidence
			return c.finish(ctx, res, StateRejected, AttemptOutcome{Attempt: outcome.Attempt}, start, costs), nil
		}

		if outcome.Confidence != nil {
			if best == nil || outcome.Confidence.Score >= best.Confidence.Score {
				o := outcome
				best = &o
			}
		}

		if res.Escalations >= c.cfg.MaxEscalations {
			c.logger.Warn("escalation budget exhausted",
				"request_id", res.ID,
				"escalations", res.Escalations,
			)
			return c.finish(ctx, res, StateExhausted, bestOrEmpty(best, res), start, costs), nil
		}

		next, err := c.selector.SelectNext(current.ID)
		if err != nil {
			if !errors.Is(err, router.ErrEscalationExhausted) {
				c.logger.Error("escalation selection failed", "request_id", res.ID, "error", err)
			}
			return c.finish(ctx, res, StateExhausted, bestOrEmpty(best, res), start, costs), nil
		}

		res.Escalations++
		res.Escalated = true
		metrics.EscalationsTotal.Inc()
		c.logger.Info("escalating",
			"request_id", res.ID,
			"from", current.ID,
			"to", next.ID,
			"escalation", res.Escalations,
		)
		current = next
	}
}

// attempt makes one backend call and, on success, runs both judges.
// Failed calls carry ActionEscalate so the loop moves up the ladder.
func (c *Controller) attempt(ctx context.Context, provider registry.Descriptor, prompt string, seq int, costs *metrics.CostTracker) AttemptOutcome {
	att := c.client.Execute(ctx, provider, prompt, c.cfg.Timeout())
	att.Seq = seq
	recordAttemptCost(costs, att)

	if !att.Succeeded() {
		// Provider errors never reject a request: the answer was
		// never produced, so the ladder decides what happens next.
		return AttemptOutcome{Attempt: att, Action: verify.ActionEscalate}
	}

	assessment := c.verifier.Assess(ctx, prompt, att.Output, provider.Model, costs)
	return AttemptOutcome{
		Attempt:      att,
		Verification: assessment.Verification,
		Confidence:   assessment.Confidence,
		Action:       c.verifier.Decide(assessment),
	}
}

func (c *Controller) finish(ctx context.Context, res *Result, state TerminalState, final AttemptOutcome, start time.Time, costs *metrics.CostTracker) *Result {
	res.State = state
	if final.Attempt != nil {
		res.FinalProvider = final.Attempt.ProviderID
		if state != StateRejected {
			res.FinalAnswer = final.Attempt.Output
		}
	}
	if state == StateExhausted {
		res.Verification = final.Verification
		res.Confidence = final.Confidence
	}

	res.TotalCost, res.TotalUsage = costs.Total()
	res.Calls = costs.Calls()
	res.Duration = time.Since(start)

	metrics.RequestsTotal.WithLabelValues(string(state)).Inc()
	c.logger.Info("request finished",
		"request_id", res.ID,
		"state", string(state),
		"provider", res.FinalProvider,
		"escalations", res.Escalations,
		"duration", res.Duration,
		"cost_usd", res.TotalCost,
	)

	if c.journal != nil {
		if err := c.journal.LogRequest(ctx, res); err != nil {
			c.logger.Error("journal write failed", "request_id", res.ID, "error", err)
		}
	}
	return res
}

// bestOrEmpty picks what an exhausted request hands back: the
// best-scoring verified answer, else the last attempt. Attempts that
// failed outright carry no output, so the latter yields an empty
// answer.
func bestOrEmpty(best *AttemptOutcome, res *Result) AttemptOutcome {
	if best != nil {
		return *best
	}
	if n := len(res.Attempts); n > 0 {
		return res.Attempts[n-1]
	}
	return AttemptOutcome{}
}

func recordAttemptCost(costs *metrics.CostTracker, att *execute.Attempt) {
	report := metrics.CallReport{
		Provider: att.ProviderID,
		Model:    att.Model,
		Usage:    att.Usage,
		Cost:     att.Cost,
	}
	if att.Err != nil {
		report.Error = att.Err.Error()
	}
	costs.Record(report)
}
