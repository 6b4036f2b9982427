// Package verify runs the two-judge quality gate over candidate
// answers: a safety verifier and a confidence scorer, each a model
// invocation through the execution client against a fixed judge
// backend. Judge infrastructure failures always fail closed.
package verify

import (
	"context"
	"log/slog"

	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/execute"
	"github.com/arbiterhq/arbiter/pkg/metrics"
	"github.com/arbiterhq/arbiter/pkg/registry"
)

// Action is the closed set of dispositions for a verified answer.
// Every call site must handle all three.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionEscalate Action = "escalate"
	ActionReject   Action = "reject"
)

// VerificationResult is the safety judge's verdict. Immutable once
// produced.
type VerificationResult struct {
	IsSafe      bool     `json:"is_safe"`
	SafetyScore float64  `json:"safety_score"`
	Issues      []string `json:"issues,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

// ConfidenceResult is the confidence judge's verdict. Immutable once
// produced.
type ConfidenceResult struct {
	Score     float64 `json:"confidence_score"`
	Reasoning string  `json:"reasoning,omitempty"`
	Action    Action  `json:"recommended_action"`
}

// Issue tags that force rejection even when the safety boolean passes.
var criticalIssues = map[string]bool{
	"harmful_content": true,
	"hallucination":   true,
}

// Pipeline runs both judges for one candidate answer.
type Pipeline struct {
	client   *execute.Client
	registry *registry.Registry
	cfg      config.VerificationConfig
	logger   *slog.Logger
}

// NewPipeline creates a verification pipeline. The judge provider is
// resolved from the registry on every call so config reloads take
// effect immediately.
func NewPipeline(client *execute.Client, reg *registry.Registry, cfg config.VerificationConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		client:   client,
		registry: reg,
		cfg:      cfg,
		logger:   logger,
	}
}

// Assessment bundles both judge verdicts for one attempt.
type Assessment struct {
	Verification *VerificationResult
	Confidence   *ConfidenceResult
	// JudgeFailed is set when either judge call itself failed; the
	// verdicts then carry conservative fail-closed values.
	JudgeFailed bool
}

// Assess runs the safety verifier then the confidence scorer against
// the candidate answer. Parsing failures degrade to the heuristic
// fallback; judge call failures produce the critical-reject verdicts.
// Judge costs are folded into the request's tracker when provided.
func (p *Pipeline) Assess(ctx context.Context, prompt, answer, modelUsed string, costs *metrics.CostTracker) Assessment {
	verification, vFailed := p.verifySafety(ctx, prompt, answer, costs)
	confidence, cFailed := p.scoreConfidence(ctx, prompt, answer, modelUsed, costs)

	return Assessment{
		Verification: verification,
		Confidence:   confidence,
		JudgeFailed:  vFailed || cFailed,
	}
}

// Decide applies the decision rules in precedence order: safety
// dominates confidence, critical issue tags dominate the safety
// boolean, and only then do the confidence thresholds branch.
func (p *Pipeline) Decide(a Assessment) Action {
	if a.JudgeFailed {
		return ActionReject
	}
	if !a.Verification.IsSafe {
		return ActionReject
	}
	// Defensive redundancy: a low score is unsafe even when the
	// boolean flag disagrees.
	if a.Verification.SafetyScore < p.cfg.SafetyThreshold {
		return ActionReject
	}
	for _, issue := range a.Verification.Issues {
		if criticalIssues[issue] {
			return ActionReject
		}
	}
	if a.Confidence.Score < p.cfg.ConfidenceCritical {
		return ActionReject
	}
	if a.Confidence.Score >= p.cfg.ConfidenceAccept {
		return ActionAccept
	}
	return ActionEscalate
}

func (p *Pipeline) judgeDescriptor(model string) (registry.Descriptor, bool) {
	desc, ok := p.registry.Get(p.cfg.JudgeProvider)
	if !ok {
		return registry.Descriptor{}, false
	}
	if model != "" {
		desc.Model = model
	}
	return desc, true
}

func (p *Pipeline) verifySafety(ctx context.Context, prompt, answer string, costs *metrics.CostTracker) (*VerificationResult, bool) {
	judge, ok := p.judgeDescriptor(p.cfg.SafetyModel)
	if !ok {
		p.logger.Error("safety judge provider not in registry", "provider", p.cfg.JudgeProvider)
		return failClosedVerification("judge provider unavailable"), true
	}

	attempt := p.client.Execute(ctx, judge, buildSafetyPrompt(prompt, answer), p.cfg.JudgeTimeout())
	recordJudgeCall(costs, attempt)
	if !attempt.Succeeded() {
		p.logger.Warn("safety judge call failed", "outcome", attempt.Outcome, "error", attempt.Err)
		return failClosedVerification("verification call failed"), true
	}

	result := parseVerificationResponse(attempt.Output)
	metrics.VerificationScores.WithLabelValues("safety").Observe(result.SafetyScore)
	return result, false
}

func (p *Pipeline) scoreConfidence(ctx context.Context, prompt, answer, modelUsed string, costs *metrics.CostTracker) (*ConfidenceResult, bool) {
	judge, ok := p.judgeDescriptor(p.cfg.ScoringModel)
	if !ok {
		p.logger.Error("scoring judge provider not in registry", "provider", p.cfg.JudgeProvider)
		return failClosedConfidence("judge provider unavailable"), true
	}

	attempt := p.client.Execute(ctx, judge, buildScoringPrompt(prompt, answer, modelUsed), p.cfg.JudgeTimeout())
	recordJudgeCall(costs, attempt)
	if !attempt.Succeeded() {
		p.logger.Warn("confidence judge call failed", "outcome", attempt.Outcome, "error", attempt.Err)
		return failClosedConfidence("scoring call failed"), true
	}

	result := parseScoringResponse(attempt.Output)
	result.Action = p.actionForScore(result.Score)
	metrics.VerificationScores.WithLabelValues("confidence").Observe(result.Score)
	return result, false
}

func (p *Pipeline) actionForScore(score float64) Action {
	switch {
	case score < p.cfg.ConfidenceCritical:
		return ActionReject
	case score < p.cfg.ConfidenceAccept:
		return ActionEscalate
	default:
		return ActionAccept
	}
}

func failClosedVerification(reason string) *VerificationResult {
	return &VerificationResult{
		IsSafe:      false,
		SafetyScore: 0,
		Issues:      []string{"verification_error"},
		Explanation: reason,
	}
}

func failClosedConfidence(reason string) *ConfidenceResult {
	return &ConfidenceResult{
		Score:     0,
		Reasoning: reason,
		Action:    ActionReject,
	}
}

func recordJudgeCall(costs *metrics.CostTracker, attempt *execute.Attempt) {
	if costs == nil {
		return
	}
	report := metrics.CallReport{
		Provider: attempt.ProviderID,
		Model:    attempt.Model,
		Usage:    attempt.Usage,
		Cost:     attempt.Cost,
		Judge:    true,
	}
	if attempt.Err != nil {
		report.Error = attempt.Err.Error()
	}
	costs.Record(report)
}
