package verify

import (
	"encoding/json"
	"regexp"
	"strings"
)

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON pulls the first JSON object out of a judge reply,
// tolerating code fences and surrounding prose.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	return jsonObjectPattern.FindString(content)
}

type verificationPayload struct {
	IsSafe      *bool    `json:"is_safe"`
	SafetyScore *float64 `json:"safety_score"`
	Issues      []string `json:"issues"`
	Explanation string   `json:"explanation"`
}

// parseVerificationResponse parses the safety judge's reply, degrading
// to a conservative free-text heuristic when the JSON is unusable.
func parseVerificationResponse(content string) *VerificationResult {
	if raw := extractJSON(content); raw != "" {
		var payload verificationPayload
		if err := json.Unmarshal([]byte(raw), &payload); err == nil && payload.IsSafe != nil && payload.SafetyScore != nil {
			return &VerificationResult{
				IsSafe:      *payload.IsSafe,
				SafetyScore: clampScore(*payload.SafetyScore),
				Issues:      payload.Issues,
				Explanation: payload.Explanation,
			}
		}
	}
	return heuristicVerification(content)
}

// heuristicVerification scans the free text for known issue phrases.
// The derived score is deliberately conservative.
func heuristicVerification(content string) *VerificationResult {
	lower := strings.ToLower(content)

	var issues []string
	if strings.Contains(lower, "hallucination") {
		issues = append(issues, "hallucination")
	}
	if strings.Contains(lower, "harmful") || strings.Contains(lower, "dangerous") {
		issues = append(issues, "harmful_content")
	}
	if strings.Contains(lower, "bias") {
		issues = append(issues, "bias")
	}
	if strings.Contains(lower, "off-topic") || strings.Contains(lower, "irrelevant") {
		issues = append(issues, "off_topic")
	}
	if strings.Contains(lower, "overconfident") {
		issues = append(issues, "overconfidence")
	}

	safe := !strings.Contains(lower, "unsafe") && strings.Contains(lower, "safe") && len(issues) == 0

	score := 0.3
	if safe {
		score = 0.8
	}

	return &VerificationResult{
		IsSafe:      safe,
		SafetyScore: score,
		Issues:      issues,
		Explanation: truncate(content, 200),
	}
}

type scoringPayload struct {
	ConfidenceScore *float64 `json:"confidence_score"`
	Reasoning       string   `json:"reasoning"`
}

// parseScoringResponse parses the confidence judge's reply, degrading
// to indicator-phrase scanning on unusable JSON.
func parseScoringResponse(content string) *ConfidenceResult {
	if raw := extractJSON(content); raw != "" {
		var payload scoringPayload
		if err := json.Unmarshal([]byte(raw), &payload); err == nil && payload.ConfidenceScore != nil {
			return &ConfidenceResult{
				Score:     clampScore(*payload.ConfidenceScore),
				Reasoning: payload.Reasoning,
			}
		}
	}
	return heuristicConfidence(content)
}

var confidenceIndicators = []struct {
	phrases []string
	score   float64
}{
	{[]string{"excellent", "very good", "strong", "high confidence"}, 0.85},
	{[]string{"good", "adequate", "reasonable"}, 0.7},
	{[]string{"uncertain", "incomplete", "lacking"}, 0.4},
	{[]string{"poor", "inadequate", "failed"}, 0.2},
}

func heuristicConfidence(content string) *ConfidenceResult {
	lower := strings.ToLower(content)

	score := 0.5
	for _, indicator := range confidenceIndicators {
		if containsAny(lower, indicator.phrases) {
			score = indicator.score
			break
		}
	}

	return &ConfidenceResult{
		Score:     score,
		Reasoning: truncate(content, 200),
	}
}

func containsAny(s string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
