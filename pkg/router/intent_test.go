package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testIntents() map[string][]string {
	return map[string][]string{
		"summarize":      {"summarize", "summary", "tldr"},
		"explain":        {"explain", "what is", "how does"},
		"code-gen":       {"write code", "write a function", "implement"},
		"creative":       {"write a story", "write a poem", "imagine"},
		"translation":    {"translate"},
		"classification": {"classify", "categorize"},
		"status":         {"status", "health"},
	}
}

func TestDetectIntent(t *testing.T) {
	rules := NewIntentRules(testIntents())

	tests := []struct {
		prompt string
		want   Intent
	}{
		{"Summarize this article for me", IntentSummarize},
		{"tldr: the meeting notes", IntentSummarize},
		{"Explain how TCP slow start works", IntentExplain},
		{"what is a monad", IntentExplain},
		{"Please write a function that reverses a slice", IntentCodeGen},
		{"write a poem about autumn", IntentCreative},
		{"translate this to French: bonjour", IntentTranslation},
		{"classify this ticket as bug or feature", IntentClassification},
		{"what's the status of the cluster", IntentStatus},
		{"hello there", IntentChat},
		{"", IntentChat},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, rules.Detect(tt.prompt), "prompt: %q", tt.prompt)
	}
}

func TestDetectLongestTriggerWins(t *testing.T) {
	rules := NewIntentRules(map[string][]string{
		"creative": {"write a story"},
		"code-gen": {"write"},
	})

	// "write a story" is more specific than "write" and must win even
	// though both match.
	assert.Equal(t, IntentCreative, rules.Detect("write a story about go"))
	assert.Equal(t, IntentCodeGen, rules.Detect("write quicksort"))
}

func TestDetectWordBoundaries(t *testing.T) {
	rules := NewIntentRules(map[string][]string{
		"status": {"status"},
	})

	assert.Equal(t, IntentChat, rules.Detect("thermostatus readings look odd"))
	assert.Equal(t, IntentStatus, rules.Detect("status?"))
}

func TestDetectCaseInsensitive(t *testing.T) {
	rules := NewIntentRules(testIntents())
	assert.Equal(t, IntentSummarize, rules.Detect("SUMMARIZE THIS"))
}

func TestSystemPromptPerIntent(t *testing.T) {
	assert.Contains(t, SystemPrompt(IntentCodeGen), "coding assistant")
	assert.Contains(t, SystemPrompt(IntentCreative), "creative")
	assert.Contains(t, SystemPrompt(IntentClassification), "classification")
	assert.Contains(t, SystemPrompt(IntentChat), "concise")
	// Intents without a dedicated template share the default.
	assert.Equal(t, SystemPrompt(IntentChat), SystemPrompt(IntentSummarize))
}
