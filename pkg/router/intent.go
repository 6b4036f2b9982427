package router

import (
	"sort"
	"strings"
	"unicode"
)

// Intent is a request's resolved category, detected from trigger
// phrases in the prompt.
type Intent string

const (
	IntentSummarize      Intent = "summarize"
	IntentExplain        Intent = "explain"
	IntentCodeGen        Intent = "code-gen"
	IntentCreative       Intent = "creative"
	IntentTranslation    Intent = "translation"
	IntentClassification Intent = "classification"
	IntentStatus         Intent = "status"
	IntentChat           Intent = "chat"
)

// IntentRules contains the compiled trigger phrases for intent
// detection.
type IntentRules struct {
	rules []compiledRule
}

type compiledRule struct {
	intent  Intent
	trigger string
}

// NewIntentRules compiles trigger phrases from configuration. Longer
// triggers are more specific and match first.
func NewIntentRules(intents map[string][]string) *IntentRules {
	r := &IntentRules{}
	for name, triggers := range intents {
		for _, trigger := range triggers {
			r.rules = append(r.rules, compiledRule{
				intent:  Intent(name),
				trigger: strings.ToLower(trigger),
			})
		}
	}
	sort.SliceStable(r.rules, func(i, j int) bool {
		if len(r.rules[i].trigger) != len(r.rules[j].trigger) {
			return len(r.rules[i].trigger) > len(r.rules[j].trigger)
		}
		return r.rules[i].trigger < r.rules[j].trigger
	})
	return r
}

// Detect returns the prompt's intent, defaulting to chat when no
// trigger matches.
func (r *IntentRules) Detect(prompt string) Intent {
	promptLower := strings.ToLower(prompt)
	for _, rule := range r.rules {
		if containsTrigger(promptLower, rule.trigger) {
			return rule.intent
		}
	}
	return IntentChat
}

// containsTrigger matches a trigger on word boundaries so "scaffold"
// does not fire inside "unscaffolded".
func containsTrigger(prompt, trigger string) bool {
	idx := 0
	for {
		pos := strings.Index(prompt[idx:], trigger)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(trigger)
		beforeOK := start == 0 || !isWordChar(rune(prompt[start-1]))
		afterOK := end == len(prompt) || !isWordChar(rune(prompt[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// System prompt templates by intent, prepended to the payload sent to
// the answering backend.
var systemPrompts = map[Intent]string{
	IntentChat: "You are a concise, accurate assistant. Use numbered steps for procedures. " +
		"If unsure, say 'I don't know — check sources.' " +
		"Do not invent facts; if information depends on external sources label it.",
	IntentCreative: "You are a creative and imaginative assistant. Be expressive while remaining helpful. " +
		"Do not invent facts; if information depends on external sources label it.",
	IntentCodeGen: "You are a precise coding assistant. Provide clean, working code with brief explanations. " +
		"Use best practices and include error handling. " +
		"Do not invent facts; if information depends on external sources label it.",
	IntentClassification: "You are a classification assistant. Provide only the requested classification without explanation. " +
		"Be precise and consistent.",
}

// SystemPrompt returns the system prompt for an intent; intents
// without a dedicated template share the default assistant prompt.
func SystemPrompt(intent Intent) string {
	switch intent {
	case IntentCodeGen:
		return systemPrompts[IntentCodeGen]
	case IntentCreative:
		return systemPrompts[IntentCreative]
	case IntentClassification, IntentStatus:
		return systemPrompts[IntentClassification]
	default:
		return systemPrompts[IntentChat]
	}
}
