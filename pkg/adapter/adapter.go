package adapter

import "context"

// Adapter defines the interface for LLM backend adapters. Each adapter
// exposes a single blocking completion call; retries and escalation are
// the caller's responsibility, never the adapter's.
type Adapter interface {
	// Complete sends a prompt to the model and returns the response.
	Complete(ctx context.Context, model string, prompt string) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}
