package adapter

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter returns deterministic responses for local runs and tests.
type MockAdapter struct {
	mu              sync.Mutex
	responses       map[string]string
	errs            map[string]error
	defaultResponse string
	Usage           *Usage
	calls           int
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		responses:       make(map[string]string),
		errs:            make(map[string]error),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	return &MockAdapter{
		responses:       responses,
		errs:            make(map[string]error),
		defaultResponse: defaultResponse,
	}
}

// FailWith makes completions for the given model return err.
func (a *MockAdapter) FailWith(model string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs[model] = err
}

// Calls returns the number of Complete invocations seen.
func (a *MockAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Complete returns a deterministic response for the prompt.
func (a *MockAdapter) Complete(ctx context.Context, model string, prompt string) (*Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if model == "" {
		model = "mock-1"
	}
	if err, ok := a.errs[model]; ok && err != nil {
		return nil, err
	}
	if response, ok := a.responses[prompt]; ok {
		return &Response{Text: response, Usage: a.Usage}, nil
	}
	return &Response{Text: fmt.Sprintf("%s\n%s", a.defaultResponse, prompt), Usage: a.Usage}, nil
}
