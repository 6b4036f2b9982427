package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaAdapter implements the Adapter interface for local Ollama models.
type OllamaAdapter struct {
	baseURL    string
	httpClient *http.Client
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// NewOllamaAdapter creates a new Ollama adapter. An empty baseURL uses
// the local daemon default.
func NewOllamaAdapter(baseURL string) *OllamaAdapter {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// Name returns the adapter identifier.
func (a *OllamaAdapter) Name() string {
	return "ollama"
}

// Models returns the list of commonly installed local models.
func (a *OllamaAdapter) Models() []string {
	return []string{
		"gemma:2b",
		"phi3:3.8b",
		"qwen2.5:3b",
		"mistral:7b",
	}
}

// Complete sends a prompt to the local Ollama daemon and returns the
// response.
func (a *OllamaAdapter) Complete(ctx context.Context, model string, prompt string) (*Response, error) {
	reqBody := ollamaChatRequest{
		Model: model,
		Messages: []ollamaMessage{
			{Role: "user", Content: prompt},
		},
		Stream: false,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransport, Err: fmt.Errorf("ollama request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransport, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewProviderError(resp.StatusCode, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body)))
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, &ProviderError{Kind: KindMalformed, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if chatResp.Error != "" {
		return nil, &ProviderError{Kind: KindTransport, Err: fmt.Errorf("ollama error: %s", chatResp.Error)}
	}
	if chatResp.Message.Content == "" {
		return nil, &ProviderError{Kind: KindMalformed, Err: fmt.Errorf("ollama returned empty message")}
	}

	usage := &Usage{
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
		TotalTokens:      chatResp.PromptEvalCount + chatResp.EvalCount,
	}
	return &Response{Text: chatResp.Message.Content, Usage: usage}, nil
}
