// Package llms provides the completion providers used for extraction,
// arbitration, query expansion, reranking and lifecycle synthesis.
package llms

import "context"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest is a single non-streaming completion call.
type CompletionRequest struct {
	System   string
	Messages []Message

	// MaxTokens overrides the provider default when positive.
	MaxTokens int

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// JSONMode asks the provider for a JSON-only response where the API
	// supports it; helpers.ExtractJSON cleans up the rest.
	JSONMode bool
}

// CompletionResponse carries the completion text and token usage.
type CompletionResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider is a chat-completion backend.
type Provider interface {
	// Complete performs one blocking completion call.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider type (openai, anthropic, ollama).
	Name() string

	// Model returns the configured model identifier.
	Model() string
}
