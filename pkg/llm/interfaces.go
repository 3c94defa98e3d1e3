// Package llm provides chat-completion clients for OpenAI-compatible and
// Anthropic endpoints, plus typed JSON extraction over their responses.
package llm

import (
	"context"
)

// ChatClient is the minimal chat-completion surface the engine needs.
// Use this interface for dependency injection to enable mocking in tests.
type ChatClient interface {
	// GenerateResponse generates a chat completion for the prompt.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

var _ ChatClient = (*OpenAIClient)(nil)
var _ ChatClient = (*AnthropicClient)(nil)
