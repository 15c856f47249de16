package ai

import (
	"context"
)

// Prompt is the two-message instruction set sent to a generation service
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Generation is a successful reply from a generation service. Text is
// untrusted and may or may not be valid JSON.
type Generation struct {
	Text     string
	Model    string
	Provider string
	Usage    *TokenUsage
}

// AIProvider sends one prompt and returns one reply. Implementations make
// a single attempt and never retry.
type AIProvider interface {
	Generate(ctx context.Context, prompt Prompt) (*Generation, error)
	GetModelInfo(ctx context.Context) *ModelInfo
	Name() string
	Close() error
}

// BreakerReporter is implemented by providers that guard calls with a circuit breaker
type BreakerReporter interface {
	GetCircuitBreakerStats() map[string]any
}

// ModelInfo represents information about the AI model
type ModelInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version,omitempty"`
	Available   bool   `json:"available"`
	Error       string `json:"error,omitempty"`
}

// TokenUsage represents token usage information from AI responses
type TokenUsage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	TotalTokens  int64 `json:"totalTokens"`
}
