package ai

import (
	"context"
	"fmt"
	"net/http"

	"resumealign/internal/config"
	"resumealign/internal/errors"
)

// Service bundles the prompt builder with the configured provider
type Service struct {
	Provider AIProvider
	Prompts  *PromptBuilder
	config   *config.OperationAIConfig
	logger   *errors.Logger
}

// NewService creates the provider named by cfg.Provider. httpClient may be
// nil; tests pass one pointed at a local server.
func NewService(ctx context.Context, cfg *config.OperationAIConfig, httpClient *http.Client, logger *errors.Logger) (*Service, error) {
	logger.Debug("Initializing AI service",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"base_url", cfg.BaseURL,
		"temperature", *cfg.Temperature,
		"top_p", *cfg.TopP,
		"timeout", *cfg.Timeout,
		"circuit_breaker", cfg.CircuitBreaker.Enabled)

	prompts, err := NewPromptBuilder(cfg.CustomPrompts)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "Invalid prompt configuration", err)
	}

	var provider AIProvider
	switch cfg.Provider {
	case config.ProviderGitHub, config.ProviderOpenAI:
		provider, err = NewOpenAIProvider(cfg, httpClient, logger)
	case config.ProviderGemini:
		provider, err = NewGeminiProvider(ctx, cfg, httpClient, logger)
	default:
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("Unsupported AI provider: %s", cfg.Provider), nil)
	}
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewAIError(errors.ErrCodeAIServiceFailed, "Failed to create AI provider", err)
	}

	return &Service{
		Provider: provider,
		Prompts:  prompts,
		config:   cfg,
		logger:   logger,
	}, nil
}

// GetModelInfo returns information about the AI model for health checks
func (s *Service) GetModelInfo(ctx context.Context) *ModelInfo {
	return s.Provider.GetModelInfo(ctx)
}

// CircuitBreakerStats returns breaker statistics when the provider has any
func (s *Service) CircuitBreakerStats() map[string]any {
	if reporter, ok := s.Provider.(BreakerReporter); ok {
		return reporter.GetCircuitBreakerStats()
	}
	return map[string]any{"enabled": false}
}

// Close releases the provider
func (s *Service) Close() error {
	return s.Provider.Close()
}
