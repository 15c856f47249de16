package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"resumealign/internal/config"
	apperrors "resumealign/internal/errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared/constant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OpenAIProvider talks to any OpenAI compatible chat completions endpoint.
// It serves both the github provider (GitHub Models) and plain OpenAI.
type OpenAIProvider struct {
	client       *openai.Client
	config       *config.OperationAIConfig
	breaker      *CircuitBreaker[*Generation]
	modelBreaker *CircuitBreaker[*ModelInfo]
	logger       *apperrors.Logger
}

var _ AIProvider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider from resolved analyze configuration.
// httpClient may be nil.
func NewOpenAIProvider(cfg *config.OperationAIConfig, httpClient *http.Client, logger *apperrors.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, missingKeyError(cfg.Provider)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// one attempt per request; failures are terminal
		option.WithMaxRetries(0),
		option.WithRequestTimeout(*cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	client := openai.NewClient(opts...)

	return &OpenAIProvider{
		client:       &client,
		config:       cfg,
		breaker:      NewGenerationBreaker(cfg.Provider, cfg.CircuitBreaker, logger),
		modelBreaker: NewModelBreaker(cfg.Provider, cfg.CircuitBreaker, logger),
		logger:       logger,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return p.config.Provider
}

// Generate sends the prompt as a system and a user message
func (p *OpenAIProvider) Generate(ctx context.Context, prompt Prompt) (*Generation, error) {
	tracer := otel.Tracer("resumealign.ai." + p.config.Provider)
	ctx, span := tracer.Start(ctx, p.config.Provider+".generate")
	defer span.End()

	span.SetAttributes(
		attribute.String("ai.provider", p.config.Provider),
		attribute.String("ai.model", p.config.Model),
		attribute.Float64("ai.temperature", float64(*p.config.Temperature)),
		attribute.Float64("ai.top_p", float64(*p.config.TopP)),
		attribute.Int("input.user_prompt_length", len(prompt.User)),
	)

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
		Model:       openai.ChatModel(p.config.Model),
		Temperature: openai.Float(float64(*p.config.Temperature)),
		TopP:        openai.Float(float64(*p.config.TopP)),
	}
	if *p.config.JSONResponse {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{Type: constant.JSONObject("json_object")},
		}
	}

	// A filtered reply is a policy decision, not an unhealthy service, so it
	// is reported after the breaker has counted the call as a success.
	var blocked string
	gen, err := p.breaker.Execute(func() (*Generation, error) {
		completion, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(completion.Choices) == 0 {
			return nil, &UpstreamError{
				Provider: p.config.Provider,
				Kind:     UpstreamService,
				Message:  "no choices returned",
			}
		}

		if reason, ok := openAIBlockReason(completion.Choices[0]); ok {
			blocked = reason
			return nil, nil
		}

		return &Generation{
			Text:     completion.Choices[0].Message.Content,
			Model:    firstNonEmpty(completion.Model, p.config.Model),
			Provider: p.config.Provider,
			Usage: &TokenUsage{
				InputTokens:  completion.Usage.PromptTokens,
				OutputTokens: completion.Usage.CompletionTokens,
				TotalTokens:  completion.Usage.TotalTokens,
			},
		}, nil
	})
	if err == nil && blocked != "" {
		err = &UpstreamError{Provider: p.config.Provider, Kind: UpstreamService, Message: blocked}
	}
	if err != nil {
		if _, already := AsUpstream(err); !already {
			err = classifyUpstream(ctx, p.config.Provider, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		span.SetAttributes(attribute.Bool("success", false))
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("success", true),
		attribute.Int64("ai.tokens.input", gen.Usage.InputTokens),
		attribute.Int64("ai.tokens.output", gen.Usage.OutputTokens),
		attribute.Int64("ai.tokens.total", gen.Usage.TotalTokens),
	)
	return gen, nil
}

// GetModelInfo checks that the configured model can be looked up. GitHub
// Models exposes no per-model lookup on the inference endpoint, so there
// availability follows the generation breaker.
func (p *OpenAIProvider) GetModelInfo(ctx context.Context) *ModelInfo {
	if p.config.Provider == config.ProviderGitHub {
		info := &ModelInfo{Name: p.config.Model, DisplayName: "GitHub Models", Available: p.breaker.IsHealthy()}
		if !info.Available {
			info.Error = "generation circuit breaker is open"
		}
		return info
	}

	info, err := p.modelBreaker.Execute(func() (*ModelInfo, error) {
		model, err := p.client.Models.Get(ctx, p.config.Model)
		if err != nil {
			return nil, err
		}
		return &ModelInfo{Name: model.ID, DisplayName: model.OwnedBy, Available: true}, nil
	})
	if err != nil {
		p.logger.Warn("Model availability check failed",
			"model", p.config.Model,
			"provider", p.config.Provider,
			"error", err.Error())
		return &ModelInfo{
			Name:  p.config.Model,
			Error: fmt.Sprintf("Failed to get model info: %v", err),
		}
	}
	return info
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (p *OpenAIProvider) GetCircuitBreakerStats() map[string]any {
	return map[string]any{
		"ai_operations":    p.breaker.GetStats(),
		"model_operations": p.modelBreaker.GetStats(),
		"overall_healthy":  p.breaker.IsHealthy() && p.modelBreaker.IsHealthy(),
	}
}

// Close releases nothing; the client holds no long lived connections of its own
func (p *OpenAIProvider) Close() error {
	return nil
}

// openAIBlockReason reports a choice withheld by the content filter or
// refused by the model, with the service's reason when it gave one.
func openAIBlockReason(choice openai.ChatCompletionChoice) (string, bool) {
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" && strings.TrimSpace(choice.Message.Content) == "" {
		return refusal, true
	}
	if choice.FinishReason == "content_filter" {
		return "response blocked by content filter", true
	}
	return "", false
}

func missingKeyError(provider string) error {
	envName := map[string]string{
		config.ProviderGitHub: "GITHUB_TOKEN",
		config.ProviderOpenAI: "OPENAI_API_KEY",
		config.ProviderGemini: "GEMINI_API_KEY",
	}[provider]
	return apperrors.NewConfigError(apperrors.ErrCodeMissingAPIKey,
		fmt.Sprintf("API key for provider %q is required (set %s or RESUMEALIGN_AI_APIKEY)", provider, envName), nil)
}
