package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"resumealign/internal/config"
	apperrors "resumealign/internal/errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

// modelCheckTimeout bounds the model lookup done by health checks
const modelCheckTimeout = 10 * time.Second

// GeminiProvider implements AIProvider for Google Gemini
type GeminiProvider struct {
	client       *genai.Client
	config       *config.OperationAIConfig
	breaker      *CircuitBreaker[*Generation]
	modelBreaker *CircuitBreaker[*ModelInfo]
	logger       *apperrors.Logger
}

var _ AIProvider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a Gemini provider from resolved analyze configuration
func NewGeminiProvider(ctx context.Context, cfg *config.OperationAIConfig, httpClient *http.Client, logger *apperrors.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, missingKeyError(cfg.Provider)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: *cfg.Timeout}
	}
	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, apperrors.NewAIError(apperrors.ErrCodeAIServiceFailed,
			"Failed to create Gemini client", err)
	}

	return &GeminiProvider{
		client:       client,
		config:       cfg,
		breaker:      NewGenerationBreaker(cfg.Provider, cfg.CircuitBreaker, logger),
		modelBreaker: NewModelBreaker(cfg.Provider, cfg.CircuitBreaker, logger),
		logger:       logger,
	}, nil
}

func (g *GeminiProvider) Name() string {
	return config.ProviderGemini
}

// Generate sends the prompt with the system instruction set separately.
// No response schema is sent because rewritten_bullets has free-form keys.
func (g *GeminiProvider) Generate(ctx context.Context, prompt Prompt) (*Generation, error) {
	tracer := otel.Tracer("resumealign.ai.gemini")
	ctx, span := tracer.Start(ctx, "gemini.generate")
	defer span.End()

	span.SetAttributes(
		attribute.String("ai.provider", "gemini"),
		attribute.String("ai.model", g.config.Model),
		attribute.Float64("ai.temperature", float64(*g.config.Temperature)),
		attribute.Float64("ai.top_p", float64(*g.config.TopP)),
		attribute.Int("input.user_prompt_length", len(prompt.User)),
	)

	genaiConfig := &genai.GenerateContentConfig{
		Temperature: g.config.Temperature,
		TopP:        g.config.TopP,
	}
	if *g.config.JSONResponse {
		genaiConfig.ResponseMIMEType = "application/json"
	}
	if prompt.System != "" {
		genaiConfig.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}

	var blocked string
	gen, err := g.breaker.Execute(func() (*Generation, error) {
		result, err := g.client.Models.GenerateContent(ctx, g.config.Model, genai.Text(prompt.User), genaiConfig)
		if err != nil {
			return nil, err
		}
		if reason, ok := geminiBlockReason(result); ok {
			blocked = reason
			return nil, nil
		}
		if len(result.Candidates) == 0 {
			return nil, &UpstreamError{
				Provider: config.ProviderGemini,
				Kind:     UpstreamService,
				Message:  "no candidates returned",
			}
		}
		return &Generation{
			Text:     result.Text(),
			Model:    firstNonEmpty(result.ModelVersion, g.config.Model),
			Provider: config.ProviderGemini,
			Usage:    extractTokenUsage(result),
		}, nil
	})
	if err == nil && blocked != "" {
		err = &UpstreamError{Provider: config.ProviderGemini, Kind: UpstreamService, Message: blocked}
	}
	if err != nil {
		if _, already := AsUpstream(err); !already {
			err = classifyUpstream(ctx, config.ProviderGemini, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		span.SetAttributes(attribute.Bool("success", false))
		return nil, err
	}

	span.SetAttributes(attribute.Bool("success", true))
	if gen.Usage != nil {
		span.SetAttributes(
			attribute.Int64("ai.tokens.input", gen.Usage.InputTokens),
			attribute.Int64("ai.tokens.output", gen.Usage.OutputTokens),
			attribute.Int64("ai.tokens.total", gen.Usage.TotalTokens),
		)
	}
	return gen, nil
}

// GetModelInfo checks the readiness and availability of the configured model
func (g *GeminiProvider) GetModelInfo(ctx context.Context) *ModelInfo {
	checkCtx, cancel := context.WithTimeout(ctx, modelCheckTimeout)
	defer cancel()

	info, err := g.modelBreaker.Execute(func() (*ModelInfo, error) {
		model, err := g.client.Models.Get(checkCtx, g.config.Model, &genai.GetModelConfig{})
		if err != nil {
			return nil, err
		}
		return &ModelInfo{
			Name:        g.config.Model,
			DisplayName: model.DisplayName,
			Version:     model.Version,
			Available:   true,
		}, nil
	})
	if err != nil {
		g.logger.Warn("Model availability check failed",
			"model", g.config.Model,
			"provider", g.config.Provider,
			"error", err.Error())
		return &ModelInfo{
			Name:  g.config.Model,
			Error: fmt.Sprintf("Failed to get model info: %v", err),
		}
	}

	g.logger.Debug("Model availability check successful",
		"model", g.config.Model,
		"display_name", info.DisplayName,
		"version", info.Version)
	return info
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (g *GeminiProvider) GetCircuitBreakerStats() map[string]any {
	return map[string]any{
		"ai_operations":    g.breaker.GetStats(),
		"model_operations": g.modelBreaker.GetStats(),
		"overall_healthy":  g.breaker.IsHealthy() && g.modelBreaker.IsHealthy(),
	}
}

// Close implements AIProvider; single-shot requests hold nothing open
func (g *GeminiProvider) Close() error {
	return nil
}

func extractTokenUsage(result *genai.GenerateContentResponse) *TokenUsage {
	if result == nil || result.UsageMetadata == nil {
		return nil
	}

	usage := result.UsageMetadata
	return &TokenUsage{
		InputTokens:  int64(usage.PromptTokenCount),
		OutputTokens: int64(usage.CandidatesTokenCount),
		TotalTokens:  int64(usage.TotalTokenCount),
	}
}

// geminiBlockReason reports a prompt rejected by safety settings or a
// candidate stopped for policy reasons
func geminiBlockReason(result *genai.GenerateContentResponse) (string, bool) {
	if fb := result.PromptFeedback; fb != nil && fb.BlockReason != "" {
		if fb.BlockReasonMessage != "" {
			return fb.BlockReasonMessage, true
		}
		return "prompt blocked: " + string(fb.BlockReason), true
	}
	if len(result.Candidates) == 0 || result.Candidates[0] == nil {
		return "", false
	}

	candidate := result.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist,
		genai.FinishReasonProhibitedContent, genai.FinishReasonSPII:
		if candidate.FinishMessage != "" {
			return candidate.FinishMessage, true
		}
		return "response blocked: " + string(candidate.FinishReason), true
	}
	return "", false
}
