package analysis

import (
	"context"
	"strings"

	"resumealign/internal/ai"
	"resumealign/internal/errors"
	"resumealign/internal/observability"
	"resumealign/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Result is a finished analysis together with how it was obtained
type Result struct {
	Report    types.AnalysisReport
	Strict    bool
	Defaulted []string
	Usage     *ai.TokenUsage
	Model     string
	Provider  string
}

// Pipeline runs prompt building, generation, interpretation and assembly
// for one request at a time. It keeps no per-request state, so a single
// Pipeline is shared by concurrent requests.
type Pipeline struct {
	Builder     *ai.PromptBuilder
	Provider    ai.AIProvider
	Interpreter *Interpreter
	Logger      *errors.Logger
	Metrics     *observability.Metrics
}

// NewPipeline wires a pipeline from an AI service. metrics may be nil.
func NewPipeline(service *ai.Service, interpreter *Interpreter, logger *errors.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		Builder:     service.Prompts,
		Provider:    service.Provider,
		Interpreter: interpreter,
		Logger:      logger,
		Metrics:     metrics,
	}
}

// ValidateRequest rejects a request with a blank document
func ValidateRequest(req types.AnalysisRequest) error {
	if strings.TrimSpace(req.ResumeText) == "" {
		return errors.NewValidationError(errors.ErrCodeMissingDocument, "Resume text is required.", nil)
	}
	if strings.TrimSpace(req.JobText) == "" {
		return errors.NewValidationError(errors.ErrCodeMissingDocument, "Job description text is required.", nil)
	}
	return nil
}

// Run analyzes one document pair. Generation failures are returned as they
// come from the provider and the reply is never interpreted in that case.
func (p *Pipeline) Run(ctx context.Context, req types.AnalysisRequest) (*Result, error) {
	ctx, span := otel.Tracer("resumealign.analysis").Start(ctx, "analysis.run")
	defer span.End()

	if err := ValidateRequest(req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}

	prompt := p.Builder.Build(req.ResumeText, req.JobText)
	span.SetAttributes(
		attribute.Int("input.resume_length", len(req.ResumeText)),
		attribute.Int("input.job_length", len(req.JobText)),
	)

	var gen *ai.Generation
	err := p.Metrics.TrackAIOperationWithTokens(ctx, "analyze", func(ctx context.Context) *observability.AIOperationResult {
		g, err := p.Provider.Generate(ctx, prompt)
		if err != nil {
			return &observability.AIOperationResult{Error: err}
		}
		gen = g
		return &observability.AIOperationResult{TokenUsage: observabilityUsage(g.Usage)}
	})
	if err != nil {
		p.Logger.LogError(err, "Generation failed", "provider", p.Provider.Name())
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, err
	}

	// a reply that arrives after cancellation is discarded
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, errors.NewAIError(errors.ErrCodeAITimeout, "Analysis cancelled before the reply was interpreted", ctxErr)
	}

	outcome, err := Assemble(func() Outcome { return p.Interpreter.Interpret(gen.Text) })
	if err != nil {
		p.Metrics.RecordProcessingFailure(ctx)
		p.Logger.LogError(err, "Interpreting reply failed", "reply_length", len(gen.Text))
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		return nil, err
	}

	p.Metrics.RecordAnalysis(ctx, outcome.Strict, len(outcome.Defaulted))
	span.SetAttributes(
		attribute.Bool("strict", outcome.Strict),
		attribute.Int("defaulted_count", len(outcome.Defaulted)),
		attribute.String("model", gen.Model),
	)

	if outcome.Strict {
		p.Logger.Debug("Reply parsed strictly", "model", gen.Model, "defaulted", outcome.Defaulted)
	} else {
		p.Logger.Warn("Reply was not valid JSON, fields recovered individually",
			"model", gen.Model,
			"defaulted", outcome.Defaulted,
			"reply_length", len(gen.Text))
	}

	return &Result{
		Report:    outcome.Report,
		Strict:    outcome.Strict,
		Defaulted: outcome.Defaulted,
		Usage:     gen.Usage,
		Model:     gen.Model,
		Provider:  gen.Provider,
	}, nil
}

func observabilityUsage(usage *ai.TokenUsage) *observability.TokenUsage {
	if usage == nil {
		return nil
	}
	return &observability.TokenUsage{
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
	}
}
