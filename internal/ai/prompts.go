package ai

import (
	"fmt"

	"resumealign/internal/config"
)

// DefaultSystemPrompt fixes the assistant role and the reply shape
const DefaultSystemPrompt = `You are a resume optimization assistant. Given a resume and job description, evaluate the alignment and provide feedback. Always respond with valid JSON in this exact format: {"match_score": "percentage or qualitative score", "recommendations": ["recommendation1", "recommendation2"], "rewritten_bullets": {"old_bullet": "new_bullet"}, "summary": "one paragraph summary"}`

// DefaultUserPrompt takes the resume text and the job text, in that order
const DefaultUserPrompt = `Please analyze this resume against the job description and provide feedback in JSON format.

RESUME:
%s

JOB DESCRIPTION:
%s

Provide a match score (0-100%%), specific recommendations for improvement, suggested rewrites for key bullet points, and a summary of gaps/opportunities.`

// PromptBuilder assembles the system instruction and user message for an
// analysis. It holds no per-request state.
type PromptBuilder struct {
	system       string
	userTemplate string
}

// NewPromptBuilder resolves configured overrides against the defaults
func NewPromptBuilder(prompts config.PromptConfig) (*PromptBuilder, error) {
	userTemplate := resolvePrompt(prompts.UserPrompt, DefaultUserPrompt)
	if err := config.ValidateUserTemplate(userTemplate); err != nil {
		return nil, err
	}
	return &PromptBuilder{
		system:       resolvePrompt(prompts.SystemPrompt, DefaultSystemPrompt),
		userTemplate: userTemplate,
	}, nil
}

// Build embeds both documents verbatim. Text is neither truncated nor sanitized.
func (b *PromptBuilder) Build(resumeText, jobText string) Prompt {
	return Prompt{
		System: b.system,
		User:   fmt.Sprintf(b.userTemplate, resumeText, jobText),
	}
}

// resolvePrompt prefers the configured prompt, which already reflects any
// prompt file, over the built-in default.
func resolvePrompt(fromConfig, fromDefault string) string {
	if fromConfig != "" {
		return fromConfig
	}
	return fromDefault
}
