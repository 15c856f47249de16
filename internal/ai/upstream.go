package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	apperrors "resumealign/internal/errors"

	"github.com/openai/openai-go/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// UpstreamKind classifies why a generation call failed
type UpstreamKind string

const (
	UpstreamUnreachable UpstreamKind = "unreachable"
	UpstreamAuth        UpstreamKind = "auth"
	UpstreamService     UpstreamKind = "service"
	UpstreamCircuitOpen UpstreamKind = "circuit_open"
)

// UpstreamError is a terminal failure of a single generation attempt.
// Message is the service's own message, passed through unchanged.
type UpstreamError struct {
	Provider   string
	Kind       UpstreamKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream %s error (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s upstream %s error: %s", e.Provider, e.Kind, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// AppError converts the failure into the application error taxonomy
func (e *UpstreamError) AppError() *apperrors.AppError {
	code := apperrors.ErrCodeUpstreamFailed
	switch e.Kind {
	case UpstreamUnreachable:
		code = apperrors.ErrCodeUpstreamUnreachable
	case UpstreamAuth:
		code = apperrors.ErrCodeAuthRejected
	case UpstreamCircuitOpen:
		code = apperrors.ErrCodeCircuitOpen
	}

	appErr := apperrors.NewAIError(code, e.Message, e).
		WithContext("provider", e.Provider).
		WithContext("upstream_kind", string(e.Kind))
	if e.StatusCode != 0 {
		appErr.WithContext("upstream_status", e.StatusCode)
	}
	return appErr
}

// AsUpstream reports whether err wraps an UpstreamError
func AsUpstream(err error) (*UpstreamError, bool) {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr, true
	}
	return nil, false
}

// classifyUpstream turns a raw client error into the error the pipeline
// reports. A caller that gave up gets an AI_TIMEOUT AppError instead of an
// UpstreamError, since the service did not fail.
func classifyUpstream(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperrors.NewAIError(apperrors.ErrCodeAITimeout, "generation aborted before a reply arrived", ctxErr).
			WithContext("provider", provider)
	}

	upErr := &UpstreamError{Provider: provider, Kind: UpstreamService, Message: err.Error(), Cause: err}

	var (
		openaiErr *openai.Error
		genaiErr  genai.APIError
		googleErr *googleapi.Error
		netErr    net.Error
		urlErr    *url.Error
	)

	switch {
	case isBreakerRejection(err):
		upErr.Kind = UpstreamCircuitOpen
		upErr.Message = "generation service temporarily disabled after repeated failures"
	case errors.As(err, &openaiErr):
		upErr.StatusCode = openaiErr.StatusCode
		upErr.Message = firstNonEmpty(openaiErr.Message, http.StatusText(openaiErr.StatusCode), err.Error())
	case errors.As(err, &genaiErr):
		upErr.StatusCode = genaiErr.Code
		upErr.Message = firstNonEmpty(genaiErr.Message, genaiErr.Status, err.Error())
	case errors.As(err, &googleErr):
		upErr.StatusCode = googleErr.Code
		upErr.Message = firstNonEmpty(googleErr.Message, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		upErr.Kind = UpstreamUnreachable
		upErr.Message = "request to generation service timed out"
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		upErr.Kind = UpstreamUnreachable
	}

	if upErr.StatusCode == http.StatusUnauthorized || upErr.StatusCode == http.StatusForbidden {
		upErr.Kind = UpstreamAuth
	}

	return upErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
