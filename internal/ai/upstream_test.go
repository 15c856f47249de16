package ai

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"resumealign/internal/errors"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

func TestClassifyUpstream(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   UpstreamKind
		wantMsg    string
		wantStatus int
	}{
		{
			name:       "gemini api error",
			err:        genai.APIError{Code: http.StatusForbidden, Message: "API key not valid", Status: "PERMISSION_DENIED"},
			wantKind:   UpstreamAuth,
			wantMsg:    "API key not valid",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "googleapi error",
			err:        fmt.Errorf("call: %w", &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "model overloaded"}),
			wantKind:   UpstreamService,
			wantMsg:    "model overloaded",
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:     "open breaker",
			err:      gobreaker.ErrOpenState,
			wantKind: UpstreamCircuitOpen,
			wantMsg:  "generation service temporarily disabled after repeated failures",
		},
		{
			name:     "request timeout",
			err:      fmt.Errorf("post: %w", context.DeadlineExceeded),
			wantKind: UpstreamUnreachable,
			wantMsg:  "request to generation service timed out",
		},
		{
			name:     "unknown error keeps message",
			err:      stderrors.New("stream reset"),
			wantKind: UpstreamService,
			wantMsg:  "stream reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyUpstream(context.Background(), "test", tt.err)
			upErr, ok := AsUpstream(err)
			if !ok {
				t.Fatalf("expected UpstreamError, got %T", err)
			}
			if upErr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", upErr.Kind, tt.wantKind)
			}
			if upErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", upErr.Message, tt.wantMsg)
			}
			if upErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", upErr.StatusCode, tt.wantStatus)
			}
			if upErr.Cause == nil {
				t.Error("cause should be kept")
			}
		})
	}
}

func TestUpstreamErrorAppError(t *testing.T) {
	codes := map[UpstreamKind]string{
		UpstreamUnreachable: errors.ErrCodeUpstreamUnreachable,
		UpstreamAuth:        errors.ErrCodeAuthRejected,
		UpstreamService:     errors.ErrCodeUpstreamFailed,
		UpstreamCircuitOpen: errors.ErrCodeCircuitOpen,
	}
	for kind, code := range codes {
		appErr := (&UpstreamError{Provider: "github", Kind: kind, Message: "verbatim"}).AppError()
		if appErr.Code != code || appErr.Type != errors.ErrorTypeAI || appErr.Message != "verbatim" {
			t.Errorf("%s: got %+v", kind, appErr)
		}
	}
}

func TestClassifyUpstreamCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := classifyUpstream(ctx, "github", context.Canceled)
	if _, ok := AsUpstream(err); ok {
		t.Fatal("cancellation must not be reported as an upstream failure")
	}
	if !errors.HasCode(err, errors.ErrCodeAITimeout) {
		t.Errorf("expected AI_TIMEOUT, got %v", err)
	}
}
