package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"resumealign/internal/ai"
	"resumealign/internal/analysis"
	"resumealign/internal/config"
	apperrors "resumealign/internal/errors"
	"resumealign/internal/observability"
	"resumealign/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const strictReply = `{"match_score": 78, "recommendations": ["Quantify impact"], "rewritten_bullets": {"Wrote code": "Shipped three services"}, "summary": "Solid match."}`

type fakeProvider struct {
	calls     atomic.Int32
	available bool
	generate  func(ctx context.Context, prompt ai.Prompt) (*ai.Generation, error)
}

func (f *fakeProvider) Generate(ctx context.Context, prompt ai.Prompt) (*ai.Generation, error) {
	f.calls.Add(1)
	return f.generate(ctx, prompt)
}

func (f *fakeProvider) GetModelInfo(context.Context) *ai.ModelInfo {
	return &ai.ModelInfo{Name: "fake-model", Available: f.available}
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Close() error { return nil }

func replyWith(text string) *fakeProvider {
	return &fakeProvider{available: true, generate: func(context.Context, ai.Prompt) (*ai.Generation, error) {
		return &ai.Generation{Text: text, Model: "fake-model", Provider: "fake"}, nil
	}}
}

func failWith(err error) *fakeProvider {
	return &fakeProvider{available: true, generate: func(context.Context, ai.Prompt) (*ai.Generation, error) {
		return nil, err
	}}
}

// newTestServer builds a server around provider with observability off.
// mutate may adjust the config before the server is created.
func newTestServer(t *testing.T, provider ai.AIProvider, mutate func(*ServerConfig)) (*Server, http.Handler) {
	t.Helper()

	cfg := ServerConfig{Version: "test", MaxRequestSize: 1 << 20}
	if mutate != nil {
		mutate(&cfg)
	}

	logger := apperrors.NewLoggerTo(&bytes.Buffer{}, slog.LevelDebug)
	s := NewServer(&config.Config{}, cfg, logger)
	t.Cleanup(s.Close)

	builder, err := ai.NewPromptBuilder(config.PromptConfig{})
	require.NoError(t, err)
	s.AI = &ai.Service{Provider: provider, Prompts: builder}
	s.Pipeline = analysis.NewPipeline(s.AI,
		analysis.NewInterpreter(config.AnalysisConfig{SplitMode: config.SplitModeAware, StripCodeFences: true}),
		logger, nil)

	om, err := observability.NewObservabilityManager(observability.ObservabilityConfig{}, nil)
	require.NoError(t, err)
	return s, s.Handler(om)
}

func jsonRequest(t *testing.T, body any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type part struct {
	field, filename, content string
}

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, mw.WriteField(p.field, p.content))
			continue
		}
		fw, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(p.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAnalyzeJSONStrict(t *testing.T) {
	provider := replyWith(strictReply)
	_, handler := newTestServer(t, provider, nil)

	rec := serve(handler, jsonRequest(t, AnalyzeRequest{
		ResumeText:         "Jane Doe\n- Wrote code",
		JobDescriptionText: "Backend engineer",
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "strict", rec.Header().Get(InterpretationHeader))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var report types.AnalysisReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "78", report.MatchScore)
	assert.Equal(t, []string{"Quantify impact"}, report.Recommendations)
	assert.Equal(t, map[string]string{"Wrote code": "Shipped three services"}, report.RewrittenBullets)
	assert.Equal(t, "Solid match.", report.Summary)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestAnalyzeResponseKeyOrder(t *testing.T) {
	_, handler := newTestServer(t, replyWith(strictReply), nil)

	rec := serve(handler, jsonRequest(t, AnalyzeRequest{ResumeText: "r", JobDescriptionText: "j"}))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	order := []string{`"match_score"`, `"recommendations"`, `"rewritten_bullets"`, `"summary"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(body, key)
		require.Greater(t, idx, last, "key %s out of order in %s", key, body)
		last = idx
	}
}

func TestAnalyzeRecoveredReply(t *testing.T) {
	reply := `Here you go: "match_score": 62, "summary": "Needs more Go."`
	_, handler := newTestServer(t, replyWith(reply), nil)

	rec := serve(handler, jsonRequest(t, AnalyzeRequest{ResumeText: "r", JobDescriptionText: "j"}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "recovered", rec.Header().Get(InterpretationHeader))

	var report types.AnalysisReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "62", report.MatchScore)
	assert.NotNil(t, report.Recommendations)
	assert.NotNil(t, report.RewrittenBullets)
}

func TestAnalyzeMultipartTextUpload(t *testing.T) {
	var seen ai.Prompt
	provider := replyWith(strictReply)
	inner := provider.generate
	provider.generate = func(ctx context.Context, prompt ai.Prompt) (*ai.Generation, error) {
		seen = prompt
		return inner(ctx, prompt)
	}
	_, handler := newTestServer(t, provider, nil)

	rec := serve(handler, multipartRequest(t,
		part{field: "resume", filename: "resume.txt", content: "Gopher with ten years of experience"},
		part{field: "jobDescriptionText", content: "Looking for a gopher"},
	))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, seen.User, "Gopher with ten years of experience")
	assert.Contains(t, seen.User, "Looking for a gopher")
}

func TestAnalyzeMultipartBothFiles(t *testing.T) {
	_, handler := newTestServer(t, replyWith(strictReply), nil)

	rec := serve(handler, multipartRequest(t,
		part{field: "resume", filename: "resume.md", content: "# Jane"},
		part{field: "jobDescription", filename: "job.txt", content: "Go role"},
	))

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAnalyzeValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		request func(t *testing.T) *http.Request
		message string
	}{
		{
			name: "missing resume",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, part{field: "jobDescriptionText", content: "job"})
			},
			message: msgResumeRequired,
		},
		{
			name: "missing job description",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, part{field: "resume", filename: "cv.txt", content: "resume"})
			},
			message: msgJobRequired,
		},
		{
			name: "blank json resume",
			request: func(t *testing.T) *http.Request {
				return jsonRequest(t, AnalyzeRequest{ResumeText: "  ", JobDescriptionText: "job"})
			},
			message: msgResumeRequired,
		},
		{
			name: "undecodable pdf",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t,
					part{field: "resume", filename: "cv.pdf", content: "definitely not a pdf"},
					part{field: "jobDescriptionText", content: "job"})
			},
		},
		{
			name: "unsupported content type",
			request: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader("hello"))
				req.Header.Set("Content-Type", "text/plain")
				return req
			},
		},
		{
			name: "malformed json",
			request: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader("{"))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			message: "Invalid request body.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := replyWith(strictReply)
			_, handler := newTestServer(t, provider, nil)

			rec := serve(handler, tt.request(t))

			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decodeError(t, rec)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Error)
			} else {
				assert.NotEmpty(t, body.Error)
			}
			assert.Zero(t, provider.calls.Load(), "provider must not be called for invalid input")
		})
	}
}

func TestAnalyzeBodyTooLarge(t *testing.T) {
	provider := replyWith(strictReply)
	_, handler := newTestServer(t, provider, func(cfg *ServerConfig) {
		cfg.MaxRequestSize = 64
	})

	rec := serve(handler, jsonRequest(t, AnalyzeRequest{
		ResumeText:         strings.Repeat("a", 256),
		JobDescriptionText: "job",
	}))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, provider.calls.Load())
}

func TestAnalyzeUpstreamFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{
			name:   "service error",
			err:    &ai.UpstreamError{Provider: "fake", Kind: ai.UpstreamService, StatusCode: 500, Message: "model overloaded"},
			status: http.StatusBadGateway,
			want:   msgUpstreamPrefix + "model overloaded",
		},
		{
			name:   "auth error",
			err:    &ai.UpstreamError{Provider: "fake", Kind: ai.UpstreamAuth, StatusCode: 401, Message: "bad key"},
			status: http.StatusBadGateway,
			want:   msgUpstreamPrefix + "bad key",
		},
		{
			name:   "circuit open",
			err:    &ai.UpstreamError{Provider: "fake", Kind: ai.UpstreamCircuitOpen, Message: "circuit breaker is open"},
			status: http.StatusServiceUnavailable,
			want:   msgUpstreamPrefix + "circuit breaker is open",
		},
		{
			name:   "timeout",
			err:    apperrors.NewAIError(apperrors.ErrCodeAITimeout, "timed out", context.DeadlineExceeded),
			status: http.StatusGatewayTimeout,
			want:   msgTimeout,
		},
		{
			name:   "deadline",
			err:    fmt.Errorf("generate: %w", context.DeadlineExceeded),
			status: http.StatusGatewayTimeout,
			want:   msgTimeout,
		},
		{
			name:   "unexpected",
			err:    fmt.Errorf("boom"),
			status: http.StatusInternalServerError,
			want:   apperrors.ProcessingFailureMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := failWith(tt.err)
			_, handler := newTestServer(t, provider, nil)

			rec := serve(handler, jsonRequest(t, AnalyzeRequest{ResumeText: "r", JobDescriptionText: "j"}))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.want, decodeError(t, rec).Error)
			assert.Empty(t, rec.Header().Get(InterpretationHeader))
			assert.Equal(t, int32(1), provider.calls.Load(), "a failed call is never retried")
		})
	}
}

func TestAnalyzeMethodNotAllowed(t *testing.T) {
	_, handler := newTestServer(t, replyWith(strictReply), nil)

	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/api/analyze", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
