package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"resumealign/internal/config"
	"resumealign/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "openai/gpt-4.1",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {"role": "assistant", "content": "{\"match_score\": 85}"}
  }],
  "usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
}`

type chatServer struct {
	*httptest.Server
	hits    atomic.Int32
	lastReq atomic.Value
}

func newChatServer(t *testing.T, status int, body string) *chatServer {
	t.Helper()
	cs := &chatServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		raw, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(raw, &decoded)
		decoded["_auth"] = r.Header.Get("Authorization")
		decoded["_path"] = r.URL.Path
		cs.lastReq.Store(decoded)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func newTestOpenAIProvider(t *testing.T, baseURL string) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider(testOperationConfig(config.ProviderGitHub, baseURL), nil, testLogger)
	require.NoError(t, err)
	return p
}

func TestOpenAIProviderGenerate(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, completionBody)
	p := newTestOpenAIProvider(t, srv.URL)

	gen, err := p.Generate(context.Background(), Prompt{System: "sys", User: "usr"})
	require.NoError(t, err)

	assert.Equal(t, `{"match_score": 85}`, gen.Text)
	assert.Equal(t, "openai/gpt-4.1", gen.Model)
	assert.Equal(t, "github", gen.Provider)
	require.NotNil(t, gen.Usage)
	assert.Equal(t, int64(150), gen.Usage.TotalTokens)

	req := srv.lastReq.Load().(map[string]any)
	assert.Equal(t, "/chat/completions", req["_path"])
	assert.Equal(t, "Bearer test-key", req["_auth"])
	assert.Equal(t, "openai/gpt-4.1", req["model"])
	assert.InDelta(t, 0.2, req["temperature"], 1e-6)
	assert.InDelta(t, 1.0, req["top_p"], 1e-6)
	assert.Equal(t, map[string]any{"type": "json_object"}, req["response_format"])

	messages := req["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
}

func TestOpenAIProviderUpstreamFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind UpstreamKind
		wantMsg  string
	}{
		{
			name:     "rejected credentials",
			status:   http.StatusUnauthorized,
			body:     `{"error": {"message": "Bad credentials", "type": "invalid_request_error", "code": "unauthorized", "param": null}}`,
			wantKind: UpstreamAuth,
			wantMsg:  "Bad credentials",
		},
		{
			name:     "service error",
			status:   http.StatusTooManyRequests,
			body:     `{"error": {"message": "Rate limit of 15 per 60s exceeded", "type": "rate_limit", "code": "RateLimitReached", "param": null}}`,
			wantKind: UpstreamService,
			wantMsg:  "Rate limit of 15 per 60s exceeded",
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     `{"error": {"message": "The server had an error", "type": "server_error", "code": null, "param": null}}`,
			wantKind: UpstreamService,
			wantMsg:  "The server had an error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newChatServer(t, tt.status, tt.body)
			p := newTestOpenAIProvider(t, srv.URL)

			_, err := p.Generate(context.Background(), Prompt{System: "s", User: "u"})
			upErr, ok := AsUpstream(err)
			require.True(t, ok, "expected UpstreamError, got %v", err)

			assert.Equal(t, tt.wantKind, upErr.Kind)
			assert.Equal(t, tt.wantMsg, upErr.Message)
			assert.Equal(t, tt.status, upErr.StatusCode)
			assert.Equal(t, int32(1), srv.hits.Load(), "a failed attempt must not be retried")
		})
	}
}

func TestOpenAIProviderNoChoices(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	p := newTestOpenAIProvider(t, srv.URL)

	_, err := p.Generate(context.Background(), Prompt{User: "u"})
	upErr, ok := AsUpstream(err)
	require.True(t, ok)
	assert.Equal(t, "no choices returned", upErr.Message)
}

func TestOpenAIProviderBlockedReplies(t *testing.T) {
	tests := []struct {
		name    string
		choice  string
		wantMsg string
	}{
		{
			name:    "content filter",
			choice:  `{"index":0,"finish_reason":"content_filter","message":{"role":"assistant","content":""}}`,
			wantMsg: "response blocked by content filter",
		},
		{
			name:    "refusal",
			choice:  `{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"","refusal":"I can't help with that."}}`,
			wantMsg: "I can't help with that.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[` + tt.choice + `]}`
			srv := newChatServer(t, http.StatusOK, body)

			cfg := testOperationConfig(config.ProviderGitHub, srv.URL)
			cfg.CircuitBreaker = testBreakerConfig()
			p, err := NewOpenAIProvider(cfg, nil, testLogger)
			require.NoError(t, err)

			for range 3 {
				gen, err := p.Generate(context.Background(), Prompt{User: "u"})
				assert.Nil(t, gen)
				upErr, ok := AsUpstream(err)
				require.True(t, ok, "expected UpstreamError, got %v", err)
				assert.Equal(t, UpstreamService, upErr.Kind)
				assert.Equal(t, tt.wantMsg, upErr.Message)
			}
			assert.True(t, p.breaker.IsHealthy(), "filtered replies must not trip the breaker")
		})
	}
}

func TestOpenAIProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newTestOpenAIProvider(t, url)
	_, err := p.Generate(context.Background(), Prompt{User: "u"})

	upErr, ok := AsUpstream(err)
	require.True(t, ok, "expected UpstreamError, got %v", err)
	assert.Equal(t, UpstreamUnreachable, upErr.Kind)
	assert.Equal(t, errors.ErrCodeUpstreamUnreachable, upErr.AppError().Code)
}

func TestOpenAIProviderCancelled(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, completionBody)
	p := newTestOpenAIProvider(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Generate(ctx, Prompt{User: "u"})
	_, isUpstream := AsUpstream(err)
	assert.False(t, isUpstream, "a cancelled call is not an upstream failure")
	assert.True(t, errors.HasCode(err, errors.ErrCodeAITimeout), "got %v", err)
}

func TestOpenAIProviderGitHubModelInfo(t *testing.T) {
	p := newTestOpenAIProvider(t, "http://127.0.0.1:1")
	info := p.GetModelInfo(context.Background())
	assert.True(t, info.Available)
	assert.Equal(t, "openai/gpt-4.1", info.Name)
}
