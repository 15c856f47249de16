package analysis

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"resumealign/internal/ai"
	"resumealign/internal/config"
	"resumealign/internal/errors"
	"resumealign/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const strictReplyText = `{"match_score": 85, "recommendations": ["Add metrics"], "rewritten_bullets": {"Managed team": "Led team of 5"}, "summary": "Good fit."}`

type fakeProvider struct {
	calls    atomic.Int32
	generate func(ctx context.Context, prompt ai.Prompt) (*ai.Generation, error)
}

func (f *fakeProvider) Generate(ctx context.Context, prompt ai.Prompt) (*ai.Generation, error) {
	f.calls.Add(1)
	return f.generate(ctx, prompt)
}

func (f *fakeProvider) GetModelInfo(context.Context) *ai.ModelInfo {
	return &ai.ModelInfo{Name: "fake", Available: true}
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Close() error { return nil }

func replying(text string) *fakeProvider {
	return &fakeProvider{generate: func(context.Context, ai.Prompt) (*ai.Generation, error) {
		return &ai.Generation{Text: text, Model: "fake-model", Provider: "fake", Usage: &ai.TokenUsage{TotalTokens: 42}}, nil
	}}
}

func newTestPipeline(t *testing.T, provider ai.AIProvider, logs *bytes.Buffer) *Pipeline {
	t.Helper()
	builder, err := ai.NewPromptBuilder(config.PromptConfig{})
	require.NoError(t, err)
	if logs == nil {
		logs = &bytes.Buffer{}
	}
	return &Pipeline{
		Builder:     builder,
		Provider:    provider,
		Interpreter: NewInterpreter(config.AnalysisConfig{SplitMode: config.SplitModeAware, StripCodeFences: true}),
		Logger:      errors.NewLoggerTo(logs, slog.LevelDebug),
	}
}

var testRequest = types.AnalysisRequest{
	ResumeText: "Jane Doe\n- Managed team",
	JobText:    "Senior Go engineer",
}

func TestPipelineRunStrict(t *testing.T) {
	var seen ai.Prompt
	provider := replying(strictReplyText)
	inner := provider.generate
	provider.generate = func(ctx context.Context, prompt ai.Prompt) (*ai.Generation, error) {
		seen = prompt
		return inner(ctx, prompt)
	}

	result, err := newTestPipeline(t, provider, nil).Run(context.Background(), testRequest)
	require.NoError(t, err)

	assert.True(t, result.Strict)
	assert.Empty(t, result.Defaulted)
	assert.Equal(t, "85", result.Report.MatchScore)
	assert.Equal(t, map[string]string{"Managed team": "Led team of 5"}, result.Report.RewrittenBullets)
	assert.Equal(t, "fake-model", result.Model)
	assert.Equal(t, int64(42), result.Usage.TotalTokens)

	assert.Contains(t, seen.System, "resume optimization assistant")
	assert.Contains(t, seen.User, testRequest.ResumeText)
	assert.Contains(t, seen.User, testRequest.JobText)
}

func TestPipelineRunRecoveredLogsWarning(t *testing.T) {
	var logs bytes.Buffer
	provider := replying(`Sure, here it is: "summary": "Decent fit." and nothing else`)

	result, err := newTestPipeline(t, provider, &logs).Run(context.Background(), testRequest)
	require.NoError(t, err)

	assert.False(t, result.Strict)
	assert.Equal(t, "Decent fit.", result.Report.Summary)
	assert.Equal(t, types.DefaultMatchScore, result.Report.MatchScore)
	assert.Equal(t, []string{FieldMatchScore, FieldRecommendations, FieldRewrittenBullets}, result.Defaulted)

	assert.Contains(t, logs.String(), `"level":"WARN"`)
	assert.Contains(t, logs.String(), FieldRewrittenBullets)
}

func TestPipelineUpstreamFailureSkipsInterpreter(t *testing.T) {
	upstream := &ai.UpstreamError{Provider: "fake", Kind: ai.UpstreamAuth, StatusCode: 401, Message: "Bad credentials"}
	provider := &fakeProvider{generate: func(context.Context, ai.Prompt) (*ai.Generation, error) {
		return nil, upstream
	}}

	p := newTestPipeline(t, provider, nil)
	// any call into a nil interpreter would surface as a processing failure
	p.Interpreter = nil

	result, err := p.Run(context.Background(), testRequest)
	assert.Nil(t, result)

	upErr, ok := ai.AsUpstream(err)
	require.True(t, ok, "expected the upstream error, got %v", err)
	assert.Equal(t, "Bad credentials", upErr.Message)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestPipelineRejectsMissingDocuments(t *testing.T) {
	provider := replying(strictReplyText)
	p := newTestPipeline(t, provider, nil)

	for _, req := range []types.AnalysisRequest{
		{ResumeText: "", JobText: "job"},
		{ResumeText: "resume", JobText: "  \n"},
	} {
		_, err := p.Run(context.Background(), req)
		assert.True(t, errors.HasCode(err, errors.ErrCodeMissingDocument), "got %v", err)
	}
	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestPipelineDiscardsReplyAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := replying(strictReplyText)
	inner := provider.generate
	provider.generate = func(ctx context.Context, prompt ai.Prompt) (*ai.Generation, error) {
		cancel()
		return inner(ctx, prompt)
	}

	p := newTestPipeline(t, provider, nil)
	p.Interpreter = nil

	result, err := p.Run(ctx, testRequest)
	assert.Nil(t, result)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAITimeout), "got %v", err)
}

func TestPipelineConcurrentRuns(t *testing.T) {
	provider := &fakeProvider{generate: func(_ context.Context, prompt ai.Prompt) (*ai.Generation, error) {
		// echo a score derived from the request so results can be told apart
		idx := strings.TrimPrefix(prompt.User[strings.Index(prompt.User, "candidate-"):], "candidate-")
		idx = idx[:strings.IndexAny(idx, "\n ")]
		return &ai.Generation{Text: fmt.Sprintf(`{"match_score": %s}`, idx)}, nil
	}}
	p := newTestPipeline(t, provider, nil)

	const n = 16
	var wg sync.WaitGroup
	scores := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := types.AnalysisRequest{ResumeText: fmt.Sprintf("candidate-%d\n", i), JobText: "job"}
			result, err := p.Run(context.Background(), req)
			if err == nil {
				scores[i] = result.Report.MatchScore
			}
		}()
	}
	wg.Wait()

	for i, score := range scores {
		assert.Equal(t, fmt.Sprint(i), score)
	}
}
