package observability

import (
	"context"
	"errors"
	"testing"

	"resumealign/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T, settings config.CustomMetricsConfig) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetrics(provider.Meter("test"), settings)
	require.NoError(t, err)
	return m, reader
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRecordAnalysis(t *testing.T) {
	m, reader := newTestMetrics(t, allMetricsEnabled)
	ctx := context.Background()

	m.RecordAnalysis(ctx, true, 0)
	m.RecordAnalysis(ctx, false, 2)
	m.RecordAnalysis(ctx, false, 4)

	assert.Equal(t, int64(3), counterTotal(t, reader, "resumealign_analyses_total"))
	assert.Equal(t, int64(2), counterTotal(t, reader, "resumealign_degraded_interpretations_total"))
}

func TestBusinessMetricsCanBeDisabled(t *testing.T) {
	settings := allMetricsEnabled
	settings.BusinessMetrics.Enabled = false
	m, reader := newTestMetrics(t, settings)

	m.RecordAnalysis(context.Background(), false, 1)
	m.RecordDocumentExtracted(context.Background(), "pdf", true)

	assert.Zero(t, counterTotal(t, reader, "resumealign_analyses_total"))
	assert.Zero(t, counterTotal(t, reader, "resumealign_documents_extracted_total"))
}

func TestTrackAIOperationWithTokens(t *testing.T) {
	m, reader := newTestMetrics(t, allMetricsEnabled)
	failure := errors.New("upstream down")

	err := m.TrackAIOperationWithTokens(context.Background(), "analyze", func(context.Context) *AIOperationResult {
		return &AIOperationResult{TokenUsage: &TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
	})
	require.NoError(t, err)

	err = m.TrackAIOperationWithTokens(context.Background(), "analyze", func(context.Context) *AIOperationResult {
		return &AIOperationResult{Error: failure}
	})
	assert.ErrorIs(t, err, failure)

	assert.Equal(t, int64(2), counterTotal(t, reader, "resumealign_ai_requests_total"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "resumealign_ai_errors_total"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.RecordAnalysis(ctx, true, 0)
	m.RecordProcessingFailure(ctx)
	m.RecordDocumentExtracted(ctx, "pdf", true)
	m.RecordRateLimitHit(ctx)

	called := false
	err := m.TrackAIOperationWithTokens(ctx, "analyze", func(context.Context) *AIOperationResult {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestDisabledManagerHasNoHandler(t *testing.T) {
	om, err := NewObservabilityManager(ObservabilityConfig{Enabled: false}, nil)
	require.NoError(t, err)

	assert.Nil(t, om.MetricsHandler())
	assert.NotNil(t, om.GetMetrics())
	assert.NoError(t, om.Shutdown(context.Background()))
}
