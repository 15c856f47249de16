package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"resumealign/internal/config"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultCollectionInterval = 15 * time.Second

// ObservabilityConfig holds configuration for observability
type ObservabilityConfig struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	ConsoleOutput  bool
	PrettyPrint    bool
	SampleRate     float64
	Prometheus     PrometheusConfig
}

// ObservabilityManager owns the tracer and meter providers for one process.
// A disabled manager hands out no-op tracers and metrics.
type ObservabilityManager struct {
	config     ObservabilityConfig
	fullConfig *config.Config

	tracerProvider oteltrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	metrics        *Metrics
	metricsHandler http.Handler

	shutdowns []func(context.Context) error
}

// NewObservabilityManager creates a new observability manager
func NewObservabilityManager(obsConfig ObservabilityConfig, fullConfig *config.Config) (*ObservabilityManager, error) {
	om := &ObservabilityManager{
		config:         obsConfig,
		fullConfig:     fullConfig,
		tracerProvider: noop.NewTracerProvider(),
	}
	if !obsConfig.Enabled {
		return om, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(obsConfig.ServiceName),
		semconv.ServiceVersion(obsConfig.ServiceVersion),
		attribute.String("service.instance.id", om.instanceID()),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := om.startTracing(res); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := om.startMetrics(res); err != nil {
		// tracing is already running
		_ = om.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return om, nil
}

// instanceID prefers the configured instance name; otherwise every process
// gets its own ID so replicas do not collide
func (om *ObservabilityManager) instanceID() string {
	if om.fullConfig != nil && om.fullConfig.Observability.ServiceInstance != "" {
		return om.fullConfig.Observability.ServiceInstance
	}
	return uuid.NewString()
}

func (om *ObservabilityManager) tracingEnabled() bool {
	return om.fullConfig == nil || om.fullConfig.Observability.Tracing.Enabled
}

func (om *ObservabilityManager) otlp() (config.OTLPConfig, bool) {
	if om.fullConfig == nil || !om.fullConfig.Observability.OTLP.Enabled {
		return config.OTLPConfig{}, false
	}
	return om.fullConfig.Observability.OTLP, true
}

func (om *ObservabilityManager) collectionInterval() time.Duration {
	if om.fullConfig != nil && om.fullConfig.Observability.Metrics.CollectionInterval > 0 {
		return om.fullConfig.Observability.Metrics.CollectionInterval
	}
	return defaultCollectionInterval
}

// startTracing installs the global tracer provider. Without an exporter
// spans are still created (so IDs propagate) but never exported.
func (om *ObservabilityManager) startTracing(res *resource.Resource) error {
	if !om.tracingEnabled() {
		return nil
	}

	exporter, err := om.spanExporter()
	if err != nil {
		return err
	}

	opts := []trace.TracerProviderOption{
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(om.config.SampleRate))),
	}
	if exporter != nil {
		opts = append(opts, trace.WithBatcher(exporter))
	}

	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	om.tracerProvider = tp
	om.shutdowns = append(om.shutdowns, tp.Shutdown)
	return nil
}

// spanExporter picks the console exporter, then OTLP, else none
func (om *ObservabilityManager) spanExporter() (trace.SpanExporter, error) {
	if om.config.ConsoleOutput {
		var opts []stdouttrace.Option
		if om.config.PrettyPrint {
			opts = append(opts, stdouttrace.WithPrettyPrint())
		}
		return stdouttrace.New(opts...)
	}

	otlpConfig, ok := om.otlp()
	if !ok {
		return nil, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(otlpConfig.Endpoint)}
	if otlpConfig.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(otlpConfig.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(otlpConfig.Headers))
	}
	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}

// startMetrics builds the meter provider from every configured reader and
// registers the application instruments on it
func (om *ObservabilityManager) startMetrics(res *resource.Resource) error {
	readers, err := om.metricReaders()
	if err != nil {
		return err
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, reader := range readers {
		opts = append(opts, sdkmetric.WithReader(reader))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	om.meterProvider = mp
	om.shutdowns = append(om.shutdowns, mp.Shutdown)

	settings := allMetricsEnabled
	if om.fullConfig != nil {
		settings = om.fullConfig.Observability.CustomMetrics
	}
	metrics, err := NewMetrics(mp.Meter(om.config.ServiceName), settings)
	if err != nil {
		return err
	}
	om.metrics = metrics
	return nil
}

// metricReaders returns console, OTLP and Prometheus readers as
// configured, or a manual reader when none is
func (om *ObservabilityManager) metricReaders() ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader
	interval := sdkmetric.WithInterval(om.collectionInterval())

	if om.config.ConsoleOutput {
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create console metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter, interval))
	}

	if otlpConfig, ok := om.otlp(); ok {
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(otlpConfig.Endpoint)}
		if otlpConfig.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		if len(otlpConfig.Headers) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(otlpConfig.Headers))
		}
		exporter, err := otlpmetrichttp.New(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter, interval))
	}

	promReader, err := om.prometheusReader()
	if err != nil {
		return nil, err
	}
	if promReader != nil {
		readers = append(readers, promReader)
	}

	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewManualReader())
	}
	return readers, nil
}

// prometheusReader registers the Prometheus exporter. Without a dedicated
// port the handler is mounted on the API server instead.
func (om *ObservabilityManager) prometheusReader() (sdkmetric.Reader, error) {
	reader, mux, err := SetupPrometheusExporter(om.config.Prometheus)
	if err != nil || reader == nil {
		return nil, err
	}

	if om.config.Prometheus.Port == "" {
		om.metricsHandler = mux
		return reader, nil
	}

	server, err := StartPrometheusServer(mux, om.config.Prometheus.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to start Prometheus server: %w", err)
	}
	om.shutdowns = append(om.shutdowns, server.Shutdown)
	return reader, nil
}

// GetMetrics returns the metrics instance. Disabled observability yields
// metrics whose recorders do nothing.
func (om *ObservabilityManager) GetMetrics() *Metrics {
	if om.metrics == nil {
		return &Metrics{}
	}
	return om.metrics
}

// MetricsHandler returns the Prometheus handler to mount on the API
// server, or nil when metrics are served elsewhere or disabled.
func (om *ObservabilityManager) MetricsHandler() http.Handler {
	return om.metricsHandler
}

// HTTPMiddleware returns HTTP middleware with OpenTelemetry instrumentation
func (om *ObservabilityManager) HTTPMiddleware() func(http.Handler) http.Handler {
	if !om.config.Enabled {
		return func(h http.Handler) http.Handler { return h }
	}

	opts := []otelhttp.Option{otelhttp.WithTracerProvider(om.tracerProvider)}
	if om.meterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(om.meterProvider))
	}
	return otelhttp.NewMiddleware(om.config.ServiceName, opts...)
}

// Tracer returns a tracer from the manager's provider
func (om *ObservabilityManager) Tracer(name string) oteltrace.Tracer {
	return om.tracerProvider.Tracer(name)
}

// Shutdown flushes and stops every component in reverse start order. All
// components are stopped even when one fails.
func (om *ObservabilityManager) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(om.shutdowns) - 1; i >= 0; i-- {
		if err := om.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	om.shutdowns = nil
	return errors.Join(errs...)
}
