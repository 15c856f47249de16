package observability

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"resumealign/internal/config"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

const defaultPrometheusEndpoint = "/metrics"

// PrometheusConfig holds Prometheus-specific configuration. An empty Port
// means the endpoint is served by the API server.
type PrometheusConfig struct {
	Enabled  bool
	Endpoint string
	Port     string
}

func (c PrometheusConfig) endpoint() string {
	if c.Endpoint == "" {
		return defaultPrometheusEndpoint
	}
	return c.Endpoint
}

// SetupPrometheusExporter creates an OTel reader that exports into a
// private registry, along with a mux serving that registry. The registry
// also carries the Go runtime and process collectors.
func SetupPrometheusExporter(cfg PrometheusConfig) (metric.Reader, *http.ServeMux, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	registry := promclient.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.endpoint(), promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		Registry:          registry,
		EnableOpenMetrics: true,
	}))
	return exporter, mux, nil
}

// StartPrometheusServer binds the port before returning so an address in
// use is reported to the caller. Later serve errors go to the OTel error
// handler.
func StartPrometheusServer(mux *http.ServeMux, port string) (*http.Server, error) {
	if mux == nil {
		return nil, errors.New("no Prometheus handler to serve")
	}

	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %s: %w", port, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			otel.Handle(fmt.Errorf("prometheus server: %w", err))
		}
	}()
	return server, nil
}

// GetPrometheusConfig extracts the Prometheus settings from the app config
func GetPrometheusConfig(cfg *config.Config) PrometheusConfig {
	if cfg == nil {
		return PrometheusConfig{Endpoint: defaultPrometheusEndpoint}
	}
	p := cfg.Observability.Prometheus
	return PrometheusConfig{Enabled: p.Enabled, Endpoint: p.Endpoint, Port: p.Port}
}
