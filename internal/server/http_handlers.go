package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultHealthCheckTimeout = 5 * time.Second

// getHealthCheckTimeout bounds the model probe, preferring the model
// specific timeout over the general one
func (s *Server) getHealthCheckTimeout() time.Duration {
	if s.AppConfig == nil {
		return defaultHealthCheckTimeout
	}
	hc := s.AppConfig.Observability.HealthCheck
	switch {
	case hc.AIModelCheckTimeout > 0:
		return hc.AIModelCheckTimeout
	case hc.Timeout > 0:
		return hc.Timeout
	}
	return defaultHealthCheckTimeout
}

// healthHandler reports model availability, breaker state and certificates
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":  "healthy",
		"service": "resumealign",
		"version": s.Version,
	}

	overallHealthy := true

	if s.AI != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.getHealthCheckTimeout())
		defer cancel()

		modelInfo := s.AI.GetModelInfo(ctx)
		response["ai_model"] = modelInfo
		response["circuit_breaker"] = s.AI.CircuitBreakerStats()
		if modelInfo == nil || !modelInfo.Available {
			overallHealthy = false
		}
	} else {
		response["ai_model"] = map[string]any{
			"available": false,
			"error":     "AI service not initialized",
		}
		overallHealthy = false
	}

	if certStatus := s.checkCertificateHealth(); certStatus != nil {
		response["certificates"] = certStatus
		if healthy, ok := certStatus["healthy"].(bool); ok && !healthy {
			overallHealthy = false
		}
	}

	status := http.StatusOK
	if !overallHealthy {
		response["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// checkCertificateHealth checks the health of TLS certificates
func (s *Server) checkCertificateHealth() map[string]any {
	if s.CertificateManager == nil {
		return nil
	}

	certStatus := make(map[string]any)

	timeToExpiry, err := s.CertificateManager.CheckExpiry()
	if err != nil {
		certStatus["healthy"] = false
		certStatus["error"] = fmt.Sprintf("Failed to check certificate expiry: %v", err)
		return certStatus
	}

	const (
		criticalThreshold = 24 * time.Hour
		warningThreshold  = 7 * 24 * time.Hour
	)

	certStatus["time_to_expiry_hours"] = int(timeToExpiry.Hours())

	switch {
	case timeToExpiry <= 0:
		certStatus["healthy"] = false
		certStatus["status"] = "expired"
	case timeToExpiry <= criticalThreshold:
		certStatus["healthy"] = false
		certStatus["status"] = "critical"
	case timeToExpiry <= warningThreshold:
		certStatus["healthy"] = true
		certStatus["status"] = "warning"
	default:
		certStatus["healthy"] = true
		certStatus["status"] = "ok"
	}

	certStatus["auto_reload"] = s.CertificateManager.Watching()
	if metrics := s.CertificateManager.GetMetrics(); metrics != nil {
		certStatus["metrics"] = map[string]any{
			"reload_count":         metrics.ReloadCount,
			"reload_failure_count": metrics.ReloadFailureCount,
			"last_reload_time":     metrics.LastReloadTime,
			"last_reload_error":    metrics.LastReloadError,
		}
	}

	return certStatus
}

// statsHandler provides server statistics including rate limiting info
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"service": "resumealign",
		"version": s.Version,
		"server": map[string]any{
			"max_request_size_bytes": s.MaxRequestSize,
			"request_timeout":        s.RequestTimeout.String(),
			"auth_enabled":           s.authEnabled(),
		},
	}

	if s.RateLimiter != nil {
		response["rate_limiting"] = s.RateLimiter.GetStats()
	} else {
		response["rate_limiting"] = map[string]any{"enabled": false}
	}

	if s.AI != nil {
		response["circuit_breaker"] = s.AI.CircuitBreakerStats()
	}

	writeJSON(w, http.StatusOK, response)
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are already sent, an encode error cannot reach the client
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorResponse writes a standardized error response
func writeErrorResponse(w http.ResponseWriter, error, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Error: error, Message: message})
}
