package server

import (
	"net/http"

	"resumealign/internal/observability"
)

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes(om *observability.ObservabilityManager) http.Handler {
	mux := http.NewServeMux()

	rateLimitHandler := s.rateLimitMiddleware()
	requestLimitHandler := s.requestSizeLimitMiddleware()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /stats", s.statsHandler)
	mux.HandleFunc("POST /api/analyze",
		rateLimitHandler(
			s.authMiddleware(requestLimitHandler(s.createAnalyzeHandler(om))),
		),
	)

	if handler := om.MetricsHandler(); handler != nil {
		endpoint := observability.GetPrometheusConfig(s.AppConfig).Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		mux.Handle("GET "+endpoint, handler)
	}

	return requestIDMiddleware(s.accessLogMiddleware(corsMiddleware(s.AllowedOrigins)(mux)))
}

// authMiddleware accepts a configured API key or, when a JWT secret is
// set, an HS256 bearer token.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() {
			next(w, r)
			return
		}

		credential := credentialFrom(r)
		if credential == "" {
			s.Logger.Info("Authentication failed: missing API key",
				"endpoint", r.URL.Path,
				"client_ip", getClientIP(r),
				"request_id", requestIDFrom(r.Context()))
			writeErrorResponse(w, "Missing API key", "X-API-Key header or Authorization Bearer token required", http.StatusUnauthorized)
			return
		}

		if s.APIKeys[credential] {
			s.Logger.Debug("API authentication successful",
				"endpoint", r.URL.Path,
				"api_key_prefix", maskAPIKey(credential))
			next(w, r)
			return
		}

		if s.JWT.Secret != "" {
			claims, err := s.verifyJWT(credential)
			if err == nil {
				s.Logger.Debug("JWT authentication successful",
					"endpoint", r.URL.Path,
					"subject", claims.Subject)
				next(w, r)
				return
			}
			s.Logger.Debug("JWT rejected", "error", err)
		}

		s.Logger.Info("Authentication failed: invalid credentials",
			"endpoint", r.URL.Path,
			"client_ip", getClientIP(r),
			"api_key_prefix", maskAPIKey(credential),
			"request_id", requestIDFrom(r.Context()))
		writeErrorResponse(w, "Invalid API key", "Unauthorized access", http.StatusUnauthorized)
	}
}

// requestSizeLimitMiddleware limits the size of incoming requests
func (s *Server) requestSizeLimitMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if s.MaxRequestSize > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestSize)
			}

			next(w, r)
		}
	}
}

// maskAPIKey masks an API key for logging (shows only first 8 characters)
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:8] + "****"
}
