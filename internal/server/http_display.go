package server

import (
	"fmt"

	"resumealign/internal/utils"
)

// displayServerInfo logs the effective server configuration once at startup
func (s *Server) displayServerInfo(addr string) {
	scheme := "http"
	if s.tlsEnabled() {
		scheme = "https"
	}

	s.Logger.Info("Server configuration",
		"url", fmt.Sprintf("%s://%s", scheme, addr),
		"tls_mode", s.tlsModeName(),
		"endpoints", []string{"GET /health", "GET /stats", "POST /api/analyze"})

	s.displayAuthInfo()
	s.displayRequestLimitInfo()
	s.displayRateLimitInfo()
}

func (s *Server) tlsModeName() string {
	if !s.tlsEnabled() {
		return "none"
	}
	return s.TLSConfig.Mode
}

// displayAuthInfo shows authentication configuration
func (s *Server) displayAuthInfo() {
	if s.authEnabled() {
		s.Logger.Info("API authentication enabled",
			"api_keys", len(s.APIKeys),
			"jwt", s.JWT.Secret != "")
		return
	}
	s.Logger.Warn("API authentication disabled, /api/analyze is publicly accessible")
}

// displayRequestLimitInfo shows request size limit configuration
func (s *Server) displayRequestLimitInfo() {
	if s.MaxRequestSize > 0 {
		s.Logger.Info("Request size limit", "limit", utils.FormatFileSize(s.MaxRequestSize))
		return
	}
	s.Logger.Warn("No request size limit configured")
}

// displayRateLimitInfo shows rate limiting configuration
func (s *Server) displayRateLimitInfo() {
	if s.RateLimiter == nil {
		s.Logger.Warn("Rate limiting disabled")
		return
	}
	s.Logger.Info("Rate limiting enabled",
		"requests_per_min", s.RateLimit.RequestsPerMin,
		"burst", s.RateLimit.BurstCapacity,
		"by_ip", s.RateLimit.ByIP,
		"by_api_key", s.RateLimit.ByAPIKey)
}
