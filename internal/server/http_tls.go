package server

import (
	"crypto/tls"
	"fmt"
	"net/http"
)

// tlsEnabled reports whether the server terminates TLS itself
func (s *Server) tlsEnabled() bool {
	switch s.TLSConfig.Mode {
	case "", "none", "disabled":
		return false
	}
	return true
}

// configureTLS loads certificates and attaches a TLS config to httpServer
// for the server and mutual modes
func (s *Server) configureTLS(httpServer *http.Server) error {
	switch s.TLSConfig.Mode {
	case "", "none", "disabled":
		return nil
	case "server", "mutual":
	default:
		return fmt.Errorf("invalid TLS mode: %s (must be 'none', 'server', or 'mutual')", s.TLSConfig.Mode)
	}

	certManager := NewCertificateManager(s.TLSConfig, s.Metrics, s.Logger)
	if err := certManager.Start(); err != nil {
		return fmt.Errorf("failed to start certificate manager: %w", err)
	}
	s.CertificateManager = certManager

	httpServer.TLSConfig = s.buildTLSConfig(certManager)
	return nil
}

// buildTLSConfig creates a TLS config whose certificate and client CA pool
// are read from certManager on every handshake
func (s *Server) buildTLSConfig(certManager *CertificateManager) *tls.Config {
	base := &tls.Config{
		MinVersion:     s.minTLSVersion(),
		GetCertificate: certManager.GetServerCertificate,
	}

	if s.TLSConfig.Mode != "mutual" {
		base.ClientAuth = tls.NoClientCert
		return base
	}

	base.ClientAuth = s.getClientAuthPolicy()
	base.GetConfigForClient = func(*tls.ClientHelloInfo) (*tls.Config, error) {
		cfg := base.Clone()
		cfg.GetConfigForClient = nil
		cfg.ClientCAs = certManager.GetCACertPool()
		return cfg, nil
	}
	return base
}

// minTLSVersion maps the configured minimum version, defaulting to 1.2
func (s *Server) minTLSVersion() uint16 {
	if s.TLSConfig.MinVersion == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// getClientAuthPolicy returns the appropriate client authentication policy
func (s *Server) getClientAuthPolicy() tls.ClientAuthType {
	switch s.TLSConfig.ClientAuthPolicy {
	case "request":
		return tls.RequestClientCert
	case "verify":
		return tls.VerifyClientCertIfGiven
	default:
		return tls.RequireAndVerifyClientCert
	}
}
