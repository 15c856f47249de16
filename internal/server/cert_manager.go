package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"resumealign/internal/config"
	"resumealign/internal/errors"
	"resumealign/internal/observability"
)

// CertificateManager holds the current server certificate and client CA
// pool, swapping both when the files on disk change.
type CertificateManager struct {
	mu sync.RWMutex

	serverCert *tls.Certificate
	caCertPool *x509.CertPool
	notAfter   time.Time

	config  config.TLSConfig
	watcher *CertWatcher
	metrics *observability.Metrics
	logger  *errors.Logger

	reloadCount        int64
	reloadFailureCount int64
	lastReloadTime     time.Time
	lastReloadError    string
}

// CertificateMetrics holds metrics about certificate operations
type CertificateMetrics struct {
	ReloadCount        int64
	ReloadFailureCount int64
	LastReloadTime     time.Time
	LastReloadError    string
}

// NewCertificateManager creates a manager for cfg. metrics may be nil.
func NewCertificateManager(cfg config.TLSConfig, metrics *observability.Metrics, logger *errors.Logger) *CertificateManager {
	return &CertificateManager{
		config:  cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Start loads the certificates and, when reload is enabled, watches them
func (cm *CertificateManager) Start() error {
	if err := cm.loadCertificates(); err != nil {
		return fmt.Errorf("failed to load initial certificates: %w", err)
	}

	if !cm.config.Reload {
		return nil
	}

	cm.watcher = NewCertWatcher(
		[]string{cm.config.CertFile, cm.config.KeyFile, cm.caFile()},
		cm.config.DebounceDelay,
		cm.triggerReload,
		cm.logger,
	)
	if err := cm.watcher.Start(); err != nil {
		cm.watcher = nil
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	return nil
}

// Stop stops the file watcher
func (cm *CertificateManager) Stop() error {
	if cm.watcher == nil {
		return nil
	}
	return cm.watcher.Stop()
}

// Watching reports whether certificate files are being watched
func (cm *CertificateManager) Watching() bool {
	return cm.watcher != nil && cm.watcher.IsRunning()
}

func (cm *CertificateManager) caFile() string {
	if cm.config.Mode != "mutual" {
		return ""
	}
	return cm.config.CAFile
}

// GetServerCertificate returns the current server certificate for TLS handshakes
func (cm *CertificateManager) GetServerCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.serverCert == nil {
		return nil, fmt.Errorf("no server certificate available")
	}
	return cm.serverCert, nil
}

// GetCACertPool returns the current CA certificate pool
func (cm *CertificateManager) GetCACertPool() *x509.CertPool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.caCertPool
}

// CheckExpiry returns the time until the server certificate expires
func (cm *CertificateManager) CheckExpiry() (time.Duration, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.notAfter.IsZero() {
		return 0, fmt.Errorf("no certificates loaded")
	}
	return time.Until(cm.notAfter), nil
}

// GetMetrics returns certificate management metrics
func (cm *CertificateManager) GetMetrics() *CertificateMetrics {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return &CertificateMetrics{
		ReloadCount:        cm.reloadCount,
		ReloadFailureCount: cm.reloadFailureCount,
		LastReloadTime:     cm.lastReloadTime,
		LastReloadError:    cm.lastReloadError,
	}
}

// loadCertificates reads the key pair and CA, then swaps them in together
func (cm *CertificateManager) loadCertificates() error {
	cert, err := tls.LoadX509KeyPair(cm.config.CertFile, cm.config.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load server cert/key: %w", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse server certificate: %w", err)
	}
	cert.Leaf = leaf

	var pool *x509.CertPool
	if caFile := cm.caFile(); caFile != "" {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return fmt.Errorf("failed to read CA file: %w", err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return fmt.Errorf("failed to parse CA certificate")
		}
	}

	cm.mu.Lock()
	cm.serverCert = &cert
	cm.caCertPool = pool
	cm.notAfter = leaf.NotAfter
	cm.reloadCount++
	cm.lastReloadTime = time.Now()
	cm.lastReloadError = ""
	cm.mu.Unlock()

	cm.metrics.RecordCertReload(context.Background(), leaf.NotAfter, true)

	if cm.logger != nil {
		cm.logger.Info("Certificates loaded",
			"subject", leaf.Subject.CommonName,
			"not_after", leaf.NotAfter)
	}
	return nil
}

// triggerReload is called by the watcher. A failed reload keeps serving
// the previous certificates.
func (cm *CertificateManager) triggerReload() {
	if err := cm.loadCertificates(); err != nil {
		cm.mu.Lock()
		cm.reloadCount++
		cm.reloadFailureCount++
		cm.lastReloadError = err.Error()
		notAfter := cm.notAfter
		cm.mu.Unlock()

		cm.metrics.RecordCertReload(context.Background(), notAfter, false)
		if cm.logger != nil {
			cm.logger.LogError(err, "Failed to reload certificates, keeping previous ones")
		}
	}
}
