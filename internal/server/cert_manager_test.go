package server

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"resumealign/internal/config"
	apperrors "resumealign/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSigned writes a fresh certificate and key for commonName
func writeSelfSigned(t *testing.T, certPath, keyPath, commonName string, validFor time.Duration) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	// key first so a reload triggered by the cert write sees a matching pair
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
}

func testLogger() *apperrors.Logger {
	return apperrors.NewLoggerTo(&bytes.Buffer{}, slog.LevelDebug)
}

func certPaths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key")
}

func currentCN(t *testing.T, cm *CertificateManager) string {
	t.Helper()
	cert, err := cm.GetServerCertificate(nil)
	require.NoError(t, err)
	return cert.Leaf.Subject.CommonName
}

func TestCertificateManagerLoad(t *testing.T) {
	certFile, keyFile := certPaths(t)
	writeSelfSigned(t, certFile, keyFile, "first", 30*24*time.Hour)

	cm := NewCertificateManager(config.TLSConfig{Mode: "server", CertFile: certFile, KeyFile: keyFile}, nil, testLogger())
	require.NoError(t, cm.Start())
	defer func() { require.NoError(t, cm.Stop()) }()

	assert.Equal(t, "first", currentCN(t, cm))
	assert.False(t, cm.Watching())
	assert.Nil(t, cm.GetCACertPool())

	remaining, err := cm.CheckExpiry()
	require.NoError(t, err)
	assert.Greater(t, remaining, 29*24*time.Hour)
	assert.Equal(t, int64(1), cm.GetMetrics().ReloadCount)
}

func TestCertificateManagerMissingFiles(t *testing.T) {
	certFile, keyFile := certPaths(t)

	cm := NewCertificateManager(config.TLSConfig{Mode: "server", CertFile: certFile, KeyFile: keyFile}, nil, testLogger())

	assert.Error(t, cm.Start())
	_, err := cm.GetServerCertificate(nil)
	assert.Error(t, err)
}

func TestCertificateManagerReload(t *testing.T) {
	certFile, keyFile := certPaths(t)
	writeSelfSigned(t, certFile, keyFile, "first", 30*24*time.Hour)

	cm := NewCertificateManager(config.TLSConfig{
		Mode:          "server",
		CertFile:      certFile,
		KeyFile:       keyFile,
		Reload:        true,
		DebounceDelay: 50 * time.Millisecond,
	}, nil, testLogger())
	require.NoError(t, cm.Start())
	defer func() { require.NoError(t, cm.Stop()) }()
	require.True(t, cm.Watching())

	writeSelfSigned(t, certFile, keyFile, "second", 30*24*time.Hour)

	assert.Eventually(t, func() bool {
		cert, err := cm.GetServerCertificate(nil)
		return err == nil && cert.Leaf.Subject.CommonName == "second"
	}, 5*time.Second, 25*time.Millisecond)
}

func TestCertificateManagerKeepsOldCertOnBadReload(t *testing.T) {
	certFile, keyFile := certPaths(t)
	writeSelfSigned(t, certFile, keyFile, "good", 30*24*time.Hour)

	cm := NewCertificateManager(config.TLSConfig{
		Mode:          "server",
		CertFile:      certFile,
		KeyFile:       keyFile,
		Reload:        true,
		DebounceDelay: 50 * time.Millisecond,
	}, nil, testLogger())
	require.NoError(t, cm.Start())
	defer func() { require.NoError(t, cm.Stop()) }()

	require.NoError(t, os.WriteFile(certFile, []byte("not a certificate"), 0o600))

	assert.Eventually(t, func() bool {
		return cm.GetMetrics().ReloadFailureCount > 0
	}, 5*time.Second, 25*time.Millisecond)
	assert.Equal(t, "good", currentCN(t, cm))
	assert.NotEmpty(t, cm.GetMetrics().LastReloadError)
}

func TestMutualTLSLoadsCAPool(t *testing.T) {
	certFile, keyFile := certPaths(t)
	writeSelfSigned(t, certFile, keyFile, "server", 30*24*time.Hour)

	s := NewServer(&config.Config{}, ServerConfig{
		TLSConfig: config.TLSConfig{
			Mode:             "mutual",
			CertFile:         certFile,
			KeyFile:          keyFile,
			CAFile:           certFile,
			MinVersion:       "1.3",
			ClientAuthPolicy: "verify",
		},
	}, testLogger())

	httpServer := &http.Server{}
	require.NoError(t, s.configureTLS(httpServer))
	defer s.cleanup()

	require.NotNil(t, httpServer.TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS13), httpServer.TLSConfig.MinVersion)
	assert.Equal(t, tls.VerifyClientCertIfGiven, httpServer.TLSConfig.ClientAuth)

	perClient, err := httpServer.TLSConfig.GetConfigForClient(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.NotNil(t, perClient.ClientCAs)
	assert.Nil(t, perClient.GetConfigForClient)
}

func TestConfigureTLSDisabled(t *testing.T) {
	for _, mode := range []string{"", "none", "disabled"} {
		s := NewServer(&config.Config{}, ServerConfig{TLSConfig: config.TLSConfig{Mode: mode}}, testLogger())
		httpServer := &http.Server{}

		require.NoError(t, s.configureTLS(httpServer))
		assert.Nil(t, httpServer.TLSConfig)
		assert.False(t, s.tlsEnabled())
	}
}

func TestConfigureTLSInvalidMode(t *testing.T) {
	s := NewServer(&config.Config{}, ServerConfig{TLSConfig: config.TLSConfig{Mode: "sometimes"}}, testLogger())

	assert.Error(t, s.configureTLS(&http.Server{}))
}

func TestHealthReportsCertificates(t *testing.T) {
	certFile, keyFile := certPaths(t)
	writeSelfSigned(t, certFile, keyFile, "soon", 12*time.Hour)

	s, _ := newTestServer(t, replyWith(strictReply), nil)
	s.CertificateManager = NewCertificateManager(config.TLSConfig{Mode: "server", CertFile: certFile, KeyFile: keyFile}, nil, testLogger())
	require.NoError(t, s.CertificateManager.Start())

	status := s.checkCertificateHealth()
	assert.Equal(t, "critical", status["status"])
	assert.Equal(t, false, status["healthy"])
}
