// Package tls builds the API server's TLS configuration, optionally
// generating a self-signed certificate on first start.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/acoremgr/internal/config"
)

// File names used inside TLSConfig.Dir.
const (
	CertFileName = "tls.crt"
	KeyFileName  = "tls.key"
)

// parseTLSVersion maps "1.2"/"1.3" to the crypto/tls constant. Empty means 1.2.
func parseTLSVersion(ver string) (uint16, error) {
	switch ver {
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "", "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", ver)
}

// Paths returns the certificate and key files cfg points at.
func Paths(cfg config.TLSConfig) (certPath, keyPath string, err error) {
	switch {
	case cfg.CertFile != "" && cfg.KeyFile != "":
		return cfg.CertFile, cfg.KeyFile, nil
	case cfg.Dir != "":
		return filepath.Join(cfg.Dir, CertFileName), filepath.Join(cfg.Dir, KeyFileName), nil
	}
	return "", "", errors.New("TLS enabled but neither cert_file/key_file nor dir is set")
}

// Setup returns the server TLS config, or nil when TLS is disabled.
// Certificates are re-read on each handshake so they can be rotated
// without a restart.
func Setup(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath, err := Paths(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoGenerate && !exists(certPath, keyPath) {
		if err := os.MkdirAll(filepath.Dir(certPath), 0o755); err != nil {
			return nil, fmt.Errorf("create certificate dir: %w", err)
		}
		err := GenerateSelfSignedCert(CertConfig{
			CommonName: "localhost",
			DNSNames:   []string{"localhost"},
			IPs:        []string{"127.0.0.1", "::1"},
			NotAfter:   time.Now().AddDate(5, 0, 0),
			CertPath:   certPath,
			KeyPath:    keyPath,
		})
		if err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			c, err := tls.LoadX509KeyPair(certPath, keyPath)
			return &c, err
		},
	}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
