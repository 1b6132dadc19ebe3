// Package tlsutil builds client TLS configurations for the broker connection and
// HTTPS probes
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
)

// Config holds client TLS settings. The system CA bundle is always trusted;
// CAFiles are additional trusted CAs.
type Config struct {
	Enabled            bool     `yaml:"enabled" json:"enabled"`
	CAFiles            []string `yaml:"caFiles" json:"caFiles,omitempty"`
	CertFile           string   `yaml:"certFile" json:"certFile,omitempty" validate:"required_with=KeyFile"`
	KeyFile            string   `yaml:"keyFile" json:"-" validate:"required_with=CertFile"`
	ServerName         string   `yaml:"serverName" json:"serverName,omitempty"`
	MinVersion         string   `yaml:"minVersion" json:"minVersion,omitempty" validate:"omitempty,oneof=1.2 1.3"`
	InsecureSkipVerify bool     `yaml:"insecureSkipVerify" json:"insecureSkipVerify,omitempty"` // DEV/TEST ONLY
}

// LoadClientConfig creates a tls.Config from cfg. A disabled config yields nil.
func LoadClientConfig(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
		ServerName: cfg.ServerName,
	}

	// Start with system CA pool
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}

	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"tlsutil",
				"LoadClientConfig",
				fmt.Sprintf("parse CA certificate from %s", caFile),
			)
		}
	}
	tlsConfig.RootCAs = rootCAs

	// Operators opt in explicitly through the config file
	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	// Client certificate for mTLS
	if cfg.CertFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	return tlsConfig, nil
}

// parseTLSVersion converts version string to crypto/tls constant
// Returns tls.VersionTLS12 if empty or invalid
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
