package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "health-monitor",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestLoadClientConfig_Disabled(t *testing.T) {
	cfg, err := LoadClientConfig(Config{CAFiles: []string{"/does/not/exist.pem"}})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadClientConfig(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t)
	certFile := writeFile(t, dir, "client.pem", certPEM)
	keyFile := writeFile(t, dir, "client-key.pem", keyPEM)
	badPEM := writeFile(t, dir, "bad.pem", []byte("not a certificate"))

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		check   func(t *testing.T, c *tls.Config)
	}{
		{
			name: "defaults",
			cfg:  Config{Enabled: true},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
				assert.NotNil(t, c.RootCAs)
				assert.False(t, c.InsecureSkipVerify)
				assert.Empty(t, c.Certificates)
			},
		},
		{
			name: "tls 1.3 and server name",
			cfg:  Config{Enabled: true, MinVersion: "1.3", ServerName: "nats.internal"},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
				assert.Equal(t, "nats.internal", c.ServerName)
			},
		},
		{
			name: "client certificate",
			cfg:  Config{Enabled: true, CertFile: certFile, KeyFile: keyFile},
			check: func(t *testing.T, c *tls.Config) {
				assert.Len(t, c.Certificates, 1)
			},
		},
		{
			name: "insecure skip verify",
			cfg:  Config{Enabled: true, InsecureSkipVerify: true},
			check: func(t *testing.T, c *tls.Config) {
				assert.True(t, c.InsecureSkipVerify)
			},
		},
		{name: "missing CA file", cfg: Config{Enabled: true, CAFiles: []string{filepath.Join(dir, "none.pem")}}, wantErr: true},
		{name: "invalid CA PEM", cfg: Config{Enabled: true, CAFiles: []string{badPEM}}, wantErr: true},
		{name: "missing key", cfg: Config{Enabled: true, CertFile: certFile, KeyFile: filepath.Join(dir, "none.pem")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := LoadClientConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsFatal(err))
				return
			}
			require.NoError(t, err)
			require.NotNil(t, c)
			tt.check(t, c)
		})
	}
}

func TestLoadClientConfig_TrustsAdditionalCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	caFile := writeFile(t, t.TempDir(), "ca.pem",
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}))

	get := func(c *tls.Config) (*http.Response, error) {
		client := &http.Client{
			Timeout:   5 * time.Second,
			Transport: &http.Transport{TLSClientConfig: c, DisableKeepAlives: true},
		}
		return client.Get(srv.URL)
	}

	untrusted, err := LoadClientConfig(Config{Enabled: true})
	require.NoError(t, err)
	_, err = get(untrusted)
	require.Error(t, err, "test server certificate is not in the system pool")

	trusted, err := LoadClientConfig(Config{Enabled: true, CAFiles: []string{caFile}})
	require.NoError(t, err)
	resp, err := get(trusted)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.0"))
}
