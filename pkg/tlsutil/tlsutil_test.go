package tlsutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled", Config{}, false},
		{"missing files", Config{Enabled: true}, true},
		{"mtls without ca", Config{Enabled: true, CertFile: "c", KeyFile: "k", RequireClientCert: true}, true},
		{"complete", Config{Enabled: true, CertFile: "c", KeyFile: "k"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnsureCertificate(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Enabled:  true,
		Generate: true,
		CertFile: filepath.Join(dir, "certs", "server.crt"),
		KeyFile:  filepath.Join(dir, "certs", "server.key"),
		Hosts:    []string{"10.0.0.5", "search.internal"},
	}

	wrote, err := EnsureCertificate(cfg, "msearch")
	require.NoError(t, err)
	assert.True(t, wrote)

	info, err := os.Stat(cfg.KeyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	wrote, err = EnsureCertificate(cfg, "msearch")
	require.NoError(t, err)
	assert.False(t, wrote, "existing certificate must not be replaced")
}

func TestServerAndClientHandshake(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	require.NoError(t, GenerateSelfSignedCert(certFile, keyFile, "localhost"))

	serverTLS, err := ServerConfig(Config{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	srv.TLS = serverTLS
	srv.StartTLS()
	defer srv.Close()

	clientTLS, err := ClientConfig(certFile, "", "")
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestClientConfigBadCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a cert"), 0o644))
	_, err := ClientConfig(path, "", "")
	assert.Error(t, err)
}
