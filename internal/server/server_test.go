package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/muurk/blufi/internal/blufi"
	"github.com/muurk/blufi/internal/emulator"
	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/transport/wsbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	cfg.Host = "127.0.0.1"
	srv, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return srv
}

func runSession(t *testing.T, srv *Server, dialer *wsbridge.Dialer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr, err := dialer.Dial(ctx, srv.URL())
	require.NoError(t, err)

	mtu, err := tr.MTU()
	require.NoError(t, err)
	assert.Equal(t, 185, mtu)

	c, err := blufi.NewClient(tr, blufi.Config{}, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.NegotiateSecurity(ctx))
	v, err := c.RequestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Version{Major: 1, Minor: 3}, v)

	entries, err := c.RequestDeviceScan(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	require.NoError(t, c.PostStaWifiInfo(ctx, blufi.Credentials{SSID: "blufi-lab", Password: "password123"}))
	require.Eventually(t, func() bool {
		for _, d := range srv.Devices() {
			if ssid, _ := d.Credentials(); ssid == "blufi-lab" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.GetActiveConnections())
}

func TestServeSession(t *testing.T) {
	srv := startServer(t, &Config{MTU: 185, Device: emulator.DefaultConfig()})
	runSession(t, srv, &wsbridge.Dialer{})

	assert.Eventually(t, func() bool { return srv.GetActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeSessionTLS(t *testing.T) {
	srv := startServer(t, &Config{MTU: 185, TLS: true, Device: emulator.DefaultConfig()})
	assert.Contains(t, srv.URL(), "wss://")

	runSession(t, srv, &wsbridge.Dialer{TLSConfig: &tls.Config{InsecureSkipVerify: true}})
}

func TestGenerateSelfSigned(t *testing.T) {
	certPEM, keyPEM, err := GenerateSelfSigned([]string{"localhost", "127.0.0.1"}, time.Hour)
	require.NoError(t, err)

	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.IPAddresses[0].String())
	assert.WithinDuration(t, time.Now().Add(time.Hour), cert.NotAfter, 2*time.Minute)

	cfg, err := NewTLSConfigFromMemory(certPEM, keyPEM)
	require.NoError(t, err)
	info := GetTLSInfo(cfg)
	assert.Equal(t, 1, info["num_certs"])
	assert.Equal(t, "blufi-emulator", info["subject"])
}

func TestNewTLSConfigMissingFiles(t *testing.T) {
	_, err := NewTLSConfig("/nonexistent/cert.pem", "/nonexistent/key.pem")
	assert.Error(t, err)
}
