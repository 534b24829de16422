package relay

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oblink/outbound-relay/api"
	"github.com/oblink/outbound-relay/certstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeClientIdentity generates a self-signed client certificate and key
// under root and returns their relative paths.
func writeClientIdentity(t *testing.T, root string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "relay-client"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	require.NoError(t, os.WriteFile(filepath.Join(root, "client.crt"), certPEM, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "client.key"), keyPEM, 0600))
	return "client.crt", "client.key"
}

func newTestStore(t *testing.T, root string) *certstore.Store {
	t.Helper()
	store, err := certstore.New(root, func(string) (string, bool) { return "", false }, testLogger())
	require.NoError(t, err)
	return store
}

func TestBuildWithoutParams(t *testing.T) {
	builder := NewTLSBuilder(newTestStore(t, t.TempDir()), false, testLogger())

	cfg, err := builder.Build(nil)
	require.NoError(t, err)
	require.True(t, cfg.InsecureSkipVerify)
	require.Empty(t, cfg.Certificates)
}

func TestBuildPermissiveDefault(t *testing.T) {
	root := t.TempDir()
	certPath, keyPath := writeClientIdentity(t, root)
	builder := NewTLSBuilder(newTestStore(t, root), false, testLogger())

	cfg, err := builder.Build(&api.TLSParams{CertPath: certPath, KeyPath: keyPath})
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.True(t, cfg.InsecureSkipVerify)
	require.Nil(t, cfg.RootCAs)
}

func TestBuildCALoadedButPermissive(t *testing.T) {
	root := t.TempDir()
	certPath, keyPath := writeClientIdentity(t, root)
	// Reuse the client certificate as a CA bundle; only pool loading is
	// under test here.
	require.NoError(t, copyFile(filepath.Join(root, "client.crt"), filepath.Join(root, "ca.crt")))

	builder := NewTLSBuilder(newTestStore(t, root), false, testLogger())
	cfg, err := builder.Build(&api.TLSParams{CertPath: certPath, KeyPath: keyPath, CACertPath: "ca.crt"})
	require.NoError(t, err)

	// CA loading and verification enforcement are independent toggles.
	require.NotNil(t, cfg.RootCAs)
	require.True(t, cfg.InsecureSkipVerify)
}

func TestBuildStrictRequiresCA(t *testing.T) {
	root := t.TempDir()
	certPath, keyPath := writeClientIdentity(t, root)
	builder := NewTLSBuilder(newTestStore(t, root), true, testLogger())

	_, err := builder.Build(&api.TLSParams{CertPath: certPath, KeyPath: keyPath})
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestBuildStrictWithCA(t *testing.T) {
	root := t.TempDir()
	certPath, keyPath := writeClientIdentity(t, root)
	require.NoError(t, copyFile(filepath.Join(root, "client.crt"), filepath.Join(root, "ca.crt")))

	builder := NewTLSBuilder(newTestStore(t, root), true, testLogger())
	cfg, err := builder.Build(&api.TLSParams{CertPath: certPath, KeyPath: keyPath, CACertPath: "ca.crt"})
	require.NoError(t, err)
	require.NotNil(t, cfg.RootCAs)
	require.False(t, cfg.InsecureSkipVerify)
}

func TestBuildPathEscape(t *testing.T) {
	builder := NewTLSBuilder(newTestStore(t, t.TempDir()), false, testLogger())

	_, err := builder.Build(&api.TLSParams{CertPath: "../outside.crt", KeyPath: "outside.key"})
	require.ErrorIs(t, err, certstore.ErrPathEscape)
}

func TestBuildBadCABundle(t *testing.T) {
	root := t.TempDir()
	certPath, keyPath := writeClientIdentity(t, root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "ca.crt"), []byte("not a cert"), 0600))

	builder := NewTLSBuilder(newTestStore(t, root), false, testLogger())
	_, err := builder.Build(&api.TLSParams{CertPath: certPath, KeyPath: keyPath, CACertPath: "ca.crt"})
	require.ErrorIs(t, err, certstore.ErrCertificateLoad)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}
