package relay

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oblink/outbound-relay/api"
	"github.com/oblink/outbound-relay/certstore"
)

// ErrConfiguration is returned when strict verification is enabled but no
// CA bundle was supplied for the destination.
var ErrConfiguration = errors.New("ca_cert_path must be specified when strict verification is enabled")

// TLSBuilder produces TLS client configurations from per-request
// TLSParams, resolving all certificate material through the store.
type TLSBuilder struct {
	store        *certstore.Store
	strictVerify bool
	log          *slog.Logger
}

// NewTLSBuilder creates a builder. When strictVerify is set, every
// request carrying TLS params must also carry a CA bundle and full
// certificate plus hostname verification is enforced.
func NewTLSBuilder(store *certstore.Store, strictVerify bool, log *slog.Logger) *TLSBuilder {
	return &TLSBuilder{store: store, strictVerify: strictVerify, log: log}
}

// Build returns a TLS client configuration for the given params.
//
// Nil params produce an explicitly permissive config that performs TLS
// without certificate verification, for destinations that do not require
// trust pinning. Non-nil params load the client identity and, if present,
// the CA bundle. CA loading and verification enforcement are independent:
// without strict verification the config stays permissive even when a CA
// pool was loaded.
func (b *TLSBuilder) Build(params *api.TLSParams) (*tls.Config, error) {
	if params == nil {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	if b.strictVerify && params.CACertPath == "" {
		return nil, ErrConfiguration
	}

	clientCert, err := b.store.LoadKeyPair(params.CertPath, params.KeyPath)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
	}

	if params.CACertPath != "" {
		caPEM, err := b.store.ReadFile(params.CACertPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("%w: no certificates found in %s", certstore.ErrCertificateLoad, params.CACertPath)
		}
		cfg.RootCAs = pool
	}

	if !b.strictVerify {
		cfg.InsecureSkipVerify = true
		b.log.Debug("TLS verification disabled for destination",
			slog.String("cert", params.CertPath),
			slog.Bool("caLoaded", params.CACertPath != ""))
	}

	return cfg, nil
}
