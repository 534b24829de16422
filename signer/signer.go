// Package signer produces detached signatures over arbitrary payloads
// using private keys resolved from the certificate store.
//
// RSA keys sign with PKCS#1 v1.5 padding, or PSS when requested.
// Elliptic-curve keys sign with ECDSA; the DER (r,s) signature is
// re-encoded as a fixed-width big-endian concatenation r||s because
// JOSE-style verifiers reject DER-encoded ECDSA signatures.
package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/oblink/outbound-relay/certstore"
	"github.com/oblink/outbound-relay/metrics"
)

// ErrUnsupportedAlgorithm is returned for hash algorithms outside the
// supported set, and for key/hash combinations that cannot produce a
// fixed-width signature.
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// supportedHashes maps normalized algorithm names to hash functions.
// SHA-256 is the only algorithm the destinations currently accept.
var supportedHashes = map[string]crypto.Hash{
	"SHA256": crypto.SHA256,
}

// Request describes one signing operation.
type Request struct {
	// Data is the raw payload to sign.
	Data []byte

	// KeyPath locates the PEM private key relative to the certificate
	// root. The decryption password is resolved by convention.
	KeyPath string

	// HashAlgorithm defaults to SHA256 and is case-insensitive.
	HashAlgorithm string

	// CryptoAlgorithm set to "PS" selects PSS padding for RSA keys.
	CryptoAlgorithm string
}

// Service signs payloads with keys from the certificate store. Safe for
// concurrent use; each call loads its own key material.
type Service struct {
	store *certstore.Store
	log   *slog.Logger
}

// New creates a signing service backed by the given store.
func New(store *certstore.Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Sign computes the signature for the request and returns it
// base64-encoded with the standard alphabet and padding.
func (s *Service) Sign(req Request) (string, error) {
	hash, err := resolveHash(req.HashAlgorithm)
	if err != nil {
		return "", err
	}

	key, err := s.store.LoadPrivateKey(req.KeyPath)
	if err != nil {
		return "", err
	}

	hasher := hash.New()
	hasher.Write(req.Data)
	digest := hasher.Sum(nil)

	var signature []byte
	switch key.Type {
	case certstore.KeyRSA:
		if req.CryptoAlgorithm == "PS" {
			signature, err = rsa.SignPSS(rand.Reader, key.RSA, hash, digest, &rsa.PSSOptions{
				SaltLength: rsa.PSSSaltLengthEqualsHash,
				Hash:       hash,
			})
		} else {
			signature, err = rsa.SignPKCS1v15(rand.Reader, key.RSA, hash, digest)
		}
	case certstore.KeyEC:
		var der []byte
		der, err = ecdsa.SignASN1(rand.Reader, key.EC, digest)
		if err == nil {
			signature, err = rawSignature(der, hash)
		}
	default:
		return "", fmt.Errorf("%w: %s", certstore.ErrUnsupportedKeyType, key.Type)
	}
	if err != nil {
		return "", fmt.Errorf("signing with %s failed: %w", req.KeyPath, err)
	}

	metrics.SignatureRequests.WithLabelValues(key.Type.String()).Inc()
	s.log.Debug("signed payload",
		slog.String("key", req.KeyPath),
		slog.String("keyType", key.Type.String()),
		slog.Int("payloadBytes", len(req.Data)))

	return base64.StdEncoding.EncodeToString(signature), nil
}

// resolveHash normalizes the hash algorithm name and returns the hash
// function, defaulting to SHA-256.
func resolveHash(name string) (crypto.Hash, error) {
	if name == "" {
		name = "SHA256"
	}
	name = strings.ToUpper(name)

	hash, ok := supportedHashes[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s (allowed: SHA256)", ErrUnsupportedAlgorithm, name)
	}
	return hash, nil
}

// rawSignature decodes a DER-encoded ECDSA signature and re-encodes it as
// a fixed-width big-endian concatenation r||s. Each integer is
// left-padded with zero bytes to the hash output size, 32 bytes for
// SHA-256, so the result has a constant length regardless of the DER
// encoding's variable one.
func rawSignature(der []byte, hash crypto.Hash) ([]byte, error) {
	var sig struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, fmt.Errorf("failed to decode DER signature: %w", err)
	}

	size := hash.Size()
	// Keys on curves wider than the hash produce integers that cannot
	// fit the fixed width, e.g. P-384 with SHA-256.
	if sig.R.BitLen() > 8*size || sig.S.BitLen() > 8*size {
		return nil, fmt.Errorf("%w: signature integers exceed %d bytes, key curve is wider than the hash", ErrUnsupportedAlgorithm, size)
	}

	out := make([]byte, 2*size)
	sig.R.FillBytes(out[:size])
	sig.S.FillBytes(out[size:])
	return out, nil
}
