package certstore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/youmark/pkcs8"
)

// ErrUnsupportedKeyType is returned when a private key is neither RSA nor
// elliptic-curve.
var ErrUnsupportedKeyType = errors.New("unsupported private key type")

// KeyType discriminates the supported private key families.
type KeyType int

const (
	// KeyRSA is an RSA private key.
	KeyRSA KeyType = iota

	// KeyEC is an elliptic-curve private key.
	KeyEC
)

// String returns a short label for the key type, used in logs and metrics.
func (t KeyType) String() string {
	switch t {
	case KeyRSA:
		return "rsa"
	case KeyEC:
		return "ec"
	default:
		return "unknown"
	}
}

// PrivateKey is a closed variant over the key families this service signs
// with. Exactly one of RSA and EC is set, matching Type.
type PrivateKey struct {
	Type KeyType
	RSA  *rsa.PrivateKey
	EC   *ecdsa.PrivateKey
}

// Signer returns the underlying key as a crypto.Signer.
func (k PrivateKey) Signer() crypto.Signer {
	switch k.Type {
	case KeyRSA:
		return k.RSA
	case KeyEC:
		return k.EC
	default:
		return nil
	}
}

// LoadPrivateKey reads and parses the PEM private key at the given
// relative path, decrypting it with the password resolved by convention.
func (s *Store) LoadPrivateKey(rel string) (PrivateKey, error) {
	pemData, err := s.ReadFile(rel)
	if err != nil {
		return PrivateKey{}, err
	}

	password, ok := s.KeyPassword(rel)
	if !ok {
		password = ""
	}
	s.log.Debug("loading private key", "path", rel, "passwordConfigured", ok)

	key, err := ParsePrivateKey(pemData, password)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("key %s: %w", rel, err)
	}
	return key, nil
}

// ParsePrivateKey parses a PEM-encoded private key, handling PKCS#8
// (plain and encrypted), PKCS#1 and SEC1 encodings. An empty password
// means the key is expected to be unprotected.
func ParsePrivateKey(pemData []byte, password string) (PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return PrivateKey{}, fmt.Errorf("%w: no PEM block found", ErrCertificateLoad)
	}

	der := block.Bytes
	//nolint:staticcheck // legacy PEM encryption is still produced by openssl tooling
	if x509.IsEncryptedPEMBlock(block) {
		decrypted, err := x509.DecryptPEMBlock(block, []byte(password)) //nolint:staticcheck
		if err != nil {
			return PrivateKey{}, fmt.Errorf("%w: %v", ErrCertificateLoad, err)
		}
		der = decrypted
	}

	var (
		parsed any
		err    error
	)
	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		parsed, err = pkcs8.ParsePKCS8PrivateKey(der, []byte(password))
	case "RSA PRIVATE KEY":
		parsed, err = x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		parsed, err = x509.ParseECPrivateKey(der)
	default:
		parsed, err = x509.ParsePKCS8PrivateKey(der)
	}
	if err != nil {
		return PrivateKey{}, fmt.Errorf("%w: %v", ErrCertificateLoad, err)
	}

	switch key := parsed.(type) {
	case *rsa.PrivateKey:
		return PrivateKey{Type: KeyRSA, RSA: key}, nil
	case *ecdsa.PrivateKey:
		return PrivateKey{Type: KeyEC, EC: key}, nil
	default:
		return PrivateKey{}, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, parsed)
	}
}

// LoadKeyPair loads a client certificate chain and its private key for use
// as a TLS client identity. The key may be password-protected; the
// password is resolved by convention from the key path.
func (s *Store) LoadKeyPair(certRel, keyRel string) (tls.Certificate, error) {
	certPEM, err := s.ReadFile(certRel)
	if err != nil {
		return tls.Certificate{}, err
	}

	var chain [][]byte
	rest := certPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			chain = append(chain, block.Bytes)
		}
	}
	if len(chain) == 0 {
		return tls.Certificate{}, fmt.Errorf("%w: no certificates in %s", ErrCertificateLoad, certRel)
	}

	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %s: %v", ErrCertificateLoad, certRel, err)
	}

	key, err := s.LoadPrivateKey(keyRel)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  key.Signer(),
		Leaf:        leaf,
	}, nil
}
