// Package api defines the call contracts of the relay service: the relay
// and signing request/response types exchanged over the HTTP surface, the
// provider interfaces implemented by clients, and the structured errors
// shared between the core and the host layer.
package api

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Header is a single name/value pair. Response headers are returned as an
// ordered list so duplicate names survive the round trip.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TLSParams selects the client identity and optional CA pinning for a
// relayed request. All paths are relative to the configured certificate
// root directory.
type TLSParams struct {
	// CertPath is the client certificate chain, PEM format.
	CertPath string `json:"cert_path" validate:"required"`

	// KeyPath is the client private key, PEM format. Its decryption
	// password, if any, is resolved from the environment by convention.
	KeyPath string `json:"key_path" validate:"required"`

	// CACertPath is an optional CA bundle used to verify the server
	// certificate. Empty means no CA pinning is requested.
	CACertPath string `json:"ca_cert_path,omitempty"`
}

// RelayRequest fully describes one outbound request to forward.
type RelayRequest struct {
	Method string `json:"method" validate:"required,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS TRACE CONNECT"`

	// Origin is scheme://host[:port] of the destination.
	Origin string `json:"origin" validate:"required,url"`

	// Path is appended to the origin verbatim.
	Path string `json:"path" validate:"required,startswith=/"`

	// Query parameters; encoding order is not significant.
	Query map[string]string `json:"query,omitempty"`

	// Headers to send. Names and values must not contain CR or LF.
	Headers map[string]string `json:"headers,omitempty"`

	Body string `json:"body,omitempty"`

	// TLS selects the client identity. Absent means the connection is
	// made without certificate verification.
	TLS *TLSParams `json:"tls,omitempty"`
}

// Validate checks required fields and value shapes.
func (r *RelayRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid relay request: %w", err)
	}
	return nil
}

// RelayResult is the normalized outcome of a relayed request. Transport
// and response-level failures are folded into the same shape, so a caller
// never needs a separate error path for anything that reached the wire.
type RelayResult struct {
	Status   int      `json:"status"`
	Response string   `json:"response"`
	Headers  []Header `json:"headers"`
}

// SignRequest asks for a detached signature over Data using the private
// key at KeyPath.
type SignRequest struct {
	// Data is the payload to sign, UTF-8 encoded before hashing.
	Data string `json:"data" validate:"required"`

	// KeyPath is the PEM private key, relative to the certificate root.
	KeyPath string `json:"key_path" validate:"required"`

	// HashAlgorithm defaults to SHA256. Case-insensitive.
	HashAlgorithm string `json:"hash_algorithm,omitempty"`

	// CryptoAlgorithm set to "PS" selects RSA-PSS padding for RSA keys.
	// Ignored for elliptic-curve keys.
	CryptoAlgorithm string `json:"crypto_algorithm,omitempty"`
}

// Validate checks required fields.
func (r *SignRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid sign request: %w", err)
	}
	return nil
}

// SignResponse carries the base64-encoded signature.
type SignResponse struct {
	Signature string `json:"signature"`
}
